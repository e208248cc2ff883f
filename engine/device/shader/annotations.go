// annotations.go defines the annotation types and parser for the Oxy WGSL pre-processor.
// Annotations are single-line WGSL comments prefixed with @oxy: that inject the shared
// uniform structs, generate binding declarations, and bake host-chosen constants into a
// kernel before it is compiled.
package shader

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// annotationPrefix is the marker that identifies an Oxy annotation within a WGSL comment line.
const annotationPrefix = "@oxy:"

// AnnotationType identifies the kind of annotation parsed from a WGSL comment line.
type AnnotationType string

const (
	// annotationTypeInclude injects the WGSL source of a registered params struct.
	//
	// Syntax: //@oxy:include <struct_type>
	//
	// Example: //@oxy:include sim_params
	annotationTypeInclude AnnotationType = "include"

	// AnnotationTypeBindingGroup generates a WGSL @group/@binding variable declaration and
	// records it in the declarations list. The type is either a registered struct key or a
	// runtime-sized array of a registered struct or WGSL primitive.
	//
	// Syntax: //@oxy:group <group> <binding> <address_space> <var_name> <type>
	//
	// Example: //@oxy:group 0 1 storage_read_write keys array<u32>
	AnnotationTypeBindingGroup AnnotationType = "group"

	// AnnotationTypeConst emits `const NAME: u32 = <value>u;` with the value supplied through
	// WithConst when the shader is built. A missing value is an error.
	//
	// Syntax: //@oxy:const <NAME>
	//
	// Example: //@oxy:const LOCAL_SIZE_LIMIT
	AnnotationTypeConst AnnotationType = "const"
)

// Annotation represents a single parsed @oxy: annotation from a WGSL shader source line.
type Annotation struct {
	// Type identifies which annotation was parsed.
	Type AnnotationType

	// Args holds the annotation's arguments. The contents depend on Type:
	//   - include: [0] = struct or snippet key
	//   - group:   [0] = address space, [1] = var name, [2] = type
	//   - const:   [0] = constant name
	Args []AnnotationArg

	// Line is the 1-based line number in the original WGSL source.
	Line int

	// Group is the @group index for group annotations. Nil otherwise.
	Group *int

	// Binding is the @binding index for group annotations. Nil otherwise.
	Binding *int
}

// AnnotationArg is a typed string used as an argument in annotations.
type AnnotationArg string

const (
	// AnnotationArgSimParams identifies the SimParams struct.
	// Source: engine/params/assets/sim_params.wgsl
	AnnotationArgSimParams AnnotationArg = "sim_params"

	// AnnotationArgSortParams identifies the SortParams struct of the bitonic kernels.
	// Source: engine/params/assets/sort_params.wgsl
	AnnotationArgSortParams AnnotationArg = "sort_params"

	// AnnotationArgFillParams identifies the FillParams struct of the memSet kernel.
	// Source: engine/params/assets/fill_params.wgsl
	AnnotationArgFillParams AnnotationArg = "fill_params"

	// AnnotationArgGridFunctions identifies the shared grid helpers (cellOf, cellHash).
	// Include-only. Requires sim_params to be included first.
	// Source: engine/device/kernels/include/grid_functions.wgsl
	AnnotationArgGridFunctions AnnotationArg = "grid_functions"

	// AnnotationArgFlockRules identifies the shared steering and integration helpers of the
	// update programs. Include-only. Requires sim_params to be included first.
	// Source: engine/device/kernels/include/flock_rules.wgsl
	AnnotationArgFlockRules AnnotationArg = "flock_rules"
)

const (
	// annotationArgStorageTypeUniform maps to var<uniform> in WGSL.
	annotationArgStorageTypeUniform AnnotationArg = "storage_uniform"

	// annotationArgStorageTypeRead maps to var<storage, read> in WGSL.
	annotationArgStorageTypeRead AnnotationArg = "storage_read"

	// annotationArgStorageTypeReadWrite maps to var<storage, read_write> in WGSL.
	annotationArgStorageTypeReadWrite AnnotationArg = "storage_read_write"
)

// validStructTypes lists the struct keys accepted by include and group annotations.
var validStructTypes = []AnnotationArg{
	AnnotationArgSimParams,
	AnnotationArgSortParams,
	AnnotationArgFillParams,
}

// validIncludeTypes lists the keys accepted by include annotations: every struct plus the
// include-only function snippets.
var validIncludeTypes = append(slices.Clone(validStructTypes),
	AnnotationArgGridFunctions,
	AnnotationArgFlockRules,
)

// validAddressSpaces lists the address space keys accepted by group annotations.
var validAddressSpaces = []AnnotationArg{
	annotationArgStorageTypeUniform,
	annotationArgStorageTypeRead,
	annotationArgStorageTypeReadWrite,
}

// constNameRegex restricts constant names to WGSL identifiers.
var constNameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validElementType reports whether t may appear inside array<> in a group annotation.
func validElementType(t string) bool {
	if slices.Contains(validStructTypes, AnnotationArg(t)) {
		return true
	}
	_, ok := wgslPrimitiveLayoutMap[t]
	return ok
}

// parseAnnotation attempts to parse a single line of WGSL source as an @oxy: annotation.
// Returns nil with no error for lines that do not contain the annotation prefix.
//
// Parameters:
//   - line: the raw WGSL source line to parse
//   - lineNum: the 1-based line number for error reporting
//
// Returns:
//   - *Annotation: the parsed annotation, or nil if the line is not an annotation
//   - error: a descriptive error if the annotation is malformed
func parseAnnotation(line string, lineNum int) (*Annotation, error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "//") {
		return nil, nil
	}
	_, after, ok := strings.Cut(trimmed, annotationPrefix)
	if !ok {
		return nil, nil
	}

	args := strings.Fields(after)
	if len(args) == 0 {
		return nil, fmt.Errorf("line %d: empty @oxy annotation", lineNum)
	}

	switch args[0] {
	case string(annotationTypeInclude):
		if len(args) != 2 {
			return nil, fmt.Errorf("line %d: @oxy include annotation requires exactly one argument", lineNum)
		}
		if !slices.Contains(validIncludeTypes, AnnotationArg(args[1])) {
			return nil, fmt.Errorf("line %d: unknown include %q in @oxy include annotation", lineNum, args[1])
		}
		return &Annotation{
			Type: annotationTypeInclude,
			Args: []AnnotationArg{AnnotationArg(args[1])},
			Line: lineNum,
		}, nil
	case string(AnnotationTypeBindingGroup):
		if len(args) != 6 {
			return nil, fmt.Errorf("line %d: @oxy group annotation requires exactly five arguments (group, binding, address space, name, type)", lineNum)
		}
		groupInt, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid group number %q in @oxy group annotation: %v", lineNum, args[1], err)
		}
		bindingInt, err := strconv.Atoi(args[2])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid binding number %q in @oxy group annotation: %v", lineNum, args[2], err)
		}
		if !slices.Contains(validAddressSpaces, AnnotationArg(args[3])) {
			return nil, fmt.Errorf("line %d: unknown address space %q in @oxy group annotation", lineNum, args[3])
		}
		typeArg := args[5]
		if inner, ok := strings.CutPrefix(typeArg, "array<"); ok {
			inner = strings.TrimSuffix(inner, ">")
			if !validElementType(inner) {
				return nil, fmt.Errorf("line %d: unknown array element type %q in @oxy group annotation", lineNum, inner)
			}
		} else if !slices.Contains(validStructTypes, AnnotationArg(typeArg)) {
			return nil, fmt.Errorf("line %d: unknown struct type %q in @oxy group annotation", lineNum, typeArg)
		}
		return &Annotation{
			Type:    AnnotationTypeBindingGroup,
			Args:    []AnnotationArg{AnnotationArg(args[3]), AnnotationArg(args[4]), AnnotationArg(args[5])},
			Line:    lineNum,
			Group:   &groupInt,
			Binding: &bindingInt,
		}, nil
	case string(AnnotationTypeConst):
		if len(args) != 2 {
			return nil, fmt.Errorf("line %d: @oxy const annotation requires exactly one argument", lineNum)
		}
		if !constNameRegex.MatchString(args[1]) {
			return nil, fmt.Errorf("line %d: invalid constant name %q in @oxy const annotation", lineNum, args[1])
		}
		return &Annotation{
			Type: AnnotationTypeConst,
			Args: []AnnotationArg{AnnotationArg(args[1])},
			Line: lineNum,
		}, nil
	default:
		return nil, fmt.Errorf("line %d: unknown @oxy annotation type %q", lineNum, args[0])
	}
}
