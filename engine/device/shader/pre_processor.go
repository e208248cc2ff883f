// pre_processor.go implements the Oxy WGSL pre-processor. It scans kernel source for
// @oxy: annotations, replaces them with injected struct source, generated binding
// declarations or baked constants, and collects the binding declarations it generated.
//
// The pre-processor maintains two registries:
//   - structRegistry: maps struct keys to the embedded WGSL source and type name from the
//     params package, and snippet keys to the shared kernel helpers. Used by @oxy:include
//     and by @oxy:group to resolve the WGSL type.
//   - addressSpaceRegistry: maps address space keys to WGSL var<> syntax strings.
package shader

import (
	"fmt"
	"strings"

	"github.com/Carmen-Shannon/oxy-flock/engine/device/kernels"
	"github.com/Carmen-Shannon/oxy-flock/engine/params"
)

// registryEntry pairs a WGSL struct source string with its WGSL type name.
type registryEntry struct {
	// Source is the raw WGSL struct definition text injected by @oxy:include.
	Source string

	// Type is the WGSL type name emitted in @oxy:group declarations.
	Type string
}

// preProcessor is the implementation of the PreProcessor interface.
type preProcessor struct {
	structRegistry       map[AnnotationArg]registryEntry
	addressSpaceRegistry map[AnnotationArg]string

	// consts holds the values substituted for @oxy:const annotations.
	consts map[string]uint32

	// declarations accumulates group annotations during a Process call.
	declarations []Annotation
}

// PreProcessor processes raw WGSL source containing @oxy: annotations.
type PreProcessor interface {
	// Process replaces every @oxy: annotation in source with its WGSL output.
	// The declarations list is reset at the start of each call.
	//
	// Parameters:
	//   - source: the raw WGSL source code containing annotations to be processed
	//
	// Returns:
	//   - string: the processed WGSL source
	//   - error: an error if any annotation is malformed, references an unknown type, or names
	//     a constant with no value
	Process(source string) (string, error)

	// Declarations returns the group annotations collected during the most recent Process call,
	// in source order.
	//
	// Returns:
	//   - []Annotation: the declarations collected during the last Process call
	Declarations() []Annotation
}

var _ PreProcessor = &preProcessor{}

// NewPreProcessor creates a PreProcessor with the params structs registered and the given
// constant values available to @oxy:const.
//
// Parameters:
//   - consts: values for @oxy:const annotations, keyed by constant name; may be nil
//
// Returns:
//   - PreProcessor: a ready-to-use pre-processor instance
func NewPreProcessor(consts map[string]uint32) PreProcessor {
	return &preProcessor{
		structRegistry: map[AnnotationArg]registryEntry{
			AnnotationArgSimParams:  {Source: params.GPUSimParamsSource, Type: "SimParams"},
			AnnotationArgSortParams: {Source: params.GPUSortParamsSource, Type: "SortParams"},
			AnnotationArgFillParams: {Source: params.GPUFillParamsSource, Type: "FillParams"},

			AnnotationArgGridFunctions: {Source: kernels.GridFunctionsSource},
			AnnotationArgFlockRules:    {Source: kernels.FlockRulesSource},
		},
		addressSpaceRegistry: map[AnnotationArg]string{
			annotationArgStorageTypeUniform:   "var<uniform>",
			annotationArgStorageTypeRead:      "var<storage, read>",
			annotationArgStorageTypeReadWrite: "var<storage, read_write>",
		},
		consts: consts,
	}
}

func (p *preProcessor) Process(source string) (string, error) {
	p.declarations = p.declarations[:0]

	lines := strings.Split(source, "\n")
	out := make([]string, 0, len(lines))

	for i, line := range lines {
		a, err := parseAnnotation(line, i+1)
		if err != nil {
			return "", err
		}
		if a == nil {
			out = append(out, line)
			continue
		}

		switch a.Type {
		case annotationTypeInclude:
			entry, ok := p.structRegistry[a.Args[0]]
			if !ok {
				return "", fmt.Errorf("line %d: unknown @oxy:include argument %q", i+1, a.Args[0])
			}
			out = append(out, entry.Source)
		case AnnotationTypeBindingGroup:
			addrSpace := p.addressSpaceRegistry[a.Args[0]]
			varName := string(a.Args[1])
			out = append(out, fmt.Sprintf("@group(%d) @binding(%d) %s %s: %s;", *a.Group, *a.Binding, addrSpace, varName, p.resolveType(string(a.Args[2]))))
			p.declarations = append(p.declarations, *a)
		case AnnotationTypeConst:
			name := string(a.Args[0])
			v, ok := p.consts[name]
			if !ok {
				return "", fmt.Errorf("line %d: no value supplied for @oxy:const %s", i+1, name)
			}
			out = append(out, fmt.Sprintf("const %s: u32 = %du;", name, v))
		default:
			return "", fmt.Errorf("line %d: unknown annotation type %q", i+1, a.Type)
		}
	}
	return strings.Join(out, "\n"), nil
}

// resolveType maps a group annotation type argument to WGSL, translating struct keys.
func (p *preProcessor) resolveType(t string) string {
	if inner, ok := strings.CutPrefix(t, "array<"); ok {
		inner = strings.TrimSuffix(inner, ">")
		if entry, ok := p.structRegistry[AnnotationArg(inner)]; ok {
			return fmt.Sprintf("array<%s>", entry.Type)
		}
		return fmt.Sprintf("array<%s>", inner)
	}
	return p.structRegistry[AnnotationArg(t)].Type
}

func (p *preProcessor) Declarations() []Annotation {
	return p.declarations
}
