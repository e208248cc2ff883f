package shader

// wgslTypeLayout holds the byte size and alignment for a WGSL type.
// Used to compute the minimum binding size of buffer bindings.
type wgslTypeLayout struct {
	size  uint64
	align uint64
}

// parsedField represents a single field extracted from a WGSL struct during parsing
type parsedField struct {
	name     string
	typeName string
}

// parsedStruct represents a WGSL struct block extracted during parsing
type parsedStruct struct {
	name   string
	fields []parsedField
}
