package sorter

// SorterBuilderOption is a functional option used to configure a Sorter during construction.
type SorterBuilderOption func(*bitonicSorter)

// WithLocalSizeLimit sets how many elements one local pass sorts in shared memory. Must be a
// power of two; the default is 2048, which fills 16 KiB of work-group storage with keys and
// values.
//
// Parameters:
//   - n: the local size limit
//
// Returns:
//   - SorterBuilderOption: a function that applies the option to a sorter
func WithLocalSizeLimit(n uint32) SorterBuilderOption {
	return func(s *bitonicSorter) {
		s.localSizeLimit = n
	}
}
