package tracker

// TrackerBuilderOption is a functional option used to configure a Tracker during construction.
type TrackerBuilderOption func(*tracker)

// WithReverse selects the reverse permutation kernel plus a one-word readback instead of a
// linear scan of the downloaded index.
//
// Parameters:
//   - enabled: true for reverse mode
//
// Returns:
//   - TrackerBuilderOption: a function that sets the lookup mode
func WithReverse(enabled bool) TrackerBuilderOption {
	return func(t *tracker) {
		t.reverse = enabled
	}
}
