package readback

// RingBuilderOption is a functional option applied to a Ring during construction via NewRing.
type RingBuilderOption func(*Ring)

// WithDepth sets the number of transfer buffers. Values below 2 are raised to 2.
//
// Parameters:
//   - depth: the ring depth
//
// Returns:
//   - RingBuilderOption: a function that applies the depth option
func WithDepth(depth int) RingBuilderOption {
	return func(r *Ring) {
		r.depth = depth
	}
}

// WithWorkers sets how many workers normalize large readouts in parallel.
//
// Parameters:
//   - workers: the worker count, 1 to convert inline
//
// Returns:
//   - RingBuilderOption: a function that applies the worker option
func WithWorkers(workers int) RingBuilderOption {
	return func(r *Ring) {
		r.workers = workers
	}
}
