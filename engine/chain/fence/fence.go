// Package fence bounds the number of frames the GPU may run behind the CPU.
package fence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Carmen-Shannon/oxy-chain/engine/renderer"
)

// DefaultMaxInFlight is the number of outstanding fences kept when no limit is configured.
const DefaultMaxInFlight = 2

// Tracker is a FIFO of fences with at most maxInFlight entries outstanding after each Push.
// Waits have no timeout of their own; the context passed by the caller is the only way to
// abandon one.
type Tracker struct {
	vctx        *renderer.VideoContext
	maxInFlight int
	queue       []renderer.FenceHandle

	waits   uint64
	retired uint64
}

// TrackerBuilderOption is a functional option applied to a Tracker during construction via NewTracker.
type TrackerBuilderOption func(*Tracker)

// WithMaxInFlight sets how many fences may stay outstanding. Zero makes every Push wait for
// its own fence.
//
// Parameters:
//   - n: the in-flight limit, negative values are treated as zero
//
// Returns:
//   - TrackerBuilderOption: a function that applies the limit option
func WithMaxInFlight(n int) TrackerBuilderOption {
	return func(t *Tracker) {
		t.maxInFlight = max(n, 0)
	}
}

// NewTracker creates an empty tracker.
//
// Parameters:
//   - vctx: the shared video context
//   - options: variadic list of TrackerBuilderOption functions
//
// Returns:
//   - *Tracker: the new tracker
func NewTracker(vctx *renderer.VideoContext, options ...TrackerBuilderOption) *Tracker {
	t := &Tracker{
		vctx:        vctx,
		maxInFlight: DefaultMaxInFlight,
	}
	for _, opt := range options {
		opt(t)
	}
	t.queue = make([]renderer.FenceHandle, 0, t.maxInFlight+1)
	return t
}

// MaxInFlight returns the configured limit.
func (t *Tracker) MaxInFlight() int {
	return t.maxInFlight
}

// Len returns the number of outstanding fences.
func (t *Tracker) Len() int {
	return len(t.queue)
}

// Waits returns how many blocking waits Push and Drain performed.
func (t *Tracker) Waits() uint64 {
	return t.waits
}

// Retired returns how many fences have been waited on or collected and destroyed.
func (t *Tracker) Retired() uint64 {
	return t.retired
}

// Push appends f. While more than the limit are outstanding it blocks on the oldest fence and
// retires it. If ctx ends during a wait the fence stays queued and the error is returned.
//
// Parameters:
//   - ctx: cancels a blocking wait
//   - f: the fence inserted after the frame's commands
//
// Returns:
//   - error: an error if a wait failed
func (t *Tracker) Push(ctx context.Context, f renderer.FenceHandle) error {
	t.queue = append(t.queue, f)
	for len(t.queue) > t.maxInFlight {
		if err := t.retireOldest(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Collect retires fences from the front of the queue that have already signaled. It never blocks.
//
// Returns:
//   - int: the number of fences retired
func (t *Tracker) Collect() int {
	backend := t.vctx.Backend()
	n := 0
	for len(t.queue) > 0 && backend.FenceSignaled(t.queue[0]) {
		backend.DestroyFence(t.queue[0])
		t.queue = t.queue[1:]
		t.retired++
		n++
	}
	return n
}

// Drain waits on and retires every outstanding fence, oldest first.
//
// Parameters:
//   - ctx: cancels a blocking wait
//
// Returns:
//   - error: an error if a wait failed; the remaining fences stay queued
func (t *Tracker) Drain(ctx context.Context) error {
	for len(t.queue) > 0 {
		if err := t.retireOldest(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Discard destroys every outstanding fence without waiting. Used when the context was lost.
func (t *Tracker) Discard() {
	backend := t.vctx.Backend()
	for _, f := range t.queue {
		backend.DestroyFence(f)
	}
	t.queue = t.queue[:0]
}

func (t *Tracker) retireOldest(ctx context.Context) error {
	f := t.queue[0]
	t.waits++
	if err := t.vctx.Backend().WaitFence(ctx, f); err != nil {
		return fmt.Errorf("fence wait: %w", err)
	}
	t.vctx.Backend().DestroyFence(f)
	t.queue = t.queue[1:]
	t.retired++
	t.vctx.Logger().Debug("fence retired", slog.Uint64("fence", uint64(f)), slog.Int("outstanding", len(t.queue)))
	return nil
}
