// Package feedback implements the feedback pass: one pass whose previous frame output is
// sampled again on the next frame.
package feedback

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-chain/engine/chain/fbo"
	"github.com/Carmen-Shannon/oxy-chain/engine/renderer"
	"github.com/Carmen-Shannon/oxy-chain/engine/renderer/pass"
)

// ErrSwapOrder is returned when Swap is called without a prepared frame or twice in one frame.
var ErrSwapOrder = errors.New("feedback: swap out of order")

// Slot is a double buffer bound to one FBO-backed pass. The active buffer is the pass's live
// render target inside the pool; the other buffer holds the pass output of the previous frame.
// Swap exchanges them by flipping the active index.
type Slot struct {
	vctx   *renderer.VideoContext
	pool   *fbo.Pool
	source int

	buffers [2]fbo.Resource
	active  atomic.Uint32

	prepared bool
	swapped  bool
	swaps    uint64
}

// New creates the feedback slot for sourceIndex. If sourceIndex is negative or does not address
// an FBO-backed pass the slot is disabled; a warning is logged for the latter.
//
// Parameters:
//   - vctx: the shared video context
//   - pool: the pool owning the source pass resource
//   - sourceIndex: the feedback pass index, negative for none
//   - descs: the ordered pass descriptors
//
// Returns:
//   - *Slot: the slot, possibly disabled
func New(vctx *renderer.VideoContext, pool *fbo.Pool, sourceIndex int, descs []pass.Descriptor) *Slot {
	s := &Slot{vctx: vctx, pool: pool, source: -1}
	if sourceIndex < 0 {
		return s
	}
	if sourceIndex >= len(descs) || !pass.RendersToFramebuffer(descs, sourceIndex) {
		vctx.Logger().Warn("feedback pass does not render to a framebuffer, feedback disabled",
			slog.Int("pass", sourceIndex), slog.Int("passes", len(descs)))
		return s
	}
	s.source = sourceIndex
	return s
}

// Enabled reports whether the slot is bound to a pass.
func (s *Slot) Enabled() bool {
	return s.source >= 0
}

// SourceIndex returns the bound pass index, or -1.
func (s *Slot) SourceIndex() int {
	return s.source
}

// Swaps returns the number of completed swaps.
func (s *Slot) Swaps() uint64 {
	return s.swaps
}

// Prepare adopts the source pass's current resource as the active buffer and sizes the spare
// buffer to match it. Newly allocated spares are cleared to transparent black, so the first
// frame samples black. Must be called inside a backend frame, after the pool was ensured and
// before any draw.
//
// Returns:
//   - error: an error if the spare could not be allocated
func (s *Slot) Prepare() error {
	if !s.Enabled() {
		return nil
	}
	live, ok := s.pool.Get(s.source)
	if !ok {
		return fmt.Errorf("feedback source pass %d has no framebuffer", s.source)
	}

	a := s.active.Load()
	s.buffers[a] = live

	spare := s.buffers[1-a]
	g := live.Geometry
	if spare.Valid() && spare.Format == live.Format && spare.Mipmap == live.Mipmap &&
		spare.Geometry.PaddedWidth == g.PaddedWidth && spare.Geometry.PaddedHeight == g.PaddedHeight {
		spare.Geometry = g
		s.buffers[1-a] = spare
	} else {
		s.pool.Release(spare)
		s.buffers[1-a] = fbo.Resource{}
		fresh, err := s.pool.Allocate(fmt.Sprintf("Feedback %d", s.source), g, live.Format, live.Mipmap)
		if err != nil {
			return fmt.Errorf("feedback: %w", err)
		}
		if err := s.vctx.Backend().Clear(fresh.Framebuffer, [4]float32{}); err != nil {
			s.pool.Release(fresh)
			return fmt.Errorf("feedback clear: %w", err)
		}
		s.buffers[1-a] = fresh
	}

	s.prepared = true
	s.swapped = false
	return nil
}

// Texture returns the previous frame's output of the source pass. The zero TextureInput is
// returned when the slot is disabled or not prepared.
func (s *Slot) Texture() renderer.TextureInput {
	if !s.Enabled() || !s.prepared {
		return renderer.TextureInput{}
	}
	return s.buffers[1-s.active.Load()].Input()
}

// Swap installs the spare buffer as the source pass's render target and keeps the buffer just
// drawn as next frame's feedback. It must run exactly once per frame, after the frame's draws.
//
// Returns:
//   - error: ErrSwapOrder if called before Prepare or twice in a frame
func (s *Slot) Swap() error {
	if !s.Enabled() {
		return nil
	}
	if !s.prepared || s.swapped {
		return ErrSwapOrder
	}
	a := s.active.Load()
	s.pool.Exchange(s.source, s.buffers[1-a])
	s.active.Store(1 - a)
	s.swapped = true
	s.swaps++
	return nil
}

// Destroy releases the buffer owned by the slot. The pool keeps ownership of the active one.
func (s *Slot) Destroy() {
	a := s.active.Load()
	s.pool.Release(s.buffers[1-a])
	s.buffers = [2]fbo.Resource{}
	s.prepared = false
	s.swapped = false
}
