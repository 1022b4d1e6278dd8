// Package hwrender manages the framebuffers a hardware-accelerated core renders into.
package hwrender

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Carmen-Shannon/oxy-chain/engine/renderer"
)

// Target is one buffering slot: a framebuffer around a color texture owned by the core,
// plus an optional depth/stencil renderbuffer owned by the set.
type Target struct {
	Framebuffer  renderer.FramebufferHandle
	Color        renderer.TextureHandle
	DepthStencil renderer.RenderbufferHandle

	// Err is non-nil when the slot could not be completed. Other slots are unaffected.
	Err error
}

// Complete reports whether the slot can be rendered into.
func (t Target) Complete() bool {
	return t.Err == nil && t.Framebuffer != 0
}

// Set holds one Target per buffering slot. Init and Deinit bind the hw-render context for
// their duration and always restore the presentation context before returning.
type Set struct {
	vctx *renderer.VideoContext

	mu      sync.Mutex
	targets []Target
	width   int
	height  int
}

// New creates an empty set.
func New(vctx *renderer.VideoContext) *Set {
	return &Set{vctx: vctx}
}

// Init builds one target per color texture. Existing targets are destroyed first. A slot that
// fails keeps its error in Target.Err and the returned error joins every slot failure; slots
// built before it stay intact.
//
// Parameters:
//   - colors: the externally owned color textures, one per slot
//   - width: the render size in pixels
//   - height: the render size in pixels
//   - depth: attach a depth renderbuffer
//   - stencil: attach a stencil renderbuffer (combined with depth when both are set)
//
// Returns:
//   - error: per-slot failures wrapping renderer.ErrFramebufferIncomplete, or an error
//     wrapping renderer.ErrContextViolation if the hw-render context could not be bound
func (s *Set) Init(colors []renderer.TextureHandle, width, height int, depth, stencil bool) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	restore, err := s.vctx.Guard().EnterHW()
	if err != nil {
		return err
	}
	defer func() {
		if rerr := restore(); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()

	s.destroyLocked()
	s.width, s.height = width, height
	s.targets = make([]Target, len(colors))

	var errs []error
	for i, color := range colors {
		t := s.build(i, color, width, height, depth, stencil)
		s.targets[i] = t
		if t.Err != nil {
			errs = append(errs, t.Err)
			s.vctx.Logger().Warn("hw render slot incomplete", slog.Int("slot", i), slog.Any("error", t.Err))
		}
	}
	s.vctx.Logger().Debug("hw render targets created",
		slog.Int("slots", len(colors)), slog.Int("failed", len(errs)),
		slog.Int("width", width), slog.Int("height", height))
	return errors.Join(errs...)
}

func (s *Set) build(slot int, color renderer.TextureHandle, width, height int, depth, stencil bool) Target {
	backend := s.vctx.Backend()
	t := Target{Color: color}

	fail := func(err error) Target {
		if t.Framebuffer != 0 {
			backend.DestroyFramebuffer(t.Framebuffer)
		}
		if t.DepthStencil != 0 {
			backend.DestroyRenderbuffer(t.DepthStencil)
		}
		if !errors.Is(err, renderer.ErrFramebufferIncomplete) {
			err = fmt.Errorf("%w: %w", err, renderer.ErrFramebufferIncomplete)
		}
		return Target{Color: color, Err: fmt.Errorf("hw render slot %d: %w", slot, err)}
	}

	fb, err := backend.CreateFramebuffer(color)
	if err != nil {
		return fail(err)
	}
	t.Framebuffer = fb

	if depth || stencil {
		rb, err := backend.CreateRenderbuffer(width, height, depth, stencil)
		if err != nil {
			return fail(err)
		}
		t.DepthStencil = rb
		if err := backend.AttachRenderbuffer(fb, rb); err != nil {
			return fail(err)
		}
	}

	if err := backend.CheckFramebuffer(fb); err != nil {
		return fail(err)
	}
	return t
}

// Deinit destroys every target. Redundant calls, including calls racing a context-loss
// notification, are no-ops.
//
// Returns:
//   - error: an error wrapping renderer.ErrContextViolation if the hw-render context could not be bound
func (s *Set) Deinit() (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.targets) == 0 {
		return nil
	}

	restore, err := s.vctx.Guard().EnterHW()
	if err != nil {
		return err
	}
	defer func() {
		if rerr := restore(); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()

	s.destroyLocked()
	return nil
}

func (s *Set) destroyLocked() {
	backend := s.vctx.Backend()
	for _, t := range s.targets {
		if t.Framebuffer != 0 {
			backend.DestroyFramebuffer(t.Framebuffer)
		}
		if t.DepthStencil != 0 {
			backend.DestroyRenderbuffer(t.DepthStencil)
		}
	}
	s.targets = nil
}

// Invalidate forgets every target without touching the backend. Used after the graphics
// context was lost, when the handles are already gone.
func (s *Set) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets = nil
}

// Target returns the target of slot.
func (s *Set) Target(slot int) (Target, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot < 0 || slot >= len(s.targets) {
		return Target{}, false
	}
	return s.targets[slot], true
}

// Len returns the number of slots.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.targets)
}

// Size returns the render size passed to the last Init.
func (s *Set) Size() (width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}
