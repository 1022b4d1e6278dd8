package chain

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/Carmen-Shannon/oxy-chain/common"
	"github.com/Carmen-Shannon/oxy-chain/engine/chain/hwrender"
	"github.com/Carmen-Shannon/oxy-chain/engine/renderer"
)

// HWRequest sets up hardware rendering for a core: one color texture and framebuffer per
// buffering slot at the requested size. Previous targets are released first. A slot that
// cannot be completed is reported in the returned error and stays unusable; the other slots
// work.
//
// Parameters:
//   - req: the size, depth/stencil needs and slot count requested by the core
//
// Returns:
//   - error: per-slot errors wrapping renderer.ErrFramebufferIncomplete, or an error wrapping
//     renderer.ErrContextViolation after which the chain is dead
func (c *RenderChain) HWRequest(req HWRenderRequest) error {
	if c.dead {
		return ErrChainDead
	}
	if req.Width <= 0 || req.Height <= 0 {
		return fmt.Errorf("hw render size %dx%d", req.Width, req.Height)
	}
	req.Slots = common.Coalesce(req.Slots, 2)

	if err := c.releaseHW(); err != nil {
		return err
	}

	backend := c.vctx.Backend()
	limit := c.calc.MaxTextureSize()
	w, h := min(req.Width, limit), min(req.Height, limit)
	if w != req.Width || h != req.Height {
		c.vctx.WarnOnce("hw_render_size", "hw render size clamped to device maximum",
			slog.Int("width", w), slog.Int("height", h))
	}

	colors := make([]renderer.TextureHandle, req.Slots)
	for i := range colors {
		tex, err := backend.CreateTexture(renderer.TextureDescriptor{
			Label:        fmt.Sprintf("HW Render %d", i),
			Width:        w,
			Height:       h,
			Format:       renderer.TextureFormatRGBA8,
			RenderTarget: true,
		})
		if err != nil {
			for _, t := range colors[:i] {
				backend.DestroyTexture(t)
			}
			return fmt.Errorf("hw render color %d: %w", i, err)
		}
		colors[i] = tex
	}

	c.hwState = hwState{
		request: req,
		active:  true,
		colors:  colors,
		handed:  make([]bool, len(colors)),
		sizes:   make([]common.Rect, len(colors)),
	}
	err := c.hw.Init(colors, w, h, req.Depth, req.Stencil)
	if errors.Is(err, renderer.ErrContextViolation) {
		return c.fail(err)
	}
	c.vctx.Logger().Info("hw render targets ready",
		slog.Int("slots", req.Slots), slog.Int("width", w), slog.Int("height", h),
		slog.Bool("depth", req.Depth), slog.Bool("stencil", req.Stencil))
	return err
}

// HWTarget returns the framebuffer the core renders slot into.
func (c *RenderChain) HWTarget(slot int) (hwrender.Target, bool) {
	return c.hw.Target(slot)
}

// HWRender binds the hw-render context, runs fn against the target of slot and restores the
// presentation context, whatever fn returns.
//
// Parameters:
//   - slot: the buffering slot to render into
//   - fn: the core's render callback
//
// Returns:
//   - error: the error of fn, or an error wrapping renderer.ErrContextViolation after which the chain is dead
func (c *RenderChain) HWRender(slot int, fn func(hwrender.Target) error) (err error) {
	if c.dead {
		return ErrChainDead
	}
	target, ok := c.hw.Target(slot)
	if !ok || !target.Complete() {
		return fmt.Errorf("hw render slot %d: %w", slot, renderer.ErrInvalidHandle)
	}

	restore, err := c.vctx.Guard().EnterHW()
	if err != nil {
		if c.vctx.Guard().InHW() {
			// Nested call; the outer HWRender tears down once it has restored.
			return err
		}
		return c.fail(err)
	}
	defer func() {
		if rerr := restore(); rerr != nil {
			err = c.fail(errors.Join(err, rerr))
		}
	}()
	if err := fn(target); err != nil {
		if errors.Is(err, renderer.ErrContextViolation) {
			// Teardown runs with the presentation context bound.
			if rerr := restore(); rerr != nil {
				err = errors.Join(err, rerr)
			}
			return c.fail(err)
		}
		return err
	}
	return nil
}

// HWFrameDone hands the content of slot over to the chain. The next frame with HW set to this
// slot samples it; ownership returns to the core once that frame was drawn.
//
// Parameters:
//   - slot: the buffering slot the core finished
//   - width: the logical width rendered, at most the requested width
//   - height: the logical height rendered, at most the requested height
//
// Returns:
//   - error: an error if the slot is unknown or incomplete
func (c *RenderChain) HWFrameDone(slot, width, height int) error {
	if c.dead {
		return ErrChainDead
	}
	target, ok := c.hw.Target(slot)
	if !ok || !target.Complete() {
		return fmt.Errorf("hw render slot %d: %w", slot, renderer.ErrInvalidHandle)
	}
	tw, th := c.hw.Size()
	c.hwState.handed[slot] = true
	c.hwState.sizes[slot] = common.Rect{Width: common.ClampInt(width, 1, tw), Height: common.ClampInt(height, 1, th)}
	return nil
}

func (c *RenderChain) consumeHW(slot int) (renderer.TextureInput, error) {
	if slot < 0 || slot >= len(c.hwState.handed) || !c.hwState.handed[slot] {
		return renderer.TextureInput{}, fmt.Errorf("hw render slot %d was not handed over: %w", slot, renderer.ErrNotReady)
	}
	target, _ := c.hw.Target(slot)
	tw, th := c.hw.Size()
	size := c.hwState.sizes[slot]
	c.hwState.handed[slot] = false
	return renderer.TextureInput{
		Texture:       target.Color,
		Width:         size.Width,
		Height:        size.Height,
		TextureWidth:  tw,
		TextureHeight: th,
	}, nil
}

// HWRelease destroys the hw-render targets and their color textures.
func (c *RenderChain) HWRelease() error {
	if c.dead {
		return ErrChainDead
	}
	return c.releaseHW()
}

func (c *RenderChain) releaseHW() error {
	if err := c.hw.Deinit(); err != nil {
		if errors.Is(err, renderer.ErrContextViolation) {
			return c.fail(err)
		}
		return err
	}
	if c.lastIn.Texture != 0 && c.lastIn.Texture != c.source {
		c.lastIn = renderer.TextureInput{}
	}
	c.destroyHWColors()
	c.hwState = hwState{}
	return nil
}

func (c *RenderChain) destroyHWColors() {
	backend := c.vctx.Backend()
	for _, t := range c.hwState.colors {
		backend.DestroyTexture(t)
	}
	c.hwState.colors = nil
}
