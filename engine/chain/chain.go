// Package chain drives the multi-pass render chain: it uploads the core frame, runs every pass
// of the loaded preset through its framebuffers, composites the result onto the backbuffer and
// services readback and frame pacing.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Carmen-Shannon/oxy-chain/common"
	"github.com/Carmen-Shannon/oxy-chain/engine/chain/fbo"
	"github.com/Carmen-Shannon/oxy-chain/engine/chain/feedback"
	"github.com/Carmen-Shannon/oxy-chain/engine/chain/fence"
	"github.com/Carmen-Shannon/oxy-chain/engine/chain/geometry"
	"github.com/Carmen-Shannon/oxy-chain/engine/chain/hwrender"
	"github.com/Carmen-Shannon/oxy-chain/engine/chain/readback"
	"github.com/Carmen-Shannon/oxy-chain/engine/renderer"
	"github.com/Carmen-Shannon/oxy-chain/engine/renderer/pass"
	"github.com/Carmen-Shannon/oxy-chain/engine/renderer/preset"
)

// ErrChainDead is returned by every operation after the chain was torn down by a context
// violation or closed. Video must be reinitialized with a new chain.
var ErrChainDead = errors.New("chain: render chain is dead")

// WarnClampToBorder is the capability key used when ClampToBorder wrapping is substituted.
const WarnClampToBorder = "clamp_to_border"

// FrameInput is the core output for one frame.
type FrameInput struct {
	// Frame is a software-rendered frame. When nil and HW is false the previous source is
	// rendered again.
	Frame *renderer.Frame

	// HW selects the hw-render slot HWSlot as the source. The slot must have been handed
	// over with HWFrameDone.
	HW     bool
	HWSlot int

	// Width and Height are the backbuffer size.
	Width, Height int

	// Viewport is the region of the backbuffer the output is drawn into. Empty means the
	// whole backbuffer.
	Viewport common.Rect
}

// HWRenderRequest is what a hardware-rendering core asks for at init.
type HWRenderRequest struct {
	Width, Height  int
	Depth, Stencil bool

	// Slots is the number of buffering slots, 2 when zero.
	Slots int
}

// Stats summarizes chain activity.
type Stats struct {
	Frames        uint64
	Dupes         uint64
	Passes        int
	PassThrough   bool
	Clamps        uint64
	FeedbackSwaps uint64
	FenceWaits    uint64
	FencesPending int
	Readback      readback.Stats
}

type hwState struct {
	request HWRenderRequest
	active  bool
	colors  []renderer.TextureHandle
	handed  []bool
	sizes   []common.Rect
}

// RenderChain owns every GPU resource of the chain. It is driven from a single goroutine.
type RenderChain struct {
	vctx   *renderer.VideoContext
	calc   *geometry.Calculator
	pool   *fbo.Pool
	slot   *feedback.Slot
	hw     *hwrender.Set
	ring   *readback.Ring
	fences *fence.Tracker

	preset      *preset.Preset
	descs       []pass.Descriptor
	passthrough bool

	maxPasses       int
	hardSyncFrames  int
	readbackDepth   int
	readbackWorkers int
	srcMaxW         int
	srcMaxH         int

	source   renderer.TextureHandle
	srcDesc  renderer.TextureDescriptor
	lastIn   renderer.TextureInput
	hwState  hwState
	viewport common.Rect

	recording bool
	captures  int

	frames uint64
	dupes  uint64
	dead   bool
}

// NewRenderChain creates a chain on vctx.
//
// Parameters:
//   - vctx: the shared video context
//   - options: variadic list of RenderChainBuilderOption functions
//
// Returns:
//   - *RenderChain: the new chain
//   - error: an error if the preset given with WithPreset could not be loaded
func NewRenderChain(vctx *renderer.VideoContext, options ...RenderChainBuilderOption) (*RenderChain, error) {
	c := &RenderChain{
		vctx:            vctx,
		maxPasses:       preset.DefaultMaxPasses,
		hardSyncFrames:  -1,
		readbackDepth:   readback.DefaultDepth,
		readbackWorkers: 4,
	}
	for _, opt := range options {
		opt(c)
	}

	c.calc = geometry.NewCalculator(vctx.Limits().MaxTextureSize, geometry.WithLogger(vctx.Logger()))
	c.pool = fbo.NewPool(vctx, 0)
	c.slot = feedback.New(vctx, c.pool, -1, nil)
	c.hw = hwrender.New(vctx)
	c.ring = readback.NewRing(vctx, readback.WithDepth(c.readbackDepth), readback.WithWorkers(c.readbackWorkers))
	c.fences = fence.NewTracker(vctx, fence.WithMaxInFlight(c.hardSyncFrames))

	if c.hardSyncFrames >= 0 && !vctx.Limits().Fences {
		vctx.WarnOnce("fences", "GPU fences unsupported, hard sync disabled")
		c.hardSyncFrames = -1
	}

	if c.preset != nil {
		p := c.preset
		c.preset = nil
		if err := c.LoadPreset(p); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// LoadPreset replaces the active preset. Programs are registered with the backend and every
// pass resource is rebuilt lazily on the next frame. A nil preset removes all passes.
//
// Parameters:
//   - p: the preset to activate
//
// Returns:
//   - error: an error if a program was rejected or the preset has too many passes
func (c *RenderChain) LoadPreset(p *preset.Preset) error {
	if c.dead {
		return ErrChainDead
	}
	var descs []pass.Descriptor
	feedbackPass := -1
	if p != nil {
		if len(p.Passes) > c.maxPasses {
			return fmt.Errorf("preset has %d passes, limit is %d: %w", len(p.Passes), c.maxPasses, preset.ErrInvalidPreset)
		}
		registered, err := p.Register(c.vctx.Backend())
		if err != nil {
			return fmt.Errorf("load preset: %w", err)
		}
		descs = registered
		feedbackPass = p.FeedbackPass
	}

	c.slot.Destroy()
	c.pool.DestroyAll()
	c.pool.Resize(len(descs))
	c.descs = descs
	c.preset = p
	c.passthrough = false
	c.slot = feedback.New(c.vctx, c.pool, feedbackPass, descs)

	attrs := []any{slog.Int("passes", len(descs)), slog.Int("feedback_pass", c.slot.SourceIndex())}
	if p != nil && p.Path != "" {
		attrs = append(attrs, slog.String("path", p.Path))
	}
	c.vctx.Logger().Info("shader preset loaded", attrs...)
	return nil
}

// LoadPresetFile loads the TOML preset at path and activates it.
func (c *RenderChain) LoadPresetFile(path string) error {
	p, err := preset.Load(path, preset.WithMaxPasses(c.maxPasses))
	if err != nil {
		return err
	}
	return c.LoadPreset(p)
}

// Passes returns the active pass descriptors.
func (c *RenderChain) Passes() []pass.Descriptor {
	return c.descs
}

// PassThrough reports whether the passes were disabled after a framebuffer failure.
func (c *RenderChain) PassThrough() bool {
	return c.passthrough
}

// Dead reports whether the chain was torn down.
func (c *RenderChain) Dead() bool {
	return c.dead
}

// Frame renders one frame: upload the source, run every pass in order, composite onto the
// backbuffer, swap feedback, queue the readback copy, submit, pace and present.
//
// Parameters:
//   - ctx: cancels a hard-sync fence wait
//   - in: the core output and the output geometry
//
// Returns:
//   - error: ErrChainDead after teardown, an error wrapping renderer.ErrContextViolation
//     when the chain was torn down by this call, or a backend error
func (c *RenderChain) Frame(ctx context.Context, in FrameInput) error {
	if c.dead {
		return ErrChainDead
	}
	vp := in.Viewport
	if vp.Empty() {
		vp = common.Rect{Width: in.Width, Height: in.Height}
	}
	vp = vp.Intersect(common.Rect{Width: in.Width, Height: in.Height})
	if vp.Empty() {
		return fmt.Errorf("frame output %dx%d has an empty viewport", in.Width, in.Height)
	}

	if c.vctx.Guard().InHW() {
		return c.fail(fmt.Errorf("frame submitted with the hw-render context bound: %w", renderer.ErrContextViolation))
	}

	backend := c.vctx.Backend()
	if err := backend.BeginFrame(in.Width, in.Height); err != nil {
		return fmt.Errorf("begin frame: %w", err)
	}
	if err := c.render(in, vp); err != nil {
		if endErr := backend.EndFrame(); endErr != nil {
			err = errors.Join(err, endErr)
		}
		return err
	}
	c.viewport = vp

	if c.recording || c.captures > 0 {
		ok, err := c.ring.RequestCopy(renderer.Backbuffer, vp)
		switch {
		case err != nil && errors.Is(err, renderer.ErrCapabilityUnsupported):
			c.recording, c.captures = false, 0
		case err != nil:
			c.vctx.Logger().Warn("readback copy failed", slog.Any("error", err))
		case ok && c.captures > 0:
			c.captures--
		}
	}

	if err := backend.EndFrame(); err != nil {
		return fmt.Errorf("end frame: %w", err)
	}

	if c.hardSyncFrames >= 0 {
		f, err := backend.InsertFence()
		if err != nil {
			return fmt.Errorf("insert fence: %w", err)
		}
		if err := c.fences.Push(ctx, f); err != nil {
			return err
		}
	}

	if err := backend.Present(); err != nil {
		return fmt.Errorf("present: %w", err)
	}
	c.ring.Advance()
	c.frames++
	return nil
}

// render issues every draw of a frame. It runs between BeginFrame and EndFrame.
func (c *RenderChain) render(in FrameInput, vp common.Rect) error {
	backend := c.vctx.Backend()
	src, err := c.sourceInput(in)
	if err != nil {
		return err
	}
	if err := backend.Clear(renderer.Backbuffer, [4]float32{0, 0, 0, 1}); err != nil {
		return fmt.Errorf("clear backbuffer: %w", err)
	}
	if src.Texture == 0 {
		return nil
	}

	var geoms []geometry.Geometry
	if len(c.descs) > 0 && !c.passthrough {
		geoms = c.calc.ComputeChain(c.descs, src.Width, src.Height, c.srcMaxW, c.srcMaxH, vp.Width, vp.Height)
		if err := c.pool.EnsureAll(c.descs, geoms); err != nil {
			c.disablePasses(err)
		} else if err := c.slot.Prepare(); err != nil {
			c.disablePasses(err)
		}
	}

	if len(c.descs) == 0 || c.passthrough {
		return c.blit(src, vp)
	}

	input := src
	feedbackIn := c.slot.Texture()
	for i, d := range c.descs {
		cmd := renderer.PassCommand{
			Index:      i,
			Program:    d.Program(),
			Target:     renderer.Backbuffer,
			Viewport:   vp,
			Source:     input,
			Original:   src,
			Feedback:   feedbackIn,
			Filter:     d.Filter(),
			Wrap:       c.wrap(d),
			FrameCount: c.frames,
		}
		next := input
		if pass.RendersToFramebuffer(c.descs, i) {
			r, _ := c.pool.Get(i)
			cmd.Target = r.Framebuffer
			cmd.Viewport = common.Rect{Width: geoms[i].Width, Height: geoms[i].Height}
			next = r.Input()
		}
		if err := backend.DrawPass(cmd); err != nil {
			return fmt.Errorf("pass %d: %w", i, err)
		}
		input = next
	}

	if pass.RendersToFramebuffer(c.descs, len(c.descs)-1) {
		if err := c.blit(input, vp); err != nil {
			return err
		}
	}
	return c.slot.Swap()
}

// blit draws in onto the backbuffer viewport with the stock program.
func (c *RenderChain) blit(in renderer.TextureInput, vp common.Rect) error {
	err := c.vctx.Backend().DrawPass(renderer.PassCommand{
		Index:      -1,
		Target:     renderer.Backbuffer,
		Viewport:   vp,
		Source:     in,
		Original:   in,
		Filter:     renderer.FilterLinear,
		Wrap:       renderer.WrapClampToEdge,
		FrameCount: c.frames,
	})
	if err != nil {
		return fmt.Errorf("stock pass: %w", err)
	}
	return nil
}

func (c *RenderChain) wrap(d pass.Descriptor) renderer.WrapMode {
	w := d.Wrap()
	if w == renderer.WrapClampToBorder && !c.vctx.Limits().ClampToBorder {
		c.vctx.WarnOnce(WarnClampToBorder, "clamp-to-border wrapping unsupported, clamping to edge",
			slog.Int("pass", d.Index()))
		return renderer.WrapClampToEdge
	}
	return w
}

// disablePasses drops every pass resource and renders the source directly until the next
// preset load.
func (c *RenderChain) disablePasses(cause error) {
	c.vctx.Logger().Warn("render chain disabled, falling back to pass-through", slog.Any("error", cause))
	c.slot.Destroy()
	c.pool.DestroyAll()
	c.passthrough = true
}

// sourceInput resolves the texture pass 0 samples this frame.
func (c *RenderChain) sourceInput(in FrameInput) (renderer.TextureInput, error) {
	switch {
	case in.Frame != nil:
		if err := in.Frame.Validate(); err != nil {
			return renderer.TextureInput{}, fmt.Errorf("core frame: %w", err)
		}
		if err := c.ensureSource(in.Frame.Width, in.Frame.Height); err != nil {
			return renderer.TextureInput{}, err
		}
		if err := c.vctx.Backend().UploadTexture(c.source, in.Frame); err != nil {
			return renderer.TextureInput{}, fmt.Errorf("upload core frame: %w", err)
		}
		c.lastIn = renderer.TextureInput{
			Texture:       c.source,
			Width:         in.Frame.Width,
			Height:        in.Frame.Height,
			TextureWidth:  c.srcDesc.Width,
			TextureHeight: c.srcDesc.Height,
		}
	case in.HW:
		hwIn, err := c.consumeHW(in.HWSlot)
		if err != nil {
			return renderer.TextureInput{}, err
		}
		c.lastIn = hwIn
	default:
		c.dupes++
	}
	return c.lastIn, nil
}

// ensureSource keeps a source texture large enough for w x h and the configured source maximum.
func (c *RenderChain) ensureSource(w, h int) error {
	if c.source != 0 && w <= c.srcDesc.Width && h <= c.srcDesc.Height {
		return nil
	}
	backend := c.vctx.Backend()
	if c.source != 0 {
		backend.DestroyTexture(c.source)
		c.source = 0
	}
	limit := c.calc.MaxTextureSize()
	desc := renderer.TextureDescriptor{
		Label:  "Core Frame",
		Width:  common.ClampInt(max(w, c.srcMaxW), 1, limit),
		Height: common.ClampInt(max(h, c.srcMaxH), 1, limit),
		Format: renderer.TextureFormatRGBA8,
	}
	tex, err := backend.CreateTexture(desc)
	if err != nil {
		return fmt.Errorf("source texture: %w", err)
	}
	c.source, c.srcDesc = tex, desc
	c.vctx.Logger().Debug("source texture allocated", slog.Int("width", desc.Width), slog.Int("height", desc.Height))
	return nil
}

// SetVideoMode updates the largest frame size the core may produce, waits for the GPU to go
// idle and resets readback. Pass geometry follows on the next frame.
//
// Parameters:
//   - ctx: cancels the fence drain
//   - maxWidth: the core's maximum frame width
//   - maxHeight: the core's maximum frame height
//
// Returns:
//   - error: an error if draining fences failed
func (c *RenderChain) SetVideoMode(ctx context.Context, maxWidth, maxHeight int) error {
	if c.dead {
		return ErrChainDead
	}
	if err := c.fences.Drain(ctx); err != nil {
		return err
	}
	c.ring.Reset()
	c.srcMaxW, c.srcMaxH = maxWidth, maxHeight
	c.vctx.Logger().Info("video mode changed", slog.Int("max_width", maxWidth), slog.Int("max_height", maxHeight))
	return nil
}

// RequestCapture queues readback copies of the composited output. A one-shot capture copies
// the next frame; a continuous one copies every frame until ReleaseCapture. Frames rendered
// while the ring is full are skipped.
//
// Parameters:
//   - continuous: copy every frame instead of the next one only
//
// Returns:
//   - error: an error wrapping renderer.ErrCapabilityUnsupported when the backend cannot read back asynchronously
func (c *RenderChain) RequestCapture(continuous bool) error {
	if c.dead {
		return ErrChainDead
	}
	if !c.vctx.Limits().AsyncReadback {
		c.vctx.WarnOnce(readback.WarnAsyncReadback, "asynchronous readback unsupported, only synchronous screenshots are available")
		return fmt.Errorf("capture: %w", renderer.ErrCapabilityUnsupported)
	}
	if continuous {
		c.recording = true
	} else {
		c.captures++
	}
	return nil
}

// PollCapture returns the oldest finished capture without blocking.
func (c *RenderChain) PollCapture() (readback.Readout, bool, error) {
	if c.dead {
		return readback.Readout{}, false, ErrChainDead
	}
	return c.ring.TryConsume()
}

// ReleaseCapture stops capturing and drops copies still in flight.
func (c *RenderChain) ReleaseCapture() {
	c.recording, c.captures = false, 0
	c.ring.Reset()
}

// Recording reports whether continuous capture is on.
func (c *RenderChain) Recording() bool {
	return c.recording
}

// Screenshot reads the last presented frame synchronously. It stalls until the GPU is idle
// and must not be used for continuous capture.
//
// Returns:
//   - readback.Readout: the frame in top-down RGBA8
//   - error: an error if no frame was rendered yet or the read failed
func (c *RenderChain) Screenshot() (readback.Readout, error) {
	if c.dead {
		return readback.Readout{}, ErrChainDead
	}
	if c.viewport.Empty() {
		return readback.Readout{}, fmt.Errorf("screenshot: %w", renderer.ErrNotReady)
	}
	return c.ring.ReadSync(renderer.Backbuffer, c.viewport)
}

// Stats returns a snapshot of the chain counters.
func (c *RenderChain) Stats() Stats {
	return Stats{
		Frames:        c.frames,
		Dupes:         c.dupes,
		Passes:        len(c.descs),
		PassThrough:   c.passthrough,
		Clamps:        c.calc.Clamps(),
		FeedbackSwaps: c.slot.Swaps(),
		FenceWaits:    c.fences.Waits(),
		FencesPending: c.fences.Len(),
		Readback:      c.ring.Stats(),
	}
}

// ContextLost forgets every GPU handle after the graphics context went away. The chain stays
// usable; resources are recreated on the next frame and hw targets on ContextRestored.
func (c *RenderChain) ContextLost() {
	if c.dead {
		return
	}
	c.vctx.Logger().Warn("graphics context lost")
	c.hw.Invalidate()
	c.hwState.colors, c.hwState.handed, c.hwState.sizes = nil, nil, nil
	c.fences.Discard()
	c.ring.Reset()
	c.slot.Destroy()
	c.pool.DestroyAll()
	c.source, c.srcDesc, c.lastIn = 0, renderer.TextureDescriptor{}, renderer.TextureInput{}
	c.viewport = common.Rect{}
}

// ContextRestored recreates the hw-render targets requested before the context was lost.
func (c *RenderChain) ContextRestored() error {
	if c.dead {
		return ErrChainDead
	}
	c.vctx.Logger().Info("graphics context restored")
	if !c.hwState.active {
		return nil
	}
	return c.HWRequest(c.hwState.request)
}

// Close waits for the GPU to finish and releases every resource. The chain is dead afterwards.
//
// Parameters:
//   - ctx: cancels the fence drain
//
// Returns:
//   - error: an error if draining fences or releasing hw targets failed
func (c *RenderChain) Close(ctx context.Context) error {
	if c.dead {
		return nil
	}
	err := c.fences.Drain(ctx)
	if hwErr := c.releaseHW(); hwErr != nil {
		err = errors.Join(err, hwErr)
	}
	c.teardown()
	return err
}

// fail tears the chain down after a context violation.
func (c *RenderChain) fail(err error) error {
	if c.dead {
		return err
	}
	c.vctx.Logger().Error("graphics context violation, tearing down render chain", slog.Any("error", err))
	if hwErr := c.hw.Deinit(); hwErr != nil {
		c.hw.Invalidate()
	}
	c.destroyHWColors()
	c.fences.Discard()
	c.teardown()
	return err
}

func (c *RenderChain) teardown() {
	c.ring.Close()
	c.slot.Destroy()
	c.pool.DestroyAll()
	if c.source != 0 {
		c.vctx.Backend().DestroyTexture(c.source)
		c.source = 0
	}
	c.descs = nil
	c.dead = true
}
