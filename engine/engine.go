package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/oxy-chain/common"
	"github.com/Carmen-Shannon/oxy-chain/engine/chain"
	"github.com/Carmen-Shannon/oxy-chain/engine/chain/readback"
	"github.com/Carmen-Shannon/oxy-chain/engine/profiler"
	"github.com/Carmen-Shannon/oxy-chain/engine/renderer"
	"github.com/Carmen-Shannon/oxy-chain/engine/screenshot"
	"github.com/Carmen-Shannon/oxy-chain/engine/window"
)

// Core produces the frames shown by the engine. RunFrame is called from the render goroutine.
type Core interface {
	// Geometry returns the nominal frame size and display aspect ratio of the core.
	// An aspect of zero derives it from the frame size.
	Geometry() (width, height int, aspect float32)

	// RunFrame advances the core by one frame. Hardware-rendering cores draw through
	// c.HWRender and hand the slot over with c.HWFrameDone before returning it in the input.
	// Width, Height and Viewport of the returned input are filled in by the engine.
	//
	// Parameters:
	//   - ctx: canceled when the engine quits
	//   - c: the render chain
	//
	// Returns:
	//   - chain.FrameInput: the frame to present
	//   - error: an error stops the engine
	RunFrame(ctx context.Context, c *chain.RenderChain) (chain.FrameInput, error)
}

// HWCore is a Core that renders on the GPU through the hw-render targets of the chain.
type HWCore interface {
	Core

	// HWRenderRequest describes the hw-render targets the core needs.
	HWRenderRequest() chain.HWRenderRequest
}

type action int

const (
	actionScreenshot action = iota
	actionToggleRecording
	actionReloadPreset
)

// engine implements the Engine interface.
// Coordinates the render goroutine and the window thread.
type engine struct {
	wg sync.WaitGroup

	quitChannel chan struct{}
	quitOnce    sync.Once // Ensures quitChannel is only closed once
	ctx         context.Context
	cancel      context.CancelFunc

	actions chan action

	window  window.Window
	backend renderer.Backend
	vctx    *renderer.VideoContext
	chain   *chain.RenderChain
	core    Core
	logger  *slog.Logger

	chainOptions []chain.RenderChainBuilderOption
	presetPath   string

	profiler         *profiler.Profiler
	profilingEnabled atomic.Bool

	scaleMode window.ScaleMode
	fbWidth   atomic.Int64
	fbHeight  atomic.Int64

	outputDir       string
	recorder        *screenshot.Recorder
	captureCallback func(readback.Readout)

	renderFrameLimit time.Duration // minimum frame duration; 0 = uncapped
	closeTimeout     time.Duration
}

// Engine is the main entry point for the frontend.
// It drives the core, the render chain and the window.
type Engine interface {
	// Window returns the underlying window, nil when running headless.
	//
	// Returns:
	//   - window.Window: the window instance
	Window() window.Window

	// Chain returns the render chain.
	//
	// Returns:
	//   - *chain.RenderChain: the chain the engine presents through
	Chain() *chain.RenderChain

	// EnableProfiler enables frame pacing output to the log.
	EnableProfiler()

	// DisableProfiler disables frame pacing output.
	DisableProfiler()

	// SetRenderFrameLimit sets an optional render frame rate cap in frames per second.
	// Pass 0 to uncap the render loop (default).
	//
	// Parameters:
	//   - fps: maximum render frames per second (0 = uncapped)
	SetRenderFrameLimit(fps float64)

	// SetCaptureCallback registers a function receiving every finished capture instead of
	// writing it to the output directory.
	//
	// Parameters:
	//   - callback: called on the render goroutine with each readout
	SetCaptureCallback(callback func(readback.Readout))

	// Screenshot queues a screenshot of the next presented frame.
	Screenshot()

	// ToggleRecording queues starting or stopping continuous capture.
	ToggleRecording()

	// ReloadPreset queues reloading the preset file from disk.
	ReloadPreset()

	// Step runs one frame on the calling goroutine: pending actions, the core, the chain and
	// capture delivery.
	//
	// Parameters:
	//   - ctx: bounds fence waits of the frame
	//
	// Returns:
	//   - error: an error from the core or the chain
	Step(ctx context.Context) error

	// Run starts the render loop and the window message loop. It blocks until the window
	// closes or Quit is called. Without a window it blocks until Quit.
	Run()

	// Quit signals the render goroutine to stop.
	// Safe to call multiple times; subsequent calls are no-ops.
	Quit()
}

// NewEngine creates a new Engine instance with the provided options.
// Without WithBackend the WebGPU backend is created on the window surface, or the software
// backend when running headless.
//
// Parameters:
//   - options: functional options for engine configuration
//
// Returns:
//   - Engine: the newly created engine
//   - error: an error if no core was given or video initialization failed
func NewEngine(options ...EngineBuilderOption) (Engine, error) {
	e := &engine{
		quitChannel:  make(chan struct{}),
		actions:      make(chan action, 8),
		logger:       common.Logger(),
		scaleMode:    window.ScaleAspect,
		outputDir:    ".",
		closeTimeout: 2 * time.Second,
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())

	for _, opt := range options {
		opt(e)
	}
	if e.core == nil {
		return nil, errors.New("engine: no core configured")
	}

	if e.window != nil {
		w, h := e.window.FramebufferSize()
		e.setFramebufferSize(w, h)
	} else if e.fbWidth.Load() == 0 {
		w, h, _ := e.core.Geometry()
		e.setFramebufferSize(w, h)
	}

	if err := e.initVideo(); err != nil {
		return nil, err
	}

	e.profiler = profiler.NewProfiler(profiler.WithStatsSource(e.chain), profiler.WithLogger(e.logger))

	if e.window != nil {
		e.window.SetResizeCallback(e.setFramebufferSize)
		e.window.SetKeyDownCallback(e.handleKey)
	}
	return e, nil
}

// initVideo creates the backend, video context and render chain.
func (e *engine) initVideo() error {
	if e.backend == nil {
		var err error
		if e.window != nil {
			e.backend, err = renderer.NewBackend(renderer.BackendTypeWGPU,
				renderer.WithSurface(e.window.SurfaceDescriptor(), int(e.fbWidth.Load()), int(e.fbHeight.Load())))
		} else {
			e.backend, err = renderer.NewBackend(renderer.BackendTypeSoftware)
		}
		if err != nil {
			return fmt.Errorf("engine: %w", err)
		}
	}
	e.logger.Info("video initialized", slog.String("backend", e.backend.Type().String()))

	vopts := []renderer.VideoContextBuilderOption{renderer.WithLogger(e.logger)}
	if e.window != nil {
		vopts = append(vopts, renderer.WithContextBinder(e.window))
	}
	e.vctx = renderer.NewVideoContext(e.backend, vopts...)

	c, err := chain.NewRenderChain(e.vctx, e.chainOptions...)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	e.chain = c

	if e.presetPath != "" {
		if err := c.LoadPresetFile(e.presetPath); err != nil {
			return fmt.Errorf("engine: %w", err)
		}
	}
	if hw, ok := e.core.(HWCore); ok {
		if err := c.HWRequest(hw.HWRenderRequest()); err != nil {
			return fmt.Errorf("engine: %w", err)
		}
	}
	return nil
}

func (e *engine) Window() window.Window {
	return e.window
}

func (e *engine) Chain() *chain.RenderChain {
	return e.chain
}

// Run launches the render goroutine and runs the window message loop on the calling
// goroutine, which must be the main thread.
func (e *engine) Run() {
	e.handle()
	if e.window != nil {
		e.window.ProcessMessages()
		e.signalQuit()
	}
	e.wg.Wait()
	e.shutdown()
	if e.window != nil {
		if err := e.window.Close(); err != nil {
			e.logger.Warn("window close", slog.Any("error", err))
		}
	}
}

// Quit signals all engine goroutines to stop and shuts down the engine.
// Safe to call multiple times; subsequent calls are no-ops due to sync.Once.
func (e *engine) Quit() {
	e.signalQuit()
}

// signalQuit closes the quit channel to signal all goroutines to exit.
// Uses sync.Once to ensure the channel is only closed once.
func (e *engine) signalQuit() {
	e.quitOnce.Do(func() {
		e.cancel()
		close(e.quitChannel)
		if e.window != nil {
			e.window.RequestClose()
		}
	})
}

// handle launches the render and quit goroutines.
// Each goroutine is tracked by the engine's WaitGroup.
func (e *engine) handle() {
	e.wg.Add(2)
	go e.handleRender()
	go e.handleQuit()
}

// handleRender runs the uncapped (or frame-limited) render loop in its own goroutine.
// Recovers from panics to avoid crashing the process and signals quit on recovery.
func (e *engine) handleRender() {
	defer e.wg.Done()
	// Recover from panics inside the render goroutine to avoid crashing the whole process.
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("render goroutine recovered from panic", slog.Any("panic", r))
			e.signalQuit()
		}
	}()

	for {
		select {
		case <-e.quitChannel:
			return
		default:
			start := time.Now()
			if err := e.Step(e.ctx); err != nil {
				if !errors.Is(err, context.Canceled) {
					e.logger.Error("frame failed, stopping", slog.Any("error", err))
				}
				e.signalQuit()
				return
			}

			// Frame rate limiting
			if e.renderFrameLimit > 0 {
				if remaining := e.renderFrameLimit - time.Since(start); remaining > 0 {
					time.Sleep(remaining)
				}
			}
		}
	}
}

// handleQuit blocks until the quit channel is closed, then decrements the WaitGroup.
func (e *engine) handleQuit() {
	defer e.wg.Done()
	<-e.quitChannel
}

func (e *engine) Step(ctx context.Context) error {
	e.drainActions()

	in, err := e.core.RunFrame(ctx, e.chain)
	if err != nil {
		return fmt.Errorf("core: %w", err)
	}

	fbW, fbH := int(e.fbWidth.Load()), int(e.fbHeight.Load())
	baseW, baseH, aspect := e.core.Geometry()
	if in.Frame != nil {
		baseW, baseH = in.Frame.Width, in.Frame.Height
	}
	in.Width, in.Height = fbW, fbH
	in.Viewport = window.FitViewport(e.scaleMode, fbW, fbH, baseW, baseH, aspect)

	if err := e.chain.Frame(ctx, in); err != nil {
		return err
	}
	e.deliverCaptures()

	if e.profilingEnabled.Load() && e.profiler.Tick() && e.window != nil {
		e.window.SetTitle(fmt.Sprintf("%s | %.1f fps", e.window.Title(), e.profiler.Last().FPS))
	}
	return nil
}

// drainActions runs every queued hotkey action without blocking.
func (e *engine) drainActions() {
	for {
		select {
		case a := <-e.actions:
			e.runAction(a)
		default:
			return
		}
	}
}

func (e *engine) runAction(a action) {
	switch a {
	case actionScreenshot:
		e.takeScreenshot()
	case actionToggleRecording:
		e.toggleRecording()
	case actionReloadPreset:
		if e.presetPath == "" {
			e.logger.Warn("no preset file to reload")
			return
		}
		if err := e.chain.LoadPresetFile(e.presetPath); err != nil {
			e.logger.Error("preset reload failed", slog.String("path", e.presetPath), slog.Any("error", err))
			return
		}
		e.logger.Info("preset reloaded", slog.String("path", e.presetPath), slog.Int("passes", len(e.chain.Passes())))
	}
}

// takeScreenshot reads the last presented frame back synchronously and writes it out.
func (e *engine) takeScreenshot() {
	out, err := e.chain.Screenshot()
	if err != nil {
		e.logger.Warn("screenshot failed", slog.Any("error", err))
		return
	}
	if e.captureCallback != nil {
		e.captureCallback(out)
		return
	}
	path := filepath.Join(e.outputDir, screenshot.Name("oxy", time.Now(), screenshot.FormatPNG))
	if err := screenshot.Save(path, out); err != nil {
		e.logger.Error("screenshot failed", slog.Any("error", err))
		return
	}
	e.logger.Info("screenshot saved", slog.String("path", path), slog.Int("width", out.Width), slog.Int("height", out.Height))
}

func (e *engine) toggleRecording() {
	if e.chain.Recording() {
		e.chain.ReleaseCapture()
		if e.recorder != nil {
			e.logger.Info("recording stopped", slog.Int("frames", e.recorder.Count()))
			e.recorder = nil
		}
		return
	}
	if e.captureCallback == nil {
		dir := filepath.Join(e.outputDir, "capture-"+time.Now().Format("20060102-150405"))
		rec, err := screenshot.NewRecorder(dir, screenshot.FormatBMP)
		if err != nil {
			e.logger.Error("recording failed", slog.Any("error", err))
			return
		}
		e.recorder = rec
	}
	if err := e.chain.RequestCapture(true); err != nil {
		e.logger.Warn("recording unavailable", slog.Any("error", err))
		e.recorder = nil
		return
	}
	e.logger.Info("recording started")
}

// deliverCaptures hands every finished readback to the capture callback or the recorder.
func (e *engine) deliverCaptures() {
	for {
		out, ok, err := e.chain.PollCapture()
		if err != nil {
			e.logger.Warn("capture failed", slog.Any("error", err))
			return
		}
		if !ok {
			return
		}
		switch {
		case e.captureCallback != nil:
			e.captureCallback(out)
		case e.recorder != nil:
			if _, err := e.recorder.Write(out); err != nil {
				e.logger.Error("capture write failed", slog.Any("error", err))
			}
		}
	}
}

// shutdown releases the chain and the backend after the render goroutine exited.
func (e *engine) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), e.closeTimeout)
	defer cancel()
	if err := e.chain.Close(ctx); err != nil && !errors.Is(err, chain.ErrChainDead) {
		e.logger.Warn("render chain close", slog.Any("error", err))
	}
	e.backend.Release()
}

// handleKey maps frontend hotkeys to queued actions. Keys are delivered on the window thread.
func (e *engine) handleKey(keyCode uint32) {
	switch keyCode {
	case common.KeyF8:
		e.Screenshot()
	case common.KeyF9:
		e.ToggleRecording()
	case common.KeyF10:
		e.ReloadPreset()
	}
}

func (e *engine) queue(a action) {
	select {
	case e.actions <- a:
	default:
		e.logger.Warn("action queue full, dropping action", slog.Int("action", int(a)))
	}
}

func (e *engine) Screenshot() {
	e.queue(actionScreenshot)
}

func (e *engine) ToggleRecording() {
	e.queue(actionToggleRecording)
}

func (e *engine) ReloadPreset() {
	e.queue(actionReloadPreset)
}

func (e *engine) setFramebufferSize(width, height int) {
	e.fbWidth.Store(int64(width))
	e.fbHeight.Store(int64(height))
}

// EnableProfiler enables frame pacing output to the log.
func (e *engine) EnableProfiler() {
	e.profilingEnabled.Store(true)
}

// DisableProfiler disables frame pacing output.
func (e *engine) DisableProfiler() {
	e.profilingEnabled.Store(false)
}

// SetRenderFrameLimit sets an optional render frame rate cap.
// Pass 0 to uncap the render loop.
func (e *engine) SetRenderFrameLimit(fps float64) {
	if fps <= 0 {
		e.renderFrameLimit = 0
		return
	}
	e.renderFrameLimit = time.Duration(float64(time.Second) / fps)
}

func (e *engine) SetCaptureCallback(callback func(readback.Readout)) {
	e.captureCallback = callback
}
