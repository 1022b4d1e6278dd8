package engine

import (
	"log/slog"
	"time"

	"github.com/Carmen-Shannon/oxy-chain/engine/chain"
	"github.com/Carmen-Shannon/oxy-chain/engine/renderer"
	"github.com/Carmen-Shannon/oxy-chain/engine/window"
)

// EngineBuilderOption is a functional option for configuring an Engine.
// Use the With* functions to create options that are applied directly to the engine instance.
type EngineBuilderOption func(*engine)

// WithCore sets the core producing frames. Required.
//
// Parameters:
//   - core: the frame source
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithCore(core Core) EngineBuilderOption {
	return func(e *engine) {
		e.core = core
	}
}

// WithProfiling enables or disables frame pacing output.
//
// Parameters:
//   - enabled: if true, enables profiling
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithProfiling(enabled bool) EngineBuilderOption {
	return func(e *engine) {
		e.profilingEnabled.Store(enabled)
	}
}

// WithWindow sets the window the engine presents to. Without a window the engine runs
// headless on the software backend unless WithBackend is given.
//
// Parameters:
//   - w: a pre-configured Window instance
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithWindow(w window.Window) EngineBuilderOption {
	return func(e *engine) {
		e.window = w
	}
}

// WithBackend sets the GPU backend instead of creating one.
// The engine takes ownership and releases it on shutdown.
//
// Parameters:
//   - backend: an initialized backend
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithBackend(backend renderer.Backend) EngineBuilderOption {
	return func(e *engine) {
		e.backend = backend
	}
}

// WithChainOptions passes options through to the render chain.
func WithChainOptions(options ...chain.RenderChainBuilderOption) EngineBuilderOption {
	return func(e *engine) {
		e.chainOptions = append(e.chainOptions, options...)
	}
}

// WithPresetFile loads the preset at path on startup. F10 reloads it.
//
// Parameters:
//   - path: the preset TOML file
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithPresetFile(path string) EngineBuilderOption {
	return func(e *engine) {
		e.presetPath = path
	}
}

// WithScaleMode sets how the output is fitted into the window. Defaults to window.ScaleAspect.
func WithScaleMode(mode window.ScaleMode) EngineBuilderOption {
	return func(e *engine) {
		e.scaleMode = mode
	}
}

// WithHeadlessSize sets the backbuffer size used without a window.
// Defaults to the core geometry.
func WithHeadlessSize(width, height int) EngineBuilderOption {
	return func(e *engine) {
		e.setFramebufferSize(width, height)
	}
}

// WithOutputDir sets where screenshots and recordings are written. Defaults to the working
// directory.
//
// Parameters:
//   - dir: the output directory
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithOutputDir(dir string) EngineBuilderOption {
	return func(e *engine) {
		e.outputDir = dir
	}
}

// WithLogger sets the logger of the engine and the video context. Defaults to common.Logger().
func WithLogger(logger *slog.Logger) EngineBuilderOption {
	return func(e *engine) {
		e.logger = logger
	}
}

// WithRenderFrameLimit sets an optional render frame rate cap in frames per second.
// Pass 0 to uncap the render loop (default).
//
// Parameters:
//   - fps: maximum render frames per second (0 = uncapped)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithRenderFrameLimit(fps float64) EngineBuilderOption {
	return func(e *engine) {
		if fps <= 0 {
			e.renderFrameLimit = 0
			return
		}
		e.renderFrameLimit = time.Duration(float64(time.Second) / fps)
	}
}

// WithCloseTimeout bounds how long shutdown waits for outstanding GPU fences.
func WithCloseTimeout(d time.Duration) EngineBuilderOption {
	return func(e *engine) {
		e.closeTimeout = d
	}
}
