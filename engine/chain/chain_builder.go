package chain

import "github.com/Carmen-Shannon/oxy-chain/engine/renderer/preset"

// RenderChainBuilderOption is a functional option applied to a RenderChain during construction
// via NewRenderChain.
type RenderChainBuilderOption func(*RenderChain)

// WithPreset activates p when the chain is created.
//
// Parameters:
//   - p: the loaded preset
//
// Returns:
//   - RenderChainBuilderOption: a function that applies the preset option
func WithPreset(p *preset.Preset) RenderChainBuilderOption {
	return func(c *RenderChain) {
		c.preset = p
	}
}

// WithHardSyncFrames bounds how many frames the GPU may run behind the CPU. Each frame inserts a
// fence and Frame blocks once more than frames fences are outstanding. Negative disables hard
// sync, which is the default.
//
// Parameters:
//   - frames: the in-flight limit
//
// Returns:
//   - RenderChainBuilderOption: a function that applies the hard sync option
func WithHardSyncFrames(frames int) RenderChainBuilderOption {
	return func(c *RenderChain) {
		c.hardSyncFrames = frames
	}
}

// WithReadbackDepth sets the number of readback transfer buffers.
func WithReadbackDepth(depth int) RenderChainBuilderOption {
	return func(c *RenderChain) {
		c.readbackDepth = depth
	}
}

// WithReadbackWorkers sets how many workers normalize large readouts.
func WithReadbackWorkers(workers int) RenderChainBuilderOption {
	return func(c *RenderChain) {
		c.readbackWorkers = workers
	}
}

// WithMaxPasses sets the largest preset the chain accepts.
func WithMaxPasses(n int) RenderChainBuilderOption {
	return func(c *RenderChain) {
		c.maxPasses = n
	}
}

// WithSourceMax sets the largest frame size the core may produce. Input-scaled passes size
// their framebuffers from it so that frame size changes within the limit do not reallocate.
//
// Parameters:
//   - width: the maximum frame width
//   - height: the maximum frame height
//
// Returns:
//   - RenderChainBuilderOption: a function that applies the source maximum option
func WithSourceMax(width, height int) RenderChainBuilderOption {
	return func(c *RenderChain) {
		c.srcMaxW = width
		c.srcMaxH = height
	}
}
