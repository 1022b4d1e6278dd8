package renderer

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

type backendConfig struct {
	surfaceDescriptor    *wgpu.SurfaceDescriptor
	surfaceWidth         int
	surfaceHeight        int
	presentMode          PresentMode
	forceFallbackAdapter bool

	limits *Limits
	layout *PixelLayout
}

// BackendBuilderOption is a functional option applied to a backend during construction via NewBackend.
type BackendBuilderOption func(*backendConfig)

// WithSurface attaches the backend to a presentation surface of the given initial size.
// Without a surface the WebGPU backend renders offscreen and Present is a no-op.
//
// Parameters:
//   - descriptor: the platform-specific surface descriptor, typically from Window.SurfaceDescriptor()
//   - width: initial surface width in pixels
//   - height: initial surface height in pixels
//
// Returns:
//   - BackendBuilderOption: a function that applies the surface option
func WithSurface(descriptor *wgpu.SurfaceDescriptor, width, height int) BackendBuilderOption {
	return func(c *backendConfig) {
		c.surfaceDescriptor = descriptor
		c.surfaceWidth = width
		c.surfaceHeight = height
	}
}

// WithPresentMode sets the surface present mode which controls how frames are delivered to the display.
//
// Parameters:
//   - mode: the PresentMode to use (VSync or Uncapped)
//
// Returns:
//   - BackendBuilderOption: a function that applies the present mode option
func WithPresentMode(mode PresentMode) BackendBuilderOption {
	return func(c *backendConfig) {
		c.presentMode = mode
	}
}

// WithForceFallbackAdapter forces WGPU to use a CPU/software fallback adapter instead of
// hardware GPU acceleration. This requires a software Vulkan ICD to be installed on the system
// (e.g. SwiftShader or lavapipe).
//
// Parameters:
//   - force: true to force the fallback adapter
//
// Returns:
//   - BackendBuilderOption: a function that applies the fallback adapter option
func WithForceFallbackAdapter(force bool) BackendBuilderOption {
	return func(c *backendConfig) {
		c.forceFallbackAdapter = force
	}
}

// WithLimits overrides the reported device capabilities. The software backend adopts them
// as-is. The WebGPU backend only narrows what the adapter reports: MaxTextureSize is
// lowered to the given value when positive and capability flags are AND-ed.
//
// Parameters:
//   - limits: the capability set
//
// Returns:
//   - BackendBuilderOption: a function that applies the limits option
func WithLimits(limits Limits) BackendBuilderOption {
	return func(c *backendConfig) {
		c.limits = &limits
	}
}

// WithPixelLayout sets the readback pixel layout emitted by the software backend.
// The WebGPU backend ignores it.
func WithPixelLayout(layout PixelLayout) BackendBuilderOption {
	return func(c *backendConfig) {
		c.layout = &layout
	}
}

// NewBackend creates the backend selected by backendType.
//
// Parameters:
//   - backendType: which implementation to create
//   - options: variadic list of BackendBuilderOption functions
//
// Returns:
//   - Backend: the new backend
//   - error: an error if the device could not be initialized
func NewBackend(backendType BackendType, options ...BackendBuilderOption) (Backend, error) {
	cfg := &backendConfig{presentMode: PresentModeVSync}
	for _, opt := range options {
		opt(cfg)
	}

	switch backendType {
	case BackendTypeWGPU:
		return newWGPURendererBackend(cfg)
	case BackendTypeSoftware:
		return newSoftwareBackend(cfg), nil
	default:
		return nil, fmt.Errorf("backend %s: %w", backendType, ErrCapabilityUnsupported)
	}
}
