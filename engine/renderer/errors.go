package renderer

import "errors"

// Error categories shared by every chain component. Components wrap these with
// fmt.Errorf("...: %w", err) so callers can branch with errors.Is.
var (
	// ErrResourceExhausted is returned when a request exceeds a device limit.
	// The chain degrades by clamping and keeps running.
	ErrResourceExhausted = errors.New("renderer: resource exhausted")

	// ErrFramebufferIncomplete is returned when the driver rejects a framebuffer attachment set.
	// The affected pass pipeline is disabled and the chain falls back to pass-through.
	ErrFramebufferIncomplete = errors.New("renderer: framebuffer incomplete")

	// ErrCapabilityUnsupported is returned when a requested capability is missing.
	// Callers substitute the nearest supported capability.
	ErrCapabilityUnsupported = errors.New("renderer: capability unsupported")

	// ErrContextViolation is returned when the hw-render and presentation contexts are misused.
	// It is fatal: the chain tears itself down and the video driver must be reinitialized.
	ErrContextViolation = errors.New("renderer: graphics context violation")

	// ErrInvalidHandle is returned when an unknown or released handle is used.
	ErrInvalidHandle = errors.New("renderer: invalid handle")

	// ErrNotReady is returned when a resource is queried before the GPU has produced it.
	ErrNotReady = errors.New("renderer: not ready")

	// ErrNoFrame is returned when a draw or copy is issued outside BeginFrame/EndFrame.
	ErrNoFrame = errors.New("renderer: no frame in progress")
)
