package window

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-chain/engine/renderer"
	"github.com/cogentcore/webgpu/wgpu"
)

// ClientAPI selects the graphics API the window is created for.
type ClientAPI int

const (
	// ClientAPIWebGPU creates a window without a GL context; the WebGPU backend renders into
	// a surface made from SurfaceDescriptor.
	ClientAPIWebGPU ClientAPI = iota

	// ClientAPIOpenGL creates a GL context for presentation plus a hidden shared context a
	// hardware-rendering core draws with.
	ClientAPIOpenGL
)

// Window provides platform windowing, input and graphics context switching.
// It implements renderer.ContextBinder.
type Window interface {
	// SetResizeCallback sets the function called when the framebuffer is resized.
	//
	// Parameters:
	//   - callback: function receiving new width and height in pixels
	SetResizeCallback(callback func(width, height int))

	// SetKeyDownCallback sets the callback for key press events.
	//
	// Parameters:
	//   - callback: function receiving the key code, see common.Key*
	SetKeyDownCallback(callback func(keyCode uint32))

	// Title returns the title given at creation.
	Title() string

	// SetTitle replaces the title bar text without changing Title. Safe to call from any
	// goroutine; the change is applied by the message loop.
	SetTitle(title string)

	// SurfaceDescriptor returns a wgpu.SurfaceDescriptor suitable for creating a WebGPU surface.
	// The descriptor is platform-appropriate (Windows HWND, X11 Xlib, Wayland, macOS Metal, etc.)
	// and is created by the wgpuglfw bridge from the underlying GLFW window.
	//
	// Returns:
	//   - *wgpu.SurfaceDescriptor: the platform-specific surface descriptor, or nil if window is not initialized
	SurfaceDescriptor() *wgpu.SurfaceDescriptor

	// MakeCurrent binds the hw-render context when hwRender is true and the presentation
	// context otherwise. WebGPU windows have no GL context and only track the request.
	//
	// Parameters:
	//   - hwRender: which context to bind
	//
	// Returns:
	//   - error: an error if the window has no hw-render context or is closed
	MakeCurrent(hwRender bool) error

	// FramebufferSize returns the drawable size in pixels.
	FramebufferSize() (width, height int)

	// IsRunning returns true if the window is still active.
	//
	// Returns:
	//   - bool: true if window is running, false if closed
	IsRunning() bool

	// RequestClose asks the message loop to return. Safe to call from any goroutine.
	RequestClose()

	// Close closes the window and releases platform resources. Call it from the thread
	// running ProcessMessages.
	//
	// Returns:
	//   - error: error if close operation fails
	Close() error

	// ProcessMessages runs the window message loop.
	// Blocks until the window is closed.
	ProcessMessages()
}

// engineWindow is the GLFW-backed Window.
type engineWindow struct {
	title string

	// Resize bounds in screen coordinates.
	minWidth, minHeight int
	maxWidth, maxHeight int

	// Current framebuffer size in pixels.
	width, height int

	// internalWindow is the *glfwWindow once spawned.
	internalWindow any

	pendingTitle   atomic.Pointer[string]
	closeRequested atomic.Bool

	onResize  func(width, height int)
	onKeyDown func(keyCode uint32)

	clientAPI ClientAPI

	// hwContext requests the hidden shared context for hardware-rendering cores (OpenGL only).
	hwContext bool
}

var (
	_ Window                 = &engineWindow{}
	_ renderer.ContextBinder = &engineWindow{}
)

// NewWindow creates a new Window with the specified options.
// Applies default values first, then each option in order.
//
// Parameters:
//   - options: functional options to configure the window
//
// Returns:
//   - Window: the configured window (not yet spawned)
func NewWindow(options ...WindowBuilderOption) Window {
	w := &engineWindow{
		title:     "oxy-chain",
		maxWidth:  7680,
		maxHeight: 4320,
		minWidth:  320,
		minHeight: 240,
		width:     1280,
		height:    960,
	}
	for _, opt := range options {
		opt(w)
	}
	if err := newPlatformWindow(w); err != nil {
		panic(fmt.Sprintf("failed to create platform window: %v", err))
	}
	return w
}

func (w *engineWindow) SetResizeCallback(callback func(width, height int)) {
	w.onResize = callback
}

func (w *engineWindow) SetKeyDownCallback(callback func(keyCode uint32)) {
	w.onKeyDown = callback
}

func (w *engineWindow) Title() string {
	return w.title
}

func (w *engineWindow) SetTitle(title string) {
	w.pendingTitle.Store(&title)
}

func (w *engineWindow) SurfaceDescriptor() *wgpu.SurfaceDescriptor {
	return platformGetSurfaceDescriptor(w)
}

func (w *engineWindow) MakeCurrent(hwRender bool) error {
	return platformMakeCurrent(w, hwRender)
}

func (w *engineWindow) FramebufferSize() (int, int) {
	return w.width, w.height
}

func (w *engineWindow) IsRunning() bool {
	return !w.closeRequested.Load() && platformIsRunningCheck(w)
}

func (w *engineWindow) RequestClose() {
	w.closeRequested.Store(true)
}

func (w *engineWindow) Close() error {
	return platformCloseWindow(w)
}

func (w *engineWindow) ProcessMessages() {
	for w.IsRunning() {
		if succ := platformProcessMessages(w); !succ {
			break
		}
		if title := w.pendingTitle.Swap(nil); title != nil {
			platformSetTitle(w, *title)
		}

		runtime.Gosched()
	}
}
