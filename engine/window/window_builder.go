package window

// WindowBuilderOption is a functional option for configuring a Window.
// Use the With* functions to create options that are applied directly to the window instance.
type WindowBuilderOption func(*engineWindow)

// WithTitle sets the title bar text.
//
// Parameters:
//   - title: the window title
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithTitle(title string) WindowBuilderOption {
	return func(w *engineWindow) {
		w.title = title
	}
}

// WithSize sets the initial client area size in screen coordinates.
// The framebuffer may be larger on high-DPI displays.
//
// Parameters:
//   - width: initial width
//   - height: initial height
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithSize(width, height int) WindowBuilderOption {
	return func(w *engineWindow) {
		w.width = width
		w.height = height
	}
}

// WithBaseSize sizes the window to scale times a core's base geometry, the usual way an
// emulator window opens at 2x or 3x. The minimum size becomes one base multiple.
//
// Parameters:
//   - baseWidth: the core's nominal width
//   - baseHeight: the core's nominal height
//   - scale: the integer multiple, values below 1 are treated as 1
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithBaseSize(baseWidth, baseHeight, scale int) WindowBuilderOption {
	return func(w *engineWindow) {
		scale = max(scale, 1)
		w.width = baseWidth * scale
		w.height = baseHeight * scale
		w.minWidth = baseWidth
		w.minHeight = baseHeight
	}
}

// WithSizeLimits bounds interactive resizing. Zero leaves a bound at its default.
func WithSizeLimits(minWidth, minHeight, maxWidth, maxHeight int) WindowBuilderOption {
	return func(w *engineWindow) {
		if minWidth > 0 {
			w.minWidth = minWidth
		}
		if minHeight > 0 {
			w.minHeight = minHeight
		}
		if maxWidth > 0 {
			w.maxWidth = maxWidth
		}
		if maxHeight > 0 {
			w.maxHeight = maxHeight
		}
	}
}

// WithClientAPI selects the graphics API the window is created for. Defaults to ClientAPIWebGPU.
//
// Parameters:
//   - api: the client API
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithClientAPI(api ClientAPI) WindowBuilderOption {
	return func(w *engineWindow) {
		w.clientAPI = api
	}
}

// WithHWContext creates a hidden GL context sharing objects with the presentation context,
// for cores that render with their own GL calls. Requires ClientAPIOpenGL.
func WithHWContext(enabled bool) WindowBuilderOption {
	return func(w *engineWindow) {
		w.hwContext = enabled
	}
}
