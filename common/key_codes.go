package common

// Virtual key codes for the frontend hotkeys.
// These values match GLFW key codes.
// Reference: https://pkg.go.dev/github.com/go-gl/glfw/v3.3/glfw#Key
const (
	KeyEscape = 256 // Escape key, closes the window
	KeyF8     = 297 // F8, takes a screenshot
	KeyF9     = 298 // F9, toggles continuous capture
	KeyF10    = 299 // F10, reloads the active shader preset
)
