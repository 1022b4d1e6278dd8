package window

import (
	"github.com/Carmen-Shannon/oxy-chain/common"
	"github.com/chewxy/math32"
)

// ScaleMode controls how the chain output is fitted into the framebuffer.
type ScaleMode int

const (
	// ScaleStretch fills the whole framebuffer.
	ScaleStretch ScaleMode = iota

	// ScaleAspect keeps the aspect ratio and letterboxes the rest.
	ScaleAspect

	// ScaleInteger uses the largest whole multiple of the base size that fits, centered.
	ScaleInteger
)

// FitViewport returns the region of a fbWidth x fbHeight framebuffer the output is drawn into.
//
// Parameters:
//   - mode: the scaling mode
//   - fbWidth, fbHeight: the framebuffer size
//   - baseWidth, baseHeight: the core frame size, used by ScaleInteger
//   - aspect: the display aspect ratio (width/height); zero derives it from the base size
//
// Returns:
//   - common.Rect: the viewport, never empty for a non-empty framebuffer
func FitViewport(mode ScaleMode, fbWidth, fbHeight, baseWidth, baseHeight int, aspect float32) common.Rect {
	full := common.Rect{Width: fbWidth, Height: fbHeight}
	if fbWidth <= 0 || fbHeight <= 0 || baseWidth <= 0 || baseHeight <= 0 {
		return full
	}
	if aspect <= 0 {
		aspect = float32(baseWidth) / float32(baseHeight)
	}

	switch mode {
	case ScaleInteger:
		n := min(fbWidth/baseWidth, fbHeight/baseHeight)
		if n < 1 {
			return FitViewport(ScaleAspect, fbWidth, fbHeight, baseWidth, baseHeight, aspect)
		}
		w, h := baseWidth*n, baseHeight*n
		return common.Rect{X: (fbWidth - w) / 2, Y: (fbHeight - h) / 2, Width: w, Height: h}
	case ScaleAspect:
		fbAspect := float32(fbWidth) / float32(fbHeight)
		if math32.Abs(fbAspect-aspect) < 0.0001 {
			return full
		}
		if fbAspect > aspect {
			w := max(int(math32.Round(float32(fbHeight)*aspect)), 1)
			return common.Rect{X: (fbWidth - w) / 2, Width: w, Height: fbHeight}
		}
		h := max(int(math32.Round(float32(fbWidth)/aspect)), 1)
		return common.Rect{Y: (fbHeight - h) / 2, Width: fbWidth, Height: h}
	default:
		return full
	}
}
