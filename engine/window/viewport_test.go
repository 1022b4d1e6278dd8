package window

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-chain/common"
	"github.com/stretchr/testify/assert"
)

func TestFitViewport(t *testing.T) {
	tests := []struct {
		name   string
		mode   ScaleMode
		fbW    int
		fbH    int
		baseW  int
		baseH  int
		aspect float32
		want   common.Rect
	}{
		{name: "stretch", mode: ScaleStretch, fbW: 1920, fbH: 1080, baseW: 320, baseH: 240, want: common.Rect{Width: 1920, Height: 1080}},
		{name: "aspect pillarbox", mode: ScaleAspect, fbW: 1920, fbH: 1080, baseW: 320, baseH: 240, want: common.Rect{X: 240, Width: 1440, Height: 1080}},
		{name: "aspect letterbox", mode: ScaleAspect, fbW: 1000, fbH: 1000, baseW: 320, baseH: 240, aspect: 2, want: common.Rect{Y: 250, Width: 1000, Height: 500}},
		{name: "aspect exact", mode: ScaleAspect, fbW: 640, fbH: 480, baseW: 320, baseH: 240, want: common.Rect{Width: 640, Height: 480}},
		{name: "integer", mode: ScaleInteger, fbW: 1920, fbH: 1080, baseW: 320, baseH: 240, want: common.Rect{X: 480, Y: 180, Width: 960, Height: 720}},
		{name: "integer too small falls back to aspect", mode: ScaleInteger, fbW: 300, fbH: 200, baseW: 320, baseH: 240, want: common.Rect{X: 17, Width: 267, Height: 200}},
		{name: "unknown base", mode: ScaleAspect, fbW: 800, fbH: 600, want: common.Rect{Width: 800, Height: 600}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FitViewport(tt.mode, tt.fbW, tt.fbH, tt.baseW, tt.baseH, tt.aspect)
			assert.Equal(t, tt.want, got)
		})
	}
}
