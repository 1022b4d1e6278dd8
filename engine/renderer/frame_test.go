package renderer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameToRGBA(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		want  []byte
	}{
		{
			name:  "rgba8888 passthrough",
			frame: Frame{Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}, Width: 2, Height: 1, Format: PixelFormatRGBA8888},
			want:  []byte{1, 2, 3, 4, 5, 6, 7, 8},
		},
		{
			name:  "xrgb8888 swizzle",
			frame: Frame{Data: []byte{0x30, 0x20, 0x10, 0x00}, Width: 1, Height: 1, Format: PixelFormatXRGB8888},
			want:  []byte{0x10, 0x20, 0x30, 0xff},
		},
		{
			name:  "rgb565 white",
			frame: Frame{Data: []byte{0xff, 0xff}, Width: 1, Height: 1, Format: PixelFormatRGB565},
			want:  []byte{0xff, 0xff, 0xff, 0xff},
		},
		{
			name:  "rgb565 pure red",
			frame: Frame{Data: []byte{0x00, 0xf8}, Width: 1, Height: 1, Format: PixelFormatRGB565},
			want:  []byte{0xff, 0x00, 0x00, 0xff},
		},
		{
			name:  "0rgb1555 pure green",
			frame: Frame{Data: []byte{0xe0, 0x03}, Width: 1, Height: 1, Format: PixelFormat0RGB1555},
			want:  []byte{0x00, 0xff, 0x00, 0xff},
		},
		{
			name: "pitch padding is skipped",
			frame: Frame{
				Data:   []byte{1, 1, 1, 1, 9, 9, 9, 9, 2, 2, 2, 2},
				Width:  1,
				Height: 2,
				Pitch:  8,
				Format: PixelFormatRGBA8888,
			},
			want: []byte{1, 1, 1, 1, 2, 2, 2, 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.frame.ToRGBA()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFrameValidate(t *testing.T) {
	assert.Error(t, (&Frame{Width: 0, Height: 1}).Validate())
	assert.Error(t, (&Frame{Data: make([]byte, 7), Width: 2, Height: 1}).Validate())
	assert.Error(t, (&Frame{Data: make([]byte, 64), Width: 4, Height: 1, Pitch: 8}).Validate())
	assert.NoError(t, (&Frame{Data: make([]byte, 4), Width: 2, Height: 1, Format: PixelFormatRGB565}).Validate())
}
