package renderer

import (
	"encoding/binary"
	"fmt"
)

// PixelFormat is the memory layout of a software-rendered core frame.
type PixelFormat int

const (
	// PixelFormatRGBA8888 is 4 bytes per pixel in R, G, B, A order.
	PixelFormatRGBA8888 PixelFormat = iota

	// PixelFormatXRGB8888 is a little-endian 32-bit word per pixel: bytes B, G, R, X.
	PixelFormatXRGB8888

	// PixelFormatRGB565 is a little-endian 16-bit word per pixel with 5-6-5 bits.
	PixelFormatRGB565

	// PixelFormat0RGB1555 is a little-endian 16-bit word per pixel with 1-5-5-5 bits, top bit unused.
	PixelFormat0RGB1555
)

// BytesPerPixel returns the pixel size of the format.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case PixelFormatRGB565, PixelFormat0RGB1555:
		return 2
	default:
		return 4
	}
}

// String returns a human-readable name for the format.
func (f PixelFormat) String() string {
	switch f {
	case PixelFormatRGBA8888:
		return "RGBA8888"
	case PixelFormatXRGB8888:
		return "XRGB8888"
	case PixelFormatRGB565:
		return "RGB565"
	case PixelFormat0RGB1555:
		return "0RGB1555"
	default:
		return fmt.Sprintf("PixelFormat(%d)", int(f))
	}
}

// Frame is one software-rendered video frame handed over by the emulator core.
type Frame struct {
	Data   []byte
	Width  int
	Height int

	// Pitch is the number of bytes between the starts of two rows. Zero means tightly packed.
	Pitch int

	Format PixelFormat
}

// Validate checks that Data is large enough for the declared geometry.
func (f *Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("frame size %dx%d is empty", f.Width, f.Height)
	}
	pitch := f.pitch()
	if pitch < f.Width*f.Format.BytesPerPixel() {
		return fmt.Errorf("frame pitch %d is shorter than a row of %d %s pixels", pitch, f.Width, f.Format)
	}
	need := pitch*(f.Height-1) + f.Width*f.Format.BytesPerPixel()
	if len(f.Data) < need {
		return fmt.Errorf("frame data is %d bytes, need %d", len(f.Data), need)
	}
	return nil
}

func (f *Frame) pitch() int {
	if f.Pitch > 0 {
		return f.Pitch
	}
	return f.Width * f.Format.BytesPerPixel()
}

// ToRGBA converts the frame to tightly packed top-down RGBA8. Frames already in that
// layout are returned without copying.
//
// Returns:
//   - []byte: Width*Height*4 bytes of RGBA pixels
//   - error: an error if the frame is malformed
func (f *Frame) ToRGBA() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	pitch := f.pitch()
	if f.Format == PixelFormatRGBA8888 && pitch == f.Width*4 {
		return f.Data[:f.Width*f.Height*4], nil
	}

	out := make([]byte, f.Width*f.Height*4)
	for y := 0; y < f.Height; y++ {
		row := f.Data[y*pitch:]
		dst := out[y*f.Width*4:]
		for x := 0; x < f.Width; x++ {
			d := dst[x*4 : x*4+4]
			switch f.Format {
			case PixelFormatRGBA8888:
				copy(d, row[x*4:x*4+4])
			case PixelFormatXRGB8888:
				d[0], d[1], d[2], d[3] = row[x*4+2], row[x*4+1], row[x*4], 0xff
			case PixelFormatRGB565:
				p := binary.LittleEndian.Uint16(row[x*2:])
				d[0] = expand5(uint8(p >> 11))
				d[1] = expand6(uint8(p>>5) & 0x3f)
				d[2] = expand5(uint8(p) & 0x1f)
				d[3] = 0xff
			case PixelFormat0RGB1555:
				p := binary.LittleEndian.Uint16(row[x*2:])
				d[0] = expand5(uint8(p>>10) & 0x1f)
				d[1] = expand5(uint8(p>>5) & 0x1f)
				d[2] = expand5(uint8(p) & 0x1f)
				d[3] = 0xff
			default:
				return nil, fmt.Errorf("unsupported pixel format %s: %w", f.Format, ErrCapabilityUnsupported)
			}
		}
	}
	return out, nil
}

func expand5(v uint8) uint8 { return v<<3 | v>>2 }

func expand6(v uint8) uint8 { return v<<2 | v>>4 }
