// Package screenshot encodes readback frames to image files.
package screenshot

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Carmen-Shannon/oxy-chain/engine/chain/readback"
	"golang.org/x/image/bmp"
)

// ErrUnknownFormat is returned for file extensions no encoder is registered for.
var ErrUnknownFormat = errors.New("screenshot: unknown image format")

// Format selects the image encoding.
type Format int

const (
	FormatPNG Format = iota
	FormatBMP
)

// String returns the file extension of the format, without the dot.
func (f Format) String() string {
	switch f {
	case FormatPNG:
		return "png"
	case FormatBMP:
		return "bmp"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// FormatFromPath picks the format from a file extension.
//
// Parameters:
//   - path: the destination file path
//
// Returns:
//   - Format: the matching format
//   - error: ErrUnknownFormat if the extension is not recognized
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return FormatPNG, nil
	case ".bmp":
		return FormatBMP, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, filepath.Ext(path))
	}
}

// Image converts a readout to an opaque image. The readout data is copied.
//
// Parameters:
//   - r: a top-down RGBA8 readout
//
// Returns:
//   - *image.NRGBA: the frame
//   - error: an error if the readout is smaller than its declared size
func Image(r readback.Readout) (*image.NRGBA, error) {
	if r.Width <= 0 || r.Height <= 0 {
		return nil, fmt.Errorf("screenshot: empty readout %dx%d", r.Width, r.Height)
	}
	if len(r.Data) < r.Width*r.Height*4 {
		return nil, fmt.Errorf("screenshot: readout holds %d bytes, %dx%d needs %d",
			len(r.Data), r.Width, r.Height, r.Width*r.Height*4)
	}
	img := image.NewNRGBA(image.Rect(0, 0, r.Width, r.Height))
	copy(img.Pix, r.Data[:r.Width*r.Height*4])
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	return img, nil
}

// Encode writes r to w in format f.
func Encode(w io.Writer, r readback.Readout, f Format) error {
	img, err := Image(r)
	if err != nil {
		return err
	}
	switch f {
	case FormatPNG:
		err = png.Encode(w, img)
	case FormatBMP:
		err = bmp.Encode(w, img)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, f)
	}
	if err != nil {
		return fmt.Errorf("screenshot: encode %s: %w", f, err)
	}
	return nil
}

// Save writes r to path, choosing the encoding from the file extension.
//
// Parameters:
//   - path: the destination file
//   - r: the frame to write
//
// Returns:
//   - error: an error if the format is unknown or the file could not be written
func Save(path string, r readback.Readout) (err error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("screenshot: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("screenshot: %w", cerr)
		}
	}()
	return Encode(f, r, format)
}

// Name returns a timestamped file name for a screenshot, e.g. "oxy-20260102-150405.000.png".
func Name(prefix string, t time.Time, f Format) string {
	return fmt.Sprintf("%s-%s.%s", prefix, t.Format("20060102-150405.000"), f)
}
