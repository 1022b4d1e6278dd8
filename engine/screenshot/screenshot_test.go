package screenshot

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-chain/engine/chain/readback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func testReadout() readback.Readout {
	return readback.Readout{
		Data: []byte{
			255, 0, 0, 0, 0, 255, 0, 128,
			0, 0, 255, 255, 10, 20, 30, 0,
		},
		Width:  2,
		Height: 2,
	}
}

func TestFormatFromPath(t *testing.T) {
	f, err := FormatFromPath("shot.PNG")
	require.NoError(t, err)
	assert.Equal(t, FormatPNG, f)

	f, err = FormatFromPath(filepath.Join("a", "b.bmp"))
	require.NoError(t, err)
	assert.Equal(t, FormatBMP, f)

	_, err = FormatFromPath("shot.jpg")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestImageIsOpaqueCopy(t *testing.T) {
	r := testReadout()
	img, err := Image(r)
	require.NoError(t, err)

	assert.Equal(t, 2, img.Bounds().Dx())
	c := img.NRGBAAt(1, 1)
	assert.Equal(t, [4]uint8{10, 20, 30, 255}, [4]uint8{c.R, c.G, c.B, c.A})
	assert.Equal(t, byte(0), r.Data[3], "source readout must not be modified")
}

func TestImageRejectsShortData(t *testing.T) {
	_, err := Image(readback.Readout{Data: make([]byte, 4), Width: 2, Height: 2})
	assert.Error(t, err)

	_, err = Image(readback.Readout{})
	assert.Error(t, err)
}

func TestEncodeDecodes(t *testing.T) {
	for _, f := range []Format{FormatPNG, FormatBMP} {
		t.Run(f.String(), func(t *testing.T) {
			buf := &bytes.Buffer{}
			require.NoError(t, Encode(buf, testReadout(), f))

			decode := png.Decode
			if f == FormatBMP {
				decode = bmp.Decode
			}
			img, err := decode(buf)
			require.NoError(t, err)
			r, g, b, _ := img.At(0, 1).RGBA()
			assert.Equal(t, [3]uint32{0, 0, 0xffff}, [3]uint32{r, g, b})
			r, g, b, _ = img.At(1, 0).RGBA()
			assert.Equal(t, [3]uint32{0, 0xffff, 0}, [3]uint32{r, g, b})
		})
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, Name("oxy", time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC), FormatPNG))
	assert.Equal(t, "oxy-20260102-150405.000.png", filepath.Base(path))

	require.NoError(t, Save(path, testReadout()))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	assert.ErrorIs(t, Save(filepath.Join(dir, "x.gif"), testReadout()), ErrUnknownFormat)
}

func TestRecorder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "capture")
	rec, err := NewRecorder(dir, FormatBMP)
	require.NoError(t, err)

	for range 3 {
		_, err := rec.Write(testReadout())
		require.NoError(t, err)
	}
	assert.Equal(t, 3, rec.Count())
	_, err = os.Stat(filepath.Join(dir, "frame_000002.bmp"))
	assert.NoError(t, err)
}
