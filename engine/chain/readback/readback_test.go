package readback

import (
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-chain/common"
	"github.com/Carmen-Shannon/oxy-chain/engine/renderer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pattern returns a tightly packed RGBA image where every pixel is unique.
func pattern(width, height int) []byte {
	pix := make([]byte, width*height*4)
	for i := 0; i < width*height; i++ {
		pix[i*4] = byte(i)
		pix[i*4+1] = byte(i >> 8)
		pix[i*4+2] = byte(i * 7)
		pix[i*4+3] = 0xff
	}
	return pix
}

// present draws pix onto the backbuffer of backend.
func present(t *testing.T, backend *renderer.SoftwareBackend, pix []byte, width, height int) {
	t.Helper()
	tex, err := backend.CreateTexture(renderer.TextureDescriptor{Label: "frame", Width: width, Height: height})
	require.NoError(t, err)
	defer backend.DestroyTexture(tex)

	require.NoError(t, backend.BeginFrame(width, height))
	require.NoError(t, backend.UploadTexture(tex, &renderer.Frame{Data: pix, Width: width, Height: height}))
	require.NoError(t, backend.DrawPass(renderer.PassCommand{
		Target: renderer.Backbuffer,
		Source: renderer.TextureInput{Texture: tex, Width: width, Height: height},
	}))
	require.NoError(t, backend.EndFrame())
}

func TestRequestCopyNeverStalls(t *testing.T) {
	backend := renderer.NewSoftwareBackend()
	backend.SetAutoComplete(false)
	ring := NewRing(renderer.NewVideoContext(backend), WithDepth(4))
	present(t, backend, pattern(4, 4), 4, 4)

	full := common.Rect{Width: 4, Height: 4}
	for i := 0; i < 3; i++ {
		ok, err := ring.RequestCopy(renderer.Backbuffer, full)
		require.NoError(t, err)
		assert.True(t, ok, "request %d accepted before any completion", i)
		ring.Advance()
	}

	ok, err := ring.RequestCopy(renderer.Backbuffer, full)
	require.NoError(t, err)
	assert.False(t, ok, "full ring skips instead of waiting")

	_, ok, err = ring.TryConsume()
	require.NoError(t, err)
	assert.False(t, ok, "not ready is not an error")

	stats := ring.Stats()
	assert.Equal(t, uint64(4), stats.Requested)
	assert.Equal(t, uint64(3), stats.Accepted)
	assert.Equal(t, uint64(1), stats.Skipped)
	assert.Equal(t, uint64(1), stats.NotReady)
	assert.Equal(t, 3, stats.InFlight)
}

func TestTryConsumeInOrder(t *testing.T) {
	backend := renderer.NewSoftwareBackend()
	backend.SetAutoComplete(false)
	ring := NewRing(renderer.NewVideoContext(backend), WithDepth(3))
	present(t, backend, pattern(2, 2), 2, 2)

	full := common.Rect{Width: 2, Height: 2}
	for range 2 {
		ok, err := ring.RequestCopy(renderer.Backbuffer, full)
		require.NoError(t, err)
		require.True(t, ok)
		ring.Advance()
	}

	backend.CompleteTransfers(1)
	first, ok, err := ring.TryConsume()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(0), first.Frame)

	_, ok, err = ring.TryConsume()
	require.NoError(t, err)
	assert.False(t, ok)

	backend.CompleteTransfers(1)
	second, ok, err := ring.TryConsume()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), second.Frame)
	assert.Zero(t, ring.InFlight())

	// A slot freed by consumption is reused.
	ok, err = ring.RequestCopy(renderer.Backbuffer, full)
	require.NoError(t, err)
	assert.True(t, ok)
	_, _, _, transfers, _ := backend.Counts()
	assert.Equal(t, 3, transfers)
}

func TestNormalizedLayout(t *testing.T) {
	tests := []struct {
		name   string
		layout renderer.PixelLayout
	}{
		{name: "bottom-up BGRA aligned", layout: renderer.PixelLayout{BottomUp: true, Channels: renderer.ChannelsBGRA, RowAlignment: 8}},
		{name: "top-down RGBA 256", layout: renderer.PixelLayout{Channels: renderer.ChannelsRGBA, RowAlignment: 256}},
		{name: "bottom-up RGBA packed", layout: renderer.PixelLayout{BottomUp: true}},
	}

	const w, h = 3, 5
	want := pattern(w, h)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := renderer.NewSoftwareBackend(renderer.WithPixelLayout(tt.layout))
			ring := NewRing(renderer.NewVideoContext(backend))
			present(t, backend, want, w, h)

			ok, err := ring.RequestCopy(renderer.Backbuffer, common.Rect{Width: w, Height: h})
			require.NoError(t, err)
			require.True(t, ok)
			out, ok, err := ring.TryConsume()
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, want, out.Data)
			assert.Equal(t, w, out.Width)
			assert.Equal(t, h, out.Height)

			sync, err := ring.ReadSync(renderer.Backbuffer, common.Rect{Width: w, Height: h})
			require.NoError(t, err)
			assert.Equal(t, want, sync.Data)
		})
	}
}

func TestNormalizeBanded(t *testing.T) {
	const w, h = 300, 301
	want := pattern(w, h)
	backend := renderer.NewSoftwareBackend()
	present(t, backend, want, w, h)

	banded := NewRing(renderer.NewVideoContext(backend), WithWorkers(4))
	inline := NewRing(renderer.NewVideoContext(backend), WithWorkers(1))

	a, err := banded.ReadSync(renderer.Backbuffer, common.Rect{Width: w, Height: h})
	require.NoError(t, err)
	b, err := inline.ReadSync(renderer.Backbuffer, common.Rect{Width: w, Height: h})
	require.NoError(t, err)
	assert.Equal(t, want, a.Data)
	assert.Equal(t, a.Data, b.Data)
	assert.Equal(t, 2, backend.SyncReads())
}

func TestSubRect(t *testing.T) {
	const w, h = 4, 4
	pix := pattern(w, h)
	backend := renderer.NewSoftwareBackend()
	ring := NewRing(renderer.NewVideoContext(backend))
	present(t, backend, pix, w, h)

	out, err := ring.ReadSync(renderer.Backbuffer, common.Rect{X: 1, Y: 2, Width: 2, Height: 1})
	require.NoError(t, err)
	start := (2*w + 1) * 4
	assert.Equal(t, pix[start:start+8], out.Data)
}

func TestAsyncUnsupported(t *testing.T) {
	backend := renderer.NewSoftwareBackend(renderer.WithLimits(renderer.Limits{MaxTextureSize: 4096, Fences: true}))
	vctx := renderer.NewVideoContext(backend)
	ring := NewRing(vctx)
	present(t, backend, pattern(2, 2), 2, 2)

	ok, err := ring.RequestCopy(renderer.Backbuffer, common.Rect{Width: 2, Height: 2})
	assert.False(t, ok)
	assert.ErrorIs(t, err, renderer.ErrCapabilityUnsupported)
	assert.True(t, vctx.Warned(WarnAsyncReadback))

	_, err = ring.ReadSync(renderer.Backbuffer, common.Rect{Width: 2, Height: 2})
	assert.NoError(t, err, "sync fallback still works")
}

func TestResetFreesBuffers(t *testing.T) {
	backend := renderer.NewSoftwareBackend()
	backend.SetAutoComplete(false)
	ring := NewRing(renderer.NewVideoContext(backend))
	present(t, backend, pattern(2, 2), 2, 2)

	for range 2 {
		_, err := ring.RequestCopy(renderer.Backbuffer, common.Rect{Width: 2, Height: 2})
		require.NoError(t, err)
	}
	ring.Reset()

	_, _, _, transfers, _ := backend.Counts()
	assert.Zero(t, transfers)
	assert.Zero(t, ring.InFlight())
	assert.Equal(t, Stats{}, ring.Stats())

	_, ok, err := ring.TryConsume()
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestEmptyRect(t *testing.T) {
	ring := NewRing(renderer.NewVideoContext(renderer.NewSoftwareBackend()))
	_, err := ring.RequestCopy(renderer.Backbuffer, common.Rect{})
	assert.Error(t, err)
	_, err = ring.ReadSync(renderer.Backbuffer, common.Rect{Width: 1})
	assert.Error(t, err)
}

func TestCloseStopsWorkers(t *testing.T) {
	const w, h = 300, 301
	want := pattern(w, h)
	backend := renderer.NewSoftwareBackend()
	present(t, backend, want, w, h)

	ring := NewRing(renderer.NewVideoContext(backend), WithWorkers(4))
	_, err := ring.RequestCopy(renderer.Backbuffer, common.Rect{Width: w, Height: h})
	require.NoError(t, err)

	ring.Close()
	assert.True(t, ring.closed)
	_, _, _, transfers, _ := backend.Counts()
	assert.Zero(t, transfers)

	assert.NotPanics(t, ring.Close, "second close is a no-op")

	done := make(chan Readout, 1)
	go func() {
		out, err := ring.ReadSync(renderer.Backbuffer, common.Rect{Width: w, Height: h})
		assert.NoError(t, err)
		done <- out
	}()
	select {
	case out := <-done:
		assert.Equal(t, want, out.Data, "large frames convert inline once the workers are gone")
	case <-time.After(5 * time.Second):
		t.Fatal("conversion blocked on a stopped worker pool")
	}
}
