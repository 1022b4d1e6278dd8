package renderer

import (
	"context"
	"testing"

	"github.com/Carmen-Shannon/oxy-chain/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBackendSoftware(t *testing.T) {
	b, err := NewBackend(BackendTypeSoftware, WithLimits(Limits{MaxTextureSize: 64}))
	require.NoError(t, err)
	assert.Equal(t, BackendTypeSoftware, b.Type())
	assert.Equal(t, 64, b.Limits().MaxTextureSize)

	_, err = NewBackend(BackendType(42))
	assert.ErrorIs(t, err, ErrCapabilityUnsupported)
}

func TestSoftwareCreateTextureLimit(t *testing.T) {
	b := NewSoftwareBackend(WithLimits(Limits{MaxTextureSize: 16}))

	_, err := b.CreateTexture(TextureDescriptor{Width: 16, Height: 16})
	require.NoError(t, err)

	_, err = b.CreateTexture(TextureDescriptor{Width: 17, Height: 1})
	assert.ErrorIs(t, err, ErrResourceExhausted)

	_, err = b.CreateTexture(TextureDescriptor{Width: 4, Height: 4, Format: TextureFormatRGBA16F, RenderTarget: true})
	assert.ErrorIs(t, err, ErrCapabilityUnsupported)
}

func TestSoftwareReadbackLayout(t *testing.T) {
	b := NewSoftwareBackend(WithPixelLayout(PixelLayout{BottomUp: true, Channels: ChannelsBGRA, RowAlignment: 16}))
	tex, err := b.CreateTexture(TextureDescriptor{Width: 2, Height: 2, RenderTarget: true})
	require.NoError(t, err)
	fb, err := b.CreateFramebuffer(tex)
	require.NoError(t, err)

	require.NoError(t, b.UploadTexture(tex, &Frame{
		Data:   []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		Width:  2,
		Height: 2,
	}))

	data, err := b.ReadPixels(fb, common.Rect{Width: 2, Height: 2})
	require.NoError(t, err)
	require.Len(t, data, 32)
	assert.Equal(t, []byte{11, 10, 9, 12, 15, 14, 13, 16}, data[:8], "bottom row first, BGRA")
	assert.Equal(t, []byte{3, 2, 1, 4, 7, 6, 5, 8}, data[16:24])
	assert.Equal(t, 1, b.SyncReads())
}

func TestSoftwareTransferCompletion(t *testing.T) {
	b := NewSoftwareBackend()
	b.SetAutoComplete(false)
	require.NoError(t, b.BeginFrame(4, 4))
	require.NoError(t, b.Clear(Backbuffer, [4]float32{1, 0, 0, 1}))
	require.NoError(t, b.EndFrame())

	buf, err := b.CreateTransferBuffer(b.PixelLayout().Pitch(4) * 4)
	require.NoError(t, err)

	_, _, err = b.MapTransferBuffer(buf)
	assert.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, b.CopyToTransferBuffer(buf, Backbuffer, common.Rect{Width: 4, Height: 4}))
	_, ready, err := b.MapTransferBuffer(buf)
	require.NoError(t, err)
	assert.False(t, ready)

	b.CompleteTransfers(1)
	data, ready, err := b.MapTransferBuffer(buf)
	require.NoError(t, err)
	require.True(t, ready)
	assert.Equal(t, []byte{0, 0, 255, 255}, data[:4])

	b.UnmapTransferBuffer(buf)
	require.NoError(t, b.CopyToTransferBuffer(buf, Backbuffer, common.Rect{Width: 4, Height: 4}))
}

func TestSoftwareFenceOrdering(t *testing.T) {
	b := NewSoftwareBackend()
	b.SetAutoComplete(false)

	f1, err := b.InsertFence()
	require.NoError(t, err)
	f2, err := b.InsertFence()
	require.NoError(t, err)
	f3, err := b.InsertFence()
	require.NoError(t, err)
	assert.False(t, b.FenceSignaled(f1))

	require.NoError(t, b.WaitFence(context.Background(), f2))
	assert.True(t, b.FenceSignaled(f1))
	assert.True(t, b.FenceSignaled(f2))
	assert.False(t, b.FenceSignaled(f3))
	assert.Equal(t, []FenceHandle{f2}, b.WaitedFences())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.WaitFence(ctx, f3), context.Canceled)
}

func TestSoftwareDrawPassScales(t *testing.T) {
	b := NewSoftwareBackend()
	src, err := b.CreateTexture(TextureDescriptor{Width: 4, Height: 4})
	require.NoError(t, err)
	require.NoError(t, b.UploadTexture(src, &Frame{
		Data:   []byte{10, 10, 10, 255, 20, 20, 20, 255},
		Width:  2,
		Height: 1,
	}))

	require.NoError(t, b.BeginFrame(4, 2))
	require.NoError(t, b.DrawPass(PassCommand{
		Index:  0,
		Target: Backbuffer,
		Source: TextureInput{Texture: src, Width: 2, Height: 1, TextureWidth: 4, TextureHeight: 4},
	}))
	require.NoError(t, b.EndFrame())

	pix, w, h := b.BackbufferPixels()
	require.Equal(t, 4, w)
	require.Equal(t, 2, h)
	assert.Equal(t, byte(10), pix[0])
	assert.Equal(t, byte(10), pix[4])
	assert.Equal(t, byte(20), pix[8])
	assert.Equal(t, byte(20), pix[(1*4+3)*4])

	draws := b.Draws()
	require.Len(t, draws, 1)
	assert.Equal(t, uint64(1), draws[0].Frame)
	assert.NotZero(t, draws[0].OutputDigest)
}

func TestSoftwareDrawOutsideFrame(t *testing.T) {
	b := NewSoftwareBackend()
	assert.ErrorIs(t, b.DrawPass(PassCommand{}), ErrNoFrame)
	assert.ErrorIs(t, b.EndFrame(), ErrNoFrame)
}
