package fbo

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-chain/engine/chain/geometry"
	"github.com/Carmen-Shannon/oxy-chain/engine/renderer"
	"github.com/Carmen-Shannon/oxy-chain/engine/renderer/pass"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPool(t *testing.T, n int, opts ...renderer.BackendBuilderOption) (*Pool, *renderer.SoftwareBackend, *renderer.VideoContext) {
	t.Helper()
	backend := renderer.NewSoftwareBackend(opts...)
	vctx := renderer.NewVideoContext(backend)
	return NewPool(vctx, n), backend, vctx
}

func geom(w, h, pad int) geometry.Geometry {
	return geometry.Geometry{Width: w, Height: h, MaxWidth: w, MaxHeight: h, PaddedWidth: pad, PaddedHeight: pad}
}

func TestEnsureRecreatesOnlyOnPaddedChange(t *testing.T) {
	p, backend, _ := newPool(t, 1)
	d := pass.NewDescriptor(0)

	r1, err := p.Ensure(0, d, geom(640, 480, 1024))
	require.NoError(t, err)
	require.True(t, r1.Valid())

	r2, err := p.Ensure(0, d, geom(600, 400, 1024))
	require.NoError(t, err)
	assert.Equal(t, r1.Texture, r2.Texture, "same padded size keeps the allocation")
	assert.Equal(t, 600, r2.Geometry.Width)

	r3, err := p.Ensure(0, d, geom(1280, 960, 2048))
	require.NoError(t, err)
	assert.NotEqual(t, r1.Texture, r3.Texture)

	desc, ok := backend.TextureDescriptor(r3.Texture)
	require.True(t, ok)
	assert.Equal(t, 2048, desc.Width)
	_, ok = backend.TextureDescriptor(r1.Texture)
	assert.False(t, ok, "old texture destroyed")

	textures, framebuffers, _, _, _ := backend.Counts()
	assert.Equal(t, 1, textures)
	assert.Equal(t, 1, framebuffers)
}

func TestEnsureFormatFallbackWarnsOnce(t *testing.T) {
	p, _, vctx := newPool(t, 2, renderer.WithLimits(renderer.Limits{MaxTextureSize: 4096}))
	d0 := pass.NewDescriptor(0, pass.WithFloatFramebuffer(true))
	d1 := pass.NewDescriptor(1, pass.WithFloatFramebuffer(true), pass.WithMipmap(true))

	r0, err := p.Ensure(0, d0, geom(64, 64, 64))
	require.NoError(t, err)
	assert.Equal(t, renderer.TextureFormatRGBA8, r0.Format)
	assert.True(t, vctx.Warned(WarnFloatFramebuffer))

	r1, err := p.Ensure(1, d1, geom(64, 64, 64))
	require.NoError(t, err)
	assert.Equal(t, renderer.TextureFormatRGBA8, r1.Format)
	assert.False(t, r1.Mipmap)
	assert.True(t, vctx.Warned(WarnMipmaps))
	assert.False(t, vctx.WarnOnce(WarnFloatFramebuffer, "again"), "already warned this session")
}

func TestEnsurePrefersSupportedFormats(t *testing.T) {
	p, _, _ := newPool(t, 2)
	r0, err := p.Ensure(0, pass.NewDescriptor(0, pass.WithFloatFramebuffer(true)), geom(8, 8, 8))
	require.NoError(t, err)
	assert.Equal(t, renderer.TextureFormatRGBA16F, r0.Format)

	r1, err := p.Ensure(1, pass.NewDescriptor(1, pass.WithSRGBFramebuffer(true)), geom(8, 8, 8))
	require.NoError(t, err)
	assert.Equal(t, renderer.TextureFormatRGBA8SRGB, r1.Format)
}

func TestEnsureIncomplete(t *testing.T) {
	p, backend, _ := newPool(t, 1)
	backend.FailFramebuffer(func(desc renderer.TextureDescriptor) bool { return desc.Width >= 2048 })

	_, err := p.Ensure(0, pass.NewDescriptor(0), geom(1920, 1080, 2048))
	require.ErrorIs(t, err, renderer.ErrFramebufferIncomplete)

	_, ok := p.Get(0)
	assert.False(t, ok)
	textures, framebuffers, _, _, _ := backend.Counts()
	assert.Zero(t, textures)
	assert.Zero(t, framebuffers)
}

func TestEnsureAllIncreasingOrder(t *testing.T) {
	p, _, _ := newPool(t, 3)
	descs := []pass.Descriptor{
		pass.NewDescriptor(0, pass.WithInputScale(2, 2)),
		pass.NewDescriptor(1),
		pass.NewDescriptor(2),
	}
	geoms := []geometry.Geometry{geom(640, 480, 1024), geom(640, 480, 1024), geom(1920, 1080, 1920)}

	require.NoError(t, p.EnsureAll(descs, geoms))
	r0, ok0 := p.Get(0)
	r1, ok1 := p.Get(1)
	_, ok2 := p.Get(2)
	require.True(t, ok0)
	require.True(t, ok1)
	assert.False(t, ok2, "unscaled final pass draws to the backbuffer")
	assert.Less(t, r0.Texture, r1.Texture)
}

func TestResizeAndDestroyAll(t *testing.T) {
	p, backend, _ := newPool(t, 3)
	for i := 0; i < 3; i++ {
		_, err := p.Ensure(i, pass.NewDescriptor(i), geom(16, 16, 16))
		require.NoError(t, err)
	}

	p.Resize(1)
	assert.Equal(t, 1, p.Len())
	textures, _, _, _, _ := backend.Counts()
	assert.Equal(t, 1, textures)

	p.Resize(4)
	assert.Equal(t, 4, p.Len())
	_, ok := p.Get(3)
	assert.False(t, ok)

	p.DestroyAll()
	textures, framebuffers, _, _, _ := backend.Counts()
	assert.Zero(t, textures)
	assert.Zero(t, framebuffers)
}

func TestExchange(t *testing.T) {
	p, _, _ := newPool(t, 1)
	r, err := p.Ensure(0, pass.NewDescriptor(0), geom(16, 16, 16))
	require.NoError(t, err)

	spare, err := p.Allocate("spare", geom(16, 16, 16), renderer.TextureFormatRGBA8, false)
	require.NoError(t, err)

	old := p.Exchange(0, spare)
	assert.Equal(t, r, old)
	live, ok := p.Get(0)
	require.True(t, ok)
	assert.Equal(t, spare.Texture, live.Texture)
}
