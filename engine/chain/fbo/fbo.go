// Package fbo owns the per-pass framebuffers of a render chain.
package fbo

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/Carmen-Shannon/oxy-chain/engine/chain/geometry"
	"github.com/Carmen-Shannon/oxy-chain/engine/renderer"
	"github.com/Carmen-Shannon/oxy-chain/engine/renderer/pass"
)

// Capability keys used for one-time fallback warnings.
const (
	WarnFloatFramebuffer = "float_framebuffer"
	WarnSRGBFramebuffer  = "srgb_framebuffer"
	WarnMipmaps          = "mipmaps"
)

// Resource is a framebuffer with its color texture.
type Resource struct {
	Framebuffer renderer.FramebufferHandle
	Texture     renderer.TextureHandle
	Geometry    geometry.Geometry
	Format      renderer.TextureFormat
	Mipmap      bool
}

// Valid reports whether the resource holds allocated handles.
func (r Resource) Valid() bool {
	return r.Framebuffer != 0 && r.Texture != 0
}

// Input describes the resource texture as a pass input.
func (r Resource) Input() renderer.TextureInput {
	return renderer.TextureInput{
		Texture:       r.Texture,
		Width:         r.Geometry.Width,
		Height:        r.Geometry.Height,
		TextureWidth:  r.Geometry.PaddedWidth,
		TextureHeight: r.Geometry.PaddedHeight,
	}
}

// Pool owns one Resource per pass index. It is not safe for concurrent use.
type Pool struct {
	vctx      *renderer.VideoContext
	resources []Resource
}

// NewPool creates a pool with n empty slots.
//
// Parameters:
//   - vctx: the shared video context
//   - n: the number of pass slots
//
// Returns:
//   - *Pool: the new pool
func NewPool(vctx *renderer.VideoContext, n int) *Pool {
	return &Pool{vctx: vctx, resources: make([]Resource, n)}
}

// Len returns the number of pass slots.
func (p *Pool) Len() int {
	return len(p.resources)
}

// Resize changes the number of pass slots, releasing resources of removed slots.
func (p *Pool) Resize(n int) {
	for i := n; i < len(p.resources); i++ {
		p.Release(p.resources[i])
	}
	if n <= len(p.resources) {
		p.resources = p.resources[:n]
		return
	}
	p.resources = append(p.resources, make([]Resource, n-len(p.resources))...)
}

// Get returns the resource at index and whether it is allocated.
func (p *Pool) Get(index int) (Resource, bool) {
	if index < 0 || index >= len(p.resources) {
		return Resource{}, false
	}
	r := p.resources[index]
	return r, r.Valid()
}

// ResolveFormat applies the format policy to a pass: float or sRGB targets are used only when
// requested and supported, otherwise RGBA8 with a one-time warning per missing capability.
//
// Parameters:
//   - d: the pass descriptor
//
// Returns:
//   - renderer.TextureFormat: the format to allocate
//   - bool: whether to generate mipmaps
func (p *Pool) ResolveFormat(d pass.Descriptor) (renderer.TextureFormat, bool) {
	limits := p.vctx.Limits()
	format := renderer.TextureFormatRGBA8
	switch {
	case d.FloatFramebuffer() && limits.FloatFramebuffer:
		format = renderer.TextureFormatRGBA16F
	case d.FloatFramebuffer():
		p.vctx.WarnOnce(WarnFloatFramebuffer, "float framebuffers unsupported, falling back to RGBA8",
			slog.Int("pass", d.Index()))
	case d.SRGBFramebuffer() && limits.SRGBFramebuffer:
		format = renderer.TextureFormatRGBA8SRGB
	case d.SRGBFramebuffer():
		p.vctx.WarnOnce(WarnSRGBFramebuffer, "sRGB framebuffers unsupported, falling back to RGBA8",
			slog.Int("pass", d.Index()))
	}

	mipmap := d.Mipmap()
	if mipmap && !limits.Mipmaps {
		p.vctx.WarnOnce(WarnMipmaps, "mipmapped pass outputs unsupported, sampling level 0",
			slog.Int("pass", d.Index()))
		mipmap = false
	}
	return format, mipmap
}

// Allocate creates a framebuffer and texture at g's padded size and verifies completeness.
// Rejection by the driver yields an error wrapping renderer.ErrFramebufferIncomplete and
// leaves nothing allocated.
//
// Parameters:
//   - label: debug label of the texture
//   - g: the pass geometry
//   - format: the texture format
//   - mipmap: whether the texture carries a mip chain
//
// Returns:
//   - Resource: the allocated resource
//   - error: an error if allocation failed
func (p *Pool) Allocate(label string, g geometry.Geometry, format renderer.TextureFormat, mipmap bool) (Resource, error) {
	backend := p.vctx.Backend()
	tex, err := backend.CreateTexture(renderer.TextureDescriptor{
		Label:        label,
		Width:        g.PaddedWidth,
		Height:       g.PaddedHeight,
		Format:       format,
		Mipmap:       mipmap,
		RenderTarget: true,
	})
	if err != nil {
		if errors.Is(err, renderer.ErrCapabilityUnsupported) {
			return Resource{}, fmt.Errorf("%s: %v: %w", label, err, renderer.ErrFramebufferIncomplete)
		}
		return Resource{}, fmt.Errorf("%s: %w", label, err)
	}
	fb, err := backend.CreateFramebuffer(tex)
	if err != nil {
		backend.DestroyTexture(tex)
		return Resource{}, fmt.Errorf("%s: %w", label, err)
	}
	if err := backend.CheckFramebuffer(fb); err != nil {
		backend.DestroyFramebuffer(fb)
		backend.DestroyTexture(tex)
		return Resource{}, fmt.Errorf("%s: %w", label, err)
	}

	p.vctx.Logger().Debug("framebuffer allocated",
		slog.String("label", label),
		slog.Int("padded_width", g.PaddedWidth),
		slog.Int("padded_height", g.PaddedHeight),
		slog.String("format", format.String()))
	return Resource{Framebuffer: fb, Texture: tex, Geometry: g, Format: format, Mipmap: mipmap}, nil
}

// Release destroys r's handles. Invalid resources are ignored.
func (p *Pool) Release(r Resource) {
	backend := p.vctx.Backend()
	if r.Framebuffer != 0 {
		backend.DestroyFramebuffer(r.Framebuffer)
	}
	if r.Texture != 0 {
		backend.DestroyTexture(r.Texture)
	}
}

// Ensure makes the resource at index match g. A resource is recreated, never resized in
// place, when missing or when its padded size or format differs; otherwise only its logical
// geometry is updated.
//
// Parameters:
//   - index: the pass index
//   - d: the pass descriptor, for the format policy
//   - g: the pass geometry
//
// Returns:
//   - Resource: the live resource
//   - error: an error wrapping renderer.ErrFramebufferIncomplete if the driver rejected it
func (p *Pool) Ensure(index int, d pass.Descriptor, g geometry.Geometry) (Resource, error) {
	if index < 0 || index >= len(p.resources) {
		return Resource{}, fmt.Errorf("pass %d outside pool of %d", index, len(p.resources))
	}
	format, mipmap := p.ResolveFormat(d)

	cur := p.resources[index]
	if cur.Valid() && cur.Format == format && cur.Mipmap == mipmap &&
		cur.Geometry.PaddedWidth == g.PaddedWidth && cur.Geometry.PaddedHeight == g.PaddedHeight {
		cur.Geometry = g
		p.resources[index] = cur
		return cur, nil
	}

	p.Release(cur)
	p.resources[index] = Resource{}
	r, err := p.Allocate(fmt.Sprintf("Pass %d", index), g, format, mipmap)
	if err != nil {
		return Resource{}, fmt.Errorf("pass %d: %w", index, err)
	}
	p.resources[index] = r
	return r, nil
}

// EnsureAll ensures every FBO-backed pass in increasing index order and stops at the first
// failure.
//
// Parameters:
//   - descs: the ordered pass descriptors
//   - geoms: one geometry per descriptor
//
// Returns:
//   - error: the first allocation error
func (p *Pool) EnsureAll(descs []pass.Descriptor, geoms []geometry.Geometry) error {
	for i := range descs {
		if !pass.RendersToFramebuffer(descs, i) {
			continue
		}
		if _, err := p.Ensure(i, descs[i], geoms[i]); err != nil {
			return err
		}
	}
	return nil
}

// Exchange installs r as the live resource at index and returns the previous one.
// Ownership of the returned resource passes to the caller.
//
// Parameters:
//   - index: the pass index
//   - r: the resource to install
//
// Returns:
//   - Resource: the resource previously at index
func (p *Pool) Exchange(index int, r Resource) Resource {
	old := p.resources[index]
	p.resources[index] = r
	return old
}

// DestroyAll releases every resource. The slots remain.
func (p *Pool) DestroyAll() {
	for i, r := range p.resources {
		p.Release(r)
		p.resources[i] = Resource{}
	}
}
