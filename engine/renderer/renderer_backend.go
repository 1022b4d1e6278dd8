package renderer

import (
	"context"
	"fmt"

	"github.com/Carmen-Shannon/oxy-chain/common"
)

// BackendType identifies the GPU backend implementation selected at runtime.
type BackendType int

const (
	// BackendTypeWGPU selects the WebGPU-based rendering backend.
	BackendTypeWGPU BackendType = iota

	// BackendTypeSoftware selects the CPU reference backend. It needs no window or GPU
	// and is used for headless runs and tests.
	BackendTypeSoftware
)

// String returns the backend name used in log output.
func (t BackendType) String() string {
	switch t {
	case BackendTypeWGPU:
		return "wgpu"
	case BackendTypeSoftware:
		return "software"
	default:
		return fmt.Sprintf("BackendType(%d)", int(t))
	}
}

// PresentMode controls how rendered frames are presented to the display surface.
type PresentMode int

const (
	// PresentModeVSync waits for the next vertical blank before presenting, capping frame rate
	// to the monitor's refresh rate. Eliminates tearing.
	PresentModeVSync PresentMode = iota

	// PresentModeUncapped presents frames immediately without waiting for vertical blank.
	// May cause screen tearing but provides the lowest latency.
	PresentModeUncapped
)

// Opaque backend handles. The zero value of every handle type is invalid, except for
// FramebufferHandle where zero addresses the backbuffer.
type (
	TextureHandle      uint32
	FramebufferHandle  uint32
	RenderbufferHandle uint32
	BufferHandle       uint32
	FenceHandle        uint32
	ProgramHandle      uint32
)

// Backbuffer is the framebuffer handle of the presentation target.
const Backbuffer FramebufferHandle = 0

// TextureFormat is the storage format of a texture owned by the chain.
type TextureFormat int

const (
	// TextureFormatRGBA8 is 8-bit UNORM RGBA, the format every backend must support.
	TextureFormatRGBA8 TextureFormat = iota

	// TextureFormatRGBA8SRGB is 8-bit RGBA with sRGB encoding on write and decoding on sample.
	TextureFormatRGBA8SRGB

	// TextureFormatRGBA16F is half-float RGBA.
	TextureFormatRGBA16F
)

// String returns a human-readable name for the format.
func (f TextureFormat) String() string {
	switch f {
	case TextureFormatRGBA8:
		return "RGBA8"
	case TextureFormatRGBA8SRGB:
		return "RGBA8_SRGB"
	case TextureFormatRGBA16F:
		return "RGBA16F"
	default:
		return fmt.Sprintf("Unknown(%d)", int(f))
	}
}

// FilterMode selects texture sampling filter for a pass input.
type FilterMode int

const (
	// FilterUnspecified lets the chain pick its default (linear).
	FilterUnspecified FilterMode = iota
	FilterLinear
	FilterNearest
)

// WrapMode selects texture addressing outside [0, 1].
type WrapMode int

const (
	WrapClampToBorder WrapMode = iota
	WrapClampToEdge
	WrapRepeat
	WrapMirroredRepeat
)

// ChannelOrder is the byte order of a 4-byte pixel.
type ChannelOrder int

const (
	ChannelsRGBA ChannelOrder = iota
	ChannelsBGRA
)

// PixelLayout describes how a backend lays out pixels it hands back from readback.
type PixelLayout struct {
	// BottomUp is true when the first row in memory is the bottom row of the image.
	BottomUp bool

	// Channels is the in-memory channel order.
	Channels ChannelOrder

	// RowAlignment is the byte alignment of each row. Values below 1 mean tightly packed.
	RowAlignment int
}

// Pitch returns the number of bytes per row for an image of the given width.
//
// Parameters:
//   - width: image width in pixels
//
// Returns:
//   - int: bytes per row including alignment padding
func (l PixelLayout) Pitch(width int) int {
	p := width * 4
	if l.RowAlignment > 1 {
		p = (p + l.RowAlignment - 1) / l.RowAlignment * l.RowAlignment
	}
	return p
}

// Limits are the device capabilities the chain adapts to. They are immutable for the
// lifetime of a backend.
type Limits struct {
	// MaxTextureSize is the largest texture dimension the device accepts.
	MaxTextureSize int

	// FloatFramebuffer is true when half-float textures can be render targets.
	FloatFramebuffer bool

	// SRGBFramebuffer is true when sRGB textures can be render targets.
	SRGBFramebuffer bool

	// Mipmaps is true when the backend can generate a mip chain for a pass output.
	Mipmaps bool

	// ClampToBorder is true when WrapClampToBorder is natively supported.
	ClampToBorder bool

	// AsyncReadback is true when transfer buffers can be filled without stalling.
	AsyncReadback bool

	// Fences is true when the backend can insert and wait on GPU fences.
	Fences bool
}

// TextureDescriptor describes a texture to allocate.
type TextureDescriptor struct {
	Label  string
	Width  int
	Height int
	Format TextureFormat
	Mipmap bool

	// RenderTarget marks textures that will be attached to a framebuffer.
	RenderTarget bool
}

// TextureInput is a texture bound to a pass together with the region of it that holds
// valid content.
type TextureInput struct {
	Texture TextureHandle

	// Width and Height are the logical content size.
	Width, Height int

	// TextureWidth and TextureHeight are the allocated size.
	TextureWidth, TextureHeight int
}

// PassCommand is everything a backend needs to draw one pass.
type PassCommand struct {
	// Index is the pass index in the chain, or -1 for the stock blit pass.
	Index int

	// Program is the shader program to bind. Zero selects the stock pass-through program.
	Program ProgramHandle

	// Target is the framebuffer to draw into, Backbuffer for the final pass.
	Target FramebufferHandle

	// Viewport is the region of Target written by the pass.
	Viewport common.Rect

	// Source is the previous pass output (or the core frame for pass 0).
	Source TextureInput

	// Original is the unprocessed core frame.
	Original TextureInput

	// Feedback is the previous frame's output of the feedback pass; zero Texture when disabled.
	Feedback TextureInput

	Filter FilterMode
	Wrap   WrapMode

	// FrameCount is the number of frames rendered by the chain so far.
	FrameCount uint64
}

// Backend is the polymorphic GPU interface the render chain drives. A backend is selected
// at runtime through NewBackend and must only be used from the chain's orchestration goroutine,
// except for FenceSignaled and MapTransferBuffer which never block.
type Backend interface {
	// Type returns the implementation type.
	Type() BackendType

	// Limits returns the device capabilities.
	Limits() Limits

	// PixelLayout returns the layout of pixels handed back by MapTransferBuffer and ReadPixels.
	PixelLayout() PixelLayout

	// CreateTexture allocates a texture. Sizes above Limits().MaxTextureSize fail with
	// ErrResourceExhausted.
	//
	// Parameters:
	//   - desc: the texture description
	//
	// Returns:
	//   - TextureHandle: the new texture
	//   - error: an error if the allocation failed
	CreateTexture(desc TextureDescriptor) (TextureHandle, error)

	// UploadTexture copies a core frame into the top-left corner of a texture.
	//
	// Parameters:
	//   - tex: destination texture, at least as large as the frame
	//   - frame: the frame to upload
	//
	// Returns:
	//   - error: an error if the texture is unknown or too small
	UploadTexture(tex TextureHandle, frame *Frame) error

	// DestroyTexture releases a texture. Unknown handles are ignored.
	DestroyTexture(tex TextureHandle)

	// CreateFramebuffer creates a framebuffer with the given texture as color attachment.
	CreateFramebuffer(color TextureHandle) (FramebufferHandle, error)

	// CreateRenderbuffer allocates a depth and/or stencil renderbuffer.
	CreateRenderbuffer(width, height int, depth, stencil bool) (RenderbufferHandle, error)

	// AttachRenderbuffer attaches a depth/stencil renderbuffer to a framebuffer.
	AttachRenderbuffer(fb FramebufferHandle, rb RenderbufferHandle) error

	// CheckFramebuffer verifies completeness. Drivers rejecting the attachment set yield
	// an error wrapping ErrFramebufferIncomplete.
	CheckFramebuffer(fb FramebufferHandle) error

	// DestroyFramebuffer releases a framebuffer. Attached textures are not released.
	DestroyFramebuffer(fb FramebufferHandle)

	// DestroyRenderbuffer releases a renderbuffer.
	DestroyRenderbuffer(rb RenderbufferHandle)

	// RegisterProgram hands shader source to the driver and returns a program handle.
	RegisterProgram(source string) (ProgramHandle, error)

	// BeginFrame starts recording a frame whose backbuffer has the given size.
	BeginFrame(width, height int) error

	// Clear fills a framebuffer with a solid color.
	Clear(fb FramebufferHandle, rgba [4]float32) error

	// DrawPass draws one full-screen pass.
	DrawPass(cmd PassCommand) error

	// EndFrame submits the recorded frame to the GPU.
	EndFrame() error

	// Present shows the backbuffer. Backends without a surface treat this as a no-op.
	Present() error

	// CreateTransferBuffer allocates a host-readable pixel transfer buffer of size bytes.
	CreateTransferBuffer(size int) (BufferHandle, error)

	// CopyToTransferBuffer schedules an asynchronous copy of rect from src into buf.
	CopyToTransferBuffer(buf BufferHandle, src FramebufferHandle, rect common.Rect) error

	// MapTransferBuffer returns the buffer contents if the copy has completed. It never blocks;
	// ready is false while the GPU is still working.
	MapTransferBuffer(buf BufferHandle) (data []byte, ready bool, err error)

	// UnmapTransferBuffer releases a mapping and makes the buffer reusable.
	UnmapTransferBuffer(buf BufferHandle)

	// DestroyTransferBuffer releases a transfer buffer.
	DestroyTransferBuffer(buf BufferHandle)

	// ReadPixels synchronously reads rect from src, stalling the pipeline.
	ReadPixels(src FramebufferHandle, rect common.Rect) ([]byte, error)

	// InsertFence inserts a fence after all work submitted so far.
	InsertFence() (FenceHandle, error)

	// WaitFence blocks until the fence signals or ctx is done.
	WaitFence(ctx context.Context, f FenceHandle) error

	// FenceSignaled reports whether the fence has signaled without blocking.
	FenceSignaled(f FenceHandle) bool

	// DestroyFence releases a fence.
	DestroyFence(f FenceHandle)

	// Release frees every resource owned by the backend.
	Release()
}
