package renderer

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-chain/common"
	"github.com/Carmen-Shannon/oxy-chain/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
)

// wgpuRowAlignment is the WebGPU requirement for BytesPerRow in texture-to-buffer copies.
const wgpuRowAlignment = 256

// wgpuParamsSize is the size of the per-draw uniform block.
const wgpuParamsSize = shader.ParamsSize

type wgpuTexture struct {
	tex    *wgpu.Texture
	view   *wgpu.TextureView
	desc   TextureDescriptor
	format wgpu.TextureFormat
}

type wgpuFramebuffer struct {
	color TextureHandle
	depth RenderbufferHandle
}

type wgpuRenderbuffer struct {
	tex           *wgpu.Texture
	view          *wgpu.TextureView
	width, height int
}

type wgpuProgram struct {
	module    *wgpu.ShaderModule
	vertex    string
	fragment  string
	pipelines map[wgpu.TextureFormat]*wgpu.RenderPipeline
}

type transferState int32

const (
	transferIdle transferState = iota
	transferQueued
	transferMapping
	transferMapped
	transferFailed
)

type wgpuTransfer struct {
	buf    *wgpu.Buffer
	size   int
	copied int
	state  atomic.Int32
}

type wgpuFence struct {
	signaled atomic.Bool
}

type samplerKey struct {
	filter FilterMode
	wrap   WrapMode
}

type wgpuRendererBackendImpl struct {
	mu     *sync.Mutex
	cfg    *backendConfig
	logger *slog.Logger

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	surface  *wgpu.Surface

	surfaceFormat wgpu.TextureFormat
	surfaceWidth  int
	surfaceHeight int
	presentMode   wgpu.PresentMode

	limits Limits

	bindGroupLayout *wgpu.BindGroupLayout
	pipelineLayout  *wgpu.PipelineLayout
	samplers        map[samplerKey]*wgpu.Sampler
	dummy           TextureHandle

	nextHandle    uint32
	textures      map[TextureHandle]*wgpuTexture
	framebuffers  map[FramebufferHandle]*wgpuFramebuffer
	renderbuffers map[RenderbufferHandle]*wgpuRenderbuffer
	programs      map[ProgramHandle]*wgpuProgram
	transfers     map[BufferHandle]*wgpuTransfer
	fences        map[FenceHandle]*wgpuFence
	stock         ProgramHandle

	// Offscreen backbuffer; Present blits it to the surface.
	backbuffer TextureHandle

	frameEncoder *wgpu.CommandEncoder
	frameGarbage []func()
	frameCopies  []*wgpuTransfer
}

var _ Backend = &wgpuRendererBackendImpl{}

func newWGPURendererBackend(cfg *backendConfig) (*wgpuRendererBackendImpl, error) {
	runtime.LockOSThread()
	b := &wgpuRendererBackendImpl{
		mu:            &sync.Mutex{},
		cfg:           cfg,
		logger:        common.Logger(),
		instance:      wgpu.CreateInstance(nil),
		samplers:      make(map[samplerKey]*wgpu.Sampler),
		textures:      make(map[TextureHandle]*wgpuTexture),
		framebuffers:  make(map[FramebufferHandle]*wgpuFramebuffer),
		renderbuffers: make(map[RenderbufferHandle]*wgpuRenderbuffer),
		programs:      make(map[ProgramHandle]*wgpuProgram),
		transfers:     make(map[BufferHandle]*wgpuTransfer),
		fences:        make(map[FenceHandle]*wgpuFence),
	}
	b.setPresentMode(cfg.presentMode)

	if cfg.surfaceDescriptor != nil {
		b.surface = b.instance.CreateSurface(cfg.surfaceDescriptor)
	}

	a, err := b.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: cfg.forceFallbackAdapter,
		CompatibleSurface:    b.surface,
	})
	if err != nil {
		return nil, fmt.Errorf("request adapter: %w", err)
	}
	b.adapter = a

	d, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Render Chain Device",
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: wgpu.DefaultLimits(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("request device: %w", err)
	}
	b.device = d
	b.queue = d.GetQueue()

	b.limits = Limits{
		MaxTextureSize:   int(a.GetLimits().Limits.MaxTextureDimension2D),
		FloatFramebuffer: true,
		SRGBFramebuffer:  true,
		AsyncReadback:    true,
		Fences:           true,
	}
	if cfg.limits != nil {
		l := cfg.limits
		if l.MaxTextureSize > 0 && l.MaxTextureSize < b.limits.MaxTextureSize {
			b.limits.MaxTextureSize = l.MaxTextureSize
		}
		b.limits.FloatFramebuffer = b.limits.FloatFramebuffer && l.FloatFramebuffer
		b.limits.SRGBFramebuffer = b.limits.SRGBFramebuffer && l.SRGBFramebuffer
		b.limits.AsyncReadback = b.limits.AsyncReadback && l.AsyncReadback
		b.limits.Fences = b.limits.Fences && l.Fences
	}

	if err := b.initPipelineLayout(); err != nil {
		return nil, err
	}
	if b.stock, err = b.RegisterProgram(shader.StockProgramSource); err != nil {
		return nil, fmt.Errorf("register stock program: %w", err)
	}
	if b.dummy, err = b.CreateTexture(TextureDescriptor{Label: "Dummy Texture", Width: 1, Height: 1}); err != nil {
		return nil, err
	}

	if b.surface != nil {
		b.configureSurface(cfg.surfaceWidth, cfg.surfaceHeight)
	}
	return b, nil
}

func (b *wgpuRendererBackendImpl) setPresentMode(mode PresentMode) {
	switch mode {
	case PresentModeVSync:
		b.presentMode = wgpu.PresentModeFifo
	case PresentModeUncapped:
		fallthrough
	default:
		b.presentMode = wgpu.PresentModeImmediate
	}
}

func (b *wgpuRendererBackendImpl) configureSurface(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	capabilities := b.surface.GetCapabilities(b.adapter)
	b.surfaceFormat = capabilities.Formats[0]
	b.surface.Configure(b.adapter, b.device, &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      b.surfaceFormat,
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: b.presentMode,
		AlphaMode:   capabilities.AlphaModes[0],
	})
	b.surfaceWidth = width
	b.surfaceHeight = height
}

func (b *wgpuRendererBackendImpl) initPipelineLayout() error {
	textureEntry := func(binding uint32) wgpu.BindGroupLayoutEntry {
		return wgpu.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: wgpu.ShaderStageFragment,
			Texture: wgpu.TextureBindingLayout{
				SampleType:    wgpu.TextureSampleTypeFloat,
				ViewDimension: wgpu.TextureViewDimension2D,
			},
		}
	}

	layout, err := b.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "Pass Bind Group Layout",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageFragment,
				Sampler:    wgpu.SamplerBindingLayout{Type: wgpu.SamplerBindingTypeFiltering},
			},
			textureEntry(1),
			textureEntry(2),
			textureEntry(3),
			{
				Binding:    4,
				Visibility: wgpu.ShaderStageVertex | wgpu.ShaderStageFragment,
				Buffer: wgpu.BufferBindingLayout{
					Type:           wgpu.BufferBindingTypeUniform,
					MinBindingSize: wgpuParamsSize,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create pass bind group layout: %w", err)
	}
	b.bindGroupLayout = layout

	b.pipelineLayout, err = b.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "Pass Pipeline Layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{layout},
	})
	if err != nil {
		return fmt.Errorf("failed to create pass pipeline layout: %w", err)
	}
	return nil
}

func (b *wgpuRendererBackendImpl) handle() uint32 {
	b.nextHandle++
	return b.nextHandle
}

func (b *wgpuRendererBackendImpl) Type() BackendType { return BackendTypeWGPU }

func (b *wgpuRendererBackendImpl) Limits() Limits { return b.limits }

func (b *wgpuRendererBackendImpl) PixelLayout() PixelLayout {
	return PixelLayout{Channels: ChannelsRGBA, RowAlignment: wgpuRowAlignment}
}

func wgpuFormat(f TextureFormat) wgpu.TextureFormat {
	switch f {
	case TextureFormatRGBA8SRGB:
		return wgpu.TextureFormatRGBA8UnormSrgb
	case TextureFormatRGBA16F:
		return wgpu.TextureFormatRGBA16Float
	default:
		return wgpu.TextureFormatRGBA8Unorm
	}
}

func (b *wgpuRendererBackendImpl) CreateTexture(desc TextureDescriptor) (TextureHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.createTextureLocked(desc)
}

func (b *wgpuRendererBackendImpl) createTextureLocked(desc TextureDescriptor) (TextureHandle, error) {
	if desc.Width <= 0 || desc.Height <= 0 {
		return 0, fmt.Errorf("texture %q has empty size %dx%d", desc.Label, desc.Width, desc.Height)
	}
	if desc.Width > b.limits.MaxTextureSize || desc.Height > b.limits.MaxTextureSize {
		return 0, fmt.Errorf("texture %q %dx%d exceeds %d: %w", desc.Label, desc.Width, desc.Height, b.limits.MaxTextureSize, ErrResourceExhausted)
	}

	format := wgpuFormat(desc.Format)
	tex, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label: desc.Label,
		Usage: wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst |
			wgpu.TextureUsageCopySrc | wgpu.TextureUsageRenderAttachment,
		Dimension: wgpu.TextureDimension2D,
		Size: wgpu.Extent3D{
			Width:              uint32(desc.Width),
			Height:             uint32(desc.Height),
			DepthOrArrayLayers: 1,
		},
		Format:        format,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return 0, fmt.Errorf("create texture %q: %w", desc.Label, err)
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return 0, fmt.Errorf("create texture view %q: %w", desc.Label, err)
	}

	h := TextureHandle(b.handle())
	b.textures[h] = &wgpuTexture{tex: tex, view: view, desc: desc, format: format}
	return h, nil
}

func (b *wgpuRendererBackendImpl) UploadTexture(tex TextureHandle, frame *Frame) error {
	pixels, err := frame.ToRGBA()
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.textures[tex]
	if !ok {
		return fmt.Errorf("upload texture %d: %w", tex, ErrInvalidHandle)
	}
	if t.format != wgpu.TextureFormatRGBA8Unorm || frame.Width > t.desc.Width || frame.Height > t.desc.Height {
		return fmt.Errorf("texture %q (%s %dx%d) cannot hold a %dx%d frame", t.desc.Label, t.desc.Format, t.desc.Width, t.desc.Height, frame.Width, frame.Height)
	}

	b.queue.WriteTexture(
		&wgpu.ImageCopyTexture{
			Texture:  t.tex,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{},
			Aspect:   wgpu.TextureAspectAll,
		},
		pixels,
		&wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  uint32(frame.Width * 4),
			RowsPerImage: uint32(frame.Height),
		},
		&wgpu.Extent3D{
			Width:              uint32(frame.Width),
			Height:             uint32(frame.Height),
			DepthOrArrayLayers: 1,
		},
	)
	return nil
}

func (b *wgpuRendererBackendImpl) DestroyTexture(tex TextureHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.destroyTextureLocked(tex)
}

func (b *wgpuRendererBackendImpl) destroyTextureLocked(tex TextureHandle) {
	t, ok := b.textures[tex]
	if !ok {
		return
	}
	delete(b.textures, tex)
	release := func() {
		t.view.Release()
		t.tex.Release()
	}
	if b.frameEncoder != nil {
		b.frameGarbage = append(b.frameGarbage, release)
		return
	}
	release()
}

func (b *wgpuRendererBackendImpl) CreateFramebuffer(color TextureHandle) (FramebufferHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.textures[color]; !ok {
		return 0, fmt.Errorf("framebuffer color attachment %d: %w", color, ErrInvalidHandle)
	}
	h := FramebufferHandle(b.handle())
	b.framebuffers[h] = &wgpuFramebuffer{color: color}
	return h, nil
}

func (b *wgpuRendererBackendImpl) CreateRenderbuffer(width, height int, depth, stencil bool) (RenderbufferHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !depth && !stencil {
		return 0, fmt.Errorf("renderbuffer needs depth or stencil")
	}
	if width > b.limits.MaxTextureSize || height > b.limits.MaxTextureSize {
		return 0, fmt.Errorf("renderbuffer %dx%d exceeds %d: %w", width, height, b.limits.MaxTextureSize, ErrResourceExhausted)
	}
	format := wgpu.TextureFormatDepth24Plus
	if stencil {
		format = wgpu.TextureFormatDepth24PlusStencil8
	}
	tex, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label: "Depth Stencil Renderbuffer",
		Size: wgpu.Extent3D{
			Width:              uint32(width),
			Height:             uint32(height),
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        format,
		Usage:         wgpu.TextureUsageRenderAttachment,
	})
	if err != nil {
		return 0, fmt.Errorf("create renderbuffer: %w", err)
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return 0, fmt.Errorf("create renderbuffer view: %w", err)
	}
	h := RenderbufferHandle(b.handle())
	b.renderbuffers[h] = &wgpuRenderbuffer{tex: tex, view: view, width: width, height: height}
	return h, nil
}

func (b *wgpuRendererBackendImpl) AttachRenderbuffer(fb FramebufferHandle, rb RenderbufferHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, ok := b.framebuffers[fb]
	if !ok {
		return fmt.Errorf("attach to framebuffer %d: %w", fb, ErrInvalidHandle)
	}
	if _, ok := b.renderbuffers[rb]; !ok {
		return fmt.Errorf("attach renderbuffer %d: %w", rb, ErrInvalidHandle)
	}
	f.depth = rb
	return nil
}

func (b *wgpuRendererBackendImpl) CheckFramebuffer(fb FramebufferHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, ok := b.framebuffers[fb]
	if !ok {
		return fmt.Errorf("framebuffer %d: %w", fb, ErrInvalidHandle)
	}
	color, ok := b.textures[f.color]
	if !ok {
		return fmt.Errorf("framebuffer %d has no color attachment: %w", fb, ErrFramebufferIncomplete)
	}
	if f.depth != 0 {
		rb, ok := b.renderbuffers[f.depth]
		if !ok {
			return fmt.Errorf("framebuffer %d depth attachment released: %w", fb, ErrFramebufferIncomplete)
		}
		if rb.width != color.desc.Width || rb.height != color.desc.Height {
			return fmt.Errorf("framebuffer %d attachment sizes %dx%d and %dx%d differ: %w",
				fb, color.desc.Width, color.desc.Height, rb.width, rb.height, ErrFramebufferIncomplete)
		}
	}
	return nil
}

func (b *wgpuRendererBackendImpl) DestroyFramebuffer(fb FramebufferHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.framebuffers, fb)
}

func (b *wgpuRendererBackendImpl) DestroyRenderbuffer(rb RenderbufferHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.renderbuffers[rb]
	if !ok {
		return
	}
	delete(b.renderbuffers, rb)
	r.view.Release()
	r.tex.Release()
}

func (b *wgpuRendererBackendImpl) RegisterProgram(source string) (ProgramHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prog, err := shader.Compile(source)
	if err != nil {
		return 0, err
	}
	module, err := b.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: "Pass Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: prog.Source,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("create shader module: %w", err)
	}
	h := ProgramHandle(b.handle())
	b.programs[h] = &wgpuProgram{
		module:    module,
		vertex:    prog.VertexEntry,
		fragment:  prog.FragmentEntry,
		pipelines: make(map[wgpu.TextureFormat]*wgpu.RenderPipeline),
	}
	return h, nil
}

func (b *wgpuRendererBackendImpl) pipelineFor(program ProgramHandle, format wgpu.TextureFormat) (*wgpu.RenderPipeline, error) {
	if program == 0 {
		program = b.stock
	}
	p, ok := b.programs[program]
	if !ok {
		return nil, fmt.Errorf("program %d: %w", program, ErrInvalidHandle)
	}
	if rp, ok := p.pipelines[format]; ok {
		return rp, nil
	}

	rp, err := b.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  fmt.Sprintf("Pass Pipeline %d", program),
		Layout: b.pipelineLayout,
		Vertex: wgpu.VertexState{
			Module:     p.module,
			EntryPoint: p.vertex,
		},
		Fragment: &wgpu.FragmentState{
			Module:     p.module,
			EntryPoint: p.fragment,
			Targets: []wgpu.ColorTargetState{
				{
					Format:    format,
					WriteMask: wgpu.ColorWriteMaskAll,
				},
			},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeNone,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create render pipeline for program %d: %w", program, err)
	}
	p.pipelines[format] = rp
	return rp, nil
}

func (b *wgpuRendererBackendImpl) sampler(filter FilterMode, wrap WrapMode) (*wgpu.Sampler, error) {
	key := samplerKey{filter: filter, wrap: wrap}
	if s, ok := b.samplers[key]; ok {
		return s, nil
	}

	mode := wgpu.AddressModeClampToEdge
	switch wrap {
	case WrapRepeat:
		mode = wgpu.AddressModeRepeat
	case WrapMirroredRepeat:
		mode = wgpu.AddressModeMirrorRepeat
	}
	f := wgpu.FilterModeLinear
	if filter == FilterNearest {
		f = wgpu.FilterModeNearest
	}

	s, err := b.device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         "Pass Sampler",
		AddressModeU:  mode,
		AddressModeV:  mode,
		AddressModeW:  mode,
		MagFilter:     f,
		MinFilter:     f,
		MipmapFilter:  wgpu.MipmapFilterModeNearest,
		LodMinClamp:   0,
		LodMaxClamp:   32,
		MaxAnisotropy: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("create sampler: %w", err)
	}
	b.samplers[key] = s
	return s, nil
}

// targetTexture resolves a framebuffer handle to its color texture.
func (b *wgpuRendererBackendImpl) targetTexture(fb FramebufferHandle) (*wgpuTexture, error) {
	h := b.backbuffer
	if fb != Backbuffer {
		f, ok := b.framebuffers[fb]
		if !ok {
			return nil, fmt.Errorf("framebuffer %d: %w", fb, ErrInvalidHandle)
		}
		h = f.color
	}
	t, ok := b.textures[h]
	if !ok {
		return nil, fmt.Errorf("framebuffer %d color texture: %w", fb, ErrInvalidHandle)
	}
	return t, nil
}

func (b *wgpuRendererBackendImpl) BeginFrame(width, height int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameEncoder != nil {
		return fmt.Errorf("previous frame not yet submitted")
	}

	if bb, ok := b.textures[b.backbuffer]; !ok || bb.desc.Width != width || bb.desc.Height != height {
		b.destroyTextureLocked(b.backbuffer)
		h, err := b.createTextureLocked(TextureDescriptor{Label: "Backbuffer", Width: width, Height: height, RenderTarget: true})
		if err != nil {
			return fmt.Errorf("create backbuffer: %w", err)
		}
		b.backbuffer = h
		if b.surface != nil && (width != b.surfaceWidth || height != b.surfaceHeight) {
			b.configureSurface(width, height)
		}
	}

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("create command encoder: %w", err)
	}
	b.frameEncoder = encoder
	return nil
}

func (b *wgpuRendererBackendImpl) Clear(fb FramebufferHandle, rgba [4]float32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameEncoder == nil {
		return ErrNoFrame
	}
	t, err := b.targetTexture(fb)
	if err != nil {
		return err
	}
	pass := b.frameEncoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{
				View:    t.view,
				LoadOp:  wgpu.LoadOpClear,
				StoreOp: wgpu.StoreOpStore,
				ClearValue: wgpu.Color{
					R: float64(rgba[0]), G: float64(rgba[1]), B: float64(rgba[2]), A: float64(rgba[3]),
				},
			},
		},
	})
	pass.End()
	return nil
}

func (b *wgpuRendererBackendImpl) inputView(in TextureInput) (*wgpu.TextureView, [2]float32) {
	t, ok := b.textures[in.Texture]
	if !ok {
		return b.textures[b.dummy].view, [2]float32{1, 1}
	}
	scale := [2]float32{1, 1}
	if in.Width > 0 && in.Height > 0 {
		scale = [2]float32{
			float32(in.Width) / float32(t.desc.Width),
			float32(in.Height) / float32(t.desc.Height),
		}
	}
	return t.view, scale
}

func (b *wgpuRendererBackendImpl) DrawPass(cmd PassCommand) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameEncoder == nil {
		return ErrNoFrame
	}
	target, err := b.targetTexture(cmd.Target)
	if err != nil {
		return err
	}
	rp, err := b.pipelineFor(cmd.Program, target.format)
	if err != nil {
		return err
	}
	samp, err := b.sampler(cmd.Filter, cmd.Wrap)
	if err != nil {
		return err
	}

	sourceView, sourceScale := b.inputView(cmd.Source)
	originalView, originalScale := b.inputView(cmd.Original)
	feedbackView, feedbackScale := b.inputView(cmd.Feedback)

	vp := cmd.Viewport
	if vp.Empty() {
		vp = common.Rect{Width: target.desc.Width, Height: target.desc.Height}
	}

	params := make([]byte, wgpuParamsSize)
	putF32 := func(off int, v float32) {
		binary.LittleEndian.PutUint32(params[off:], math.Float32bits(v))
	}
	sw, sh := float32(cmd.Source.Width), float32(cmd.Source.Height)
	putF32(0, sw)
	putF32(4, sh)
	if sw > 0 && sh > 0 {
		putF32(8, 1/sw)
		putF32(12, 1/sh)
	}
	putF32(16, float32(vp.Width))
	putF32(20, float32(vp.Height))
	putF32(24, 1/float32(vp.Width))
	putF32(28, 1/float32(vp.Height))
	putF32(32, sourceScale[0])
	putF32(36, sourceScale[1])
	putF32(40, originalScale[0])
	putF32(44, originalScale[1])
	putF32(48, feedbackScale[0])
	putF32(52, feedbackScale[1])
	putF32(56, float32(cmd.FrameCount))

	ubo, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "Pass Params",
		Size:  wgpuParamsSize,
		Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("create pass params buffer: %w", err)
	}
	b.queue.WriteBuffer(ubo, 0, params)

	bg, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  fmt.Sprintf("Pass %d Bind Group", cmd.Index),
		Layout: b.bindGroupLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Sampler: samp},
			{Binding: 1, TextureView: sourceView},
			{Binding: 2, TextureView: originalView},
			{Binding: 3, TextureView: feedbackView},
			{Binding: 4, Buffer: ubo, Offset: 0, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		ubo.Release()
		return fmt.Errorf("create pass bind group: %w", err)
	}
	b.frameGarbage = append(b.frameGarbage, func() {
		bg.Release()
		ubo.Release()
	})

	pass := b.frameEncoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{
				View:       target.view,
				LoadOp:     wgpu.LoadOpClear,
				StoreOp:    wgpu.StoreOpStore,
				ClearValue: wgpu.Color{A: 1},
			},
		},
	})
	pass.SetViewport(float32(vp.X), float32(vp.Y), float32(vp.Width), float32(vp.Height), 0, 1)
	pass.SetPipeline(rp)
	pass.SetBindGroup(0, bg, nil)
	pass.Draw(3, 1, 0, 0)
	pass.End()
	return nil
}

func (b *wgpuRendererBackendImpl) EndFrame() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameEncoder == nil {
		return ErrNoFrame
	}
	encoder := b.frameEncoder
	b.frameEncoder = nil

	commandBuffer, err := encoder.Finish(nil)
	encoder.Release()
	if err != nil {
		b.flushGarbageLocked()
		return fmt.Errorf("finish frame: %w", err)
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()
	b.flushGarbageLocked()

	for _, t := range b.frameCopies {
		b.mapTransferLocked(t)
	}
	b.frameCopies = b.frameCopies[:0]
	return nil
}

func (b *wgpuRendererBackendImpl) flushGarbageLocked() {
	for _, release := range b.frameGarbage {
		release()
	}
	b.frameGarbage = b.frameGarbage[:0]
}

func (b *wgpuRendererBackendImpl) mapTransferLocked(t *wgpuTransfer) {
	t.state.Store(int32(transferMapping))
	err := t.buf.MapAsync(wgpu.MapModeRead, 0, uint64(t.size), func(s wgpu.BufferMapAsyncStatus) {
		if s == wgpu.BufferMapAsyncStatusSuccess {
			t.state.Store(int32(transferMapped))
			return
		}
		t.state.Store(int32(transferFailed))
	})
	if err != nil {
		b.logger.Warn("transfer buffer map failed", slog.Any("error", err))
		t.state.Store(int32(transferFailed))
	}
}

func (b *wgpuRendererBackendImpl) Present() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.surface == nil {
		return nil
	}
	bb, ok := b.textures[b.backbuffer]
	if !ok {
		return nil
	}

	surfaceTexture, err := b.surface.GetCurrentTexture()
	if err != nil {
		return fmt.Errorf("acquire surface texture: %w", err)
	}
	defer surfaceTexture.Release()
	view, err := surfaceTexture.CreateView(nil)
	if err != nil {
		return fmt.Errorf("create surface view: %w", err)
	}
	defer view.Release()

	rp, err := b.pipelineFor(b.stock, b.surfaceFormat)
	if err != nil {
		return err
	}
	samp, err := b.sampler(FilterNearest, WrapClampToEdge)
	if err != nil {
		return err
	}

	params := make([]byte, wgpuParamsSize)
	binary.LittleEndian.PutUint32(params[32:], math.Float32bits(1))
	binary.LittleEndian.PutUint32(params[36:], math.Float32bits(1))
	ubo, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "Present Params",
		Size:  wgpuParamsSize,
		Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("create present params buffer: %w", err)
	}
	defer ubo.Release()
	b.queue.WriteBuffer(ubo, 0, params)

	dummy := b.textures[b.dummy].view
	bg, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Present Bind Group",
		Layout: b.bindGroupLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Sampler: samp},
			{Binding: 1, TextureView: bb.view},
			{Binding: 2, TextureView: dummy},
			{Binding: 3, TextureView: dummy},
			{Binding: 4, Buffer: ubo, Offset: 0, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		return fmt.Errorf("create present bind group: %w", err)
	}
	defer bg.Release()

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("create present encoder: %w", err)
	}
	defer encoder.Release()
	pass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{
				View:       view,
				LoadOp:     wgpu.LoadOpClear,
				StoreOp:    wgpu.StoreOpStore,
				ClearValue: wgpu.Color{A: 1},
			},
		},
	})
	pass.SetPipeline(rp)
	pass.SetBindGroup(0, bg, nil)
	pass.Draw(3, 1, 0, 0)
	pass.End()

	commandBuffer, err := encoder.Finish(nil)
	if err != nil {
		return fmt.Errorf("finish present: %w", err)
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()
	b.surface.Present()
	return nil
}

func (b *wgpuRendererBackendImpl) CreateTransferBuffer(size int) (BufferHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "Readback Transfer Buffer",
		Size:  uint64(size),
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return 0, fmt.Errorf("create transfer buffer: %w", err)
	}
	h := BufferHandle(b.handle())
	b.transfers[h] = &wgpuTransfer{buf: buf, size: size}
	return h, nil
}

func (b *wgpuRendererBackendImpl) encodeCopyLocked(encoder *wgpu.CommandEncoder, buf *wgpu.Buffer, size int, src FramebufferHandle, rect common.Rect) (int, error) {
	t, err := b.targetTexture(src)
	if err != nil {
		return 0, err
	}
	rect = rect.Intersect(common.Rect{Width: t.desc.Width, Height: t.desc.Height})
	if rect.Empty() {
		return 0, fmt.Errorf("copy rect outside framebuffer %d", src)
	}
	pitch := b.PixelLayout().Pitch(rect.Width)
	if pitch*rect.Height > size {
		return 0, fmt.Errorf("transfer buffer of %d bytes cannot hold %dx%d: %w", size, rect.Width, rect.Height, ErrResourceExhausted)
	}
	encoder.CopyTextureToBuffer(
		&wgpu.ImageCopyTexture{
			Texture:  t.tex,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{X: uint32(rect.X), Y: uint32(rect.Y)},
			Aspect:   wgpu.TextureAspectAll,
		},
		&wgpu.ImageCopyBuffer{
			Layout: wgpu.TextureDataLayout{
				Offset:       0,
				BytesPerRow:  uint32(pitch),
				RowsPerImage: uint32(rect.Height),
			},
			Buffer: buf,
		},
		&wgpu.Extent3D{
			Width:              uint32(rect.Width),
			Height:             uint32(rect.Height),
			DepthOrArrayLayers: 1,
		},
	)
	return pitch * rect.Height, nil
}

func (b *wgpuRendererBackendImpl) CopyToTransferBuffer(buf BufferHandle, src FramebufferHandle, rect common.Rect) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.transfers[buf]
	if !ok {
		return fmt.Errorf("transfer buffer %d: %w", buf, ErrInvalidHandle)
	}
	if transferState(t.state.Load()) != transferIdle {
		return fmt.Errorf("transfer buffer %d is still in use", buf)
	}

	encoder := b.frameEncoder
	standalone := encoder == nil
	if standalone {
		var err error
		if encoder, err = b.device.CreateCommandEncoder(nil); err != nil {
			return fmt.Errorf("create copy encoder: %w", err)
		}
		defer encoder.Release()
	}

	n, err := b.encodeCopyLocked(encoder, t.buf, t.size, src, rect)
	if err != nil {
		return err
	}
	t.copied = n
	t.state.Store(int32(transferQueued))

	if !standalone {
		b.frameCopies = append(b.frameCopies, t)
		return nil
	}
	commandBuffer, err := encoder.Finish(nil)
	if err != nil {
		t.state.Store(int32(transferIdle))
		return fmt.Errorf("finish copy: %w", err)
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()
	b.mapTransferLocked(t)
	return nil
}

func (b *wgpuRendererBackendImpl) MapTransferBuffer(buf BufferHandle) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.transfers[buf]
	if !ok {
		return nil, false, fmt.Errorf("transfer buffer %d: %w", buf, ErrInvalidHandle)
	}
	switch transferState(t.state.Load()) {
	case transferIdle:
		return nil, false, fmt.Errorf("transfer buffer %d has no copy: %w", buf, ErrNotReady)
	case transferQueued:
		return nil, false, nil
	}

	b.device.Poll(false, nil)
	switch transferState(t.state.Load()) {
	case transferMapped:
		return t.buf.GetMappedRange(0, uint(t.copied)), true, nil
	case transferFailed:
		t.state.Store(int32(transferIdle))
		return nil, false, fmt.Errorf("map transfer buffer %d failed", buf)
	default:
		return nil, false, nil
	}
}

func (b *wgpuRendererBackendImpl) UnmapTransferBuffer(buf BufferHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.transfers[buf]
	if !ok {
		return
	}
	if transferState(t.state.Load()) == transferMapped {
		t.buf.Unmap()
	}
	t.state.Store(int32(transferIdle))
}

func (b *wgpuRendererBackendImpl) DestroyTransferBuffer(buf BufferHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.transfers[buf]
	if !ok {
		return
	}
	delete(b.transfers, buf)
	if transferState(t.state.Load()) == transferMapped {
		t.buf.Unmap()
	}
	t.buf.Release()
}

func (b *wgpuRendererBackendImpl) ReadPixels(src FramebufferHandle, rect common.Rect) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	size := b.PixelLayout().Pitch(rect.Width) * rect.Height
	buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "Sync Readback Buffer",
		Size:  uint64(size),
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create readback buffer: %w", err)
	}
	defer buf.Release()

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("create readback encoder: %w", err)
	}
	defer encoder.Release()
	n, err := b.encodeCopyLocked(encoder, buf, size, src, rect)
	if err != nil {
		return nil, err
	}
	commandBuffer, err := encoder.Finish(nil)
	if err != nil {
		return nil, fmt.Errorf("finish readback: %w", err)
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()

	var status wgpu.BufferMapAsyncStatus
	if err := buf.MapAsync(wgpu.MapModeRead, 0, uint64(n), func(s wgpu.BufferMapAsyncStatus) {
		status = s
	}); err != nil {
		return nil, fmt.Errorf("map readback buffer: %w", err)
	}
	b.device.Poll(true, nil)
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return nil, fmt.Errorf("map readback buffer: status %s", status.String())
	}
	out := make([]byte, n)
	copy(out, buf.GetMappedRange(0, uint(n)))
	buf.Unmap()
	return out, nil
}

func (b *wgpuRendererBackendImpl) InsertFence() (FenceHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f := &wgpuFence{}
	b.queue.OnSubmittedWorkDone(func(wgpu.QueueWorkDoneStatus) {
		f.signaled.Store(true)
	})
	h := FenceHandle(b.handle())
	b.fences[h] = f
	return h, nil
}

func (b *wgpuRendererBackendImpl) WaitFence(ctx context.Context, fence FenceHandle) error {
	b.mu.Lock()
	f, ok := b.fences[fence]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("fence %d: %w", fence, ErrInvalidHandle)
	}

	for !f.signaled.Load() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("wait fence %d: %w", fence, err)
		}
		b.device.Poll(true, nil)
	}
	return nil
}

func (b *wgpuRendererBackendImpl) FenceSignaled(fence FenceHandle) bool {
	b.mu.Lock()
	f, ok := b.fences[fence]
	b.mu.Unlock()
	if !ok {
		return true
	}
	if !f.signaled.Load() {
		b.device.Poll(false, nil)
	}
	return f.signaled.Load()
}

func (b *wgpuRendererBackendImpl) DestroyFence(fence FenceHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.fences, fence)
}

func (b *wgpuRendererBackendImpl) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.device == nil {
		return
	}
	b.flushGarbageLocked()
	for h := range b.transfers {
		t := b.transfers[h]
		if transferState(t.state.Load()) == transferMapped {
			t.buf.Unmap()
		}
		t.buf.Release()
	}
	for _, r := range b.renderbuffers {
		r.view.Release()
		r.tex.Release()
	}
	for _, t := range b.textures {
		t.view.Release()
		t.tex.Release()
	}
	for _, p := range b.programs {
		for _, rp := range p.pipelines {
			rp.Release()
		}
		p.module.Release()
	}
	for _, s := range b.samplers {
		s.Release()
	}
	b.pipelineLayout.Release()
	b.bindGroupLayout.Release()

	clear(b.transfers)
	clear(b.renderbuffers)
	clear(b.textures)
	clear(b.framebuffers)
	clear(b.programs)
	clear(b.samplers)
	clear(b.fences)

	b.queue.Release()
	b.device.Release()
	b.adapter.Release()
	if b.surface != nil {
		b.surface.Release()
	}
	b.instance.Release()
	b.device = nil
}
