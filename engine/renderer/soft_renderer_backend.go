package renderer

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/Carmen-Shannon/oxy-chain/common"
)

// DrawRecord is one DrawPass call as seen by the software backend.
type DrawRecord struct {
	// Frame is the backend frame counter at the time of the draw, starting at 1.
	Frame uint64

	Index    int
	Program  ProgramHandle
	Target   FramebufferHandle
	Viewport common.Rect

	Source   TextureHandle
	Original TextureHandle
	Feedback TextureHandle

	// FeedbackDigest hashes the logical region of the feedback input; zero when unbound.
	FeedbackDigest uint64

	// OutputDigest hashes the written viewport of the target after the draw.
	OutputDigest uint64
}

type softTexture struct {
	desc TextureDescriptor
	pix  []byte
}

type softFramebuffer struct {
	color TextureHandle
	depth RenderbufferHandle
}

type softRenderbuffer struct {
	width, height int
}

type softTransfer struct {
	size   int
	data   []byte
	queued bool
	ready  bool
}

type softFence struct {
	signaled bool
}

// SoftwareBackend is a CPU implementation of Backend. Pass programs are not executed:
// every draw is a nearest-neighbour copy of its source input into the target viewport.
// Fence and transfer completion can be driven manually, which makes GPU latency
// observable in tests.
type SoftwareBackend struct {
	mu sync.Mutex

	limits Limits
	layout PixelLayout

	nextHandle    uint32
	textures      map[TextureHandle]*softTexture
	framebuffers  map[FramebufferHandle]*softFramebuffer
	renderbuffers map[RenderbufferHandle]*softRenderbuffer
	programs      map[ProgramHandle]string
	transfers     map[BufferHandle]*softTransfer
	fences        map[FenceHandle]*softFence

	backbuffer TextureHandle
	inFrame    bool
	frame      uint64
	presented  uint64

	autoComplete     bool
	pendingFences    []FenceHandle
	pendingTransfers []BufferHandle
	waited           []FenceHandle
	syncReads        int
	draws            []DrawRecord
	failFramebuffer  func(color TextureDescriptor) bool
}

var _ Backend = &SoftwareBackend{}

// NewSoftwareBackend creates a software backend. Only WithLimits and WithPixelLayout apply.
//
// Parameters:
//   - options: variadic list of BackendBuilderOption functions
//
// Returns:
//   - *SoftwareBackend: the new backend
func NewSoftwareBackend(options ...BackendBuilderOption) *SoftwareBackend {
	cfg := &backendConfig{}
	for _, opt := range options {
		opt(cfg)
	}
	return newSoftwareBackend(cfg)
}

func newSoftwareBackend(cfg *backendConfig) *SoftwareBackend {
	s := &SoftwareBackend{
		limits: Limits{
			MaxTextureSize:   8192,
			FloatFramebuffer: true,
			SRGBFramebuffer:  true,
			Mipmaps:          true,
			ClampToBorder:    true,
			AsyncReadback:    true,
			Fences:           true,
		},
		layout: PixelLayout{
			BottomUp:     true,
			Channels:     ChannelsBGRA,
			RowAlignment: 8,
		},
		textures:      make(map[TextureHandle]*softTexture),
		framebuffers:  make(map[FramebufferHandle]*softFramebuffer),
		renderbuffers: make(map[RenderbufferHandle]*softRenderbuffer),
		programs:      make(map[ProgramHandle]string),
		transfers:     make(map[BufferHandle]*softTransfer),
		fences:        make(map[FenceHandle]*softFence),
		autoComplete:  true,
	}
	if cfg.limits != nil {
		s.limits = *cfg.limits
	}
	if cfg.layout != nil {
		s.layout = *cfg.layout
	}
	return s
}

func (s *SoftwareBackend) handle() uint32 {
	s.nextHandle++
	return s.nextHandle
}

// SetAutoComplete controls whether fences signal and transfers complete as soon as they
// are issued. Enabled by default. Switching it on completes everything outstanding.
func (s *SoftwareBackend) SetAutoComplete(auto bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoComplete = auto
	if auto {
		s.completeFencesLocked(len(s.pendingFences))
		s.completeTransfersLocked(len(s.pendingTransfers))
	}
}

// CompleteFences signals the n oldest pending fences.
func (s *SoftwareBackend) CompleteFences(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completeFencesLocked(n)
}

func (s *SoftwareBackend) completeFencesLocked(n int) {
	n = min(n, len(s.pendingFences))
	for _, h := range s.pendingFences[:n] {
		if f, ok := s.fences[h]; ok {
			f.signaled = true
		}
	}
	s.pendingFences = s.pendingFences[n:]
}

// CompleteTransfers finishes the n oldest pending transfer copies.
func (s *SoftwareBackend) CompleteTransfers(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completeTransfersLocked(n)
}

func (s *SoftwareBackend) completeTransfersLocked(n int) {
	n = min(n, len(s.pendingTransfers))
	for _, h := range s.pendingTransfers[:n] {
		if t, ok := s.transfers[h]; ok && t.queued {
			t.ready = true
		}
	}
	s.pendingTransfers = s.pendingTransfers[n:]
}

// FailFramebuffer installs a predicate that makes CheckFramebuffer report framebuffers whose
// color attachment matches as incomplete. Pass nil to clear it.
func (s *SoftwareBackend) FailFramebuffer(fn func(color TextureDescriptor) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFramebuffer = fn
}

// Draws returns a copy of the draw log.
func (s *SoftwareBackend) Draws() []DrawRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DrawRecord(nil), s.draws...)
}

// ResetDraws clears the draw log.
func (s *SoftwareBackend) ResetDraws() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draws = s.draws[:0]
}

// WaitedFences returns the fences WaitFence had to block on, in call order.
func (s *SoftwareBackend) WaitedFences() []FenceHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FenceHandle(nil), s.waited...)
}

// SyncReads returns the number of ReadPixels calls.
func (s *SoftwareBackend) SyncReads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncReads
}

// Presented returns the number of Present calls.
func (s *SoftwareBackend) Presented() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presented
}

// Counts returns the number of live textures, framebuffers, renderbuffers, transfer buffers and fences.
func (s *SoftwareBackend) Counts() (textures, framebuffers, renderbuffers, transfers, fences int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	textures = len(s.textures)
	if s.backbuffer != 0 {
		textures--
	}
	return textures, len(s.framebuffers), len(s.renderbuffers), len(s.transfers), len(s.fences)
}

// TextureDescriptor returns the descriptor a live texture was created with.
func (s *SoftwareBackend) TextureDescriptor(tex TextureHandle) (TextureDescriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.textures[tex]
	if !ok {
		return TextureDescriptor{}, false
	}
	return t.desc, true
}

// TexturePixels returns a copy of the top-down RGBA contents of rect within a texture.
func (s *SoftwareBackend) TexturePixels(tex TextureHandle, rect common.Rect) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.textures[tex]
	if !ok {
		return nil, fmt.Errorf("texture %d: %w", tex, ErrInvalidHandle)
	}
	return t.region(rect), nil
}

// BackbufferPixels returns a copy of the top-down RGBA backbuffer.
func (s *SoftwareBackend) BackbufferPixels() ([]byte, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.textures[s.backbuffer]
	if !ok {
		return nil, 0, 0
	}
	return append([]byte(nil), t.pix...), t.desc.Width, t.desc.Height
}

func (t *softTexture) region(rect common.Rect) []byte {
	rect = rect.Intersect(common.Rect{Width: t.desc.Width, Height: t.desc.Height})
	out := make([]byte, rect.Area()*4)
	for y := 0; y < rect.Height; y++ {
		src := ((rect.Y+y)*t.desc.Width + rect.X) * 4
		copy(out[y*rect.Width*4:(y+1)*rect.Width*4], t.pix[src:src+rect.Width*4])
	}
	return out
}

func (t *softTexture) digest(rect common.Rect) uint64 {
	h := fnv.New64a()
	h.Write(t.region(rect))
	return h.Sum64()
}

// Type returns BackendTypeSoftware.
func (s *SoftwareBackend) Type() BackendType { return BackendTypeSoftware }

// Limits returns the configured capabilities.
func (s *SoftwareBackend) Limits() Limits { return s.limits }

// PixelLayout returns the configured readback layout.
func (s *SoftwareBackend) PixelLayout() PixelLayout { return s.layout }

func (s *SoftwareBackend) CreateTexture(desc TextureDescriptor) (TextureHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createTextureLocked(desc)
}

func (s *SoftwareBackend) createTextureLocked(desc TextureDescriptor) (TextureHandle, error) {
	if desc.Width <= 0 || desc.Height <= 0 {
		return 0, fmt.Errorf("texture %q has empty size %dx%d", desc.Label, desc.Width, desc.Height)
	}
	if desc.Width > s.limits.MaxTextureSize || desc.Height > s.limits.MaxTextureSize {
		return 0, fmt.Errorf("texture %q %dx%d exceeds %d: %w", desc.Label, desc.Width, desc.Height, s.limits.MaxTextureSize, ErrResourceExhausted)
	}
	if desc.Format == TextureFormatRGBA16F && desc.RenderTarget && !s.limits.FloatFramebuffer {
		return 0, fmt.Errorf("texture %q: float render target: %w", desc.Label, ErrCapabilityUnsupported)
	}
	if desc.Format == TextureFormatRGBA8SRGB && desc.RenderTarget && !s.limits.SRGBFramebuffer {
		return 0, fmt.Errorf("texture %q: sRGB render target: %w", desc.Label, ErrCapabilityUnsupported)
	}
	h := TextureHandle(s.handle())
	s.textures[h] = &softTexture{desc: desc, pix: make([]byte, desc.Width*desc.Height*4)}
	return h, nil
}

func (s *SoftwareBackend) UploadTexture(tex TextureHandle, frame *Frame) error {
	pixels, err := frame.ToRGBA()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.textures[tex]
	if !ok {
		return fmt.Errorf("upload texture %d: %w", tex, ErrInvalidHandle)
	}
	if frame.Width > t.desc.Width || frame.Height > t.desc.Height {
		return fmt.Errorf("texture %q %dx%d cannot hold a %dx%d frame", t.desc.Label, t.desc.Width, t.desc.Height, frame.Width, frame.Height)
	}
	for y := 0; y < frame.Height; y++ {
		copy(t.pix[y*t.desc.Width*4:], pixels[y*frame.Width*4:(y+1)*frame.Width*4])
	}
	return nil
}

func (s *SoftwareBackend) DestroyTexture(tex TextureHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.textures, tex)
}

func (s *SoftwareBackend) CreateFramebuffer(color TextureHandle) (FramebufferHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.textures[color]; !ok {
		return 0, fmt.Errorf("framebuffer color attachment %d: %w", color, ErrInvalidHandle)
	}
	h := FramebufferHandle(s.handle())
	s.framebuffers[h] = &softFramebuffer{color: color}
	return h, nil
}

func (s *SoftwareBackend) CreateRenderbuffer(width, height int, depth, stencil bool) (RenderbufferHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !depth && !stencil {
		return 0, fmt.Errorf("renderbuffer needs depth or stencil")
	}
	if width > s.limits.MaxTextureSize || height > s.limits.MaxTextureSize {
		return 0, fmt.Errorf("renderbuffer %dx%d exceeds %d: %w", width, height, s.limits.MaxTextureSize, ErrResourceExhausted)
	}
	h := RenderbufferHandle(s.handle())
	s.renderbuffers[h] = &softRenderbuffer{width: width, height: height}
	return h, nil
}

func (s *SoftwareBackend) AttachRenderbuffer(fb FramebufferHandle, rb RenderbufferHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.framebuffers[fb]
	if !ok {
		return fmt.Errorf("attach to framebuffer %d: %w", fb, ErrInvalidHandle)
	}
	if _, ok := s.renderbuffers[rb]; !ok {
		return fmt.Errorf("attach renderbuffer %d: %w", rb, ErrInvalidHandle)
	}
	f.depth = rb
	return nil
}

func (s *SoftwareBackend) CheckFramebuffer(fb FramebufferHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.framebuffers[fb]
	if !ok {
		return fmt.Errorf("framebuffer %d: %w", fb, ErrInvalidHandle)
	}
	color, ok := s.textures[f.color]
	if !ok {
		return fmt.Errorf("framebuffer %d has no color attachment: %w", fb, ErrFramebufferIncomplete)
	}
	if s.failFramebuffer != nil && s.failFramebuffer(color.desc) {
		return fmt.Errorf("framebuffer %d (%s): %w", fb, color.desc.Label, ErrFramebufferIncomplete)
	}
	if f.depth != 0 {
		rb, ok := s.renderbuffers[f.depth]
		if !ok || rb.width != color.desc.Width || rb.height != color.desc.Height {
			return fmt.Errorf("framebuffer %d depth attachment mismatch: %w", fb, ErrFramebufferIncomplete)
		}
	}
	return nil
}

func (s *SoftwareBackend) DestroyFramebuffer(fb FramebufferHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.framebuffers, fb)
}

func (s *SoftwareBackend) DestroyRenderbuffer(rb RenderbufferHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.renderbuffers, rb)
}

func (s *SoftwareBackend) RegisterProgram(source string) (ProgramHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if source == "" {
		return 0, fmt.Errorf("empty program source")
	}
	h := ProgramHandle(s.handle())
	s.programs[h] = source
	return h, nil
}

func (s *SoftwareBackend) BeginFrame(width, height int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFrame {
		return fmt.Errorf("previous frame not yet submitted")
	}
	if bb, ok := s.textures[s.backbuffer]; !ok || bb.desc.Width != width || bb.desc.Height != height {
		delete(s.textures, s.backbuffer)
		h, err := s.createTextureLocked(TextureDescriptor{Label: "Backbuffer", Width: width, Height: height, RenderTarget: true})
		if err != nil {
			return fmt.Errorf("create backbuffer: %w", err)
		}
		s.backbuffer = h
	}
	s.inFrame = true
	s.frame++
	return nil
}

func (s *SoftwareBackend) target(fb FramebufferHandle) (*softTexture, error) {
	h := s.backbuffer
	if fb != Backbuffer {
		f, ok := s.framebuffers[fb]
		if !ok {
			return nil, fmt.Errorf("framebuffer %d: %w", fb, ErrInvalidHandle)
		}
		h = f.color
	}
	t, ok := s.textures[h]
	if !ok {
		return nil, fmt.Errorf("framebuffer %d color texture: %w", fb, ErrInvalidHandle)
	}
	return t, nil
}

func (s *SoftwareBackend) Clear(fb FramebufferHandle, rgba [4]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inFrame {
		return ErrNoFrame
	}
	t, err := s.target(fb)
	if err != nil {
		return err
	}
	var px [4]byte
	for i, c := range rgba {
		px[i] = byte(common.ClampInt(int(c*255+0.5), 0, 255))
	}
	for i := 0; i < len(t.pix); i += 4 {
		copy(t.pix[i:i+4], px[:])
	}
	return nil
}

func (s *SoftwareBackend) DrawPass(cmd PassCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inFrame {
		return ErrNoFrame
	}
	if cmd.Program != 0 {
		if _, ok := s.programs[cmd.Program]; !ok {
			return fmt.Errorf("program %d: %w", cmd.Program, ErrInvalidHandle)
		}
	}
	dst, err := s.target(cmd.Target)
	if err != nil {
		return err
	}
	src, ok := s.textures[cmd.Source.Texture]
	if !ok {
		return fmt.Errorf("pass %d source texture %d: %w", cmd.Index, cmd.Source.Texture, ErrInvalidHandle)
	}

	vp := cmd.Viewport
	if vp.Empty() {
		vp = common.Rect{Width: dst.desc.Width, Height: dst.desc.Height}
	}
	vp = vp.Intersect(common.Rect{Width: dst.desc.Width, Height: dst.desc.Height})

	sw, sh := cmd.Source.Width, cmd.Source.Height
	if sw <= 0 || sh <= 0 {
		sw, sh = src.desc.Width, src.desc.Height
	}
	sw, sh = min(sw, src.desc.Width), min(sh, src.desc.Height)

	// Read the whole source region first; a pass may sample its own target.
	in := src.region(common.Rect{Width: sw, Height: sh})
	for y := 0; y < vp.Height; y++ {
		sy := min((2*y+1)*sh/(2*vp.Height), sh-1)
		for x := 0; x < vp.Width; x++ {
			sx := min((2*x+1)*sw/(2*vp.Width), sw-1)
			d := ((vp.Y+y)*dst.desc.Width + vp.X + x) * 4
			copy(dst.pix[d:d+4], in[(sy*sw+sx)*4:(sy*sw+sx)*4+4])
		}
	}

	rec := DrawRecord{
		Frame:        s.frame,
		Index:        cmd.Index,
		Program:      cmd.Program,
		Target:       cmd.Target,
		Viewport:     vp,
		Source:       cmd.Source.Texture,
		Original:     cmd.Original.Texture,
		Feedback:     cmd.Feedback.Texture,
		OutputDigest: dst.digest(vp),
	}
	if fb, ok := s.textures[cmd.Feedback.Texture]; ok {
		rec.FeedbackDigest = fb.digest(common.Rect{Width: cmd.Feedback.Width, Height: cmd.Feedback.Height})
	}
	s.draws = append(s.draws, rec)
	return nil
}

func (s *SoftwareBackend) EndFrame() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inFrame {
		return ErrNoFrame
	}
	s.inFrame = false
	return nil
}

func (s *SoftwareBackend) Present() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presented++
	return nil
}

func (s *SoftwareBackend) CreateTransferBuffer(size int) (BufferHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if size <= 0 {
		return 0, fmt.Errorf("transfer buffer size %d", size)
	}
	h := BufferHandle(s.handle())
	s.transfers[h] = &softTransfer{size: size}
	return h, nil
}

// encode converts rect of t into the backend's readback layout.
func (s *SoftwareBackend) encode(t *softTexture, rect common.Rect) []byte {
	rect = rect.Intersect(common.Rect{Width: t.desc.Width, Height: t.desc.Height})
	pitch := s.layout.Pitch(rect.Width)
	out := make([]byte, pitch*rect.Height)
	rgba := t.region(rect)
	for y := 0; y < rect.Height; y++ {
		row := y
		if s.layout.BottomUp {
			row = rect.Height - 1 - y
		}
		src := rgba[row*rect.Width*4 : (row+1)*rect.Width*4]
		dst := out[y*pitch:]
		for x := 0; x < rect.Width; x++ {
			p := src[x*4 : x*4+4]
			if s.layout.Channels == ChannelsBGRA {
				dst[x*4], dst[x*4+1], dst[x*4+2], dst[x*4+3] = p[2], p[1], p[0], p[3]
			} else {
				copy(dst[x*4:x*4+4], p)
			}
		}
	}
	return out
}

func (s *SoftwareBackend) CopyToTransferBuffer(buf BufferHandle, src FramebufferHandle, rect common.Rect) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transfers[buf]
	if !ok {
		return fmt.Errorf("transfer buffer %d: %w", buf, ErrInvalidHandle)
	}
	if t.queued {
		return fmt.Errorf("transfer buffer %d is still in use", buf)
	}
	tex, err := s.target(src)
	if err != nil {
		return err
	}
	data := s.encode(tex, rect)
	if len(data) > t.size {
		return fmt.Errorf("transfer buffer of %d bytes cannot hold %dx%d: %w", t.size, rect.Width, rect.Height, ErrResourceExhausted)
	}
	t.data = data
	t.queued = true
	t.ready = s.autoComplete
	if !t.ready {
		s.pendingTransfers = append(s.pendingTransfers, buf)
	}
	return nil
}

func (s *SoftwareBackend) MapTransferBuffer(buf BufferHandle) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transfers[buf]
	if !ok {
		return nil, false, fmt.Errorf("transfer buffer %d: %w", buf, ErrInvalidHandle)
	}
	if !t.queued {
		return nil, false, fmt.Errorf("transfer buffer %d has no copy: %w", buf, ErrNotReady)
	}
	if !t.ready {
		return nil, false, nil
	}
	return t.data, true, nil
}

func (s *SoftwareBackend) UnmapTransferBuffer(buf BufferHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.transfers[buf]; ok {
		t.queued, t.ready, t.data = false, false, nil
	}
}

func (s *SoftwareBackend) DestroyTransferBuffer(buf BufferHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transfers, buf)
}

func (s *SoftwareBackend) ReadPixels(src FramebufferHandle, rect common.Rect) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tex, err := s.target(src)
	if err != nil {
		return nil, err
	}
	s.syncReads++
	return s.encode(tex, rect), nil
}

func (s *SoftwareBackend) InsertFence() (FenceHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.limits.Fences {
		return 0, fmt.Errorf("fences: %w", ErrCapabilityUnsupported)
	}
	h := FenceHandle(s.handle())
	s.fences[h] = &softFence{signaled: s.autoComplete}
	if !s.autoComplete {
		s.pendingFences = append(s.pendingFences, h)
	}
	return h, nil
}

// WaitFence completes every pending fence up to and including f, the way an in-order GPU
// queue would, and records the wait.
func (s *SoftwareBackend) WaitFence(ctx context.Context, f FenceHandle) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("wait fence %d: %w", f, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fence, ok := s.fences[f]
	if !ok {
		return fmt.Errorf("fence %d: %w", f, ErrInvalidHandle)
	}
	s.waited = append(s.waited, f)
	if fence.signaled {
		return nil
	}
	for i, h := range s.pendingFences {
		if h == f {
			s.completeFencesLocked(i + 1)
			break
		}
	}
	return nil
}

func (s *SoftwareBackend) FenceSignaled(f FenceHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	fence, ok := s.fences[f]
	return !ok || fence.signaled
}

func (s *SoftwareBackend) DestroyFence(f FenceHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fences, f)
}

// Release frees every resource. The draw log and counters are kept for inspection.
func (s *SoftwareBackend) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.textures)
	clear(s.framebuffers)
	clear(s.renderbuffers)
	clear(s.programs)
	clear(s.transfers)
	clear(s.fences)
	s.pendingFences = nil
	s.pendingTransfers = nil
	s.backbuffer = 0
	s.inFrame = false
}
