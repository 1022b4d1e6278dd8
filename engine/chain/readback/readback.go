// Package readback pulls composited frames back to host memory through a ring of transfer
// buffers, without ever blocking the render loop.
package readback

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-chain/common"
	"github.com/Carmen-Shannon/oxy-chain/engine/renderer"
)

const (
	// DefaultDepth is the number of transfer buffers in a ring.
	DefaultDepth = 4

	// WarnAsyncReadback is the capability key used when the backend cannot read back asynchronously.
	WarnAsyncReadback = "async_readback"

	// bandPixels is the frame area above which normalization is split across workers.
	bandPixels = 256 * 256
)

// Readout is one frame copied back from the GPU, as tightly packed top-down RGBA8.
type Readout struct {
	Data   []byte
	Width  int
	Height int

	// Frame is the ring frame counter at the time the copy was requested.
	Frame uint64
}

// Stats counts ring activity since creation or the last Reset.
type Stats struct {
	Requested uint64
	Accepted  uint64
	Skipped   uint64
	NotReady  uint64
	Consumed  uint64
	SyncReads uint64
	InFlight  int
}

type slotState int

const (
	slotFree slotState = iota
	slotPending
)

type slot struct {
	buffer renderer.BufferHandle
	size   int
	state  slotState
	rect   common.Rect
	frame  uint64
}

// Ring is a fixed ring of transfer buffers. At most depth-1 copies are in flight; a request
// made while the ring is full is skipped rather than waited on.
type Ring struct {
	vctx    *renderer.VideoContext
	depth   int
	workers int
	pool    worker.DynamicWorkerPool
	closed  bool

	slots []slot
	write int
	read  int
	frame uint64
	stats Stats
}

// NewRing creates a ring. Transfer buffers are allocated lazily on first use.
//
// Parameters:
//   - vctx: the shared video context
//   - options: variadic list of RingBuilderOption functions
//
// Returns:
//   - *Ring: the new ring
func NewRing(vctx *renderer.VideoContext, options ...RingBuilderOption) *Ring {
	r := &Ring{
		vctx:    vctx,
		depth:   DefaultDepth,
		workers: 4,
	}
	for _, opt := range options {
		opt(r)
	}
	r.depth = max(r.depth, 2)
	r.workers = max(r.workers, 1)
	r.slots = make([]slot, r.depth)
	r.pool = worker.NewDynamicWorkerPool(r.workers, 64, 1*time.Second)
	return r
}

// Depth returns the number of slots in the ring.
func (r *Ring) Depth() int {
	return r.depth
}

// InFlight returns the number of copies requested but not yet consumed.
func (r *Ring) InFlight() int {
	return r.stats.InFlight
}

// Stats returns a snapshot of the ring counters.
func (r *Ring) Stats() Stats {
	return r.stats
}

// Advance ticks the frame counter stamped on subsequent requests.
func (r *Ring) Advance() {
	r.frame++
}

// RequestCopy starts an asynchronous copy of rect from src into the next free slot.
//
// Parameters:
//   - src: the framebuffer to read, renderer.Backbuffer for the composited output
//   - rect: the region in top-down coordinates
//
// Returns:
//   - bool: false if the ring was full and the request was skipped
//   - error: an error wrapping renderer.ErrCapabilityUnsupported when the backend has no async readback
func (r *Ring) RequestCopy(src renderer.FramebufferHandle, rect common.Rect) (bool, error) {
	if !r.vctx.Limits().AsyncReadback {
		r.vctx.WarnOnce(WarnAsyncReadback, "asynchronous readback unsupported, only synchronous screenshots are available")
		return false, fmt.Errorf("readback: %w", renderer.ErrCapabilityUnsupported)
	}
	if rect.Empty() {
		return false, fmt.Errorf("readback: empty rect %dx%d", rect.Width, rect.Height)
	}
	r.stats.Requested++
	if r.stats.InFlight >= r.depth-1 {
		r.stats.Skipped++
		r.vctx.Logger().Debug("readback ring full, frame skipped", slog.Uint64("frame", r.frame))
		return false, nil
	}

	backend := r.vctx.Backend()
	s := &r.slots[r.write]
	need := backend.PixelLayout().Pitch(rect.Width) * rect.Height
	if s.buffer == 0 || s.size < need {
		if s.buffer != 0 {
			backend.DestroyTransferBuffer(s.buffer)
			s.buffer, s.size = 0, 0
		}
		buf, err := backend.CreateTransferBuffer(need)
		if err != nil {
			return false, fmt.Errorf("readback slot %d: %w", r.write, err)
		}
		s.buffer, s.size = buf, need
	}
	if err := backend.CopyToTransferBuffer(s.buffer, src, rect); err != nil {
		return false, fmt.Errorf("readback slot %d copy: %w", r.write, err)
	}

	s.state = slotPending
	s.rect = rect
	s.frame = r.frame
	r.write = (r.write + 1) % r.depth
	r.stats.InFlight++
	r.stats.Accepted++
	return true, nil
}

// TryConsume returns the oldest pending copy if the GPU has finished it. It never blocks:
// a copy that is still in flight yields false and a nil error.
//
// Returns:
//   - Readout: the normalized frame
//   - bool: true if a readout was returned
//   - error: an error if the transfer buffer could not be mapped
func (r *Ring) TryConsume() (Readout, bool, error) {
	if r.stats.InFlight == 0 {
		return Readout{}, false, nil
	}
	backend := r.vctx.Backend()
	s := &r.slots[r.read]

	data, ready, err := backend.MapTransferBuffer(s.buffer)
	if err != nil {
		r.retire(s)
		return Readout{}, false, fmt.Errorf("readback slot %d map: %w", r.read, err)
	}
	if !ready {
		r.stats.NotReady++
		return Readout{}, false, nil
	}

	out := Readout{
		Data:   r.normalize(data, backend.PixelLayout(), s.rect.Width, s.rect.Height),
		Width:  s.rect.Width,
		Height: s.rect.Height,
		Frame:  s.frame,
	}
	r.retire(s)
	r.stats.Consumed++
	return out, true, nil
}

func (r *Ring) retire(s *slot) {
	r.vctx.Backend().UnmapTransferBuffer(s.buffer)
	s.state = slotFree
	r.read = (r.read + 1) % r.depth
	r.stats.InFlight--
}

// ReadSync reads rect from src immediately, stalling until the GPU has caught up. Meant for
// one-shot screenshots only.
//
// Parameters:
//   - src: the framebuffer to read
//   - rect: the region in top-down coordinates
//
// Returns:
//   - Readout: the normalized frame
//   - error: an error if the read failed
func (r *Ring) ReadSync(src renderer.FramebufferHandle, rect common.Rect) (Readout, error) {
	if rect.Empty() {
		return Readout{}, fmt.Errorf("readback: empty rect %dx%d", rect.Width, rect.Height)
	}
	backend := r.vctx.Backend()
	data, err := backend.ReadPixels(src, rect)
	if err != nil {
		return Readout{}, fmt.Errorf("readback sync: %w", err)
	}
	r.stats.SyncReads++
	return Readout{
		Data:   r.normalize(data, backend.PixelLayout(), rect.Width, rect.Height),
		Width:  rect.Width,
		Height: rect.Height,
		Frame:  r.frame,
	}, nil
}

// Reset drops every pending copy and frees the transfer buffers. Called on video mode changes.
func (r *Ring) Reset() {
	backend := r.vctx.Backend()
	for i := range r.slots {
		if r.slots[i].buffer != 0 {
			backend.UnmapTransferBuffer(r.slots[i].buffer)
			backend.DestroyTransferBuffer(r.slots[i].buffer)
		}
		r.slots[i] = slot{}
	}
	r.write, r.read = 0, 0
	r.stats = Stats{}
}

// Close frees the transfer buffers and stops the conversion workers. Calling it again is a no-op.
func (r *Ring) Close() {
	if r.closed {
		return
	}
	r.Reset()
	r.pool.Stop()
	r.closed = true
}

// normalize converts data from the backend layout into tightly packed top-down RGBA8.
// Large frames are split into row bands processed on the worker pool.
func (r *Ring) normalize(data []byte, layout renderer.PixelLayout, width, height int) []byte {
	out := make([]byte, width*height*4)
	pitch := layout.Pitch(width)

	if width*height < bandPixels || r.workers == 1 || r.closed {
		convertRows(out, data, layout, pitch, width, height, 0, height)
		return out
	}

	rows := (height + r.workers - 1) / r.workers
	var wg sync.WaitGroup
	for id, y0 := 0, 0; y0 < height; id, y0 = id+1, y0+rows {
		y1 := min(y0+rows, height)
		wg.Add(1)
		r.pool.SubmitTask(worker.Task{
			ID: id,
			Do: func() (any, error) {
				defer wg.Done()
				convertRows(out, data, layout, pitch, width, height, y0, y1)
				return nil, nil
			},
		})
	}
	wg.Wait()
	return out
}

// convertRows writes output rows [y0, y1).
func convertRows(out, data []byte, layout renderer.PixelLayout, pitch, width, height, y0, y1 int) {
	for y := y0; y < y1; y++ {
		srcRow := y
		if layout.BottomUp {
			srcRow = height - 1 - y
		}
		src := data[srcRow*pitch : srcRow*pitch+width*4]
		dst := out[y*width*4 : (y+1)*width*4]
		if layout.Channels != renderer.ChannelsBGRA {
			copy(dst, src)
			continue
		}
		for x := 0; x < width*4; x += 4 {
			dst[x], dst[x+1], dst[x+2], dst[x+3] = src[x+2], src[x+1], src[x], src[x+3]
		}
	}
}
