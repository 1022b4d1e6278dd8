package profiler

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/Carmen-Shannon/oxy-chain/common"
	"github.com/Carmen-Shannon/oxy-chain/engine/chain"
)

// StatsSource provides render chain counters. *chain.RenderChain implements it.
type StatsSource interface {
	Stats() chain.Stats
}

// Report is one interval of frame pacing and render chain activity.
type Report struct {
	Elapsed time.Duration
	FPS     float64

	// Chain counters accumulated over the interval.
	Frames          uint64
	Dupes           uint64
	FenceWaits      uint64
	ReadbackSkipped uint64
	ReadbackPending int
	Clamps          uint64
	PassThrough     bool

	HeapMB      float64
	AllocRateMB float64
	GCCount     uint32
	LastPauseUs uint64
	MaxPauseUs  uint64
	SysMB       float64
}

// Profiler tracks frame rate, memory and render chain statistics.
// Reports are logged through slog at a configurable interval.
type Profiler struct {
	frameCount     int
	lastTime       time.Time
	updateInterval time.Duration
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64

	source    StatsSource
	lastStats chain.Stats
	logger    *slog.Logger
	now       func() time.Time
	last      Report
}

// ProfilerBuilderOption is a functional option applied to a Profiler during construction.
type ProfilerBuilderOption func(*Profiler)

// WithInterval sets how often a report is produced. Defaults to 1 second.
func WithInterval(d time.Duration) ProfilerBuilderOption {
	return func(p *Profiler) {
		p.updateInterval = d
	}
}

// WithStatsSource adds render chain counters to every report.
func WithStatsSource(source StatsSource) ProfilerBuilderOption {
	return func(p *Profiler) {
		p.source = source
	}
}

// WithLogger sets the logger reports are written to. Defaults to common.Logger().
func WithLogger(logger *slog.Logger) ProfilerBuilderOption {
	return func(p *Profiler) {
		p.logger = logger
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ProfilerBuilderOption {
	return func(p *Profiler) {
		p.now = now
	}
}

// NewProfiler creates a new Profiler.
//
// Parameters:
//   - options: variadic list of ProfilerBuilderOption functions
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler(options ...ProfilerBuilderOption) *Profiler {
	p := &Profiler{
		updateInterval: time.Second,
		now:            time.Now,
	}
	for _, opt := range options {
		opt(p)
	}
	if p.logger == nil {
		p.logger = common.Logger()
	}
	p.lastTime = p.now()
	if p.source != nil {
		p.lastStats = p.source.Stats()
	}
	return p
}

// Last returns the most recent report.
func (p *Profiler) Last() Report {
	return p.last
}

// Tick should be called once per presented frame.
// When the update interval has elapsed it builds a Report and logs it at Info level.
//
// Returns:
//   - bool: true if a report was produced this tick, false otherwise
func (p *Profiler) Tick() bool {
	p.frameCount++
	currentTime := p.now()
	elapsed := currentTime.Sub(p.lastTime)
	if elapsed < p.updateInterval {
		return false
	}

	r := Report{
		Elapsed: elapsed,
		FPS:     float64(p.frameCount) / elapsed.Seconds(),
	}
	p.readMemory(&r, elapsed)
	if p.source != nil {
		s := p.source.Stats()
		r.Frames = s.Frames - p.lastStats.Frames
		r.Dupes = s.Dupes - p.lastStats.Dupes
		r.FenceWaits = s.FenceWaits - p.lastStats.FenceWaits
		r.ReadbackSkipped = s.Readback.Skipped - p.lastStats.Readback.Skipped
		r.ReadbackPending = s.Readback.InFlight
		r.Clamps = s.Clamps
		r.PassThrough = s.PassThrough
		p.lastStats = s
	}

	p.logger.Info("frame pacing",
		slog.Float64("fps", r.FPS),
		slog.Uint64("frames", r.Frames),
		slog.Uint64("dupes", r.Dupes),
		slog.Uint64("fence_waits", r.FenceWaits),
		slog.Uint64("readback_skipped", r.ReadbackSkipped),
		slog.Int("readback_pending", r.ReadbackPending),
		slog.Bool("pass_through", r.PassThrough),
		slog.Group("mem",
			slog.Float64("heap_mb", r.HeapMB),
			slog.Float64("alloc_rate_mb", r.AllocRateMB),
			slog.Any("gc", r.GCCount),
			slog.Uint64("last_pause_us", r.LastPauseUs),
			slog.Uint64("max_pause_us", r.MaxPauseUs),
			slog.Float64("sys_mb", r.SysMB)))

	p.frameCount = 0
	p.lastTime = currentTime
	p.last = r
	return true
}

func (p *Profiler) readMemory(r *Report, elapsed time.Duration) {
	runtime.ReadMemStats(&p.memStats)
	r.HeapMB = float64(p.memStats.Alloc) / 1024 / 1024
	r.SysMB = float64(p.memStats.Sys) / 1024 / 1024
	r.AllocRateMB = float64(p.memStats.TotalAlloc-p.lastTotalAlloc) / 1024 / 1024 / elapsed.Seconds()

	gcCount := p.memStats.NumGC
	r.GCCount = gcCount
	if gcCount > 0 {
		// PauseNs is a circular buffer of the last 256 pauses.
		r.LastPauseUs = p.memStats.PauseNs[(gcCount-1)%256] / 1000
		startIdx := p.lastGCCount
		if gcCount-startIdx > 256 {
			startIdx = gcCount - 256
		}
		for i := startIdx; i < gcCount; i++ {
			r.MaxPauseUs = max(r.MaxPauseUs, p.memStats.PauseNs[i%256]/1000)
		}
	}
	p.lastGCCount = gcCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
}
