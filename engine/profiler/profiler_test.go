package profiler

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-chain/engine/chain"
	"github.com/Carmen-Shannon/oxy-chain/engine/chain/readback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	stats chain.Stats
}

func (f *fakeSource) Stats() chain.Stats {
	return f.stats
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func setup(t *testing.T) (*Profiler, *fakeSource, *fakeClock, *bytes.Buffer) {
	t.Helper()
	src := &fakeSource{stats: chain.Stats{Frames: 10, Dupes: 1}}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	buf := &bytes.Buffer{}
	p := NewProfiler(
		WithInterval(time.Second),
		WithStatsSource(src),
		WithClock(clock.now),
		WithLogger(slog.New(slog.NewTextHandler(buf, nil))),
	)
	return p, src, clock, buf
}

func TestTickBeforeInterval(t *testing.T) {
	p, _, clock, buf := setup(t)

	clock.t = clock.t.Add(500 * time.Millisecond)
	assert.False(t, p.Tick())
	assert.Empty(t, buf.String())
	assert.Equal(t, Report{}, p.Last())
}

func TestTickReportsChainDeltas(t *testing.T) {
	p, src, clock, buf := setup(t)

	for range 59 {
		assert.False(t, p.Tick())
	}
	src.stats = chain.Stats{
		Frames:      70,
		Dupes:       4,
		FenceWaits:  12,
		Clamps:      2,
		PassThrough: true,
		Readback:    readback.Stats{Skipped: 3, InFlight: 2},
	}
	clock.t = clock.t.Add(time.Second)
	require.True(t, p.Tick())

	r := p.Last()
	assert.Equal(t, time.Second, r.Elapsed)
	assert.InDelta(t, 60.0, r.FPS, 0.001)
	assert.Equal(t, uint64(60), r.Frames)
	assert.Equal(t, uint64(3), r.Dupes)
	assert.Equal(t, uint64(12), r.FenceWaits)
	assert.Equal(t, uint64(3), r.ReadbackSkipped)
	assert.Equal(t, 2, r.ReadbackPending)
	assert.Equal(t, uint64(2), r.Clamps)
	assert.True(t, r.PassThrough)
	assert.Greater(t, r.SysMB, 0.0)

	out := buf.String()
	assert.Contains(t, out, "frame pacing")
	assert.Contains(t, out, "frames=60")
	assert.Contains(t, out, "pass_through=true")
	assert.Contains(t, out, "mem.heap_mb=")
}

func TestTickResetsWindow(t *testing.T) {
	p, src, clock, _ := setup(t)

	clock.t = clock.t.Add(time.Second)
	src.stats.Frames = 20
	require.True(t, p.Tick())
	assert.Equal(t, uint64(10), p.Last().Frames)

	assert.False(t, p.Tick())
	clock.t = clock.t.Add(2 * time.Second)
	src.stats.Frames = 25
	require.True(t, p.Tick())
	r := p.Last()
	assert.Equal(t, uint64(5), r.Frames)
	assert.InDelta(t, 1.0, r.FPS, 0.001)
}

func TestTickWithoutSource(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	buf := &bytes.Buffer{}
	p := NewProfiler(WithClock(clock.now), WithLogger(slog.New(slog.NewTextHandler(buf, nil))))

	clock.t = clock.t.Add(2 * time.Second)
	require.True(t, p.Tick())
	assert.InDelta(t, 0.5, p.Last().FPS, 0.001)
	assert.Zero(t, p.Last().Frames)
}
