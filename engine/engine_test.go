package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-chain/common"
	"github.com/Carmen-Shannon/oxy-chain/engine/chain"
	"github.com/Carmen-Shannon/oxy-chain/engine/chain/hwrender"
	"github.com/Carmen-Shannon/oxy-chain/engine/chain/readback"
	"github.com/Carmen-Shannon/oxy-chain/engine/renderer"
	"github.com/Carmen-Shannon/oxy-chain/engine/window"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testCore struct {
	width, height int
	frames        int
	err           error
	onFrame       func(n int)
}

func (c *testCore) Geometry() (int, int, float32) {
	return c.width, c.height, 0
}

func (c *testCore) RunFrame(_ context.Context, _ *chain.RenderChain) (chain.FrameInput, error) {
	if c.err != nil {
		return chain.FrameInput{}, c.err
	}
	c.frames++
	if c.onFrame != nil {
		c.onFrame(c.frames)
	}
	data := bytes.Repeat([]byte{byte(c.frames), 64, 128, 255}, c.width*c.height)
	return chain.FrameInput{Frame: &renderer.Frame{Data: data, Width: c.width, Height: c.height}}, nil
}

type testHWCore struct {
	testCore
}

func (c *testHWCore) HWRenderRequest() chain.HWRenderRequest {
	return chain.HWRenderRequest{Width: c.width, Height: c.height, Depth: true}
}

func (c *testHWCore) RunFrame(_ context.Context, rc *chain.RenderChain) (chain.FrameInput, error) {
	c.frames++
	if err := rc.HWRender(0, func(hwrender.Target) error { return nil }); err != nil {
		return chain.FrameInput{}, err
	}
	if err := rc.HWFrameDone(0, c.width, c.height); err != nil {
		return chain.FrameInput{}, err
	}
	return chain.FrameInput{HW: true, HWSlot: 0}, nil
}

type fakeWindow struct {
	width, height  int
	resize         func(width, height int)
	keyDown        func(keyCode uint32)
	closeRequested atomic.Bool
	closed         bool
}

func (w *fakeWindow) SetResizeCallback(callback func(width, height int)) { w.resize = callback }
func (w *fakeWindow) SetKeyDownCallback(callback func(keyCode uint32))   { w.keyDown = callback }
func (w *fakeWindow) Title() string                                      { return "fake" }
func (w *fakeWindow) SetTitle(string)                                    {}
func (w *fakeWindow) SurfaceDescriptor() *wgpu.SurfaceDescriptor         { return nil }
func (w *fakeWindow) FramebufferSize() (int, int)                        { return w.width, w.height }
func (w *fakeWindow) IsRunning() bool                                    { return !w.closeRequested.Load() }
func (w *fakeWindow) RequestClose()                                      { w.closeRequested.Store(true) }

func (w *fakeWindow) MakeCurrent(bool) error { return nil }

func (w *fakeWindow) Close() error {
	w.closed = true
	return nil
}

func (w *fakeWindow) ProcessMessages() {
	for w.IsRunning() {
		time.Sleep(time.Millisecond)
	}
}

func newTestEngine(t *testing.T, core Core, opts ...EngineBuilderOption) (*engine, *renderer.SoftwareBackend) {
	t.Helper()
	backend := renderer.NewSoftwareBackend()
	opts = append([]EngineBuilderOption{
		WithCore(core),
		WithBackend(backend),
		WithHeadlessSize(640, 400),
		WithOutputDir(t.TempDir()),
	}, opts...)
	e, err := NewEngine(opts...)
	require.NoError(t, err)
	return e.(*engine), backend
}

func writePreset(t *testing.T, path string, passes int) {
	t.Helper()
	data := []byte{}
	for range passes {
		data = append(data, "[[pass]]\nscale_type = \"source\"\nscale = 1.0\n"...)
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestNewEngineRequiresCore(t *testing.T) {
	_, err := NewEngine(WithBackend(renderer.NewSoftwareBackend()))
	assert.Error(t, err)
}

func TestNewEngineHeadlessDefaults(t *testing.T) {
	e, err := NewEngine(WithCore(&testCore{width: 256, height: 224}))
	require.NoError(t, err)
	eng := e.(*engine)

	assert.Nil(t, e.Window())
	assert.Equal(t, renderer.BackendTypeSoftware, eng.backend.Type())
	assert.Equal(t, int64(256), eng.fbWidth.Load())
	assert.Equal(t, int64(224), eng.fbHeight.Load())
}

func TestStepPresentsLetterboxedFrames(t *testing.T) {
	core := &testCore{width: 320, height: 240}
	e, backend := newTestEngine(t, core, WithProfiling(true))
	ctx := context.Background()

	for range 3 {
		require.NoError(t, e.Step(ctx))
	}

	assert.Equal(t, 3, core.frames)
	assert.Equal(t, uint64(3), backend.Presented())
	assert.Equal(t, uint64(3), e.Chain().Stats().Frames)

	draws := backend.Draws()
	require.NotEmpty(t, draws)
	assert.Equal(t, common.Rect{X: 53, Width: 533, Height: 400}, draws[len(draws)-1].Viewport)
}

func TestStepStretch(t *testing.T) {
	e, backend := newTestEngine(t, &testCore{width: 320, height: 240}, WithScaleMode(window.ScaleStretch))
	require.NoError(t, e.Step(context.Background()))

	draws := backend.Draws()
	assert.Equal(t, common.Rect{Width: 640, Height: 400}, draws[len(draws)-1].Viewport)
}

func TestStepCoreError(t *testing.T) {
	boom := errors.New("boom")
	e, backend := newTestEngine(t, &testCore{width: 4, height: 4, err: boom})

	err := e.Step(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, backend.Presented())
}

func TestScreenshotAction(t *testing.T) {
	e, _ := newTestEngine(t, &testCore{width: 32, height: 32}, WithHeadlessSize(32, 32))
	ctx := context.Background()

	e.Screenshot()
	require.NoError(t, e.Step(ctx), "a screenshot before the first frame only logs")

	e.Screenshot()
	require.NoError(t, e.Step(ctx))

	files, err := filepath.Glob(filepath.Join(e.outputDir, "oxy-*.png"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestScreenshotCallback(t *testing.T) {
	e, _ := newTestEngine(t, &testCore{width: 16, height: 8}, WithHeadlessSize(16, 8))
	var got []readback.Readout
	e.SetCaptureCallback(func(r readback.Readout) { got = append(got, r) })
	ctx := context.Background()

	require.NoError(t, e.Step(ctx))
	e.Screenshot()
	require.NoError(t, e.Step(ctx))

	require.Len(t, got, 1)
	assert.Equal(t, 16, got[0].Width)
	assert.Equal(t, 8, got[0].Height)
	assert.Equal(t, []byte{1, 64, 128, 255}, got[0].Data[:4], "the frame presented before the action")
}

func TestRecordingCallback(t *testing.T) {
	e, _ := newTestEngine(t, &testCore{width: 320, height: 240})
	var got []readback.Readout
	e.SetCaptureCallback(func(r readback.Readout) { got = append(got, r) })
	ctx := context.Background()

	e.ToggleRecording()
	for range 3 {
		require.NoError(t, e.Step(ctx))
	}
	assert.True(t, e.Chain().Recording())
	require.Len(t, got, 3)
	for i, r := range got {
		assert.Equal(t, 533, r.Width)
		assert.Equal(t, 400, r.Height)
		assert.Equal(t, uint64(i), r.Frame)
	}

	e.ToggleRecording()
	require.NoError(t, e.Step(ctx))
	assert.False(t, e.Chain().Recording())
	assert.Len(t, got, 3)
}

func TestRecordingToDisk(t *testing.T) {
	e, _ := newTestEngine(t, &testCore{width: 8, height: 8}, WithHeadlessSize(8, 8))
	ctx := context.Background()

	e.ToggleRecording()
	require.NoError(t, e.Step(ctx))
	require.NoError(t, e.Step(ctx))
	e.ToggleRecording()
	require.NoError(t, e.Step(ctx))
	assert.Nil(t, e.recorder)

	files, err := filepath.Glob(filepath.Join(e.outputDir, "capture-*", "*.bmp"))
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestReloadPreset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.toml")
	writePreset(t, path, 1)
	e, _ := newTestEngine(t, &testCore{width: 16, height: 16}, WithPresetFile(path))
	ctx := context.Background()
	require.Len(t, e.Chain().Passes(), 1)

	writePreset(t, path, 2)
	e.ReloadPreset()
	require.NoError(t, e.Step(ctx))
	assert.Len(t, e.Chain().Passes(), 2)

	require.NoError(t, os.WriteFile(path, []byte("[[pass]\n"), 0o644))
	e.ReloadPreset()
	require.NoError(t, e.Step(ctx), "a broken preset keeps the active one")
	assert.Len(t, e.Chain().Passes(), 2)
}

func TestNewEngineBadPreset(t *testing.T) {
	_, err := NewEngine(
		WithCore(&testCore{width: 4, height: 4}),
		WithBackend(renderer.NewSoftwareBackend()),
		WithPresetFile(filepath.Join(t.TempDir(), "missing.toml")),
	)
	assert.Error(t, err)
}

func TestHandleKeyQueuesActions(t *testing.T) {
	e, _ := newTestEngine(t, &testCore{width: 4, height: 4})

	e.handleKey(common.KeyF8)
	e.handleKey(common.KeyF9)
	e.handleKey(common.KeyF10)
	e.handleKey(common.KeyEscape)

	require.Len(t, e.actions, 3)
	assert.Equal(t, actionScreenshot, <-e.actions)
	assert.Equal(t, actionToggleRecording, <-e.actions)
	assert.Equal(t, actionReloadPreset, <-e.actions)
}

func TestActionQueueFullDrops(t *testing.T) {
	e, _ := newTestEngine(t, &testCore{width: 4, height: 4})
	for range cap(e.actions) + 3 {
		e.Screenshot()
	}
	assert.Len(t, e.actions, cap(e.actions))
}

func TestHWCore(t *testing.T) {
	core := &testHWCore{testCore{width: 16, height: 16}}
	e, backend := newTestEngine(t, core, WithHeadlessSize(16, 16))
	ctx := context.Background()

	require.NoError(t, e.Step(ctx))
	require.NoError(t, e.Step(ctx))

	target, ok := e.Chain().HWTarget(0)
	require.True(t, ok)
	draws := backend.Draws()
	assert.Equal(t, target.Color, draws[len(draws)-1].Source)
	assert.Equal(t, uint64(2), e.Chain().Stats().Frames)
}

func TestRunHeadlessUntilQuit(t *testing.T) {
	core := &testCore{width: 8, height: 8}
	e, backend := newTestEngine(t, core, WithRenderFrameLimit(1000))
	core.onFrame = func(n int) {
		if n == 5 {
			e.Quit()
		}
	}

	e.Run()

	assert.Equal(t, 5, core.frames)
	assert.True(t, e.Chain().Dead())
	textures, framebuffers, _, _, _ := backend.Counts()
	assert.Zero(t, textures)
	assert.Zero(t, framebuffers)
	e.Quit()
}

func TestRunStopsOnFrameError(t *testing.T) {
	core := &testCore{width: 8, height: 8}
	e, _ := newTestEngine(t, core)
	core.onFrame = func(n int) {
		if n == 3 {
			core.err = errors.New("core crashed")
		}
	}

	e.Run()
	assert.Equal(t, 3, core.frames)
	assert.True(t, e.Chain().Dead())
}

func TestSetRenderFrameLimit(t *testing.T) {
	e, _ := newTestEngine(t, &testCore{width: 4, height: 4})
	e.SetRenderFrameLimit(50)
	assert.Equal(t, int64(20_000_000), e.renderFrameLimit.Nanoseconds())
	e.SetRenderFrameLimit(0)
	assert.Zero(t, e.renderFrameLimit)
}

func TestRunWithWindow(t *testing.T) {
	win := &fakeWindow{width: 800, height: 600}
	core := &testCore{width: 8, height: 8}
	backend := renderer.NewSoftwareBackend()
	e, err := NewEngine(WithCore(core), WithWindow(win), WithBackend(backend), WithOutputDir(t.TempDir()))
	require.NoError(t, err)
	eng := e.(*engine)

	assert.Equal(t, int64(800), eng.fbWidth.Load())
	require.NotNil(t, win.resize)
	win.resize(1024, 768)
	assert.Equal(t, int64(1024), eng.fbWidth.Load())

	require.NotNil(t, win.keyDown)
	win.keyDown(common.KeyF8)
	assert.Len(t, eng.actions, 1)

	core.onFrame = func(n int) {
		if n == 3 {
			e.Quit()
		}
	}
	e.Run()

	assert.True(t, win.closed, "the window is destroyed after the render goroutine stopped")
	assert.True(t, e.Chain().Dead())
	draws := backend.Draws()
	require.NotEmpty(t, draws)
	assert.Equal(t, common.Rect{X: 128, Width: 768, Height: 768}, draws[len(draws)-1].Viewport)
}
