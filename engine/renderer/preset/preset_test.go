package preset

import (
	"testing"
	"testing/fstest"

	"github.com/Carmen-Shannon/oxy-chain/engine/renderer"
	"github.com/Carmen-Shannon/oxy-chain/engine/renderer/pass"
	"github.com/Carmen-Shannon/oxy-chain/engine/renderer/shader"
	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fragmentOnly = `//@oxy:include pass

@fragment
fn fs_main(in: VSOut) -> @location(0) vec4<f32> {
    return textureSample(source, samp, in.uv * params.source_scale);
}
`

const threePass = `
feedback_pass = 1

[[pass]]
shader = "shaders/scale.wgsl"
scale_type = "source"
scale = 2.0
filter = "nearest"

[[pass]]
alias = "history"
scale_type = "source"
scale = 1.0
float_framebuffer = true

[[pass]]
shader = "shaders/crt.wgsl"
scale_type = "viewport"
wrap = "repeat"
`

func TestLoadFS(t *testing.T) {
	fsys := fstest.MapFS{
		"presets/crt.toml":            {Data: []byte(threePass)},
		"presets/shaders/scale.wgsl":  {Data: []byte(fragmentOnly)},
		"presets/shaders/crt.wgsl":    {Data: []byte("// crt\n" + fragmentOnly)},
		"presets/shaders/unused.wgsl": {Data: []byte("// unused")},
	}

	p, err := LoadFS(fsys, "presets/crt.toml")
	require.NoError(t, err)
	require.Len(t, p.Passes, 3)
	assert.Equal(t, 1, p.FeedbackPass)

	p0 := p.Passes[0]
	assert.Equal(t, pass.Scale{TypeX: pass.ScaleInput, TypeY: pass.ScaleInput, FactorX: 2, FactorY: 2, Valid: true}, p0.Scale())
	assert.Equal(t, renderer.FilterNearest, p0.Filter())
	assert.Contains(t, p0.Source(), "struct Params")
	assert.Contains(t, p0.Source(), "fn vs_main")
	assert.NotContains(t, p0.Source(), "@oxy:")

	p1 := p.Passes[1]
	assert.Equal(t, "history", p1.Alias())
	assert.True(t, p1.FloatFramebuffer())
	assert.Empty(t, p1.Source())

	p2 := p.Passes[2]
	assert.Equal(t, pass.ScaleViewport, p2.Scale().TypeX)
	assert.Equal(t, float32(1), p2.Scale().FactorX)
	assert.Equal(t, renderer.WrapRepeat, p2.Wrap())
}

func TestLoadFSMissingShader(t *testing.T) {
	fsys := fstest.MapFS{
		"p.toml": {Data: []byte("[[pass]]\nshader = \"missing.wgsl\"\n")},
	}
	_, err := LoadFS(fsys, "p.toml")
	assert.Error(t, err)
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	_, err := Decode([]byte("[[pass]]\nscale_tpye = \"source\"\n"))
	assert.ErrorIs(t, err, ErrInvalidPreset)
}

func TestBuildValidation(t *testing.T) {
	neg := -1
	two := 2
	zero := float32(0)
	nan := math32.NaN()
	inf := math32.Inf(1)
	abs := "absolute"
	bogus := "window"

	tests := []struct {
		name string
		file File
		opts []LoaderOption
	}{
		{name: "no passes", file: File{}},
		{name: "too many passes", file: File{Passes: make([]PassEntry, 3)}, opts: []LoaderOption{WithMaxPasses(2)}},
		{name: "negative feedback", file: File{FeedbackPass: &neg, Passes: make([]PassEntry, 1)}},
		{name: "feedback out of range", file: File{FeedbackPass: &two, Passes: make([]PassEntry, 2)}},
		{name: "zero factor", file: File{Passes: []PassEntry{{Scale: &zero}}}},
		{name: "nan factor", file: File{Passes: []PassEntry{{Scale: &nan}}}},
		{name: "infinite factor", file: File{Passes: []PassEntry{{ScaleY: &inf}}}},
		{name: "absolute without size", file: File{Passes: []PassEntry{{ScaleType: &abs}}}},
		{name: "unknown scale type", file: File{Passes: []PassEntry{{ScaleType: &bogus}}}},
		{name: "unknown filter", file: File{Passes: []PassEntry{{Filter: "cubic"}}}},
		{name: "unknown wrap", file: File{Passes: []PassEntry{{Wrap: "border"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(&tt.file, nil, tt.opts...)
			assert.ErrorIs(t, err, ErrInvalidPreset)
		})
	}
}

func TestDecodeRejectsNaNScale(t *testing.T) {
	f, err := Decode([]byte("[[pass]]\nscale_type = \"source\"\nscale = nan\n"))
	require.NoError(t, err)
	_, err = Build(f, nil)
	assert.ErrorIs(t, err, ErrInvalidPreset)
	assert.ErrorContains(t, err, "finite")
}

func TestBuildPerAxisScale(t *testing.T) {
	abs := "absolute"
	vp := "viewport"
	w := 256
	half := float32(0.5)

	p, err := Build(&File{Passes: []PassEntry{{ScaleTypeX: &abs, AbsoluteX: &w, ScaleTypeY: &vp, ScaleY: &half}}}, nil)
	require.NoError(t, err)
	s := p.Passes[0].Scale()
	assert.Equal(t, pass.ScaleAbsolute, s.TypeX)
	assert.Equal(t, 256, s.AbsoluteX)
	assert.Equal(t, pass.ScaleViewport, s.TypeY)
	assert.Equal(t, float32(0.5), s.FactorY)
	assert.Equal(t, -1, p.FeedbackPass)
}

func TestRegister(t *testing.T) {
	backend := renderer.NewSoftwareBackend()
	p, err := Build(&File{Passes: make([]PassEntry, 2)}, []string{fragmentOnly, ""})
	require.NoError(t, err)

	descs, err := p.Register(backend)
	require.NoError(t, err)
	assert.NotZero(t, descs[0].Program())
	assert.Zero(t, descs[1].Program())
	assert.Zero(t, p.Passes[0].Program(), "preset descriptors stay unbound")
}

func TestBuildRejectsInvalidProgram(t *testing.T) {
	_, err := Build(&File{Passes: make([]PassEntry, 1)}, []string{"@fragment\nfn fs_main() {}\n"})
	assert.ErrorIs(t, err, ErrInvalidPreset)
	assert.ErrorIs(t, err, shader.ErrInvalidProgram)
}
