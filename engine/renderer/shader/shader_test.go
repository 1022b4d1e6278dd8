package shader

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fragment = `
@fragment
fn main_fs(in: VSOut) -> @location(0) vec4<f32> {
    return textureSample(source, samp, in.uv * params.source_scale);
}
`

func TestCompileStockProgram(t *testing.T) {
	p, err := Compile(StockProgramSource)
	require.NoError(t, err)

	assert.Equal(t, "vs_main", p.VertexEntry)
	assert.Equal(t, "fs_main", p.FragmentEntry)
	assert.Equal(t, uint64(ParamsSize), p.ParamsSize)
	assert.Equal(t, []AnnotationArg{AnnotationArgParams, AnnotationArgBindings, AnnotationArgVertex, AnnotationArgPass}, p.Includes)
	require.Len(t, p.Bindings, 5)

	b, ok := p.Binding(BindingParams)
	require.True(t, ok)
	assert.Equal(t, Binding{Group: 0, Binding: 4, AddressSpace: "uniform", Name: "params", Type: "Params"}, b)
	b, ok = p.Binding(BindingFeedback)
	require.True(t, ok)
	assert.Equal(t, "feedback", b.Name)
}

func TestProcessExpandsDependencies(t *testing.T) {
	pp := NewPreProcessor()
	out, err := pp.Process("//@oxy:include bindings\n//@oxy:include params\n  // @oxy:include vertex\n" + fragment)
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(out, "struct Params"), "params is injected once, before bindings")
	assert.Less(t, strings.Index(out, "struct Params"), strings.Index(out, "@group(0)"))
	assert.Contains(t, out, "fn vs_main")
	assert.Len(t, pp.Declarations(), 3)
	assert.Equal(t, 3, pp.Declarations()[2].Line)
	assert.Equal(t, []AnnotationArg{AnnotationArgParams, AnnotationArgBindings, AnnotationArgVertex}, pp.Included())
}

func TestProcessResetsBetweenCalls(t *testing.T) {
	pp := NewPreProcessor()
	_, err := pp.Process("//@oxy:include pass\n")
	require.NoError(t, err)

	out, err := pp.Process("//@oxy:include params\n")
	require.NoError(t, err)
	assert.Contains(t, out, "struct Params")
	assert.Len(t, pp.Declarations(), 1)
}

func TestParseAnnotationErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{name: "empty", line: "//@oxy:"},
		{name: "unknown type", line: "//@oxy:group 0 0 storage_uniform lut lut"},
		{name: "unknown block", line: "//@oxy:include lights"},
		{name: "missing argument", line: "//@oxy:include"},
		{name: "extra argument", line: "//@oxy:include pass vertex"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseAnnotation(tt.line, 7)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "line 7")
		})
	}

	a, err := parseAnnotation("let x = 1; // not @oxy:include here", 1)
	assert.NoError(t, err)
	assert.Nil(t, a, "annotations must start the line")
}

func TestCompileHandWrittenInterface(t *testing.T) {
	src := `
struct Small { size: vec4<f32> }
@group(0) @binding(1) var source: texture_2d<f32>;
@group(0) @binding(0) var samp: sampler;
@group(0) @binding(4) var<uniform> params: Small;
/* @group(1) @binding(0) var ignored: sampler; */
` + VertexSource + fragment

	p, err := Compile(src)
	require.NoError(t, err)
	assert.Equal(t, "main_fs", p.FragmentEntry)
	assert.Equal(t, uint64(16), p.ParamsSize)
	require.Len(t, p.Bindings, 3)
	assert.Equal(t, 0, p.Bindings[0].Binding, "bindings are sorted")
	_, ok := p.Binding(BindingOriginal)
	assert.False(t, ok)
}

func TestCompileRejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{name: "no vertex entry", src: "//@oxy:include params\n//@oxy:include bindings\n" + fragment, want: "@vertex"},
		{name: "no fragment entry", src: "//@oxy:include pass\n", want: "@fragment"},
		{name: "other group", src: "//@oxy:include pass\n@group(1) @binding(0) var extra: sampler;\n" + fragment, want: "group 1"},
		{name: "duplicate binding", src: "//@oxy:include pass\n@group(0) @binding(0) var s2: sampler;\n" + fragment, want: "declared twice"},
		{name: "wrong texture type", src: "//@oxy:include params\n//@oxy:include vertex\n@group(0) @binding(2) var original: texture_2d<u32>;\n" + fragment, want: "texture_2d<f32>"},
		{name: "storage params", src: "//@oxy:include params\n//@oxy:include vertex\n@group(0) @binding(4) var<storage, read> params: Params;\n" + fragment, want: "var<uniform>"},
		{name: "unknown slot", src: "//@oxy:include pass\n@group(0) @binding(5) var lut: texture_2d<f32>;\n" + fragment, want: "not part of the pass interface"},
		{name: "oversized params", src: "//@oxy:include vertex\nstruct Big { m: mat4x4<f32>, extra: vec4<f32> }\n@group(0) @binding(4) var<uniform> params: Big;\n" + fragment, want: "80 bytes"},
		{name: "bad annotation", src: "//@oxy:include shadow\n", want: "unknown block"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.src)
			require.ErrorIs(t, err, ErrInvalidProgram)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestStructLayout(t *testing.T) {
	structs := parseStructBlocks(stripComments(`
struct Inner { a: vec3<f32>, b: f32 }
struct Outer { x: f32, inner: Inner, arr: array<vec2<f32>, 3> }
`))
	sizes := computeStructSizes(structs)
	assert.Equal(t, wgslTypeLayout{size: 16, align: 16}, sizes["Inner"])
	assert.Equal(t, wgslTypeLayout{size: 80, align: 16}, sizes["Outer"], "uniform array elements are 16 byte strided")
}
