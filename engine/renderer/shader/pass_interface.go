package shader

// ParamsSize is the byte size of the Params uniform bound at group 0, binding 4.
const ParamsSize = 64

// Bind group 0 slots of the pass interface.
const (
	BindingSampler  = 0
	BindingSource   = 1
	BindingOriginal = 2
	BindingFeedback = 3
	BindingParams   = 4
)

// ParamsSource declares the per-draw uniform block. Sizes are (width, height, 1/width,
// 1/height); the scale fields map the logical region onto the padded texture.
const ParamsSource = `struct Params {
    source_size: vec4<f32>,
    output_size: vec4<f32>,
    source_scale: vec2<f32>,
    original_scale: vec2<f32>,
    feedback_scale: vec2<f32>,
    frame_count: f32,
    _pad: f32,
}`

// BindingsSource declares bind group 0.
const BindingsSource = `@group(0) @binding(0) var samp: sampler;
@group(0) @binding(1) var source: texture_2d<f32>;
@group(0) @binding(2) var original: texture_2d<f32>;
@group(0) @binding(3) var feedback: texture_2d<f32>;
@group(0) @binding(4) var<uniform> params: Params;`

// VertexSource declares the full-screen triangle shared by every pass.
const VertexSource = `struct VSOut {
    @builtin(position) pos: vec4<f32>,
    @location(0) uv: vec2<f32>,
}

@vertex
fn vs_main(@builtin(vertex_index) i: u32) -> VSOut {
    var out: VSOut;
    let xy = vec2<f32>(f32((i << 1u) & 2u), f32(i & 2u));
    out.pos = vec4<f32>(xy * 2.0 - 1.0, 0.0, 1.0);
    out.uv = vec2<f32>(xy.x, 1.0 - xy.y);
    return out;
}`

// StockProgramSource is the pass-through program used for pass-through fallback and the
// final blit.
const StockProgramSource = `//@oxy:include pass

@fragment
fn fs_main(in: VSOut) -> @location(0) vec4<f32> {
    return textureSample(source, samp, in.uv * params.source_scale);
}
`
