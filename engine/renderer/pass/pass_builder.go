package pass

import "github.com/Carmen-Shannon/oxy-chain/engine/renderer"

// DescriptorBuilderOption is a functional option used to configure a Descriptor during construction.
type DescriptorBuilderOption func(*descriptor)

// WithScale sets the scaling policy and marks it valid.
//
// Parameters:
//   - s: the scale
//
// Returns:
//   - DescriptorBuilderOption: a function that sets the scale
func WithScale(s Scale) DescriptorBuilderOption {
	return func(d *descriptor) {
		d.scale = s
		d.scale.Valid = true
	}
}

// WithInputScale scales the pass output relative to its input on both axes.
func WithInputScale(fx, fy float32) DescriptorBuilderOption {
	return WithScale(Scale{TypeX: ScaleInput, TypeY: ScaleInput, FactorX: fx, FactorY: fy})
}

// WithViewportScale scales the pass output relative to the viewport on both axes.
func WithViewportScale(fx, fy float32) DescriptorBuilderOption {
	return WithScale(Scale{TypeX: ScaleViewport, TypeY: ScaleViewport, FactorX: fx, FactorY: fy})
}

// WithAbsoluteScale fixes the pass output size in pixels.
func WithAbsoluteScale(w, h int) DescriptorBuilderOption {
	return WithScale(Scale{TypeX: ScaleAbsolute, TypeY: ScaleAbsolute, AbsoluteX: w, AbsoluteY: h})
}

// WithAlias names the pass.
func WithAlias(alias string) DescriptorBuilderOption {
	return func(d *descriptor) {
		d.alias = alias
	}
}

// WithFloatFramebuffer requests a half-float render target.
func WithFloatFramebuffer(enabled bool) DescriptorBuilderOption {
	return func(d *descriptor) {
		d.floatFramebuffer = enabled
	}
}

// WithSRGBFramebuffer requests an sRGB render target.
func WithSRGBFramebuffer(enabled bool) DescriptorBuilderOption {
	return func(d *descriptor) {
		d.srgbFramebuffer = enabled
	}
}

// WithMipmap requests a mip chain on the pass output.
func WithMipmap(enabled bool) DescriptorBuilderOption {
	return func(d *descriptor) {
		d.mipmap = enabled
	}
}

// WithFilter sets the input sampling filter.
//
// Parameters:
//   - f: the filter mode
//
// Returns:
//   - DescriptorBuilderOption: a function that sets the filter
func WithFilter(f renderer.FilterMode) DescriptorBuilderOption {
	return func(d *descriptor) {
		d.filter = f
	}
}

// WithWrap sets the input addressing mode.
//
// Parameters:
//   - w: the wrap mode
//
// Returns:
//   - DescriptorBuilderOption: a function that sets the wrap mode
func WithWrap(w renderer.WrapMode) DescriptorBuilderOption {
	return func(d *descriptor) {
		d.wrap = w
	}
}

// WithProgram binds an already registered backend program.
func WithProgram(p renderer.ProgramHandle) DescriptorBuilderOption {
	return func(d *descriptor) {
		d.program = p
	}
}

// WithSource records the shader source for later registration.
func WithSource(src string) DescriptorBuilderOption {
	return func(d *descriptor) {
		d.source = src
	}
}
