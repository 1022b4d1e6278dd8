package pass

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-chain/engine/renderer"
)

// ScaleType selects what a pass's output size is relative to.
type ScaleType int

const (
	// ScaleInput scales the previous pass output (or the source frame for pass 0).
	ScaleInput ScaleType = iota

	// ScaleAbsolute uses a fixed pixel size.
	ScaleAbsolute

	// ScaleViewport scales the output viewport.
	ScaleViewport
)

// String returns the preset spelling of the scale type.
func (t ScaleType) String() string {
	switch t {
	case ScaleInput:
		return "source"
	case ScaleAbsolute:
		return "absolute"
	case ScaleViewport:
		return "viewport"
	default:
		return fmt.Sprintf("ScaleType(%d)", int(t))
	}
}

// ParseScaleType parses a preset scale type. "source" and "input" both mean ScaleInput.
//
// Parameters:
//   - s: the preset spelling
//
// Returns:
//   - ScaleType: the parsed scale type
//   - error: an error if s is not a known scale type
func ParseScaleType(s string) (ScaleType, error) {
	switch s {
	case "", "source", "input":
		return ScaleInput, nil
	case "absolute":
		return ScaleAbsolute, nil
	case "viewport":
		return ScaleViewport, nil
	default:
		return 0, fmt.Errorf("unknown scale type %q", s)
	}
}

// Scale is the per-axis scaling policy of a pass. Factors apply to Input and Viewport
// scaling, Absolute sizes to Absolute scaling.
type Scale struct {
	TypeX, TypeY         ScaleType
	FactorX, FactorY     float32
	AbsoluteX, AbsoluteY int

	// Valid is false when the preset did not specify a scale for the pass.
	Valid bool
}

// identityScale is the scale a non-final pass without an explicit scale behaves as.
var identityScale = Scale{TypeX: ScaleInput, TypeY: ScaleInput, FactorX: 1, FactorY: 1, Valid: true}

// descriptor is the implementation of the Descriptor interface.
type descriptor struct {
	index int
	alias string
	scale Scale

	floatFramebuffer bool
	srgbFramebuffer  bool
	mipmap           bool

	filter  renderer.FilterMode
	wrap    renderer.WrapMode
	program renderer.ProgramHandle
	source  string
}

// Descriptor is one shader pass of a preset. It is immutable once built.
type Descriptor interface {
	// Index returns the position of the pass in the chain, starting at 0.
	Index() int

	// Alias returns the optional name other passes may refer to this pass by.
	Alias() string

	// Scale returns the scaling policy as configured, which may be invalid.
	Scale() Scale

	// EffectiveScale returns the scale used for geometry. Passes without a valid scale
	// behave as Input 1x1.
	EffectiveScale() Scale

	// FloatFramebuffer reports whether the pass asked for a half-float render target.
	FloatFramebuffer() bool

	// SRGBFramebuffer reports whether the pass asked for an sRGB render target.
	SRGBFramebuffer() bool

	// Mipmap reports whether the pass output should carry a mip chain when sampled.
	Mipmap() bool

	// Filter returns the sampling filter applied to the pass input.
	Filter() renderer.FilterMode

	// Wrap returns the addressing mode applied to the pass input.
	Wrap() renderer.WrapMode

	// Program returns the backend program handle, zero for the stock pass-through program.
	Program() renderer.ProgramHandle

	// Source returns the shader source the program was built from, if known.
	Source() string

	// WithProgram returns a copy of the descriptor bound to program.
	//
	// Parameters:
	//   - program: the registered backend program
	//
	// Returns:
	//   - Descriptor: the bound copy
	WithProgram(program renderer.ProgramHandle) Descriptor
}

var _ Descriptor = &descriptor{}

// NewDescriptor creates the descriptor for the pass at index.
//
// Parameters:
//   - index: the pass index
//   - opts: a variadic list of DescriptorBuilderOption functions
//
// Returns:
//   - Descriptor: the immutable pass descriptor
func NewDescriptor(index int, opts ...DescriptorBuilderOption) Descriptor {
	d := &descriptor{
		index:  index,
		filter: renderer.FilterUnspecified,
		wrap:   renderer.WrapClampToBorder,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *descriptor) Index() int { return d.index }

func (d *descriptor) Alias() string { return d.alias }

func (d *descriptor) Scale() Scale { return d.scale }

func (d *descriptor) EffectiveScale() Scale {
	if !d.scale.Valid {
		return identityScale
	}
	return d.scale
}

func (d *descriptor) FloatFramebuffer() bool { return d.floatFramebuffer }

func (d *descriptor) SRGBFramebuffer() bool { return d.srgbFramebuffer }

func (d *descriptor) Mipmap() bool { return d.mipmap }

func (d *descriptor) Filter() renderer.FilterMode { return d.filter }

func (d *descriptor) Wrap() renderer.WrapMode { return d.wrap }

func (d *descriptor) Program() renderer.ProgramHandle { return d.program }

func (d *descriptor) Source() string { return d.source }

func (d *descriptor) WithProgram(program renderer.ProgramHandle) Descriptor {
	c := *d
	c.program = program
	return &c
}

// RendersToFramebuffer reports whether the pass at position i of descs draws into its own
// framebuffer. Every pass but the last does; the last one only when it has an explicit scale,
// in which case a stock pass blits its output to the backbuffer.
//
// Parameters:
//   - descs: the ordered passes of a preset
//   - i: the pass position
//
// Returns:
//   - bool: true if the pass needs an FBO
func RendersToFramebuffer(descs []Descriptor, i int) bool {
	if i < len(descs)-1 {
		return true
	}
	return descs[i].Scale().Valid
}
