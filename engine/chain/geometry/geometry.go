// Package geometry computes the logical and allocated size of every pass in a render chain.
package geometry

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-chain/common"
	"github.com/Carmen-Shannon/oxy-chain/engine/renderer/pass"
	"github.com/chewxy/math32"
)

// Geometry is the output size of one pass.
type Geometry struct {
	// Width and Height are the logical output size.
	Width, Height int

	// MaxWidth and MaxHeight are the largest logical size the pass can produce for the
	// current source, used to derive downstream maxima.
	MaxWidth, MaxHeight int

	// PaddedWidth and PaddedHeight are the allocated texture size.
	PaddedWidth, PaddedHeight int

	// Clamped is true when a dimension was limited to the device maximum.
	Clamped bool
}

// Calculator computes pass geometry against a device texture-size limit. Results depend only
// on the arguments; the calculator itself only counts clamp events.
type Calculator struct {
	maxSize int
	logger  *slog.Logger

	clamps atomic.Uint64
	warned atomic.Bool
}

// CalculatorOption is a functional option applied to a Calculator during construction.
type CalculatorOption func(*Calculator)

// WithLogger sets the logger clamp events are reported to.
func WithLogger(l *slog.Logger) CalculatorOption {
	return func(c *Calculator) {
		c.logger = l
	}
}

// NewCalculator creates a calculator for a device whose textures may not exceed maxTextureSize.
//
// Parameters:
//   - maxTextureSize: the device limit M
//   - opts: variadic list of CalculatorOption functions
//
// Returns:
//   - *Calculator: the new calculator
func NewCalculator(maxTextureSize int, opts ...CalculatorOption) *Calculator {
	c := &Calculator{maxSize: maxTextureSize, logger: common.Logger()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxTextureSize returns the device limit the calculator clamps to.
func (c *Calculator) MaxTextureSize() int {
	return c.maxSize
}

// Clamps returns the number of Compute calls that had to clamp.
func (c *Calculator) Clamps() uint64 {
	return c.clamps.Load()
}

// unclampedLimit bounds scaled sizes when the calculator has no device limit.
const unclampedLimit = 1 << 30

// scaled returns floor(v*factor). Products that are not positive, including NaN, yield 0;
// products above limit yield limit+1 so the caller clamps them.
func scaled(v int, factor float32, limit int) int {
	f := float32(v) * factor
	if !(f > 0) {
		return 0
	}
	if f > float32(limit) {
		return limit + 1
	}
	return int(math32.Floor(f))
}

// axis computes one dimension of a pass.
func axis(t pass.ScaleType, factor float32, absolute, last, lastMax, viewport, limit int) (int, int) {
	switch t {
	case pass.ScaleAbsolute:
		return absolute, absolute
	case pass.ScaleViewport:
		v := scaled(viewport, factor, limit)
		return v, v
	default:
		return scaled(last, factor, limit), scaled(lastMax, factor, limit)
	}
}

// Compute returns the geometry of the pass described by d given its upstream size.
//
// Parameters:
//   - d: the pass descriptor; passes without a valid scale behave as Input 1x1
//   - lastW, lastH: logical size of the upstream pass or source frame
//   - lastMaxW, lastMaxH: maximum size of the upstream pass or source frame
//   - vpW, vpH: output viewport size
//
// Returns:
//   - Geometry: the pass geometry
func (c *Calculator) Compute(d pass.Descriptor, lastW, lastH, lastMaxW, lastMaxH, vpW, vpH int) Geometry {
	s := d.EffectiveScale()
	limit := c.maxSize
	if limit <= 0 {
		limit = unclampedLimit
	}
	var g Geometry
	g.Width, g.MaxWidth = axis(s.TypeX, s.FactorX, s.AbsoluteX, lastW, lastMaxW, vpW, limit)
	g.Height, g.MaxHeight = axis(s.TypeY, s.FactorY, s.AbsoluteY, lastH, lastMaxH, vpH, limit)

	g.Width, g.Height = max(g.Width, 1), max(g.Height, 1)
	g.MaxWidth, g.MaxHeight = max(g.MaxWidth, 1), max(g.MaxHeight, 1)

	if c.maxSize > 0 {
		for _, v := range []*int{&g.Width, &g.Height, &g.MaxWidth, &g.MaxHeight} {
			if *v > c.maxSize {
				*v = c.maxSize
				g.Clamped = true
			}
		}
	}
	if g.Clamped {
		c.clamps.Add(1)
		level := slog.LevelDebug
		if c.warned.CompareAndSwap(false, true) {
			level = slog.LevelWarn
		}
		c.logger.Log(context.Background(), level, "pass size clamped to device maximum",
			slog.Int("pass", d.Index()),
			slog.Int("width", g.Width),
			slog.Int("height", g.Height),
			slog.Int("max_texture_size", c.maxSize))
	}

	pad := common.NextPow2(max(g.Width, g.Height))
	if c.maxSize > 0 {
		pad = min(pad, c.maxSize)
	}
	g.PaddedWidth, g.PaddedHeight = pad, pad
	return g
}

// ComputeChain recomputes every pass left to right, each pass taking the previous one's
// output as its input. The final pass without an explicit scale draws to the viewport and
// gets the viewport size with no padding.
//
// Parameters:
//   - descs: the ordered pass descriptors
//   - srcW, srcH: source frame size
//   - srcMaxW, srcMaxH: largest source frame size the core may produce
//   - vpW, vpH: output viewport size
//
// Returns:
//   - []Geometry: one geometry per pass
func (c *Calculator) ComputeChain(descs []pass.Descriptor, srcW, srcH, srcMaxW, srcMaxH, vpW, vpH int) []Geometry {
	out := make([]Geometry, len(descs))
	lastW, lastH := srcW, srcH
	lastMaxW, lastMaxH := max(srcMaxW, srcW), max(srcMaxH, srcH)
	for i, d := range descs {
		if !pass.RendersToFramebuffer(descs, i) {
			out[i] = Geometry{
				Width: vpW, Height: vpH,
				MaxWidth: vpW, MaxHeight: vpH,
				PaddedWidth: vpW, PaddedHeight: vpH,
			}
			continue
		}
		g := c.Compute(d, lastW, lastH, lastMaxW, lastMaxH, vpW, vpH)
		out[i] = g
		lastW, lastH = g.Width, g.Height
		lastMaxW, lastMaxH = g.MaxWidth, g.MaxHeight
	}
	return out
}
