// Package preset loads shader presets: TOML files listing the passes of a render chain.
//
// A preset looks like:
//
//	feedback_pass = 0
//
//	[[pass]]
//	shader = "blur.wgsl"
//	scale_type = "source"
//	scale = 2.0
//	filter = "nearest"
//
//	[[pass]]
//	shader = "crt.wgsl"
//	scale_type = "viewport"
//
// Shader paths are relative to the preset file. A pass without a shader uses the stock
// pass-through program. Shaders may start with //@oxy:include pass to pull in the shared
// pass interface, see package shader.
package preset

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/Carmen-Shannon/oxy-chain/engine/renderer"
	"github.com/Carmen-Shannon/oxy-chain/engine/renderer/pass"
	"github.com/Carmen-Shannon/oxy-chain/engine/renderer/shader"
	"github.com/chewxy/math32"
	"github.com/pelletier/go-toml/v2"
)

// DefaultMaxPasses bounds the number of passes a preset may declare.
const DefaultMaxPasses = 64

// ErrInvalidPreset is wrapped by every validation failure.
var ErrInvalidPreset = errors.New("preset: invalid")

// File is the on-disk shape of a preset.
type File struct {
	FeedbackPass *int        `toml:"feedback_pass"`
	Passes       []PassEntry `toml:"pass"`
}

// PassEntry is one [[pass]] table.
type PassEntry struct {
	Shader string `toml:"shader"`
	Alias  string `toml:"alias"`
	Filter string `toml:"filter"`
	Wrap   string `toml:"wrap"`

	FloatFramebuffer bool `toml:"float_framebuffer"`
	SRGBFramebuffer  bool `toml:"srgb_framebuffer"`
	Mipmap           bool `toml:"mipmap_input"`

	ScaleType  *string  `toml:"scale_type"`
	ScaleTypeX *string  `toml:"scale_type_x"`
	ScaleTypeY *string  `toml:"scale_type_y"`
	Scale      *float32 `toml:"scale"`
	ScaleX     *float32 `toml:"scale_x"`
	ScaleY     *float32 `toml:"scale_y"`
	AbsoluteX  *int     `toml:"absolute_x"`
	AbsoluteY  *int     `toml:"absolute_y"`
}

// Preset is a validated, loaded preset.
type Preset struct {
	// Path is where the preset was loaded from, empty for in-memory presets.
	Path string

	// Passes are the ordered pass descriptors, each carrying its shader source.
	Passes []pass.Descriptor

	// FeedbackPass is the index of the pass whose previous output is fed back, or -1.
	FeedbackPass int
}

type loader struct {
	maxPasses int
}

// LoaderOption is a functional option applied to a preset load.
type LoaderOption func(*loader)

// WithMaxPasses overrides DefaultMaxPasses.
func WithMaxPasses(n int) LoaderOption {
	return func(l *loader) {
		l.maxPasses = n
	}
}

// Load reads and validates the preset at name, resolving shaders relative to its directory.
//
// Parameters:
//   - name: path of the TOML preset
//   - opts: variadic list of LoaderOption functions
//
// Returns:
//   - *Preset: the loaded preset
//   - error: an error if the preset or a shader could not be read, or validation failed
func Load(name string, opts ...LoaderOption) (*Preset, error) {
	dir, base := filepath.Split(name)
	if dir == "" {
		dir = "."
	}
	p, err := LoadFS(os.DirFS(dir), base, opts...)
	if err != nil {
		return nil, err
	}
	p.Path = name
	return p, nil
}

// LoadFS is Load on an fs.FS.
//
// Parameters:
//   - fsys: the file system holding the preset and its shaders
//   - name: slash-separated path of the preset within fsys
//   - opts: variadic list of LoaderOption functions
//
// Returns:
//   - *Preset: the loaded preset
//   - error: an error if the preset or a shader could not be read, or validation failed
func LoadFS(fsys fs.FS, name string, opts ...LoaderOption) (*Preset, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read preset: %w", err)
	}
	f, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	sources := make([]string, len(f.Passes))
	for i, pe := range f.Passes {
		if pe.Shader == "" {
			continue
		}
		src, err := fs.ReadFile(fsys, path.Join(path.Dir(name), pe.Shader))
		if err != nil {
			return nil, fmt.Errorf("pass %d shader: %w", i, err)
		}
		sources[i] = string(src)
	}

	p, err := Build(f, sources, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	p.Path = name
	return p, nil
}

// Decode parses preset TOML. Unknown keys are rejected.
//
// Parameters:
//   - data: the TOML document
//
// Returns:
//   - *File: the decoded file
//   - error: an error wrapping ErrInvalidPreset on malformed input
func Decode(data []byte) (*File, error) {
	var f File
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("%w: line %d column %d: %v", ErrInvalidPreset, row, col, derr)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidPreset, err)
	}
	return &f, nil
}

// Build validates f and converts it to pass descriptors. sources holds the shader source of
// each pass, empty for the stock program; it may be nil. Sources are pre-processed and
// checked against the pass interface.
//
// Parameters:
//   - f: the decoded preset
//   - sources: per-pass shader source
//   - opts: variadic list of LoaderOption functions
//
// Returns:
//   - *Preset: the validated preset
//   - error: an error wrapping ErrInvalidPreset if validation failed
func Build(f *File, sources []string, opts ...LoaderOption) (*Preset, error) {
	l := &loader{maxPasses: DefaultMaxPasses}
	for _, opt := range opts {
		opt(l)
	}

	n := len(f.Passes)
	if n == 0 {
		return nil, fmt.Errorf("%w: no passes", ErrInvalidPreset)
	}
	if n > l.maxPasses {
		return nil, fmt.Errorf("%w: %d passes exceed the maximum of %d", ErrInvalidPreset, n, l.maxPasses)
	}

	p := &Preset{FeedbackPass: -1, Passes: make([]pass.Descriptor, n)}
	if f.FeedbackPass != nil {
		fb := *f.FeedbackPass
		if fb < 0 || fb >= n {
			return nil, fmt.Errorf("%w: feedback_pass %d out of range [0, %d)", ErrInvalidPreset, fb, n)
		}
		p.FeedbackPass = fb
	}

	for i, pe := range f.Passes {
		passOpts, err := pe.options()
		if err != nil {
			return nil, fmt.Errorf("%w: pass %d: %v", ErrInvalidPreset, i, err)
		}
		if i < len(sources) && sources[i] != "" {
			prog, err := shader.Compile(sources[i])
			if err != nil {
				return nil, fmt.Errorf("%w: pass %d: %w", ErrInvalidPreset, i, err)
			}
			passOpts = append(passOpts, pass.WithSource(prog.Source))
		}
		p.Passes[i] = pass.NewDescriptor(i, passOpts...)
	}
	return p, nil
}

func (pe PassEntry) options() ([]pass.DescriptorBuilderOption, error) {
	opts := []pass.DescriptorBuilderOption{
		pass.WithAlias(pe.Alias),
		pass.WithFloatFramebuffer(pe.FloatFramebuffer),
		pass.WithSRGBFramebuffer(pe.SRGBFramebuffer),
		pass.WithMipmap(pe.Mipmap),
	}

	switch pe.Filter {
	case "":
	case "linear":
		opts = append(opts, pass.WithFilter(renderer.FilterLinear))
	case "nearest":
		opts = append(opts, pass.WithFilter(renderer.FilterNearest))
	default:
		return nil, fmt.Errorf("unknown filter %q", pe.Filter)
	}

	switch pe.Wrap {
	case "", "clamp_to_border":
		opts = append(opts, pass.WithWrap(renderer.WrapClampToBorder))
	case "clamp_to_edge":
		opts = append(opts, pass.WithWrap(renderer.WrapClampToEdge))
	case "repeat":
		opts = append(opts, pass.WithWrap(renderer.WrapRepeat))
	case "mirrored_repeat":
		opts = append(opts, pass.WithWrap(renderer.WrapMirroredRepeat))
	default:
		return nil, fmt.Errorf("unknown wrap mode %q", pe.Wrap)
	}

	scale, ok, err := pe.scale()
	if err != nil {
		return nil, err
	}
	if ok {
		opts = append(opts, pass.WithScale(scale))
	}
	return opts, nil
}

// scale resolves the per-axis scale keys. ok is false when the pass sets none of them.
func (pe PassEntry) scale() (pass.Scale, bool, error) {
	if pe.ScaleType == nil && pe.ScaleTypeX == nil && pe.ScaleTypeY == nil &&
		pe.Scale == nil && pe.ScaleX == nil && pe.ScaleY == nil &&
		pe.AbsoluteX == nil && pe.AbsoluteY == nil {
		return pass.Scale{}, false, nil
	}

	var s pass.Scale
	var err error
	if s.TypeX, err = pass.ParseScaleType(deref(pe.ScaleTypeX, deref(pe.ScaleType, ""))); err != nil {
		return s, false, err
	}
	if s.TypeY, err = pass.ParseScaleType(deref(pe.ScaleTypeY, deref(pe.ScaleType, ""))); err != nil {
		return s, false, err
	}

	s.FactorX = deref(pe.ScaleX, deref(pe.Scale, 1))
	s.FactorY = deref(pe.ScaleY, deref(pe.Scale, 1))
	s.AbsoluteX = deref(pe.AbsoluteX, 0)
	s.AbsoluteY = deref(pe.AbsoluteY, 0)

	if s.TypeX == pass.ScaleAbsolute {
		if s.AbsoluteX <= 0 {
			return s, false, fmt.Errorf("absolute_x must be positive, got %d", s.AbsoluteX)
		}
	} else if !finitePositive(s.FactorX) {
		return s, false, fmt.Errorf("scale_x must be positive and finite, got %g", s.FactorX)
	}
	if s.TypeY == pass.ScaleAbsolute {
		if s.AbsoluteY <= 0 {
			return s, false, fmt.Errorf("absolute_y must be positive, got %d", s.AbsoluteY)
		}
	} else if !finitePositive(s.FactorY) {
		return s, false, fmt.Errorf("scale_y must be positive and finite, got %g", s.FactorY)
	}
	s.Valid = true
	return s, true, nil
}

// finitePositive is false for NaN as well as zero, negative and infinite factors.
func finitePositive(f float32) bool {
	return f > 0 && !math32.IsInf(f, 1)
}

func deref[T any](p *T, fallback T) T {
	if p == nil {
		return fallback
	}
	return *p
}

// Register hands every pass source to the backend and returns descriptors bound to the
// resulting programs. Passes without source keep the stock program.
//
// Parameters:
//   - backend: the backend that compiles the programs
//
// Returns:
//   - []pass.Descriptor: the bound descriptors
//   - error: an error if a program was rejected
func (p *Preset) Register(backend renderer.Backend) ([]pass.Descriptor, error) {
	out := make([]pass.Descriptor, len(p.Passes))
	for i, d := range p.Passes {
		if d.Source() == "" {
			out[i] = d
			continue
		}
		prog, err := backend.RegisterProgram(d.Source())
		if err != nil {
			return nil, fmt.Errorf("register pass %d program: %w", i, err)
		}
		out[i] = d.WithProgram(prog)
	}
	return out, nil
}
