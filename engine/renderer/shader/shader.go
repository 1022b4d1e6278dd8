// Package shader pre-processes and reflects WGSL pass programs.
package shader

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidProgram is returned when a pass program does not match the pass interface.
var ErrInvalidProgram = errors.New("shader: invalid pass program")

// Binding is one resource declaration of a program.
type Binding struct {
	Group   int
	Binding int

	// AddressSpace is the var<> qualifier, empty for handle types.
	AddressSpace string
	Name         string
	Type         string
}

// Program is a pre-processed, reflected pass program.
type Program struct {
	// Source is the WGSL with every annotation expanded.
	Source string

	VertexEntry   string
	FragmentEntry string

	Bindings []Binding

	// Includes lists the interface blocks injected by annotations.
	Includes []AnnotationArg

	// ParamsSize is the byte size of the uniform bound at BindingParams, zero when unbound.
	ParamsSize uint64
}

// Binding returns the declaration at group 0 slot, if any.
func (p *Program) Binding(slot int) (Binding, bool) {
	for _, b := range p.Bindings {
		if b.Group == 0 && b.Binding == slot {
			return b, true
		}
	}
	return Binding{}, false
}

// Compile expands annotations in source and checks the result against the pass interface:
// both entry points exist, only bind group 0 is used, and every declared slot has the type
// the render chain binds to it.
//
// Parameters:
//   - source: raw WGSL pass source
//
// Returns:
//   - *Program: the reflected program
//   - error: an error wrapping ErrInvalidProgram, or an annotation error
func Compile(source string) (*Program, error) {
	pp := NewPreProcessor()
	processed, err := pp.Process(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProgram, err)
	}

	cleaned := stripComments(processed)
	p := &Program{
		Source:        processed,
		VertexEntry:   parseEntryPoint(cleaned, StageVertex),
		FragmentEntry: parseEntryPoint(cleaned, StageFragment),
		Bindings:      parseBindings(cleaned),
		Includes:      slices.Clone(pp.Included()),
	}
	if p.VertexEntry == "" {
		return nil, fmt.Errorf("%w: no @vertex entry point, add //@oxy:include vertex", ErrInvalidProgram)
	}
	if p.FragmentEntry == "" {
		return nil, fmt.Errorf("%w: no @fragment entry point", ErrInvalidProgram)
	}

	sizes := computeStructSizes(parseStructBlocks(cleaned))
	seen := make(map[int]bool, len(p.Bindings))
	for _, b := range p.Bindings {
		if b.Group != 0 {
			return nil, fmt.Errorf("%w: %s uses bind group %d, only group 0 is bound", ErrInvalidProgram, b.Name, b.Group)
		}
		if seen[b.Binding] {
			return nil, fmt.Errorf("%w: binding %d declared twice", ErrInvalidProgram, b.Binding)
		}
		seen[b.Binding] = true

		if err := checkBinding(b); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidProgram, b.Name, err)
		}
		if b.Binding == BindingParams {
			layout, ok := resolveTypeLayout(b.Type, sizes)
			if !ok {
				return nil, fmt.Errorf("%w: %s: unknown uniform type %q", ErrInvalidProgram, b.Name, b.Type)
			}
			if layout.size > ParamsSize {
				return nil, fmt.Errorf("%w: %s: uniform is %d bytes, at most %d are bound",
					ErrInvalidProgram, b.Name, layout.size, ParamsSize)
			}
			p.ParamsSize = layout.size
		}
	}
	return p, nil
}

// checkBinding verifies that one group 0 declaration matches its slot.
func checkBinding(b Binding) error {
	switch b.Binding {
	case BindingSampler:
		if b.Type != "sampler" {
			return fmt.Errorf("binding %d must be a sampler, got %s", b.Binding, b.Type)
		}
	case BindingSource, BindingOriginal, BindingFeedback:
		base, params := splitTypeParams(b.Type)
		if base != "texture_2d" || params != "f32" {
			return fmt.Errorf("binding %d must be texture_2d<f32>, got %s", b.Binding, b.Type)
		}
	case BindingParams:
		if b.AddressSpace != "uniform" {
			return fmt.Errorf("binding %d must be var<uniform>, got var<%s>", b.Binding, b.AddressSpace)
		}
	default:
		return fmt.Errorf("binding %d is not part of the pass interface", b.Binding)
	}
	return nil
}
