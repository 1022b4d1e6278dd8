// pre_processor.go implements the Oxy WGSL pass pre-processor. It scans pass program
// source for @oxy: annotations and replaces them with the registered interface blocks.
package shader

import (
	"fmt"
	"slices"
	"strings"
)

// registryEntry pairs a WGSL block with the blocks that must precede it.
type registryEntry struct {
	// Source is the raw WGSL text injected by @oxy:include. Empty for pure aliases.
	Source string

	// Requires lists blocks injected before Source when not yet present.
	Requires []AnnotationArg
}

// preProcessor is the implementation of the PreProcessor interface.
type preProcessor struct {
	// registry maps block keys to their WGSL source and dependencies.
	registry map[AnnotationArg]registryEntry

	// declarations accumulates the include annotations of the last Process call.
	declarations []Annotation

	// included tracks the blocks already injected during a Process call.
	included []AnnotationArg
}

// PreProcessor processes raw WGSL pass source containing @oxy: annotations.
type PreProcessor interface {
	// Process replaces every @oxy:include annotation with its block, dependencies first.
	// A block already injected earlier in the program is skipped.
	//
	// Parameters:
	//   - source: the raw WGSL source code containing annotations to be processed
	//
	// Returns:
	//   - string: the processed WGSL source
	//   - error: an error if any annotation is malformed
	Process(source string) (string, error)

	// Declarations returns the annotations of the most recent Process call, in source order.
	//
	// Returns:
	//   - []Annotation: the annotations collected during the last Process call
	Declarations() []Annotation

	// Included returns the blocks injected by the most recent Process call, in injection order.
	Included() []AnnotationArg
}

var _ PreProcessor = &preProcessor{}

// NewPreProcessor creates a new PreProcessor with the pass interface blocks registered.
//
// Returns:
//   - PreProcessor: a ready-to-use pre-processor instance
func NewPreProcessor() PreProcessor {
	return &preProcessor{
		registry: map[AnnotationArg]registryEntry{
			AnnotationArgParams:   {Source: ParamsSource},
			AnnotationArgBindings: {Source: BindingsSource, Requires: []AnnotationArg{AnnotationArgParams}},
			AnnotationArgVertex:   {Source: VertexSource},
			AnnotationArgPass:     {Requires: []AnnotationArg{AnnotationArgParams, AnnotationArgBindings, AnnotationArgVertex}},
		},
	}
}

func (p *preProcessor) Process(source string) (string, error) {
	p.declarations = p.declarations[:0]
	p.included = p.included[:0]

	lines := strings.Split(source, "\n")
	out := make([]string, 0, len(lines))

	for i, line := range lines {
		a, err := parseAnnotation(line, i+1)
		if err != nil {
			return "", err
		}
		if a == nil {
			out = append(out, line)
			continue
		}

		switch a.Type {
		case AnnotationTypeInclude:
			blocks, err := p.expand(a.Args[0], nil)
			if err != nil {
				return "", fmt.Errorf("line %d: %w", i+1, err)
			}
			out = append(out, blocks...)
			p.declarations = append(p.declarations, *a)
		default:
			return "", fmt.Errorf("line %d: unknown annotation type %q", i+1, a.Type)
		}
	}
	return strings.Join(out, "\n"), nil
}

// expand returns the sources of key and its missing dependencies, depth first.
func (p *preProcessor) expand(key AnnotationArg, stack []AnnotationArg) ([]string, error) {
	if slices.Contains(p.included, key) {
		return nil, nil
	}
	if slices.Contains(stack, key) {
		return nil, fmt.Errorf("include cycle through %q", key)
	}
	entry, ok := p.registry[key]
	if !ok {
		return nil, fmt.Errorf("unknown @oxy:include argument %q", key)
	}

	var out []string
	for _, dep := range entry.Requires {
		deps, err := p.expand(dep, append(stack, key))
		if err != nil {
			return nil, err
		}
		out = append(out, deps...)
	}
	p.included = append(p.included, key)
	if entry.Source != "" {
		out = append(out, entry.Source)
	}
	return out, nil
}

func (p *preProcessor) Declarations() []Annotation {
	return p.declarations
}

func (p *preProcessor) Included() []AnnotationArg {
	return p.included
}
