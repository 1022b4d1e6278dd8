// annotations.go defines the annotation types, argument constants, and parser for the
// Oxy WGSL pass pre-processor. Annotations are single-line WGSL comments prefixed
// with @oxy: that inject the shared pass interface into a pass program so shader authors
// do not have to restate the bind group 0 layout the render chain binds for every draw.
package shader

import (
	"fmt"
	"slices"
	"strings"
)

// annotationPrefix is the marker that identifies an Oxy annotation within a WGSL comment line.
// Every annotation must appear on a line beginning with "//" followed by this prefix.
const annotationPrefix = "@oxy:"

// AnnotationType identifies the kind of annotation parsed from a WGSL comment line.
type AnnotationType string

const (
	// AnnotationTypeInclude injects the WGSL source of a registered interface block at the
	// annotation site. Blocks a block depends on are injected first; a block is injected at
	// most once per program.
	//
	// Syntax: //@oxy:include <block>
	//
	// Example: //@oxy:include pass
	AnnotationTypeInclude AnnotationType = "include"
)

// Annotation represents a single parsed @oxy: annotation from a WGSL shader source line.
type Annotation struct {
	// Type identifies which annotation was parsed.
	Type AnnotationType

	// Args holds the annotation's arguments. For include, [0] is the block key.
	Args []AnnotationArg

	// Line is the 1-based line number in the original WGSL source where this annotation
	// was found. Used for error reporting.
	Line int
}

// AnnotationArg is a typed string constant used as an argument in annotations.
type AnnotationArg string

// ── Interface block arguments ──────────────────────────────────────────────────
// These identify the registered WGSL blocks of the pass interface.

const (
	// AnnotationArgParams identifies the Params uniform struct: source, output and
	// feedback sizes plus the frame counter.
	AnnotationArgParams AnnotationArg = "params"

	// AnnotationArgBindings identifies the bind group 0 declarations: sampler, source,
	// original and feedback textures and the Params uniform. Requires params.
	AnnotationArgBindings AnnotationArg = "bindings"

	// AnnotationArgVertex identifies the VSOut struct and the full-screen triangle vs_main.
	AnnotationArgVertex AnnotationArg = "vertex"

	// AnnotationArgPass is shorthand for params, bindings and vertex.
	AnnotationArgPass AnnotationArg = "pass"
)

// validBlocks lists all AnnotationArg values that are accepted by @oxy:include.
// Each entry must have a corresponding registryEntry in the PreProcessor's registry.
var validBlocks = []AnnotationArg{
	AnnotationArgParams,
	AnnotationArgBindings,
	AnnotationArgVertex,
	AnnotationArgPass,
}

// parseAnnotation attempts to parse a single line of WGSL source as an @oxy: annotation.
// Returns nil with no error for lines that do not contain the annotation prefix.
//
// Parameters:
//   - line: the raw WGSL source line to parse
//   - lineNum: the 1-based line number for error reporting
//
// Returns:
//   - *Annotation: the parsed annotation, or nil if the line is not an annotation
//   - error: a descriptive error if the annotation is malformed
func parseAnnotation(line string, lineNum int) (*Annotation, error) {
	trimmed := strings.TrimSpace(line)
	comment, ok := strings.CutPrefix(trimmed, "//")
	if !ok {
		return nil, nil
	}
	after, ok := strings.CutPrefix(strings.TrimSpace(comment), annotationPrefix)
	if !ok {
		return nil, nil
	}

	args := strings.Fields(after)
	if len(args) == 0 {
		return nil, fmt.Errorf("line %d: empty @oxy annotation", lineNum)
	}

	switch args[0] {
	case string(AnnotationTypeInclude):
		if len(args) != 2 {
			return nil, fmt.Errorf("line %d: @oxy include annotation requires exactly one argument", lineNum)
		}
		if !slices.Contains(validBlocks, AnnotationArg(args[1])) {
			return nil, fmt.Errorf("line %d: unknown block %q in @oxy include annotation", lineNum, args[1])
		}
		return &Annotation{
			Type: AnnotationTypeInclude,
			Args: []AnnotationArg{AnnotationArg(args[1])},
			Line: lineNum,
		}, nil
	default:
		return nil, fmt.Errorf("line %d: unknown @oxy annotation type %q", lineNum, args[0])
	}
}
