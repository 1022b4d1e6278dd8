package shader

import (
	"slices"
	"strconv"
	"strings"
)

// uniformLayouts maps the host-shareable WGSL scalar, vector and matrix types that may
// appear in a uniform block to their size and alignment.
//
// Reference: https://www.w3.org/TR/WGSL/#alignment-and-size
var uniformLayouts = buildUniformLayouts()

func buildUniformLayouts() map[string]wgslTypeLayout {
	layouts := make(map[string]wgslTypeLayout, 64)
	vec := func(n uint64) wgslTypeLayout {
		if n == 2 {
			return wgslTypeLayout{8, 8}
		}
		return wgslTypeLayout{4 * n, 16}
	}

	for _, scalar := range []string{"f32", "i32", "u32"} {
		layouts[scalar] = wgslTypeLayout{4, 4}
		suffix := scalar[:1]
		for n := uint64(2); n <= 4; n++ {
			l := vec(n)
			size := strconv.FormatUint(n, 10)
			layouts["vec"+size+"<"+scalar+">"] = l
			layouts["vec"+size+suffix] = l
		}
	}

	// matCxR is C columns of vecR.
	for c := uint64(2); c <= 4; c++ {
		for r := uint64(2); r <= 4; r++ {
			col := vec(r)
			l := wgslTypeLayout{c * roundUpAlign(col.align, col.size), col.align}
			name := "mat" + strconv.FormatUint(c, 10) + "x" + strconv.FormatUint(r, 10)
			layouts[name+"<f32>"] = l
			layouts[name+"f"] = l
		}
	}
	return layouts
}

// roundUpAlign rounds value up to the next multiple of alignment, a power of two.
func roundUpAlign(alignment, value uint64) uint64 {
	if alignment == 0 {
		return value
	}
	return (value + alignment - 1) &^ (alignment - 1)
}

// resolveTypeLayout resolves a type used inside a uniform block. Fixed-size arrays use the
// uniform address space stride of 16 bytes per element at minimum; runtime-sized arrays
// and unknown types do not resolve.
//
// Parameters:
//   - typeName: the WGSL type name, e.g. "f32", "Params", "array<vec4<f32>, 4>"
//   - structs: already-resolved struct layouts
//
// Returns:
//   - wgslTypeLayout: the resolved layout
//   - bool: true if the type resolved
func resolveTypeLayout(typeName string, structs map[string]wgslTypeLayout) (wgslTypeLayout, bool) {
	if l, ok := uniformLayouts[typeName]; ok {
		return l, true
	}
	if l, ok := structs[typeName]; ok {
		return l, true
	}

	base, params := splitTypeParams(typeName)
	if base != "array" {
		return wgslTypeLayout{}, false
	}
	comma := strings.LastIndexByte(params, ',')
	if comma < 0 || strings.Contains(params[comma:], ">") {
		return wgslTypeLayout{}, false
	}
	elemType, countStr := params[:comma], params[comma+1:]
	count, err := strconv.ParseUint(strings.TrimSpace(countStr), 10, 64)
	if err != nil || count == 0 {
		return wgslTypeLayout{}, false
	}
	elem, ok := resolveTypeLayout(strings.TrimSpace(elemType), structs)
	if !ok {
		return wgslTypeLayout{}, false
	}
	align := roundUpAlign(16, elem.align)
	stride := roundUpAlign(align, elem.size)
	return wgslTypeLayout{count * stride, align}, true
}

// computeStructLayout lays out one struct with uniform address space rules: members
// start at their aligned offset, struct-typed members align to 16, and the size rounds
// up to the largest member alignment. Builtin fields are not part of the layout.
func computeStructLayout(ps parsedStruct, structs map[string]wgslTypeLayout) (wgslTypeLayout, bool) {
	var offset uint64
	maxAlign := uint64(1)

	for _, field := range ps.fields {
		if field.isBuiltin {
			continue
		}
		l, ok := resolveTypeLayout(field.typeName, structs)
		if !ok {
			return wgslTypeLayout{}, false
		}
		if _, nested := structs[field.typeName]; nested {
			l.align = roundUpAlign(16, l.align)
		}
		offset = roundUpAlign(l.align, offset) + l.size
		maxAlign = max(maxAlign, l.align)
	}
	return wgslTypeLayout{roundUpAlign(maxAlign, offset), maxAlign}, true
}

// computeStructSizes resolves every struct whose members resolve, repeating until no
// further struct can be resolved so declaration order does not matter.
//
// Parameters:
//   - structs: all parsed struct blocks from the WGSL source
//
// Returns:
//   - map[string]wgslTypeLayout: struct name to layout
func computeStructSizes(structs []parsedStruct) map[string]wgslTypeLayout {
	resolved := make(map[string]wgslTypeLayout, len(structs))
	pending := slices.Clone(structs)

	for len(pending) > 0 {
		next := pending[:0]
		for _, ps := range pending {
			if l, ok := computeStructLayout(ps, resolved); ok {
				resolved[ps.name] = l
				continue
			}
			next = append(next, ps)
		}
		if len(next) == len(pending) {
			break
		}
		pending = next
	}
	return resolved
}

// splitTypeParams splits "texture_2d<f32>" into ("texture_2d", "f32"). Types without
// parameters return an empty params string.
func splitTypeParams(typeName string) (base string, params string) {
	before, after, ok := strings.Cut(typeName, "<")
	if !ok {
		return typeName, ""
	}
	return before, strings.TrimSpace(strings.TrimSuffix(after, ">"))
}

// stripComments removes line comments and (possibly nested) block comments.
func stripComments(source string) string {
	var sb strings.Builder
	sb.Grow(len(source))
	depth := 0
	for i := 0; i < len(source); i++ {
		if i+1 < len(source) {
			switch {
			case source[i] == '/' && source[i+1] == '*':
				depth++
				i++
				continue
			case source[i] == '*' && source[i+1] == '/' && depth > 0:
				depth--
				i++
				continue
			case depth == 0 && source[i] == '/' && source[i+1] == '/':
				for i < len(source) && source[i] != '\n' {
					i++
				}
				if i < len(source) {
					sb.WriteByte('\n')
				}
				continue
			}
		}
		if depth == 0 {
			sb.WriteByte(source[i])
		}
	}
	return sb.String()
}

// splitAtTopLevelCommas splits a struct body at commas outside angle brackets, so
// "array<vec2<f32>, 3>" stays one field.
func splitAtTopLevelCommas(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<':
			depth++
		case '>':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}
