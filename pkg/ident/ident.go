// Package ident implements the canonical identifier codec: parsing and
// formatting of Input, Artifact, and Job IDs and their dimension selectors.
package ident

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind distinguishes the three disjoint canonical ID families.
type Kind string

const (
	KindInput    Kind = "Input"
	KindArtifact Kind = "Artifact"
	KindJob      Kind = "Producer"
)

var segmentRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ParseError is returned for malformed canonical IDs.
type ParseError struct {
	Code   string
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %q: %s", e.Code, e.Input, e.Reason)
}

func invalid(input, reason string) error {
	return &ParseError{Code: "INVALID_CANONICAL_ID", Input: input, Reason: reason}
}

// DimSelector is one dimension index attached to an Artifact or Job ID, or a
// dimension selector on a connection endpoint. Within a single ID all
// selectors must share the same style (ordinal or named); Ordinal marks an
// ordinal selector, which carries no Name.
type DimSelector struct {
	Name     string
	Ordinal  bool
	Index    int
	Wildcard bool // true for "[dim=*]" fan-in collector selectors
}

func (d DimSelector) String() string {
	switch {
	case d.Ordinal:
		return strconv.Itoa(d.Index)
	case d.Wildcard:
		return d.Name + "=*"
	default:
		return fmt.Sprintf("%s=%d", d.Name, d.Index)
	}
}

func parseDimPair(raw, original string) (DimSelector, error) {
	if raw == "" {
		return DimSelector{}, invalid(original, "empty dimension selector")
	}
	eq := strings.IndexByte(raw, '=')
	if eq < 0 {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return DimSelector{}, invalid(original, fmt.Sprintf("invalid ordinal dimension %q", raw))
		}
		return DimSelector{Ordinal: true, Index: n}, nil
	}
	name, value := raw[:eq], raw[eq+1:]
	if !segmentRe.MatchString(name) {
		return DimSelector{}, invalid(original, fmt.Sprintf("invalid dimension name %q", name))
	}
	if value == "*" {
		return DimSelector{Name: name, Wildcard: true}, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return DimSelector{}, invalid(original, fmt.Sprintf("invalid dimension value %q for %q", value, name))
	}
	return DimSelector{Name: name, Index: n}, nil
}

// validateDims enforces that a selector list is entirely ordinal or entirely
// named (wildcards count as named).
func validateDims(dims []DimSelector, original string) error {
	if len(dims) == 0 {
		return nil
	}
	ordinal := dims[0].Ordinal
	for _, d := range dims[1:] {
		if d.Ordinal != ordinal {
			return invalid(original, "dimension selectors must be all ordinal or all named")
		}
	}
	return nil
}

// splitBracketGroups parses zero or more contiguous "[...]" groups starting
// at rest[pos:], returning the accumulated dimension selectors and the index
// just past the last consumed ']'.
func splitBracketGroups(rest, original string, pos int) ([]DimSelector, int, error) {
	var dims []DimSelector
	for pos < len(rest) && rest[pos] == '[' {
		end := strings.IndexByte(rest[pos:], ']')
		if end < 0 {
			return nil, 0, invalid(original, "unterminated dimension bracket")
		}
		inner := rest[pos+1 : pos+end]
		pos = pos + end + 1
		for _, part := range strings.Split(inner, "&") {
			d, err := parseDimPair(part, original)
			if err != nil {
				return nil, 0, err
			}
			dims = append(dims, d)
		}
	}
	if err := validateDims(dims, original); err != nil {
		return nil, 0, err
	}
	return dims, pos, nil
}

func splitNamePath(nameStr, original string) (namespacePath []string, baseName string, err error) {
	if nameStr == "" {
		return nil, "", invalid(original, "empty name path")
	}
	segments := strings.Split(nameStr, ".")
	for _, seg := range segments {
		if !segmentRe.MatchString(seg) {
			return nil, "", invalid(original, fmt.Sprintf("invalid name segment %q", seg))
		}
	}
	return segments[:len(segments)-1], segments[len(segments)-1], nil
}

func stripPrefix(s string, kind Kind, original string) (string, error) {
	prefix := string(kind) + ":"
	if !strings.HasPrefix(s, prefix) {
		return "", invalid(original, fmt.Sprintf("missing %q prefix", prefix))
	}
	rest := s[len(prefix):]
	if rest == "" {
		return "", invalid(original, "empty identifier body")
	}
	return rest, nil
}

// InputID is a parsed "Input:<dotted-name>" identifier.
type InputID struct {
	NamespacePath []string
	BaseName      string
}

// ParseInputID parses an Input identifier.
func ParseInputID(s string) (*InputID, error) {
	rest, err := stripPrefix(s, KindInput, s)
	if err != nil {
		return nil, err
	}
	if strings.ContainsAny(rest, "[]") {
		return nil, invalid(s, "Input IDs do not support dimension selectors")
	}
	nsPath, base, err := splitNamePath(rest, s)
	if err != nil {
		return nil, err
	}
	return &InputID{NamespacePath: nsPath, BaseName: base}, nil
}

// Format renders the canonical string form of an Input ID.
func (id *InputID) Format() string {
	return string(KindInput) + ":" + strings.Join(append(append([]string{}, id.NamespacePath...), id.BaseName), ".")
}

// Name returns the bare dotted name (namespace path + base name).
func (id *InputID) Name() string {
	return strings.Join(append(append([]string{}, id.NamespacePath...), id.BaseName), ".")
}

// ArtifactID is a parsed "Artifact:<dotted-name>[dim=i]…jsonPath" identifier.
type ArtifactID struct {
	NamespacePath []string
	BaseName      string
	Dims          []DimSelector
	JSONPath      string // no leading dot; empty if absent
}

// ParseArtifactID parses an Artifact identifier, including any dimension
// selectors and trailing JSON sub-path.
func ParseArtifactID(s string) (*ArtifactID, error) {
	rest, err := stripPrefix(s, KindArtifact, s)
	if err != nil {
		return nil, err
	}

	bracketIdx := strings.IndexByte(rest, '[')
	var nameStr string
	if bracketIdx < 0 {
		nameStr = rest
	} else {
		nameStr = rest[:bracketIdx]
	}
	nsPath, base, err := splitNamePath(nameStr, s)
	if err != nil {
		return nil, err
	}

	var dims []DimSelector
	jsonPath := ""
	if bracketIdx >= 0 {
		var pos int
		dims, pos, err = splitBracketGroups(rest, s, bracketIdx)
		if err != nil {
			return nil, err
		}
		tail := rest[pos:]
		jsonPath = strings.TrimPrefix(tail, ".")
	}

	return &ArtifactID{NamespacePath: nsPath, BaseName: base, Dims: dims, JSONPath: jsonPath}, nil
}

// Format renders the canonical string form, always emitting one dimension
// selector per bracket group (the "[segment=2&image=3]" combined form parses
// but is not re-emitted — both are structurally equivalent after parsing).
func (id *ArtifactID) Format() string {
	return FormatCanonicalArtifactID(id.NamespacePath, id.BaseName, id.Dims, id.JSONPath)
}

// FormatCanonicalArtifactID builds a canonical Artifact ID string from parts.
func FormatCanonicalArtifactID(nsPath []string, name string, dims []DimSelector, jsonPath string) string {
	var b strings.Builder
	b.WriteString(string(KindArtifact))
	b.WriteByte(':')
	b.WriteString(strings.Join(append(append([]string{}, nsPath...), name), "."))
	for _, d := range dims {
		b.WriteByte('[')
		b.WriteString(d.String())
		b.WriteByte(']')
	}
	if jsonPath != "" {
		b.WriteByte('.')
		b.WriteString(jsonPath)
	}
	return b.String()
}

// Name returns the bare dotted name (namespace path + base name), excluding
// dimension selectors and JSON path.
func (id *ArtifactID) Name() string {
	return strings.Join(append(append([]string{}, id.NamespacePath...), id.BaseName), ".")
}

// JobID is a parsed "Producer:<dotted-name>[dim=i]…" identifier.
type JobID struct {
	NamespacePath []string
	BaseName      string
	Dims          []DimSelector
}

// ParseJobID parses a Job identifier.
func ParseJobID(s string) (*JobID, error) {
	rest, err := stripPrefix(s, KindJob, s)
	if err != nil {
		return nil, err
	}
	bracketIdx := strings.IndexByte(rest, '[')
	nameStr := rest
	if bracketIdx >= 0 {
		nameStr = rest[:bracketIdx]
	}
	nsPath, base, err := splitNamePath(nameStr, s)
	if err != nil {
		return nil, err
	}
	var dims []DimSelector
	if bracketIdx >= 0 {
		var pos int
		dims, pos, err = splitBracketGroups(rest, s, bracketIdx)
		if err != nil {
			return nil, err
		}
		if pos != len(rest) {
			return nil, invalid(s, "unexpected trailing characters after dimension brackets")
		}
	}
	return &JobID{NamespacePath: nsPath, BaseName: base, Dims: dims}, nil
}

// Format renders the canonical string form of a Job ID.
func (id *JobID) Format() string {
	var b strings.Builder
	b.WriteString(string(KindJob))
	b.WriteByte(':')
	b.WriteString(strings.Join(append(append([]string{}, id.NamespacePath...), id.BaseName), "."))
	for _, d := range id.Dims {
		b.WriteByte('[')
		b.WriteString(d.String())
		b.WriteByte(']')
	}
	return b.String()
}

// Name returns the bare dotted name (namespace path + base name).
func (id *JobID) Name() string {
	return strings.Join(append(append([]string{}, id.NamespacePath...), id.BaseName), ".")
}

var bracketGroupRe = regexp.MustCompile(`\[[^\]]*\]`)

// ExtractKind drops the "Kind:" prefix and every "[...]" bracket group from
// a canonical ID, returning the bare dotted name (any JSON sub-path suffix
// is retained verbatim, dots and all) — used by the resolver to key results
// under both the fully-qualified ID and this legacy bare form.
func ExtractKind(id string) (string, error) {
	colon := strings.IndexByte(id, ':')
	if colon < 0 {
		return "", invalid(id, "missing kind prefix")
	}
	rest := id[colon+1:]
	if rest == "" {
		return "", invalid(id, "empty identifier body")
	}
	return bracketGroupRe.ReplaceAllString(rest, ""), nil
}

// KindOf returns the Kind prefix of a canonical ID, without validating the
// remainder of the identifier.
func KindOf(id string) (Kind, error) {
	colon := strings.IndexByte(id, ':')
	if colon < 0 {
		return "", invalid(id, "missing kind prefix")
	}
	switch Kind(id[:colon]) {
	case KindInput:
		return KindInput, nil
	case KindArtifact:
		return KindArtifact, nil
	case KindJob:
		return KindJob, nil
	default:
		return "", invalid(id, fmt.Sprintf("unknown kind %q", id[:colon]))
	}
}
