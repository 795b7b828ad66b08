// Package condition evaluates the runtime predicates attached to blueprint
// connections against resolved artifact payloads, deciding whether a job's
// conditionally-bound input (and therefore possibly the whole job) is
// satisfied for the current dimension indices.
package condition

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Operator enumerates the comparison operators a Clause may carry.
type Operator string

const (
	OpIs             Operator = "is"
	OpIsNot          Operator = "isNot"
	OpContains       Operator = "contains"
	OpGreaterThan    Operator = "greaterThan"
	OpLessThan       Operator = "lessThan"
	OpGreaterOrEqual Operator = "greaterOrEqual"
	OpLessOrEqual    Operator = "lessOrEqual"
	OpExists         Operator = "exists"
	OpMatches        Operator = "matches"
)

// Clause is a single predicate: "<When> <operator> <value>".
type Clause struct {
	When string

	Is       interface{}
	HasIs    bool
	IsNot    interface{}
	HasIsNot bool
	Contains interface{}
	HasContains bool

	GreaterThan    *float64
	LessThan       *float64
	GreaterOrEqual *float64
	LessOrEqual    *float64

	Exists *bool

	Matches string
}

// Node is either a Clause or a Group; bare arrays of Nodes are implicit AND.
type Node interface {
	isNode()
}

func (Clause) isNode() {}
func (Group) isNode()  {}

// Group combines child Nodes with AND ("All") or OR ("Any") semantics.
type Group struct {
	All []Node
	Any []Node
}

// Result is the outcome of evaluating a Node.
type Result struct {
	Satisfied bool
	Reason    string
}

// EvaluationError reports a regex or path error while evaluating a clause;
// corresponds to spec error code R090.
type EvaluationError struct {
	Code   string
	Clause Clause
	Reason string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("%s: evaluating %q: %s", e.Code, e.Clause.When, e.Reason)
}

// Evaluate evaluates a Node against the current dimension indices and a map
// of resolved artifact payloads keyed by both full canonical artifact ID and
// bare kind (see pkg/resolver), per spec.md §4.7.
func Evaluate(node Node, dimIndices map[string]int, resolved map[string]interface{}) (Result, error) {
	switch n := node.(type) {
	case Clause:
		return evaluateClause(n, dimIndices, resolved)
	case Group:
		return evaluateGroup(n, dimIndices, resolved)
	default:
		return Result{}, fmt.Errorf("condition: unknown node type %T", node)
	}
}

func evaluateGroup(g Group, dimIndices map[string]int, resolved map[string]interface{}) (Result, error) {
	if len(g.All) > 0 {
		for _, child := range g.All {
			r, err := Evaluate(child, dimIndices, resolved)
			if err != nil {
				return Result{}, err
			}
			if !r.Satisfied {
				return r, nil
			}
		}
		return Result{Satisfied: true}, nil
	}
	if len(g.Any) > 0 {
		var last Result
		for _, child := range g.Any {
			r, err := Evaluate(child, dimIndices, resolved)
			if err != nil {
				return Result{}, err
			}
			if r.Satisfied {
				return r, nil
			}
			last = r
		}
		return last, nil
	}
	return Result{Satisfied: true}, nil
}

// substitutePlaceholders replaces "[dimName]" occurrences in the path with
// the current ordinal index for that dimension.
func substitutePlaceholders(path string, dimIndices map[string]int) string {
	for name, idx := range dimIndices {
		path = strings.ReplaceAll(path, "["+name+"]", "["+strconv.Itoa(idx)+"]")
	}
	return path
}

// splitArtifactRef splits a substituted "when" path into its bare artifactId
// (the first two dotted name segments) and the remaining JSON sub-path, per
// spec.md §4.7 step 2.
func splitArtifactRef(path string) (artifactID string, jsonPath string) {
	segments := strings.SplitN(path, ".", 3)
	switch len(segments) {
	case 0:
		return "", ""
	case 1:
		return segments[0], ""
	case 2:
		return segments[0] + "." + segments[1], ""
	default:
		return segments[0] + "." + segments[1], segments[2]
	}
}

type pathToken struct {
	name     string
	index    int
	hasIndex bool
}

func tokenizeJSONPath(path string) []pathToken {
	if path == "" {
		return nil
	}
	var tokens []pathToken
	for _, raw := range strings.Split(path, ".") {
		if raw == "" {
			continue
		}
		name := raw
		idx := -1
		hasIndex := false
		if b := strings.IndexByte(raw, '['); b >= 0 {
			name = raw[:b]
			end := strings.IndexByte(raw[b:], ']')
			if end > 0 {
				if n, err := strconv.Atoi(raw[b+1 : b+end]); err == nil {
					idx = n
					hasIndex = true
				}
			}
		}
		tokens = append(tokens, pathToken{name: name, index: idx, hasIndex: hasIndex})
	}
	return tokens
}

// walkPath navigates a decoded JSON payload along a dotted/bracket path.
// Absence of a key, or an out-of-range/non-array index, at any step is
// reported as simple non-existence (ok=false), never an error — resolving
// the spec's open question on nested-undefined-in-arrays semantics.
func walkPath(payload interface{}, path string) (interface{}, bool) {
	cur := payload
	for _, tok := range tokenizeJSONPath(path) {
		if tok.name != "" {
			m, ok := cur.(map[string]interface{})
			if !ok {
				return nil, false
			}
			v, ok := m[tok.name]
			if !ok {
				return nil, false
			}
			cur = v
		}
		if tok.hasIndex {
			arr, ok := cur.([]interface{})
			if !ok || tok.index < 0 || tok.index >= len(arr) {
				return nil, false
			}
			cur = arr[tok.index]
		}
	}
	return cur, true
}

func evaluateClause(c Clause, dimIndices map[string]int, resolved map[string]interface{}) (Result, error) {
	resolvedPath := substitutePlaceholders(c.When, dimIndices)
	artifactID, jsonPath := splitArtifactRef(resolvedPath)

	payload, ok := resolved[artifactID]
	if !ok {
		if c.Exists != nil && !*c.Exists {
			return Result{Satisfied: true}, nil
		}
		return Result{Satisfied: false, Reason: fmt.Sprintf("artifact %q not resolved", artifactID)}, nil
	}

	value, exists := walkPath(payload, jsonPath)

	if c.Exists != nil {
		return Result{Satisfied: exists == *c.Exists}, nil
	}
	if !exists {
		return Result{Satisfied: false, Reason: fmt.Sprintf("path %q not present on %q", jsonPath, artifactID)}, nil
	}

	switch {
	case c.HasIs:
		return Result{Satisfied: looseEqual(value, c.Is)}, nil
	case c.HasIsNot:
		return Result{Satisfied: !looseEqual(value, c.IsNot)}, nil
	case c.HasContains:
		ok, err := containsValue(value, c.Contains)
		if err != nil {
			return Result{}, &EvaluationError{Code: "R090", Clause: c, Reason: err.Error()}
		}
		return Result{Satisfied: ok}, nil
	case c.GreaterThan != nil:
		n, ok := toFloat(value)
		return Result{Satisfied: ok && n > *c.GreaterThan}, nil
	case c.LessThan != nil:
		n, ok := toFloat(value)
		return Result{Satisfied: ok && n < *c.LessThan}, nil
	case c.GreaterOrEqual != nil:
		n, ok := toFloat(value)
		return Result{Satisfied: ok && n >= *c.GreaterOrEqual}, nil
	case c.LessOrEqual != nil:
		n, ok := toFloat(value)
		return Result{Satisfied: ok && n <= *c.LessOrEqual}, nil
	case c.Matches != "":
		re, err := regexp.Compile(c.Matches)
		if err != nil {
			return Result{}, &EvaluationError{Code: "R090", Clause: c, Reason: fmt.Sprintf("invalid regex: %v", err)}
		}
		s, _ := value.(string)
		return Result{Satisfied: re.MatchString(s)}, nil
	default:
		return Result{Satisfied: true}, nil
	}
}

func looseEqual(a, b interface{}) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func containsValue(haystack, needle interface{}) (bool, error) {
	switch h := haystack.(type) {
	case string:
		n, ok := needle.(string)
		if !ok {
			return false, fmt.Errorf("contains: needle must be a string for a string haystack")
		}
		return strings.Contains(h, n), nil
	case []interface{}:
		for _, item := range h {
			if looseEqual(item, needle) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("contains: unsupported haystack type %T", haystack)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
