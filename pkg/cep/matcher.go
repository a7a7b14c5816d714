package cep

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PaesslerAG/jsonpath"
)

// Op is one matcher comparison kind.
type Op string

const (
	OpEq           Op = "eq"
	OpNeq          Op = "neq"
	OpGt           Op = "gt"
	OpGte          Op = "gte"
	OpLt           Op = "lt"
	OpLte          Op = "lte"
	OpIn           Op = "in"
	OpContains     Op = "contains"
	OpRegex        Op = "regex"
	OpSeverityRank Op = "severity_rank"
)

// Matcher is one field test within a Hook's Pattern, keyed by the dotted
// field path ("metadata.severity") it addresses. Paths are resolved
// against the event payload via jsonpath, so a pattern can reach nested
// fields, not just top-level keys.
type Matcher struct {
	Op    Op
	Value any
}

// Match resolves field against an event's data and evaluates the matcher
// on the value found. A missing field never matches — none of
// the base matchers tolerate absence, a deliberately conservative
// default.
func (m Matcher) Match(field string, data map[string]any) bool {
	fieldValue, ok := lookupField(data, field)
	if !ok {
		return false
	}

	switch m.Op {
	case OpEq:
		return fmt.Sprint(fieldValue) == fmt.Sprint(m.Value)
	case OpNeq:
		return fmt.Sprint(fieldValue) != fmt.Sprint(m.Value)
	case OpGt, OpGte, OpLt, OpLte, OpSeverityRank:
		return compareOrdered(m.Op, fieldValue, m.Value)
	case OpIn:
		return matchIn(fieldValue, m.Value)
	case OpContains:
		return matchContains(fieldValue, m.Value)
	case OpRegex:
		return matchRegex(fieldValue, m.Value)
	default:
		return false
	}
}

// lookupField resolves a dotted path against data. An explicit JSONPath
// ("$.a.b") is used as-is; a bare dotted path is rewritten to one.
func lookupField(data map[string]any, field string) (any, bool) {
	path := field
	if !strings.HasPrefix(path, "$") {
		path = "$." + path
	}
	value, err := jsonpath.Get(path, map[string]any(data))
	if err != nil {
		return nil, false
	}
	if values, ok := value.([]any); ok {
		if len(values) == 0 {
			return nil, false
		}
		return values[0], true
	}
	return value, true
}

func asFloat(v any) (float64, bool) {
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

func compareOrdered(op Op, fieldValue, target any) bool {
	if fieldRank, ok := rankOf(fieldValue); ok {
		if targetRank, ok := rankOf(target); ok {
			return compareFloats(op, float64(fieldRank), float64(targetRank))
		}
	}
	fv, fok := asFloat(fieldValue)
	tv, tok := asFloat(target)
	if !fok || !tok {
		return false
	}
	return compareFloats(op, fv, tv)
}

func compareFloats(op Op, a, b float64) bool {
	switch op {
	case OpGt:
		return a > b
	case OpGte, OpSeverityRank:
		return a >= b
	case OpLt:
		return a < b
	case OpLte:
		return a <= b
	default:
		return false
	}
}

func matchIn(fieldValue, target any) bool {
	list, ok := target.([]any)
	if !ok {
		return false
	}
	for _, item := range list {
		if fmt.Sprint(item) == fmt.Sprint(fieldValue) {
			return true
		}
	}
	return false
}

func matchContains(fieldValue, target any) bool {
	haystack, ok := fieldValue.(string)
	if !ok {
		return false
	}
	needle, ok := target.(string)
	if !ok {
		return false
	}
	return strings.Contains(haystack, needle)
}

func matchRegex(fieldValue, target any) bool {
	haystack, ok := fieldValue.(string)
	if !ok {
		return false
	}
	pattern, ok := target.(string)
	if !ok {
		return false
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(haystack)
}
