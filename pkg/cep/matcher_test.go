package cep

import "testing"

func TestMatcherOpsBasic(t *testing.T) {
	data := map[string]any{"count": 5, "name": "alpha-error", "tag": "b"}

	cases := []struct {
		name string
		m    Matcher
		field string
		want bool
	}{
		{"eq true", Matcher{Op: OpEq, Value: "b"}, "tag", true},
		{"neq true", Matcher{Op: OpNeq, Value: "a"}, "tag", true},
		{"gt true", Matcher{Op: OpGt, Value: float64(3)}, "count", true},
		{"gt false", Matcher{Op: OpGt, Value: float64(10)}, "count", false},
		{"lte true", Matcher{Op: OpLte, Value: float64(5)}, "count", true},
		{"in true", Matcher{Op: OpIn, Value: []any{"a", "b", "c"}}, "tag", true},
		{"contains true", Matcher{Op: OpContains, Value: "error"}, "name", true},
		{"regex true", Matcher{Op: OpRegex, Value: `^alpha-`}, "name", true},
		{"regex false", Matcher{Op: OpRegex, Value: `^beta-`}, "name", false},
	}

	for _, c := range cases {
		if got := c.m.Match(c.field, data); got != c.want {
			t.Errorf("%s: Match = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestMatcherMissingFieldNeverMatches(t *testing.T) {
	m := Matcher{Op: OpEq, Value: "x"}
	if m.Match("nope", map[string]any{}) {
		t.Fatal("missing field should never match")
	}
}
