package cep

import "strings"

// severityRank orders severity labels so gt/gte/lt/lte can compare them
// numerically instead of lexically ("high" < "low" alphabetically, which
// is backwards).
var severityRank = map[string]int{
	"critical": 4,
	"high":     3,
	"medium":   2,
	"low":      1,
	"unknown":  0,
}

func rankOf(v any) (int, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	rank, ok := severityRank[strings.ToLower(s)]
	return rank, ok
}
