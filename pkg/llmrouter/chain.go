package llmrouter

import "strings"

// Chain is an ordered fallback list of provider IDs tried in sequence for
// one episode kind.
type Chain []string

const defaultChainKind = "default"

// normalizePrompt canonicalizes a prompt for cache fingerprinting: trimmed,
// internal whitespace runs collapsed to a single space, lowercased, so that
// two episodes differing only in incidental whitespace or casing hit the
// same cache entry.
func normalizePrompt(prompt string) string {
	fields := strings.Fields(prompt)
	return strings.ToLower(strings.Join(fields, " "))
}
