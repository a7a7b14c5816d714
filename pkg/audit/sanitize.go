package audit

import "strings"

// sanitizeEventData applies the redaction rule: password,
// api_key, and secret keys are dropped from the entry entirely; any key
// containing "token" has its value replaced rather than removed, so the
// presence of a token exchange is still visible in the chain.
func sanitizeEventData(data map[string]any) map[string]any {
	if data == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(data))
	for key, value := range data {
		lower := strings.ToLower(key)
		switch {
		case strings.Contains(lower, "password"), strings.Contains(lower, "api_key"), strings.Contains(lower, "secret"):
			continue
		case strings.Contains(lower, "token"):
			out[key] = "[REDACTED]"
		case isNestedMap(value):
			out[key] = sanitizeEventData(value.(map[string]any))
		default:
			out[key] = value
		}
	}
	return out
}

func isNestedMap(value any) bool {
	_, ok := value.(map[string]any)
	return ok
}
