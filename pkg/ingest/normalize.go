package ingest

import (
	"html"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/viable-systems/control-plane/internal/platform/apierr"
)

const maxNormalizeBytes = 10 * 1024 * 1024

var (
	scriptOrStyleTag = regexp.MustCompile(`(?is)<(script|style)\b[^>]*>.*?</(script|style)>`)
	anyTag           = regexp.MustCompile(`(?s)<[^>]+>`)
	collapseSpace    = regexp.MustCompile(`[ \t]+`)
)

// Normalize turns RawContent into plain, decoded text based on
// ContentType. Unsupported types mark the state skipped rather than
// failing the pipeline.
func Normalize(sctx StageContext, s State) (State, *apierr.ServiceError) {
	if len(s.RawContent) > maxNormalizeBytes {
		return s, apierr.ContentTooLarge(maxNormalizeBytes)
	}

	kind := classifyContentType(s.ContentType)
	switch kind {
	case "html":
		s.Normalized = normalizeHTML(string(s.RawContent))
		s.NormKind = kind
	case "json":
		normalized, err := normalizeJSON(s.RawContent)
		if err != nil {
			return s, err
		}
		s.Normalized = normalized
		s.NormKind = kind
	case "text":
		s.Normalized = normalizeText(string(s.RawContent))
		s.NormKind = kind
	default:
		s.Skipped = true
		s.SkippedKind = "unsupported_content_type"
	}

	return s, nil
}

func classifyContentType(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	semicolon := strings.IndexByte(ct, ';')
	if semicolon >= 0 {
		ct = ct[:semicolon]
	}
	switch {
	case ct == "":
		return "text"
	case strings.Contains(ct, "html"):
		return "html"
	case strings.Contains(ct, "json"):
		return "json"
	case strings.HasPrefix(ct, "text/"):
		return "text"
	default:
		return ""
	}
}

func normalizeHTML(raw string) string {
	stripped := scriptOrStyleTag.ReplaceAllString(raw, " ")
	stripped = anyTag.ReplaceAllString(stripped, " ")
	decoded := html.UnescapeString(stripped)
	decoded = collapseSpace.ReplaceAllString(decoded, " ")
	return strings.TrimSpace(decoded)
}

func normalizeJSON(raw []byte) (string, *apierr.ServiceError) {
	if !gjson.ValidBytes(raw) {
		return "", apierr.InvalidFormat("json", "malformed JSON body")
	}
	result := gjson.ParseBytes(raw)
	return result.Get("@ugly").Raw, nil
}

func normalizeText(raw string) string {
	unified := strings.ReplaceAll(raw, "\r\n", "\n")
	unified = strings.ReplaceAll(unified, "\r", "\n")
	return unified
}
