package ingest

import "testing"

func TestNormalizeHTMLStripsScriptAndTags(t *testing.T) {
	s := State{
		Request:     Request{},
		RawContent:  []byte(`<html><head><style>body{color:red}</style><script>alert(1)</script></head><body><p>Hello &amp; welcome</p></body></html>`),
		ContentType: "text/html; charset=utf-8",
	}
	out, err := Normalize(testStageContext(), s)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if out.Skipped {
		t.Fatal("Normalize: want not skipped for html")
	}
	if out.NormKind != "html" {
		t.Errorf("NormKind = %q, want html", out.NormKind)
	}
	if got := out.Normalized; got != "Hello & welcome" {
		t.Errorf("Normalized = %q, want %q", got, "Hello & welcome")
	}
}

func TestNormalizeJSONRejectsMalformed(t *testing.T) {
	s := State{RawContent: []byte(`{"a": }`), ContentType: "application/json"}
	_, err := Normalize(testStageContext(), s)
	if err == nil {
		t.Fatal("Normalize: want error for malformed json")
	}
}

func TestNormalizeJSONAcceptsValid(t *testing.T) {
	s := State{RawContent: []byte(`{"a":1}`), ContentType: "application/json"}
	out, err := Normalize(testStageContext(), s)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if out.NormKind != "json" {
		t.Errorf("NormKind = %q, want json", out.NormKind)
	}
}

func TestNormalizeTextCRLF(t *testing.T) {
	s := State{RawContent: []byte("line1\r\nline2\rline3"), ContentType: "text/plain"}
	out, err := Normalize(testStageContext(), s)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if out.Normalized != "line1\nline2\nline3" {
		t.Errorf("Normalized = %q", out.Normalized)
	}
}

func TestNormalizeUnsupportedContentTypeSkips(t *testing.T) {
	s := State{RawContent: []byte{0x00, 0x01, 0x02}, ContentType: "application/octet-stream"}
	out, err := Normalize(testStageContext(), s)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !out.Skipped || out.SkippedKind != "unsupported_content_type" {
		t.Errorf("Skipped = %v, SkippedKind = %q, want unsupported_content_type", out.Skipped, out.SkippedKind)
	}
}

func TestNormalizeOversizeContentRejected(t *testing.T) {
	s := State{RawContent: make([]byte, maxNormalizeBytes+1), ContentType: "text/plain"}
	_, err := Normalize(testStageContext(), s)
	if err == nil {
		t.Fatal("Normalize: want content_too_large error")
	}
}
