package firmware

import (
	"strings"
	"testing"
)

func TestParseValid(t *testing.T) {
	doc := `{"version":"0.0.5","size":10240,"sha256":"` + strings.Repeat("ab", 32) + `"}`
	m, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.Version != "0.0.5" || m.Size != 10240 {
		t.Fatalf("decoded: %+v", m)
	}
	meta := m.Meta()
	if meta.Size != 10240 || meta.SHA256 != strings.Repeat("ab", 32) {
		t.Fatalf("meta: %+v", meta)
	}
}

func TestParseSizeOnly(t *testing.T) {
	m, err := Parse(strings.NewReader(`{"size":1}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.SHA256 != "" || m.Version != "" {
		t.Fatalf("decoded: %+v", m)
	}
}

func TestParseRejections(t *testing.T) {
	cases := map[string]string{
		"missing size":     `{"version":"1"}`,
		"zero size":        `{"size":0}`,
		"negative size":    `{"size":-5}`,
		"bad sha256":       `{"size":1,"sha256":"xyz"}`,
		"uppercase sha256": `{"size":1,"sha256":"` + strings.Repeat("AB", 32) + `"}`,
		"unknown field":    `{"size":1,"signature":"sig"}`,
		"not an object":    `[1,2,3]`,
		"not json":         `size=1`,
	}
	for name, doc := range cases {
		if _, err := Parse(strings.NewReader(doc)); err == nil {
			t.Fatalf("%s: expected error for %s", name, doc)
		}
	}
}

func TestParseOversized(t *testing.T) {
	doc := `{"size":1,"version":"` + strings.Repeat("x", 8<<10) + `"}`
	if _, err := Parse(strings.NewReader(doc)); err == nil {
		t.Fatalf("expected oversize rejection")
	}
}
