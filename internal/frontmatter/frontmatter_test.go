package frontmatter

import (
	"strings"
	"testing"
)

func TestParseWithHeader(t *testing.T) {
	data := []byte("---\ntitle: Hello\ntags:\n  - a\n  - b\n---\n# Body\n")
	fm, body := Parse(data)
	if fm["title"] != "Hello" {
		t.Errorf("title = %v", fm["title"])
	}
	tags, ok := fm["tags"].([]any)
	if !ok || len(tags) != 2 {
		t.Errorf("tags = %v", fm["tags"])
	}
	if body != "# Body\n" {
		t.Errorf("body = %q", body)
	}
}

func TestParseNoHeader(t *testing.T) {
	fm, body := Parse([]byte("just text\n"))
	if fm != nil {
		t.Errorf("expected nil map, got %v", fm)
	}
	if body != "just text\n" {
		t.Errorf("body = %q", body)
	}
}

func TestParseUnclosedHeader(t *testing.T) {
	raw := "---\ntitle: Broken\nno closing delimiter"
	fm, body := Parse([]byte(raw))
	if fm != nil {
		t.Errorf("expected nil map for unclosed header, got %v", fm)
	}
	if body != raw {
		t.Errorf("body = %q, want original text", body)
	}
}

func TestParseInvalidYAMLFallsBackToBody(t *testing.T) {
	raw := "---\n[:bad yaml\n---\nbody"
	fm, body := Parse([]byte(raw))
	if fm != nil {
		t.Errorf("expected nil map, got %v", fm)
	}
	if body != raw {
		t.Errorf("body = %q, want original text", body)
	}
}

func TestParseKeepsBodyLeadingBlankLines(t *testing.T) {
	data := []byte("---\ntitle: Hello\n---\n\n\nbody after two blank lines\n")
	fm, body := Parse(data)
	if fm["title"] != "Hello" {
		t.Errorf("title = %v", fm["title"])
	}
	if body != "\n\nbody after two blank lines\n" {
		t.Errorf("body = %q, want leading blank lines kept", body)
	}
}

func TestRoundTripBodyStartingWithBlankLines(t *testing.T) {
	content := "\n\nbody after two blank lines\n"
	data := Stringify(content, map[string]any{"title": "x"})
	_, body := Parse(data)
	if body != content {
		t.Errorf("body = %q, want %q", body, content)
	}
}

func TestStringifyEmptyMapOmitsHeader(t *testing.T) {
	out := Stringify("plain body", nil)
	if string(out) != "plain body" {
		t.Errorf("out = %q", out)
	}
	out = Stringify("plain body", map[string]any{})
	if string(out) != "plain body" {
		t.Errorf("out = %q", out)
	}
}

func TestRoundTripPreservesUserKeys(t *testing.T) {
	fm := map[string]any{
		"title":       "Notes",
		"custom_key":  "user value",
		"rating":      5,
		"draft":       true,
		"description": "keeps going",
	}
	data := Stringify("the body\n", fm)

	got, body := Parse(data)
	if body != "the body\n" {
		t.Errorf("body = %q", body)
	}
	for k := range fm {
		if _, ok := got[k]; !ok {
			t.Errorf("key %q lost in round trip", k)
		}
	}
	if got["title"] != "Notes" || got["custom_key"] != "user value" {
		t.Errorf("values changed: %v", got)
	}
	if got["rating"] != 5 {
		t.Errorf("rating = %v (%T)", got["rating"], got["rating"])
	}
	if got["draft"] != true {
		t.Errorf("draft = %v", got["draft"])
	}
}

func TestStringifyIsStable(t *testing.T) {
	fm := map[string]any{"b": 2, "a": 1, "c": 3}
	first := string(Stringify("x", fm))
	for i := 0; i < 5; i++ {
		if got := string(Stringify("x", fm)); got != first {
			t.Fatalf("unstable output:\n%s\nvs\n%s", first, got)
		}
	}
	if !strings.Contains(first, "a: 1") {
		t.Errorf("missing key: %s", first)
	}
}
