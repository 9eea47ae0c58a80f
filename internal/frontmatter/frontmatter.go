// Package frontmatter splits a note file into an optional YAML metadata
// header and a body, and reconstructs it. The engine never injects system
// identifiers into files: the header carries user metadata only, and
// unrecognized keys round-trip untouched.
package frontmatter

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const delim = "---"

// Parse separates a YAML frontmatter block (between leading --- delimiters)
// from the body. If no block is present, or the block is not valid YAML, the
// whole input is returned as body with a nil map.
func Parse(data []byte) (map[string]any, string) {
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data)
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		// No closing delimiter; the whole text is body.
		return nil, string(data)
	}

	yamlBlock := rest[:idx]
	// Consume only the delimiter's own line terminator; blank lines at the
	// start of the body belong to the body.
	after := string(rest[idx+1+len(delim):])
	body := strings.TrimPrefix(after, "\r\n")
	if body == after {
		body = strings.TrimPrefix(after, "\n")
	}

	var fm map[string]any
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		return nil, string(data)
	}
	return fm, body
}

// Stringify reconstructs header+body. An empty or nil map produces the body
// alone with no header block. Keys are emitted in sorted order so repeated
// serialization of the same map is byte-stable.
func Stringify(body string, fm map[string]any) []byte {
	if len(fm) == 0 {
		return []byte(body)
	}

	keys := make([]string, 0, len(fm))
	for k := range fm {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteString(delim)
	buf.WriteByte('\n')
	for _, k := range keys {
		kv := map[string]any{k: fm[k]}
		out, err := yaml.Marshal(kv)
		if err != nil {
			// Unmarshalable value (e.g. a channel smuggled into the map);
			// fall back to its string form rather than dropping the key.
			out = []byte(fmt.Sprintf("%s: %q\n", k, fmt.Sprint(fm[k])))
		}
		buf.Write(out)
	}
	buf.WriteString(delim)
	buf.WriteByte('\n')
	buf.WriteString(body)
	return buf.Bytes()
}
