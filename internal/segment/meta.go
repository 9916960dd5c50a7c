package segment

import (
	"encoding/json"
	"strings"
)

// Meta describes one row of a segment.
type Meta struct {
	Path    string `json:"path"`
	ChunkID string `json:"chunk_id"`
	Off     int    `json:"off"`
	Len     int    `json:"len"`
	Hash    string `json:"hash"`
	Heading string `json:"heading,omitempty"`
}

// MarshalMeta encodes m as a single JSON line without the trailing newline.
func MarshalMeta(m Meta) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseMeta decodes one metadata line.
func ParseMeta(line string) (Meta, error) {
	var m Meta
	err := json.Unmarshal([]byte(line), &m)
	return m, err
}

// Lines returns the trimmed, non-empty lines of a JSON-lines document.
func Lines(text string) []string {
	raw := strings.Split(text, "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// JoinLines renders lines as a JSON-lines document.
func JoinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
