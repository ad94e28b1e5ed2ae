package agent

import (
	"encoding/json"
	"strings"

	ferrors "github.com/randalmurphal/schemaflow/pkg/flowgraph/errors"
)

// decodeJSON extracts the JSON object from a model reply. Code fences and
// prose around the object are tolerated.
func decodeJSON(content string, into any) error {
	raw := strings.TrimSpace(content)
	if i := strings.Index(raw, "```"); i >= 0 {
		rest := raw[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		raw = strings.TrimSpace(rest)
	}
	start, end := strings.IndexByte(raw, '{'), strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return &ferrors.JSONParseError{Input: prefix(content, 200), Message: "no JSON object in reply"}
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), into); err != nil {
		return &ferrors.JSONParseError{Input: prefix(content, 200), Message: err.Error()}
	}
	return nil
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
