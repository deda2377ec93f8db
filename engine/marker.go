package engine

import (
	"encoding/json"
	"strings"

	"github.com/tulparlabs/agentrun/types"
)

// markerPrefix is the exact lead-in the model must emit to request a
// tool call mid-generation.
const markerPrefix = "[TOOL_CALL:"

// ToolCallMarker is a parsed [TOOL_CALL: <toolId>, {<json-params>}]
// occurrence inside LLM output. Start and End delimit the full marker
// (brackets included) so the caller can splice around it.
type ToolCallMarker struct {
	ToolID string
	Params map[string]any
	Start  int
	End    int
}

// FindToolCall scans text for the first tool-call marker.
//
// Returns (nil, nil) when no marker prefix occurs. Returns the parsed
// marker when it is well formed. When the marker syntax appears but the
// payload is not valid JSON, or the bracketed form is broken, it
// returns a MALFORMED_TOOL_CALL_MARKER error; callers treat the text as
// plain output rather than failing the run.
func FindToolCall(text string) (*ToolCallMarker, error) {
	start := strings.Index(text, markerPrefix)
	if start < 0 {
		return nil, nil
	}

	rest := text[start+len(markerPrefix):]
	i := skipSpaces(rest, 0)

	// Tool id runs to the next comma, whitespace, or brace.
	idStart := i
	for i < len(rest) && !strings.ContainsRune(", \t\r\n{]", rune(rest[i])) {
		i++
	}
	toolID := rest[idStart:i]
	if toolID == "" {
		return nil, types.NewError(types.ErrMalformedMarker, "tool call marker has no tool id")
	}

	// Optional comma between id and params.
	i = skipSpaces(rest, i)
	if i < len(rest) && rest[i] == ',' {
		i = skipSpaces(rest, i+1)
	}

	if i >= len(rest) || rest[i] != '{' {
		return nil, types.Errorf(types.ErrMalformedMarker, "tool call marker for %q has no parameter object", toolID)
	}

	payloadEnd, ok := scanBalanced(rest, i)
	if !ok {
		return nil, types.Errorf(types.ErrMalformedMarker, "tool call marker for %q has an unterminated parameter object", toolID)
	}
	payload := rest[i:payloadEnd]

	j := skipSpaces(rest, payloadEnd)
	if j >= len(rest) || rest[j] != ']' {
		return nil, types.Errorf(types.ErrMalformedMarker, "tool call marker for %q is not closed", toolID)
	}

	var params map[string]any
	if err := json.Unmarshal([]byte(payload), &params); err != nil {
		return nil, types.Errorf(types.ErrMalformedMarker, "tool call parameters for %q are not valid JSON", toolID).WithCause(err)
	}

	return &ToolCallMarker{
		ToolID: toolID,
		Params: params,
		Start:  start,
		End:    start + len(markerPrefix) + j + 1,
	}, nil
}

func skipSpaces(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\r' || s[i] == '\n') {
		i++
	}
	return i
}

// scanBalanced returns the index just past the brace-balanced JSON
// object starting at s[start]. String literals and escapes are honored
// so braces inside values do not end the scan early.
func scanBalanced(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}
