package tools

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/tulparlabs/agentrun/types"
)

// maxParamStringLen caps sanitized string values. Anything longer is
// truncated, not rejected.
const maxParamStringLen = 1000

// safeKeyPattern is the only key shape that survives sanitization.
var safeKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// stripChars are removed from string values before a tool sees them.
const stripChars = `<>"';` + "`\\"

// SanitizeParams returns a cleaned copy of params: keys outside
// [a-zA-Z0-9_]+ are dropped, string values lose injection-prone
// characters and are capped at 1000 characters, and nested maps and
// slices are cleaned recursively.
func SanitizeParams(params map[string]any) map[string]any {
	if params == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(params))
	for key, value := range params {
		if !safeKeyPattern.MatchString(key) {
			continue
		}
		out[key] = sanitizeValue(value)
	}
	return out
}

func sanitizeValue(value any) any {
	switch v := value.(type) {
	case string:
		return sanitizeString(v)
	case map[string]any:
		return SanitizeParams(v)
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = sanitizeValue(elem)
		}
		return out
	default:
		return value
	}
}

func sanitizeString(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(stripChars, r) {
			continue
		}
		b.WriteRune(r)
	}
	cleaned := b.String()
	if len(cleaned) > maxParamStringLen {
		cleaned = cleaned[:maxParamStringLen]
	}
	return cleaned
}

// blockedHosts are never valid tool targets. Tools run server-side, so
// a URL pointing back at the host is a request-forgery vector.
var blockedHosts = map[string]struct{}{
	"localhost": {},
	"127.0.0.1": {},
	"0.0.0.0":   {},
	"::1":       {},
}

// ValidateURL checks that raw is an absolute http(s) URL with a
// non-local host and returns it parsed.
func ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, types.Errorf(types.ErrValidation, "invalid url %q", raw).WithCause(err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, types.Errorf(types.ErrValidation, "url %q must use http or https", raw)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, types.Errorf(types.ErrValidation, "url %q has no host", raw)
	}
	if _, blocked := blockedHosts[host]; blocked {
		return nil, types.Errorf(types.ErrValidation, "url host %q is not allowed", host)
	}
	return u, nil
}
