package tools

import (
	"strings"

	"golang.org/x/net/html"
)

// StripTags reduces an HTML fragment to its visible text. Script and
// style bodies are dropped entirely, runs of whitespace collapse to a
// single space. Feed descriptions routinely arrive as HTML; tool output
// must not.
func StripTags(fragment string) string {
	if !strings.ContainsRune(fragment, '<') {
		return collapseSpace(html.UnescapeString(fragment))
	}

	tokenizer := html.NewTokenizer(strings.NewReader(fragment))
	var b strings.Builder
	skipDepth := 0
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return collapseSpace(b.String())
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if isInvisible(string(name)) {
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if isInvisible(string(name)) && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth == 0 {
				b.Write(tokenizer.Text())
				b.WriteByte(' ')
			}
		}
	}
}

func isInvisible(tag string) bool {
	return tag == "script" || tag == "style"
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// TruncateRunes caps s at n runes. Feed fields have fixed budgets and
// multi-byte text must not be cut mid-rune.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
