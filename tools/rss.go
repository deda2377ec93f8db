package tools

import (
	"context"
	"strconv"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/tulparlabs/agentrun/engine"
	"github.com/tulparlabs/agentrun/internal/tlsutil"
	"github.com/tulparlabs/agentrun/types"
)

// Feed entry field budgets. Feeds are untrusted input; everything is
// clipped before it enters the run context.
const (
	rssTitleLimit       = 200
	rssDescriptionLimit = 500
	rssPublishedLimit   = 50
	rssAuthorLimit      = 100

	rssDefaultLimit = 10
	rssMaxLimit     = 100
)

// feedParser is the slice of gofeed.Parser the handler needs.
type feedParser interface {
	ParseURLWithContext(feedURL string, ctx context.Context) (*gofeed.Feed, error)
}

// RSSHandler fetches and normalizes RSS/Atom feeds.
type RSSHandler struct {
	parser feedParser
	logger *zap.Logger
}

// NewRSSHandler creates the rss tool handler with a default parser.
func NewRSSHandler(logger *zap.Logger) *RSSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	parser := gofeed.NewParser()
	parser.Client = tlsutil.SecureHTTPClient(0)
	return &RSSHandler{
		parser: parser,
		logger: logger.With(zap.String("component", "rss_tool")),
	}
}

func (h *RSSHandler) Execute(ctx context.Context, call *engine.ToolRequest) (map[string]any, error) {
	feedURL := paramString(call.Params, "url")
	if feedURL == "" {
		feedURL = paramString(call.Params, "feed_url")
	}
	if feedURL == "" {
		feedURL = call.Spec.ConfigString("feed_url")
	}
	if feedURL == "" {
		return nil, types.Errorf(types.ErrValidation, "rss tool %s has no feed url", call.Spec.ToolID)
	}
	if _, err := ValidateURL(feedURL); err != nil {
		return nil, err
	}

	limit := paramInt(call.Params, "limit", rssDefaultLimit)
	if limit < 1 {
		limit = rssDefaultLimit
	}
	if limit > rssMaxLimit {
		limit = rssMaxLimit
	}

	feed, err := h.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, types.Errorf(types.ErrToolFetchFailed, "fetching feed %s failed", feedURL).WithCause(err)
	}

	entries := make([]any, 0, limit)
	for _, item := range feed.Items {
		if len(entries) >= limit {
			break
		}
		if item == nil {
			continue
		}
		entries = append(entries, map[string]any{
			"title":       TruncateRunes(item.Title, rssTitleLimit),
			"link":        item.Link,
			"description": TruncateRunes(StripTags(item.Description), rssDescriptionLimit),
			"published":   TruncateRunes(item.Published, rssPublishedLimit),
			"author":      TruncateRunes(itemAuthor(item), rssAuthorLimit),
		})
	}

	h.logger.Debug("feed fetched",
		zap.String("url", feedURL),
		zap.Int("entries", len(entries)))

	return map[string]any{
		"success":    true,
		"feed_title": feed.Title,
		"count":      len(entries),
		"entries":    entries,
	}, nil
}

func itemAuthor(item *gofeed.Item) string {
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		return item.Authors[0].Name
	}
	if item.Author != nil {
		return item.Author.Name
	}
	return ""
}

func paramString(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

// paramInt reads an integer parameter that may arrive as a JSON number,
// an int, or a numeric string.
func paramInt(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
