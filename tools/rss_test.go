package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mmcdole/gofeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tulparlabs/agentrun/engine"
	"github.com/tulparlabs/agentrun/types"
)

// ---------------------------------------------------------------------------
// test fixtures
// ---------------------------------------------------------------------------

type fakeFeedParser struct {
	gotURL string
	feed   *gofeed.Feed
	err    error
}

func (p *fakeFeedParser) ParseURLWithContext(feedURL string, _ context.Context) (*gofeed.Feed, error) {
	p.gotURL = feedURL
	return p.feed, p.err
}

func newTestRSSHandler(feed *gofeed.Feed, err error) (*RSSHandler, *fakeFeedParser) {
	h := NewRSSHandler(zap.NewNop())
	parser := &fakeFeedParser{feed: feed, err: err}
	h.parser = parser
	return h, parser
}

func rssCall(config map[string]any, params map[string]any) *engine.ToolRequest {
	return &engine.ToolRequest{
		Spec: &types.ToolSpec{
			ToolID: "haber_kaynagi",
			Type:   types.ToolRSS,
			Config: config,
		},
		Params: params,
		UserID: "u1",
	}
}

func feedOf(n int) *gofeed.Feed {
	feed := &gofeed.Feed{Title: "Gündem"}
	for i := 0; i < n; i++ {
		feed.Items = append(feed.Items, &gofeed.Item{
			Title: "başlık",
			Link:  "https://haber.example.com/1",
		})
	}
	return feed
}

// ---------------------------------------------------------------------------
// entry shaping
// ---------------------------------------------------------------------------

func TestRSSHandler_ShapesAndClipsEntries(t *testing.T) {
	t.Parallel()

	feed := &gofeed.Feed{
		Title: "Gündem",
		Items: []*gofeed.Item{
			{
				Title:       strings.Repeat("b", 250),
				Link:        "https://haber.example.com/1",
				Description: `<p>Önemli <b>haber</b></p><script>alert("x")</script>`,
				Published:   strings.Repeat("t", 80),
				Authors:     []*gofeed.Person{{Name: "Ayşe Yılmaz"}},
			},
			nil,
			{Title: "ikinci", Link: "https://haber.example.com/2"},
		},
	}
	h, _ := newTestRSSHandler(feed, nil)

	result, err := h.Execute(context.Background(), rssCall(
		map[string]any{"feed_url": "https://haber.example.com/rss"}, nil))
	require.NoError(t, err)

	assert.Equal(t, true, result["success"])
	assert.Equal(t, "Gündem", result["feed_title"])
	assert.Equal(t, 2, result["count"], "nil items are skipped")

	entries, ok := result["entries"].([]any)
	require.True(t, ok)
	require.Len(t, entries, 2)

	first, ok := entries[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, strings.Repeat("b", rssTitleLimit), first["title"])
	assert.Equal(t, "https://haber.example.com/1", first["link"])
	assert.Equal(t, "Önemli haber", first["description"])
	assert.Equal(t, strings.Repeat("t", rssPublishedLimit), first["published"])
	assert.Equal(t, "Ayşe Yılmaz", first["author"])
}

func TestRSSHandler_AuthorFallback(t *testing.T) {
	t.Parallel()

	feed := &gofeed.Feed{
		Items: []*gofeed.Item{
			{Title: "a", Author: &gofeed.Person{Name: "Eski Alan"}},
			{Title: "b"},
		},
	}
	h, _ := newTestRSSHandler(feed, nil)

	result, err := h.Execute(context.Background(), rssCall(
		map[string]any{"feed_url": "https://haber.example.com/rss"}, nil))
	require.NoError(t, err)

	entries := result["entries"].([]any)
	assert.Equal(t, "Eski Alan", entries[0].(map[string]any)["author"])
	assert.Equal(t, "", entries[1].(map[string]any)["author"])
}

// ---------------------------------------------------------------------------
// limits and URL resolution
// ---------------------------------------------------------------------------

func TestRSSHandler_LimitBounds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		limit any
		items int
		want  int
	}{
		{"default", nil, 12, rssDefaultLimit},
		{"explicit", float64(2), 12, 2},
		{"numeric string", "3", 12, 3},
		{"negative falls back", float64(-1), 12, rssDefaultLimit},
		{"capped above items", float64(500), 12, 12},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h, _ := newTestRSSHandler(feedOf(tc.items), nil)
			params := map[string]any{}
			if tc.limit != nil {
				params["limit"] = tc.limit
			}

			result, err := h.Execute(context.Background(), rssCall(
				map[string]any{"feed_url": "https://haber.example.com/rss"}, params))
			require.NoError(t, err)
			assert.Equal(t, tc.want, result["count"])
		})
	}
}

func TestRSSHandler_URLPrecedence(t *testing.T) {
	t.Parallel()

	h, parser := newTestRSSHandler(feedOf(1), nil)

	_, err := h.Execute(context.Background(), rssCall(
		map[string]any{"feed_url": "https://varsayilan.example.com/rss"},
		map[string]any{"url": "https://parametre.example.com/rss"},
	))
	require.NoError(t, err)
	assert.Equal(t, "https://parametre.example.com/rss", parser.gotURL)
}

// ---------------------------------------------------------------------------
// failure modes
// ---------------------------------------------------------------------------

func TestRSSHandler_MissingURL(t *testing.T) {
	t.Parallel()

	h, parser := newTestRSSHandler(feedOf(1), nil)

	_, err := h.Execute(context.Background(), rssCall(nil, nil))
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetCode(err))
	assert.Empty(t, parser.gotURL)
}

func TestRSSHandler_BlockedURL(t *testing.T) {
	t.Parallel()

	h, parser := newTestRSSHandler(feedOf(1), nil)

	_, err := h.Execute(context.Background(), rssCall(
		map[string]any{"feed_url": "http://127.0.0.1/rss"}, nil))
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetCode(err))
	assert.Empty(t, parser.gotURL)
}

func TestRSSHandler_FetchFailure(t *testing.T) {
	t.Parallel()

	h, _ := newTestRSSHandler(nil, errors.New("bağlantı reddedildi"))

	_, err := h.Execute(context.Background(), rssCall(
		map[string]any{"feed_url": "https://haber.example.com/rss"}, nil))
	require.Error(t, err)
	assert.Equal(t, types.ErrToolFetchFailed, types.GetCode(err))
	assert.True(t, types.IsRetryable(err))
}
