// Package rss implements the feed dashboard producer. Each tick fetches
// and parses an RSS/Atom feed, re-renders the aggregate pinned view and,
// on non-bootstrap ticks, posts one standalone message per previously
// unseen item (oldest first).
package rss

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/conciergebot/concierge/pkg/concierge/config"
	"github.com/conciergebot/concierge/pkg/concierge/dashboard"
)

// Producer is the "rss" dashboard producer. Params: the feed URL.
type Producer struct {
	cfg    config.RSSConfig
	parser *gofeed.Parser
	http   *http.Client
	logger *slog.Logger
}

// New creates the feed producer.
func New(cfg config.RSSConfig, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 8
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	return &Producer{
		cfg:    cfg,
		parser: gofeed.NewParser(),
		http:   &http.Client{Timeout: cfg.FetchTimeout},
		logger: logger.With("component", "rss"),
	}
}

// Name implements dashboard.Producer.
func (p *Producer) Name() string { return "rss" }

// Validate implements dashboard.Producer: params must be an absolute
// http(s) URL.
func (p *Producer) Validate(params string) error {
	u, err := url.Parse(strings.TrimSpace(params))
	if err != nil {
		return fmt.Errorf("not a URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("feed URL must be absolute http(s), got %q", params)
	}
	return nil
}

// Render implements dashboard.Producer.
func (p *Producer) Render(ctx context.Context, tick *dashboard.Tick) (string, error) {
	feedURL := strings.TrimSpace(tick.Instance.Params)
	feed, err := p.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return "", fmt.Errorf("fetch feed %q: %w", feedURL, err)
	}

	// Feeds list newest first; walk backwards so announcements go out
	// oldest first.
	for i := len(feed.Items) - 1; i >= 0; i-- {
		item := feed.Items[i]
		isNew, err := tick.Env.Store.MarkSeen(ctx, tick.Instance.ID, itemGUID(item))
		if err != nil {
			p.logger.Warn("seen marker failed", "item", item.Link, "error", err)
			continue
		}
		if isNew && !tick.Bootstrap {
			p.announce(ctx, tick, item)
		}
	}

	return p.renderPinned(feed), nil
}

// itemGUID picks the stable identity of a feed item.
func itemGUID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	return item.Link
}

// announce posts one standalone message for a new item.
func (p *Producer) announce(ctx context.Context, tick *dashboard.Tick, item *gofeed.Item) {
	var b strings.Builder
	fmt.Fprintf(&b, "**[%s](%s)**", strings.TrimSpace(item.Title), item.Link)
	if item.PublishedParsed != nil {
		fmt.Fprintf(&b, "\n*%s*", item.PublishedParsed.Format("2006-01-02 15:04"))
	}
	if img := p.resolveImage(ctx, item); img != "" {
		fmt.Fprintf(&b, "\n[image](%s)", img)
	}

	if _, err := tick.Env.Client.SendMessage(ctx, tick.Instance.Channel, tick.Instance.Topic, b.String()); err != nil {
		p.logger.Warn("item announcement failed",
			"item", item.Link, "instance", tick.Instance.ID, "error", err)
	}
}

// renderPinned builds the aggregate pinned view.
func (p *Producer) renderPinned(feed *gofeed.Feed) string {
	var b strings.Builder
	title := strings.TrimSpace(feed.Title)
	if title == "" {
		title = "Feed"
	}
	if feed.Link != "" {
		fmt.Fprintf(&b, "## :newspaper: [%s](%s)\n", title, feed.Link)
	} else {
		fmt.Fprintf(&b, "## :newspaper: %s\n", title)
	}
	fmt.Fprintf(&b, "*updated %s*\n\n", time.Now().Format("2006-01-02 15:04"))

	n := len(feed.Items)
	if n > p.cfg.MaxItems {
		n = p.cfg.MaxItems
	}
	for _, item := range feed.Items[:n] {
		fmt.Fprintf(&b, "1. [%s](%s)", strings.TrimSpace(item.Title), item.Link)
		if item.PublishedParsed != nil {
			fmt.Fprintf(&b, " — %s", item.PublishedParsed.Format("Jan 2"))
		}
		b.WriteString("\n")
	}
	if len(feed.Items) == 0 {
		b.WriteString("*no items*\n")
	}
	return b.String()
}

// resolveImage finds a representative image for an item: an image
// enclosure, else an embedded <img> in the item body, else a
// best-effort og:image fetch of the linked page.
func (p *Producer) resolveImage(ctx context.Context, item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}
	for _, body := range []string{item.Content, item.Description} {
		if img := firstImageURL(body); img != "" {
			return img
		}
	}
	if item.Link != "" {
		return p.pageImage(ctx, item.Link)
	}
	return ""
}
