package rss

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/conciergebot/concierge/pkg/concierge/config"
	"github.com/conciergebot/concierge/pkg/concierge/dashboard"
	"github.com/conciergebot/concierge/pkg/concierge/gateway/gatewaytest"
	"github.com/conciergebot/concierge/pkg/concierge/services"
	"github.com/conciergebot/concierge/pkg/concierge/store"
)

// feedServer serves a feed at / with the given number of items and a
// plain page for the item links, so image resolution stays local.
func feedServer(items *atomic.Int32) *httptest.Server {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			fmt.Fprint(w, `<html><body>story page</body></html>`)
			return
		}
		var b strings.Builder
		b.WriteString(`<?xml version="1.0"?><rss version="2.0"><channel>` +
			`<title>Example News</title><link>` + srv.URL + `</link>`)
		for i := 1; i <= int(items.Load()); i++ {
			fmt.Fprintf(&b, `<item><title>Story %d</title>`+
				`<link>%s/story/%d</link>`+
				`<guid>guid-%d</guid>`+
				`<pubDate>Mon, 0%d Jan 2024 10:00:00 +0000</pubDate></item>`, i, srv.URL, i, i, i)
		}
		b.WriteString(`</channel></rss>`)
		fmt.Fprint(w, b.String())
	}))
	return srv
}

func testTick(t *testing.T, params string) (*dashboard.Tick, *gatewaytest.Fake, *store.Store) {
	t.Helper()
	fake := gatewaytest.New()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	d := store.Dashboard{Name: "rss", Channel: "news", Topic: "feed",
		MessageID: 1, Interval: time.Minute, Params: params}
	if err := st.CreateDashboard(context.Background(), &d); err != nil {
		t.Fatalf("create dashboard: %v", err)
	}

	return &dashboard.Tick{
		Instance: d,
		Env: &services.Env{
			Client: fake,
			Config: config.Default(),
			Store:  st,
			Self:   fake.Self,
			Logger: slog.New(slog.DiscardHandler),
		},
	}, fake, st
}

func TestValidate(t *testing.T) {
	p := New(config.RSSConfig{}, nil)
	if err := p.Validate("https://news.example.com/rss"); err != nil {
		t.Fatalf("valid URL rejected: %v", err)
	}
	for _, bad := range []string{"", "ftp://x/feed", "not a url at all", "/relative/path"} {
		if err := p.Validate(bad); err == nil {
			t.Errorf("accepted %q", bad)
		}
	}
}

func TestBootstrapSeedsWithoutAnnouncing(t *testing.T) {
	var items atomic.Int32
	items.Store(2)
	srv := feedServer(&items)
	defer srv.Close()

	tick, fake, st := testTick(t, srv.URL)
	tick.Bootstrap = true
	p := New(config.RSSConfig{}, nil)
	ctx := context.Background()

	content, err := p.Render(ctx, tick)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(content, "Example News") || !strings.Contains(content, "Story 1") {
		t.Fatalf("pinned view: %q", content)
	}
	if fake.SentCount() != 0 {
		t.Fatalf("bootstrap announced %d items", fake.SentCount())
	}
	if n, _ := st.SeenCount(ctx, tick.Instance.ID); n != 2 {
		t.Fatalf("seen markers: %d, want 2", n)
	}

	// Next tick with one fresh item announces exactly it.
	items.Store(3)
	tick.Bootstrap = false
	if _, err := p.Render(ctx, tick); err != nil {
		t.Fatalf("second render: %v", err)
	}
	if fake.SentCount() != 1 {
		t.Fatalf("announcements: %d, want 1", fake.SentCount())
	}
	if got := fake.LastSent(); !strings.Contains(got.Content, "Story 3") ||
		got.Channel != "news" || got.Topic != "feed" {
		t.Fatalf("announcement: %+v", got)
	}

	// Same items again: nothing new.
	if _, err := p.Render(ctx, tick); err != nil {
		t.Fatalf("third render: %v", err)
	}
	if fake.SentCount() != 1 {
		t.Fatalf("re-announced seen items: %d sends", fake.SentCount())
	}
}

func TestPinnedViewCapsItems(t *testing.T) {
	var items atomic.Int32
	items.Store(9)
	srv := feedServer(&items)
	defer srv.Close()

	tick, _, _ := testTick(t, srv.URL)
	tick.Bootstrap = true
	p := New(config.RSSConfig{MaxItems: 3}, nil)

	content, err := p.Render(context.Background(), tick)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if got := strings.Count(content, srv.URL+"/story/"); got != 3 {
		t.Fatalf("pinned view lists %d items, want 3:\n%s", got, content)
	}
}

func TestRenderPropagatesFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tick, _, _ := testTick(t, srv.URL)
	p := New(config.RSSConfig{}, nil)
	if _, err := p.Render(context.Background(), tick); err == nil {
		t.Fatal("expected an error from a failing feed")
	}
}

func TestFirstImageURL(t *testing.T) {
	html := `<p>text</p><img src="https://img.example.com/a.png"><img src="https://img.example.com/b.png">`
	if got := firstImageURL(html); got != "https://img.example.com/a.png" {
		t.Fatalf("got %q", got)
	}
	if got := firstImageURL("<p>no images</p>"); got != "" {
		t.Fatalf("got %q from imageless fragment", got)
	}
	if got := firstImageURL(""); got != "" {
		t.Fatalf("got %q from empty fragment", got)
	}
}

func TestPageImageFindsOGTag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><head><meta property="og:image" content="https://img.example.com/og.png"/></head><body/></html>`)
	}))
	defer srv.Close()

	p := New(config.RSSConfig{FetchTimeout: 2 * time.Second}, nil)
	if got := p.pageImage(context.Background(), srv.URL); got != "https://img.example.com/og.png" {
		t.Fatalf("got %q", got)
	}
}
