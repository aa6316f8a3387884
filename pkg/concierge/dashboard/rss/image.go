package rss

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/net/html"
)

// firstImageURL returns the src of the first <img> tag in an HTML
// fragment, or "".
func firstImageURL(fragment string) string {
	if fragment == "" {
		return ""
	}
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	return findImg(doc)
}

func findImg(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "img" {
		for _, a := range n.Attr {
			if a.Key == "src" && a.Val != "" {
				return a.Val
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if src := findImg(c); src != "" {
			return src
		}
	}
	return ""
}

// pageImage fetches the linked page and extracts its og:image meta tag.
// Best effort with a short timeout; any failure yields "".
func (p *Producer) pageImage(ctx context.Context, pageURL string) string {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return ""
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return ""
	}
	return findOGImage(doc)
}

func findOGImage(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "meta" {
		var property, content string
		for _, a := range n.Attr {
			switch a.Key {
			case "property", "name":
				property = a.Val
			case "content":
				content = a.Val
			}
		}
		if property == "og:image" && content != "" {
			return content
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if img := findOGImage(c); img != "" {
			return img
		}
	}
	return ""
}
