package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	// DefaultFetchTimeout bounds every page fetch.
	DefaultFetchTimeout = 10 * time.Second
	// DefaultArticleMaxChars caps Article output, in code points.
	DefaultArticleMaxChars = 8000

	maxPageBytes = 8 << 20
)

// Fetcher downloads web pages and reduces them to visible text. Every method
// degrades to an empty string on network or parse failure.
type Fetcher struct {
	client   *http.Client
	maxChars int
	log      *slog.Logger
}

// NewFetcher builds a Fetcher. Non-positive arguments fall back to defaults.
func NewFetcher(log *slog.Logger, timeout time.Duration, maxChars int) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if maxChars <= 0 {
		maxChars = DefaultArticleMaxChars
	}
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		maxChars: maxChars,
		log:      log,
	}
}

// Page returns the page's visible text: script and style removed, every
// non-empty trimmed text node joined by a single space. No length cap.
func (f *Fetcher) Page(ctx context.Context, url string) string {
	doc, err := f.fetch(ctx, url)
	if err != nil {
		f.log.Warn("page fetch failed", "url", url, "err", err)
		return ""
	}
	return strings.Join(textNodes(doc), " ")
}

// Article prefers the div#bodyContent container when the page has one, joins
// its text nodes with newlines, and trims the result to the configured cap.
func (f *Fetcher) Article(ctx context.Context, url string) string {
	doc, err := f.fetch(ctx, url)
	if err != nil {
		f.log.Warn("article fetch failed", "url", url, "err", err)
		return ""
	}
	root := doc
	if body := findByID(doc, "div", "bodyContent"); body != nil {
		root = body
	}
	text := strings.Join(textNodes(root), "\n")
	if n := len([]rune(text)); n > f.maxChars {
		f.log.Info("trimming article", "url", url, "from", n, "to", f.maxChars)
		text = string([]rune(text)[:f.maxChars])
	}
	return text
}

// Articles fetches every url with Article and joins the non-failing results
// with newlines.
func (f *Fetcher) Articles(ctx context.Context, urls []string) string {
	texts := make([]string, 0, len(urls))
	for _, u := range urls {
		if text := f.Article(ctx, u); text != "" {
			texts = append(texts, text)
		}
	}
	return strings.Join(texts, "\n")
}

func (f *Fetcher) fetch(ctx context.Context, url string) (*html.Node, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return html.Parse(bytes.NewReader(body))
}

// textNodes returns trimmed, non-empty text below n in document order,
// skipping script and style content.
func textNodes(n *html.Node) []string {
	var out []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if s := strings.TrimSpace(n.Data); s != "" {
				out = append(out, s)
			}
			return
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func findByID(n *html.Node, tag, id string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		for _, a := range n.Attr {
			if a.Key == "id" && a.Val == id {
				return n
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, tag, id); found != nil {
			return found
		}
	}
	return nil
}
