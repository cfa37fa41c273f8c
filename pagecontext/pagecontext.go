// Package pagecontext fetches a test's start page and reduces it to Markdown
// so the generation prompt can describe the page the script will drive.
package pagecontext

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// Defaults applied when Config fields are zero.
const (
	DefaultTimeout        = 10 * time.Second
	DefaultMaxChars       = 4000
	DefaultMaxContentSize = 2 << 20
	DefaultUserAgent      = "semheal/1.0 (+page-context)"
)

const truncationMarker = "\n\n[...]"

var excessiveLinesRe = regexp.MustCompile(`\n{3,}`)

// Config configures a Fetcher.
type Config struct {
	Timeout        time.Duration
	MaxChars       int
	MaxContentSize int64
	UserAgent      string
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxChars <= 0 {
		c.MaxChars = DefaultMaxChars
	}
	if c.MaxContentSize <= 0 {
		c.MaxContentSize = DefaultMaxContentSize
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	return c
}

// Fetcher retrieves pages and converts their main content to Markdown.
type Fetcher struct {
	client    *http.Client
	converter *md.Converter
	config    Config
	logger    *slog.Logger
}

// New creates a Fetcher. A nil logger uses slog.Default().
func New(cfg Config, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())

	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (max 5)")
				}
				return nil
			},
		},
		converter: converter,
		config:    cfg,
		logger:    logger,
	}
}

// Fetch downloads pageURL and returns its main content as Markdown, truncated
// to the configured character limit.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}

	body, err := f.get(ctx, pageURL)
	if err != nil {
		return "", err
	}

	fragment := f.mainContent(body, parsed)
	markdown, err := f.converter.ConvertString(fragment)
	if err != nil {
		return "", fmt.Errorf("convert to markdown: %w", err)
	}

	markdown = cleanMarkdown(markdown)
	if markdown == "" {
		return "", fmt.Errorf("page %s has no readable content", pageURL)
	}
	return Truncate(markdown, f.config.MaxChars), nil
}

func (f *Fetcher) get(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxContentSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.config.MaxContentSize {
		return nil, fmt.Errorf("content too large (exceeds %d bytes)", f.config.MaxContentSize)
	}
	return body, nil
}

// mainContent returns the HTML of the page's primary content. Readability is
// tried first; pages it cannot score fall back to the <main>, <article> or
// <body> element with page chrome removed.
func (f *Fetcher) mainContent(body []byte, pageURL *url.URL) string {
	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err == nil && article.Node != nil {
		var sb strings.Builder
		if err := html.Render(&sb, article.Node); err == nil && strings.TrimSpace(sb.String()) != "" {
			return sb.String()
		}
	}
	if err != nil {
		f.logger.Debug("Readability extraction failed, using body", "url", pageURL.String(), "error", err)
	}
	return fallbackContent(body)
}

// fallbackContent extracts the main content area using x/net/html directly.
func fallbackContent(body []byte) string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return string(body)
	}

	for _, tag := range []string{"main", "article"} {
		if n := findElement(doc, tag); n != nil {
			return render(n)
		}
	}

	removeElements(doc, map[string]bool{
		"nav": true, "header": true, "footer": true, "aside": true,
		"script": true, "style": true, "noscript": true, "iframe": true,
	})
	if n := findElement(doc, "body"); n != nil {
		return render(n)
	}
	return render(doc)
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func removeElements(n *html.Node, tags map[string]bool) {
	var doomed []*html.Node
	var collect func(*html.Node)
	collect = func(node *html.Node) {
		if node.Type == html.ElementNode && tags[node.Data] {
			doomed = append(doomed, node)
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	for _, node := range doomed {
		if node.Parent != nil {
			node.Parent.RemoveChild(node)
		}
	}
}

func render(n *html.Node) string {
	var sb strings.Builder
	if err := html.Render(&sb, n); err != nil {
		return ""
	}
	return sb.String()
}

func cleanMarkdown(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	content = strings.Join(lines, "\n")
	content = excessiveLinesRe.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}

// Truncate shortens s to at most maxChars runes, cutting at the last line
// break when one falls in the second half and appending a marker.
func Truncate(s string, maxChars int) string {
	runes := []rune(s)
	if maxChars <= 0 || len(runes) <= maxChars {
		return s
	}
	cut := string(runes[:maxChars])
	if i := strings.LastIndex(cut, "\n"); i > len(cut)/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " \t\n") + truncationMarker
}
