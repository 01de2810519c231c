package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/xhad/newsdesk/internal/models"
	"github.com/xhad/newsdesk/internal/types"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

type ScraperConfig struct {
	RateLimit  float64 // requests per second
	Timeout    time.Duration
	UserAgent  string
	Client     *http.Client
	Logger     *slog.Logger
	OnProgress func(url string)
}

// Scraper fetches article URLs and extracts their readable text.
type Scraper struct {
	config  ScraperConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

var (
	errUnsupportedScheme = errors.New("unsupported URL scheme")
	errNotHTML           = errors.New("response is not HTML")
	errEmptyContent      = errors.New("no readable text extracted")
)

// Main content candidates, most specific first.
var contentSelectors = []string{
	"article",
	"main",
	"[role=main]",
	".article-body",
	".story-body",
	".content",
	"#content",
}

// Elements that start a new paragraph in the extracted text.
var blockElements = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "main": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"ul": true, "ol": true, "li": true, "dl": true, "dt": true, "dd": true,
	"table": true, "tr": true, "td": true, "th": true,
	"blockquote": true, "pre": true, "figure": true, "figcaption": true,
	"br": true, "hr": true,
}

var removeSelector = "script, style, noscript, nav, footer, header, aside, form, iframe, svg"

var noisePatterns = []string{
	"Cookie Policy",
	"Accept Cookies",
	"Privacy Policy",
	"Terms of Service",
}

func NewWithConfig(config ScraperConfig) *Scraper {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}
	if config.UserAgent == "" {
		config.UserAgent = "newsdesk/1.0"
	}

	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scraper{
		config:  config,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		logger:  logger,
	}
}

func New() *Scraper {
	return NewWithConfig(ScraperConfig{})
}

// Load fetches every URL independently. A URL that cannot be fetched or
// yields no text is reported in the failures and does not stop the others.
// ErrNoDocuments is returned when nothing could be loaded.
func (s *Scraper) Load(ctx context.Context, urls []string) ([]models.Document, []models.URLFailure, error) {
	var documents []models.Document
	var failures []models.URLFailure

	for _, rawURL := range NormalizeURLs(urls) {
		if err := ctx.Err(); err != nil {
			return documents, failures, err
		}

		if s.config.OnProgress != nil {
			s.config.OnProgress(rawURL)
		}

		doc, err := s.fetch(ctx, rawURL)
		if err != nil {
			s.logger.Warn("dropping url", "url", rawURL, "error", err)
			failures = append(failures, models.URLFailure{URL: rawURL, Err: err})
			continue
		}

		s.logger.Debug("loaded url", "url", rawURL, "chars", len(doc.Text))
		documents = append(documents, *doc)
	}

	if len(documents) == 0 {
		return nil, failures, types.ErrNoDocuments
	}

	return documents, failures, nil
}

// NormalizeURLs trims the input, drops blank and duplicate entries and adds
// https:// to entries without a scheme.
func NormalizeURLs(urls []string) []string {
	var normalized []string
	seen := make(map[string]bool)

	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if !strings.Contains(u, "://") {
			u = "https://" + u
		}
		if seen[u] {
			continue
		}
		seen[u] = true
		normalized = append(normalized, u)
	}

	return normalized
}

func (s *Scraper) fetch(ctx context.Context, urlStr string) (*models.Document, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("%w: %s", errUnsupportedScheme, parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return nil, fmt.Errorf("failed to parse URL: missing host")
	}

	// Apply rate limiting
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", s.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, urlStr)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err == nil && mediaType != "text/html" && mediaType != "application/xhtml+xml" {
			return nil, fmt.Errorf("%w: %s", errNotHTML, mediaType)
		}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	content := extractMainContent(doc)
	if content == "" {
		return nil, errEmptyContent
	}

	return &models.Document{
		Source: urlStr,
		Title:  strings.TrimSpace(doc.Find("title").First().Text()),
		Text:   content,
		Metadata: map[string]interface{}{
			"time":         time.Now(),
			"contentType":  resp.Header.Get("Content-Type"),
			"lastModified": resp.Header.Get("Last-Modified"),
		},
	}, nil
}

func extractMainContent(doc *goquery.Document) string {
	doc.Find(removeSelector).Remove()

	selection := doc.Find("body")
	for _, selector := range contentSelectors {
		if selected := doc.Find(selector).First(); selected.Length() > 0 && cleanContent(selected.Text()) != "" {
			selection = selected
			break
		}
	}
	if selection.Length() == 0 {
		selection = doc.Selection
	}

	// Keep block boundaries as paragraph breaks for the chunker
	var paragraphs []string
	var current strings.Builder
	flush := func() {
		if text := cleanContent(current.String()); text != "" {
			paragraphs = append(paragraphs, text)
		}
		current.Reset()
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			current.WriteString(n.Data)
			return
		case html.ElementNode, html.DocumentNode:
		default:
			return
		}

		block := n.Type == html.ElementNode && blockElements[n.Data]
		if block {
			flush()
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			flush()
		}
	}

	for _, n := range selection.Nodes {
		walk(n)
	}
	flush()

	return strings.Join(paragraphs, "\n\n")
}

func cleanContent(content string) string {
	// Remove extra whitespace
	content = strings.Join(strings.Fields(content), " ")

	for _, pattern := range noisePatterns {
		content = strings.ReplaceAll(content, pattern, "")
	}

	return strings.TrimSpace(content)
}
