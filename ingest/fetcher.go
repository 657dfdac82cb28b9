package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	strata "github.com/davrell/strata"
)

const fetchBodyLimit = 4 << 20 // 4MB

// Fetcher retrieves remote content for URL sources.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (title, text string, err error)
}

// URLFetcher downloads a page and extracts its readable text. Readability
// extraction is attempted first; plain tag stripping is the fallback for
// pages readability cannot parse.
type URLFetcher struct {
	client *http.Client
}

// NewURLFetcher creates a fetcher with a 15-second timeout.
func NewURLFetcher() *URLFetcher {
	return &URLFetcher{
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// NewURLFetcherWithClient creates a fetcher using the given HTTP client.
func NewURLFetcherWithClient(client *http.Client) *URLFetcher {
	return &URLFetcher{client: client}
}

func (f *URLFetcher) Fetch(ctx context.Context, rawURL string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", "", strata.Validationf("invalid URL %q: %v", rawURL, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; StrataBot/1.0)")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("ingest: fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", "", &strata.HTTPError{Status: resp.StatusCode, Body: rawURL}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchBodyLimit))
	if err != nil {
		return "", "", fmt.Errorf("ingest: read %s: %w", rawURL, err)
	}

	html := string(body)

	parsedURL, _ := url.Parse(rawURL)
	article, err := readability.FromReader(strings.NewReader(html), parsedURL)
	if err == nil && article.TextContent != "" {
		return strings.TrimSpace(article.Title), strings.TrimSpace(article.TextContent), nil
	}

	return "", StripHTML(html), nil
}
