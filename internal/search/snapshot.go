package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// snapshotByteLimit caps how much of a page body is read and how much
// extracted text is kept on an evidence entry.
const snapshotByteLimit = 32 * 1024

// SnapshotFetcher fetches a page and extracts its readable text for
// evidence snapshots. Best effort: any failure returns an empty snapshot.
type SnapshotFetcher struct {
	client *http.Client
}

// NewSnapshotFetcher creates a fetcher with a short per-page timeout.
func NewSnapshotFetcher() *SnapshotFetcher {
	return &SnapshotFetcher{client: &http.Client{Timeout: 5 * time.Second}}
}

// Fetch returns the readable text of the page at url, or an error.
// Callers treat errors as "no snapshot", never as stage failures.
func (f *SnapshotFetcher) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("invalid snapshot url %s: %w", url, err)
	}
	req.Header.Set("User-Agent", "content-factory/1.0 (+evidence-snapshot)")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("snapshot fetch failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("snapshot fetch of %s: HTTP status %d", url, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") && !strings.Contains(ct, "text") {
		return "", fmt.Errorf("snapshot fetch of %s: unsupported content type %s", url, ct)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, snapshotByteLimit))
	if err != nil {
		return "", fmt.Errorf("failed to read snapshot body: %w", err)
	}

	return extractReadableText(string(body))
}

// extractReadableText parses HTML and returns the main body text with
// navigation and script noise removed.
func extractReadableText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("nav, footer, header, script, style, noscript, .ad, .advertisement, .sidebar, .cookie-banner").Remove()

	content := doc.Find("main, article")
	if content.Length() == 0 {
		content = doc.Find("body")
	}

	text := cleanWhitespace(content.First().Text())
	if len(text) > snapshotByteLimit {
		text = text[:snapshotByteLimit]
	}
	return text, nil
}

// cleanWhitespace collapses runs of whitespace into single spaces and
// trims the result.
func cleanWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
