// Package search provides the external web-search collaborator used by the
// discovery stage fallback and search-context synthesis. Failures here are
// always non-fatal for callers.
package search

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"
)

// MaxResults bounds every query; the backend never returns more.
const MaxResults = 5

// Timeout bounds a single search call, independent of the stage call that
// triggered it.
const Timeout = 8 * time.Second

// Result is one web search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher performs a keyword web search.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Result, error)
}

// GoogleSearcher implements Searcher over the Google Custom Search API.
type GoogleSearcher struct {
	svc *customsearch.Service
	cx  string
}

// NewGoogleSearcher creates a Google Custom Search backed searcher.
func NewGoogleSearcher(ctx context.Context, apiKey, cx string) (*GoogleSearcher, error) {
	svc, err := customsearch.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create customsearch service: %w", err)
	}
	return &GoogleSearcher{svc: svc, cx: cx}, nil
}

// Search implements Searcher.
func (g *GoogleSearcher) Search(ctx context.Context, query string) ([]Result, error) {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	resp, err := g.svc.Cse.List().Context(ctx).Cx(g.cx).Q(query).Num(MaxResults).Do()
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]Result, 0, len(resp.Items))
	for _, item := range resp.Items {
		results = append(results, Result{
			Title:   item.Title,
			URL:     item.Link,
			Snippet: item.Snippet,
		})
		if len(results) == MaxResults {
			break
		}
	}
	return results, nil
}
