package tool

import (
	"context"
	"fmt"
	"time"
)

// SearchHit is one web search result.
type SearchHit struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Snippet   string `json:"snippet"`
	Timestamp string `json:"timestamp,omitempty"`
}

// SearchProvider performs web searches for web_search.
type SearchProvider interface {
	Search(ctx context.Context, query string, limit int) ([]SearchHit, error)
}

// PlaceholderSearch returns a single canned hit for every query.
type PlaceholderSearch struct{}

// Search implements SearchProvider.
func (PlaceholderSearch) Search(_ context.Context, query string, _ int) ([]SearchHit, error) {
	return []SearchHit{{
		Title:     "Search results for: " + query,
		URL:       "https://example.com",
		Snippet:   "This is a placeholder search result for the query: " + query,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}}, nil
}

// WebSearchResult is the web_search result.
type WebSearchResult struct {
	Query      string      `json:"query"`
	Results    []SearchHit `json:"results"`
	Count      int         `json:"count"`
	SearchTime string      `json:"search_time"`
}

type webSearchArgs struct {
	Query string `json:"query" description:"Search query for finding relevant information"`
	Limit *int   `json:"limit" description:"Maximum number of results to return (default: 5)"`
}

// NewWebSearchTool returns the web_search built-in.
func NewWebSearchTool(provider SearchProvider, now func() time.Time) *FunctionTool {
	if provider == nil {
		provider = PlaceholderSearch{}
	}
	if now == nil {
		now = time.Now
	}
	return NewFunctionToolFromStruct(
		"web_search",
		"Searches the web for current information on any topic. Useful for getting up-to-date information, news, or facts.",
		webSearchArgs{},
		func(ctx context.Context, args map[string]any) (any, error) {
			var in webSearchArgs
			if err := decodeArgs(args, &in); err != nil {
				return nil, err
			}
			limit := limitOrDefault(in.Limit)
			hits, err := provider.Search(ctx, in.Query, limit)
			if err != nil {
				return nil, fmt.Errorf("web search failed: %w", err)
			}
			if len(hits) > limit {
				hits = hits[:limit]
			}
			return WebSearchResult{
				Query:      in.Query,
				Results:    hits,
				Count:      len(hits),
				SearchTime: now().UTC().Format(time.RFC3339),
			}, nil
		},
	)
}

func limitOrDefault(limit *int) int {
	if limit == nil || *limit <= 0 {
		return 5
	}
	return *limit
}
