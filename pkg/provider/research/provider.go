// Package research defines the provider interface for web research lookups
// used to answer questions that market data alone cannot.
package research

import "context"

// Source is one citation backing a research result.
type Source struct {
	// Title is the page or article title.
	Title string

	// URL is the source location.
	URL string

	// Snippet is a short excerpt relevant to the query.
	Snippet string
}

// Result is the outcome of a research lookup.
type Result struct {
	// Query is the query that produced this result.
	Query string

	// Summary is a condensed answer synthesised from the sources.
	Summary string

	// Sources lists the citations backing the summary, most relevant first.
	Sources []Source
}

// Provider performs web research. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Research answers query from current web content. An empty query is an
	// error.
	Research(ctx context.Context, query string) (*Result, error)
}
