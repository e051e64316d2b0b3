package tools

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// symbolEntry maps one trading symbol to the names users call it by.
type symbolEntry struct {
	symbol  string
	aliases []string
}

// defaultSymbols covers the NSE names users most often ask about by company
// name rather than ticker. The table is a convenience, not a listing feed;
// unresolved queries pass through unchanged and the upstream source decides.
var defaultSymbols = []symbolEntry{
	{"RELIANCE", []string{"reliance", "reliance industries", "ril"}},
	{"TCS", []string{"tcs", "tata consultancy", "tata consultancy services"}},
	{"INFY", []string{"infosys", "infy"}},
	{"HDFCBANK", []string{"hdfc bank", "hdfc"}},
	{"ICICIBANK", []string{"icici bank", "icici"}},
	{"SBIN", []string{"sbi", "state bank", "state bank of india"}},
	{"BHARTIARTL", []string{"airtel", "bharti airtel"}},
	{"ITC", []string{"itc"}},
	{"WIPRO", []string{"wipro"}},
	{"HCLTECH", []string{"hcl", "hcl technologies", "hcl tech"}},
	{"TATAMOTORS", []string{"tata motors"}},
	{"TATASTEEL", []string{"tata steel"}},
	{"ADANIENT", []string{"adani", "adani enterprises"}},
	{"BAJFINANCE", []string{"bajaj finance"}},
	{"MARUTI", []string{"maruti", "maruti suzuki"}},
	{"ASIANPAINT", []string{"asian paints"}},
	{"LT", []string{"larsen", "larsen and toubro", "l&t"}},
	{"KOTAKBANK", []string{"kotak", "kotak bank", "kotak mahindra"}},
	{"AXISBANK", []string{"axis bank", "axis"}},
	{"SUNPHARMA", []string{"sun pharma", "sun pharmaceutical"}},
}

// fuzzyThreshold is the minimum Jaro-Winkler similarity accepted when no
// exact symbol or alias match exists.
const fuzzyThreshold = 0.90

// SymbolResolver turns free-text company references into trading symbols.
// The zero value is not usable; create instances with [NewSymbolResolver].
type SymbolResolver struct {
	entries []symbolEntry
}

// NewSymbolResolver returns a resolver seeded with the built-in symbol table
// plus any extra symbol-to-aliases mappings.
func NewSymbolResolver(extra map[string][]string) *SymbolResolver {
	entries := make([]symbolEntry, len(defaultSymbols))
	copy(entries, defaultSymbols)
	for symbol, aliases := range extra {
		entries = append(entries, symbolEntry{symbol: strings.ToUpper(symbol), aliases: aliases})
	}
	return &SymbolResolver{entries: entries}
}

// Resolve maps query to a trading symbol. Resolution order:
//
//  1. Exact symbol match (case-insensitive).
//  2. Exact alias match.
//  3. Fuzzy alias match by Jaro-Winkler similarity above a fixed threshold.
//
// When nothing matches, the query is returned upper-cased so single-word
// tickers not in the table still work, and matched reports false.
func (r *SymbolResolver) Resolve(query string) (symbol string, matched bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return "", false
	}

	upper := strings.ToUpper(q)
	for _, e := range r.entries {
		if e.symbol == upper {
			return e.symbol, true
		}
	}
	for _, e := range r.entries {
		for _, alias := range e.aliases {
			if alias == q {
				return e.symbol, true
			}
		}
	}

	best, bestScore := "", 0.0
	for _, e := range r.entries {
		for _, alias := range e.aliases {
			score := matchr.JaroWinkler(q, alias, false)
			if score > bestScore {
				best, bestScore = e.symbol, score
			}
		}
	}
	if bestScore >= fuzzyThreshold {
		return best, true
	}

	return strings.ToUpper(strings.ReplaceAll(upper, " ", "")), false
}
