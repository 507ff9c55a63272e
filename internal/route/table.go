package route

import (
	"encoding/json"
	"strings"
)

// FallbackKey is the routing-table entry consulted when no exact recipient
// match exists.
const FallbackKey = "fallback"

// Table maps normalized (lower-cased) recipient addresses to routes.
type Table map[string]Route

// ParseTable decodes a routing table from its JSON configuration string.
// It never fails: malformed JSON yields an empty table, so a configuration
// mistake degrades to the catch-all path instead of dropping mail on the
// floor. Keys are normalized to lower case.
func ParseTable(raw string) Table {
	if strings.TrimSpace(raw) == "" {
		return Table{}
	}

	var decoded map[string]Route
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return Table{}
	}

	table := make(Table, len(decoded))
	for addr, r := range decoded {
		table[strings.ToLower(addr)] = r
	}
	return table
}

// Resolve looks up the route for an address: exact match first, then the
// fallback entry, then nil. An exact entry always wins over fallback, even
// when the exact entry is not deliverable.
func (t Table) Resolve(address string) *Route {
	if r, ok := t[strings.ToLower(address)]; ok {
		return &r
	}
	if r, ok := t[FallbackKey]; ok {
		return &r
	}
	return nil
}
