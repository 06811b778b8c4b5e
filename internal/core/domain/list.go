package domain

import (
	"sort"
	"strings"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 500
)

type ColumnHint struct {
	Name    string    `json:"name"`
	Label   string    `json:"label"`
	Kind    FieldKind `json:"kind"`
	Choices []string  `json:"choices,omitempty"`
}

type ListQuery struct {
	Search   string
	Filters  map[string]string
	OrderBy  []string
	Page     int
	PageSize int
	// All disables pagination; used by exports.
	All bool
}

// Fingerprint is a canonical form of the query that ignores pagination.
func (q ListQuery) Fingerprint() string {
	var b strings.Builder
	b.WriteString("q=")
	b.WriteString(strings.ToLower(strings.TrimSpace(q.Search)))
	keys := make([]string, 0, len(q.Filters))
	for k := range q.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("&")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(q.Filters[k])
	}
	b.WriteString("&o=")
	b.WriteString(strings.Join(q.OrderBy, ","))
	return b.String()
}

func (q ListQuery) Normalize() ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	return q
}

type Page struct {
	Rows     []Row        `json:"rows"`
	Total    int64        `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
	Columns  []ColumnHint `json:"columns"`
}

// DataStamp summarizes the rows matched by a query so cached renderings can be
// invalidated when any of them changes.
type DataStamp struct {
	LastModified string
	Count        int64
	MaxID        int64
	// Related holds the last modification of each table the rows reference.
	Related      string
}

type WriteOptions struct {
	// Touch records an UPDATE even when nothing changed.
	Touch bool
}
