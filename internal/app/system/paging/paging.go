// internal/app/system/paging/paging.go
package paging

import (
	"net/http"
	"strconv"

	"github.com/dalemusser/waffle/pantry/query"
)

// PageSize is the default number of rows returned by list endpoints.
const PageSize = 50

// MaxPageSize caps the ?limit= a client may ask for.
const MaxPageSize = 200

// Page is a 1-based window over a sorted list.
type Page struct {
	Start int // 1-based index of the first row
	Size  int
}

// FromRequest reads ?start= (1-based) and ?limit=. Missing or invalid values
// fall back to the first page of PageSize rows.
func FromRequest(r *http.Request) Page {
	p := Page{Start: 1, Size: PageSize}
	if n, err := strconv.Atoi(query.Get(r, "start")); err == nil && n > 0 {
		p.Start = n
	}
	if n, err := strconv.Atoi(query.Get(r, "limit")); err == nil && n > 0 {
		p.Size = min(n, MaxPageSize)
	}
	return p
}

// Skip is the number of rows before the page.
func (p Page) Skip() int64 { return int64(p.Start - 1) }

// LimitPlusOne fetches one extra row so Trim can tell whether a next page exists.
func (p Page) LimitPlusOne() int64 { return int64(p.Size + 1) }

// Result describes the page a client received.
type Result struct {
	Start     int  `json:"start"` // 0 when the page is empty
	End       int  `json:"end"`
	HasPrev   bool `json:"hasPrev"`
	HasNext   bool `json:"hasNext"`
	PrevStart int  `json:"prevStart,omitempty"`
	NextStart int  `json:"nextStart,omitempty"`
}

// Trim cuts a look-ahead fetch down to the page and reports the range shown.
func Trim[T any](rows *[]T, p Page) Result {
	var res Result
	if len(*rows) > p.Size {
		*rows = (*rows)[:p.Size]
		res.HasNext = true
	}
	if p.Start > 1 {
		res.HasPrev = true
		res.PrevStart = max(1, p.Start-p.Size)
	}
	if shown := len(*rows); shown > 0 {
		res.Start = p.Start
		res.End = p.Start + shown - 1
	}
	if res.HasNext {
		res.NextStart = p.Start + p.Size
	}
	return res
}
