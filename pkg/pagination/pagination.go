package pagination

import (
	"math"
	"net/http"
	"strconv"
)

const (
	DefaultPerPage = 10
	MaxPerPage     = 100

	// TotalHeader and TotalPagesHeader carry list totals so the body can
	// stay a bare JSON array.
	TotalHeader      = "X-WP-Total"
	TotalPagesHeader = "X-WP-TotalPages"
)

// Params holds pagination parameters extracted from query strings.
type Params struct {
	Page    int
	PerPage int
}

// DefaultParams returns the first page at the default size.
func DefaultParams() Params {
	return Params{Page: 1, PerPage: DefaultPerPage}
}

// Normalize replaces a page below 1 with 1 and a page size below 1 with
// DefaultPerPage, and clamps the page size to MaxPerPage.
func (p Params) Normalize() Params {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = DefaultPerPage
	}
	p.PerPage = min(p.PerPage, MaxPerPage)
	return p
}

// Offset is the number of rows to skip for this page. It saturates at
// math.MaxInt instead of overflowing for huge page numbers.
func (p Params) Offset() int {
	p = p.Normalize()
	if p.Page-1 > math.MaxInt/p.PerPage {
		return math.MaxInt
	}
	return (p.Page - 1) * p.PerPage
}

// FromRequest reads page and per_page from the query string. Values that are
// missing, non-numeric or out of range keep their defaults; per_page above
// MaxPerPage is clamped.
func FromRequest(r *http.Request) Params {
	p := DefaultParams()
	q := r.URL.Query()

	if v, err := strconv.Atoi(q.Get("page")); err == nil && v > 0 {
		p.Page = v
	}
	if v, err := strconv.Atoi(q.Get("per_page")); err == nil && v > 0 {
		p.PerPage = min(v, MaxPerPage)
	}
	return p
}

// TotalPages returns how many pages of perPage cover total rows.
func TotalPages(total, perPage int) int {
	if perPage <= 0 || total <= 0 {
		return 0
	}
	return (total + perPage - 1) / perPage
}

// WriteHeaders sets the total and total-pages headers on w.
func WriteHeaders(w http.ResponseWriter, total int, p Params) {
	w.Header().Set(TotalHeader, strconv.Itoa(total))
	w.Header().Set(TotalPagesHeader, strconv.Itoa(TotalPages(total, p.PerPage)))
}
