package pagination

import (
	"math"
	"net/url"
	"strconv"
)

const (
	DefaultPage  = 1
	DefaultCount = 20
	MaxCount     = 100

	// MaxPage keeps (page-1)*MaxCount inside a 32-bit offset.
	MaxPage = math.MaxInt32 / MaxCount
)

// Params holds the page-based pagination parameters of a search request.
type Params struct {
	Page  int
	Count int
}

// FromQuery reads page and _count. Missing or non-positive values fall back
// to the defaults; _count is clamped to MaxCount and page to MaxPage.
func FromQuery(q url.Values) Params {
	page, _ := strconv.Atoi(q.Get("page"))
	if page <= 0 {
		page = DefaultPage
	}
	if page > MaxPage {
		page = MaxPage
	}

	count, _ := strconv.Atoi(q.Get("_count"))
	if count <= 0 {
		count = DefaultCount
	}
	if count > MaxCount {
		count = MaxCount
	}

	return Params{Page: page, Count: count}
}

// Offset is the number of items skipped before this page.
func (p Params) Offset() int {
	return (p.Page - 1) * p.Count
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset()+p.Count < total
}

// HasPrevious returns true if there are results before the current page.
func (p Params) HasPrevious() bool {
	return p.Page > 1
}

// FHIRLink represents a single FHIR Bundle link entry.
type FHIRLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

// FHIRLinks generates Bundle links for a search result. self is the request
// URL unchanged; next and previous rewrite its page parameter and keep every
// other query parameter.
func (p Params) FHIRLinks(requestURL string, total int) []FHIRLink {
	links := []FHIRLink{{Relation: "self", URL: requestURL}}

	if p.HasNext(total) {
		if u, ok := withPage(requestURL, p.Page+1); ok {
			links = append(links, FHIRLink{Relation: "next", URL: u})
		}
	}
	if p.HasPrevious() {
		if u, ok := withPage(requestURL, p.Page-1); ok {
			links = append(links, FHIRLink{Relation: "previous", URL: u})
		}
	}
	return links
}

func withPage(raw string, page int) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), true
}
