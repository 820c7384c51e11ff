// Pagination via RFC 8288 Link headers.
//
// Response bodies implement Pager to emit first/prev/next/last links and
// Actor to emit state-dependent action links. LinkTransformer sets both.
package humastar

import (
	"fmt"

	"github.com/danielgtaylor/huma/v2"
)

// Pager is implemented by response bodies that carry pagination metadata.
type Pager interface {
	PaginationLinks(basePath string) []string
}

// PageBody is a generic paginated response envelope.
type PageBody[T any] struct {
	Total  int `json:"total" doc:"Total number of items"`
	Offset int `json:"offset" doc:"Current offset"`
	Limit  int `json:"limit" doc:"Page size"`
	Data   []T `json:"data" doc:"Items"`
}

// Page slices items into a page. Offsets past the end give an empty page.
func Page[T any](items []T, offset, limit int) PageBody[T] {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = len(items)
	}
	p := PageBody[T]{Total: len(items), Offset: offset, Limit: limit, Data: []T{}}
	if offset >= len(items) {
		return p
	}
	end := min(offset+limit, len(items))
	p.Data = append(p.Data, items[offset:end]...)
	return p
}

// PaginationLinks returns RFC 8288 Link header values for pagination rels.
func (p PageBody[T]) PaginationLinks(basePath string) []string {
	if p.Limit <= 0 {
		return nil
	}
	var links []string

	links = append(links, fmt.Sprintf(`<%s?offset=0&limit=%d>; rel="first"`, basePath, p.Limit))

	if p.Offset > 0 {
		prev := max(p.Offset-p.Limit, 0)
		links = append(links, fmt.Sprintf(`<%s?offset=%d&limit=%d>; rel="prev"`, basePath, prev, p.Limit))
	}

	if p.Offset+p.Limit < p.Total {
		links = append(links, fmt.Sprintf(`<%s?offset=%d&limit=%d>; rel="next"`, basePath, p.Offset+p.Limit, p.Limit))
	}

	lastOffset := max(((p.Total-1)/p.Limit)*p.Limit, 0)
	links = append(links, fmt.Sprintf(`<%s?offset=%d&limit=%d>; rel="last"`, basePath, lastOffset, p.Limit))

	return links
}

// Action is a state-dependent hypermedia action link.
//
//	<url>; rel="delete"; method="DELETE"; title="Close session"
type Action struct {
	Rel    string
	Href   string
	Method string
	Title  string
}

// Actor is implemented by response bodies that provide actions.
type Actor interface {
	Actions() []Action
}

// LinkHeader formats the action as an RFC 8288 Link header value.
func (a Action) LinkHeader() string {
	h := fmt.Sprintf(`<%s>; rel="%s"`, a.Href, a.Rel)
	if a.Method != "" {
		h += fmt.Sprintf(`; method="%s"`, a.Method)
	}
	if a.Title != "" {
		h += fmt.Sprintf(`; title="%s"`, a.Title)
	}
	return h
}

// LinkTransformer returns a Huma Transformer that sets Link headers for
// bodies implementing Pager or Actor.
func LinkTransformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		if p, ok := v.(Pager); ok {
			for _, l := range p.PaginationLinks(ctx.URL().Path) {
				ctx.AppendHeader("Link", l)
			}
		}
		if a, ok := v.(Actor); ok {
			for _, act := range a.Actions() {
				ctx.AppendHeader("Link", act.LinkHeader())
			}
		}
		return v, nil
	}
}
