package api

import (
	"fmt"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-parcels/internal/humastar"
)

// links maps operation paths to their RFC 8288 Link header values.
// Enables restish hypermedia navigation via `restish links <url>`.
var links = map[string][]string{
	"/health": {
		`</api/v1/info>; rel="info"`,
		`</api/v1/filters>; rel="filters"`,
		`</api/v1/sessions>; rel="sessions"`,
		`</api/v1/layers>; rel="layers"`,
		`</api/v1/tiles>; rel="tiles"`,
	},
	"/api/v1/info": {
		`</health>; rel="health"`,
		`</api/v1/sessions>; rel="sessions"`,
	},
	"/api/v1/filters": {
		`</api/v1/sessions>; rel="sessions"`,
	},
	"/api/v1/sessions": {
		`</api/v1/filters>; rel="filters"`,
		`</api/v1/layers>; rel="layers"`,
	},
	"/api/v1/sessions/{id}": {
		`</api/v1/sessions>; rel="collection"`,
	},
	"/api/v1/layers": {
		`</api/v1/tiles>; rel="tiles"`,
	},
	"/api/v1/layers/{id}": {
		`</api/v1/layers>; rel="collection"`,
	},
	"/api/v1/sources": {
		`</api/v1/tiles>; rel="tiles"`,
	},
	"/api/v1/tiles": {
		`</api/v1/layers>; rel="layers"`,
		`</api/v1/sources>; rel="sources"`,
	},
	"/api/v1/tables": {
		`</api/v1/query>; rel="query"`,
	},
}

// LinkTransformer returns a Huma Transformer that injects RFC 8288 Link headers.
func LinkTransformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}

		for _, link := range links[op.Path] {
			ctx.AppendHeader("Link", link)
		}

		// Item endpoints get a self link unless the body carries its own.
		if strings.Contains(op.Path, "{") && op.Method == "GET" {
			if _, ok := v.(humastar.Actor); !ok {
				ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, ctx.URL().Path))
			}
		}

		return v, nil
	}
}
