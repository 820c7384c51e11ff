package api

import (
	"context"
	"database/sql"
	"regexp"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// MaxQueryRows caps the rows returned by the query endpoint.
const MaxQueryRows = 1000

// readOnly matches statements that cannot modify the parcel mirror.
var readOnly = regexp.MustCompile(`(?is)^\s*(select|with|describe|show|summarize|explain)\b`)

// DBHandler handles database-related endpoints.
type DBHandler struct {
	db *sql.DB
}

// NewDBHandler creates a new database handler.
func NewDBHandler(db *sql.DB) *DBHandler {
	return &DBHandler{db: db}
}

// RegisterRoutes registers database routes with Huma.
func (h *DBHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/tables", h.ListTables, huma.OperationTags("db"))
	huma.Post(api, "/api/v1/query", h.Query, huma.OperationTags("db"))
}

// TablesOutput is the response for listing tables.
type TablesOutput struct {
	Body struct {
		Tables []string `json:"tables" doc:"List of table names"`
	}
}

// ListTables returns all DuckDB tables.
func (h *DBHandler) ListTables(ctx context.Context, input *struct{}) (*TablesOutput, error) {
	if h.db == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}

	rows, err := h.db.QueryContext(ctx, "SHOW TABLES")
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list tables", err)
	}
	defer rows.Close()

	out := &TablesOutput{}
	out.Body.Tables = []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, huma.Error500InternalServerError("Failed to read tables", err)
		}
		out.Body.Tables = append(out.Body.Tables, name)
	}
	return out, rows.Err()
}

// QueryInput is the input for SQL queries.
type QueryInput struct {
	Body struct {
		Query string `json:"query" required:"true" minLength:"1" doc:"Read-only SQL query" example:"SELECT priority_level, count(*) FROM parcels GROUP BY 1"`
	}
}

// QueryOutput is the response for SQL queries.
type QueryOutput struct {
	Body struct {
		Columns   []string         `json:"columns" doc:"Column names"`
		Rows      []map[string]any `json:"rows" doc:"Query results"`
		Count     int              `json:"count" doc:"Number of rows returned"`
		Truncated bool             `json:"truncated" doc:"True when more rows matched than were returned"`
	}
}

// Query runs a read-only SQL query against DuckDB.
func (h *DBHandler) Query(ctx context.Context, input *QueryInput) (*QueryOutput, error) {
	if h.db == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}
	q := strings.TrimSpace(input.Body.Query)
	if !readOnly.MatchString(q) || strings.Contains(strings.TrimSuffix(q, ";"), ";") {
		return nil, huma.Error422UnprocessableEntity("Only a single read-only statement is allowed")
	}

	rows, err := h.db.QueryContext(ctx, q)
	if err != nil {
		return nil, huma.Error400BadRequest("Query failed: " + err.Error())
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to get columns", err)
	}

	out := &QueryOutput{}
	out.Body.Columns = columns
	out.Body.Rows = []map[string]any{}
	for rows.Next() {
		if len(out.Body.Rows) == MaxQueryRows {
			out.Body.Truncated = true
			break
		}
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, huma.Error400BadRequest("Query failed: " + err.Error())
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		out.Body.Rows = append(out.Body.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, huma.Error400BadRequest("Query failed: " + err.Error())
	}
	out.Body.Count = len(out.Body.Rows)
	return out, nil
}
