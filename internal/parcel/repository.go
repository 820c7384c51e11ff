package parcel

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/joeblew999/plat-parcels/internal/filter"
	"github.com/joeblew999/plat-parcels/internal/mapview"
)

// Table is the DuckDB table holding parcel attributes.
const Table = "parcels"

// Repository mirrors parcels into DuckDB. It implements mapview.Geocoder.
type Repository struct {
	db      *sql.DB
	catalog filter.Catalog
}

var _ mapview.Geocoder = (*Repository)(nil)

// NewRepository creates a repository with one column per catalog attribute.
func NewRepository(db *sql.DB, catalog filter.Catalog) *Repository {
	return &Repository{db: db, catalog: catalog}
}

func (r *Repository) columns() []string {
	cols := []string{"id", "address", "lon", "lat"}
	return append(cols, r.catalog.IDs()...)
}

// EnsureSchema creates the parcels table if needed.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	defs := []string{"id VARCHAR", "address VARCHAR", "lon DOUBLE", "lat DOUBLE"}
	for _, id := range r.catalog.IDs() {
		defs = append(defs, fmt.Sprintf("%q VARCHAR", id))
	}
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", Table, strings.Join(defs, ", "))
	if _, err := r.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("creating %s table: %w", Table, err)
	}
	return nil
}

// Replace swaps the table contents for parcels in one transaction.
func (r *Repository) Replace(ctx context.Context, parcels []Parcel) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+Table); err != nil {
		return fmt.Errorf("clearing %s: %w", Table, err)
	}

	cols := r.columns()
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = fmt.Sprintf("%q", c)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		Table, strings.Join(quoted, ", "), placeholders))
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	attrs := r.catalog.IDs()
	for _, p := range parcels {
		c := p.Centroid()
		args := make([]any, 0, len(cols))
		args = append(args, p.ID, nullString(p.Address), c.Lon(), c.Lat())
		for _, a := range attrs {
			s, _ := p.Properties[a].(string)
			args = append(args, nullString(s))
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("inserting parcel %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// Count returns the number of stored parcels.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT count(*) FROM "+Table).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting parcels: %w", err)
	}
	return n, nil
}

// Geocode finds parcels whose address contains query, case-insensitively,
// nearest to proximity first.
func (r *Repository) Geocode(ctx context.Context, query string, proximity orb.Point, limit int) ([]mapview.GeocodeResult, error) {
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, address, lon, lat
		FROM %s
		WHERE address ILIKE ? ESCAPE '\'
		ORDER BY (lon - ?) * (lon - ?) + (lat - ?) * (lat - ?), id
		LIMIT ?`, Table),
		pattern, proximity.Lon(), proximity.Lon(), proximity.Lat(), proximity.Lat(), limit)
	if err != nil {
		return nil, fmt.Errorf("geocoding %q: %w", query, err)
	}
	defer rows.Close()

	results := []mapview.GeocodeResult{}
	for rows.Next() {
		var (
			res      mapview.GeocodeResult
			lon, lat float64
		)
		if err := rows.Scan(&res.ID, &res.Address, &lon, &lat); err != nil {
			return nil, fmt.Errorf("scanning geocode row: %w", err)
		}
		res.Center = orb.Point{lon, lat}
		res.Distance = geo.Distance(proximity, res.Center)
		results = append(results, res)
	}
	return results, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
