package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Area is one monitored-area row. Geometry holds the original polygon
// as GeoJSON; the envelope columns exist so bbox queries stay plain SQL.
type Area struct {
	ID          string
	Name        string
	Description *string
	Link        *string
	Categories  []string
	UpdatedAt   time.Time
	Geometry    []byte
}

type Queries struct {
	pool *pgxpool.Pool
}

const areaColumns = `id, name, description, link, categories, updated_at, geometry`

const listAreasInBBoxSQL = `
SELECT ` + areaColumns + `
FROM monitored_areas
WHERE NOT (max_lon < $1 OR min_lat > $4 OR min_lon > $3 OR max_lat < $2)
ORDER BY updated_at DESC, id
`

const searchAreasSQL = `
SELECT ` + areaColumns + `
FROM monitored_areas
WHERE name ILIKE '%' || $1 || '%' OR description ILIKE '%' || $1 || '%'
ORDER BY updated_at DESC, id
`

const listAreasSQL = `
SELECT ` + areaColumns + `
FROM monitored_areas
ORDER BY updated_at DESC, id
`

const getAreaSQL = `
SELECT ` + areaColumns + `
FROM monitored_areas
WHERE id = $1
`

func (q *Queries) ListAreasInBBox(ctx context.Context, west, south, east, north float64) ([]Area, error) {
	rows, err := q.pool.Query(ctx, listAreasInBBoxSQL, west, south, east, north)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAreas(rows)
}

func (q *Queries) SearchAreas(ctx context.Context, text string) ([]Area, error) {
	rows, err := q.pool.Query(ctx, searchAreasSQL, text)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAreas(rows)
}

func (q *Queries) ListAreas(ctx context.Context) ([]Area, error) {
	rows, err := q.pool.Query(ctx, listAreasSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAreas(rows)
}

func (q *Queries) GetArea(ctx context.Context, id string) (Area, error) {
	row := q.pool.QueryRow(ctx, getAreaSQL, id)
	var a Area
	err := row.Scan(&a.ID, &a.Name, &a.Description, &a.Link, &a.Categories, &a.UpdatedAt, &a.Geometry)
	return a, err
}

func scanAreas(rows pgx.Rows) ([]Area, error) {
	var out []Area
	for rows.Next() {
		var a Area
		if err := rows.Scan(&a.ID, &a.Name, &a.Description, &a.Link, &a.Categories, &a.UpdatedAt, &a.Geometry); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
