package history

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/fuelcast/go-demandcast/crossproduct"
	"github.com/fuelcast/go-demandcast/timedataset"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	seriesQuery = `
		SELECT
			date_trunc($1, sold_at) AS ts,
			SUM(quantity) AS value
		FROM fuel_sales
		WHERE product_type = $2
		AND ($3 = '' OR station_id = $3)
		GROUP BY ts
		ORDER BY ts`

	salesQuery = `
		SELECT
			sold_at,
			product_type,
			quantity,
			unit_price
		FROM fuel_sales
		WHERE station_id = $1
		AND product_type = ANY($2)
		ORDER BY sold_at`
)

// PostgresSource reads the fuel_sales table of the sales database
type PostgresSource struct {
	db *sqlx.DB
}

// NewPostgresSource connects with a lib/pq connection string
func NewPostgresSource(ctx context.Context, dsn string) (*PostgresSource, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to sales database, %w", err)
	}
	return NewPostgresSourceWithDB(db), nil
}

func NewPostgresSourceWithDB(db *sqlx.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

type seriesRow struct {
	Timestamp time.Time       `db:"ts"`
	Value     sql.NullFloat64 `db:"value"`
}

// truncUnit maps a granularity to its date_trunc field
func truncUnit(g timedataset.Granularity) (string, error) {
	switch g {
	case timedataset.Hourly:
		return "hour", nil
	case timedataset.Daily:
		return "day", nil
	case timedataset.Weekly:
		return "week", nil
	case timedataset.Monthly:
		return "month", nil
	}
	return "", fmt.Errorf("%q, %w", g, ErrInvalidKey)
}

func (p *PostgresSource) Fetch(ctx context.Context, key SeriesKey) ([]timedataset.HistoricalPoint, error) {
	unit, err := truncUnit(key.Granularity)
	if err != nil {
		return nil, err
	}
	var rows []seriesRow
	if err := p.db.SelectContext(ctx, &rows, seriesQuery, unit, key.ProductType, key.StationID); err != nil {
		return nil, fmt.Errorf("unable to query series %s, %w", key, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s, %w", key, ErrSeriesNotFound)
	}
	return toPoints(rows), nil
}

// toPoints keeps NULL sums as explicit no data markers
func toPoints(rows []seriesRow) []timedataset.HistoricalPoint {
	res := make([]timedataset.HistoricalPoint, len(rows))
	for i, r := range rows {
		res[i] = timedataset.HistoricalPoint{Timestamp: r.Timestamp.UTC(), Value: nanIfNull(r.Value)}
	}
	return res
}

func nanIfNull(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func (p *PostgresSource) Sales(ctx context.Context, stationID string, products []string) ([]crossproduct.SalesRecord, error) {
	var res []crossproduct.SalesRecord
	if err := p.db.SelectContext(ctx, &res, salesQuery, stationID, pq.Array(products)); err != nil {
		return nil, fmt.Errorf("unable to query sales of station %s, %w", stationID, err)
	}
	return res, nil
}

func (p *PostgresSource) Close() error {
	return p.db.Close()
}
