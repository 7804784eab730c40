package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nerrad567/suntec-core/internal/infrastructure/config"
)

const pgConnectTimeout = 10 * time.Second

const pgSchema = `
CREATE TABLE IF NOT EXISTS device_state (
	id BIGSERIAL PRIMARY KEY,
	device_id TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	estado TEXT,
	nivel DOUBLE PRECISION,
	valor DOUBLE PRECISION
);

CREATE INDEX IF NOT EXISTS idx_device_state_device_ts ON device_state(device_id, ts DESC);
`

// PostgresSource stores device samples in a Postgres (or TimescaleDB)
// table through a pgx connection pool.
type PostgresSource struct {
	pool *pgxpool.Pool
}

// NewPostgresSource connects, pings and ensures the device_state table.
func NewPostgresSource(ctx context.Context, cfg config.PostgresConfig) (*PostgresSource, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres dsn is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns) // #nosec G115 -- small config value
	}

	ctx, cancel := context.WithTimeout(ctx, pgConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("opening postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initializing postgres schema: %w", err)
	}

	return &PostgresSource{pool: pool}, nil
}

// Close releases the pool.
func (s *PostgresSource) Close() {
	s.pool.Close()
}

// Latest returns the newest row for deviceID.
func (s *PostgresSource) Latest(ctx context.Context, deviceID string) (Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, estado, nivel, valor, ts FROM device_state
		 WHERE device_id = $1 ORDER BY ts DESC, id DESC LIMIT 1`, deviceID)

	rec, err := scanRecord(row, deviceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("reading latest for %s: %w", deviceID, err)
	}
	return rec, nil
}

// Range returns rows within q, newest first.
func (s *PostgresSource) Range(ctx context.Context, deviceID string, q RangeQuery) ([]Record, error) {
	var sb strings.Builder
	sb.WriteString("SELECT id, estado, nivel, valor, ts FROM device_state WHERE device_id = $1")
	args := []any{deviceID}

	if q.From != nil {
		args = append(args, time.UnixMilli(*q.From))
		sb.WriteString(" AND ts >= $" + strconv.Itoa(len(args)))
	}
	if q.To != nil {
		args = append(args, time.UnixMilli(*q.To))
		sb.WriteString(" AND ts <= $" + strconv.Itoa(len(args)))
	}
	sb.WriteString(" ORDER BY ts DESC, id DESC")
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sb.WriteString(" LIMIT $" + strconv.Itoa(len(args)))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying range for %s: %w", deviceID, err)
	}
	defer rows.Close()

	recs := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows, deviceID)
		if err != nil {
			return nil, fmt.Errorf("scanning range row: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating range rows: %w", err)
	}
	return recs, nil
}

func scanRecord(row pgx.Row, deviceID string) (Record, error) {
	var (
		id           int64
		estado       *string
		nivel, valor *float64
		ts           time.Time
	)
	if err := row.Scan(&id, &estado, &nivel, &valor, &ts); err != nil {
		return Record{}, err
	}

	rec := Record{
		ID:       strconv.FormatInt(id, 10),
		DeviceID: deviceID,
		TS:       ts,
	}
	if estado != nil {
		rec.Estado = *estado
	}
	if nivel != nil {
		rec.Nivel = *nivel
	}
	if valor != nil {
		rec.Valor = *valor
	}
	return rec, nil
}

// Append inserts rec.
func (s *PostgresSource) Append(ctx context.Context, rec Record) error {
	ms, ok := TimestampMillis(rec.TS)
	if !ok {
		return ErrInvalidTimestamp
	}

	var estado *string
	if e, ok := estadoText(rec.Estado); ok {
		estado = &e
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO device_state (device_id, ts, estado, nivel, valor) VALUES ($1, $2, $3, $4, $5)`,
		rec.DeviceID, time.UnixMilli(ms), estado, floatPtr(rec.Nivel), floatPtr(rec.Valor),
	)
	if err != nil {
		return fmt.Errorf("inserting sample for %s: %w", rec.DeviceID, err)
	}
	return nil
}

// HealthCheck pings the pool.
func (s *PostgresSource) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
