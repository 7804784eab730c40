package localstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/nerrad567/suntec-core/internal/infrastructure/database"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// DefaultRangeLimit applies when Range is called with limit <= 0.
const DefaultRangeLimit = 1000

// Sentinel errors.
var (
	// ErrKeyNotFound is returned by KV.Get for a missing key.
	ErrKeyNotFound = errors.New("localstore: key not found")

	// ErrInvalidSample means a sample has no device id.
	ErrInvalidSample = errors.New("localstore: device id required")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("localstore: closed")
)

// Config configures a Store.
type Config struct {
	// Path is the SQLite file, or database.MemoryPath.
	Path string
	// Location buckets samples into days. Defaults to time.Local.
	Location *time.Location
	// BusyTimeout in seconds. Defaults to 5.
	BusyTimeout int
}

// Store is the client-side time-series cache: an append-only log of
// samples per device plus a small key/value table.
//
// Samples are never deduplicated. Two samples with the same device and
// timestamp are both kept and both returned by Range.
//
// The database is opened and migrated on first use. Each operation is
// its own statement or transaction; there is no locking across calls.
type Store struct {
	cfg Config
	loc *time.Location

	mu     sync.Mutex
	db     *database.DB
	closed bool

	kv *KV
}

// New returns a Store for cfg without touching the filesystem.
func New(cfg Config) *Store {
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	s := &Store{cfg: cfg, loc: loc}
	s.kv = &KV{store: s}
	return s
}

// conn opens and migrates the database on first call. A failed open is
// retried by the next call.
func (s *Store) conn(ctx context.Context) (*database.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.db != nil {
		return s.db, nil
	}

	db, err := database.Open(database.Config{
		Driver:      database.DriverSQLite,
		Path:        s.cfg.Path,
		WALMode:     true,
		BusyTimeout: s.cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}

	src, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		db.Close() //nolint:errcheck // error path
		return nil, err
	}
	if err := db.Migrate(ctx, src); err != nil {
		db.Close() //nolint:errcheck // error path
		return nil, fmt.Errorf("migrating local store: %w", err)
	}

	s.db = db
	return db, nil
}

// Close releases the database. The Store cannot be used afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// KV returns the key/value side table.
func (s *Store) KV() *KV {
	return s.kv
}

const insertSample = `INSERT INTO state (device_id, ts, day, valor, nivel, estado) VALUES (?, ?, ?, ?, ?, ?)`

// args validates smp and returns the insert arguments.
func (s *Store) args(smp Sample) ([]any, error) {
	if smp.DeviceID == "" {
		return nil, ErrInvalidSample
	}
	estado, err := encodeStatus(smp.Status)
	if err != nil {
		return nil, err
	}
	return []any{smp.DeviceID, smp.Timestamp, smp.Day(s.loc), smp.Value, smp.Level, estado}, nil
}

// Put appends one sample. It never replaces an existing row.
func (s *Store) Put(ctx context.Context, smp Sample) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	args, err := s.args(smp)
	if err == nil {
		_, err = db.ExecContext(ctx, insertSample, args...)
	}
	if err != nil {
		return fmt.Errorf("storing sample for %s: %w", smp.DeviceID, err)
	}
	return nil
}

// PutMany appends samples in one transaction. Rows are inserted
// independently: a failing row is skipped and reported in the joined
// error while the others are kept. It returns the number stored.
func (s *Store) PutMany(ctx context.Context, samples []Sample) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	stmt, err := tx.PrepareContext(ctx, insertSample)
	if err != nil {
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	var (
		stored int
		errs   []error
	)
	for i, smp := range samples {
		args, err := s.args(smp)
		if err == nil {
			_, err = stmt.ExecContext(ctx, args...)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("sample %d (%s@%d): %w", i, smp.DeviceID, smp.Timestamp, err))
			continue
		}
		stored++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing samples: %w", err)
	}
	return stored, errors.Join(errs...)
}

const selectSample = `SELECT id, device_id, ts, valor, nivel, estado FROM state`

// Latest returns the sample with the greatest timestamp for deviceID.
// ok is false when the device has no cached samples.
func (s *Store) Latest(ctx context.Context, deviceID string) (smp Sample, ok bool, err error) {
	db, err := s.conn(ctx)
	if err != nil {
		return Sample{}, false, err
	}

	row := db.QueryRowContext(ctx,
		selectSample+` WHERE device_id = ? ORDER BY ts DESC, id DESC LIMIT 1`, deviceID)
	smp, err = scanSample(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Sample{}, false, nil
	}
	if err != nil {
		return Sample{}, false, fmt.Errorf("reading latest sample for %s: %w", deviceID, err)
	}
	return smp, true, nil
}

// Range returns samples of deviceID with fromMs <= ts <= toMs in ascending
// timestamp order, at most limit of them (DefaultRangeLimit when limit <= 0).
func (s *Store) Range(ctx context.Context, deviceID string, fromMs, toMs int64, limit int) ([]Sample, error) {
	if limit <= 0 {
		limit = DefaultRangeLimit
	}
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		selectSample+` WHERE device_id = ? AND ts BETWEEN ? AND ? ORDER BY ts ASC, id ASC LIMIT ?`,
		deviceID, fromMs, toMs, limit)
	if err != nil {
		return nil, fmt.Errorf("querying samples for %s: %w", deviceID, err)
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		smp, err := scanSample(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sample: %w", err)
		}
		out = append(out, smp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating samples: %w", err)
	}
	return out, nil
}

// Prune deletes every sample, of every device, older than cutoffMs.
func (s *Store) Prune(ctx context.Context, cutoffMs int64) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	res, err := db.ExecContext(ctx, `DELETE FROM state WHERE ts < ?`, cutoffMs)
	if err != nil {
		return 0, fmt.Errorf("pruning samples: %w", err)
	}
	return res.RowsAffected()
}

// Days lists the distinct YYYYMMDD buckets cached for deviceID, oldest first.
func (s *Store) Days(ctx context.Context, deviceID string) ([]string, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT DISTINCT day FROM state WHERE device_id = ? ORDER BY day`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("querying days for %s: %w", deviceID, err)
	}
	defer rows.Close()

	var days []string
	for rows.Next() {
		var day string
		if err := rows.Scan(&day); err != nil {
			return nil, err
		}
		days = append(days, day)
	}
	return days, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSample(row scanner) (Sample, error) {
	var (
		smp          Sample
		valor, nivel sql.NullFloat64
		estado       sql.NullString
	)
	if err := row.Scan(&smp.ID, &smp.DeviceID, &smp.Timestamp, &valor, &nivel, &estado); err != nil {
		return Sample{}, err
	}
	if valor.Valid {
		smp.Value = &valor.Float64
	}
	if nivel.Valid {
		smp.Level = &nivel.Float64
	}
	if estado.Valid {
		smp.Status = decodeStatus(&estado.String)
	}
	return smp, nil
}
