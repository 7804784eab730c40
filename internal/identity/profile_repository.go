package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ProfileRepository stores the user documents shown by /me.
type ProfileRepository interface {
	Save(ctx context.Context, uid string, profile *Profile) error
	Get(ctx context.Context, uid string) (*Profile, error)
}

// SQLiteProfileRepository implements ProfileRepository on the profiles table.
type SQLiteProfileRepository struct {
	db *sql.DB
}

// NewProfileRepository creates a SQLite-backed profile repository.
func NewProfileRepository(db *sql.DB) *SQLiteProfileRepository {
	return &SQLiteProfileRepository{db: db}
}

// Save creates or replaces the profile for uid.
func (r *SQLiteProfileRepository) Save(ctx context.Context, uid string, p *Profile) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (uid, email, display_name, nombre, apellido_p, apellido_m, fecha_nac, telefono, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(uid) DO UPDATE SET
			email = excluded.email,
			display_name = excluded.display_name,
			nombre = excluded.nombre,
			apellido_p = excluded.apellido_p,
			apellido_m = excluded.apellido_m,
			fecha_nac = excluded.fecha_nac,
			telefono = excluded.telefono`,
		uid, p.Email, p.DisplayName, p.Nombre, p.ApellidoP, p.ApellidoM, p.FechaNac, p.Telefono,
		p.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving profile: %w", err)
	}
	return nil
}

// Get returns the profile for uid or ErrProfileNotFound.
func (r *SQLiteProfileRepository) Get(ctx context.Context, uid string) (*Profile, error) {
	var p Profile
	var createdAt string

	err := r.db.QueryRowContext(ctx,
		`SELECT email, display_name, nombre, apellido_p, apellido_m, fecha_nac, telefono, created_at
		 FROM profiles WHERE uid = ?`, uid,
	).Scan(&p.Email, &p.DisplayName, &p.Nombre, &p.ApellidoP, &p.ApellidoM, &p.FechaNac, &p.Telefono, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("getting profile: %w", err)
	}

	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt) //nolint:errcheck // format is controlled
	return &p, nil
}
