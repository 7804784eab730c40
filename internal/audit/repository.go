// Package audit records authentication activity on the gateway: sign-ups,
// sign-ins and token refreshes, successful or not.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Actions recorded by the gateway.
const (
	ActionRegister      = "register"
	ActionLogin         = "login"
	ActionLoginFailed   = "login_failed"
	ActionRefresh       = "refresh"
	ActionRefreshFailed = "refresh_failed"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200

	// timeLayout is fixed width so stored timestamps sort as text.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// Event is a single audit trail entry.
type Event struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	UID        string         `json:"uid,omitempty"`
	Email      string         `json:"email,omitempty"`
	RemoteAddr string         `json:"remoteAddr,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Filter controls which events List returns.
type Filter struct {
	Action string // optional
	UID    string // optional
	Email  string // optional, case-insensitive
	Limit  int    // default 50, max 200
	Offset int
}

// ListResult is one page of events, newest first.
type ListResult struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Repository stores audit events.
type Repository interface {
	Create(ctx context.Context, ev *Event) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteRepository stores events in the audit_events table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new audit repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts ev. The ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, ev *Event) error {
	if ev.ID == "" {
		ev.ID = "aud-" + uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	var details *string
	if ev.Details != nil {
		b, err := json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("marshalling audit details: %w", err)
		}
		s := string(b)
		details = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, action, uid, email, remote_addr, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Action,
		nullableString(ev.UID), nullableString(strings.ToLower(ev.Email)), nullableString(ev.RemoteAddr),
		details,
		ev.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns events matching filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	filter.Limit = min(filter.Limit, maxListLimit)
	filter.Offset = max(filter.Offset, 0)

	var conditions []string
	var args []any
	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.UID != "" {
		conditions = append(conditions, "uid = ?")
		args = append(args, filter.UID)
	}
	if filter.Email != "" {
		conditions = append(conditions, "email = ?")
		args = append(args, strings.ToLower(filter.Email))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM audit_events " + where //nolint:gosec // WHERE holds placeholders only
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit events: %w", err)
	}

	query := "SELECT id, action, uid, email, remote_addr, details, created_at FROM audit_events " + //nolint:gosec // WHERE holds placeholders only
		where + " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit events: %w", err)
	}

	return &ListResult{
		Events: events,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var ev Event
	var uid, email, remote, details sql.NullString
	var createdAt string

	if err := rows.Scan(&ev.ID, &ev.Action, &uid, &email, &remote, &details, &createdAt); err != nil {
		return Event{}, fmt.Errorf("scanning audit event: %w", err)
	}
	ev.UID, ev.Email, ev.RemoteAddr = uid.String, email.String, remote.String

	if details.Valid && details.String != "" {
		var m map[string]any
		if json.Unmarshal([]byte(details.String), &m) == nil {
			ev.Details = m
		}
	}

	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return Event{}, fmt.Errorf("parsing audit timestamp %q: %w", createdAt, err)
	}
	ev.CreatedAt = t
	return ev, nil
}

// Prune deletes events older than before.
func (r *SQLiteRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM audit_events WHERE created_at < ?",
		before.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning audit events: %w", err)
	}
	return res.RowsAffected()
}
