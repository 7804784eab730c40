package audit

import (
	"context"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nerrad567/suntec-core/internal/infrastructure/database"
	"github.com/nerrad567/suntec-core/migrations"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := database.Open(database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestCreateAndList(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	events := []*Event{
		{Action: ActionRegister, UID: "u1", Email: "Ana@SunTec.mx", CreatedAt: base},
		{Action: ActionLogin, UID: "u1", Email: "ana@suntec.mx", RemoteAddr: "10.0.0.5", CreatedAt: base.Add(time.Minute)},
		{Action: ActionLoginFailed, Email: "ana@suntec.mx", Details: map[string]any{"status": 400}, CreatedAt: base.Add(1500 * time.Millisecond)},
		{Action: ActionLogin, UID: "u2", Email: "luis@suntec.mx", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, ev := range events {
		if err := repo.Create(ctx, ev); err != nil {
			t.Fatalf("Create() error: %v", err)
		}
		if ev.ID == "" {
			t.Error("Create() should assign an ID")
		}
	}

	tests := []struct {
		name      string
		filter    Filter
		wantTotal int
		wantFirst string
	}{
		{"all newest first", Filter{}, 4, "luis@suntec.mx"},
		{"by action", Filter{Action: ActionLogin}, 2, "luis@suntec.mx"},
		{"by uid", Filter{UID: "u1"}, 2, "ana@suntec.mx"},
		{"by email any case", Filter{Email: "ANA@suntec.mx"}, 3, "ana@suntec.mx"},
		{"offset", Filter{Offset: 3}, 4, "ana@suntec.mx"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error: %v", err)
			}
			if res.Total != tt.wantTotal {
				t.Errorf("Total = %d, want %d", res.Total, tt.wantTotal)
			}
			if len(res.Events) == 0 || res.Events[0].Email != tt.wantFirst {
				t.Errorf("first event = %+v, want email %s", res.Events, tt.wantFirst)
			}
		})
	}

	// Sub-second timestamps sort correctly as text.
	res, err := repo.List(ctx, Filter{Email: "ana@suntec.mx"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Events[0].Action != ActionLogin || res.Events[1].Action != ActionLoginFailed {
		t.Errorf("order = %s, %s", res.Events[0].Action, res.Events[1].Action)
	}
	if res.Events[1].Details["status"] != float64(400) {
		t.Errorf("details = %v", res.Events[1].Details)
	}
	if !res.Events[0].CreatedAt.Equal(base.Add(time.Minute)) || res.Events[0].RemoteAddr != "10.0.0.5" {
		t.Errorf("event = %+v", res.Events[0])
	}
}

func TestList_Limits(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	for range 3 {
		if err := repo.Create(ctx, &Event{Action: ActionLogin}); err != nil {
			t.Fatal(err)
		}
	}

	res, err := repo.List(ctx, Filter{Limit: 1000, Offset: -5})
	if err != nil {
		t.Fatal(err)
	}
	if res.Limit != maxListLimit || res.Offset != 0 || len(res.Events) != 3 {
		t.Errorf("List() = limit %d offset %d len %d", res.Limit, res.Offset, len(res.Events))
	}

	res, err = repo.List(ctx, Filter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 2 || res.Total != 3 {
		t.Errorf("page = %d events of %d", len(res.Events), res.Total)
	}
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	now := time.Now().UTC()

	for _, age := range []time.Duration{48 * time.Hour, 25 * time.Hour, time.Hour} {
		if err := repo.Create(ctx, &Event{Action: ActionLogin, CreatedAt: now.Add(-age)}); err != nil {
			t.Fatal(err)
		}
	}

	n, err := repo.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune() error: %v", err)
	}
	if n != 2 {
		t.Errorf("Prune() = %d, want 2", n)
	}
	res, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 1 {
		t.Errorf("remaining = %d, want 1", res.Total)
	}
}
