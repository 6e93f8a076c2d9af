package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/roomlink-core/internal/infrastructure/database"
	"github.com/nerrad567/roomlink-core/migrations"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "audit.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestCreate_FillsDefaults(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	e := &Event{SessionID: "s1", Host: "codec.example.com", State: "connected", Transport: "streaming"}
	if err := repo.Create(ctx, e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Errorf("defaults not filled: %+v", e)
	}

	res, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 || len(res.Events) != 1 {
		t.Fatalf("List() = %+v", res)
	}
	got := res.Events[0]
	if got.ID != e.ID || got.Host != e.Host || got.Transport != "streaming" {
		t.Errorf("event = %+v", got)
	}
	if !got.CreatedAt.Equal(e.CreatedAt.Truncate(time.Microsecond)) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, e.CreatedAt)
	}
}

func TestCreate_RequiresSessionAndState(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.Create(context.Background(), &Event{State: "failed"}); err == nil {
		t.Error("Create() without session_id should fail")
	}
	if err := repo.Create(context.Background(), &Event{SessionID: "s1"}); err == nil {
		t.Error("Create() without state should fail")
	}
}

func TestList_Filters(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)

	seed := []Event{
		{SessionID: "a", State: "connecting", CreatedAt: base},
		{SessionID: "a", State: "connected", CreatedAt: base.Add(time.Second)},
		{SessionID: "b", State: "connecting", CreatedAt: base.Add(2 * time.Second)},
		{SessionID: "b", State: "failed", ErrorKind: "auth_failed", CreatedAt: base.Add(3 * time.Second)},
	}
	for i := range seed {
		if err := repo.Create(ctx, &seed[i]); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		total  int
		first  string
	}{
		{"all newest first", Filter{}, 4, "failed"},
		{"by session", Filter{SessionID: "a"}, 2, "connected"},
		{"by state", Filter{State: "connecting"}, 2, "connecting"},
		{"since", Filter{Since: base.Add(2 * time.Second)}, 2, "failed"},
		{"page", Filter{Limit: 1, Offset: 1}, 4, "connecting"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.total {
				t.Errorf("Total = %d, want %d", res.Total, tt.total)
			}
			if len(res.Events) == 0 || res.Events[0].State != tt.first {
				t.Errorf("first event = %+v, want state %s", res.Events, tt.first)
			}
		})
	}
}

func TestList_Clamps(t *testing.T) {
	repo := newTestRepo(t)

	res, err := repo.List(context.Background(), Filter{Limit: 1000, Offset: -4})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Limit != maxLimit || res.Offset != 0 {
		t.Errorf("Limit = %d, Offset = %d", res.Limit, res.Offset)
	}
	if res.Events == nil {
		t.Error("Events should be an empty slice, not nil")
	}
}
