package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-mystrom/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-mystrom/migrations"
)

func setupTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "audit.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(ctx, migrations.FS, migrations.Dir); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestCreate_FillsDefaults(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	rec := &Record{Action: ActionServiceCall, EntityID: "switch.desk"}
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if rec.ID == "" || rec.CreatedAt.IsZero() {
		t.Errorf("Create() did not fill ID/CreatedAt: %+v", rec)
	}
	if rec.Outcome != OutcomeOK || rec.Source != "api" {
		t.Errorf("defaults = outcome %q source %q, want ok/api", rec.Outcome, rec.Source)
	}

	if err := repo.Create(ctx, &Record{}); err == nil {
		t.Error("Create() without action should fail")
	}
}

func TestList_FilterAndOrder(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	records := []*Record{
		{Action: ActionDeviceAdded, EntryID: "e1", CreatedAt: base},
		{Action: ActionServiceCall, EntryID: "e1", EntityID: "switch.desk", Subject: "ops",
			Details: map[string]any{"service": "turn_on"}, CreatedAt: base.Add(time.Minute)},
		{Action: ActionServiceCall, EntityID: "switch.lamp", Outcome: OutcomeFailed,
			Error: "device unreachable", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, rec := range records {
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	all, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if all.Total != 3 || len(all.Records) != 3 || all.Limit != defaultLimit {
		t.Fatalf("List() = total %d len %d limit %d, want 3/3/%d", all.Total, len(all.Records), all.Limit, defaultLimit)
	}
	if all.Records[0].EntityID != "switch.lamp" {
		t.Errorf("newest record = %q, want switch.lamp", all.Records[0].EntityID)
	}
	if all.Records[0].Error != "device unreachable" || all.Records[0].Outcome != OutcomeFailed {
		t.Errorf("failed record = %+v", all.Records[0])
	}

	calls, err := repo.List(ctx, Filter{Action: ActionServiceCall, EntityID: "switch.desk"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if calls.Total != 1 {
		t.Fatalf("filtered total = %d, want 1", calls.Total)
	}
	got := calls.Records[0]
	if got.Subject != "ops" || got.Details["service"] != "turn_on" {
		t.Errorf("filtered record = %+v", got)
	}

	page, err := repo.List(ctx, Filter{Limit: 1000, Offset: 2})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if page.Limit != maxLimit || len(page.Records) != 1 {
		t.Errorf("page = limit %d len %d, want %d/1", page.Limit, len(page.Records), maxLimit)
	}
}
