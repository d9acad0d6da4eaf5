package repo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"opsboard/internal/calendar"
	"opsboard/internal/config"
	"opsboard/internal/db"
	"opsboard/internal/domain"
	"opsboard/internal/expand"
	"opsboard/internal/ledger"
	"opsboard/internal/migrate"
	"opsboard/internal/repo"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	ctx := context.Background()
	for _, id := range []string{"ana", "ben"} {
		if err := r.InsertOwnerTx(ctx, nil, domain.Owner{ID: id, Name: id, Role: "operator", Active: true, CreatedAt: "2024-01-01T00:00:00Z"}); err != nil {
			t.Fatalf("owner: %v", err)
		}
	}
	return r
}

func seedTemplate(t *testing.T, r repo.Repo) domain.TaskTemplate {
	t.Helper()
	tpl := domain.TaskTemplate{
		ID:               "tpl-1",
		Title:            "Count stock",
		OwnerID:          "ana",
		TimeOfDay:        "08:30",
		Weekdays:         []calendar.Weekday{calendar.Monday, calendar.Friday},
		PointsOnComplete: 4,
		PointsOnSkip:     -1,
		IsActive:         true,
		CreatedAt:        "2024-01-01T00:00:00Z",
		UpdatedAt:        "2024-01-01T00:00:00Z",
	}
	if err := r.InsertTemplateTx(context.Background(), nil, tpl); err != nil {
		t.Fatalf("insert template: %v", err)
	}
	return tpl
}

func TestTemplateRoundTrip(t *testing.T) {
	r := newRepo(t)
	tpl := seedTemplate(t, r)
	got, err := r.GetTemplate(context.Background(), tpl.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if calendar.FormatWeekdays(got.Weekdays) != "MON,FRI" || got.ChannelID != nil || got.TimeOfDay != "08:30" || !got.IsActive {
		t.Fatalf("template mismatch: %+v", got)
	}
	if _, err := r.GetTemplate(context.Background(), "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDuplicateInstanceRejected(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	tpl := seedTemplate(t, r)
	created, err := expand.Expand([]domain.TaskTemplate{tpl}, "2024-02", nil)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	for _, inst := range created {
		inst.CreatedAt = "2024-01-31T00:00:00Z"
		if err := r.InsertInstanceTx(ctx, nil, inst); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	dup := created[0]
	dup.ID = "another-id"
	dup.CreatedAt = "2024-01-31T00:00:00Z"
	if err := r.InsertInstanceTx(ctx, nil, dup); !errors.Is(err, repo.ErrDuplicateInstance) {
		t.Fatalf("expected duplicate instance, got %v", err)
	}
}

func TestTransitionIsCompareAndSet(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	tpl := seedTemplate(t, r)
	created, _ := expand.Expand([]domain.TaskTemplate{tpl}, "2024-02", nil)
	inst := created[0]
	inst.CreatedAt = "2024-01-31T00:00:00Z"
	if err := r.InsertInstanceTx(ctx, nil, inst); err != nil {
		t.Fatalf("insert: %v", err)
	}

	ts := "2024-02-02T09:00:00Z"
	points := 4
	inst.Status = domain.StatusDone
	inst.Evidence = []string{"shelf.jpg"}
	inst.CompletedAt = &ts
	inst.PointsAwarded = &points

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := r.TransitionInstanceTx(ctx, tx, inst); err != nil {
		t.Fatalf("first transition: %v", err)
	}
	if err := r.TransitionInstanceTx(ctx, tx, inst); !errors.Is(err, repo.ErrStale) {
		t.Fatalf("second transition should be stale, got %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	got, err := r.GetInstance(ctx, inst.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusDone || len(got.Evidence) != 1 || got.PointsAwarded == nil || *got.PointsAwarded != 4 {
		t.Fatalf("stored instance mismatch: %+v", got)
	}
}

func TestPointsEntriesRejectMalformed(t *testing.T) {
	r := newRepo(t)
	err := r.InsertPointsEntryTx(context.Background(), nil, domain.PointsEntry{ID: "x", OwnerID: "ana", Date: "2024-02-01", SourceKind: domain.SourceTaskDone})
	var ie ledger.InvalidEntryError
	if !errors.As(err, &ie) {
		t.Fatalf("expected invalid entry, got %v", err)
	}
}

// ledgerConformance runs the same checks against any ledger.Ledger.
func ledgerConformance(t *testing.T, l ledger.Ledger) {
	t.Helper()
	ctx := context.Background()
	src := func(s string) *string { return &s }
	entries := []domain.PointsEntry{
		{OwnerID: "ana", Date: "2024-02-01", Amount: 10, SourceKind: domain.SourceTaskDone, SourceID: src("i1")},
		{OwnerID: "ana", Date: "2024-02-02", Amount: -5, SourceKind: domain.SourceTaskSkipped, SourceID: src("i2")},
		{OwnerID: "ben", Date: "2024-02-03", Amount: 5, SourceKind: domain.SourceManual, Reason: "bonus"},
		{OwnerID: "ben", Date: "2024-03-01", Amount: 50, SourceKind: domain.SourceManual, Reason: "march"},
	}
	for _, e := range entries {
		stored, err := l.Append(ctx, e)
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if stored.ID == "" {
			t.Fatalf("append should assign an id")
		}
	}
	if _, err := l.Append(ctx, domain.PointsEntry{OwnerID: "", Date: "2024-02-01", SourceKind: domain.SourceManual}); err == nil {
		t.Fatalf("expected blank owner to be rejected")
	}

	feb, _ := ledger.MonthRange("2024-02")
	total, err := l.TotalFor(ctx, "ana", feb)
	if err != nil || total != 5 {
		t.Fatalf("ana total: %d %v", total, err)
	}
	if total, _ := l.TotalFor(ctx, "nobody", feb); total != 0 {
		t.Fatalf("unknown owner should total 0, got %d", total)
	}
	rank, err := l.Rank(ctx, feb)
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	want := []ledger.Standing{{OwnerID: "ana", Total: 5}, {OwnerID: "ben", Total: 5}}
	if len(rank) != len(want) {
		t.Fatalf("rank: %+v", rank)
	}
	for i := range want {
		if rank[i] != want[i] {
			t.Fatalf("rank[%d] = %+v, want %+v", i, rank[i], want[i])
		}
	}
	if _, err := l.Rank(ctx, ledger.DateRange{From: "2024-03-01", To: "2024-02-01"}); err == nil {
		t.Fatalf("expected inverted range to be rejected")
	}
}

func TestSQLLedgerConformance(t *testing.T) {
	r := newRepo(t)
	ledgerConformance(t, repo.Ledger{Repo: r, Now: func() time.Time { return time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC) }})
}

func TestMemoryLedgerConformance(t *testing.T) {
	ledgerConformance(t, ledger.NewMemory())
}

func TestBoardConfigRoundTrip(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	if _, err := r.GetBoardConfig(ctx); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected no config yet, got %v", err)
	}
	cfg := config.Default("shop")
	cfg.Webhooks = []config.WebhookConfig{{URL: "https://example.com/hook", Secret: "s3cret"}}
	if err := r.UpsertBoardConfig(ctx, cfg); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := r.GetBoardConfig(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Board.ID != "shop" || len(got.Webhooks) != 1 || got.Webhooks[0].Secret != "s3cret" {
		t.Fatalf("config mismatch: %+v", got)
	}
}

func TestEventsCursor(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := r.DB.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
			"2024-02-01T00:00:00Z", "owner.created", "owner", "ana", "boss", "{}"); err != nil {
			t.Fatalf("insert event: %v", err)
		}
	}
	latest, err := r.LatestEventID(ctx)
	if err != nil || latest != 3 {
		t.Fatalf("latest id: %d %v", latest, err)
	}
	after, err := r.EventsAfter(ctx, 10, 1)
	if err != nil || len(after) != 2 || after[0].ID != 2 {
		t.Fatalf("events after: %+v %v", after, err)
	}
	before, err := r.LatestEvents(ctx, repo.EventFilters{Before: 3})
	if err != nil || len(before) != 2 || before[0].ID != 2 {
		t.Fatalf("latest events: %+v %v", before, err)
	}
}
