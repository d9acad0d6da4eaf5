package scheduler_test

import (
	"context"
	"testing"
	"time"

	"opsboard/internal/config"
	"opsboard/internal/db"
	"opsboard/internal/engine"
	"opsboard/internal/migrate"
	"opsboard/internal/scheduler"
)

func newEngine(t *testing.T, now time.Time) engine.Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("shop")
	cfg.Board.Timezone = "Europe/Rome"
	e := engine.New(conn, cfg).WithClock(func() time.Time { return now })
	ctx := context.Background()
	if _, err := e.InitBoard(ctx, "boss", "Boss"); err != nil {
		t.Fatalf("init board: %v", err)
	}
	if _, err := e.CreateTemplate(ctx, engine.TemplateCreateOptions{
		Title:    "Count till",
		OwnerID:  "boss",
		Weekdays: []string{"MON"},
		ActorID:  "boss",
	}); err != nil {
		t.Fatalf("create template: %v", err)
	}
	return e
}

func TestTickAppliesNextMonthOnLastDay(t *testing.T) {
	// 23:30 UTC on Feb 28 is already Feb 29 in Rome.
	e := newEngine(t, time.Date(2024, 2, 28, 23, 30, 0, 0, time.UTC))
	r, err := scheduler.New(e, "0 6 * * *", nil)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	res, ran, err := r.Tick(context.Background())
	if err != nil || !ran {
		t.Fatalf("tick should run: ran=%v err=%v", ran, err)
	}
	// March 2024 has four Mondays.
	if res.Month != "2024-03" || len(res.Created) != 4 {
		t.Fatalf("unexpected result: %s created %d", res.Month, len(res.Created))
	}
	again, _, err := r.Tick(context.Background())
	if err != nil || len(again.Created) != 0 {
		t.Fatalf("second tick should create nothing: %d %v", len(again.Created), err)
	}
}

func TestTickIdlesMidMonth(t *testing.T) {
	e := newEngine(t, time.Date(2024, 2, 10, 8, 0, 0, 0, time.UTC))
	r, err := scheduler.New(e, "0 6 * * *", nil)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	if _, ran, err := r.Tick(context.Background()); ran || err != nil {
		t.Fatalf("tick should idle: ran=%v err=%v", ran, err)
	}
}

func TestNextUsesBoardTimezone(t *testing.T) {
	e := newEngine(t, time.Date(2024, 2, 10, 8, 0, 0, 0, time.UTC))
	r, err := scheduler.New(e, "0 6 * * *", nil)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	next := r.Next(time.Date(2024, 2, 10, 8, 0, 0, 0, time.UTC))
	if next.UTC() != time.Date(2024, 2, 11, 5, 0, 0, 0, time.UTC) {
		t.Fatalf("06:00 Rome should be 05:00 UTC, got %s", next.UTC())
	}
}

func TestNewRejectsBadSpec(t *testing.T) {
	e := newEngine(t, time.Now())
	if _, err := scheduler.New(e, "every day", nil); err == nil {
		t.Fatalf("expected bad spec to be rejected")
	}
}
