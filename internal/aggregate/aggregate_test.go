package aggregate_test

import (
	"context"
	"database/sql"
	"testing"

	"pledgeline/internal/aggregate"
	"pledgeline/internal/db"
	"pledgeline/internal/migrate"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func TestContributionKeysClosure(t *testing.T) {
	dims := aggregate.Dimensions{
		ExecutionID: "exec-1",
		Outcome:     0,
		ActorID:     "actor-1",
		Incumbent:   true,
		Party:       "blue",
		District:    "5",
	}
	keys := aggregate.ContributionKeys(dims)
	if len(keys) != 5 {
		t.Fatalf("expected 5 keys without a campaign, got %d", len(keys))
	}
	want := []aggregate.Key{
		{},
		{ExecutionID: "exec-1"},
		{ExecutionID: "exec-1", Outcome: "0"},
		{ExecutionID: "exec-1", ActorID: "actor-1", Incumbent: "1"},
		{ExecutionID: "exec-1", Party: "blue", Incumbent: "1"},
	}
	for i, k := range want {
		if keys[i] != k {
			t.Fatalf("key %d: got %+v, want %+v", i, keys[i], k)
		}
	}

	dims.CampaignID = "camp-1"
	keys = aggregate.ContributionKeys(dims)
	if len(keys) != 6 {
		t.Fatalf("expected 6 keys with a campaign, got %d", len(keys))
	}
	if keys[5] != (aggregate.Key{CampaignID: "camp-1"}) {
		t.Fatalf("campaign key: got %+v", keys[5])
	}
}

func TestUpdaterFlushUpserts(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()

	apply := func(dims aggregate.Dimensions, amount int64) {
		t.Helper()
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		defer tx.Rollback()
		u := aggregate.NewUpdater(0)
		if err := aggregate.Apply(ctx, tx, u, dims, amount); err != nil {
			t.Fatalf("apply: %v", err)
		}
		if err := u.FlushTx(ctx, tx); err != nil {
			t.Fatalf("flush: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}

	dims := aggregate.Dimensions{ExecutionID: "exec-1", Outcome: 0, ActorID: "actor-1", Incumbent: true, Party: "blue"}
	apply(dims, 449)
	apply(dims, 449)

	all, err := aggregate.GetSlice(ctx, conn, aggregate.Key{})
	if err != nil {
		t.Fatalf("get slice: %v", err)
	}
	if all.Count != 2 || all.TotalCents != 898 {
		t.Fatalf("grand total: got %d/%d, want 2/898", all.Count, all.TotalCents)
	}
	outcome, err := aggregate.GetSlice(ctx, conn, aggregate.Key{ExecutionID: "exec-1", Outcome: "0"})
	if err != nil {
		t.Fatalf("get slice: %v", err)
	}
	if outcome.Count != 2 || outcome.TotalCents != 898 {
		t.Fatalf("outcome slice: got %d/%d, want 2/898", outcome.Count, outcome.TotalCents)
	}

	// Reversing one contribution walks every slice back.
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	u := aggregate.NewUpdater(0)
	if err := aggregate.Reverse(ctx, tx, u, dims, 449); err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if err := u.FlushTx(ctx, tx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	all, err = aggregate.GetSlice(ctx, conn, aggregate.Key{})
	if err != nil {
		t.Fatalf("get slice: %v", err)
	}
	if all.Count != 1 || all.TotalCents != 449 {
		t.Fatalf("after reverse: got %d/%d, want 1/449", all.Count, all.TotalCents)
	}
}

func TestGetSliceNeverWrittenReadsZero(t *testing.T) {
	conn := openTestDB(t)
	s, err := aggregate.GetSlice(context.Background(), conn, aggregate.Key{ExecutionID: "nope"})
	if err != nil {
		t.Fatalf("get slice: %v", err)
	}
	if s.Count != 0 || s.TotalCents != 0 {
		t.Fatalf("expected zero slice, got %d/%d", s.Count, s.TotalCents)
	}
}
