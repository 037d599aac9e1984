package app_test

import (
	"context"
	"testing"

	"pledgeline/internal/app"
	"pledgeline/internal/config"
	"pledgeline/internal/db"
	"pledgeline/internal/migrate"
	"pledgeline/internal/repo"
)

func TestEnsureCampaignSeedsFreshDatabase(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	r := repo.Repo{DB: conn}
	cfg := config.Default("camp-1")

	c, err := app.EnsureCampaign(ctx, r, cfg)
	if err != nil {
		t.Fatalf("ensure campaign: %v", err)
	}
	if c.ID != "camp-1" {
		t.Fatalf("campaign id: got %s, want camp-1", c.ID)
	}
	if _, err := r.GetCampaign(ctx, "camp-1"); err != nil {
		t.Fatalf("campaign row missing after seed: %v", err)
	}

	// A pledge row references the campaign, so the seed must satisfy the
	// foreign key on a database that has seen nothing else.
	var fkOK int64
	err = conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns WHERE id='camp-1'`).Scan(&fkOK)
	if err != nil || fkOK != 1 {
		t.Fatalf("campaigns rows: got %d (%v), want 1", fkOK, err)
	}

	again, err := app.EnsureCampaign(ctx, r, cfg)
	if err != nil {
		t.Fatalf("repeat ensure: %v", err)
	}
	if again.ID != c.ID || again.CreatedAt != c.CreatedAt {
		t.Fatalf("repeat ensure should return the existing row, got %+v", again)
	}
}

func TestEnsureCampaignRequiresID(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("")
	if _, err := app.EnsureCampaign(context.Background(), repo.Repo{DB: conn}, cfg); err == nil {
		t.Fatalf("expected error for empty campaign id")
	}
}
