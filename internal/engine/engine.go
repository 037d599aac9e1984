// Package engine implements the pledge execution core: trigger and pledge
// state machines, recipient resolution, charge computation, the execution
// orchestrator and voiding. Every mutating operation runs in a single
// immediate transaction so state is re-read under the writer lock before it
// is changed.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pledgeline/internal/config"
	"pledgeline/internal/events"
	"pledgeline/internal/gateway"
	"pledgeline/internal/repo"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Gateway gateway.Client
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config, gw gateway.Client) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{DB: db},
		Config:  cfg,
		Gateway: gw,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) newID() string {
	return uuid.NewString()
}

func (e Engine) campaignID() string {
	if e.Config == nil {
		return ""
	}
	return e.Config.Campaign.ID
}

func (e Engine) begin(ctx context.Context) (*sql.Tx, error) {
	return e.DB.BeginTx(ctx, nil)
}

func parseRFC3339(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
