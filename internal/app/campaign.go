// Package app holds startup glue shared by the CLI and the server.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pledgeline/internal/config"
	"pledgeline/internal/domain"
	"pledgeline/internal/repo"
)

// EnsureCampaign makes sure the configured campaign exists in the database,
// seeding it from config on first use. Every entry point that opens the
// engine runs through here, so a fresh workspace is usable immediately.
func EnsureCampaign(ctx context.Context, r repo.Repo, cfg *config.Config) (domain.Campaign, error) {
	if cfg.Campaign.ID == "" {
		return domain.Campaign{}, fmt.Errorf("config.campaign.id is required")
	}
	c, err := r.GetCampaign(ctx, cfg.Campaign.ID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Campaign{}, err
	}
	c = domain.Campaign{
		ID:        cfg.Campaign.ID,
		Title:     cfg.Campaign.Title,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := r.InsertCampaign(ctx, c); err != nil {
		return domain.Campaign{}, fmt.Errorf("seed campaign %s: %w", c.ID, err)
	}
	return c, nil
}
