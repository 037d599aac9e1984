package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pledgeline/internal/domain"
	"pledgeline/internal/events"
)

// CreateProfile persists a new billing snapshot. Profiles are immutable;
// refreshed billing data means a new profile reassigned to the user's open
// pledges as a whole.
func (e Engine) CreateProfile(ctx context.Context, p domain.ContributorProfile) (domain.ContributorProfile, error) {
	if p.UserID == "" {
		return domain.ContributorProfile{}, errors.New("user_id is required")
	}
	if p.CCToken == "" {
		return domain.ContributorProfile{}, errors.New("cc_token is required")
	}
	if p.ID == "" {
		p.ID = e.newID()
	}
	if p.CreatedAt == "" {
		p.CreatedAt = e.timestamp()
	}
	if err := e.Repo.InsertProfile(ctx, p); err != nil {
		return domain.ContributorProfile{}, fmt.Errorf("insert profile: %w", err)
	}
	return p, nil
}

// RefreshProfile stores a new profile and points all of the user's still-open
// pledges at it. Executed pledges keep their original snapshot.
func (e Engine) RefreshProfile(ctx context.Context, p domain.ContributorProfile) (domain.ContributorProfile, error) {
	created, err := e.CreateProfile(ctx, p)
	if err != nil {
		return domain.ContributorProfile{}, err
	}
	if err := e.Repo.ReassignOpenPledgeProfiles(ctx, created.UserID, created.ID, e.timestamp()); err != nil {
		return domain.ContributorProfile{}, err
	}
	return created, nil
}

// PledgeCreateOptions are parameters for creating a pledge.
type PledgeCreateOptions struct {
	ID               string
	TriggerID        string
	UserID           string
	EmailConfirmed   bool
	DesiredOutcome   int
	AmountCents      int64
	IncumbChallenger int
	FilterParty      string
	ProfileID        string
	ExtraJSON        string
	ActorID          string
}

// CreatePledge records a conditional commitment against a trigger. The
// current fee schedule version is stamped on the pledge; a pledge made after
// the trigger already executed is flagged and skips the pre-execution delay.
func (e Engine) CreatePledge(ctx context.Context, opts PledgeCreateOptions) (domain.Pledge, error) {
	if opts.TriggerID == "" {
		return domain.Pledge{}, errors.New("trigger is required")
	}
	if opts.UserID == "" {
		return domain.Pledge{}, errors.New("user is required")
	}
	if opts.ProfileID == "" {
		return domain.Pledge{}, errors.New("profile is required")
	}
	if opts.AmountCents <= 0 {
		return domain.Pledge{}, errors.New("amount must be positive")
	}
	switch opts.IncumbChallenger {
	case domain.SplitChallengersOnly, domain.SplitBoth, domain.SplitIncumbentsOnly:
	default:
		return domain.Pledge{}, fmt.Errorf("incumb_challenger must be -1, 0 or 1, got %d", opts.IncumbChallenger)
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Pledge{}, err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTriggerTx(ctx, tx, opts.TriggerID)
	if err != nil {
		return domain.Pledge{}, err
	}
	switch t.State {
	case domain.TriggerOpen, domain.TriggerExecuted:
	default:
		return domain.Pledge{}, fmt.Errorf("%w: trigger %s is %s, not accepting pledges", ErrInvalidState, t.ID, t.State)
	}
	if opts.DesiredOutcome < 0 || opts.DesiredOutcome >= len(t.Outcomes) {
		return domain.Pledge{}, fmt.Errorf("desired outcome %d out of range for trigger %s", opts.DesiredOutcome, t.ID)
	}
	if _, err := e.Repo.GetProfileTx(ctx, tx, opts.ProfileID); err != nil {
		return domain.Pledge{}, fmt.Errorf("profile %s: %w", opts.ProfileID, err)
	}
	id := opts.ID
	if id == "" {
		id = e.newID()
	}
	now := e.timestamp()
	var campaign *string
	if c := e.campaignID(); c != "" {
		campaign = &c
	}
	var filterParty *string
	if opts.FilterParty != "" {
		filterParty = &opts.FilterParty
	}
	p := domain.Pledge{
		ID:                 id,
		TriggerID:          t.ID,
		CampaignID:         campaign,
		UserID:             opts.UserID,
		EmailConfirmed:     opts.EmailConfirmed,
		DesiredOutcome:     opts.DesiredOutcome,
		AmountCents:        opts.AmountCents,
		IncumbChallenger:   opts.IncumbChallenger,
		FilterParty:        filterParty,
		ProfileID:          opts.ProfileID,
		State:              domain.PledgeOpen,
		FeeScheduleVersion: e.Config.Fees.Version,
		MadeAfterExecution: t.State == domain.TriggerExecuted,
		ExtraJSON:          opts.ExtraJSON,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := e.Repo.InsertPledgeTx(ctx, tx, p); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return domain.Pledge{}, fmt.Errorf("%w: trigger %s, user %s", ErrDuplicatePledge, t.ID, opts.UserID)
		}
		return domain.Pledge{}, fmt.Errorf("insert pledge: %w", err)
	}
	if t.State == domain.TriggerOpen {
		if err := e.Repo.AdjustTriggerCountersTx(ctx, tx, t.ID, 1, p.AmountCents); err != nil {
			return domain.Pledge{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "pledge.created", e.campaignID(), "pledge", p.ID, opts.ActorID, events.EventPayload{
		"trigger_id": t.ID, "amount_cents": p.AmountCents, "desired_outcome": p.DesiredOutcome,
		"late": p.MadeAfterExecution,
	}); err != nil {
		return domain.Pledge{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Pledge{}, err
	}
	return p, nil
}

// CancelPledge deletes a still-open pledge, archiving it to the cancelled
// ledger and releasing its slot on the trigger's counters.
func (e Engine) CancelPledge(ctx context.Context, pledgeID, actorID string) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	p, err := e.Repo.GetPledgeTx(ctx, tx, pledgeID)
	if err != nil {
		return err
	}
	if p.State != domain.PledgeOpen {
		return fmt.Errorf("%w: pledge %s is %s, only open pledges can be cancelled", ErrInvalidState, p.ID, p.State)
	}
	t, err := e.Repo.GetTriggerTx(ctx, tx, p.TriggerID)
	if err != nil {
		return err
	}
	now := e.timestamp()
	archived := domain.CancelledPledge{
		ID:          e.newID(),
		PledgeID:    p.ID,
		TriggerID:   p.TriggerID,
		UserID:      p.UserID,
		AmountCents: p.AmountCents,
		CancelledAt: now,
	}
	if err := e.Repo.InsertCancelledPledgeTx(ctx, tx, archived); err != nil {
		return err
	}
	if err := e.Repo.DeletePledgeTx(ctx, tx, p.ID); err != nil {
		return err
	}
	if t.State != domain.TriggerExecuted && t.State != domain.TriggerVacated {
		if err := e.Repo.AdjustTriggerCountersTx(ctx, tx, t.ID, -1, -p.AmountCents); err != nil {
			return err
		}
	}
	if err := e.Events.Append(ctx, tx, "pledge.cancelled", e.campaignID(), "pledge", p.ID, actorID, events.EventPayload{
		"trigger_id": p.TriggerID, "amount_cents": p.AmountCents,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// ConfirmPledgeEmail marks the pledge's identity as confirmed.
func (e Engine) ConfirmPledgeEmail(ctx context.Context, pledgeID, actorID string) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	p, err := e.Repo.GetPledgeTx(ctx, tx, pledgeID)
	if err != nil {
		return err
	}
	if p.EmailConfirmed {
		return tx.Commit()
	}
	now := e.timestamp()
	if err := e.Repo.SetPledgeEmailConfirmedTx(ctx, tx, p.ID, true, now); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "pledge.email_confirmed", e.campaignID(), "pledge", p.ID, actorID, events.EventPayload{}); err != nil {
		return err
	}
	return tx.Commit()
}

// RecordPreExecutionNotice timestamps the pre-execution notice for an open
// pledge. The execution delay gate counts from this moment.
func (e Engine) RecordPreExecutionNotice(ctx context.Context, pledgeID, actorID string) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	p, err := e.Repo.GetPledgeTx(ctx, tx, pledgeID)
	if err != nil {
		return err
	}
	if p.State != domain.PledgeOpen {
		return fmt.Errorf("%w: pledge %s is %s", ErrInvalidState, p.ID, p.State)
	}
	now := e.timestamp()
	if err := e.Repo.SetPledgeNoticeTx(ctx, tx, p.ID, now, now); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "pledge.notice_sent", e.campaignID(), "pledge", p.ID, actorID, events.EventPayload{}); err != nil {
		return err
	}
	return tx.Commit()
}
