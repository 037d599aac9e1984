package engine

import (
	"context"
	"errors"
	"fmt"

	"pledgeline/internal/domain"
	"pledgeline/internal/events"
)

// TriggerCreateOptions are parameters for creating a trigger.
type TriggerCreateOptions struct {
	ID          string
	Key         string
	Title       string
	Description string
	Outcomes    []domain.TriggerOutcome
	ExtraJSON   string
	ActorID     string
}

func (e Engine) CreateTrigger(ctx context.Context, opts TriggerCreateOptions) (domain.Trigger, error) {
	if opts.Key == "" {
		return domain.Trigger{}, errors.New("key is required")
	}
	if opts.Title == "" {
		return domain.Trigger{}, errors.New("title is required")
	}
	if len(opts.Outcomes) == 0 {
		return domain.Trigger{}, errors.New("at least one outcome is required")
	}
	for i, o := range opts.Outcomes {
		if o.Key == "" || o.Label == "" {
			return domain.Trigger{}, fmt.Errorf("outcome %d: key and label are required", i)
		}
	}
	id := opts.ID
	if id == "" {
		id = e.newID()
	}
	now := e.timestamp()
	t := domain.Trigger{
		ID:          id,
		Key:         opts.Key,
		Title:       opts.Title,
		Description: opts.Description,
		State:       domain.TriggerDraft,
		Outcomes:    opts.Outcomes,
		ExtraJSON:   opts.ExtraJSON,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Trigger{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTriggerTx(ctx, tx, t); err != nil {
		return domain.Trigger{}, fmt.Errorf("insert trigger: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "trigger.created", e.campaignID(), "trigger", t.ID, opts.ActorID, events.EventPayload{
		"key": t.Key, "title": t.Title, "outcomes": len(t.Outcomes),
	}); err != nil {
		return domain.Trigger{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Trigger{}, err
	}
	return t, nil
}

// OpenTrigger moves a trigger from Draft or Paused to Open.
func (e Engine) OpenTrigger(ctx context.Context, id, actorID string) (domain.Trigger, error) {
	return e.transitionTrigger(ctx, id, actorID, "trigger.opened", domain.TriggerOpen,
		domain.TriggerDraft, domain.TriggerPaused)
}

// PauseTrigger moves an Open trigger to Paused.
func (e Engine) PauseTrigger(ctx context.Context, id, actorID string) (domain.Trigger, error) {
	return e.transitionTrigger(ctx, id, actorID, "trigger.paused", domain.TriggerPaused,
		domain.TriggerOpen)
}

func (e Engine) transitionTrigger(ctx context.Context, id, actorID, evtType string, to domain.TriggerState, from ...domain.TriggerState) (domain.Trigger, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Trigger{}, err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTriggerTx(ctx, tx, id)
	if err != nil {
		return domain.Trigger{}, err
	}
	ok := false
	for _, s := range from {
		if t.State == s {
			ok = true
			break
		}
	}
	if !ok {
		return domain.Trigger{}, fmt.Errorf("%w: trigger %s is %s", ErrInvalidState, id, t.State)
	}
	now := e.timestamp()
	if err := e.Repo.UpdateTriggerStateTx(ctx, tx, id, to, now); err != nil {
		return domain.Trigger{}, err
	}
	if err := e.Events.Append(ctx, tx, evtType, e.campaignID(), "trigger", id, actorID, events.EventPayload{
		"from": t.State.String(), "to": to.String(),
	}); err != nil {
		return domain.Trigger{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Trigger{}, err
	}
	t.State = to
	t.UpdatedAt = now
	return t, nil
}

// ActorOutcome supplies one actor's real-world outcome for ExecuteTrigger.
type ActorOutcome struct {
	ActorID string
	Outcome domain.Outcome
}

// ExecuteTriggerOptions are parameters for resolving a trigger.
type ExecuteTriggerOptions struct {
	TriggerID   string
	ActionTime  string
	Description string
	Outcomes    []ActorOutcome
	ActorID     string
}

// ExecuteTrigger resolves a trigger: under the writer lock it creates the
// execution record, snapshots one action per supplied actor and marks the
// trigger Executed. An inactive actor's supplied outcome is overridden with
// its own no-action reason. Pledges are executed separately afterwards.
func (e Engine) ExecuteTrigger(ctx context.Context, opts ExecuteTriggerOptions) (domain.TriggerExecution, error) {
	if len(opts.Outcomes) == 0 {
		return domain.TriggerExecution{}, errors.New("at least one actor outcome is required")
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.TriggerExecution{}, err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTriggerTx(ctx, tx, opts.TriggerID)
	if err != nil {
		return domain.TriggerExecution{}, err
	}
	if t.State != domain.TriggerOpen && t.State != domain.TriggerPaused {
		return domain.TriggerExecution{}, fmt.Errorf("%w: trigger %s is %s", ErrInvalidState, t.ID, t.State)
	}
	now := e.timestamp()
	actionTime := opts.ActionTime
	if actionTime == "" {
		actionTime = now
	}
	exec := domain.TriggerExecution{
		ID:          e.newID(),
		TriggerID:   t.ID,
		ActionTime:  actionTime,
		Description: opts.Description,
		CreatedAt:   now,
	}
	if err := e.Repo.InsertExecutionTx(ctx, tx, exec); err != nil {
		return domain.TriggerExecution{}, fmt.Errorf("insert execution: %w", err)
	}
	for _, ao := range opts.Outcomes {
		actor, err := e.Repo.GetActorTx(ctx, tx, ao.ActorID)
		if err != nil {
			return domain.TriggerExecution{}, fmt.Errorf("actor %s: %w", ao.ActorID, err)
		}
		outcome := ao.Outcome
		if actor.Inactive {
			reason := actor.InactiveReason
			if reason == "" {
				reason = "actor inactive"
			}
			outcome = domain.NoOutcome(reason)
		}
		if outcome.HasIndex() {
			if idx := *outcome.Index; idx < 0 || idx >= len(t.Outcomes) {
				return domain.TriggerExecution{}, fmt.Errorf("actor %s: outcome index %d out of range", actor.ID, idx)
			}
		}
		a := domain.Action{
			ID:                    e.newID(),
			ExecutionID:           exec.ID,
			ActorID:               actor.ID,
			NameSnapshot:          actor.Name,
			PartySnapshot:         actor.Party,
			OfficeSnapshot:        actor.Office,
			DistrictSnapshot:      actor.District,
			Outcome:               outcome,
			ChallengerRecipientID: actor.ChallengerRecipientID,
			ExtraJSON:             actor.ExtraJSON,
		}
		if err := e.Repo.InsertActionTx(ctx, tx, a); err != nil {
			return domain.TriggerExecution{}, fmt.Errorf("insert action for actor %s: %w", actor.ID, err)
		}
	}
	if err := e.Repo.UpdateTriggerStateTx(ctx, tx, t.ID, domain.TriggerExecuted, now); err != nil {
		return domain.TriggerExecution{}, err
	}
	if err := e.Events.Append(ctx, tx, "trigger.executed", e.campaignID(), "trigger", t.ID, opts.ActorID, events.EventPayload{
		"execution_id": exec.ID, "action_time": exec.ActionTime, "actions": len(opts.Outcomes),
	}); err != nil {
		return domain.TriggerExecution{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TriggerExecution{}, err
	}
	return exec, nil
}

// VacateTrigger cancels an unresolved trigger and vacates every open pledge
// on it. Any pledge in another state breaks the consistency contract and
// aborts the whole transition.
func (e Engine) VacateTrigger(ctx context.Context, id, actorID string) (domain.Trigger, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Trigger{}, err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTriggerTx(ctx, tx, id)
	if err != nil {
		return domain.Trigger{}, err
	}
	if t.State != domain.TriggerOpen && t.State != domain.TriggerPaused {
		return domain.Trigger{}, fmt.Errorf("%w: trigger %s is %s", ErrInvalidState, id, t.State)
	}
	notOpen, err := e.Repo.CountPledgesNotOpenTx(ctx, tx, id)
	if err != nil {
		return domain.Trigger{}, err
	}
	if notOpen > 0 {
		return domain.Trigger{}, fmt.Errorf("%w: trigger %s has %d pledges outside the open state", ErrInvalidState, id, notOpen)
	}
	pledgeIDs, err := e.Repo.ListOpenPledgeIDsTx(ctx, tx, id)
	if err != nil {
		return domain.Trigger{}, err
	}
	now := e.timestamp()
	for _, pid := range pledgeIDs {
		if err := e.Repo.UpdatePledgeStateTx(ctx, tx, pid, domain.PledgeVacated, now); err != nil {
			return domain.Trigger{}, err
		}
	}
	if err := e.Repo.UpdateTriggerStateTx(ctx, tx, id, domain.TriggerVacated, now); err != nil {
		return domain.Trigger{}, err
	}
	if err := e.Events.Append(ctx, tx, "trigger.vacated", e.campaignID(), "trigger", id, actorID, events.EventPayload{
		"pledges_vacated": len(pledgeIDs),
	}); err != nil {
		return domain.Trigger{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Trigger{}, err
	}
	t.State = domain.TriggerVacated
	t.UpdatedAt = now
	return t, nil
}

// UnexecuteTrigger deletes a trigger's execution record and reverts the
// trigger to Paused, never to Executed. Maintenance path: refuses to run if
// any pledge execution exists under the trigger.
func (e Engine) UnexecuteTrigger(ctx context.Context, id, actorID string) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTriggerTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if t.State != domain.TriggerExecuted {
		return fmt.Errorf("%w: trigger %s is %s", ErrInvalidState, id, t.State)
	}
	exec, err := e.Repo.GetExecutionByTriggerTx(ctx, tx, id)
	if err != nil {
		return err
	}
	var executed int64
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM pledge_executions pe JOIN pledges p ON p.id=pe.pledge_id WHERE p.trigger_id=?`, id).Scan(&executed)
	if err != nil {
		return err
	}
	if executed > 0 {
		return fmt.Errorf("%w: trigger %s has %d executed pledges", ErrInvalidState, id, executed)
	}
	if err := e.Repo.DeleteExecutionTx(ctx, tx, exec.ID); err != nil {
		return err
	}
	now := e.timestamp()
	if err := e.Repo.UpdateTriggerStateTx(ctx, tx, id, domain.TriggerPaused, now); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "trigger.unexecuted", e.campaignID(), "trigger", id, actorID, events.EventPayload{
		"execution_id": exec.ID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}
