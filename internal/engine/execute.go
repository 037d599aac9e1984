package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pledgeline/internal/aggregate"
	"pledgeline/internal/domain"
	"pledgeline/internal/events"
	"pledgeline/internal/gateway"
	"pledgeline/internal/repo"
)

// contributionDims derives the aggregate coordinates of one charge item.
func contributionDims(p domain.Pledge, executionID string, item ChargeItem) aggregate.Dimensions {
	a := item.Recipient.Action
	rec := item.Recipient.Recipient
	campaign := ""
	if p.CampaignID != nil {
		campaign = *p.CampaignID
	}
	incumbent := rec.ActorID != nil && *rec.ActorID == a.ActorID
	outcome := -1
	if a.Outcome.HasIndex() {
		outcome = *a.Outcome.Index
	}
	return aggregate.Dimensions{
		ExecutionID: executionID,
		CampaignID:  campaign,
		Outcome:     outcome,
		ActorID:     a.ActorID,
		Incumbent:   incumbent,
		Party:       rec.Party,
		District:    a.DistrictSnapshot,
	}
}

// recordProblem writes the pledge execution row for a zero-contribution
// outcome and consumes the pledge's execution slot.
func (e Engine) recordProblem(ctx context.Context, tx *sql.Tx, p domain.Pledge, execID string, problem domain.ExecutionProblem, detail, gwResponse string) (domain.PledgeExecution, error) {
	now := e.timestamp()
	pe := domain.PledgeExecution{
		ID:              e.newID(),
		PledgeID:        p.ID,
		Problem:         problem,
		ProblemDetail:   detail,
		GatewayResponse: gwResponse,
		CreatedAt:       now,
	}
	if err := e.Repo.InsertPledgeExecutionTx(ctx, tx, pe); err != nil {
		return domain.PledgeExecution{}, err
	}
	if err := e.Repo.UpdatePledgeStateTx(ctx, tx, p.ID, domain.PledgeExecuted, now); err != nil {
		return domain.PledgeExecution{}, err
	}
	if err := e.Repo.AdjustExecutionCountersTx(ctx, tx, execID, 1, 0, 0, 0); err != nil {
		return domain.PledgeExecution{}, err
	}
	return pe, nil
}

// ExecutePledge converts one pledge into contributions. The pledge and
// trigger are re-read inside an immediate transaction, so their states are
// held stable for the whole attempt; a second concurrent call serializes
// behind the writer lock and then fails its precondition check. The gateway
// call happens inside the same attempt so the charge and the durable record
// reach a decision together; if the local commit fails after a successful
// capture the returned PostChargeError carries the gateway payload.
func (e Engine) ExecutePledge(ctx context.Context, pledgeID, actorID string) (domain.PledgeExecution, error) {
	if e.Gateway == nil {
		return domain.PledgeExecution{}, errors.New("no payment gateway configured")
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.PledgeExecution{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetPledgeTx(ctx, tx, pledgeID)
	if err != nil {
		return domain.PledgeExecution{}, err
	}
	if p.State != domain.PledgeOpen {
		return domain.PledgeExecution{}, fmt.Errorf("%w: pledge %s is %s", ErrInvalidState, p.ID, p.State)
	}
	if _, err := e.Repo.GetPledgeExecutionByPledgeTx(ctx, tx, p.ID); err == nil {
		return domain.PledgeExecution{}, fmt.Errorf("%w: pledge %s already has an execution", ErrInvalidState, p.ID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.PledgeExecution{}, err
	}
	t, err := e.Repo.GetTriggerTx(ctx, tx, p.TriggerID)
	if err != nil {
		return domain.PledgeExecution{}, err
	}
	if t.State != domain.TriggerExecuted {
		return domain.PledgeExecution{}, fmt.Errorf("%w: trigger %s is %s, not executed", ErrInvalidState, t.ID, t.State)
	}
	if p.FeeScheduleVersion != e.Config.Fees.Version {
		return domain.PledgeExecution{}, fmt.Errorf("%w: pledge has v%d, current is v%d",
			ErrFeeScheduleChanged, p.FeeScheduleVersion, e.Config.Fees.Version)
	}
	// Late pledges never saw a pre-execution notice; everyone else must
	// have been notified at least the configured delay ago.
	if !e.Config.Execution.TestMode && !p.MadeAfterExecution {
		if p.PreExecutionNoticeAt == nil {
			return domain.PledgeExecution{}, fmt.Errorf("%w: no pre-execution notice recorded for pledge %s", ErrDelayNotElapsed, p.ID)
		}
		noticeAt, err := parseRFC3339(*p.PreExecutionNoticeAt)
		if err != nil {
			return domain.PledgeExecution{}, err
		}
		if e.now().Sub(noticeAt) < e.Config.PreExecutionDelay() {
			return domain.PledgeExecution{}, fmt.Errorf("%w: pledge %s notified at %s", ErrDelayNotElapsed, p.ID, *p.PreExecutionNoticeAt)
		}
	}
	exec, err := e.Repo.GetExecutionByTriggerTx(ctx, tx, t.ID)
	if err != nil {
		return domain.PledgeExecution{}, err
	}

	if !p.EmailConfirmed {
		pe, err := e.recordProblem(ctx, tx, p, exec.ID, domain.ProblemEmailUnconfirmed, "pledge email was never confirmed", "")
		if err != nil {
			return domain.PledgeExecution{}, err
		}
		return pe, e.finishExecution(ctx, tx, p, pe, actorID)
	}

	actions, err := e.Repo.ListActionsTx(ctx, tx, exec.ID)
	if err != nil {
		return domain.PledgeExecution{}, err
	}
	resolved, err := e.resolveRecipients(ctx, tx, p, actions)
	if err != nil {
		return domain.PledgeExecution{}, err
	}
	if len(resolved) == 0 {
		pe, err := e.recordProblem(ctx, tx, p, exec.ID, domain.ProblemFiltersExcludedAll, "all recipients excluded by pledge filters", "")
		if err != nil {
			return domain.PledgeExecution{}, err
		}
		return pe, e.finishExecution(ctx, tx, p, pe, actorID)
	}
	plan, err := computeCharges(p.AmountCents, resolved, e.Config.Fees)
	if err != nil {
		return domain.PledgeExecution{}, err
	}

	profile, err := e.Repo.GetProfileTx(ctx, tx, p.ProfileID)
	if err != nil {
		return domain.PledgeExecution{}, err
	}
	resp, gwErr := e.charge(ctx, p, profile, plan)
	if gwErr != nil {
		var ve *gateway.ValidationError
		if errors.As(gwErr, &ve) {
			pe, err := e.recordProblem(ctx, tx, p, exec.ID, domain.ProblemTransactionFailed, ve.Message, resp.Raw)
			if err != nil {
				return domain.PledgeExecution{}, err
			}
			return pe, e.finishExecution(ctx, tx, p, pe, actorID)
		}
		// I/O fault: nothing committed, the whole attempt is retryable.
		return domain.PledgeExecution{}, gwErr
	}

	// Money has moved. Every failure from here on is a post-charge fault.
	pe, err := e.persistCharge(ctx, tx, p, exec.ID, plan, resp, actorID)
	if err != nil {
		return domain.PledgeExecution{}, &PostChargeError{PledgeID: p.ID, GatewayResponse: resp.Raw, Err: err}
	}
	return pe, nil
}

// charge runs the authorize+capture pair against the gateway.
func (e Engine) charge(ctx context.Context, p domain.Pledge, profile domain.ContributorProfile, plan ChargePlan) (gateway.DonationResponse, error) {
	total, err := plan.Total.GatewayAmount()
	if err != nil {
		return gateway.DonationResponse{}, err
	}
	donor := gateway.Donor{ID: p.UserID, Name: profile.Name}
	billing := gateway.Billing{
		Name:    profile.Name,
		Address: profile.Address,
		City:    profile.City,
		State:   profile.State,
		Zip:     profile.Zip,
		CCToken: profile.CCToken,
	}
	var items []gateway.LineItem
	for _, item := range plan.Items {
		amt, err := item.Amount.GatewayAmount()
		if err != nil {
			return gateway.DonationResponse{}, err
		}
		items = append(items, gateway.LineItem{
			RecipientID: item.Recipient.Recipient.GatewayID,
			Amount:      amt,
			Description: item.Recipient.Action.NameSnapshot,
		})
	}
	auth, err := e.Gateway.CreateDonation(ctx, gateway.DonationRequest{
		Donor:        donor,
		Billing:      billing,
		LineItems:    items,
		Total:        total,
		TokenRequest: true,
	})
	if err != nil {
		return auth, err
	}
	capture, err := e.Gateway.CreateDonation(ctx, gateway.DonationRequest{
		Donor:     donor,
		Billing:   billing,
		LineItems: items,
		Total:     total,
		Token:     auth.Token,
	})
	if err != nil {
		return capture, err
	}
	return capture, nil
}

// persistCharge durably records a captured charge: the pledge execution,
// one contribution per recipient, action totals, execution counters and the
// aggregate slices, all in the same transaction.
func (e Engine) persistCharge(ctx context.Context, tx *sql.Tx, p domain.Pledge, execID string, plan ChargePlan, resp gateway.DonationResponse, actorID string) (domain.PledgeExecution, error) {
	now := e.timestamp()
	pe := domain.PledgeExecution{
		ID:              e.newID(),
		PledgeID:        p.ID,
		Problem:         domain.ProblemNone,
		ChargedCents:    plan.Total.Cents(),
		FeesCents:       plan.Fees.Cents(),
		GatewayResponse: resp.Raw,
		CreatedAt:       now,
	}
	if err := e.Repo.InsertPledgeExecutionTx(ctx, tx, pe); err != nil {
		return domain.PledgeExecution{}, err
	}
	updater := aggregate.NewUpdater(0)
	for _, item := range plan.Items {
		c := domain.Contribution{
			ID:                e.newID(),
			PledgeExecutionID: pe.ID,
			ActionID:          item.Recipient.Action.ID,
			RecipientID:       item.Recipient.Recipient.ID,
			AmountCents:       item.Amount.Cents(),
			CreatedAt:         now,
		}
		if err := e.Repo.InsertContributionTx(ctx, tx, c); err != nil {
			return domain.PledgeExecution{}, err
		}
		var dFor, dAgainst int64
		if *item.Recipient.Action.Outcome.Index == p.DesiredOutcome {
			dFor = c.AmountCents
		} else {
			dAgainst = c.AmountCents
		}
		if err := e.Repo.AdjustActionTotalsTx(ctx, tx, item.Recipient.Action.ID, dFor, dAgainst); err != nil {
			return domain.PledgeExecution{}, err
		}
		if err := aggregate.Apply(ctx, tx, updater, contributionDims(p, execID, item), c.AmountCents); err != nil {
			return domain.PledgeExecution{}, err
		}
	}
	if err := updater.FlushTx(ctx, tx); err != nil {
		return domain.PledgeExecution{}, err
	}
	if err := e.Repo.UpdatePledgeStateTx(ctx, tx, p.ID, domain.PledgeExecuted, now); err != nil {
		return domain.PledgeExecution{}, err
	}
	if err := e.Repo.AdjustExecutionCountersTx(ctx, tx, execID, 1, 1, int64(len(plan.Items)), plan.Subtotal.Cents()); err != nil {
		return domain.PledgeExecution{}, err
	}
	if err := e.Events.Append(ctx, tx, "pledge.executed", e.campaignID(), "pledge", p.ID, actorID, events.EventPayload{
		"pledge_execution_id": pe.ID,
		"charged_cents":       pe.ChargedCents,
		"fees_cents":          pe.FeesCents,
		"contributions":       len(plan.Items),
	}); err != nil {
		return domain.PledgeExecution{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PledgeExecution{}, err
	}
	return pe, nil
}

// finishExecution appends the audit event for a zero-contribution outcome
// and commits.
func (e Engine) finishExecution(ctx context.Context, tx *sql.Tx, p domain.Pledge, pe domain.PledgeExecution, actorID string) error {
	if err := e.Events.Append(ctx, tx, "pledge.executed", e.campaignID(), "pledge", p.ID, actorID, events.EventPayload{
		"pledge_execution_id": pe.ID,
		"problem":             pe.Problem.String(),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// BatchSkip reports one pledge the batch run could not execute.
type BatchSkip struct {
	PledgeID string
	Err      error
}

// BatchResult summarizes an ExecuteTriggerPledges run.
type BatchResult struct {
	Executed int
	Problems int
	Skipped  []BatchSkip
}

// ExecuteTriggerPledges executes every open pledge on an executed trigger.
// Retryable gateway faults are skipped and reported so the batch can be
// re-run; precondition and post-charge faults abort the batch. Gateway calls
// made here run under the batch timeout rather than the interactive one.
func (e Engine) ExecuteTriggerPledges(ctx context.Context, triggerID, actorID string) (BatchResult, error) {
	var res BatchResult
	ctx = gateway.WithBatch(ctx)
	t, err := e.Repo.GetTrigger(ctx, triggerID)
	if err != nil {
		return res, err
	}
	if t.State != domain.TriggerExecuted {
		return res, fmt.Errorf("%w: trigger %s is %s, not executed", ErrInvalidState, t.ID, t.State)
	}
	ids, err := e.Repo.ListOpenPledgeIDs(ctx, triggerID)
	if err != nil {
		return res, err
	}
	for _, id := range ids {
		pe, err := e.ExecutePledge(ctx, id, actorID)
		if err != nil {
			if Retryable(err) {
				res.Skipped = append(res.Skipped, BatchSkip{PledgeID: id, Err: err})
				continue
			}
			return res, fmt.Errorf("pledge %s: %w", id, err)
		}
		res.Executed++
		if pe.Problem != domain.ProblemNone {
			res.Problems++
		}
	}
	return res, nil
}
