package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"pledgeline/internal/aggregate"
	"pledgeline/internal/domain"
	"pledgeline/internal/events"
	"pledgeline/internal/gateway"
)

// transactionGUID digs the gateway transaction id out of a stored response
// payload.
func transactionGUID(raw string) (string, error) {
	var resp struct {
		TransactionGUID string `json:"transaction_guid"`
	}
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return "", fmt.Errorf("parse stored gateway response: %w", err)
	}
	if resp.TransactionGUID == "" {
		return "", errors.New("stored gateway response has no transaction_guid")
	}
	return resp.TransactionGUID, nil
}

// VoidExecution reverses a charged pledge execution: the gateway
// transaction is voided (or credited when allowCredit is set), then the
// contributions are deleted with every derived total reversed. The pledge
// stays Executed; the execution record becomes ProblemVoided.
func (e Engine) VoidExecution(ctx context.Context, executionID string, allowCredit bool, actorID string) error {
	if e.Gateway == nil {
		return errors.New("no payment gateway configured")
	}
	pe, err := e.Repo.GetPledgeExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if pe.Problem != domain.ProblemNone {
		return fmt.Errorf("%w: execution %s is %s, only charged executions can be voided", ErrInvalidState, pe.ID, pe.Problem)
	}
	guid, err := transactionGUID(pe.GatewayResponse)
	if err != nil {
		return err
	}
	// The reversal is a network call with its own recovery ladder; it runs
	// outside the local lock, and only after it succeeds is the ledger
	// touched.
	if err := gateway.VoidTransaction(ctx, e.Gateway, guid, allowCredit); err != nil {
		return fmt.Errorf("void transaction %s: %w", guid, err)
	}

	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	p, err := e.Repo.GetPledgeTx(ctx, tx, pe.PledgeID)
	if err != nil {
		return err
	}
	exec, err := e.Repo.GetExecutionByTriggerTx(ctx, tx, p.TriggerID)
	if err != nil {
		return err
	}
	contributions, err := e.Repo.ListContributionsTx(ctx, tx, pe.ID)
	if err != nil {
		return err
	}
	updater := aggregate.NewUpdater(0)
	var reversedCents int64
	for _, c := range contributions {
		action, err := e.Repo.GetActionTx(ctx, tx, c.ActionID)
		if err != nil {
			return err
		}
		rec, err := e.Repo.GetRecipientTx(ctx, tx, c.RecipientID)
		if err != nil {
			return err
		}
		item := ChargeItem{Recipient: ResolvedRecipient{Recipient: rec, Action: action}}
		var dFor, dAgainst int64
		if action.Outcome.HasIndex() && *action.Outcome.Index == p.DesiredOutcome {
			dFor = -c.AmountCents
		} else {
			dAgainst = -c.AmountCents
		}
		if err := e.Repo.AdjustActionTotalsTx(ctx, tx, action.ID, dFor, dAgainst); err != nil {
			return err
		}
		if err := aggregate.Reverse(ctx, tx, updater, contributionDims(p, exec.ID, item), c.AmountCents); err != nil {
			return err
		}
		if err := e.Repo.DeleteContributionTx(ctx, tx, c.ID); err != nil {
			return err
		}
		reversedCents += c.AmountCents
	}
	if err := updater.FlushTx(ctx, tx); err != nil {
		return err
	}
	if len(contributions) > 0 {
		if err := e.Repo.AdjustExecutionCountersTx(ctx, tx, exec.ID, 0, -1, -int64(len(contributions)), -reversedCents); err != nil {
			return err
		}
	}
	detail := "voided by operator"
	if err := e.Repo.MarkExecutionVoidedTx(ctx, tx, pe.ID, detail, pe.GatewayResponse); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "pledge.voided", e.campaignID(), "pledge", p.ID, actorID, events.EventPayload{
		"pledge_execution_id": pe.ID,
		"transaction_guid":    guid,
		"reversed_cents":      reversedCents,
		"allow_credit":        allowCredit,
	}); err != nil {
		return err
	}
	return tx.Commit()
}
