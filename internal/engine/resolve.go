package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pledgeline/internal/domain"
	"pledgeline/internal/repo"
)

// ResolvedRecipient pairs a payable recipient with the action it funds.
type ResolvedRecipient struct {
	Recipient domain.Recipient
	Action    domain.Action
}

// resolveRecipients computes the set of recipients a pledge funds, given the
// actions of the trigger's execution. Actions with no outcome and inactive
// actors are skipped; a supporting pledge funds the actor's own recipient,
// an opposing one funds the action's snapshotted challenger. Missing
// challengers and inactive resolved recipients are data-integrity faults,
// surfaced rather than skipped. The result may legitimately be empty.
func (e Engine) resolveRecipients(ctx context.Context, tx *sql.Tx, p domain.Pledge, actions []domain.Action) ([]ResolvedRecipient, error) {
	var resolved []ResolvedRecipient
	for _, a := range actions {
		if !a.Outcome.HasIndex() {
			continue
		}
		actor, err := e.Repo.GetActorTx(ctx, tx, a.ActorID)
		if err != nil {
			return nil, fmt.Errorf("actor %s: %w", a.ActorID, err)
		}
		if actor.Inactive {
			continue
		}
		var rec domain.Recipient
		if *a.Outcome.Index == p.DesiredOutcome {
			// Supporter path: fund the actor's own recipient.
			if p.IncumbChallenger == domain.SplitChallengersOnly {
				continue
			}
			if p.FilterParty != nil && *p.FilterParty != a.PartySnapshot {
				continue
			}
			rec, err = e.Repo.GetRecipientByActorTx(ctx, tx, a.ActorID)
			if err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					return nil, fmt.Errorf("actor %s has no payable recipient: %w", a.ActorID, err)
				}
				return nil, err
			}
		} else {
			// Opposer path: fund the snapshotted challenger.
			if p.IncumbChallenger == domain.SplitIncumbentsOnly {
				continue
			}
			if a.ChallengerRecipientID == nil {
				return nil, fmt.Errorf("%w: actor %s (action %s)", ErrMissingChallenger, a.ActorID, a.ID)
			}
			rec, err = e.Repo.GetRecipientTx(ctx, tx, *a.ChallengerRecipientID)
			if err != nil {
				return nil, fmt.Errorf("challenger recipient %s: %w", *a.ChallengerRecipientID, err)
			}
			if p.FilterParty != nil && *p.FilterParty != rec.Party {
				continue
			}
		}
		if !rec.Active {
			return nil, fmt.Errorf("%w: recipient %s", ErrInactiveRecipient, rec.ID)
		}
		resolved = append(resolved, ResolvedRecipient{Recipient: rec, Action: a})
	}
	return resolved, nil
}
