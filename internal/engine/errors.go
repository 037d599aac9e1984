package engine

import (
	"errors"
	"fmt"

	"pledgeline/internal/gateway"
)

// Precondition faults. These mark wrong states or bad data, abort the
// enclosing transaction and are never retried automatically.
var (
	ErrInvalidState       = errors.New("invalid state")
	ErrFeeScheduleChanged = errors.New("fee schedule changed since the pledge was made")
	ErrDelayNotElapsed    = errors.New("pre-execution delay has not elapsed")
	ErrDuplicatePledge    = errors.New("a pledge by this user already exists for this trigger")
	ErrMissingChallenger  = errors.New("no challenger recipient configured")
	ErrInactiveRecipient  = errors.New("resolved recipient is inactive")
)

// Charge computation faults. Message texts are user-visible.
var (
	ErrAmountTooSmall         = errors.New("The amount is less than the minimum fees.")
	ErrAmountTooSmallToDivide = errors.New("The amount is too small to divide among the recipients.")
)

// PostChargeError escalates a local persistence failure that happened after
// the gateway already captured funds. It carries the full gateway payload
// for manual reconciliation and must never be retried automatically.
type PostChargeError struct {
	PledgeID        string
	GatewayResponse string
	Err             error
}

func (e *PostChargeError) Error() string {
	return fmt.Sprintf("pledge %s: charge succeeded but local commit failed: %v (gateway response: %s)",
		e.PledgeID, e.Err, e.GatewayResponse)
}

func (e *PostChargeError) Unwrap() error { return e.Err }

// Retryable reports whether a pledge execution failure can be re-attempted
// later: the gateway was unreachable and no pledge execution was committed.
func Retryable(err error) bool {
	var pce *PostChargeError
	if errors.As(err, &pce) {
		return false
	}
	return errors.Is(err, gateway.ErrIO)
}
