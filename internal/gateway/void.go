package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// mustWaitMessage is the gateway's literal text for a void attempted between
// authorization and settlement.
const mustWaitMessage = "must wait until captured"

// ErrRetryLater marks a void attempt that will succeed once the gateway has
// settled the transaction.
var ErrRetryLater = errors.New("transaction not yet settled, retry later")

// ErrNotReady marks a transaction that has not reached a voidable state.
var ErrNotReady = errors.New("transaction not ready to void")

// VoidTransaction reverses a transaction. Already-reversed transactions
// succeed as a no-op. A void rejected with the gateway's settlement-pending
// message surfaces as ErrRetryLater; any other validation rejection falls
// back to a credit when allowCredit is set. When both reversals fail the
// combined error carries both messages.
func VoidTransaction(ctx context.Context, c Client, guid string, allowCredit bool) error {
	tx, err := c.GetTransaction(ctx, guid)
	if err != nil {
		return err
	}
	switch tx.Status {
	case StatusVoided, StatusCredited:
		return nil
	case StatusAuthorized, StatusCaptured:
	default:
		return fmt.Errorf("%w: status %q", ErrNotReady, tx.Status)
	}
	voidErr := c.Void(ctx, guid)
	if voidErr == nil {
		return nil
	}
	var ve *ValidationError
	if !errors.As(voidErr, &ve) {
		return voidErr
	}
	if strings.Contains(ve.Message, mustWaitMessage) {
		return fmt.Errorf("%w: %s", ErrRetryLater, ve.Message)
	}
	if !allowCredit {
		return voidErr
	}
	creditErr := c.Credit(ctx, guid)
	if creditErr == nil {
		return nil
	}
	return fmt.Errorf("void failed (%v); credit failed (%v)", voidErr, creditErr)
}
