package gateway_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"pledgeline/internal/gateway"
)

func authThenCapture(t *testing.T, d *gateway.Dummy) (auth, capture gateway.DonationResponse) {
	t.Helper()
	ctx := context.Background()
	items := []gateway.LineItem{{RecipientID: "gw-1", Amount: "$4.49"}, {RecipientID: "gw-2", Amount: "$4.49"}}
	auth, err := d.CreateDonation(ctx, gateway.DonationRequest{LineItems: items, Total: "$9.99", TokenRequest: true})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	capture, err = d.CreateDonation(ctx, gateway.DonationRequest{LineItems: items, Total: "$9.99", Token: auth.Token})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	return auth, capture
}

func TestDummyTwoPhaseFlow(t *testing.T) {
	d := gateway.NewDummy()
	ctx := context.Background()
	auth, capture := authThenCapture(t, d)

	if auth.Token == "" {
		t.Fatalf("authorization issued no token")
	}
	if capture.TransactionGUID == auth.TransactionGUID {
		t.Fatalf("capture reused the authorization transaction")
	}
	authTx, err := d.GetTransaction(ctx, auth.TransactionGUID)
	if err != nil {
		t.Fatalf("get auth tx: %v", err)
	}
	if authTx.Status != gateway.StatusAuthorized {
		t.Fatalf("auth status: got %q, want %q", authTx.Status, gateway.StatusAuthorized)
	}
	capTx, err := d.GetTransaction(ctx, capture.TransactionGUID)
	if err != nil {
		t.Fatalf("get capture tx: %v", err)
	}
	if capTx.Status != gateway.StatusCaptured {
		t.Fatalf("capture status: got %q, want %q", capTx.Status, gateway.StatusCaptured)
	}

	// Tokens are single-use.
	_, err = d.CreateDonation(ctx, gateway.DonationRequest{
		LineItems: []gateway.LineItem{{RecipientID: "gw-1", Amount: "$1.00"}},
		Token:     auth.Token,
	})
	var ve *gateway.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error for consumed token, got %v", err)
	}
}

func TestDummyCaptureUnknownToken(t *testing.T) {
	d := gateway.NewDummy()
	_, err := d.CreateDonation(context.Background(), gateway.DonationRequest{
		LineItems: []gateway.LineItem{{RecipientID: "gw-1", Amount: "$1.00"}},
		Token:     "no-such-token",
	})
	var ve *gateway.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDummyDeclineIsOneShot(t *testing.T) {
	d := gateway.NewDummy()
	ctx := context.Background()
	d.DeclineMessage = "card declined"
	_, err := d.CreateDonation(ctx, gateway.DonationRequest{TokenRequest: true})
	var ve *gateway.ValidationError
	if !errors.As(err, &ve) || ve.Message != "card declined" {
		t.Fatalf("expected decline, got %v", err)
	}
	if _, err := d.CreateDonation(ctx, gateway.DonationRequest{TokenRequest: true}); err != nil {
		t.Fatalf("decline should clear after one rejection: %v", err)
	}
}

func TestDummyFailIO(t *testing.T) {
	d := gateway.NewDummy()
	d.FailIO = true
	_, err := d.CreateDonation(context.Background(), gateway.DonationRequest{TokenRequest: true})
	if !errors.Is(err, gateway.ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
}

func TestVoidTransactionBeforeSettlement(t *testing.T) {
	d := gateway.NewDummy()
	ctx := context.Background()
	auth, _ := authThenCapture(t, d)

	err := gateway.VoidTransaction(ctx, d, auth.TransactionGUID, false)
	if !errors.Is(err, gateway.ErrRetryLater) {
		t.Fatalf("expected ErrRetryLater for unsettled transaction, got %v", err)
	}

	d.Settle(auth.TransactionGUID)
	if err := gateway.VoidTransaction(ctx, d, auth.TransactionGUID, false); err != nil {
		t.Fatalf("void after settlement: %v", err)
	}
	tx, err := d.GetTransaction(ctx, auth.TransactionGUID)
	if err != nil {
		t.Fatalf("get tx: %v", err)
	}
	if tx.Status != gateway.StatusVoided {
		t.Fatalf("status: got %q, want %q", tx.Status, gateway.StatusVoided)
	}
	// Voiding an already-voided transaction is a no-op.
	if err := gateway.VoidTransaction(ctx, d, auth.TransactionGUID, false); err != nil {
		t.Fatalf("repeat void: %v", err)
	}
}

func TestVoidTransactionCaptured(t *testing.T) {
	d := gateway.NewDummy()
	ctx := context.Background()
	_, capture := authThenCapture(t, d)
	if err := gateway.VoidTransaction(ctx, d, capture.TransactionGUID, false); err != nil {
		t.Fatalf("void captured: %v", err)
	}
	tx, _ := d.GetTransaction(ctx, capture.TransactionGUID)
	if tx.Status != gateway.StatusVoided {
		t.Fatalf("status: got %q, want %q", tx.Status, gateway.StatusVoided)
	}
}

// scriptedClient drives VoidTransaction down paths the dummy gateway cannot
// produce, like a void rejection on a captured transaction.
type scriptedClient struct {
	status    string
	voidErr   error
	creditErr error
}

func (c *scriptedClient) CreateDonation(ctx context.Context, req gateway.DonationRequest) (gateway.DonationResponse, error) {
	return gateway.DonationResponse{}, nil
}

func (c *scriptedClient) GetTransaction(ctx context.Context, guid string) (gateway.Transaction, error) {
	return gateway.Transaction{GUID: guid, Status: c.status}, nil
}

func (c *scriptedClient) Void(ctx context.Context, guid string) error   { return c.voidErr }
func (c *scriptedClient) Credit(ctx context.Context, guid string) error { return c.creditErr }

func TestVoidTransactionCreditFallback(t *testing.T) {
	ctx := context.Background()
	rejected := &gateway.ValidationError{Message: "void window closed"}

	c := &scriptedClient{status: gateway.StatusCaptured, voidErr: rejected}
	if err := gateway.VoidTransaction(ctx, c, "tx-1", false); err != rejected {
		t.Fatalf("without allowCredit: got %v, want the void rejection", err)
	}
	if err := gateway.VoidTransaction(ctx, c, "tx-1", true); err != nil {
		t.Fatalf("credit fallback: %v", err)
	}

	c.creditErr = &gateway.ValidationError{Message: "already disbursed"}
	err := gateway.VoidTransaction(ctx, c, "tx-1", true)
	if err == nil {
		t.Fatalf("expected combined failure")
	}
	if !strings.Contains(err.Error(), "void failed") || !strings.Contains(err.Error(), "credit failed") {
		t.Fatalf("combined error should carry both messages: %v", err)
	}
}

func TestVoidTransactionUnvoidableStatus(t *testing.T) {
	c := &scriptedClient{status: "pending"}
	err := gateway.VoidTransaction(context.Background(), c, "tx-1", true)
	if !errors.Is(err, gateway.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}
