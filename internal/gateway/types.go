package gateway

import (
	"context"
	"errors"
	"fmt"
)

// Transaction statuses as reported by the gateway.
const (
	StatusAuthorized = "authorized"
	StatusCaptured   = "captured"
	StatusVoided     = "voided"
	StatusCredited   = "credited"
)

// Donor identifies the person the charge is attributed to.
type Donor struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Billing carries the card token and the billing address on file.
type Billing struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	CCToken string `json:"cc_token"`
}

// LineItem is one funded recipient. Amount is a fixed-format currency
// string ("$123.45"), never a float.
type LineItem struct {
	RecipientID string `json:"recipient_id"`
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
}

// DonationRequest is the create-donation payload. With TokenRequest set the
// gateway authorizes and returns a token for a later capture; with Token set
// it captures against that prior authorization.
type DonationRequest struct {
	Donor           Donor      `json:"donor"`
	Billing         Billing    `json:"billing"`
	LineItems       []LineItem `json:"line_items"`
	Total           string     `json:"total"`
	TokenRequest    bool       `json:"token_request,omitempty"`
	AuthtestRequest bool       `json:"authtest_request,omitempty"`
	Token           string     `json:"token,omitempty"`
}

type DonationResponse struct {
	Token           string     `json:"token,omitempty"`
	TransactionGUID string     `json:"transaction_guid"`
	LineItems       []LineItem `json:"line_items"`
	// Raw is the verbatim response body, kept for the audit trail and for
	// post-charge fault reporting.
	Raw string `json:"-"`
}

type Transaction struct {
	GUID      string     `json:"transaction_guid"`
	Status    string     `json:"status"`
	LineItems []LineItem `json:"line_items"`
}

// ValidationError is a structured rejection from the gateway. Message holds
// the gateway's literal human-readable text; parts of it are pattern-matched
// by callers (see VoidTransaction).
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("gateway validation: %s", e.Message)
}

// ErrIO marks transport failures and unstructured non-2xx responses. The
// batch executor treats these as retryable since nothing was committed.
var ErrIO = errors.New("gateway i/o failure")

// Client is the payment gateway boundary.
type Client interface {
	CreateDonation(ctx context.Context, req DonationRequest) (DonationResponse, error)
	GetTransaction(ctx context.Context, guid string) (Transaction, error)
	Void(ctx context.Context, guid string) error
	Credit(ctx context.Context, guid string) error
}
