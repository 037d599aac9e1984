package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Dummy simulates the gateway in memory for tests and dummy-mode deployments.
// Tokens are issued on authorization and captures against unknown tokens are
// rejected, so the orchestrator's two-step flow is exercised for real.
type Dummy struct {
	mu   sync.Mutex
	seq  int
	toks map[string]bool
	txs  map[string]*Transaction

	// DeclineMessage, when set, rejects the next CreateDonation with a
	// validation error carrying that message.
	DeclineMessage string
	// FailIO, when set, makes every call fail with ErrIO.
	FailIO bool
}

func NewDummy() *Dummy {
	return &Dummy{
		toks: make(map[string]bool),
		txs:  make(map[string]*Transaction),
	}
}

func (d *Dummy) CreateDonation(ctx context.Context, req DonationRequest) (DonationResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailIO {
		return DonationResponse{}, fmt.Errorf("%w: dummy gateway unreachable", ErrIO)
	}
	if d.DeclineMessage != "" {
		msg := d.DeclineMessage
		d.DeclineMessage = ""
		return DonationResponse{}, &ValidationError{Message: msg}
	}
	if len(req.LineItems) == 0 && !req.TokenRequest && !req.AuthtestRequest {
		return DonationResponse{}, &ValidationError{Message: "no line items"}
	}
	d.seq++
	guid := fmt.Sprintf("dummy-tx-%04d", d.seq)
	resp := DonationResponse{TransactionGUID: guid, LineItems: req.LineItems}
	status := StatusCaptured
	if req.TokenRequest {
		tok := fmt.Sprintf("dummy-token-%04d", d.seq)
		d.toks[tok] = true
		resp.Token = tok
		status = StatusAuthorized
	} else if req.Token != "" {
		if !d.toks[req.Token] {
			return DonationResponse{}, &ValidationError{Message: fmt.Sprintf("unknown token %q", req.Token)}
		}
		delete(d.toks, req.Token)
	}
	d.txs[guid] = &Transaction{GUID: guid, Status: status, LineItems: req.LineItems}
	raw, _ := json.Marshal(resp)
	resp.Raw = string(raw)
	return resp, nil
}

func (d *Dummy) GetTransaction(ctx context.Context, guid string) (Transaction, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailIO {
		return Transaction{}, fmt.Errorf("%w: dummy gateway unreachable", ErrIO)
	}
	tx, ok := d.txs[guid]
	if !ok {
		return Transaction{}, fmt.Errorf("%w: transaction %s not found", ErrIO, guid)
	}
	return *tx, nil
}

func (d *Dummy) Void(ctx context.Context, guid string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailIO {
		return fmt.Errorf("%w: dummy gateway unreachable", ErrIO)
	}
	tx, ok := d.txs[guid]
	if !ok {
		return fmt.Errorf("%w: transaction %s not found", ErrIO, guid)
	}
	switch tx.Status {
	case StatusAuthorized:
		return &ValidationError{Message: mustWaitMessage}
	case StatusCaptured:
		tx.Status = StatusVoided
		return nil
	default:
		return &ValidationError{Message: fmt.Sprintf("cannot void a %s transaction", tx.Status)}
	}
}

func (d *Dummy) Credit(ctx context.Context, guid string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailIO {
		return fmt.Errorf("%w: dummy gateway unreachable", ErrIO)
	}
	tx, ok := d.txs[guid]
	if !ok {
		return fmt.Errorf("%w: transaction %s not found", ErrIO, guid)
	}
	if tx.Status != StatusCaptured {
		return &ValidationError{Message: fmt.Sprintf("cannot credit a %s transaction", tx.Status)}
	}
	tx.Status = StatusCredited
	return nil
}

// Settle marks an authorized transaction captured, standing in for the
// gateway's settlement batch.
func (d *Dummy) Settle(guid string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if tx, ok := d.txs[guid]; ok && tx.Status == StatusAuthorized {
		tx.Status = StatusCaptured
	}
}
