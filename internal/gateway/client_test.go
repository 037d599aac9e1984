package gateway_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pledgeline/internal/gateway"
)

func TestHTTPClientBatchTimeoutSelection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"transaction_guid":"guid-1","status":"captured"}`))
	}))
	defer srv.Close()

	c := gateway.NewHTTPClient(srv.URL, "key", "secret", 30*time.Millisecond, 5*time.Second)

	// An interactive call runs under the short timeout and gives up before
	// the slow response arrives.
	ctx := context.Background()
	if _, err := c.GetTransaction(ctx, "guid-1"); !errors.Is(err, gateway.ErrIO) {
		t.Fatalf("interactive call: got %v, want ErrIO", err)
	}

	// The same call under a batch context waits the response out.
	tr, err := c.GetTransaction(gateway.WithBatch(ctx), "guid-1")
	if err != nil {
		t.Fatalf("batch call: %v", err)
	}
	if tr.GUID != "guid-1" || tr.Status != gateway.StatusCaptured {
		t.Fatalf("batch call: got %+v", tr)
	}
}

func TestHTTPClientSignsRequests(t *testing.T) {
	var gotKey, gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		gotSig = r.Header.Get("X-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"transaction_guid":"guid-2"}`))
	}))
	defer srv.Close()

	c := gateway.NewHTTPClient(srv.URL, "key-1", "secret-1", time.Second, time.Second)
	if _, err := c.CreateDonation(context.Background(), gateway.DonationRequest{Total: "$1.00"}); err != nil {
		t.Fatalf("create donation: %v", err)
	}
	if gotKey != "key-1" {
		t.Fatalf("api key header: got %q", gotKey)
	}
	mac := hmac.New(sha256.New, []byte("secret-1"))
	mac.Write(gotBody)
	if want := hex.EncodeToString(mac.Sum(nil)); gotSig != want {
		t.Fatalf("signature: got %q, want %q", gotSig, want)
	}
}

func TestHTTPClientValidationRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"The card was declined."}`))
	}))
	defer srv.Close()

	c := gateway.NewHTTPClient(srv.URL, "key", "secret", time.Second, time.Second)
	_, err := c.CreateDonation(context.Background(), gateway.DonationRequest{Total: "$1.00"})
	var ve *gateway.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("got %v, want ValidationError", err)
	}
	if ve.Message != "The card was declined." {
		t.Fatalf("message: got %q", ve.Message)
	}
}
