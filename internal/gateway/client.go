package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPClient talks JSON over HTTPS to the live gateway. Requests are signed
// with an HMAC-SHA256 of the body under the shared API secret. Interactive
// calls run under LiveTimeout; calls made under a WithBatch context get the
// longer BatchTimeout.
type HTTPClient struct {
	BaseURL      string
	APIKey       string
	APISecret    string
	HTTP         *http.Client
	LiveTimeout  time.Duration
	BatchTimeout time.Duration
}

func NewHTTPClient(baseURL, apiKey, apiSecret string, live, batch time.Duration) *HTTPClient {
	if live <= 0 {
		live = 20 * time.Second
	}
	if batch <= 0 {
		batch = 60 * time.Second
	}
	return &HTTPClient{
		BaseURL:      baseURL,
		APIKey:       apiKey,
		APISecret:    apiSecret,
		LiveTimeout:  live,
		BatchTimeout: batch,
	}
}

type batchKey struct{}

// WithBatch marks the context as part of a batch run, so gateway calls made
// under it use the batch timeout instead of the interactive one.
func WithBatch(ctx context.Context) context.Context {
	return context.WithValue(ctx, batchKey{}, true)
}

func isBatch(ctx context.Context) bool {
	b, _ := ctx.Value(batchKey{}).(bool)
	return b
}

func (c *HTTPClient) CreateDonation(ctx context.Context, req DonationRequest) (DonationResponse, error) {
	var resp DonationResponse
	raw, err := c.do(ctx, http.MethodPost, "donation", req, &resp)
	resp.Raw = raw
	return resp, err
}

func (c *HTTPClient) GetTransaction(ctx context.Context, guid string) (Transaction, error) {
	var resp Transaction
	_, err := c.do(ctx, http.MethodGet, "transaction/"+guid, nil, &resp)
	return resp, err
}

func (c *HTTPClient) Void(ctx context.Context, guid string) error {
	_, err := c.do(ctx, http.MethodPut, "transaction/"+guid+"/void", nil, nil)
	return err
}

func (c *HTTPClient) Credit(ctx context.Context, guid string) error {
	_, err := c.do(ctx, http.MethodPut, "transaction/"+guid+"/credit", nil, nil)
	return err
}

// validationBody is the gateway's structured rejection payload.
type validationBody struct {
	Error string `json:"error"`
}

func (c *HTTPClient) do(ctx context.Context, method, endpoint string, body any, out any) (string, error) {
	if c.HTTP == nil {
		c.HTTP = &http.Client{}
	}
	timeout := c.LiveTimeout
	if isBatch(ctx) {
		timeout = c.BatchTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	url := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return "", err
		}
	}
	payload := buf.Bytes()
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.APIKey)
	req.Header.Set("X-Signature", c.sign(payload))
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %s %s: %v", ErrIO, method, endpoint, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrIO, err)
	}
	if resp.StatusCode >= 300 {
		// 422 with a parseable error body is a structured validation
		// rejection; everything else non-2xx is an I/O failure.
		if resp.StatusCode == http.StatusUnprocessableEntity {
			var vb validationBody
			if json.Unmarshal(raw, &vb) == nil && vb.Error != "" {
				return string(raw), &ValidationError{Message: vb.Error}
			}
		}
		return string(raw), fmt.Errorf("%w: %s %s: status=%d body=%s", ErrIO, method, endpoint, resp.StatusCode, string(raw))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return string(raw), fmt.Errorf("%w: decode response: %v", ErrIO, err)
		}
	}
	return string(raw), nil
}

func (c *HTTPClient) sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(c.APISecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
