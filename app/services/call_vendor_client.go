package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/amirphl/AdGuard-AI/config"
	"golang.org/x/time/rate"
)

var (
	ErrCallVendorNotConfigured = errors.New("call vendor auth token not configured")
	ErrCallRejected            = errors.New("call vendor rejected the call")
)

// CallDetails is the vendor's view of a call. Raw keeps the full body for the transcript.
type CallDetails struct {
	Status    string          `json:"status"`
	Completed bool            `json:"completed"`
	Raw       json.RawMessage `json:"-"`
}

// IsFinished reports whether the vendor considers the call over
func (d *CallDetails) IsFinished() bool {
	switch strings.ToLower(strings.TrimSpace(d.Status)) {
	case "completed", "ended":
		return true
	}
	return d.Completed
}

// CallVendor places clarification calls and reports on them
type CallVendor interface {
	PlaceCall(ctx context.Context, phoneNumber, task string) (callID string, err error)
	CallDetails(ctx context.Context, callID string) (*CallDetails, error)
}

type placeCallRequest struct {
	PhoneNumber       string `json:"phone_number"`
	Task              string `json:"task"`
	Model             string `json:"model"`
	Language          string `json:"language"`
	Voice             string `json:"voice"`
	MaxDuration       int    `json:"max_duration"`
	AnsweredByEnabled bool   `json:"answered_by_enabled"`
	WaitForGreeting   bool   `json:"wait_for_greeting"`
	Record            bool   `json:"record"`
}

type placeCallResponse struct {
	Status  string `json:"status"`
	CallID  string `json:"call_id"`
	Message string `json:"message"`
}

type httpCallVendor struct {
	cfg     config.CallVendorConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewCallVendor creates the HTTP call vendor client. Every request waits on a
// single limiter so concurrent pollers share the vendor's request budget.
func NewCallVendor(cfg config.CallVendorConfig) CallVendor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &httpCallVendor{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (c *httpCallVendor) PlaceCall(ctx context.Context, phoneNumber, task string) (string, error) {
	if c.cfg.AuthToken == "" {
		return "", ErrCallVendorNotConfigured
	}

	payload := placeCallRequest{
		PhoneNumber:       phoneNumber,
		Task:              task,
		Model:             c.cfg.Model,
		Language:          c.cfg.Language,
		Voice:             c.cfg.Voice,
		MaxDuration:       c.cfg.MaxDuration,
		AnsweredByEnabled: true,
		WaitForGreeting:   false,
		Record:            true,
	}
	b, _ := json.Marshal(payload)

	body, err := c.do(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/calls", bytes.NewReader(b))
	if err != nil {
		return "", err
	}

	var out placeCallResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("call vendor: decode place call response: %w", err)
	}
	if out.CallID == "" {
		return "", fmt.Errorf("%w: status=%q message=%q", ErrCallRejected, out.Status, out.Message)
	}
	return out.CallID, nil
}

func (c *httpCallVendor) CallDetails(ctx context.Context, callID string) (*CallDetails, error) {
	if c.cfg.AuthToken == "" {
		return nil, ErrCallVendorNotConfigured
	}

	body, err := c.do(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/calls/"+url.PathEscape(callID), nil)
	if err != nil {
		return nil, err
	}

	var details CallDetails
	if err := json.Unmarshal(body, &details); err != nil {
		return nil, fmt.Errorf("call vendor: decode call %s: %w", callID, err)
	}
	details.Raw = json.RawMessage(body)
	return &details, nil
}

func (c *httpCallVendor) do(ctx context.Context, method, endpoint string, body io.Reader) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call vendor: %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("call vendor: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("call vendor: http status %d: %s", resp.StatusCode, truncate(string(out), 512))
	}
	if !json.Valid(out) {
		return nil, fmt.Errorf("call vendor: response is not JSON")
	}
	return out, nil
}
