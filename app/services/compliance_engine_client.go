package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/amirphl/AdGuard-AI/config"
)

const maxComplianceResponseBytes = 10 << 20

// ComplianceUserData describes the advertiser to the compliance engine
type ComplianceUserData struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Sector string `json:"sector"`
	Mobile string `json:"mobile"`
}

// ComplianceCheckRequest is the body of POST /compliance/check
type ComplianceCheckRequest struct {
	UserData   ComplianceUserData `json:"user_data"`
	VideoLinks []string           `json:"video_links"`
	ImageLinks []string           `json:"image_links"`
	AdDetails  any                `json:"ad_details"`
}

// ComplianceEngine evaluates an advertisement and returns the engine's raw JSON
type ComplianceEngine interface {
	Check(ctx context.Context, req ComplianceCheckRequest) (json.RawMessage, error)
}

type httpComplianceEngine struct {
	baseURL string
	client  *http.Client
}

// NewComplianceEngine creates the HTTP compliance engine client
func NewComplianceEngine(cfg config.ComplianceConfig) ComplianceEngine {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &httpComplianceEngine{
		baseURL: cfg.BaseURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Check posts the advertisement to the engine. A 2xx body that is not JSON is
// returned as a JSON string so it can still be stored and rejected downstream.
func (c *httpComplianceEngine) Check(ctx context.Context, req ComplianceCheckRequest) (json.RawMessage, error) {
	if req.VideoLinks == nil {
		req.VideoLinks = []string{}
	}
	if req.ImageLinks == nil {
		req.ImageLinks = []string{}
	}

	b, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("compliance: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/compliance/check", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("compliance: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxComplianceResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("compliance: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("compliance: http status %d: %s", resp.StatusCode, truncate(string(body), 512))
	}

	if !json.Valid(body) {
		wrapped, _ := json.Marshal(string(body))
		return wrapped, nil
	}
	return json.RawMessage(body), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
