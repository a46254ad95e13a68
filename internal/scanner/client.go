package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// GateResult is the validate endpoint's answer.
type GateResult struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
	Ticket  *struct {
		TicketNumber string     `json:"ticket_number"`
		HolderName   string     `json:"holder_name"`
		UsedAt       *time.Time `json:"used_at,omitempty"`
		UsedBy       string     `json:"used_by,omitempty"`
	} `json:"ticket,omitempty"`
}

// GateClient submits scanned codes to the server.
type GateClient struct {
	BaseURL   string
	Token     string // staff bearer token
	Validator string // sent when the server does not require a token
	HTTP      *http.Client
}

func NewGateClient(baseURL, token, validator string) *GateClient {
	return &GateClient{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Token:     token,
		Validator: validator,
		HTTP:      &http.Client{Timeout: 10 * time.Second},
	}
}

// Validate posts code once.  Rejections (duplicate, unknown, expired) come
// back as a GateResult with Success false; only transport and server
// failures are errors.  The code is never resent automatically.
func (g *GateClient) Validate(ctx context.Context, code string) (*GateResult, error) {
	body, err := json.Marshal(map[string]string{"code": code, "validator_identity": g.Validator})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/v1/tickets/validate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.Token)
	}
	resp, err := g.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return nil, fmt.Errorf("validate %s: status %d: %s %s", code, resp.StatusCode, e.Error, e.Message)
	}
	var res GateResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("validate %s: decode response: %w", code, err)
	}
	return &res, nil
}
