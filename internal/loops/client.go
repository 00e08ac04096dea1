// Package loops provides a minimal client for the Loops.so email API, covering
// the transactional send and event endpoints the run reports use.
// See https://loops.so/docs/api-reference for full documentation.
package loops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wagewatch/wagewatch/internal/observability"
)

const (
	defaultBaseURL = "https://app.loops.so/api/v1"
	defaultTimeout = 10 * time.Second
)

// Client provides methods to interact with the Loops.so API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint. Used in tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// New creates a new Loops client with the given API key.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: observability.WrapTransport(nil),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TransactionalRequest contains the fields for sending a transactional email.
type TransactionalRequest struct {
	// Email is the recipient's email address (required).
	Email string `json:"email"`
	// TransactionalID is the template ID from the Loops dashboard (required).
	TransactionalID string `json:"transactionalId"`
	// DataVariables are template variables to inject into the email (optional).
	DataVariables map[string]any `json:"dataVariables,omitempty"`
	// AddToAudience creates a contact if one doesn't exist (optional, default false).
	AddToAudience bool `json:"addToAudience,omitempty"`
	// IdempotencyKey prevents duplicate sends within 24 hours (optional).
	IdempotencyKey string `json:"-"`
}

// SendTransactional sends a transactional email via the Loops API.
func (c *Client) SendTransactional(ctx context.Context, req *TransactionalRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("loops: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transactional", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("loops: failed to create request: %w", err)
	}

	c.setHeaders(httpReq)
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	return c.do(httpReq)
}

// EventRequest contains the fields for sending an event.
type EventRequest struct {
	// Email is the contact's email address (required if UserID not set).
	Email string `json:"email,omitempty"`
	// UserID is the contact's user ID (required if Email not set).
	UserID string `json:"userId,omitempty"`
	// EventName is the name of the event to trigger (required).
	EventName string `json:"eventName"`
	// EventProperties are custom properties for the event (optional).
	EventProperties map[string]any `json:"eventProperties,omitempty"`
}

// SendEvent sends an event to trigger automations in Loops.
func (c *Client) SendEvent(ctx context.Context, req *EventRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("loops: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/events/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("loops: failed to create request: %w", err)
	}

	c.setHeaders(httpReq)
	return c.do(httpReq)
}

// APIError represents an error response from the Loops API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("loops: API error %d: %s", e.StatusCode, e.Message)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
}

func (c *Client) do(req *http.Request) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("loops: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)

	var apiResp struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &apiResp) == nil && apiResp.Message != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: apiResp.Message}
	}

	return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
}
