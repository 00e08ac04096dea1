// Package extractor provides a client for the Anthropic Messages API, used to
// pull structured job fields out of listing text too irregular for CSS
// selectors. See https://docs.anthropic.com/en/api/messages for the API.
package extractor

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
	defaultBaseURL = "https://api.anthropic.com/v1"
	defaultModel   = "claude-3-5-haiku-latest"
	apiVersion     = "2023-06-01"
	defaultTimeout = 30 * time.Second
	maxTokens      = 1024
)

const extractPrompt = `Extract job posting fields from the text below.
Respond with only a JSON object with these keys:
"title", "facility", "location", "specialty", "pay_text".
Use empty strings for fields that are not present. Copy "pay_text" verbatim
from the posting, including dollar signs and period words.

Text:
%s`

// JobFields are the structured fields extracted from one posting's text.
type JobFields struct {
	Title     string `json:"title"`
	Facility  string `json:"facility"`
	Location  string `json:"location"`
	Specialty string `json:"specialty"`
	// PayText is the compensation phrase copied verbatim from the posting,
	// ready for rate normalization.
	PayText string `json:"pay_text"`
}

// Client provides methods to interact with the Anthropic Messages API.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint. Used in tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// New creates a new extractor client with the given API key.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		model:   defaultModel,
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

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// ExtractJobFields sends the raw posting text to the model and parses the
// structured fields out of its reply.
func (c *Client) ExtractJobFields(ctx context.Context, rawText string) (*JobFields, error) {
	body, err := json.Marshal(&messagesRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages: []message{
			{Role: "user", Content: fmt.Sprintf(extractPrompt, rawText)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("extractor: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("extractor: failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extractor: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, c.apiError(resp.StatusCode, respBody)
	}

	var mr messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return nil, fmt.Errorf("extractor: failed to decode response: %w", err)
	}

	text := ""
	for _, block := range mr.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return nil, fmt.Errorf("extractor: response contained no text content")
	}

	fields, err := parseFields(text)
	if err != nil {
		return nil, err
	}
	return fields, nil
}

// parseFields decodes the model's JSON reply. Code fences around the object
// are tolerated since models add them despite instructions.
func parseFields(text string) (*JobFields, error) {
	trimmed := strings.TrimSpace(text)
	if i := strings.Index(trimmed, "{"); i >= 0 {
		if j := strings.LastIndex(trimmed, "}"); j > i {
			trimmed = trimmed[i : j+1]
		}
	}

	var fields JobFields
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return nil, fmt.Errorf("extractor: failed to parse model reply: %w", err)
	}
	return &fields, nil
}

// APIError represents an error response from the Anthropic API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("extractor: API error %d: %s", e.StatusCode, e.Message)
}

func (c *Client) apiError(status int, body []byte) error {
	var apiResp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &apiResp) == nil && apiResp.Error.Message != "" {
		return &APIError{StatusCode: status, Message: apiResp.Error.Message}
	}
	return &APIError{StatusCode: status, Message: string(body)}
}
