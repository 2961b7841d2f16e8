// Package gemini is a small REST client for the Gemini generateContent API.
// It sends one prompt plus one inline file and returns the model's JSON
// answer unparsed.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNoAPIKey is returned without any network I/O when the client has no key.
var ErrNoAPIKey = errors.New("gemini: api key not configured")

// ErrEmptyResponse means the model answered without any text part.
var ErrEmptyResponse = errors.New("gemini: empty response")

const DefaultBaseURL = "https://generativelanguage.googleapis.com"

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gemini: %d %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("gemini: %d", e.StatusCode)
}

// Temporary reports whether a retry may succeed (rate limited or server side).
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsTemporary classifies err for retry decisions: deadline expiry, network
// timeouts and temporary API errors are transient; everything else is not.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generationConfig struct {
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
	Temperature      float64 `json:"temperature"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Request is one analysis call: a text prompt and an optional file.
type Request struct {
	Prompt   string
	MimeType string
	Data     []byte
}

type Client struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client
}

type Option func(*Client)

// WithHTTPClient overrides the transport, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(apiKey, model, baseURL string, opts ...Option) *Client {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Configured is false when no API key is set.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

func (c *Client) Model() string { return c.model }

// Analyze sends req and returns the JSON document the model produced.
func (c *Client) Analyze(ctx context.Context, req Request) (json.RawMessage, error) {
	if !c.Configured() {
		return nil, ErrNoAPIKey
	}

	parts := []part{{Text: req.Prompt}}
	if len(req.Data) > 0 {
		parts = append(parts, part{InlineData: &inlineData{
			MimeType: req.MimeType,
			Data:     base64.StdEncoding.EncodeToString(req.Data),
		}})
	}
	body, err := json.Marshal(generateRequest{
		Contents:         []content{{Role: "user", Parts: parts}},
		GenerationConfig: &generationConfig{ResponseMimeType: "application/json", Temperature: 0.2},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		c.baseURL, url.PathEscape(c.model), url.QueryEscape(c.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("gemini: %w", ctxErr)
		}
		// url.Error carries the key in its URL; keep only the cause.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("gemini: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("gemini: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Status: resp.Status}
		var er errorResponse
		if json.Unmarshal(raw, &er) == nil {
			apiErr.Message = er.Error.Message
		}
		return nil, apiErr
	}

	var gr generateResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return nil, fmt.Errorf("gemini: decode response: %w", err)
	}
	if gr.PromptFeedback != nil && gr.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("gemini: prompt blocked: %s", gr.PromptFeedback.BlockReason)
	}
	if len(gr.Candidates) == 0 {
		return nil, ErrEmptyResponse
	}

	var sb strings.Builder
	for _, p := range gr.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	text := stripFences(sb.String())
	if text == "" {
		return nil, ErrEmptyResponse
	}
	if !json.Valid([]byte(text)) {
		return nil, fmt.Errorf("gemini: model returned invalid JSON (finish reason %q)", gr.Candidates[0].FinishReason)
	}
	return json.RawMessage(text), nil
}

// stripFences removes a ```json ... ``` wrapper some model versions add even
// when JSON output is requested.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
