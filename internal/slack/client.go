// Package slack implements the chat-platform side of delivery: a signed
// request wrapper over the Slack Web API, channel target resolution, and
// the external file-upload protocol.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"sort"
	"time"
	"unicode/utf8"
)

// DefaultBaseURL is the production Slack Web API root.
const DefaultBaseURL = "https://slack.com/api"

// maxErrorBodyLen bounds how much of a non-JSON response body is carried in
// a Result for diagnostics.
const maxErrorBodyLen = 500

// Result is the normalized outcome of any API call. Transport failures,
// non-JSON responses, and API-level ok:false all collapse into OK=false so
// callers check exactly one field regardless of which layer failed.
type Result struct {
	OK         bool
	Error      string
	HTTPStatus int

	// Body is the truncated raw response text, set when the response was
	// not JSON.
	Body string

	// Payload is the decoded JSON response, set whenever decoding succeeded.
	Payload map[string]any
}

// Str digs a string value out of the payload by key path.
func (r *Result) Str(path ...string) string {
	var cur any = r.Payload
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[key]
	}
	s, _ := cur.(string)
	return s
}

// Client issues bearer-token-authorized calls against the Slack Web API.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client for the production API.
func NewClient(token string, logger *slog.Logger) *Client {
	return NewClientWithBaseURL(token, DefaultBaseURL, logger)
}

// NewClientWithBaseURL creates a Client against a custom API root, used for
// tests and self-hosted gateways.
func NewClientWithBaseURL(token, baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		token:      token,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// PostForm calls an API method with a multipart form body.
func (c *Client) PostForm(ctx context.Context, method string, fields map[string]string) *Result {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	// Deterministic field order keeps request logs and test fixtures stable.
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := w.WriteField(k, fields[k]); err != nil {
			return c.transportFailure(method, fmt.Errorf("failed to encode form field %q: %w", k, err))
		}
	}
	if err := w.Close(); err != nil {
		return c.transportFailure(method, fmt.Errorf("failed to finalize form: %w", err))
	}

	return c.do(ctx, method, w.FormDataContentType(), buf.Bytes())
}

// PostJSON calls an API method with a JSON body.
func (c *Client) PostJSON(ctx context.Context, method string, body any) *Result {
	encoded, err := json.Marshal(body)
	if err != nil {
		return c.transportFailure(method, fmt.Errorf("failed to encode request body: %w", err))
	}
	return c.do(ctx, method, "application/json; charset=utf-8", encoded)
}

// do issues one authorized POST and normalizes the response into a Result.
func (c *Client) do(ctx context.Context, method, contentType string, body []byte) *Result {
	url := c.baseURL + "/" + method

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return c.transportFailure(method, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportFailure(method, err)
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.transportFailure(method, fmt.Errorf("failed to read response: %w", err))
	}

	var payload map[string]any
	if err := json.Unmarshal(text, &payload); err != nil {
		c.logger.Error("chat API returned non-JSON response",
			"method", method,
			"status", resp.StatusCode,
		)
		return &Result{
			OK:         false,
			Error:      "non_json_response",
			HTTPStatus: resp.StatusCode,
			Body:       truncate(string(text), maxErrorBodyLen),
		}
	}

	if ok, _ := payload["ok"].(bool); !ok {
		apiErr, _ := payload["error"].(string)
		c.logger.Error("chat API call failed",
			"method", method,
			"status", resp.StatusCode,
			"error", apiErr,
		)
		return &Result{
			OK:         false,
			Error:      apiErr,
			HTTPStatus: resp.StatusCode,
			Payload:    payload,
		}
	}

	return &Result{OK: true, HTTPStatus: resp.StatusCode, Payload: payload}
}

// transportFailure wraps a pre-response error into the uniform Result shape.
func (c *Client) transportFailure(method string, err error) *Result {
	c.logger.Error("chat API request failed",
		"method", method,
		"error", err,
	)
	return &Result{OK: false, Error: err.Error()}
}

// truncate clamps s to at most n characters without tearing a rune.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
