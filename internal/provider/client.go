// Package provider is a lightweight client for the hosted conversation/file
// service that executes runs. It is pure request/response: no retry policy
// of its own and no polling; the run orchestrator owns those.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/kestrelhq/kestrel/internal/fault"
)

const (
	// DefaultRequestTimeout bounds a single HTTP round trip.
	DefaultRequestTimeout = 60 * time.Second

	// DefaultRequestsPerSecond bounds request rate against the service.
	// This exists purely as backpressure; it is not adaptive.
	DefaultRequestsPerSecond = 10
)

// Client talks to the conversation service. Safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient substitutes the underlying HTTP client (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit overrides the request rate limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// New creates a conversation service client.
func New(baseURL, apiKey string, logger *slog.Logger, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("provider base URL is required")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("provider API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: DefaultRequestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRequestsPerSecond), DefaultRequestsPerSecond),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CreateConversation allocates a new conversation and returns its id.
func (c *Client) CreateConversation(ctx context.Context) (string, error) {
	var resp conversationResponse
	if err := c.do(ctx, http.MethodPost, "/v1/conversations", nil, &resp); err != nil {
		return "", err
	}
	c.logger.Debug("created conversation", "conversation_id", resp.ID)
	return resp.ID, nil
}

// DeleteConversation removes a conversation. Deleting an unknown
// conversation is not an error.
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	err := c.do(ctx, http.MethodDelete, "/v1/conversations/"+conversationID, nil, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

// AppendInput adds a user message to the conversation.
func (c *Client) AppendInput(ctx context.Context, conversationID, text string) error {
	req := messageRequest{
		Role:     "user",
		Segments: []Segment{TextSegment(text)},
	}
	path := fmt.Sprintf("/v1/conversations/%s/messages", conversationID)
	return c.do(ctx, http.MethodPost, path, req, nil)
}

// StartRun begins an asynchronous run on the conversation.
func (c *Client) StartRun(ctx context.Context, conversationID string, opts RunOptions) (*Run, error) {
	var run Run
	path := fmt.Sprintf("/v1/conversations/%s/runs", conversationID)
	if err := c.do(ctx, http.MethodPost, path, opts, &run); err != nil {
		return nil, err
	}
	c.logger.Debug("started run",
		"conversation_id", conversationID,
		"run_id", run.ID,
		"status", run.Status)
	return &run, nil
}

// GetRun fetches current run status. It does not fetch messages.
func (c *Client) GetRun(ctx context.Context, conversationID, runID string) (*Run, error) {
	var run Run
	path := fmt.Sprintf("/v1/conversations/%s/runs/%s", conversationID, runID)
	if err := c.do(ctx, http.MethodGet, path, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListOutput returns the conversation's messages, newest first.
func (c *Client) ListOutput(ctx context.Context, conversationID string) ([]Message, error) {
	var all []Message
	after := ""

	for {
		path := fmt.Sprintf("/v1/conversations/%s/messages?order=desc&limit=100", conversationID)
		if after != "" {
			path += "&after=" + after
		}

		var resp listMessagesResponse
		if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Data...)

		if !resp.HasMore {
			break
		}
		after = resp.LastID
	}

	return all, nil
}

// UploadFile stores bytes in the service's file store and returns the file id.
func (c *Client) UploadFile(ctx context.Context, data []byte, filename string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write multipart body: %w", err)
	}
	if err := mw.WriteField("purpose", "assistants"); err != nil {
		return "", fmt.Errorf("write multipart field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/files", &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fault.Transient("provider.upload_file", "http", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fault.Transient("provider.upload_file", "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", c.statusError("provider.upload_file", resp.StatusCode, respBody)
	}

	var file File
	if err := json.Unmarshal(respBody, &file); err != nil {
		return "", fmt.Errorf("unmarshal file response: %w", err)
	}

	c.logger.Debug("uploaded file", "file_id", file.ID, "filename", filename, "bytes", len(data))
	return file.ID, nil
}

// DownloadFile fetches the raw content of a stored file.
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	url := fmt.Sprintf("%s/v1/files/%s/content", c.baseURL, fileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fault.Transient("provider.download_file", "http", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Transient("provider.download_file", "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.statusError("provider.download_file", resp.StatusCode, body)
	}
	return body, nil
}

// DeleteFile removes a stored file. Deleting an unknown file is not an error.
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	err := c.do(ctx, http.MethodDelete, "/v1/files/"+fileID, nil, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

// do performs one JSON request against the service.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fault.Transient("provider."+method+" "+path, "http", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fault.Transient("provider."+method+" "+path, "read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.statusError("provider."+method+" "+path, resp.StatusCode, respBody)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// statusError maps a non-2xx response to the fault taxonomy.
// 5xx, 408 and 429 are transient; other 4xx are terminal.
func (c *Client) statusError(op string, status int, body []byte) error {
	msg := string(body)
	var ae apiError
	if err := json.Unmarshal(body, &ae); err == nil && ae.Error.Message != "" {
		msg = ae.Error.Message
	}
	cause := fmt.Errorf("status %d: %s", status, msg)

	if status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout {
		return fault.Transient(op, "http", cause)
	}
	e := fault.Terminal(op, "http", cause)
	if status == http.StatusNotFound {
		e.Step = "not_found"
	}
	return e
}

// isNotFound reports whether err is a terminal 404 from statusError.
func isNotFound(err error) bool {
	var e *fault.Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == fault.KindRemoteTerminal && e.Step == "not_found"
}
