// Package remote calls hosted functions (writing evaluation, speech synthesis)
// with a JSON body and a bearer credential.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/topik-vn/mock-exam-service/internal/config"
)

const (
	FunctionEvaluateWriting = "evaluate-writing"
	FunctionTextToSpeech    = "text-to-speech"

	maxErrorBody = 4 << 10
)

var ErrNotConfigured = errors.New("remote functions are not configured")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Function   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote function %s returned %d: %s", e.Function, e.StatusCode, e.Body)
}

// Retryable reports whether the failure is on the remote side.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(cfg config.RemoteConfig, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Invoke posts body to the named function and decodes a JSON reply into out.
// out may be nil.
func (c *Client) Invoke(ctx context.Context, function string, body interface{}, out interface{}) error {
	resp, err := c.do(ctx, function, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", function, err)
	}
	return nil
}

// InvokeBinary posts body to the named function and returns the raw reply
// with its content type.
func (c *Client) InvokeBinary(ctx context.Context, function string, body interface{}) ([]byte, string, error) {
	resp, err := c.do(ctx, function, body)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s response: %w", function, err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) do(ctx context.Context, function string, body interface{}) (*http.Response, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", function, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+function, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", function, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Remote function call failed", "function", function, "error", err)
		return nil, fmt.Errorf("failed to call %s: %w", function, err)
	}

	c.logger.Debug("Remote function called",
		"function", function,
		"status_code", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Function: function, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	return resp, nil
}
