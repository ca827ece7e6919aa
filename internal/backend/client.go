// Package backend is the typed HTTP client for the push endpoints.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"handyhub_push/internal/httputil"
	"handyhub_push/internal/model"
)

// Client talks to the backend push endpoints.
// Transport failures and 408/429/5xx responses unwrap to model.ErrNetwork;
// other non-2xx responses unwrap to model.ErrServerRejected.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
	logger      *zap.Logger
}

// NewClient creates a backend client. A nil httpClient gets a 10s timeout client.
func NewClient(httpClient *http.Client, baseURL, accessToken string, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		httpClient:  httpClient,
		baseURL:     strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		accessToken: strings.TrimSpace(accessToken),
		logger:      logger.Named("backend_client"),
	}
}

// RegisterToken calls POST /push-tokens.
func (c *Client) RegisterToken(ctx context.Context, req model.RegisterTokenRequest) (*model.RegisterTokenResponse, error) {
	var out model.RegisterTokenResponse
	if err := c.do(ctx, http.MethodPost, "/push-tokens", req, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return &out, fmt.Errorf("register token: %w: %s", model.ErrServerRejected, out.Message)
	}
	return &out, nil
}

// UnregisterToken calls DELETE /push-tokens.
func (c *Client) UnregisterToken(ctx context.Context, token string) error {
	var out model.RegisterTokenResponse
	if err := c.do(ctx, http.MethodDelete, "/push-tokens", model.UnregisterTokenRequest{Token: token}, &out); err != nil {
		return err
	}
	if !out.Success {
		return fmt.Errorf("unregister token: %w: %s", model.ErrServerRejected, out.Message)
	}
	return nil
}

// ListNotifications calls GET /notifications?limit=N.
func (c *Client) ListNotifications(ctx context.Context, limit int) ([]model.NotificationRecord, error) {
	path := "/notifications"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []model.NotificationRecord
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkRead calls POST /notifications/{id}/read.
func (c *Client) MarkRead(ctx context.Context, id int64) error {
	var out model.MarkReadResponse
	if err := c.do(ctx, http.MethodPost, "/notifications/"+strconv.FormatInt(id, 10)+"/read", nil, &out); err != nil {
		return err
	}
	if !out.Success {
		return fmt.Errorf("mark read %d: %w", id, model.ErrServerRejected)
	}
	return nil
}

// MarkAllRead calls POST /notifications/read-all.
func (c *Client) MarkAllRead(ctx context.Context) error {
	var out model.MarkReadResponse
	if err := c.do(ctx, http.MethodPost, "/notifications/read-all", nil, &out); err != nil {
		return err
	}
	if !out.Success {
		return fmt.Errorf("mark all read: %w", model.ErrServerRejected)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("Request FAILED",
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("duration", time.Since(startTime)),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %s %s: %v", model.ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Request done",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(startTime)),
	)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
		return nil
	}

	var eb httputil.ErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&eb)
	return &model.APIError{
		Status:  resp.StatusCode,
		Code:    eb.Error.Code,
		Message: eb.Error.Message,
	}
}
