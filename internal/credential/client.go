// Package credential is the gateway's HTTP client for the Credential Service.
package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/BradenHooton/campusgate/internal/models"
)

const (
	stepOnePath = "/auth/login-step-one"
	stepTwoPath = "/auth/login-step-two"
	refreshPath = "/auth/refresh"
	logoutPath  = "/auth/logout"

	maxResponseBytes = 1 << 20
)

// Client talks to the Credential Service on behalf of one browser. Its
// cookie jar holds that browser's HTTP-only refresh cookie; use a StoredJar
// when several gateway instances serve the same browser.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client. A nil jar gives the client a private
// in-memory jar.
func NewClient(baseURL string, timeout time.Duration, transport http.RoundTripper, jar http.CookieJar, logger *slog.Logger) (*Client, error) {
	if jar == nil {
		memJar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		jar = memJar
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Jar:       jar,
			Timeout:   timeout,
			Transport: transport,
		},
		logger: logger,
	}, nil
}

type stepTwoRequest struct {
	Identifier string `json:"identifier"`
	Code       string `json:"code"`
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
}

// LoginStepOne verifies the primary credential and triggers code delivery
func (c *Client) LoginStepOne(ctx context.Context, req models.StepOneRequest) error {
	resp, err := c.post(ctx, stepOnePath, req)
	if err != nil {
		return err
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return models.ErrInvalidCredentials
	default:
		return c.unexpected(stepOnePath, resp)
	}
}

// LoginStepTwo verifies the one-time code
func (c *Client) LoginStepTwo(ctx context.Context, identifier, code string) (*models.StepTwoResult, error) {
	resp, err := c.post(ctx, stepTwoPath, stepTwoRequest{Identifier: identifier, Code: code})
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, models.ErrInvalidCode
	case http.StatusGone:
		return nil, models.ErrExpired
	default:
		return nil, c.unexpected(stepTwoPath, resp)
	}

	var result models.StepTwoResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: malformed login response: %v", models.ErrServiceUnavailable, err)
	}
	if result.AccessToken == "" {
		return nil, fmt.Errorf("%w: login response without access token", models.ErrServiceUnavailable)
	}
	return &result, nil
}

// Refresh exchanges the refresh cookie for a new access token. A rejected
// cookie is ErrRefreshFailed; transport errors and 5xx responses are
// ErrServiceUnavailable, since the cookie may still be good.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	resp, err := c.post(ctx, refreshPath, nil)
	if err != nil {
		return "", err
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= http.StatusInternalServerError:
		return "", c.unexpected(refreshPath, resp)
	default:
		return "", fmt.Errorf("%w: status %d", models.ErrRefreshFailed, resp.StatusCode)
	}

	var body refreshResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: malformed refresh response: %v", models.ErrServiceUnavailable, err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", models.ErrRefreshFailed)
	}
	return body.AccessToken, nil
}

// Logout asks the backend to revoke the refresh cookie. Callers only log the error.
func (c *Client) Logout(ctx context.Context) error {
	resp, err := c.post(ctx, logoutPath, nil)
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return c.unexpected(logoutPath, resp)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	var body io.Reader = http.NoBody
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("credential service unreachable",
			slog.String("path", path),
			slog.Any("error", err))
		return nil, fmt.Errorf("%w: %v", models.ErrServiceUnavailable, err)
	}
	return resp, nil
}

func (c *Client) unexpected(path string, resp *http.Response) error {
	c.logger.Warn("unexpected credential service response",
		slog.String("path", path),
		slog.Int("status", resp.StatusCode))
	return fmt.Errorf("%w: status %d", models.ErrServiceUnavailable, resp.StatusCode)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	_ = resp.Body.Close()
}
