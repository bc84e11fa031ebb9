package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apihandlers "github.com/cyberguard/cyberguard/internal/api/handlers"
	"github.com/cyberguard/cyberguard/internal/api/middleware"
	"github.com/cyberguard/cyberguard/internal/models"
)

const clientTimeout = 30 * time.Second

// APIClient talks to a running cyberguard server with a session token.
type APIClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	userAgent  string
}

// APIError represents an API error response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("API error (status %d, request %s): %s", e.StatusCode, e.RequestID, e.Message)
	}
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// NewAPIClient creates a client for the server at baseURL, for example
// http://127.0.0.1:5000.
func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: clientTimeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		userAgent: "cyberguard-cli/" + version,
	}
}

// Login opens a session and keeps its token for later calls.
func (c *APIClient) Login(ctx context.Context, username, email, password string) (apihandlers.LoginResponse, error) {
	var resp apihandlers.LoginResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/login", apihandlers.LoginRequest{
		Username: username,
		Email:    email,
		Password: password,
	}, &resp)
	if err != nil {
		return resp, err
	}
	c.token = resp.Token
	return resp, nil
}

// CreateScan starts a scan of target.
func (c *APIClient) CreateScan(ctx context.Context, target string) (models.ScanResult, error) {
	var resp apihandlers.ScanResponse
	err := c.do(ctx, http.MethodPost, "/api/scan", apihandlers.ScanRequest{Target: target}, &resp)
	return resp.Scan, err
}

// GetScan fetches one scan.
func (c *APIClient) GetScan(ctx context.Context, id string) (models.ScanResult, error) {
	var resp apihandlers.ScanResponse
	err := c.do(ctx, http.MethodGet, "/api/scan/"+id, nil, &resp)
	return resp.Scan, err
}

// do performs the request and decodes a 2xx body into out.
func (c *APIClient) do(ctx context.Context, method, endpoint string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode, RequestID: resp.Header.Get(middleware.RequestIDHeader)}
		var errResp middleware.ErrorResponse
		if json.Unmarshal(data, &errResp) == nil && errResp.Message != "" {
			apiErr.Code = errResp.Code
			apiErr.Message = errResp.Message
			if errResp.RequestID != "" {
				apiErr.RequestID = errResp.RequestID
			}
		} else {
			apiErr.Message = fmt.Sprintf("HTTP %d error", resp.StatusCode)
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
