package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/beacon/pkg/api"
	"github.com/cuemby/beacon/pkg/types"
)

// DefaultTimeout bounds every request
const DefaultTimeout = 10 * time.Second

// Options configures a Client
type Options struct {
	// Token is the admin session token sent as a bearer credential
	Token string
	// CAFile verifies a server using a private CA or self-signed certificate
	CAFile  string
	Timeout time.Duration
}

// Client wraps the Beacon HTTP API for CLI usage
type Client struct {
	base    *url.URL
	token   string
	timeout time.Duration
	http    *http.Client
}

// APIError is a non-2xx response
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the status onto the shared error taxonomy so callers can
// use errors.Is
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return types.ErrAuthenticationFailed
	case http.StatusNotFound:
		return types.ErrNotFound
	case http.StatusBadRequest:
		return types.ErrMalformedInput
	default:
		return nil
	}
}

// NewClient creates a client for the server at addr, e.g.
// "https://beacon.example.com" or "localhost:8080"
func NewClient(addr string, opts Options) (*Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("server address is required")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	base, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid server address: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.CAFile != "" {
		pem, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", opts.CAFile)
		}
		transport.TLSClientConfig = &tls.Config{
			RootCAs:    pool,
			MinVersion: tls.VersionTLS12,
		}
	}

	return &Client{
		base:    base,
		token:   opts.Token,
		timeout: timeout,
		http:    &http.Client{Transport: transport},
	}, nil
}

// SetToken replaces the admin session token
func (c *Client) SetToken(token string) {
	c.token = token
}

// Login exchanges admin credentials for a session token and keeps it for
// subsequent calls
func (c *Client) Login(username, password string) (*api.LoginResponse, error) {
	var resp api.LoginResponse
	req := api.LoginRequest{Username: username, Password: password}
	if err := c.do(http.MethodPost, "/admin/login", req, &resp, nil); err != nil {
		return nil, err
	}
	c.token = resp.Token
	return &resp, nil
}

// Logout revokes the current session token
func (c *Client) Logout() error {
	return c.do(http.MethodPost, "/admin/logout", nil, nil, nil)
}

// Stats returns the fleet-wide ingestion counters
func (c *Client) Stats() (*types.Stats, error) {
	var stats types.Stats
	if err := c.do(http.MethodGet, "/admin/trackerstat", nil, &stats, nil); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Trackers returns the last report of every known tracker
func (c *Client) Trackers() ([]api.TrackerView, error) {
	var views []api.TrackerView
	if err := c.do(http.MethodGet, "/admin/trackerdata", nil, &views, nil); err != nil {
		return nil, err
	}
	return views, nil
}

// ListKeys lists all event API keys in issuance order
func (c *Client) ListKeys() ([]*types.EventAPIKey, error) {
	var keys []*types.EventAPIKey
	if err := c.do(http.MethodGet, "/admin/apikeys", nil, &keys, nil); err != nil {
		return nil, err
	}
	return keys, nil
}

// IssueKey issues a new key for event, invalidating the previous one
func (c *Client) IssueKey(event string) (*types.EventAPIKey, error) {
	var key types.EventAPIKey
	if err := c.do(http.MethodPost, "/admin/apikeys", api.IssueKeyRequest{Event: event}, &key, nil); err != nil {
		return nil, err
	}
	return &key, nil
}

// InvalidateKey invalidates a key by ID
func (c *Client) InvalidateKey(id string) error {
	return c.do(http.MethodPut, "/admin/apikeys/"+url.PathEscape(id)+"/invalidate", nil, nil, nil)
}

// ListDevices returns the tracker -> event mapping
func (c *Client) ListDevices() (types.Assignments, error) {
	var devices types.Assignments
	if err := c.do(http.MethodGet, "/admin/devices", nil, &devices, nil); err != nil {
		return nil, err
	}
	return devices, nil
}

// AssignDevice assigns one tracker to an event
func (c *Client) AssignDevice(trackerID, event string) error {
	return c.do(http.MethodPut, "/admin/devices/"+url.PathEscape(trackerID), api.AssignRequest{Event: event}, nil, nil)
}

// BulkAssign merges mapping into the assignments and returns the result
func (c *Client) BulkAssign(mapping types.Assignments) (types.Assignments, error) {
	var resp api.BulkAssignResponse
	if err := c.do(http.MethodPost, "/admin/devices/bulk", mapping, &resp, nil); err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

// EventData reads an event's tracker data with an event API key
func (c *Client) EventData(event, apiKey string) ([]api.TrackerView, error) {
	header := http.Header{}
	header.Set(api.APIKeyHeader, apiKey)

	var views []api.TrackerView
	if err := c.do(http.MethodGet, "/data/"+url.PathEscape(event), nil, &views, header); err != nil {
		return nil, err
	}
	return views, nil
}

// Ingest posts a raw signed report and returns the verdict
func (c *Client) Ingest(raw []byte) (string, error) {
	var resp api.IngestResponse
	err := c.do(http.MethodPost, "/ingest", json.RawMessage(raw), &resp, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && resp.Verdict != "" {
		return resp.Verdict, nil
	}
	if err != nil {
		return "", err
	}
	return resp.Verdict, nil
}

func (c *Client) do(method, path string, in, out interface{}, header http.Header) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		// Ingest verdicts come back in the body of 4xx responses
		if out != nil {
			_ = json.Unmarshal(raw, out)
		}
		var apiErr api.ErrorResponse
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// TokenPath is where the CLI keeps the admin session token
func TokenPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".beacon", "token"), nil
}

// SaveToken writes the session token with owner-only permissions
func SaveToken(path, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write token: %w", err)
	}
	return nil
}

// LoadToken reads a saved session token
func LoadToken(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("not logged in, run 'beacon login' first")
		}
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// RemoveToken deletes a saved session token
func RemoveToken(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove token: %w", err)
	}
	return nil
}
