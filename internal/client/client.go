// Package client talks to the ipauth HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a thin wrapper over the login endpoint and the admin API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// New creates a client for baseURL. token may be empty for Login.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Account as returned by the admin API.
type Account struct {
	ID          string    `json:"id"`
	Login       string    `json:"login"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
	AllowedIPs  string    `json:"list_ip,omitempty"`
}

// LoginResult is the body of a successful login.
type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Account   Account   `json:"account"`
}

// NewAccount is the body of an account creation request.
type NewAccount struct {
	Login       string `json:"login"`
	Password    string `json:"password"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role,omitempty"`
	AllowedIPs  string `json:"list_ip,omitempty"`
}

// Entry is one reason carried by an error response.
type Entry struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int                    `json:"-"`
	Code       string                 `json:"error"`
	Message    string                 `json:"message,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Errors     []Entry                `json:"errors,omitempty"`
}

func (e *APIError) Error() string {
	if len(e.Errors) > 0 {
		parts := make([]string, 0, len(e.Errors))
		for _, entry := range e.Errors {
			parts = append(parts, entry.Code)
		}
		return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Code, strings.Join(parts, ", "))
	}
	if e.Message != "" {
		return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%d %s", e.StatusCode, e.Code)
}

// do sends body as JSON and decodes the response into out when non-nil.
func (c *Client) do(ctx context.Context, method, endpoint string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = http.StatusText(resp.StatusCode)
			apiErr.Message = strings.TrimSpace(string(data))
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

func accountPath(id string) string {
	return "/api/v1/admin/accounts/" + id
}

// Login authenticates and returns the session token.
func (c *Client) Login(ctx context.Context, login, password string) (*LoginResult, error) {
	var out LoginResult
	body := map[string]string{"login": login, "password": password}
	if err := c.do(ctx, http.MethodPost, "/login", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListAccounts returns the account table.
func (c *Client) ListAccounts(ctx context.Context) ([]Account, error) {
	var out struct {
		Accounts []Account `json:"accounts"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/admin/accounts", nil, &out); err != nil {
		return nil, err
	}
	return out.Accounts, nil
}

func (c *Client) CreateAccount(ctx context.Context, in NewAccount) (*Account, error) {
	var out Account
	if err := c.do(ctx, http.MethodPost, "/api/v1/admin/accounts", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetAccount(ctx context.Context, id string) (*Account, error) {
	var out Account
	if err := c.do(ctx, http.MethodGet, accountPath(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type allowedIPs struct {
	AllowedIPs string `json:"list_ip"`
}

// GetAllowedIPs returns the stored list, "" when unrestricted.
func (c *Client) GetAllowedIPs(ctx context.Context, id string) (string, error) {
	var out allowedIPs
	if err := c.do(ctx, http.MethodGet, accountPath(id)+"/allowed-ips", nil, &out); err != nil {
		return "", err
	}
	return out.AllowedIPs, nil
}

// SetAllowedIPs replaces the list and returns the value the server stored.
func (c *Client) SetAllowedIPs(ctx context.Context, id, list string) (string, error) {
	var out allowedIPs
	if err := c.do(ctx, http.MethodPut, accountPath(id)+"/allowed-ips", allowedIPs{AllowedIPs: list}, &out); err != nil {
		return "", err
	}
	return out.AllowedIPs, nil
}

func (c *Client) ClearAllowedIPs(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, accountPath(id)+"/allowed-ips", nil, nil)
}
