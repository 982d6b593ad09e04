// Package api is a typed client for the expense tracker REST backend.
//
// Every call takes the bearer token explicitly; the client itself holds no
// credential. A 401 answer is reported as ErrUnauthorized. Anything else that
// is not a 2xx is a *RemoteError; a 403 one also matches ErrForbidden.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"expenses/internal/core"
	"expenses/internal/log"
)

const (
	pathCreateToken = "/api/auth/jwt/create/"
	pathMe          = "/api/auth/users/me/"
	pathUsers       = "/api/auth/users/"
	pathExpenses    = "/api/expenses/"
	pathSummary     = "/api/expenses/summary/"

	defaultTimeout = 15 * time.Second
	maxBodySize    = 4 << 20
)

// User is an account as seen by the backend.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	IsStaff  bool   `json:"is_staff"`
}

// Registration is the payload of a sign-up request.
type Registration struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	RePassword string `json:"re_password"`
}

type Client struct {
	baseURL *url.URL
	http    *http.Client
	timeout time.Duration
	logger  *log.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its transport is still
// wrapped for request ids and logging.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New builds a client for the backend rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https: %q", baseURL)
	}

	c := &Client{
		baseURL: u,
		http:    &http.Client{Transport: newPooledTransport(), Timeout: defaultTimeout},
		logger:  log.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent(log.ComponentAPI)

	next := c.http.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	hc := *c.http
	hc.Transport = &loggingTransport{next: next, logger: c.logger}
	if c.timeout > 0 {
		hc.Timeout = c.timeout
	}
	c.http = &hc

	return c, nil
}

// BaseURL returns the backend root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL.String() }

// CreateToken exchanges credentials for an access token.
func (c *Client) CreateToken(ctx context.Context, username, password string) (string, error) {
	body := map[string]string{"username": username, "password": password}
	var out struct {
		Access string `json:"access"`
	}
	if err := c.do(ctx, http.MethodPost, pathCreateToken, nil, "", body, &out); err != nil {
		return "", err
	}
	if out.Access == "" {
		return "", &RemoteError{StatusCode: http.StatusOK, Err: errors.New("response carries no access token")}
	}
	return out.Access, nil
}

// Me returns the identity the token belongs to.
func (c *Client) Me(ctx context.Context, token string) (User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, pathMe, nil, token, nil, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

// Register creates an account. It does not authenticate.
func (c *Client) Register(ctx context.Context, r Registration) error {
	return c.do(ctx, http.MethodPost, pathUsers, nil, "", r, nil)
}

// ListUsers returns the user directory. Only staff tokens are allowed.
func (c *Client) ListUsers(ctx context.Context, token string) ([]User, error) {
	var users []User
	if err := c.do(ctx, http.MethodGet, pathUsers, nil, token, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// ListExpenses returns the expenses matching params.
func (c *Client) ListExpenses(ctx context.Context, token string, params url.Values) ([]core.Expense, error) {
	var out []core.Expense
	if err := c.do(ctx, http.MethodGet, pathExpenses, params, token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Summary returns per-category totals for params. The backend ignores any
// category filter on this endpoint.
func (c *Client) Summary(ctx context.Context, token string, params url.Values) ([]core.CategoryTotal, error) {
	var out []core.CategoryTotal
	if err := c.do(ctx, http.MethodGet, pathSummary, params, token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetExpense(ctx context.Context, token string, id int64) (core.Expense, error) {
	var e core.Expense
	if err := c.do(ctx, http.MethodGet, expensePath(id), nil, token, nil, &e); err != nil {
		return core.Expense{}, err
	}
	return e, nil
}

func (c *Client) CreateExpense(ctx context.Context, token string, in core.ExpenseInput) (core.Expense, error) {
	var e core.Expense
	if err := c.do(ctx, http.MethodPost, pathExpenses, nil, token, in, &e); err != nil {
		return core.Expense{}, err
	}
	return e, nil
}

func (c *Client) UpdateExpense(ctx context.Context, token string, id int64, in core.ExpenseInput) (core.Expense, error) {
	var e core.Expense
	if err := c.do(ctx, http.MethodPut, expensePath(id), nil, token, in, &e); err != nil {
		return core.Expense{}, err
	}
	return e, nil
}

func (c *Client) DeleteExpense(ctx context.Context, token string, id int64) error {
	return c.do(ctx, http.MethodDelete, expensePath(id), nil, token, nil, nil)
}

func expensePath(id int64) string {
	return pathExpenses + strconv.FormatInt(id, 10) + "/"
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, token string, in, out any) error {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &RemoteError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return &RemoteError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	case resp.StatusCode == http.StatusForbidden:
		return &RemoteError{StatusCode: resp.StatusCode, Body: excerpt(data), Err: ErrForbidden}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &RemoteError{StatusCode: resp.StatusCode, Body: excerpt(data)}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &RemoteError{StatusCode: resp.StatusCode, Body: excerpt(data), Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
