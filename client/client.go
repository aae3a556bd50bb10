// Package client is the Go counterpart of the browser client: a thin REST
// client plus explicit view-state objects for the dashboard and the
// transaction explorer. The state objects are injectable and carry a
// defined lifecycle (initialized on login, Reset on logout) instead of
// living as ambient singletons.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"spendwise/models"
	"spendwise/pkg/txquery"
)

// Client talks to the spendwise API. Zero value is not usable; call New.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	token      string
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SetToken installs the bearer token used on subsequent requests.
func (c *Client) SetToken(token string) { c.token = token }

// APIError carries the server's status code and message body.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.StatusCode, e.Message)
}

// Session is the auth payload returned by register/login.
type Session struct {
	ID           uint   `json:"_id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// ListParams mirrors the optional query parameters of the list endpoint.
// Empty/zero fields are omitted from the request.
type ListParams struct {
	Page      int
	Limit     int
	Search    string
	Category  string
	DateFrom  string
	DateTo    string
	AmountMin string
	AmountMax string
	SortBy    string
	SortOrder string
}

func (p ListParams) values() url.Values {
	v := url.Values{}
	if p.Page > 0 {
		v.Set("page", strconv.Itoa(p.Page))
	}
	if p.Limit > 0 {
		v.Set("limit", strconv.Itoa(p.Limit))
	}
	set := func(key, val string) {
		if val != "" {
			v.Set(key, val)
		}
	}
	set("search", p.Search)
	set("category", p.Category)
	set("dateFrom", p.DateFrom)
	set("dateTo", p.DateTo)
	set("amountMin", p.AmountMin)
	set("amountMax", p.AmountMax)
	set("sortBy", p.SortBy)
	set("sortOrder", p.SortOrder)
	return v
}

// ListResult is one page of transactions plus pagination metadata.
type ListResult struct {
	Transactions []models.Transaction `json:"transactions"`
	Pagination   txquery.Pagination   `json:"pagination"`
}

// TransactionInput is a create/update payload. Nil fields are omitted,
// which for updates means "leave unchanged".
type TransactionInput struct {
	Title    *string  `json:"title,omitempty"`
	Amount   *float64 `json:"amount,omitempty"`
	Category *string  `json:"category,omitempty"`
	Date     *string  `json:"date,omitempty"`
	Notes    *string  `json:"notes,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var e struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &APIError{StatusCode: resp.StatusCode, Message: e.Message}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) Register(ctx context.Context, name, email, password string) (Session, error) {
	var s Session
	err := c.do(ctx, http.MethodPost, "/api/auth/register", nil,
		map[string]string{"name": name, "email": email, "password": password}, &s)
	if err == nil {
		c.token = s.Token
	}
	return s, err
}

func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	var s Session
	err := c.do(ctx, http.MethodPost, "/api/auth/login", nil,
		map[string]string{"email": email, "password": password}, &s)
	if err == nil {
		c.token = s.Token
	}
	return s, err
}

// Logout revokes the refresh token and clears the access token.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil,
		map[string]string{"refreshToken": refreshToken}, nil)
	c.token = ""
	return err
}

func (c *Client) ListTransactions(ctx context.Context, p ListParams) (ListResult, error) {
	var out ListResult
	err := c.do(ctx, http.MethodGet, "/api/transactions", p.values(), nil, &out)
	return out, err
}

func (c *Client) GetTransaction(ctx context.Context, id uint) (models.Transaction, error) {
	var out models.Transaction
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/transactions/%d", id), nil, nil, &out)
	return out, err
}

func (c *Client) CreateTransaction(ctx context.Context, in TransactionInput) (models.Transaction, error) {
	var out models.Transaction
	err := c.do(ctx, http.MethodPost, "/api/transactions", nil, in, &out)
	return out, err
}

func (c *Client) UpdateTransaction(ctx context.Context, id uint, in TransactionInput) (models.Transaction, error) {
	var out models.Transaction
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/transactions/%d", id), nil, in, &out)
	return out, err
}

func (c *Client) DeleteTransaction(ctx context.Context, id uint) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/transactions/%d", id), nil, nil, nil)
}

func (c *Client) Dashboard(ctx context.Context) (txquery.DashboardStats, error) {
	var out txquery.DashboardStats
	err := c.do(ctx, http.MethodGet, "/api/transactions/dashboard", nil, nil, &out)
	return out, err
}

func (c *Client) Categories(ctx context.Context) ([]string, error) {
	out := []string{}
	err := c.do(ctx, http.MethodGet, "/api/transactions/categories", nil, nil, &out)
	return out, err
}
