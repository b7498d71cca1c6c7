package parse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUnavailable marks network/transport failures talking to the document
// store. Callers decide whether to degrade to defaults or surface the error.
var ErrUnavailable = errors.New("document store unavailable")

// Error is an API-level error returned by the document store.
type Error struct {
	Status  int
	Code    int    `json:"code"`
	Message string `json:"error"`
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("document store error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("document store error %d", e.Status)
}

// Client talks to a Parse-compatible REST backend. Every entity kind lives in
// its own class under /classes/<Class>; records carry an opaque objectId and
// a createdAt timestamp.
type Client struct {
	baseURL    string
	appID      string
	restKey    string
	httpClient *http.Client
}

// New constructs a client for the given server URL and key pair.
func New(baseURL, appID, restKey string) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("document store base URL required")
	}
	if strings.TrimSpace(appID) == "" || strings.TrimSpace(restKey) == "" {
		return nil, errors.New("document store app id and rest key required")
	}
	return &Client{
		baseURL:    baseURL,
		appID:      appID,
		restKey:    restKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// Query narrows a List call. Where entries are equality filters.
type Query struct {
	Where map[string]any
	// Order is a field name, prefixed with "-" for descending.
	Order string
	Limit int
}

type listResponse struct {
	Results []json.RawMessage `json:"results"`
}

// List returns raw records of a class matching the query.
func (c *Client) List(ctx context.Context, class string, q Query) ([]json.RawMessage, error) {
	endpoint := c.classURL(class)
	params := url.Values{}
	if len(q.Where) > 0 {
		where, err := json.Marshal(q.Where)
		if err != nil {
			return nil, fmt.Errorf("encode where clause: %w", err)
		}
		params.Set("where", string(where))
	}
	if q.Order != "" {
		params.Set("order", q.Order)
	}
	if q.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", q.Limit))
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp listResponse
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Get fetches one record by its opaque id.
func (c *Client) Get(ctx context.Context, class, id string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, c.classURL(class)+"/"+url.PathEscape(id), nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

type createResponse struct {
	ObjectID string `json:"objectId"`
}

// Create stores a new record and returns the assigned objectId.
func (c *Client) Create(ctx context.Context, class string, doc any) (string, error) {
	var resp createResponse
	if err := c.do(ctx, http.MethodPost, c.classURL(class), doc, &resp); err != nil {
		return "", err
	}
	if resp.ObjectID == "" {
		return "", fmt.Errorf("document store returned no objectId for %s create", class)
	}
	return resp.ObjectID, nil
}

// Update applies a partial update to a record.
func (c *Client) Update(ctx context.Context, class, id string, fields any) error {
	return c.do(ctx, http.MethodPut, c.classURL(class)+"/"+url.PathEscape(id), fields, nil)
}

// Increment builds an atomic counter increment for Update field maps.
func Increment(amount int) map[string]any {
	return map[string]any{"__op": "Increment", "amount": amount}
}

func (c *Client) classURL(class string) string {
	return c.baseURL + "/classes/" + url.PathEscape(class)
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload, out any) error {
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Parse-Application-Id", c.appID)
	req.Header.Set("X-Parse-REST-API-Key", c.restKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		apiErr := &Error{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}
