// Package remote provides the HTTP client for the remote task service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tasknexus/backend/internal/models"
)

// Config holds remote task service connection configuration.
type Config struct {
	BaseURL  string
	APIKey   string
	SourceID string
	Timeout  time.Duration
}

// Client talks to the remote task service's REST API. All failures are
// either a *TransportError (could not reach the service) or an
// *APIError (non-2xx response); callers and the resilience profiles
// classify on those two types.
type Client struct {
	config     *Config
	httpClient *http.Client
}

// NewClient creates a new Client.
func NewClient(config *Config) *Client {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// SourceID returns the identifier this client tags created entities with.
func (c *Client) SourceID() string {
	return c.config.SourceID
}

// CreateListRequest is the payload for creating a remote list, with its
// items attached in one batched call.
type CreateListRequest struct {
	Name     string         `json:"name"`
	SourceID string         `json:"source_id"`
	Items    []*ItemRequest `json:"items,omitempty"`
}

// UpdateListRequest is the payload for updating a remote list's fields.
type UpdateListRequest struct {
	Name string `json:"name"`
}

// ItemRequest is the payload for creating or updating a remote item.
type ItemRequest struct {
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
}

// ListLists fetches all remote lists with their items.
func (c *Client) ListLists(ctx context.Context) ([]*models.RemoteTodoList, error) {
	var lists []*models.RemoteTodoList
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/lists", nil, &lists); err != nil {
		return nil, err
	}
	return lists, nil
}

// ListListsUpdatedSince fetches remote lists updated at or after the
// given Unix timestamp (server-side delta filter).
func (c *Client) ListListsUpdatedSince(ctx context.Context, since int64) ([]*models.RemoteTodoList, error) {
	path := "/api/v1/lists?updated_since=" + strconv.FormatInt(since, 10)
	var lists []*models.RemoteTodoList
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &lists); err != nil {
		return nil, err
	}
	return lists, nil
}

// CreateList creates a remote list with its items in one call. The
// response carries the origin-assigned identities.
func (c *Client) CreateList(ctx context.Context, req *CreateListRequest) (*models.RemoteTodoList, error) {
	var created models.RemoteTodoList
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/lists", req, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateList updates a remote list's own fields.
func (c *Client) UpdateList(ctx context.Context, listID string, req *UpdateListRequest) (*models.RemoteTodoList, error) {
	var updated models.RemoteTodoList
	path := "/api/v1/lists/" + url.PathEscape(listID)
	if err := c.doJSON(ctx, http.MethodPut, path, req, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteList deletes a remote list. A 404 propagates as *APIError; the
// orchestrator treats it as already satisfied.
func (c *Client) DeleteList(ctx context.Context, listID string) error {
	path := "/api/v1/lists/" + url.PathEscape(listID)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// CreateItem creates a single item on an existing remote list.
func (c *Client) CreateItem(ctx context.Context, listID string, req *ItemRequest) (*models.RemoteTodoItem, error) {
	var created models.RemoteTodoItem
	path := "/api/v1/lists/" + url.PathEscape(listID) + "/items"
	if err := c.doJSON(ctx, http.MethodPost, path, req, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateItem updates a remote item.
func (c *Client) UpdateItem(ctx context.Context, listID, itemID string, req *ItemRequest) (*models.RemoteTodoItem, error) {
	var updated models.RemoteTodoItem
	path := "/api/v1/lists/" + url.PathEscape(listID) + "/items/" + url.PathEscape(itemID)
	if err := c.doJSON(ctx, http.MethodPut, path, req, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteItem deletes a remote item.
func (c *Client) DeleteItem(ctx context.Context, listID, itemID string) error {
	path := "/api/v1/lists/" + url.PathEscape(listID) + "/items/" + url.PathEscape(itemID)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// doJSON executes one request and decodes the response into out (when
// out is non-nil). Non-2xx responses become *APIError, everything else
// becomes *TransportError.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(c.config.BaseURL, "/")+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// A 2xx with a body we cannot parse is a contract violation,
		// not a transient failure.
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}
