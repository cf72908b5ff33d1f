// Package client is a thin HTTP client for the fulcrum api, covering
// calls, operation queries and lock management.
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

	"github.com/fulcrumhq/fulcrum/pkg/lock"
	"github.com/fulcrumhq/fulcrum/pkg/operation"
)

type Client struct {
	server   string
	username string
	password string
	http     *http.Client
}

type Option func(*Client)

// WithBasicAuth sets credentials sent with every request.
func WithBasicAuth(username string, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithHTTPClient overrides the underlying http client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

func New(server string, opts ...Option) *Client {
	c := &Client{
		server: server,
		http:   http.DefaultClient,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Error is a typed failure returned by the server. Code is the server's
// status code, a superset of the HTTP status.
type Error struct {
	HTTPStatus int    `json:"-"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("request failed with status %d", e.HTTPStatus)
}

type CallRequest struct {
	Function  string            `json:"function"`
	Version   string            `json:"version,omitempty"`
	Arguments json.RawMessage   `json:"arguments,omitempty"`
	Options   map[string]string `json:"options,omitempty"`
}

type CallResult struct {
	Status      int               `json:"status"`
	Headers     map[string]string `json:"headers,omitempty"`
	Data        json.RawMessage   `json:"data,omitempty"`
	OperationId string            `json:"operationId,omitempty"`
}

func (c *Client) Call(ctx context.Context, req *CallRequest) (*CallResult, error) {
	result := &CallResult{}
	if err := c.do(ctx, "POST", "/call", req, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) StatusOperation(ctx context.Context, id string) (*operation.Operation, error) {
	op := &operation.Operation{}
	if err := c.do(ctx, "GET", "/operations/"+url.PathEscape(id), nil, op); err != nil {
		return nil, err
	}
	return op, nil
}

type ListOperationsParams struct {
	States   []string
	Function string
	Limit    int
	Cursor   string
}

type OperationsPage struct {
	Cursor     string                 `json:"cursor"`
	Operations []*operation.Operation `json:"operations"`
}

func (c *Client) ListOperations(ctx context.Context, params *ListOperationsParams) (*OperationsPage, error) {
	query := url.Values{}
	if params != nil {
		for _, state := range params.States {
			query.Add("states", state)
		}
		if params.Function != "" {
			query.Set("function", params.Function)
		}
		if params.Limit > 0 {
			query.Set("limit", strconv.Itoa(params.Limit))
		}
		if params.Cursor != "" {
			query.Set("cursor", params.Cursor)
		}
	}

	target := "/operations"
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	page := &OperationsPage{}
	if err := c.do(ctx, "GET", target, nil, page); err != nil {
		return nil, err
	}
	return page, nil
}

func (c *Client) CancelOperation(ctx context.Context, id string) (*operation.Operation, error) {
	op := &operation.Operation{}
	if err := c.do(ctx, "POST", "/operations/"+url.PathEscape(id)+"/cancel", nil, op); err != nil {
		return nil, err
	}
	return op, nil
}

func (c *Client) StatusLock(ctx context.Context, key string) (*lock.Status, error) {
	status := &lock.Status{}
	if err := c.do(ctx, "GET", "/locks/"+url.PathEscape(key), nil, status); err != nil {
		return nil, err
	}
	return status, nil
}

func (c *Client) ReleaseLock(ctx context.Context, key string, owner string) (bool, error) {
	return c.release(ctx, "/locks/"+url.PathEscape(key)+"?owner="+url.QueryEscape(owner))
}

func (c *Client) ForceReleaseLock(ctx context.Context, key string) (bool, error) {
	return c.release(ctx, "/locks/"+url.PathEscape(key)+"/force")
}

func (c *Client) release(ctx context.Context, target string) (bool, error) {
	var result struct {
		Released bool `json:"released"`
	}
	if err := c.do(ctx, "DELETE", target, nil, &result); err != nil {
		return false, err
	}
	return result.Released, nil
}

func (c *Client) do(ctx context.Context, method string, target string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.server+target, reader)
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}

	if res.StatusCode >= 400 {
		return decodeError(res.StatusCode, data)
	}

	if out != nil && len(data) > 0 {
		return json.Unmarshal(data, out)
	}

	return nil
}

func decodeError(status int, data []byte) error {
	var envelope struct {
		Error *Error `json:"error"`
	}

	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error != nil {
		envelope.Error.HTTPStatus = status
		return envelope.Error
	}

	return &Error{HTTPStatus: status, Message: string(data)}
}
