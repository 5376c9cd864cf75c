package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var (
	// ErrNotFound indicates the named object does not exist on the server.
	ErrNotFound = errors.New("object not found")

	// ErrConflict indicates the server rejected a save because the stored
	// version advanced past the one submitted. Reload and retry.
	ErrConflict = errors.New("version conflict")
)

// Client speaks the save/load wire protocol: GET and POST of JSON envelopes
// carrying a base64 payload and an integer version.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for a server at baseURL (e.g. "http://localhost:8080").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

func (c *Client) objectURL(owner, name string) string {
	return fmt.Sprintf("%s/objects/%s/%s", c.baseURL, url.PathEscape(owner), url.PathEscape(name))
}

type loadResponse struct {
	Payload []byte `json:"payload"`
	Version int64  `json:"version"`
}

type saveRequest struct {
	CurrentVersion int64  `json:"currentVersion"`
	Payload        []byte `json:"payload"`
}

type saveResponse struct {
	Version int64 `json:"version"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Load fetches the payload and current version of an object.
func (c *Client) Load(ctx context.Context, owner, name string) ([]byte, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.objectURL(owner, name), nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("load %s/%s: %w", owner, name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, 0, c.responseError(resp, owner, name)
	}
	var out loadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, 0, fmt.Errorf("load %s/%s: decode response: %w", owner, name, err)
	}
	return out.Payload, out.Version, nil
}

// Create stores a brand new object and returns its initial version.
func (c *Client) Create(ctx context.Context, owner, name string, payload []byte) (int64, error) {
	body, err := json.Marshal(map[string][]byte{"payload": payload})
	if err != nil {
		return 0, err
	}
	return c.send(ctx, http.MethodPut, owner, name, body)
}

// Save submits a new payload together with the version last observed. The
// server accepts iff its persisted version still matches, returning the fresh
// version; a mismatch comes back as ErrConflict.
func (c *Client) Save(ctx context.Context, owner, name string, currentVersion int64, payload []byte) (int64, error) {
	body, err := json.Marshal(saveRequest{CurrentVersion: currentVersion, Payload: payload})
	if err != nil {
		return 0, err
	}
	return c.send(ctx, http.MethodPost, owner, name, body)
}

func (c *Client) send(ctx context.Context, method, owner, name string, body []byte) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.objectURL(owner, name), bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s/%s: %w", method, owner, name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return 0, c.responseError(resp, owner, name)
	}
	var out saveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("%s %s/%s: decode response: %w", method, owner, name, err)
	}
	return out.Version, nil
}

// ObjectInfo is one entry of a listing.
type ObjectInfo struct {
	Payload []byte `json:"payload"`
	Version int64  `json:"version"`
}

// List fetches the owner's objects. Server-side this is a range scan on
// identifier ordering, so the listing can include objects sorting after the
// owner prefix.
func (c *Client) List(ctx context.Context, owner string) ([]ObjectInfo, error) {
	u := fmt.Sprintf("%s/objects/%s", c.baseURL, url.PathEscape(owner))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", owner, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, c.responseError(resp, owner, "")
	}
	var out []ObjectInfo
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("list %s: decode response: %w", owner, err)
	}
	return out, nil
}

// responseError turns a >=400 response into an error, mapping the statuses a
// caller wants to branch on to sentinels.
func (c *Client) responseError(resp *http.Response, owner, name string) error {
	var body errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)
	msg := body.Error
	if msg == "" {
		msg = resp.Status
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s/%s: %s", ErrNotFound, owner, name, msg)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s/%s: %s", ErrConflict, owner, name, msg)
	default:
		return fmt.Errorf("%s/%s: server returned %d: %s", owner, name, resp.StatusCode, msg)
	}
}
