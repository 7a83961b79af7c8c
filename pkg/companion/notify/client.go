// Package notify talks to the backend ops API: end-of-call notifications,
// transcript indexing, memory search, and call resolution.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultCallTimeout = 5 * time.Second
	searchTimeout      = 3 * time.Second
)

// ErrNotFound is returned when the backend has no record for the query.
var ErrNotFound = fmt.Errorf("not found")

// Client is a bearer-token JSON client for the ops API.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// NewClient creates a Client with the default per-call timeout.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: defaultCallTimeout},
	}
}

// CallEnded notifies the backend that a call finished so analysis can run.
func (c *Client) CallEnded(ctx context.Context, callID string) error {
	path := fmt.Sprintf("/v1/calls/%s/analyze", url.PathEscape(callID))
	return c.post(ctx, path, nil, nil)
}

// IndexTranscript asks the backend to index the call transcript for
// retrieval.
func (c *Client) IndexTranscript(ctx context.Context, callID, wardID string) error {
	body := map[string]string{"callId": callID, "wardId": wardID}
	return c.post(ctx, "/v1/rag/index", body, nil)
}

// SearchMemory retrieves past-conversation context for a ward. An empty
// string means no relevant memory.
func (c *Client) SearchMemory(ctx context.Context, wardID, query string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	body := map[string]any{"wardId": wardID, "query": query, "topK": 5}
	var resp struct {
		Context string `json:"context"`
	}
	if err := c.post(ctx, "/v1/rag/search", body, &resp); err != nil {
		return "", err
	}
	return resp.Context, nil
}

// ResolvedCall is the backend's record for a room.
type ResolvedCall struct {
	WardID    string `json:"wardId"`
	CallID    string `json:"callId"`
	Direction string `json:"direction"`
}

// ResolveCall looks up the call a room name belongs to. Returns ErrNotFound
// when the backend does not know the room.
func (c *Client) ResolveCall(ctx context.Context, roomName string) (ResolvedCall, error) {
	path := fmt.Sprintf("/v1/calls/by-room/%s", url.PathEscape(roomName))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return ResolvedCall{}, err
	}
	c.setHeaders(req)

	res, err := c.httpClient().Do(req)
	if err != nil {
		return ResolvedCall{}, fmt.Errorf("GET %s: %w", path, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return ResolvedCall{}, ErrNotFound
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return ResolvedCall{}, fmt.Errorf("GET %s: unexpected status %d", path, res.StatusCode)
	}

	var resolved ResolvedCall
	if err := json.NewDecoder(res.Body).Decode(&resolved); err != nil {
		return ResolvedCall{}, fmt.Errorf("decode call resolution: %w", err)
	}
	return resolved, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	var reader *bytes.Buffer
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewBuffer(encoded)
	} else {
		reader = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	res, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("POST %s: unexpected status %d", path, res.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response for %s: %w", path, err)
		}
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP == nil {
		c.HTTP = &http.Client{Timeout: defaultCallTimeout}
	}
	return c.HTTP
}
