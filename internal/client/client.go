// Package client talks to the save gateway and keeps the active player's
// record in sync with optimistic local edits.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"farmledger/internal/record"

	"go.uber.org/zap"
)

// StatusError is returned for any non-2xx gateway response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway returned %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Message)
}

// Client is a thin HTTP client for /api/saves. The identity cookies minted by
// the server are kept in the client's cookie jar.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *zap.Logger
}

// New returns a client for the server at baseURL. A nil httpClient gets a
// default client with its own cookie jar.
func New(baseURL string, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if httpClient == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		httpClient = &http.Client{Jar: jar}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{base: u, http: httpClient, logger: logger}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(out, &e)
		c.logger.Debug("gateway error",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	return out, nil
}

// List fetches every record owned by the caller.
func (c *Client) List(ctx context.Context) ([]record.Node, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/saves", nil)
	if err != nil {
		return nil, err
	}
	v, err := record.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("decode players: %w", err)
	}
	seq, ok := v.(record.Sequence)
	if !ok {
		return nil, fmt.Errorf("decode players: expected an array")
	}
	out := make([]record.Node, 0, len(seq))
	for _, item := range seq {
		n, ok := item.(record.Node)
		if !ok {
			return nil, fmt.Errorf("decode players: expected objects")
		}
		out = append(out, n)
	}
	return out, nil
}

// Upload creates or replaces records by their _id.
func (c *Client) Upload(ctx context.Context, players []record.Node) error {
	if players == nil {
		players = []record.Node{}
	}
	_, err := c.do(ctx, http.MethodPost, "/api/saves", players)
	return err
}

// Patch submits a normalized patch for one player and returns the stored record.
func (c *Client) Patch(ctx context.Context, playerID string, patch record.Node) (record.Node, error) {
	body, err := c.do(ctx, http.MethodPatch, "/api/saves/"+url.PathEscape(playerID), patch)
	if err != nil {
		return nil, err
	}
	return record.DecodeNode(body)
}

// DeletePlayer removes one player.
func (c *Client) DeletePlayer(ctx context.Context, playerID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/saves", map[string]string{"type": "player", "_id": playerID})
	return err
}

// DeleteAll removes every player but keeps the account.
func (c *Client) DeleteAll(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/saves", nil)
	return err
}

// DeleteAccount removes every player and the account.
func (c *Client) DeleteAccount(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/saves", map[string]string{"type": "account"})
	return err
}
