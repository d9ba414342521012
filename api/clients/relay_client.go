package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ruteri/agentsec-relay/api"
)

// RelayClient talks to the relay HTTP bridge.
type RelayClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewRelayClient creates a client for the bridge at baseURL
// (e.g. "http://localhost:8080"). The default timeout is 30 seconds.
func NewRelayClient(baseURL string, timeout ...time.Duration) *RelayClient {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &RelayClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: clientTimeout},
	}
}

// SetToken sets the session token sent with every request.
func (c *RelayClient) SetToken(token string) {
	c.token = token
}

// Token returns the current session token.
func (c *RelayClient) Token() string {
	return c.token
}

// Login exchanges credentials for a session token and keeps it for later calls.
func (c *RelayClient) Login(ctx context.Context, username, password string) (*api.TokenResponse, error) {
	var resp api.TokenResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/token", api.TokenRequest{Username: username, Password: password}, &resp); err != nil {
		return nil, err
	}
	c.token = resp.Token
	return &resp, nil
}

// Submit sends a command and returns the id its response will carry.
func (c *RelayClient) Submit(ctx context.Context, content, sender string) (string, error) {
	var resp api.SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/api/messages", api.SubmitRequest{Content: content, Sender: sender}, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Poll returns and removes the responses visible to the current token.
func (c *RelayClient) Poll(ctx context.Context) ([]api.RelayResponse, error) {
	var resp api.ResponsesResponse
	if err := c.do(ctx, http.MethodGet, "/api/responses", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Responses, nil
}

// WaitFor polls every interval until the response for id arrives or ctx is
// done. Other responses polled meanwhile are returned alongside it.
func (c *RelayClient) WaitFor(ctx context.Context, id string, interval time.Duration) (*api.RelayResponse, []api.RelayResponse, error) {
	var others []api.RelayResponse
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		responses, err := c.Poll(ctx)
		if err != nil {
			return nil, others, err
		}
		for i := range responses {
			if responses[i].ID == id {
				found := responses[i]
				others = append(others, responses[:i]...)
				others = append(others, responses[i+1:]...)
				return &found, others, nil
			}
		}
		others = append(others, responses...)

		select {
		case <-ctx.Done():
			return nil, others, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Items lists the stored items visible to the current token.
func (c *RelayClient) Items(ctx context.Context) ([]api.Item, error) {
	var resp api.ItemsResponse
	if err := c.do(ctx, http.MethodGet, "/api/items", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// Item reads one stored item.
func (c *RelayClient) Item(ctx context.Context, id string) (*api.ItemContent, error) {
	var resp api.ItemContent
	if err := c.do(ctx, http.MethodGet, "/api/items/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Reason     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("relay returned %d: %s", e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("relay returned %d: %s", e.StatusCode, e.Body)
}

func (c *RelayClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", api.BearerPrefix+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
		var errResp api.ErrorResponse
		if json.Unmarshal(bodyBytes, &errResp) == nil {
			statusErr.Reason = errResp.Reason
		}
		return statusErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("could not parse %s response: %w", path, err)
	}
	return nil
}
