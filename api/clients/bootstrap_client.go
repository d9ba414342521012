package clients

import (
	"context"
	"net/http"
	"time"

	"github.com/ruteri/agentsec-relay/api"
)

// BootstrapClient talks to the admin API a locked relay serves while it
// waits for secret shares.
type BootstrapClient struct {
	c *RelayClient
}

// NewBootstrapClient creates a client for the admin API at baseURL
// (e.g. "http://localhost:8081").
func NewBootstrapClient(baseURL string, timeout ...time.Duration) *BootstrapClient {
	return &BootstrapClient{c: NewRelayClient(baseURL, timeout...)}
}

func (b *BootstrapClient) Status(ctx context.Context) (*api.BootstrapStatus, error) {
	var status api.BootstrapStatus
	if err := b.c.do(ctx, http.MethodGet, "/admin/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// SubmitShare posts a signed share and returns the resulting progress.
func (b *BootstrapClient) SubmitShare(ctx context.Context, submission api.ShareSubmission) (*api.BootstrapStatus, error) {
	var status api.BootstrapStatus
	if err := b.c.do(ctx, http.MethodPost, "/admin/share", submission, &status); err != nil {
		return nil, err
	}
	return &status, nil
}
