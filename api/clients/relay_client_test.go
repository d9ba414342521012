package clients

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ruteri/agentsec-relay/api"
	"github.com/ruteri/agentsec-relay/credentials"
	"github.com/ruteri/agentsec-relay/cryptoutils"
	"github.com/ruteri/agentsec-relay/httpserver"
	"github.com/ruteri/agentsec-relay/interfaces"
	"github.com/ruteri/agentsec-relay/kms"
	"github.com/ruteri/agentsec-relay/registry"
	"github.com/ruteri/agentsec-relay/relay"
	"github.com/ruteri/agentsec-relay/signature"
	"github.com/ruteri/agentsec-relay/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newBridge runs the whole relay behind an httptest server.
func newBridge(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	hash, err := credentials.HashPassword("hunter2")
	require.NoError(t, err)
	reg, err := registry.New(map[string]registry.Entry{
		relay.DefaultCoreID:    {ClearanceLevel: interfaces.CoreClearance},
		relay.DefaultAuditorID: {ClearanceLevel: interfaces.AuditorClearance},
		relay.DefaultEdgeID:    {ClearanceLevel: interfaces.EdgeClearance},
		"alice":                {ClearanceLevel: interfaces.CoreClearance, PasswordHash: hash},
	}, interfaces.Unclassified)
	require.NoError(t, err)

	privPEM, pubPEM, err := cryptoutils.GenerateKeyPair(cryptoutils.SchemeECDSA)
	require.NoError(t, err)
	priv, pub, err := cryptoutils.ParseKeyPair(privPEM, pubPEM)
	require.NoError(t, err)
	signer := signature.NewService(priv, pub, logger, signature.WithReplayGuard())

	cipher, err := kms.NewEncryptor([]byte("salt"), 0, reg)
	require.NoError(t, err)
	store := storage.NewGatedStore(storage.NewMemoryBackend(), cipher, logger)
	tokens := credentials.NewService([]byte("secret"), reg, logger)

	pipeline, err := relay.NewPipeline(relay.Config{ReencryptRelays: true}, relay.Dependencies{
		Registry: reg,
		Tokens:   tokens,
		Signer:   signer,
		Verifier: signer,
		Cipher:   cipher,
		Store:    store,
		Log:      logger,
	}, relay.Policies{})
	require.NoError(t, err)
	pipeline.Start(context.Background())
	t.Cleanup(pipeline.Stop)

	handler := httpserver.NewHandler(httpserver.HandlerConfig{
		Auth:      tokens,
		Tokens:    tokens,
		Pipeline:  pipeline,
		Responses: pipeline.Responses(),
		Store:     store,
		ReadAs:    relay.DefaultCoreID,
		Log:       logger,
	})
	srv, err := httpserver.New(&api.HTTPServerConfig{Log: logger}, handler, nil)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func TestRelayClientRoundTrip(t *testing.T) {
	ts := newBridge(t)
	client := NewRelayClient(ts.URL + "/")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	login, err := client.Login(ctx, "alice", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, interfaces.CoreClearance, login.ClearanceLevel)
	assert.Equal(t, login.Token, client.Token())

	id, err := client.Submit(ctx, "ping", "alice")
	require.NoError(t, err)

	resp, others, err := client.WaitFor(ctx, id, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, others)
	assert.Equal(t, "Result of task 'ping' executed by edge_agent_one", resp.Content)

	items, err := client.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, resp.ItemID, items[0].ID)
	assert.NotEqual(t, id, resp.ItemID)

	item, err := client.Item(ctx, resp.ItemID)
	require.NoError(t, err)
	assert.Equal(t, resp.Content, item.Content)
}

func TestRelayClientErrors(t *testing.T) {
	ts := newBridge(t)
	client := NewRelayClient(ts.URL)
	ctx := context.Background()

	_, err := client.Login(ctx, "alice", "wrong")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Equal(t, "AuthenticationFailure", statusErr.Reason)

	_, err = client.Poll(ctx)
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)

	_, err = client.Login(ctx, "alice", "hunter2")
	require.NoError(t, err)
	_, err = client.Item(ctx, "missing")
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}
