package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/ruteri/agentsec-relay/interfaces"
	"github.com/ruteri/agentsec-relay/kms"
	"github.com/ruteri/agentsec-relay/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type recordedActions struct {
	mu     sync.Mutex
	events []interfaces.ActionEvent
}

func (r *recordedActions) Record(ctx context.Context, event interfaces.ActionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordedActions) Events() []interfaces.ActionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]interfaces.ActionEvent(nil), r.events...)
}

// countingCipher counts Decrypt calls on the wrapped cipher.
type countingCipher struct {
	interfaces.Cipher
	decrypts atomic.Int64
}

func (c *countingCipher) Decrypt(ciphertext string, identity string) (string, error) {
	c.decrypts.Inc()
	return c.Cipher.Decrypt(ciphertext, identity)
}

func newTestStore(t *testing.T, backend interfaces.SnapshotBackend, opts ...GatedStoreOption) *GatedStore {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewGatedStore(backend, newTestCipher(t), log, opts...)
}

func newTestCipher(t *testing.T) *kms.Encryptor {
	t.Helper()
	reg, err := registry.FromLevels(map[string]interfaces.ClearanceLevel{
		"core_agent":     interfaces.CoreClearance,
		"auditor_agent":  interfaces.AuditorClearance,
		"edge_agent_one": interfaces.EdgeClearance,
	}, interfaces.Unclassified)
	require.NoError(t, err)

	enc, err := kms.NewEncryptor([]byte("store-test-salt"), kms.DefaultIterations, reg)
	require.NoError(t, err)
	return enc
}

func ids(items []interfaces.ContentItem) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		out[item.ID] = true
	}
	return out
}

func TestGatedStore_WriteRead(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, NewMemoryBackend())

	public, err := store.Write(ctx, interfaces.ContentItem{ID: "public", Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", public.Content)
	assert.False(t, public.Timestamp.IsZero())

	secret, err := store.Write(ctx, interfaces.ContentItem{
		ID:             "secret",
		Content:        "launch codes",
		ClearanceLevel: interfaces.CoreClearance,
		Owner:          "core_agent",
	})
	require.NoError(t, err)
	assert.NotContains(t, secret.Content, "launch codes")

	content, err := store.Read(ctx, "public", interfaces.Requester{Identity: "edge_agent_one", Clearance: interfaces.EdgeClearance})
	require.NoError(t, err)
	assert.Equal(t, "hello", content)

	content, err = store.Read(ctx, "secret", interfaces.Requester{Identity: "core_agent", Clearance: interfaces.CoreClearance})
	require.NoError(t, err)
	assert.Equal(t, "launch codes", content)

	generated, err := store.Write(ctx, interfaces.ContentItem{Content: "no id"})
	require.NoError(t, err)
	assert.NotEmpty(t, generated.ID)
}

func TestGatedStore_ReadDeniedBelowClearance(t *testing.T) {
	ctx := context.Background()
	actions := &recordedActions{}
	cipher := &countingCipher{Cipher: newTestCipher(t)}
	store := NewGatedStore(NewMemoryBackend(), cipher, slog.New(slog.NewTextHandler(io.Discard, nil)), WithActionLog(actions))

	_, err := store.Write(ctx, interfaces.ContentItem{
		ID:             "core-only",
		Content:        "top secret",
		ClearanceLevel: interfaces.CoreClearance,
		Owner:          "core_agent",
	})
	require.NoError(t, err)

	content, err := store.Read(ctx, "core-only", interfaces.Requester{Identity: "edge_agent_one", Clearance: interfaces.EdgeClearance})
	assert.True(t, errors.Is(err, interfaces.ErrAccessDenied))
	assert.Empty(t, content)
	assert.Zero(t, cipher.decrypts.Load())

	content, err = store.Read(ctx, "core-only", interfaces.Requester{Identity: "core_agent", Clearance: interfaces.CoreClearance})
	require.NoError(t, err)
	assert.Equal(t, "top secret", content)
	assert.Equal(t, int64(1), cipher.decrypts.Load())

	events := actions.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "edge_agent_one", events[0].Agent)
	assert.True(t, errors.Is(events[0].Err, interfaces.ErrAccessDenied))
}

func TestGatedStore_ReadErrors(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, NewMemoryBackend())

	_, err := store.Read(ctx, "missing", interfaces.Requester{Identity: "core_agent", Clearance: interfaces.CoreClearance})
	assert.True(t, errors.Is(err, interfaces.ErrNotFound))

	_, err = store.Write(ctx, interfaces.ContentItem{
		ID:             "core-only",
		Content:        "top secret",
		ClearanceLevel: interfaces.CoreClearance,
		Owner:          "core_agent",
	})
	require.NoError(t, err)

	// Enough clearance, but the auditor cannot derive the core key.
	_, err = store.Read(ctx, "core-only", interfaces.Requester{Identity: "auditor_agent", Clearance: interfaces.CoreClearance})
	assert.True(t, errors.Is(err, interfaces.ErrDecryptionFailure))
}

func TestGatedStore_WriteValidation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, NewMemoryBackend())

	_, err := store.Write(ctx, interfaces.ContentItem{ID: "x", Content: "c", ClearanceLevel: 7, Owner: "core_agent"})
	assert.Error(t, err)

	_, err = store.Write(ctx, interfaces.ContentItem{ID: "x", Content: "c", ClearanceLevel: interfaces.EdgeClearance})
	assert.Error(t, err)

	assert.Equal(t, 0, store.Len())
}

func TestGatedStore_FetchByClearanceMonotone(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, NewMemoryBackend())

	owners := map[interfaces.ClearanceLevel]string{
		interfaces.Unclassified:     "",
		interfaces.EdgeClearance:    "edge_agent_one",
		interfaces.AuditorClearance: "auditor_agent",
		interfaces.CoreClearance:    "core_agent",
	}
	for level, owner := range owners {
		for i := 0; i < 3; i++ {
			_, err := store.Write(ctx, interfaces.ContentItem{
				ID:             fmt.Sprintf("%s-%d", level, i),
				Content:        "payload",
				ClearanceLevel: level,
				Owner:          owner,
			})
			require.NoError(t, err)
		}
	}

	var previous map[string]bool
	for level := interfaces.Unclassified; level <= interfaces.MaxClearance; level++ {
		items, err := store.FetchByClearance(ctx, level, "")
		require.NoError(t, err)
		assert.Len(t, items, 3*(int(level)+1))
		for _, item := range items {
			assert.LessOrEqual(t, item.ClearanceLevel, level)
		}

		current := ids(items)
		for id := range previous {
			assert.True(t, current[id], "level %d lost item %s", level, id)
		}
		previous = current
	}
}

func TestGatedStore_FetchSkipsUndecryptable(t *testing.T) {
	ctx := context.Background()
	actions := &recordedActions{}
	store := newTestStore(t, NewMemoryBackend(), WithActionLog(actions))

	items := []interfaces.ContentItem{
		{ID: "public", Content: "open", ClearanceLevel: interfaces.Unclassified},
		{ID: "mine", Content: "core notes", ClearanceLevel: interfaces.CoreClearance, Owner: "core_agent"},
		{ID: "edge", Content: "edge result", ClearanceLevel: interfaces.EdgeClearance, Owner: "edge_agent_one"},
	}
	for _, item := range items {
		_, err := store.Write(ctx, item)
		require.NoError(t, err)
	}

	fetched, err := store.FetchByClearance(ctx, interfaces.CoreClearance, "core_agent")
	require.NoError(t, err)
	require.Len(t, fetched, 2)
	assert.Equal(t, "public", fetched[0].ID)
	assert.Equal(t, "open", fetched[0].Content)
	assert.Equal(t, "mine", fetched[1].ID)
	assert.Equal(t, "core notes", fetched[1].Content)

	var failed []interfaces.ActionEvent
	for _, event := range actions.Events() {
		if event.Err != nil {
			failed = append(failed, event)
		}
	}
	require.Len(t, failed, 1)
	assert.Equal(t, "decrypt item edge", failed[0].Action)
	assert.True(t, errors.Is(failed[0].Err, interfaces.ErrDecryptionFailure))
	assert.Len(t, actions.Events(), 2)

	// Raw fetch keeps ciphertext and skips nothing.
	raw, err := store.FetchByClearance(ctx, interfaces.CoreClearance, "")
	require.NoError(t, err)
	assert.Len(t, raw, 3)
	assert.NotEqual(t, "core notes", raw[1].Content)
}

func TestGatedStore_PersistFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	store := newTestStore(t, backend)

	_, err := store.Write(ctx, interfaces.ContentItem{ID: "a", Content: "first"})
	require.NoError(t, err)

	backend.FailSaves(errors.New("disk full"))

	_, err = store.Write(ctx, interfaces.ContentItem{ID: "b", Content: "second"})
	assert.Error(t, err)
	_, err = store.Write(ctx, interfaces.ContentItem{ID: "a", Content: "overwritten"})
	assert.Error(t, err)
	assert.Error(t, store.Delete(ctx, "a"))

	assert.Equal(t, 1, store.Len())
	content, err := store.Read(ctx, "a", interfaces.Requester{Identity: "edge_agent_one", Clearance: interfaces.EdgeClearance})
	require.NoError(t, err)
	assert.Equal(t, "first", content)

	_, err = store.Read(ctx, "b", interfaces.Requester{Identity: "edge_agent_one", Clearance: interfaces.EdgeClearance})
	assert.True(t, errors.Is(err, interfaces.ErrNotFound))
}

func TestGatedStore_LoadRestoresSnapshot(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()

	first := newTestStore(t, backend)
	require.NoError(t, first.Load(ctx))
	_, err := first.Write(ctx, interfaces.ContentItem{ID: "kept", Content: "data", ClearanceLevel: interfaces.AuditorClearance, Owner: "auditor_agent"})
	require.NoError(t, err)

	second := newTestStore(t, backend)
	require.NoError(t, second.Load(ctx))
	assert.Equal(t, 1, second.Len())

	content, err := second.Read(ctx, "kept", interfaces.Requester{Identity: "auditor_agent", Clearance: interfaces.AuditorClearance})
	require.NoError(t, err)
	assert.Equal(t, "data", content)
}

func TestGatedStore_UpdateDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, NewMemoryBackend())
	core := interfaces.Requester{Identity: "core_agent", Clearance: interfaces.CoreClearance}

	_, err := store.Write(ctx, interfaces.ContentItem{ID: "doc", Content: "v1", ClearanceLevel: interfaces.CoreClearance, Owner: "core_agent"})
	require.NoError(t, err)

	v2 := "v2"
	_, err = store.Update(ctx, "doc", interfaces.ItemUpdate{Content: &v2})
	require.NoError(t, err)
	content, err := store.Read(ctx, "doc", core)
	require.NoError(t, err)
	assert.Equal(t, "v2", content)

	lower := interfaces.AuditorClearance
	_, err = store.Update(ctx, "doc", interfaces.ItemUpdate{ClearanceLevel: &lower})
	assert.Error(t, err)

	auditor := "auditor_agent"
	v3 := "v3"
	updated, err := store.Update(ctx, "doc", interfaces.ItemUpdate{Content: &v3, ClearanceLevel: &lower, Owner: &auditor})
	require.NoError(t, err)
	assert.Equal(t, interfaces.AuditorClearance, updated.ClearanceLevel)
	content, err = store.Read(ctx, "doc", interfaces.Requester{Identity: "auditor_agent", Clearance: interfaces.AuditorClearance})
	require.NoError(t, err)
	assert.Equal(t, "v3", content)

	_, err = store.Update(ctx, "missing", interfaces.ItemUpdate{Content: &v3})
	assert.True(t, errors.Is(err, interfaces.ErrNotFound))

	require.NoError(t, store.Delete(ctx, "doc"))
	assert.True(t, errors.Is(store.Delete(ctx, "doc"), interfaces.ErrNotFound))
	assert.Equal(t, 0, store.Len())
}

func TestGatedStore_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	store := newTestStore(t, backend)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := store.Write(ctx, interfaces.ContentItem{
				ID:             fmt.Sprintf("item-%d", i),
				Content:        "payload",
				ClearanceLevel: interfaces.EdgeClearance,
				Owner:          "edge_agent_one",
			})
			assert.NoError(t, err)
		}(i)
		go func() {
			defer wg.Done()
			_, err := store.FetchByClearance(ctx, interfaces.EdgeClearance, "edge_agent_one")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, store.Len())
	assert.Equal(t, 20, backend.Saves())
}

func TestFileBackend_RoundTrip(t *testing.T) {
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	backend, err := NewFileBackend(t.TempDir(), log)
	require.NoError(t, err)
	assert.Contains(t, backend.Path(), DefaultSnapshotName)
	assert.True(t, backend.Available(ctx))

	_, err = backend.Load(ctx)
	assert.True(t, errors.Is(err, interfaces.ErrSnapshotNotFound))

	require.NoError(t, backend.Save(ctx, []byte(`[]`)))
	require.NoError(t, backend.Save(ctx, []byte(`[{"id":"x"}]`)))

	data, err := backend.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"x"}]`, string(data))
}

func TestBackendFactory_File(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	factory := NewBackendFactory(log)
	dir := t.TempDir()

	backend, err := factory.BackendsFromURIs([]string{"file://" + dir + "/"})
	require.NoError(t, err)
	assert.Equal(t, "file://"+dir+"/"+DefaultSnapshotName, backend.LocationURI())

	_, err = factory.BackendsFromURIs([]string{"ftp://example.com/x"})
	assert.True(t, errors.Is(err, interfaces.ErrInvalidLocationURI))

	multi, err := factory.BackendsFromURIs([]string{"file://" + dir + "/a.json", "file://" + dir + "/b.json"})
	require.NoError(t, err)
	assert.Equal(t, "multi-storage", multi.Name())
}
