package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/agentsec-relay/interfaces"
	"github.com/ruteri/agentsec-relay/metrics"
)

// GatedStore is the clearance-gated content store. Items with a clearance
// level above zero are kept as ciphertext keyed to (level, owner). Reads check
// the requester clearance before decrypting with the requester identity.
//
// The whole collection is persisted as a JSON array on every mutation.
// Mutations are serialized; reads run concurrently.
type GatedStore struct {
	mu      sync.RWMutex
	items   []interfaces.ContentItem
	index   map[string]int
	backend interfaces.SnapshotBackend
	cipher  interfaces.Cipher

	actions interfaces.ActionLogger
	metrics *metrics.Recorder
	now     func() time.Time
	log     *slog.Logger
}

type GatedStoreOption func(*GatedStore)

// WithActionLog records denied reads and decrypt attempts in the action log.
func WithActionLog(actions interfaces.ActionLogger) GatedStoreOption {
	return func(s *GatedStore) { s.actions = actions }
}

func WithMetrics(m *metrics.Recorder) GatedStoreOption {
	return func(s *GatedStore) { s.metrics = m }
}

func WithClock(now func() time.Time) GatedStoreOption {
	return func(s *GatedStore) { s.now = now }
}

// NewGatedStore creates an empty store. Call Load to restore the persisted snapshot.
func NewGatedStore(backend interfaces.SnapshotBackend, cipher interfaces.Cipher, log *slog.Logger, opts ...GatedStoreOption) *GatedStore {
	s := &GatedStore{
		index:   make(map[string]int),
		backend: backend,
		cipher:  cipher,
		now:     time.Now,
		log:     log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the in-memory collection with the persisted snapshot.
// A missing snapshot yields an empty store.
func (s *GatedStore) Load(ctx context.Context) error {
	data, err := s.backend.Load(ctx)
	if errors.Is(err, interfaces.ErrSnapshotNotFound) {
		s.log.Info("No content snapshot found, starting empty", "backend", s.backend.Name())
		data = nil
	} else if err != nil {
		return fmt.Errorf("failed to load content snapshot: %w", err)
	}

	var items []interfaces.ContentItem
	if len(data) > 0 {
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("failed to decode content snapshot: %w", err)
		}
	}

	index := make(map[string]int, len(items))
	for i, item := range items {
		if _, dup := index[item.ID]; dup {
			return fmt.Errorf("duplicate item id %q in content snapshot", item.ID)
		}
		index[item.ID] = i
	}

	s.mu.Lock()
	s.items = items
	s.index = index
	s.mu.Unlock()

	s.log.Info("Loaded content snapshot", "items", len(items), "backend", s.backend.Name())
	return nil
}

// Write encrypts item content for (level, owner) when the level is above
// zero and stores it, overwriting any item with the same id. An empty id is
// replaced with a fresh uuid and a zero timestamp with the current time.
func (s *GatedStore) Write(ctx context.Context, item interfaces.ContentItem) (stored interfaces.ContentItem, err error) {
	defer func() { s.metrics.RecordStoreOp("write", metrics.Outcome(err)) }()

	if !item.ClearanceLevel.Valid() {
		return interfaces.ContentItem{}, fmt.Errorf("invalid clearance level %d", item.ClearanceLevel)
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Timestamp.IsZero() {
		item.Timestamp = s.now().UTC()
	}

	item, err = s.seal(item, item.Content)
	if err != nil {
		return interfaces.ContentItem{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]interfaces.ContentItem, len(s.items), len(s.items)+1)
	copy(next, s.items)
	if i, ok := s.index[item.ID]; ok {
		next[i] = item
	} else {
		next = append(next, item)
	}

	if err := s.commit(ctx, next); err != nil {
		return interfaces.ContentItem{}, err
	}

	s.log.Debug("Stored item", "id", item.ID, "level", item.ClearanceLevel, "owner", item.Owner)
	return item, nil
}

// Read returns the plaintext of an item. Requesters below the item level get
// ErrAccessDenied and nothing is decrypted.
func (s *GatedStore) Read(ctx context.Context, id string, requester interfaces.Requester) (content string, err error) {
	defer func() { s.metrics.RecordStoreOp("read", metrics.Outcome(err)) }()

	s.mu.RLock()
	i, ok := s.index[id]
	var item interfaces.ContentItem
	if ok {
		item = s.items[i]
	}
	s.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("item %s: %w", id, interfaces.ErrNotFound)
	}

	if requester.Clearance < item.ClearanceLevel {
		err := fmt.Errorf("item %s requires level %d, requester %q has %d: %w",
			id, item.ClearanceLevel, requester.Identity, requester.Clearance, interfaces.ErrAccessDenied)
		s.log.Warn("Denied item read", "id", id, "identity", requester.Identity, "err", err)
		s.record(ctx, requester.Identity, "read item "+id, err)
		return "", err
	}

	if !item.Encrypted() {
		return item.Content, nil
	}

	plaintext, err := s.cipher.Decrypt(item.Content, requester.Identity)
	if err != nil {
		s.log.Warn("Failed to decrypt item", "id", id, "identity", requester.Identity, "err", err)
		s.record(ctx, requester.Identity, "decrypt item "+id, err)
		return "", fmt.Errorf("item %s: %w", id, err)
	}
	return plaintext, nil
}

// FetchByClearance returns copies of all items with level <= level in
// insertion order. With a non-empty identity, encrypted items are decrypted
// for that identity and items it cannot decrypt are skipped. Without one,
// content is returned as stored.
func (s *GatedStore) FetchByClearance(ctx context.Context, level interfaces.ClearanceLevel, identity string) (result []interfaces.ContentItem, err error) {
	defer func() { s.metrics.RecordStoreOp("fetch", metrics.Outcome(err)) }()

	s.mu.RLock()
	candidates := make([]interfaces.ContentItem, 0, len(s.items))
	for _, item := range s.items {
		if item.ClearanceLevel <= level {
			candidates = append(candidates, item)
		}
	}
	s.mu.RUnlock()

	if identity == "" {
		return candidates, nil
	}

	result = make([]interfaces.ContentItem, 0, len(candidates))
	for _, item := range candidates {
		if item.Encrypted() {
			plaintext, err := s.cipher.Decrypt(item.Content, identity)
			if err != nil {
				s.log.Warn("Skipping undecryptable item", "id", item.ID, "identity", identity, "err", err)
				s.record(ctx, identity, "decrypt item "+item.ID, err)
				continue
			}
			s.record(ctx, identity, "decrypt item "+item.ID, nil)
			item.Content = plaintext
		}
		result = append(result, item)
	}
	return result, nil
}

// Update overwrites the given fields of an existing item and re-encrypts it.
// Changing level or owner requires new content since the stored ciphertext
// is bound to the old key.
func (s *GatedStore) Update(ctx context.Context, id string, update interfaces.ItemUpdate) (updated interfaces.ContentItem, err error) {
	defer func() { s.metrics.RecordStoreOp("update", metrics.Outcome(err)) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return interfaces.ContentItem{}, fmt.Errorf("item %s: %w", id, interfaces.ErrNotFound)
	}
	item := s.items[i]

	rekey := (update.ClearanceLevel != nil && *update.ClearanceLevel != item.ClearanceLevel) ||
		(update.Owner != nil && *update.Owner != item.Owner)
	if rekey && update.Content == nil && item.Encrypted() {
		return interfaces.ContentItem{}, fmt.Errorf("item %s: changing level or owner of encrypted content requires new content", id)
	}

	if update.ClearanceLevel != nil {
		if !update.ClearanceLevel.Valid() {
			return interfaces.ContentItem{}, fmt.Errorf("invalid clearance level %d", *update.ClearanceLevel)
		}
		item.ClearanceLevel = *update.ClearanceLevel
	}
	if update.Owner != nil {
		item.Owner = *update.Owner
	}
	item.Timestamp = s.now().UTC()

	if update.Content != nil {
		item, err = s.seal(item, *update.Content)
		if err != nil {
			return interfaces.ContentItem{}, err
		}
	} else if rekey {
		// plaintext item being raised to a classified level
		item, err = s.seal(item, item.Content)
		if err != nil {
			return interfaces.ContentItem{}, err
		}
	}

	next := make([]interfaces.ContentItem, len(s.items))
	copy(next, s.items)
	next[i] = item

	if err := s.commit(ctx, next); err != nil {
		return interfaces.ContentItem{}, err
	}
	return item, nil
}

// Delete removes an item.
func (s *GatedStore) Delete(ctx context.Context, id string) (err error) {
	defer func() { s.metrics.RecordStoreOp("delete", metrics.Outcome(err)) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("item %s: %w", id, interfaces.ErrNotFound)
	}

	next := make([]interfaces.ContentItem, 0, len(s.items)-1)
	next = append(next, s.items[:i]...)
	next = append(next, s.items[i+1:]...)

	return s.commit(ctx, next)
}

// Len returns the number of stored items.
func (s *GatedStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *GatedStore) seal(item interfaces.ContentItem, plaintext string) (interfaces.ContentItem, error) {
	if !item.Encrypted() {
		item.Content = plaintext
		return item, nil
	}
	if item.Owner == "" {
		return interfaces.ContentItem{}, fmt.Errorf("item %s: classified content needs an owner", item.ID)
	}

	ciphertext, err := s.cipher.Encrypt(plaintext, item.ClearanceLevel, item.Owner)
	if err != nil {
		return interfaces.ContentItem{}, fmt.Errorf("failed to encrypt item %s: %w", item.ID, err)
	}
	item.Content = ciphertext
	return item, nil
}

// commit persists next and swaps it in. Callers hold the write lock.
func (s *GatedStore) commit(ctx context.Context, next []interfaces.ContentItem) error {
	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode content snapshot: %w", err)
	}

	if err := s.backend.Save(ctx, data); err != nil {
		s.log.Error("Failed to persist content snapshot", "backend", s.backend.Name(), "err", err)
		return fmt.Errorf("failed to persist content snapshot: %w", err)
	}

	index := make(map[string]int, len(next))
	for i, item := range next {
		index[item.ID] = i
	}
	s.items = next
	s.index = index
	return nil
}

func (s *GatedStore) record(ctx context.Context, agent, action string, err error) {
	if s.actions == nil {
		return
	}
	s.actions.Record(ctx, interfaces.ActionEvent{Agent: agent, Action: action, Err: err})
}
