package storage

import (
	"context"
	"sync"

	"github.com/ruteri/agentsec-relay/interfaces"
)

// MemoryBackend holds the snapshot in memory. Used for tests and ephemeral deployments.
type MemoryBackend struct {
	mu       sync.Mutex
	data     []byte
	saves    int
	saveErr  error
	Disabled bool
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (b *MemoryBackend) Load(ctx context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		return nil, interfaces.ErrSnapshotNotFound
	}
	return append([]byte(nil), b.data...), nil
}

func (b *MemoryBackend) Save(ctx context.Context, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.saveErr != nil {
		return b.saveErr
	}
	b.data = append([]byte(nil), data...)
	b.saves++
	return nil
}

// FailSaves makes every following Save return err. A nil err restores normal operation.
func (b *MemoryBackend) FailSaves(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saveErr = err
}

// Saves returns the number of successful saves.
func (b *MemoryBackend) Saves() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}

func (b *MemoryBackend) Available(ctx context.Context) bool { return !b.Disabled }
func (b *MemoryBackend) Name() string                       { return "memory" }
func (b *MemoryBackend) LocationURI() string                { return "memory:" }
