package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/agentsec-relay/interfaces"
)

// MultiStorageBackend implements interfaces.SnapshotBackend using multiple backends with fallback.
// Saves go to every available backend; loads come from the first one holding a snapshot.
type MultiStorageBackend struct {
	backends []interfaces.SnapshotBackend
	log      *slog.Logger
}

// NewMultiStorageBackend creates a new multi-storage backend with fallback
func NewMultiStorageBackend(backends []interfaces.SnapshotBackend, logger *slog.Logger) *MultiStorageBackend {
	if logger == nil {
		logger = slog.Default()
	}

	return &MultiStorageBackend{
		backends: backends,
		log:      logger,
	}
}

// Load returns the snapshot from the first available backend that has one.
// ErrSnapshotNotFound is returned only if every reachable backend reports no snapshot.
func (m *MultiStorageBackend) Load(ctx context.Context) ([]byte, error) {
	start := time.Now()
	var errs []error
	reachable := 0

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable", slog.String("backend_name", backend.Name()))
			continue
		}
		reachable++

		data, err := backend.Load(ctx)
		if err == nil {
			m.log.Info("Loaded snapshot",
				slog.String("backend_name", backend.Name()),
				slog.Duration("duration", time.Since(start)))
			return data, nil
		}
		if errors.Is(err, interfaces.ErrSnapshotNotFound) {
			continue
		}

		errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		m.log.Debug("Failed to load from backend",
			slog.String("backend_name", backend.Name()),
			"err", err)
	}

	if reachable == 0 {
		return nil, interfaces.ErrBackendUnavailable
	}
	if len(errs) == 0 {
		return nil, interfaces.ErrSnapshotNotFound
	}

	m.log.Error("All backends failed to load snapshot",
		slog.Int("failed_backends", len(errs)),
		slog.Duration("duration", time.Since(start)))

	return nil, fmt.Errorf("all backends failed to load snapshot: %w", errors.Join(errs...))
}

// Save writes the snapshot to all available backends. It succeeds if at least one backend accepted it.
func (m *MultiStorageBackend) Save(ctx context.Context, data []byte) error {
	start := time.Now()
	var errs []error
	saved := 0

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable", slog.String("backend_name", backend.Name()))
			continue
		}

		if err := backend.Save(ctx, data); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			m.log.Warn("Failed to save to backend",
				slog.String("backend_name", backend.Name()),
				"err", err)
			continue
		}
		saved++
	}

	if saved == 0 {
		m.log.Error("All backends failed to save snapshot",
			slog.Int("failed_backends", len(errs)),
			slog.Duration("duration", time.Since(start)))
		if len(errs) == 0 {
			return interfaces.ErrBackendUnavailable
		}
		return fmt.Errorf("all backends failed to save snapshot: %w", errors.Join(errs...))
	}

	m.log.Debug("Saved snapshot",
		slog.Int("backends", saved),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Available checks if any backend is available
func (m *MultiStorageBackend) Available(ctx context.Context) bool {
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

// Name returns the name of this backend
func (m *MultiStorageBackend) Name() string {
	return "multi-storage"
}

// LocationURI returns the URI of this backend
func (m *MultiStorageBackend) LocationURI() string {
	var locations []string
	for _, backend := range m.backends {
		locations = append(locations, backend.LocationURI())
	}

	return "multi:[" + strings.Join(locations, ",") + "]"
}
