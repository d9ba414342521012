package storage

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/ruteri/agentsec-relay/interfaces"
)

// BackendFactory creates snapshot backends from location URIs and manages
// multi-backend configurations for redundant storage.
type BackendFactory struct {
	log *slog.Logger
}

// NewBackendFactory creates a new factory instance.
func NewBackendFactory(logger *slog.Logger) *BackendFactory {
	return &BackendFactory{log: logger}
}

// BackendFor creates a snapshot backend from a location.
//
// Supported schemes:
//   - file:///var/lib/agentsec/ or file://./relative/content_store.json
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix/?region=us-west-2&endpoint=minio:9000
//   - vault://vault.example.com:8200/secret/agentsec/content?token=...&tls=false
//   - ipfs://127.0.0.1:5001/agentsec
func (f *BackendFactory) BackendFor(location interfaces.StorageBackendLocation) (interfaces.SnapshotBackend, error) {
	switch strings.ToLower(location.Scheme) {
	case "file":
		return f.createFileBackend(location)
	case "s3":
		return f.createS3Backend(location)
	case "vault":
		return f.createVaultBackend(location)
	case "ipfs":
		return f.createIPFSBackend(location)
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme: %s", interfaces.ErrInvalidLocationURI, location.Scheme)
	}
}

// CreateMultiBackend creates a multi-storage backend from a list of locations.
// Locations that fail to produce a backend are logged and skipped.
// Returns an error if no valid backends could be created.
func (f *BackendFactory) CreateMultiBackend(locations []interfaces.StorageBackendLocation) (interfaces.SnapshotBackend, error) {
	backends := make([]interfaces.SnapshotBackend, 0, len(locations))

	for _, location := range locations {
		backend, err := f.BackendFor(location)
		if err != nil {
			f.log.Warn("Failed to create storage backend",
				"err", err,
				slog.String("locationURI", location.String()))
			continue
		}
		backends = append(backends, backend)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no valid storage backends created")
	}
	if len(backends) == 1 {
		return backends[0], nil
	}

	return NewMultiStorageBackend(backends, f.log), nil
}

// BackendsFromURIs parses the URIs and builds a (multi) backend.
func (f *BackendFactory) BackendsFromURIs(uris []string) (interfaces.SnapshotBackend, error) {
	locations := make([]interfaces.StorageBackendLocation, 0, len(uris))
	for _, uri := range uris {
		location, err := interfaces.NewStorageBackendLocation(uri)
		if err != nil {
			return nil, err
		}
		locations = append(locations, location)
	}
	return f.CreateMultiBackend(locations)
}

func (f *BackendFactory) createFileBackend(location interfaces.StorageBackendLocation) (interfaces.SnapshotBackend, error) {
	f.log.Debug("Creating file backend", slog.String("uri", location.String()))

	path := location.Path
	if location.Host != "" {
		path = filepath.Join(location.Host, path)
		if strings.HasSuffix(location.Path, "/") {
			path += "/"
		}
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI: %s", interfaces.ErrInvalidLocationURI, location.String())
	}

	return NewFileBackend(path, f.log)
}

func (f *BackendFactory) createS3Backend(location interfaces.StorageBackendLocation) (interfaces.SnapshotBackend, error) {
	f.log.Debug("Creating S3 backend", slog.String("uri", location.String()))

	region := location.GetParam("region")
	if region == "" {
		region = "us-east-1"
	}

	var accessKey, secretKey string
	if location.Auth != "" {
		accessKey, secretKey, _ = strings.Cut(location.Auth, ":")
	}

	return NewS3Backend(location.Host, location.Path, region, location.GetParam("endpoint"), accessKey, secretKey, f.log)
}

func (f *BackendFactory) createVaultBackend(location interfaces.StorageBackendLocation) (interfaces.SnapshotBackend, error) {
	f.log.Debug("Creating Vault backend", slog.String("uri", location.String()))

	scheme := "https"
	if location.GetParam("tls") == "false" {
		scheme = "http"
	}

	mount, dataPath, _ := strings.Cut(strings.Trim(location.Path, "/"), "/")

	return NewVaultBackend(fmt.Sprintf("%s://%s", scheme, location.Host), mount, dataPath, location.GetParam("token"), f.log)
}

func (f *BackendFactory) createIPFSBackend(location interfaces.StorageBackendLocation) (interfaces.SnapshotBackend, error) {
	f.log.Debug("Creating IPFS backend", slog.String("uri", location.String()))

	host, port, found := strings.Cut(location.Host, ":")
	if !found || port == "" {
		port = "5001"
	}

	return NewIPFSBackend(host, port, location.Path, f.log)
}
