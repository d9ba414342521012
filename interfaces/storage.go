package interfaces

import (
	"context"
	"fmt"
	"net/url"
)

// StorageBackendLocation represents URI for storage backend.
type StorageBackendLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   string     // Authentication info
}

// NewStorageBackendLocation creates a new storage location from a URI string with validation.
func NewStorageBackendLocation(uri string) (StorageBackendLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return StorageBackendLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	scheme := parsed.Scheme
	switch scheme {
	case "file", "s3", "ipfs", "vault":
	default:
		return StorageBackendLocation{}, fmt.Errorf("%w: unsupported storage scheme: %s", ErrInvalidLocationURI, scheme)
	}

	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return StorageBackendLocation{
		Raw:    uri,
		Scheme: scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

// String returns the original URI string.
func (loc StorageBackendLocation) String() string {
	return loc.Raw
}

// GetParam returns a query parameter value.
func (loc StorageBackendLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc StorageBackendLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}

// SnapshotBackend persists the content store as a single named snapshot that is
// rewritten wholesale on every write.
type SnapshotBackend interface {
	// Load returns the last saved snapshot or ErrSnapshotNotFound.
	Load(ctx context.Context) ([]byte, error)

	// Save replaces the snapshot.
	Save(ctx context.Context, data []byte) error

	// Available checks if backend is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this backend.
	LocationURI() string
}

// SnapshotBackendFactory creates snapshot backends.
type SnapshotBackendFactory interface {
	// BackendFor creates backend from URI.
	// Supports file://, s3://, ipfs://, vault://
	BackendFor(location StorageBackendLocation) (SnapshotBackend, error)

	// CreateMultiBackend creates aggregated storage backend.
	CreateMultiBackend(locations []StorageBackendLocation) (SnapshotBackend, error)
}

// ItemStore is the clearance-gated content store.
type ItemStore interface {
	Write(ctx context.Context, item ContentItem) (ContentItem, error)
	Read(ctx context.Context, id string, requester Requester) (string, error)
	FetchByClearance(ctx context.Context, level ClearanceLevel, identity string) ([]ContentItem, error)
	Update(ctx context.Context, id string, update ItemUpdate) (ContentItem, error)
	Delete(ctx context.Context, id string) error
}
