package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/ruteri/agentsec-relay/interfaces"
)

// IPFSBackend keeps the snapshot in the mutable file system (MFS) of an IPFS
// node. Every save produces a new root CID which is logged for pinning.
type IPFSBackend struct {
	shell       *shell.Shell
	host        string
	port        string
	mfsPath     string
	log         *slog.Logger
	locationURI string
}

// NewIPFSBackend creates an IPFS snapshot backend talking to the node API at host:port.
// The snapshot lives at dir/DefaultSnapshotName inside MFS.
func NewIPFSBackend(host, port, dir string, log *slog.Logger) (*IPFSBackend, error) {
	if host == "" {
		return nil, fmt.Errorf("%w: empty IPFS host", interfaces.ErrInvalidLocationURI)
	}

	apiURL := fmt.Sprintf("%s:%s", host, port)
	mfsPath := path.Join("/", strings.Trim(dir, "/"), DefaultSnapshotName)

	return &IPFSBackend{
		shell:       shell.NewShell(apiURL),
		host:        host,
		port:        port,
		mfsPath:     mfsPath,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s%s", apiURL, path.Dir(mfsPath)),
	}, nil
}

// Load reads the snapshot from MFS.
func (b *IPFSBackend) Load(ctx context.Context) ([]byte, error) {
	if !b.shell.IsUp() {
		return nil, interfaces.ErrBackendUnavailable
	}

	reader, err := b.shell.FilesRead(ctx, b.mfsPath)
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") || strings.Contains(err.Error(), "not found") {
			return nil, interfaces.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to read snapshot from IPFS: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot from IPFS: %w", err)
	}

	b.log.Debug("Loaded snapshot from IPFS",
		slog.String("path", b.mfsPath),
		slog.Int("size", len(data)))

	return data, nil
}

// Save replaces the MFS file with data.
func (b *IPFSBackend) Save(ctx context.Context, data []byte) error {
	if !b.shell.IsUp() {
		return interfaces.ErrBackendUnavailable
	}

	err := b.shell.FilesWrite(ctx, b.mfsPath, bytes.NewReader(data),
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Truncate(true),
		shell.FilesWrite.Parents(true),
	)
	if err != nil {
		return fmt.Errorf("failed to write snapshot to IPFS: %w", err)
	}

	attrs := []any{slog.String("path", b.mfsPath), slog.Int("size", len(data))}
	if stat, err := b.shell.FilesStat(ctx, b.mfsPath); err == nil {
		attrs = append(attrs, slog.String("ipfsCID", stat.Hash))
	}
	b.log.Debug("Saved snapshot to IPFS", attrs...)

	return nil
}

// Available checks if the IPFS node is accessible.
func (b *IPFSBackend) Available(ctx context.Context) bool {
	return b.shell.IsUp()
}

// Name returns a unique identifier for this storage backend.
func (b *IPFSBackend) Name() string {
	return fmt.Sprintf("ipfs-%s-%s", b.host, b.port)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *IPFSBackend) LocationURI() string {
	return b.locationURI
}
