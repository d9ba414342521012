package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ruteri/agentsec-relay/interfaces"
	"gopkg.in/yaml.v3"
)

// Entry is one identity record in the registry file.
type Entry struct {
	ClearanceLevel interfaces.ClearanceLevel `json:"clearance_level" yaml:"clearance_level"`
	PasswordHash   string                    `json:"password_hash,omitempty" yaml:"password_hash,omitempty"`
}

// Registry is an immutable identity -> clearance mapping.
// It implements interfaces.ClearanceRegistry and interfaces.CredentialStore.
type Registry struct {
	entries      map[string]Entry
	defaultLevel interfaces.ClearanceLevel
}

// New creates a registry from entries. Entries are copied.
func New(entries map[string]Entry, defaultLevel interfaces.ClearanceLevel) (*Registry, error) {
	if !defaultLevel.Valid() {
		return nil, fmt.Errorf("invalid default clearance level %d", defaultLevel)
	}

	copied := make(map[string]Entry, len(entries))
	for identity, entry := range entries {
		if identity == "" {
			return nil, fmt.Errorf("empty identity in registry")
		}
		if !entry.ClearanceLevel.Valid() {
			return nil, fmt.Errorf("invalid clearance level %d for %s", entry.ClearanceLevel, identity)
		}
		copied[identity] = entry
	}

	return &Registry{entries: copied, defaultLevel: defaultLevel}, nil
}

// FromLevels is a convenience constructor for registries without passwords.
func FromLevels(levels map[string]interfaces.ClearanceLevel, defaultLevel interfaces.ClearanceLevel) (*Registry, error) {
	entries := make(map[string]Entry, len(levels))
	for identity, level := range levels {
		entries[identity] = Entry{ClearanceLevel: level}
	}
	return New(entries, defaultLevel)
}

// Load reads the registry file. Files ending in .yaml or .yml are parsed as YAML,
// everything else as JSON.
func Load(path string, defaultLevel interfaces.ClearanceLevel) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}

	entries := make(map[string]Entry)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &entries)
	default:
		err = json.Unmarshal(data, &entries)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse registry file %s: %w", path, err)
	}

	return New(entries, defaultLevel)
}

// ClearanceLevel returns the level for identity or the default when absent.
func (r *Registry) ClearanceLevel(identity string) interfaces.ClearanceLevel {
	entry, ok := r.entries[identity]
	if !ok {
		return r.defaultLevel
	}
	return entry.ClearanceLevel
}

// Has reports whether identity is explicitly registered.
func (r *Registry) Has(identity string) bool {
	_, ok := r.entries[identity]
	return ok
}

// PasswordHash returns the stored password hash for identity.
func (r *Registry) PasswordHash(identity string) (string, bool) {
	entry, ok := r.entries[identity]
	if !ok || entry.PasswordHash == "" {
		return "", false
	}
	return entry.PasswordHash, true
}

// DefaultLevel returns the level assigned to unknown identities.
func (r *Registry) DefaultLevel() interfaces.ClearanceLevel {
	return r.defaultLevel
}

// Identities returns all registered identities in sorted order.
func (r *Registry) Identities() []string {
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
