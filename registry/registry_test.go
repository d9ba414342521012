package registry

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ruteri/agentsec-relay/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "registry.json", `{
		"core_agent": {"clearance_level": 3},
		"auditor_agent": {"clearance_level": 2},
		"edge_agent_one": {"clearance_level": 1},
		"n": {"clearance_level": 3, "password_hash": "$2a$10$abc"}
	}`)

	reg, err := Load(path, interfaces.Unclassified)
	require.NoError(t, err)

	assert.Equal(t, interfaces.CoreClearance, reg.ClearanceLevel("core_agent"))
	assert.Equal(t, interfaces.AuditorClearance, reg.ClearanceLevel("auditor_agent"))
	assert.Equal(t, interfaces.EdgeClearance, reg.ClearanceLevel("edge_agent_one"))
	assert.Equal(t, []string{"auditor_agent", "core_agent", "edge_agent_one", "n"}, reg.Identities())

	hash, ok := reg.PasswordHash("n")
	assert.True(t, ok)
	assert.Equal(t, "$2a$10$abc", hash)

	_, ok = reg.PasswordHash("core_agent")
	assert.False(t, ok)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "registry.yaml", `
core_agent:
  clearance_level: 3
edge_agent_one:
  clearance_level: 1
`)

	reg, err := Load(path, interfaces.Unclassified)
	require.NoError(t, err)
	assert.Equal(t, interfaces.CoreClearance, reg.ClearanceLevel("core_agent"))
	assert.Equal(t, interfaces.EdgeClearance, reg.ClearanceLevel("edge_agent_one"))
}

func TestUnknownIdentityGetsDefault(t *testing.T) {
	reg, err := FromLevels(map[string]interfaces.ClearanceLevel{"core_agent": 3}, interfaces.Unclassified)
	require.NoError(t, err)

	assert.Equal(t, interfaces.Unclassified, reg.ClearanceLevel("stranger"))
	assert.False(t, reg.Has("stranger"))

	reg, err = FromLevels(nil, interfaces.EdgeClearance)
	require.NoError(t, err)
	assert.Equal(t, interfaces.EdgeClearance, reg.ClearanceLevel("stranger"))
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"), 0)
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.json", `{not json`), 0)
	assert.Error(t, err)

	_, err = Load(writeFile(t, "range.json", `{"x": {"clearance_level": 9}}`), 0)
	assert.Error(t, err)

	_, err = FromLevels(nil, interfaces.ClearanceLevel(-1))
	assert.Error(t, err)
}

func TestEntriesAreCopied(t *testing.T) {
	levels := map[string]interfaces.ClearanceLevel{"a": 1}
	reg, err := FromLevels(levels, 0)
	require.NoError(t, err)

	levels["a"] = 3
	assert.Equal(t, interfaces.EdgeClearance, reg.ClearanceLevel("a"))
}

func TestConcurrentLookups(t *testing.T) {
	reg, err := FromLevels(map[string]interfaces.ClearanceLevel{"core_agent": 3}, 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.Equal(t, interfaces.CoreClearance, reg.ClearanceLevel("core_agent"))
			}
		}()
	}
	wg.Wait()
}
