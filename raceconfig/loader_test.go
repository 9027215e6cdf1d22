package raceconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadYAMLResolvesExtensionlessPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workers:
  - name: replayer-a
    class: replay
    read-from: []
    write-to: ["market-data"]
    time-scale: 2.5
    break-after: 50
    max-skip: 10
`), 0o644))

	cfgs, err := Load(filepath.Join(dir, "workers"))
	require.NoError(t, err)
	require.Len(t, cfgs, 1)
	assert.Equal(t, "replayer-a", cfgs[0].Name)
	assert.Equal(t, "replay", cfgs[0].Class)
	assert.Equal(t, []string{"market-data"}, cfgs[0].WriteTo)
	assert.Equal(t, 2.5, cfgs[0].TimeScale)
	assert.Equal(t, 50, cfgs[0].BreakAfter)
	assert.Equal(t, 10, cfgs[0].MaxSkip)
}

func TestLoadMissingNameErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workers:
  - class: replay
`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadAmbiguousExtensionErrors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "workers.yaml"), []byte("workers: []\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "workers.json"), []byte(`{"workers": []}`), 0o644))

	_, err := Load(filepath.Join(dir, "workers"))
	assert.ErrorIs(t, err, ErrAmbiguousFile)
}

func TestSubstituteResolvesEnvWithDefault(t *testing.T) {
	t.Setenv("RACE_TEST_HOST", "10.0.0.9")
	block := map[string]any{
		"own-ip-address": "${RACE_TEST_HOST}",
		"schema":         "${RACE_TEST_SCHEMA:-default-schema}",
		"nested": map[string]any{
			"remote-ip-address": "${RACE_TEST_HOST}",
		},
		"list": []any{"${RACE_TEST_HOST}", "literal"},
	}

	out := substituteMap(block)
	assert.Equal(t, "10.0.0.9", out["own-ip-address"])
	assert.Equal(t, "default-schema", out["schema"])
	assert.Equal(t, "10.0.0.9", out["nested"].(map[string]any)["remote-ip-address"])
	assert.Equal(t, []any{"10.0.0.9", "literal"}, out["list"])
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workers.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[workers]]
name = "adapter-a"
class = "adapter"
schema = "X"
own-port = 9000
remote-port = 9001
`), 0o644))

	cfgs, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfgs, 1)
	assert.Equal(t, "adapter-a", cfgs[0].Name)
	assert.Equal(t, "X", cfgs[0].Schema)
	assert.Equal(t, 9000, cfgs[0].OwnPort)
	assert.Equal(t, 9001, cfgs[0].RemotePort)
}
