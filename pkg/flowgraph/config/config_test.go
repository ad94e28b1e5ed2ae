package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNew tests empty construction.
func TestNew(t *testing.T) {
	cfg := New(nil)
	assert.NotNil(t, cfg.Raw())
	assert.False(t, cfg.Has("anything"))
}

// TestAccessors tests typed extraction with defaults.
func TestAccessors(t *testing.T) {
	cfg := New(map[string]any{
		"name":     "schemaflow",
		"timeout":  "30s",
		"interval": 3,
		"ratio":    0.5,
		"limit":    int64(40),
		"debug":    true,
		"tags":     []any{"a", "b"},
		"mixed":    []any{"a", 1},
		"fraction": 1.5,
	})

	assert.Equal(t, "schemaflow", cfg.String("name", ""))
	assert.Equal(t, "def", cfg.String("timeout_missing", "def"))
	assert.Equal(t, "def", cfg.String("debug", "def"))

	assert.Equal(t, 30*time.Second, cfg.Duration("timeout", 0))
	assert.Equal(t, 3*time.Second, cfg.Duration("interval", 0))
	assert.Equal(t, 500*time.Millisecond, cfg.Duration("ratio", 0))
	assert.Equal(t, time.Minute, cfg.Duration("name", time.Minute))

	assert.Equal(t, 40, cfg.Int("limit", 0))
	assert.Equal(t, 3, cfg.Int("interval", 0))
	assert.Equal(t, 7, cfg.Int("fraction", 7))

	assert.Equal(t, 0.5, cfg.Float("ratio", 0))
	assert.Equal(t, 40.0, cfg.Float("limit", 0))

	assert.True(t, cfg.Bool("debug", false))
	assert.True(t, cfg.Bool("missing", true))

	assert.Equal(t, []string{"a", "b"}, cfg.StringSlice("tags", nil))
	assert.Equal(t, []string{"x"}, cfg.StringSlice("mixed", []string{"x"}))

	assert.Equal(t, "schemaflow", cfg.Any("name", nil))
	assert.Nil(t, cfg.Any("missing", nil))
}

// TestDottedKeys tests nested lookup and sections.
func TestDottedKeys(t *testing.T) {
	cfg := New(map[string]any{
		"server": map[string]any{
			"addr": ":9090",
			"tls":  map[string]any{"enabled": true},
		},
		"flat.key": "literal",
	})

	assert.Equal(t, ":9090", cfg.String("server.addr", ""))
	assert.True(t, cfg.Bool("server.tls.enabled", false))
	assert.True(t, cfg.Has("server.tls"))
	assert.False(t, cfg.Has("server.addr.port"))
	assert.Equal(t, "literal", cfg.String("flat.key", ""))

	section := cfg.Section("server")
	assert.Equal(t, ":9090", section.String("addr", ""))
	assert.False(t, cfg.Section("missing").Has("addr"))
	assert.False(t, cfg.Section("server.addr").Has("x"))
}

// TestLoaders tests each supported format.
func TestLoaders(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"yaml", "c.yaml", "server:\n  addr: \":9090\"\nworkflow:\n  max_retries: 2\n"},
		{"yml", "c.YML", "server:\n  addr: \":9090\"\nworkflow:\n  max_retries: 2\n"},
		{"json", "c.json", `{"server":{"addr":":9090"},"workflow":{"max_retries":2}}`},
		{"toml", "c.toml", "[server]\naddr = \":9090\"\n\n[workflow]\nmax_retries = 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o600))

			cfg, err := FromFile(path)
			require.NoError(t, err)
			assert.Equal(t, ":9090", cfg.String("server.addr", ""))
			assert.Equal(t, 2, cfg.Int("workflow.max_retries", 0))
		})
	}
}

// TestFromFile_Errors tests unreadable and unsupported files.
func TestFromFile_Errors(t *testing.T) {
	_, err := FromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config file")

	path := filepath.Join(t.TempDir(), "c.ini")
	require.NoError(t, os.WriteFile(path, []byte("x=1"), 0o600))
	_, err = FromFile(path)
	assert.ErrorContains(t, err, "unsupported config file extension")
}

// TestParseErrors tests malformed input.
func TestParseErrors(t *testing.T) {
	_, err := FromYAML([]byte("a: [unclosed"))
	assert.ErrorContains(t, err, "parse yaml")

	_, err = FromJSON([]byte("{"))
	assert.ErrorContains(t, err, "parse json")

	_, err = FromTOML([]byte("a = "))
	assert.ErrorContains(t, err, "parse toml")
}
