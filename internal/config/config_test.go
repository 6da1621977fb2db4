package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsEmptyConfig(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yml"))
	require.NoError(t, err)
	assert.Equal(t, &Config{}, cfg)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yml")

	cfg := &Config{
		DataDir:           "/var/lib/casevault",
		ProbeHost:         "probe.example.com",
		RevalidationHours: 12,
		GracePeriodDays:   3,
		Debug:             true,
	}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"empty config is valid", Config{}, false},
		{"positive values are valid", Config{RevalidationHours: 24, GracePeriodDays: 7}, false},
		{"negative revalidation", Config{RevalidationHours: -1}, true},
		{"negative grace period", Config{GracePeriodDays: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResolveDataDir(t *testing.T) {
	cfg := &Config{DataDir: "/tmp/custom"}
	dir, err := cfg.ResolveDataDir()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom", dir)
}
