package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ondisk/blockfs/internal/config"
)

func TestLoadAppliesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bdserver.ini")
	require.NoError(t, writeFile(path, "[server]\ntrack_delay_micros = 750\nlog_level = debug\n"))

	d, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(750), d.TrackDelayMicros)
	assert.Equal(t, "debug", d.LogLevel)
}

func TestLoadMissingKeysKeepDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.ini")
	require.NoError(t, writeFile(path, "[server]\n"))

	d, err := config.Load(path)
	require.NoError(t, err)
	want := config.DefaultDefaults()
	assert.Equal(t, want.TrackDelayMicros, d.TrackDelayMicros)
	assert.Equal(t, want.LogLevel, d.LogLevel)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
