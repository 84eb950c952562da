package commands

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", preview("short", 10))
	assert.Equal(t, "a b c", preview("a\nb\tc", 10))
	assert.Equal(t, "abcd…", preview("abcdefgh", 5))
}

func TestArchiveListEmpty(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MUTULENS_ARCHIVE_BACKEND", "sqlite")
	t.Setenv("MUTULENS_ARCHIVE_DB", filepath.Join(dir, "archive.db"))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"archive", "list", "--config", filepath.Join(dir, "missing.yaml")})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "ID")
}

func TestExtractRequiresImages(t *testing.T) {
	rootCmd.SetArgs([]string{"extract"})
	assert.Error(t, rootCmd.Execute())
}
