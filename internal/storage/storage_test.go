package storage

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSetCloseOpenGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	a, err := New(dir, zerolog.Nop())
	require.NoError(t, err)

	ctx, err := a.Open("Matterbridge")
	require.NoError(t, err)
	require.NoError(t, ctx.Set("passcode", 20242025))

	require.NoError(t, a.Close())

	a2, err := New(dir, zerolog.Nop())
	require.NoError(t, err)
	ctx2, err := a2.Open("Matterbridge")
	require.NoError(t, err)

	assert.EqualValues(t, 20242025, ctx2.Get("passcode", nil))
}

func TestOpenSameNameTwiceReturnsSameContext(t *testing.T) {
	a, err := New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	c1, err := a.Open("plugin4")
	require.NoError(t, err)
	c2, err := a.Open("plugin4")
	require.NoError(t, err)

	assert.Same(t, c1, c2)
}

func TestGetDefault(t *testing.T) {
	a, err := New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	ctx, err := a.Open("ctx")
	require.NoError(t, err)

	assert.Equal(t, "fallback", ctx.Get("missing", "fallback"))
}

func TestBackupIsAtomicDirectoryDuplicate(t *testing.T) {
	dir := t.TempDir()
	a, err := New(dir, zerolog.Nop())
	require.NoError(t, err)

	ctx, err := a.Open("Matterbridge")
	require.NoError(t, err)
	require.NoError(t, ctx.Set("k", "v"))

	require.NoError(t, a.Backup("Matterbridge"))

	backupFile := filepath.Join(dir, "Matterbridge.backup", "persist.json")
	assert.FileExists(t, backupFile)
}

func TestBackupUnknownContextIsNonFatalError(t *testing.T) {
	a, err := New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	err = a.Backup("never-opened")
	assert.Error(t, err)
}

func TestStorageNameProfileConvention(t *testing.T) {
	assert.Equal(t, "matterstorage", StorageName(""))
	assert.Equal(t, "matterstorage.home", StorageName("home"))
}
