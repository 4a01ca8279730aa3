package credentials

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryIsExpired(t *testing.T) {
	tests := []struct {
		name      string
		expiresAt time.Time
		expected  bool
	}{
		{name: "expired in past", expiresAt: time.Now().Add(-time.Hour), expected: true},
		{name: "expires soon (within 60s)", expiresAt: time.Now().Add(30 * time.Second), expected: true},
		{name: "not expired", expiresAt: time.Now().Add(2 * time.Hour), expected: false},
		{name: "zero time never expires", expiresAt: time.Time{}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Entry{Token: "t", ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.expected, e.IsExpired())
		})
	}
}

func TestStoreOperations(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	store, err := NewStore()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmpDir, DefaultConfigDir, FileName), store.Path())
	assert.Zero(t, store.Endpoints())

	_, err = store.Token("localhost:8080")
	assert.ErrorIs(t, err, ErrNoToken)

	require.NoError(t, store.SetToken("localhost:8080", "abc", time.Now().Add(time.Hour)))

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FilePermissions), info.Mode().Perm())

	reopened, err := NewStore()
	require.NoError(t, err)
	token, err := reopened.Token("localhost:8080")
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	require.NoError(t, reopened.Delete("localhost:8080"))
	assert.ErrorIs(t, reopened.Delete("localhost:8080"), ErrNoToken)
}

func TestStoreExpiredToken(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), FileName))
	require.NoError(t, err)

	require.NoError(t, store.SetToken("api:8080", "old", time.Now().Add(-time.Minute)))
	_, err = store.Token("api:8080")
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestOpenStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := OpenStore(path)
	assert.Error(t, err)
}
