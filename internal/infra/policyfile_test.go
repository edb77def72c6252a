package infra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netwarden/internal/domain"
)

func newTestPolicyStore(t *testing.T) (*FilePolicyStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policies.json")
	store, err := NewFilePolicyStore(path)
	require.NoError(t, err)
	return store, path
}

func TestPolicyStoreStartsEmpty(t *testing.T) {
	store, _ := newTestPolicyStore(t)

	assert.Empty(t, store.BlockedDomains())
	assert.Empty(t, store.AllowedDomains())
}

func TestBlockDomain(t *testing.T) {
	store, _ := newTestPolicyStore(t)

	added, err := store.BlockDomain(" YouTube.COM ")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, []string{"youtube.com"}, store.BlockedDomains())

	// Already blocked.
	added, err = store.BlockDomain("youtube.com")
	require.NoError(t, err)
	assert.False(t, added)
}

func TestBlockDomainRejectsEmpty(t *testing.T) {
	store, _ := newTestPolicyStore(t)

	_, err := store.BlockDomain("   ")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestAllowDomainMovesFromBlocked(t *testing.T) {
	store, _ := newTestPolicyStore(t)

	_, err := store.BlockDomain("example.com")
	require.NoError(t, err)

	added, err := store.AllowDomain("example.com")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Empty(t, store.BlockedDomains())
	assert.Equal(t, []string{"example.com"}, store.AllowedDomains())
}

func TestBlockDomainMovesFromAllowed(t *testing.T) {
	store, _ := newTestPolicyStore(t)

	_, err := store.AllowDomain("example.com")
	require.NoError(t, err)

	_, err = store.BlockDomain("example.com")
	require.NoError(t, err)
	assert.Empty(t, store.AllowedDomains())
	assert.Equal(t, []string{"example.com"}, store.BlockedDomains())
}

func TestRemoveDomain(t *testing.T) {
	store, _ := newTestPolicyStore(t)

	_, err := store.BlockDomain("example.com")
	require.NoError(t, err)

	removedFrom, err := store.RemoveDomain("example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"blocked"}, removedFrom)
	assert.Empty(t, store.BlockedDomains())

	removedFrom, err = store.RemoveDomain("example.com")
	require.NoError(t, err)
	assert.Empty(t, removedFrom)
}

func TestBlockedDomainsSorted(t *testing.T) {
	store, _ := newTestPolicyStore(t)

	for _, d := range []string{"z.com", "a.com", "m.com"} {
		_, err := store.BlockDomain(d)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"a.com", "m.com", "z.com"}, store.BlockedDomains())
}

func TestPolicyStorePersistsAcrossReload(t *testing.T) {
	store, path := newTestPolicyStore(t)

	_, err := store.BlockDomain("blocked.com")
	require.NoError(t, err)
	_, err = store.AllowDomain("allowed.com")
	require.NoError(t, err)

	reloaded, err := NewFilePolicyStore(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"blocked.com"}, reloaded.BlockedDomains())
	assert.Equal(t, []string{"allowed.com"}, reloaded.AllowedDomains())
}

func TestPolicyStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFilePolicyStore(path)
	assert.Error(t, err)
}

func TestCallersCannotMutateReturnedLists(t *testing.T) {
	store, _ := newTestPolicyStore(t)

	_, err := store.BlockDomain("example.com")
	require.NoError(t, err)

	list := store.BlockedDomains()
	list[0] = "tampered.com"

	assert.Equal(t, []string{"example.com"}, store.BlockedDomains())
}
