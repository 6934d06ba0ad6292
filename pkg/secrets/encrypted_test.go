package secrets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEncryptedProvider(t *testing.T) (*EncryptedProvider, string, []byte) {
	t.Helper()
	filePath := filepath.Join(t.TempDir(), "secrets.enc")
	key := testMasterKey(t)
	provider, err := NewEncryptedProvider(filePath, key)
	require.NoError(t, err)
	t.Cleanup(func() { provider.Cleanup() })
	return provider, filePath, key
}

func TestEncryptedProvider_PutGetDelete(t *testing.T) {
	t.Parallel()

	provider, _, _ := newTestEncryptedProvider(t)
	ctx := context.Background()

	record := &StoredSecret{
		Reference:  "tgref:abc",
		Ciphertext: []byte("encrypted-bytes"),
		Scope:      Scope{OrganizationID: "org-a", EnvironmentID: "env-1"},
		Key:        "db-password",
	}
	require.NoError(t, provider.Put(ctx, record))

	got, err := provider.Get(ctx, "tgref:abc")
	require.NoError(t, err)
	assert.Equal(t, record.Ciphertext, got.Ciphertext)
	assert.Equal(t, "db-password", got.Key)

	refs, err := provider.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tgref:abc"}, refs)

	require.NoError(t, provider.Delete(ctx, "tgref:abc"))
	_, err = provider.Get(ctx, "tgref:abc")
	require.ErrorIs(t, err, ErrSecretNotFound)
	require.ErrorIs(t, provider.Delete(ctx, "tgref:abc"), ErrSecretNotFound)
}

func TestEncryptedProvider_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	provider, filePath, key := newTestEncryptedProvider(t)
	ctx := context.Background()

	record := &StoredSecret{
		Reference:  "tgref:persisted",
		Ciphertext: []byte("bytes"),
		Scope:      Scope{OrganizationID: "org-a"},
		Key:        "k",
	}
	require.NoError(t, provider.Put(ctx, record))

	reopened, err := NewEncryptedProvider(filePath, key)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Cleanup() })

	got, err := reopened.Get(ctx, "tgref:persisted")
	require.NoError(t, err)
	assert.Equal(t, record.Ciphertext, got.Ciphertext)
}

func TestEncryptedProvider_FileIsOpaque(t *testing.T) {
	t.Parallel()

	provider, filePath, _ := newTestEncryptedProvider(t)
	require.NoError(t, provider.Put(context.Background(), &StoredSecret{
		Reference:  "tgref:opaque",
		Ciphertext: []byte("inner"),
		Key:        "visible-key-name",
	}))

	contents, err := os.ReadFile(filePath)
	require.NoError(t, err)
	assert.NotContains(t, string(contents), "visible-key-name")
	assert.NotContains(t, string(contents), "tgref:opaque")
}

func TestEncryptedProvider_WrongKey(t *testing.T) {
	t.Parallel()

	provider, filePath, _ := newTestEncryptedProvider(t)
	require.NoError(t, provider.Put(context.Background(), &StoredSecret{
		Reference:  "tgref:x",
		Ciphertext: []byte("bytes"),
		Key:        "k",
	}))

	_, err := NewEncryptedProvider(filePath, testMasterKey(t))
	assert.Error(t, err)
}

func TestEncryptedProvider_EmptyKeyRejected(t *testing.T) {
	t.Parallel()

	_, err := NewEncryptedProvider(filepath.Join(t.TempDir(), "secrets.enc"), nil)
	assert.Error(t, err)
}
