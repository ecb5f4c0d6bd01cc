package secrets_test

import (
	"testing"

	"github.com/pulseboard/authgate/internal/secrets"
	"github.com/stretchr/testify/require"
)

var masterKey = []byte("master-key-for-tests")

func TestEncryptDecryptRoundTrip(t *testing.T) {
	encrypted, err := secrets.EncryptForTenant(masterKey, "tenant-1", "oidc-client-secret")
	require.NoError(t, err)
	require.NotEqual(t, "oidc-client-secret", encrypted)

	plaintext, err := secrets.DecryptForTenant(masterKey, "tenant-1", encrypted)
	require.NoError(t, err)
	require.Equal(t, "oidc-client-secret", plaintext)
}

func TestDecryptFailsForOtherTenant(t *testing.T) {
	encrypted, err := secrets.EncryptForTenant(masterKey, "tenant-1", "oidc-client-secret")
	require.NoError(t, err)

	_, err = secrets.DecryptForTenant(masterKey, "tenant-2", encrypted)
	require.Error(t, err)
}

func TestDecryptFailsForOtherMasterKey(t *testing.T) {
	encrypted, err := secrets.EncryptForTenant(masterKey, "tenant-1", "oidc-client-secret")
	require.NoError(t, err)

	_, err = secrets.DecryptForTenant([]byte("another-master-key"), "tenant-1", encrypted)
	require.Error(t, err)
}

func TestDeriveTenantKeyIsDeterministicPerTenant(t *testing.T) {
	k1, err := secrets.DeriveTenantKey(masterKey, "tenant-1")
	require.NoError(t, err)
	k1again, err := secrets.DeriveTenantKey(masterKey, "tenant-1")
	require.NoError(t, err)
	k2, err := secrets.DeriveTenantKey(masterKey, "tenant-2")
	require.NoError(t, err)

	require.Equal(t, k1, k1again)
	require.NotEqual(t, k1, k2)
	require.Len(t, k1, 32)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	_, err := secrets.DecryptForTenant(masterKey, "tenant-1", "!!!not-base64!!!")
	require.Error(t, err)

	_, err = secrets.DecryptForTenant(masterKey, "tenant-1", "c2hvcnQ")
	require.Error(t, err)
}
