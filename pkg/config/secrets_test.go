package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptSecretsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	secrets := map[string]string{
		SecretCredentials:   "key-a,key-b",
		"ANTHROPIC_API_KEY": "sk-ant-test",
	}

	require.NoError(t, EncryptSecretsFile(dir, "pw-12345", secrets))
	assert.True(t, SecretsFileExists(dir))

	info, err := os.Stat(SecretsPath(dir))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	got, err := DecryptSecretsFile(dir, "pw-12345")
	require.NoError(t, err)
	assert.Equal(t, secrets, got)
}

func TestDecryptWithWrongPassword(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EncryptSecretsFile(dir, "right", map[string]string{"K": "v"}))

	_, err := DecryptSecretsFile(dir, "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrong password")
}

func TestDecryptFixesPermissions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EncryptSecretsFile(dir, "pw", map[string]string{"K": "v"}))
	require.NoError(t, os.Chmod(SecretsPath(dir), 0644))

	_, err := DecryptSecretsFile(dir, "pw")
	require.NoError(t, err)

	info, err := os.Stat(SecretsPath(dir))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestDecryptRejectsTruncatedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EncryptSecretsFile(dir, "pw", map[string]string{"K": "v"}))
	require.NoError(t, os.WriteFile(SecretsPath(dir), []byte("short"), 0600))

	_, err := DecryptSecretsFile(dir, "pw")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too small")
}

func TestGetSecretPrecedence(t *testing.T) {
	t.Cleanup(ClearDecryptedSecrets)
	t.Setenv("CODEFORGE_TEST_SECRET", "from-env")

	v, err := GetSecret("CODEFORGE_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "from-env", v)

	SetDecryptedSecrets(map[string]string{"CODEFORGE_TEST_SECRET": "from-file"})
	v, err = GetSecret("CODEFORGE_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "from-file", v)
	assert.Equal(t, []string{"CODEFORGE_TEST_SECRET"}, DecryptedSecretNames())

	_, err = GetSecret("CODEFORGE_MISSING_SECRET")
	assert.Error(t, err)
}
