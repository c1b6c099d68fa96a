package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACHeadersVerify(t *testing.T) {
	auth := HMACAuth{Key: "k1", Secret: "s3cret"}
	h := auth.HeadersAt("GET", "/ws", 1767225600)

	assert.Equal(t, "k1", h.Get(HeaderKey))
	assert.Equal(t, "1767225600", h.Get(HeaderTimestamp))
	assert.Equal(t, Sign([]byte("s3cret"), "1767225600GET/ws"), h.Get(HeaderSignature))

	assert.True(t, Verify([]byte("s3cret"), "GET", "/ws", h))
	assert.False(t, Verify([]byte("other"), "GET", "/ws", h))
	assert.False(t, Verify([]byte("s3cret"), "GET", "/quotes", h))

	h.Del(HeaderTimestamp)
	assert.False(t, Verify([]byte("s3cret"), "GET", "/ws", h))
}

func TestEncryptDecryptSecret(t *testing.T) {
	blob, err := EncryptSecret("feed-secret", "pw")
	require.NoError(t, err)

	got, err := DecryptSecret(blob, "pw")
	require.NoError(t, err)
	assert.Equal(t, "feed-secret", got)

	_, err = DecryptSecret(blob, "wrong")
	assert.ErrorContains(t, err, "decryption failed")

	_, err = EncryptSecret("x", "")
	assert.Error(t, err)
	_, err = DecryptSecret([]byte(`{"version":9}`), "pw")
	assert.ErrorContains(t, err, "unsupported version")
}

func TestLoadSecret(t *testing.T) {
	got, err := LoadSecret(SecretConfig{Raw: "plain", EncryptedPath: "/nonexistent"})
	require.NoError(t, err)
	assert.Equal(t, "plain", got)

	got, err = LoadSecret(SecretConfig{})
	require.NoError(t, err)
	assert.Empty(t, got)

	blob, err := EncryptSecret("from-file", "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "secret.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadSecret(SecretConfig{EncryptedPath: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "from-file", got)

	_, err = LoadSecret(SecretConfig{EncryptedPath: filepath.Join(t.TempDir(), "missing")})
	assert.ErrorContains(t, err, "reading encrypted secret")
}
