package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	enc := New("storage-secret")

	plaintext := []byte(`{"access_token":"sl.abc123","refresh_token":"xyz"}`)

	blob, err := enc.Encrypt(plaintext)
	require.NoError(t, err)
	require.NotEmpty(t, blob)
	assert.NotContains(t, blob, "sl.abc123")

	got, err := enc.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestEncrypt_NonDeterministic(t *testing.T) {
	enc := New("storage-secret")

	a, err := enc.Encrypt([]byte("same input"))
	require.NoError(t, err)
	b, err := enc.Encrypt([]byte("same input"))
	require.NoError(t, err)

	// Fresh nonce per call.
	assert.NotEqual(t, a, b)
}

func TestDecrypt_WrongSecretFails(t *testing.T) {
	blob, err := New("right-secret").Encrypt([]byte("credential payload"))
	require.NoError(t, err)

	got, err := New("wrong-secret").Decrypt(blob)
	assert.Error(t, err)
	assert.Nil(t, got)
}

func TestDecrypt_MalformedInput(t *testing.T) {
	enc := New("secret")

	t.Run("not base64", func(t *testing.T) {
		_, err := enc.Decrypt("%%% not base64 %%%")
		assert.Error(t, err)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := enc.Decrypt("dG9vc2hvcnQ=")
		assert.Error(t, err)
	})

	t.Run("tampered ciphertext", func(t *testing.T) {
		blob, err := enc.Encrypt([]byte("payload"))
		require.NoError(t, err)
		tampered := "A" + blob[1:]
		if tampered == blob {
			tampered = "B" + blob[1:]
		}
		_, err = enc.Decrypt(tampered)
		assert.Error(t, err)
	})
}

func TestCredentials_RoundTrip(t *testing.T) {
	enc := New("storage-secret")

	creds := map[string]string{
		"B2_KEY_ID":  "0012ab34cd56",
		"B2_APP_KEY": "K001abcdefgh",
		"B2_BUCKET":  "cloudgate-files",
	}

	blob, err := enc.EncryptCredentials(creds)
	require.NoError(t, err)

	got, err := enc.DecryptCredentials(blob)
	require.NoError(t, err)
	assert.Equal(t, creds, got)
}
