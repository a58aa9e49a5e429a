// Package crypto encrypts serialized credential blobs before they are
// persisted alongside catalog rows. Credentials are sealed with AES-256-GCM
// under a key derived from the process-wide storage secret; the nonce is
// prepended to the ciphertext and the result is base64 encoded for storage
// in a text column.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"

	"golang.org/x/crypto/argon2"

	gwerrors "github.com/cloudgate/cloudgate/pkg/errors"
)

// keySalt is fixed per service: the secret itself is the only input that
// must stay private, and a stable salt keeps blobs decryptable across
// restarts.
var keySalt = []byte("cloudgate.credentials.v1")

// Encryptor seals and opens credential blobs with a key derived from a
// shared secret.
type Encryptor struct {
	key []byte
}

// New derives a 256-bit AES key from secret using argon2id.
func New(secret string) *Encryptor {
	return &Encryptor{
		key: argon2.IDKey([]byte(secret), keySalt, 1, 64*1024, 4, 32),
	}
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext).
func (e *Encryptor) Encrypt(plaintext []byte) (string, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", gwerrors.New(gwerrors.ErrCodeEncryptionFailed, "cipher init failed").WithCause(err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", gwerrors.New(gwerrors.ErrCodeEncryptionFailed, "gcm init failed").WithCause(err)
	}

	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", gwerrors.New(gwerrors.ErrCodeEncryptionFailed, "nonce generation failed").WithCause(err)
	}

	sealed := aesgcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt. Opening with a different secret
// fails loudly: GCM authentication rejects the ciphertext.
func (e *Encryptor) Decrypt(encoded string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, gwerrors.New(gwerrors.ErrCodeEncryptionFailed, "blob is not valid base64").WithCause(err)
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, gwerrors.New(gwerrors.ErrCodeEncryptionFailed, "cipher init failed").WithCause(err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, gwerrors.New(gwerrors.ErrCodeEncryptionFailed, "gcm init failed").WithCause(err)
	}

	if len(sealed) < aesgcm.NonceSize() {
		return nil, gwerrors.New(gwerrors.ErrCodeEncryptionFailed, "blob is too short")
	}

	nonce, ciphertext := sealed[:aesgcm.NonceSize()], sealed[aesgcm.NonceSize():]
	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, gwerrors.New(gwerrors.ErrCodeEncryptionFailed, "decryption failed").WithCause(err)
	}
	return plaintext, nil
}

// EncryptCredentials serializes a credential bundle to JSON and seals it.
func (e *Encryptor) EncryptCredentials(creds map[string]string) (string, error) {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return "", gwerrors.New(gwerrors.ErrCodeEncryptionFailed, "credential serialization failed").WithCause(err)
	}
	return e.Encrypt(plaintext)
}

// DecryptCredentials opens a blob produced by EncryptCredentials.
func (e *Encryptor) DecryptCredentials(blob string) (map[string]string, error) {
	plaintext, err := e.Decrypt(blob)
	if err != nil {
		return nil, err
	}
	var creds map[string]string
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, gwerrors.New(gwerrors.ErrCodeEncryptionFailed, "credential deserialization failed").WithCause(err)
	}
	return creds, nil
}
