package state

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"
)

// EncryptionKeyEnvVar names the passphrase for at-rest state
// encryption. The AES-256 key is the SHA-256 digest of its value, so
// the whole passphrase matters, not just a fixed-length prefix.
const EncryptionKeyEnvVar = "CONVERGE_STATE_KEY"

// encryptedHeader marks an encrypted state payload. Everything after it
// is base64: a GCM nonce followed by the sealed snapshot.
const encryptedHeader = "# CONVERGE_ENCRYPTED_STATE\n"

// stateAEAD builds the cipher from the configured passphrase. A nil
// AEAD with a nil error means encryption is off.
func stateAEAD() (cipher.AEAD, error) {
	passphrase := os.Getenv(EncryptionKeyEnvVar)
	if passphrase == "" {
		return nil, nil
	}
	key := sha256.Sum256([]byte(passphrase))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// EncryptState seals encoded state when a passphrase is configured and
// passes it through untouched otherwise.
func EncryptState(content []byte) ([]byte, error) {
	gcm, err := stateAEAD()
	if err != nil {
		return nil, err
	}
	if gcm == nil {
		return content, nil
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, content, nil)
	return []byte(encryptedHeader + base64.StdEncoding.EncodeToString(sealed) + "\n"), nil
}

// DecryptState opens an encrypted state payload. Plaintext passes
// through unchanged so state files written before a key was configured
// keep loading.
func DecryptState(content []byte) ([]byte, error) {
	if !IsEncrypted(content) {
		return content, nil
	}

	gcm, err := stateAEAD()
	if err != nil {
		return nil, err
	}
	if gcm == nil {
		return nil, fmt.Errorf("state file is encrypted but %s is not set", EncryptionKeyEnvVar)
	}

	encoded := strings.TrimSpace(strings.TrimPrefix(string(content), encryptedHeader))
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encrypted state: %w", err)
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("encrypted state is truncated")
	}

	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt state (wrong key?): %w", err)
	}
	return plaintext, nil
}

// IsEncrypted reports whether the payload carries the encryption
// header.
func IsEncrypted(content []byte) bool {
	return strings.HasPrefix(string(content), encryptedHeader)
}
