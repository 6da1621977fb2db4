package license

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// kdfIterations is the PBKDF2 round count for the device-derived key.
	kdfIterations = 10000
	// keySize is the AES-256 key length.
	keySize = 32
)

// kdfSalt is the application salt mixed into the device-derived key.
var kdfSalt = []byte("casevault-license-v1")

// ErrDecryptFailed indicates the stored license could not be decrypted,
// typically because it was written on a different device or corrupted.
var ErrDecryptFailed = errors.New("stored license could not be decrypted")

// deriveKey builds the record encryption key from the device identity, so
// a license file copied to another machine cannot be opened there.
func deriveKey(deviceID string) []byte {
	return pbkdf2.Key([]byte(deviceID), kdfSalt, kdfIterations, keySize, sha256.New)
}

// encryptRecord encrypts plaintext with AES-256-GCM under the
// device-derived key, returning "<hexNonce>:<hexCiphertext>".
func encryptRecord(deviceID string, plaintext []byte) (string, error) {
	block, err := aes.NewCipher(deriveKey(deviceID))
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(ciphertext), nil
}

// decryptRecord reverses encryptRecord. Any structural or cryptographic
// failure maps to ErrDecryptFailed.
func decryptRecord(deviceID, encrypted string) ([]byte, error) {
	parts := strings.SplitN(encrypted, ":", 2)
	if len(parts) != 2 {
		return nil, ErrDecryptFailed
	}
	nonce, err := hex.DecodeString(parts[0])
	if err != nil {
		return nil, ErrDecryptFailed
	}
	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil {
		return nil, ErrDecryptFailed
	}

	block, err := aes.NewCipher(deriveKey(deviceID))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, ErrDecryptFailed
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}
