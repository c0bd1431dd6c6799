// Package cryptox implements the credential cipher and webhook signature
// checks. Credentials at rest use the "ivHex:cipherHex" format: a random
// initialization vector per encryption, concatenated with the AES-256-CTR
// ciphertext, both hex-encoded. The cipher key is sha256(serverSecret), so
// secrets shorter than the AES key length still work.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	// ErrInvalidCiphertext is returned when the stored value does not match
	// the ivHex:cipherHex format or fails to decode.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")

	// ErrInvalidKey is returned when the server secret is empty.
	ErrInvalidKey = errors.New("invalid key")
)

// deriveKey hashes the server secret down to the AES-256 key length.
func deriveKey(secret string) [32]byte {
	return sha256.Sum256([]byte(secret))
}

// EncryptString encrypts plaintext with AES-256-CTR and returns
// "ivHex:cipherHex".
func EncryptString(plaintext, secret string) (string, error) {
	if secret == "" {
		return "", ErrInvalidKey
	}

	key := deriveKey(secret)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}

	ciphertext := make([]byte, len(plaintext))
	cipher.NewCTR(block, iv).XORKeyStream(ciphertext, []byte(plaintext))

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptString reverses EncryptString.
func DecryptString(encoded, secret string) (string, error) {
	if secret == "" {
		return "", ErrInvalidKey
	}

	parts := strings.SplitN(encoded, ":", 2)
	if len(parts) != 2 {
		return "", ErrInvalidCiphertext
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != aes.BlockSize {
		return "", ErrInvalidCiphertext
	}
	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	key := deriveKey(secret)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", err
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCTR(block, iv).XORKeyStream(plaintext, ciphertext)

	return string(plaintext), nil
}

// SignHMAC computes the hex-encoded HMAC-SHA256 of body with the shared
// webhook secret.
func SignHMAC(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC reports whether signature matches the HMAC of body under
// secret. Comparison is constant-time.
func VerifyHMAC(body []byte, signature, secret string) bool {
	expected := SignHMAC(body, secret)
	return hmac.Equal([]byte(expected), []byte(strings.TrimPrefix(signature, "sha256=")))
}
