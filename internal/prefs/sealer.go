package prefs

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	sealPrefix = "v1:"
	nonceSize  = 12
	scryptN    = 32768 // 2^15
	scryptR    = 8
	scryptP    = 1
	keySize    = 32 // AES-256
)

// sealSalt is fixed so the key is derived once per process; the secret itself
// never leaves the server.
var sealSalt = []byte("hydraflow/credential-seal")

// ErrUnsealable is returned when a stored value cannot be decrypted.
var ErrUnsealable = errors.New("credential cannot be unsealed")

// Sealer encrypts credentials at rest with AES-GCM.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the sealing key from secret with scrypt. An empty secret
// yields a random per-process key, so stored credentials do not survive a restart.
func NewSealer(secret string) (*Sealer, error) {
	var key []byte
	if secret == "" {
		key = make([]byte, keySize)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate key: %w", err)
		}
	} else {
		derived, err := scrypt.Key([]byte(secret), sealSalt, scryptN, scryptR, scryptP, keySize)
		if err != nil {
			return nil, fmt.Errorf("failed to derive encryption key: %w", err)
		}
		key = derived
	}
	defer func() {
		for i := range key {
			key[i] = 0
		}
	}()

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Sealer{aead: gcm}, nil
}

// Seal encrypts plaintext into a printable token.
func (s *Sealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a token produced by Seal.
func (s *Sealer) Open(token string) (string, error) {
	raw, ok := strings.CutPrefix(token, sealPrefix)
	if !ok {
		return "", ErrUnsealable
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(data) < nonceSize {
		return "", ErrUnsealable
	}
	plaintext, err := s.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", ErrUnsealable
	}
	return string(plaintext), nil
}
