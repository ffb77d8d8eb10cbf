package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrDecryptionFailed is returned when a ciphertext fails authentication:
// tampered payload, truncated envelope, or wrong key. It is fatal for the
// artifact and must never be retried or masked.
var ErrDecryptionFailed = errors.New("decryption failed: ciphertext invalid or wrong key")

// KeySize is the required key length in bytes (XChaCha20-Poly1305).
const KeySize = chacha20poly1305.KeySize

// Keyring holds the process-wide key material with an explicit load/rotate
// lifecycle. Keys come from configuration at startup, never derived from
// pipeline content. The newest key encrypts; earlier keys stay available so
// blobs sealed before a rotation remain readable.
type Keyring struct {
	mu   sync.RWMutex
	keys [][]byte // newest first
}

// LoadKeyring parses a hex-encoded 32-byte key from configuration.
func LoadKeyring(hexKey string) (*Keyring, error) {
	key, err := parseKey(hexKey)
	if err != nil {
		return nil, err
	}
	return &Keyring{keys: [][]byte{key}}, nil
}

// Rotate installs a new active key. Previous keys are retained for
// decryption only.
func (k *Keyring) Rotate(hexKey string) error {
	key, err := parseKey(hexKey)
	if err != nil {
		return err
	}
	k.mu.Lock()
	k.keys = append([][]byte{key}, k.keys...)
	k.mu.Unlock()
	return nil
}

func parseKey(hexKey string) ([]byte, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

func (k *Keyring) current() []byte {
	k.mu.RLock()
	key := k.keys[0]
	k.mu.RUnlock()
	return key
}

func (k *Keyring) all() [][]byte {
	k.mu.RLock()
	keys := append([][]byte(nil), k.keys...)
	k.mu.RUnlock()
	return keys
}

// Service encrypts and decrypts byte blobs at rest with XChaCha20-Poly1305.
// The envelope is nonce || ciphertext+tag; authentication failures surface as
// ErrDecryptionFailed rather than garbage plaintext. Calls are stateless apart
// from the shared keyring and safe for concurrent use.
type Service struct {
	keys *Keyring
}

// NewService creates an encryption service bound to a keyring.
func NewService(keys *Keyring) *Service {
	return &Service{keys: keys}
}

// Encrypt seals plaintext under the active key with a random nonce.
func (s *Service) Encrypt(plain []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.keys.current())
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plain, nil), nil
}

// Decrypt opens an envelope produced by Encrypt, trying every key in the
// keyring newest-first so blobs sealed before a rotation still open.
func (s *Service) Decrypt(blob []byte) ([]byte, error) {
	if len(blob) < chacha20poly1305.NonceSizeX {
		return nil, ErrDecryptionFailed
	}
	nonce, ct := blob[:chacha20poly1305.NonceSizeX], blob[chacha20poly1305.NonceSizeX:]

	for _, key := range s.keys.all() {
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			continue
		}
		if plain, err := aead.Open(nil, nonce, ct, nil); err == nil {
			return plain, nil
		}
	}
	return nil, ErrDecryptionFailed
}
