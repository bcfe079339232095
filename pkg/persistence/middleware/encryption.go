package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/seragusa/espalier/pkg/domain"
	"github.com/seragusa/espalier/pkg/ports"
)

const envelopeField = "__encrypted__"

// EncryptionConfig holds the keys for encrypting state at rest.
type EncryptionConfig struct {
	// ActiveKey encrypts new writes. Must be 32 bytes (AES-256).
	ActiveKey []byte

	// FallbackKeys are tried in order when the active key cannot decrypt a
	// record, enabling zero-downtime key rotation.
	FallbackKeys [][]byte
}

type encryptedStore struct {
	next   ports.StateStore
	config EncryptionConfig
}

// NewEncryption returns a middleware that stores state as an AES-GCM
// envelope. The backing store only ever sees an opaque blob plus the
// cursor, so pause status stays observable without exposing the
// transcript. Versioning happens on the envelope, which preserves the
// optimistic-concurrency contract end to end.
func NewEncryption(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.StateStore) ports.StateStore {
		return &encryptedStore{next: next, config: config}
	}
}

func (m *encryptedStore) Save(ctx context.Context, conversationID string, state *domain.State, expectedVersion uint64) error {
	plaintext, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	ciphertext, err := encrypt(plaintext, m.config.ActiveKey)
	if err != nil {
		return fmt.Errorf("encrypt state: %w", err)
	}

	envelope := domain.NewState(conversationID)
	envelope.Cursor = state.Cursor
	envelope.Fields[envelopeField] = base64.StdEncoding.EncodeToString(ciphertext)

	if err := m.next.Save(ctx, conversationID, envelope, expectedVersion); err != nil {
		return err
	}
	state.Version = envelope.Version
	return nil
}

func (m *encryptedStore) Load(ctx context.Context, conversationID string) (*domain.State, error) {
	envelope, err := m.next.Load(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	blob, ok := envelope.Fields[envelopeField].(string)
	if !ok {
		// A record written before encryption was enabled. Fail closed.
		return nil, errors.New("state is missing the encryption envelope")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	plaintext, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return nil, fmt.Errorf("decrypt state: %w", err)
	}

	var state domain.State
	if err := json.Unmarshal(plaintext, &state); err != nil {
		return nil, fmt.Errorf("unmarshal decrypted state: %w", err)
	}
	// The ciphertext holds the version as of the previous save; the
	// envelope's counter is authoritative.
	state.Version = envelope.Version
	return &state, nil
}

func (m *encryptedStore) Delete(ctx context.Context, conversationID string) error {
	return m.next.Delete(ctx, conversationID)
}

func (m *encryptedStore) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func encrypt(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce := ciphertext[:gcm.NonceSize()]
	return gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], nil)
}
