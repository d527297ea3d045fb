// Package phi encrypts personally identifiable appointment fields at rest and decides,
// per read, whether the caller sees plaintext.
package phi

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/model"
	"golang.org/x/crypto/chacha20poly1305"
)

// Masked replaces any field the viewer may not read.
const Masked = "***"

const sealedPrefix = "enc:v1:"

type Gateway interface {
	Encrypt(plaintext string) (string, error)
	DecryptFor(ciphertext string, viewer Viewer) string
}

// Viewer is the read capability of one caller over one appointment. It is decided once at
// the boundary so readers of ciphertext never branch on roles themselves.
type Viewer struct {
	cleared bool
}

// ViewerFor grants plaintext to the subject, the assigned provider, clinical staff and
// administrators.
func ViewerFor(actor model.Actor, appt model.Appointment) Viewer {
	switch {
	case actor.ID == "":
		return Viewer{}
	case actor.ID == appt.SubjectID, actor.ID == appt.ProviderID:
		return Viewer{cleared: true}
	case actor.Clinical(), actor.Admin():
		return Viewer{cleared: true}
	}
	return Viewer{}
}

// Cleared returns a viewer allowed to read everything.
func Cleared() Viewer { return Viewer{cleared: true} }

// Cipher seals fields with XChaCha20-Poly1305 under a 32-byte key.
type Cipher struct {
	aead cipher.AEAD
}

func NewCipher(key []byte) (*Cipher, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("phi cipher: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// FromHexKey builds the gateway for a hex encoded key. An empty key disables encryption.
func FromHexKey(raw string) (Gateway, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Plaintext{}, nil
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("phi key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("phi key: must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return NewCipher(key)
}

func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("phi encrypt: generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptFor returns the plaintext when viewer is cleared and Masked otherwise. Values
// written before encryption was enabled are returned as they are.
func (c *Cipher) DecryptFor(ciphertext string, viewer Viewer) string {
	if ciphertext == "" {
		return ""
	}
	if !viewer.cleared {
		return Masked
	}
	if !strings.HasPrefix(ciphertext, sealedPrefix) {
		return ciphertext
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, sealedPrefix))
	if err != nil || len(data) < c.aead.NonceSize() {
		return Masked
	}
	nonce, body := data[:c.aead.NonceSize()], data[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, body, nil)
	if err != nil {
		return Masked
	}
	return string(plaintext)
}

// Plaintext stores fields unencrypted. Only for development.
type Plaintext struct{}

func (Plaintext) Encrypt(plaintext string) (string, error) { return plaintext, nil }

func (Plaintext) DecryptFor(ciphertext string, viewer Viewer) string {
	if ciphertext == "" {
		return ""
	}
	if !viewer.cleared || strings.HasPrefix(ciphertext, sealedPrefix) {
		return Masked
	}
	return ciphertext
}
