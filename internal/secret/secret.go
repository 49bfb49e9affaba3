package secret

import (
	"crypto/rand"
	"encoding/base64"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/nacl/secretbox"
)

// Prefix tags values produced by a Codec so legacy plaintext can be told apart.
const Prefix = "enc:"

const (
	keySize   = 32
	nonceSize = 24
)

// Codec turns stored credentials into an opaque form and back.
type Codec interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(opaque string) (string, error)
}

// IsEncoded reports whether value carries the codec tag.
func IsEncoded(value string) bool {
	return strings.HasPrefix(value, Prefix)
}

// Passthrough stores values as-is. Used when no key is configured.
type Passthrough struct{}

func (Passthrough) Encrypt(plaintext string) (string, error) { return plaintext, nil }

func (Passthrough) Decrypt(opaque string) (string, error) {
	if IsEncoded(opaque) {
		return "", errors.New("value is encrypted but no key is configured")
	}
	return opaque, nil
}

// Box seals values with NaCl secretbox under a fixed 32 byte key.
type Box struct {
	key [keySize]byte
}

// NewBox creates a Box from raw key material.
func NewBox(key []byte) (*Box, error) {
	if len(key) != keySize {
		return nil, errors.Newf("secret key must be %d bytes, got %d", keySize, len(key))
	}
	b := &Box{}
	copy(b.key[:], key)
	return b, nil
}

// LoadOrCreateKey reads the key file at path, generating one with mode 0600 if it does not exist.
func LoadOrCreateKey(path string) (*Box, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		key, decErr := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
		if decErr != nil {
			return nil, errors.Wrapf(decErr, "failed to decode key file %s", path)
		}
		return NewBox(key)
	}
	if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "failed to read key file %s", path)
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, errors.Wrap(err, "failed to generate key")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.Wrap(err, "failed to create key directory")
	}
	encoded := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(path, []byte(encoded+"\n"), 0600); err != nil {
		return nil, errors.Wrapf(err, "failed to write key file %s", path)
	}
	return NewBox(key)
}

// Encrypt seals plaintext. Empty and already-tagged values are returned unchanged.
func (b *Box) Encrypt(plaintext string) (string, error) {
	if plaintext == "" || IsEncoded(plaintext) {
		return plaintext, nil
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", errors.Wrap(err, "failed to generate nonce")
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &b.key)
	return Prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a tagged value. Untagged values are legacy plaintext and pass through.
func (b *Box) Decrypt(opaque string) (string, error) {
	if !IsEncoded(opaque) {
		return opaque, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(opaque, Prefix))
	if err != nil {
		return "", errors.Wrap(err, "failed to decode secret")
	}
	if len(raw) < nonceSize+secretbox.Overhead {
		return "", errors.New("secret too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &b.key)
	if !ok {
		return "", errors.New("failed to open secret: wrong key or corrupted value")
	}
	return string(plain), nil
}
