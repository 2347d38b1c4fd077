package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"github.com/fernet/fernet-go"
)

var ErrUndecryptable = errors.New("message text could not be decrypted")

// Encryptor provides symmetric encryption for chat message text at rest.
// New ciphertexts are AES-GCM under a SHA-256 derived key; Fernet tokens
// written by the previous deployment stay readable through legacy keys.
type Encryptor struct {
	aead   cipher.AEAD
	legacy []*fernet.Key
}

func NewEncryptor(secret []byte, legacyKeys []string) (*Encryptor, error) {
	if len(secret) == 0 {
		return nil, errors.New("encryption key must not be empty")
	}
	sum := sha256.Sum256(secret)
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	e := &Encryptor{aead: aead}
	for _, raw := range append([]string{string(secret)}, legacyKeys...) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if k, err := fernet.DecodeKey(raw); err == nil {
			e.legacy = append(e.legacy, k)
		}
	}
	return e, nil
}

func (e *Encryptor) Encrypt(plain string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (e *Encryptor) Decrypt(enc string) (string, error) {
	if plain, ok := e.openGCM(enc); ok {
		return plain, nil
	}
	if len(e.legacy) > 0 {
		// ttl 0 disables the Fernet expiry check
		if plain := fernet.VerifyAndDecrypt([]byte(enc), 0, e.legacy); plain != nil {
			return string(plain), nil
		}
	}
	return "", ErrUndecryptable
}

func (e *Encryptor) openGCM(enc string) (string, bool) {
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil || len(raw) < e.aead.NonceSize() {
		return "", false
	}
	n := e.aead.NonceSize()
	plain, err := e.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", false
	}
	return string(plain), true
}
