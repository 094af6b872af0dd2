package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fernet/fernet-go"
)

// ErrDecrypt is returned for every failure to open an envelope: wrong key,
// tampering, malformed encoding or an unknown version.
var ErrDecrypt = errors.New("failed to decrypt message payload")

const (
	envelopeVersion = "v1"
	envelopePrefix  = envelopeVersion + "."

	// NonceSize and TagSize are the fixed AES-GCM parameters of envelope v1.
	NonceSize = 12
	TagSize   = 16
)

var envelopeEncoding = base64.RawURLEncoding.Strict()

// MessageCipher encrypts message content into a single-string envelope:
//
//	"v1." + base64url(nonce || ciphertext || tag)
//
// using AES-256-GCM with the version label as additional data.
// A fresh random nonce is drawn for every call to Encrypt.
type MessageCipher struct {
	rand       io.Reader
	fernetKeys []*fernet.Key
}

type CipherOption func(*MessageCipher)

// WithLegacyKeys lets Decrypt open Fernet tokens produced by the previous
// app-wide encryptor. Keys that do not parse are ignored.
func WithLegacyKeys(keys []string) CipherOption {
	return func(c *MessageCipher) {
		for _, raw := range keys {
			if fk := parseFernetKey(raw); fk != nil {
				c.fernetKeys = append(c.fernetKeys, fk)
			}
		}
	}
}

// WithRandReader overrides the nonce source. Intended for tests.
func WithRandReader(r io.Reader) CipherOption {
	return func(c *MessageCipher) {
		c.rand = r
	}
}

func NewMessageCipher(opts ...CipherOption) *MessageCipher {
	c := &MessageCipher{rand: rand.Reader}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func parseFernetKey(raw string) *fernet.Key {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}

	key, err := fernet.DecodeKey(trimmed)
	if err != nil {
		return nil
	}
	return key
}

func newGCM(key Key) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, NonceSize)
}

func (c *MessageCipher) Encrypt(plain string, key Key) (string, error) {
	aead, err := newGCM(key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	nonce := make([]byte, NonceSize, NonceSize+len(plain)+TagSize)
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plain), []byte(envelopeVersion))
	return envelopePrefix + envelopeEncoding.EncodeToString(sealed), nil
}

func (c *MessageCipher) Decrypt(envelope string, key Key) (string, error) {
	if !strings.HasPrefix(envelope, envelopePrefix) {
		return c.decryptLegacy(envelope)
	}

	raw, err := envelopeEncoding.DecodeString(envelope[len(envelopePrefix):])
	if err != nil {
		return "", fmt.Errorf("%w: malformed envelope", ErrDecrypt)
	}
	if len(raw) < NonceSize+TagSize {
		return "", fmt.Errorf("%w: envelope too short", ErrDecrypt)
	}

	aead, err := newGCM(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	plain, err := aead.Open(nil, raw[:NonceSize], raw[NonceSize:], []byte(envelopeVersion))
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrDecrypt)
	}
	return string(plain), nil
}

func (c *MessageCipher) decryptLegacy(token string) (string, error) {
	if len(c.fernetKeys) > 0 {
		if plain := fernet.VerifyAndDecrypt([]byte(token), 0*time.Second, c.fernetKeys); plain != nil {
			return string(plain), nil
		}
	}
	return "", fmt.Errorf("%w: unsupported envelope", ErrDecrypt)
}
