package security

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"dmcore/internal/domain"
)

// KeySize is the length in bytes of a conversation key.
const KeySize = 32

// MinSecretSize is the minimum length of the application-wide secret.
const MinSecretSize = 32

const keyInfoLabel = "dm-conversation-key/v1"

// Key is a 256-bit symmetric conversation key. It is never persisted.
type Key [KeySize]byte

// KeyDeriver derives per-conversation keys from a pair of user ids and
// the application-wide secret it was constructed with.
type KeyDeriver struct {
	secret []byte
}

func NewKeyDeriver(secret []byte) (*KeyDeriver, error) {
	if len(secret) < MinSecretSize {
		return nil, fmt.Errorf("conversation secret must be at least %d bytes", MinSecretSize)
	}
	s := make([]byte, len(secret))
	copy(s, secret)
	return &KeyDeriver{secret: s}, nil
}

// CanonicalPair returns the two ids in sorted order.
func CanonicalPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

// ValidatePair checks that the ids can form a conversation.
func ValidatePair(a, b string) error {
	if a == "" || b == "" {
		return fmt.Errorf("%w: empty user id", domain.ErrInvalidInput)
	}
	if strings.IndexByte(a, 0) >= 0 || strings.IndexByte(b, 0) >= 0 {
		return fmt.Errorf("%w: user id contains NUL", domain.ErrInvalidInput)
	}
	if a == b {
		return domain.ErrSelfConversation
	}
	return nil
}

// Derive returns the conversation key for the unordered pair (a, b).
// Derive(a, b) and Derive(b, a) always yield the same key.
func (d *KeyDeriver) Derive(a, b string) (Key, error) {
	var k Key
	if err := ValidatePair(a, b); err != nil {
		return k, err
	}
	lo, hi := CanonicalPair(a, b)

	info := make([]byte, 0, len(keyInfoLabel)+len(lo)+len(hi)+2)
	info = append(info, keyInfoLabel...)
	info = append(info, 0)
	info = append(info, lo...)
	info = append(info, 0)
	info = append(info, hi...)

	r := hkdf.New(sha256.New, d.secret, nil, info)
	if _, err := io.ReadFull(r, k[:]); err != nil {
		return Key{}, errors.Join(errors.New("derive conversation key"), err)
	}
	return k, nil
}
