package internal

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MinSecretSize is the minimum length of the process-wide digest secret.
const MinSecretSize = 32

const (
	challengeKeyInfo = "goaccount/challenge-digest/v1"
	sessionKeyInfo   = "goaccount/session-token-digest/v1"
)

// Keyring holds the subkeys derived from the process-wide secret. It is
// read-only after construction and safe for concurrent use.
type Keyring struct {
	challengeKey [32]byte
	sessionKey   [32]byte
}

// NewKeyring derives independent HMAC keys for challenge codes and session
// tokens from secret.
func NewKeyring(secret []byte) (*Keyring, error) {
	if len(secret) < MinSecretSize {
		return nil, errors.New("digest secret must be at least 32 bytes")
	}

	k := &Keyring{}
	if err := derive(secret, challengeKeyInfo, k.challengeKey[:]); err != nil {
		return nil, err
	}
	if err := derive(secret, sessionKeyInfo, k.sessionKey[:]); err != nil {
		return nil, err
	}
	return k, nil
}

func derive(secret []byte, info string, out []byte) error {
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	_, err := io.ReadFull(r, out)
	return err
}

// ChallengeDigest binds code to its account and purpose so a digest copied
// between records never matches.
func (k *Keyring) ChallengeDigest(accountID string, purpose uint8, code string) [32]byte {
	mac := hmac.New(sha256.New, k.challengeKey[:])
	mac.Write([]byte{purpose})
	writeField(mac, accountID)
	writeField(mac, code)

	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// TokenDigest is the storage key material for a session token.
func (k *Keyring) TokenDigest(token string) [32]byte {
	mac := hmac.New(sha256.New, k.sessionKey[:])
	mac.Write([]byte(token))

	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

func writeField(w io.Writer, s string) {
	n := len(s)
	_, _ = w.Write([]byte{byte(n >> 8), byte(n)})
	_, _ = io.WriteString(w, s)
}

// DigestEqual compares two digests in constant time.
func DigestEqual(a, b [32]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
