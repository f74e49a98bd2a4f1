package internal

import "fmt"

// CodeKind selects the alphabet and length policy of a verification code.
type CodeKind uint8

const (
	// CodeNumeric is a short decimal code meant to be typed by a person.
	CodeNumeric CodeKind = iota + 1
	// CodeOpaque is a long URL-safe token meant to be carried in a link.
	CodeOpaque
)

// CodePolicy describes how codes for one purpose are produced.
type CodePolicy struct {
	Kind   CodeKind
	Digits int
}

// CodeGenerator produces verification codes and their keyed digests.
type CodeGenerator struct {
	keys *Keyring
}

// NewCodeGenerator returns a generator digesting codes with keys.
func NewCodeGenerator(keys *Keyring) *CodeGenerator {
	return &CodeGenerator{keys: keys}
}

// Generate returns a fresh plaintext code and the digest to persist. The
// plaintext must only be handed to the dispatcher.
func (g *CodeGenerator) Generate(policy CodePolicy, accountID string, purpose uint8) (string, [32]byte, error) {
	var (
		code string
		err  error
	)
	switch policy.Kind {
	case CodeNumeric:
		code, err = NewOTP(policy.Digits)
	case CodeOpaque:
		code, err = NewOpaqueToken()
	default:
		return "", [32]byte{}, fmt.Errorf("unknown code kind %d", policy.Kind)
	}
	if err != nil {
		return "", [32]byte{}, err
	}
	return code, g.keys.ChallengeDigest(accountID, purpose, code), nil
}

// WellFormed reports whether a submitted code can possibly be valid under
// policy. Malformed submissions are rejected before touching the store.
func (g *CodeGenerator) WellFormed(policy CodePolicy, code string) bool {
	switch policy.Kind {
	case CodeNumeric:
		return IsOTP(code, policy.Digits)
	case CodeOpaque:
		return IsOpaqueToken(code)
	}
	return false
}

// Digest recomputes the digest of a submitted code.
func (g *CodeGenerator) Digest(accountID string, purpose uint8, code string) [32]byte {
	return g.keys.ChallengeDigest(accountID, purpose, code)
}
