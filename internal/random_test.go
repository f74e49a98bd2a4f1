package internal

import (
	"bytes"
	"testing"
)

func testKeyring(t *testing.T) *Keyring {
	t.Helper()
	k, err := NewKeyring(bytes.Repeat([]byte{0x42}, MinSecretSize))
	if err != nil {
		t.Fatalf("NewKeyring failed: %v", err)
	}
	return k
}

func TestNewKeyringRejectsShortSecret(t *testing.T) {
	if _, err := NewKeyring([]byte("short")); err == nil {
		t.Fatal("expected short secret to be rejected")
	}
}

func TestNewOTPShape(t *testing.T) {
	for _, digits := range []int{6, 8, 10} {
		code, err := NewOTP(digits)
		if err != nil {
			t.Fatalf("NewOTP(%d) failed: %v", digits, err)
		}
		if !IsOTP(code, digits) {
			t.Fatalf("NewOTP(%d) produced %q", digits, code)
		}
	}
	if _, err := NewOTP(4); err == nil {
		t.Fatal("expected 4 digits to be rejected")
	}
}

func TestOpaqueTokenShape(t *testing.T) {
	tok, err := NewOpaqueToken()
	if err != nil {
		t.Fatalf("NewOpaqueToken failed: %v", err)
	}
	if !IsOpaqueToken(tok) {
		t.Fatalf("token %q not recognised", tok)
	}
	if IsOpaqueToken(tok[:len(tok)-1]) {
		t.Fatal("truncated token must be rejected")
	}
}

func TestChallengeDigestBindsAccountAndPurpose(t *testing.T) {
	k := testKeyring(t)

	base := k.ChallengeDigest("acct-1", 1, "123456")
	if !DigestEqual(base, k.ChallengeDigest("acct-1", 1, "123456")) {
		t.Fatal("digest must be deterministic")
	}
	if DigestEqual(base, k.ChallengeDigest("acct-2", 1, "123456")) {
		t.Fatal("digest must depend on account")
	}
	if DigestEqual(base, k.ChallengeDigest("acct-1", 2, "123456")) {
		t.Fatal("digest must depend on purpose")
	}
	if DigestEqual(base, k.ChallengeDigest("acct-112", 1, "3456")) {
		t.Fatal("field boundaries must be unambiguous")
	}
}

func TestTokenDigestUsesSeparateKey(t *testing.T) {
	k := testKeyring(t)
	if k.challengeKey == k.sessionKey {
		t.Fatal("subkeys must differ")
	}
}

func TestGeneratorRoundTrip(t *testing.T) {
	g := NewCodeGenerator(testKeyring(t))
	policy := CodePolicy{Kind: CodeNumeric, Digits: 6}

	code, digest, err := g.Generate(policy, "acct-1", 1)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !g.WellFormed(policy, code) {
		t.Fatalf("generated code %q is not well formed", code)
	}
	if !DigestEqual(digest, g.Digest("acct-1", 1, code)) {
		t.Fatal("digest of generated code must match")
	}
	if _, _, err := g.Generate(CodePolicy{Kind: 99}, "acct-1", 1); err == nil {
		t.Fatal("expected unknown kind to fail")
	}
}
