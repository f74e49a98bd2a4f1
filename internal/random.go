package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	opaqueTokenSize  = 32
	sessionTokenSize = 32

	MinOTPDigits = 6
	MaxOTPDigits = 10
)

// NewOTP returns a uniformly random decimal code of the given length.
func NewOTP(digits int) (string, error) {
	if digits < MinOTPDigits || digits > MaxOTPDigits {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	otp := b.String()
	if len(otp) != digits {
		return "", fmt.Errorf("invalid otp generation length")
	}
	return otp, nil
}

// NewOpaqueToken returns 256 random bits, base64url without padding.
func NewOpaqueToken() (string, error) {
	return randomURLString(opaqueTokenSize)
}

// NewSessionToken returns a fresh bearer token for a session.
func NewSessionToken() (string, error) {
	return randomURLString(sessionTokenSize)
}

func randomURLString(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// IsOTP reports whether code has the shape of an n-digit decimal code.
func IsOTP(code string, digits int) bool {
	if len(code) != digits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// IsOpaqueToken reports whether token decodes to the opaque token size.
func IsOpaqueToken(token string) bool {
	if base64.RawURLEncoding.EncodedLen(opaqueTokenSize) != len(token) {
		return false
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	return err == nil && len(raw) == opaqueTokenSize
}

// IsSessionToken reports whether token has the shape of a session token.
func IsSessionToken(token string) bool {
	if base64.RawURLEncoding.EncodedLen(sessionTokenSize) != len(token) {
		return false
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	return err == nil && len(raw) == sessionTokenSize
}
