package stores

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

const challengeRecordVersionV1 = 1

// ErrMalformedRecord marks a stored value that could not be decoded. Such
// records are discarded, never trusted.
var ErrMalformedRecord = errors.New("malformed challenge record")

// Challenge is the in-memory copy of a persisted verification challenge.
type Challenge struct {
	ID        string
	AccountID string
	Purpose   uint8
	Digest    [32]byte
	IssuedAt  time.Time
	ExpiresAt time.Time
	Attempts  uint16
}

// LiveAt reports whether c can still be matched at now.
func (c *Challenge) LiveAt(now time.Time, maxAttempts int) bool {
	return now.Before(c.ExpiresAt) && int(c.Attempts) < maxAttempts
}

func encodeChallenge(c *Challenge) ([]byte, error) {
	if len(c.AccountID) > 0xffff {
		return nil, errors.New("account id too long")
	}
	if len(c.ID) > 0xff {
		return nil, errors.New("challenge id too long")
	}

	var buf bytes.Buffer
	buf.Grow(1 + 1 + 2 + 8 + 8 + 2 + len(c.AccountID) + 1 + len(c.ID) + 32)

	buf.WriteByte(challengeRecordVersionV1)
	buf.WriteByte(c.Purpose)
	_ = binary.Write(&buf, binary.BigEndian, c.Attempts)
	_ = binary.Write(&buf, binary.BigEndian, c.IssuedAt.UnixMilli())
	_ = binary.Write(&buf, binary.BigEndian, c.ExpiresAt.UnixMilli())
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(c.AccountID)))
	buf.WriteString(c.AccountID)
	buf.WriteByte(byte(len(c.ID)))
	buf.WriteString(c.ID)
	buf.Write(c.Digest[:])

	return buf.Bytes(), nil
}

func decodeChallenge(data []byte) (*Challenge, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if version != challengeRecordVersionV1 {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedRecord, version)
	}

	c := &Challenge{}
	var (
		issued, expires int64
		accountLen      uint16
	)
	if c.Purpose, err = r.ReadByte(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	for _, field := range []any{&c.Attempts, &issued, &expires, &accountLen} {
		if err := binary.Read(r, binary.BigEndian, field); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
		}
	}

	account := make([]byte, accountLen)
	if _, err := io.ReadFull(r, account); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	idLen, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	id := make([]byte, idLen)
	if _, err := io.ReadFull(r, id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if _, err := io.ReadFull(r, c.Digest[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedRecord, r.Len())
	}

	c.AccountID = string(account)
	c.ID = string(id)
	c.IssuedAt = time.UnixMilli(issued).UTC()
	c.ExpiresAt = time.UnixMilli(expires).UTC()
	if !c.ExpiresAt.After(c.IssuedAt) {
		return nil, fmt.Errorf("%w: expiry not after issue time", ErrMalformedRecord)
	}
	return c, nil
}
