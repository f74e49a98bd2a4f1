package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	sessionRecordVersionV1 = 1
	indexRecordVersionV1   = 1
	markerRecordVersionV1  = 1

	flagRevoked = 1 << 0
)

// ErrMalformedRecord marks a stored session, index or marker value that
// could not be decoded.
var ErrMalformedRecord = errors.New("malformed session record")

func malformed(what string) error {
	return fmt.Errorf("%w: %s", ErrMalformedRecord, what)
}

func encodeSession(s *Session) ([]byte, error) {
	if len(s.AccountID) > 0xffff {
		return nil, errors.New("account id too long")
	}
	id, err := ulid.ParseStrict(s.ID)
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}

	var flags byte
	if s.Revoked {
		flags |= flagRevoked
	}

	var buf bytes.Buffer
	buf.Grow(2 + 24 + 2 + len(s.AccountID) + 16 + 32)

	buf.WriteByte(sessionRecordVersionV1)
	buf.WriteByte(flags)
	_ = binary.Write(&buf, binary.BigEndian, s.CreatedAt.UnixMilli())
	_ = binary.Write(&buf, binary.BigEndian, s.LastSeenAt.UnixMilli())
	_ = binary.Write(&buf, binary.BigEndian, s.ExpiresAt.UnixMilli())
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(s.AccountID)))
	buf.WriteString(s.AccountID)
	buf.Write(id[:])
	buf.Write(s.digest[:])

	return buf.Bytes(), nil
}

func decodeSession(data []byte) (*Session, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return nil, malformed("empty")
	}
	if version != sessionRecordVersionV1 {
		return nil, malformed(fmt.Sprintf("unknown version %d", version))
	}

	flags, err := r.ReadByte()
	if err != nil {
		return nil, malformed("truncated flags")
	}
	if flags&^flagRevoked != 0 {
		return nil, malformed("unknown flags")
	}

	var created, lastSeen, expires int64
	var accountLen uint16
	for _, v := range []any{&created, &lastSeen, &expires, &accountLen} {
		if err := binary.Read(r, binary.BigEndian, v); err != nil {
			return nil, malformed("truncated header")
		}
	}

	account := make([]byte, accountLen)
	if _, err := io.ReadFull(r, account); err != nil {
		return nil, malformed("truncated account")
	}

	var id ulid.ULID
	if _, err := io.ReadFull(r, id[:]); err != nil {
		return nil, malformed("truncated id")
	}

	s := &Session{
		ID:         id.String(),
		AccountID:  string(account),
		CreatedAt:  time.UnixMilli(created).UTC(),
		LastSeenAt: time.UnixMilli(lastSeen).UTC(),
		ExpiresAt:  time.UnixMilli(expires).UTC(),
		Revoked:    flags&flagRevoked != 0,
	}
	if _, err := io.ReadFull(r, s.digest[:]); err != nil {
		return nil, malformed("truncated digest")
	}
	if r.Len() != 0 {
		return nil, malformed("trailing bytes")
	}
	if !s.ExpiresAt.After(s.CreatedAt) {
		return nil, malformed("expiry not after creation")
	}
	return s, nil
}

// indexEntry locates one session of an account.
type indexEntry struct {
	ID        ulid.ULID
	Digest    [32]byte
	ExpiresAt int64
}

const indexEntrySize = 16 + 32 + 8

func encodeIndex(entries []indexEntry) []byte {
	buf := make([]byte, 0, 3+len(entries)*indexEntrySize)
	buf = append(buf, indexRecordVersionV1)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(entries)))
	for _, e := range entries {
		buf = append(buf, e.ID[:]...)
		buf = append(buf, e.Digest[:]...)
		buf = binary.BigEndian.AppendUint64(buf, uint64(e.ExpiresAt))
	}
	return buf
}

func decodeIndex(data []byte) ([]indexEntry, error) {
	if len(data) < 3 || data[0] != indexRecordVersionV1 {
		return nil, malformed("index header")
	}
	n := int(binary.BigEndian.Uint16(data[1:3]))
	body := data[3:]
	if len(body) != n*indexEntrySize {
		return nil, malformed("index length")
	}

	entries := make([]indexEntry, n)
	for i := range entries {
		chunk := body[i*indexEntrySize : (i+1)*indexEntrySize]
		copy(entries[i].ID[:], chunk[:16])
		copy(entries[i].Digest[:], chunk[16:48])
		entries[i].ExpiresAt = int64(binary.BigEndian.Uint64(chunk[48:]))
	}
	return entries, nil
}

func encodeMarker(revokedBefore time.Time) []byte {
	buf := make([]byte, 0, 9)
	buf = append(buf, markerRecordVersionV1)
	return binary.BigEndian.AppendUint64(buf, uint64(revokedBefore.UnixMilli()))
}

func decodeMarker(data []byte) (time.Time, error) {
	if len(data) != 9 || data[0] != markerRecordVersionV1 {
		return time.Time{}, malformed("deactivation marker")
	}
	return time.UnixMilli(int64(binary.BigEndian.Uint64(data[1:]))).UTC(), nil
}
