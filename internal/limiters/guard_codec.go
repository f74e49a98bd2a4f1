package limiters

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const guardRecordVersionV1 = 1

const guardRecordSize = 1 + 8 + 2 + 8 + 2 + 8

var errMalformedGuardRecord = errors.New("malformed guard record")

// guardRecord tracks requests and burned challenges for one (account, purpose).
// Zero timestamps mean "never".
type guardRecord struct {
	WindowStart time.Time
	Requests    uint16
	LastIssued  time.Time
	Strikes     uint16
	LockedUntil time.Time
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func encodeGuardRecord(r *guardRecord) []byte {
	var buf bytes.Buffer
	buf.Grow(guardRecordSize)

	buf.WriteByte(guardRecordVersionV1)
	_ = binary.Write(&buf, binary.BigEndian, millis(r.WindowStart))
	_ = binary.Write(&buf, binary.BigEndian, r.Requests)
	_ = binary.Write(&buf, binary.BigEndian, millis(r.LastIssued))
	_ = binary.Write(&buf, binary.BigEndian, r.Strikes)
	_ = binary.Write(&buf, binary.BigEndian, millis(r.LockedUntil))
	return buf.Bytes()
}

func decodeGuardRecord(data []byte) (*guardRecord, error) {
	if len(data) != guardRecordSize {
		return nil, fmt.Errorf("%w: size %d", errMalformedGuardRecord, len(data))
	}
	if data[0] != guardRecordVersionV1 {
		return nil, fmt.Errorf("%w: unsupported version %d", errMalformedGuardRecord, data[0])
	}

	be := binary.BigEndian
	return &guardRecord{
		WindowStart: fromMillis(int64(be.Uint64(data[1:9]))),
		Requests:    be.Uint16(data[9:11]),
		LastIssued:  fromMillis(int64(be.Uint64(data[11:19]))),
		Strikes:     be.Uint16(data[19:21]),
		LockedUntil: fromMillis(int64(be.Uint64(data[21:29]))),
	}, nil
}
