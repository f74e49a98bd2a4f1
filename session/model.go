package session

import "time"

// State is the lifecycle state of a session at a given instant.
type State uint8

const (
	StateActive State = iota + 1
	StateRevoked
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateRevoked:
		return "revoked"
	case StateExpired:
		return "expired"
	}
	return "unknown"
}

// Session is the in-memory copy of a persisted session. Token is populated
// only on the value returned by Issue.
type Session struct {
	ID         string
	AccountID  string
	Token      string
	CreatedAt  time.Time
	LastSeenAt time.Time
	ExpiresAt  time.Time
	Revoked    bool

	digest [32]byte
}

// StateAt evaluates expiry and the idle limit at now. Revocation is terminal
// and wins over expiry. idle <= 0 disables the idle limit.
func (s *Session) StateAt(now time.Time, idle time.Duration) State {
	switch {
	case s.Revoked:
		return StateRevoked
	case !now.Before(s.ExpiresAt):
		return StateExpired
	case idle > 0 && !now.Before(s.LastSeenAt.Add(idle)):
		return StateExpired
	}
	return StateActive
}
