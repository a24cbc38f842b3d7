package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultAllocation is the lab time granted to a browser profile.
const DefaultAllocation = 10 * time.Minute

// Session is the lab session of a single browser profile.
type Session struct {
	StartedAt *time.Time `json:"started_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Exhausted bool       `json:"exhausted"`
}

// IsStarted reports whether a deadline has been recorded.
func (s *Session) IsStarted() bool {
	return s.ExpiresAt != nil
}

// SessionRecord is the window-scoped copy of the session bounds.
// It is persisted as {"startedAt": <epoch ms>, "expiresAt": <epoch ms>}.
type SessionRecord struct {
	StartedAt time.Time
	ExpiresAt time.Time
}

type sessionRecordJSON struct {
	StartedAt *int64 `json:"startedAt"`
	ExpiresAt *int64 `json:"expiresAt"`
}

// MarshalJSON encodes the record with epoch millisecond timestamps.
func (r SessionRecord) MarshalJSON() ([]byte, error) {
	started := r.StartedAt.UnixMilli()
	expires := r.ExpiresAt.UnixMilli()
	return json.Marshal(sessionRecordJSON{StartedAt: &started, ExpiresAt: &expires})
}

// UnmarshalJSON decodes a record and rejects missing or inverted bounds.
func (r *SessionRecord) UnmarshalJSON(data []byte) error {
	var raw sessionRecordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.StartedAt == nil || raw.ExpiresAt == nil {
		return fmt.Errorf("session record requires startedAt and expiresAt")
	}
	if *raw.ExpiresAt < *raw.StartedAt {
		return fmt.Errorf("session record expiresAt %d precedes startedAt %d", *raw.ExpiresAt, *raw.StartedAt)
	}
	r.StartedAt = time.UnixMilli(*raw.StartedAt)
	r.ExpiresAt = time.UnixMilli(*raw.ExpiresAt)
	return nil
}

// SessionStatus is the composite read of the session timer.
type SessionStatus struct {
	ExpiresAt   *time.Time `json:"expires_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	RemainingMs int64      `json:"remaining_ms"`
	IsExhausted bool       `json:"is_exhausted"`
	IsValid     bool       `json:"is_valid"`
}

// IsStarted reports whether the status carries a recorded deadline.
func (s SessionStatus) IsStarted() bool {
	return s.ExpiresAt != nil
}

// Remaining returns the remaining time as a duration.
func (s SessionStatus) Remaining() time.Duration {
	return time.Duration(s.RemainingMs) * time.Millisecond
}

// FormatRemaining renders a countdown as M:SS.
func FormatRemaining(remaining time.Duration) string {
	if remaining < 0 {
		remaining = 0
	}
	totalSeconds := int64(remaining / time.Second)
	return fmt.Sprintf("%d:%02d", totalSeconds/60, totalSeconds%60)
}
