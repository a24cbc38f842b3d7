package sessiontimer

// Storage keys, relative to the profile namespace.
const (
	// KeyDeadline holds the session deadline as epoch milliseconds.
	KeyDeadline = "hs_deadline_ts"
	// KeyExhausted holds ExhaustedValue once the session is exhausted.
	KeyExhausted = "hs_exhausted"
	// KeyRecord holds the window-scoped JSON session record.
	KeyRecord = "session-record"

	// ExhaustedValue marks the exhausted flag as set.
	ExhaustedValue = "1"
)

const windowSegment = "window"

// ProfilePrefix returns the namespace prefix of a browser profile.
func ProfilePrefix(profileID string) string {
	return "profile:" + profileID + ":"
}

// WindowsPrefix returns the prefix under which every window record of a
// profile is stored.
func WindowsPrefix(profileID string) string {
	return ProfilePrefix(profileID) + windowSegment + ":"
}
