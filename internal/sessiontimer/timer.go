// Package sessiontimer owns the lab session of a browser profile: the
// deadline, the exhausted flag and the window-scoped session record.
//
// Expiry is lazy. Nothing flips the exhausted flag in the background; the
// flag is set the first time a query observes a deadline at or before now.
// Every query fails closed: when storage is missing or unreadable the
// session reads as exhausted with no time remaining.
package sessiontimer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ericfisherdev/hairscope-lab/internal/domain"
	"github.com/ericfisherdev/hairscope-lab/internal/metrics"
	"github.com/ericfisherdev/hairscope-lab/internal/storage"
)

// ErrNoStorage is returned by writes on a Timer built without storage.
var ErrNoStorage = errors.New("sessiontimer: no storage available")

// Exhaustion reasons recorded in metrics and logs.
const (
	ReasonExpired = "expired"
	ReasonManual  = "manual"
	ReasonReset   = "reset"
)

// Timer is the session timer of one (profile, window) pair.
type Timer struct {
	profile Store
	windows Store
	window  Store

	profileID  string
	windowID   string
	allocation time.Duration
	clock      clockwork.Clock
	logger     *slog.Logger
}

// ProfileID returns the browser profile this timer belongs to.
func (t *Timer) ProfileID() string {
	return t.profileID
}

// WindowID returns the window this timer was built for.
func (t *Timer) WindowID() string {
	return t.windowID
}

// Allocation returns the session length granted on start.
func (t *Timer) Allocation() time.Duration {
	return t.allocation
}

// StartOrResume records now+allocation as the deadline and clears the
// exhausted flag when no deadline exists. An existing deadline is left
// untouched. The window record is written either way.
func (t *Timer) StartOrResume(ctx context.Context) error {
	if t.profile == nil {
		return ErrNoStorage
	}

	deadline, ok, err := t.deadline(ctx)
	if err != nil {
		return fmt.Errorf("failed to read deadline: %w", err)
	}

	now := t.now()
	if !ok {
		deadline = now.Add(t.allocation)
		if err := t.profile.Set(ctx, KeyDeadline, strconv.FormatInt(deadline.UnixMilli(), 10)); err != nil {
			return fmt.Errorf("failed to record deadline: %w", err)
		}
		if err := t.profile.Delete(ctx, KeyExhausted); err != nil {
			return fmt.Errorf("failed to clear exhausted flag: %w", err)
		}

		metrics.SessionsStarted.Inc()
		t.publish(ctx, storage.ChangeStarted, KeyDeadline)
		t.logger.Info("Session started",
			"profile_id", t.profileID,
			"window_id", t.windowID,
			"expires_at", deadline,
		)
	} else {
		t.logger.Debug("Resuming existing session", "profile_id", t.profileID, "expires_at", deadline)
	}

	t.writeRecord(ctx, domain.SessionRecord{
		StartedAt: deadline.Add(-t.allocation),
		ExpiresAt: deadline,
	})
	return nil
}

// Remaining returns the time left. It is zero once exhausted and the full
// allocation when no deadline has been recorded.
func (t *Timer) Remaining(ctx context.Context) time.Duration {
	if t.profile == nil {
		return 0
	}

	exhausted, err := t.exhaustedFlag(ctx)
	if err != nil || exhausted {
		return 0
	}

	deadline, ok, err := t.deadline(ctx)
	if err != nil {
		return 0
	}
	if !ok {
		return t.allocation
	}

	remaining := deadline.Sub(t.now())
	if remaining <= 0 {
		t.latch(ctx)
		return 0
	}
	return remaining
}

// RemainingMs returns Remaining in milliseconds.
func (t *Timer) RemainingMs(ctx context.Context) int64 {
	return t.Remaining(ctx).Milliseconds()
}

// IsExhausted reports whether the session is over. A deadline at or before
// now sets the exhausted flag as a side effect.
func (t *Timer) IsExhausted(ctx context.Context) bool {
	if t.profile == nil {
		return true
	}

	exhausted, err := t.exhaustedFlag(ctx)
	if err != nil || exhausted {
		return true
	}

	deadline, ok, err := t.deadline(ctx)
	if err != nil {
		return true
	}
	if ok && !deadline.After(t.now()) {
		t.latch(ctx)
		return true
	}
	return false
}

// MarkExhausted sets the exhausted flag. Calling it again has no effect.
func (t *Timer) MarkExhausted(ctx context.Context) error {
	return t.markExhausted(ctx, ReasonManual)
}

// ResetAll clears the deadline, the exhausted flag and every window record
// of the profile, notifies sibling windows, and leaves the flag set so the
// profile reads as exhausted until a new session is started.
func (t *Timer) ResetAll(ctx context.Context) error {
	if err := t.Clear(ctx); err != nil {
		return err
	}
	return t.markExhausted(ctx, ReasonReset)
}

// Clear removes the deadline, the exhausted flag and every window record,
// leaving the profile as if no session had ever started. Open lab views of
// the profile are notified. Support tooling uses it to lift a lockout.
func (t *Timer) Clear(ctx context.Context) error {
	if t.profile == nil {
		return ErrNoStorage
	}

	if err := t.profile.Delete(ctx, KeyDeadline, KeyExhausted); err != nil {
		return fmt.Errorf("failed to clear session keys: %w", err)
	}
	if t.windows != nil {
		if err := t.windows.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear window records: %w", err)
		}
	}

	metrics.SessionResets.Inc()
	t.publish(ctx, storage.ChangeReset, "")
	t.logger.Info("Session reset", "profile_id", t.profileID, "window_id", t.windowID)
	return nil
}

// now reads the clock at the millisecond resolution deadlines are stored at.
func (t *Timer) now() time.Time {
	return t.clock.Now().Truncate(time.Millisecond)
}

// Status returns the composite session state.
func (t *Timer) Status(ctx context.Context) domain.SessionStatus {
	exhausted := t.IsExhausted(ctx)
	remaining := t.Remaining(ctx)

	remainingMs := remaining.Milliseconds()

	status := domain.SessionStatus{
		IsExhausted: exhausted,
		RemainingMs: remainingMs,
		IsValid:     !exhausted && remainingMs > 0,
	}

	if t.profile == nil {
		return status
	}

	if deadline, ok, err := t.deadline(ctx); err == nil && ok {
		status.ExpiresAt = &deadline
		started := deadline.Add(-t.allocation)
		if record, found := t.Record(ctx); found && record.ExpiresAt.Equal(deadline) {
			started = record.StartedAt
		}
		status.StartedAt = &started
	}
	return status
}

// Session returns the stored session state without triggering lazy expiry.
func (t *Timer) Session(ctx context.Context) (domain.Session, error) {
	if t.profile == nil {
		return domain.Session{}, ErrNoStorage
	}

	exhausted, err := t.exhaustedFlag(ctx)
	if err != nil {
		return domain.Session{}, err
	}
	session := domain.Session{Exhausted: exhausted}

	deadline, ok, err := t.deadline(ctx)
	if err != nil {
		return domain.Session{}, err
	}
	if ok {
		started := deadline.Add(-t.allocation)
		session.StartedAt = &started
		session.ExpiresAt = &deadline
	}
	return session, nil
}

// Record returns this window's session record, if one is stored and valid.
func (t *Timer) Record(ctx context.Context) (domain.SessionRecord, bool) {
	if t.window == nil {
		return domain.SessionRecord{}, false
	}

	raw, err := t.window.Get(ctx, KeyRecord)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			t.logger.Warn("Failed to read session record", "window_id", t.windowID, "error", err)
		}
		return domain.SessionRecord{}, false
	}

	var record domain.SessionRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		t.logger.Warn("Discarding malformed session record",
			"profile_id", t.profileID,
			"window_id", t.windowID,
			"error", err,
		)
		_ = t.window.Delete(ctx, KeyRecord)
		return domain.SessionRecord{}, false
	}
	return record, true
}

// Subscribe receives change notices published by any window of the profile.
func (t *Timer) Subscribe(ctx context.Context) (*storage.Subscription, error) {
	if t.profile == nil {
		return nil, ErrNoStorage
	}
	return t.profile.Subscribe(ctx)
}

// deadline reads the recorded deadline. A malformed value is discarded and
// reported as absent.
func (t *Timer) deadline(ctx context.Context) (time.Time, bool, error) {
	raw, err := t.profile.Get(ctx, KeyDeadline)
	if errors.Is(err, storage.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		t.logger.Error("Failed to read deadline", "profile_id", t.profileID, "error", err)
		return time.Time{}, false, err
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		t.logger.Warn("Discarding malformed deadline", "profile_id", t.profileID, "value", raw)
		_ = t.profile.Delete(ctx, KeyDeadline)
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

// exhaustedFlag reads the exhausted flag. Values other than ExhaustedValue
// are discarded and read as unset.
func (t *Timer) exhaustedFlag(ctx context.Context) (bool, error) {
	raw, err := t.profile.Get(ctx, KeyExhausted)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		t.logger.Error("Failed to read exhausted flag", "profile_id", t.profileID, "error", err)
		return false, err
	}
	if raw != ExhaustedValue {
		t.logger.Warn("Discarding malformed exhausted flag", "profile_id", t.profileID, "value", raw)
		_ = t.profile.Delete(ctx, KeyExhausted)
		return false, nil
	}
	return true, nil
}

// latch marks the session exhausted after a query observed the deadline pass.
func (t *Timer) latch(ctx context.Context) {
	if err := t.markExhausted(ctx, ReasonExpired); err != nil {
		t.logger.Warn("Failed to latch expired session", "profile_id", t.profileID, "error", err)
	}
}

func (t *Timer) markExhausted(ctx context.Context, reason string) error {
	if t.profile == nil {
		return ErrNoStorage
	}

	already, err := t.exhaustedFlag(ctx)
	if err == nil && already {
		return nil
	}

	if err := t.profile.Set(ctx, KeyExhausted, ExhaustedValue); err != nil {
		return fmt.Errorf("failed to set exhausted flag: %w", err)
	}

	metrics.SessionsExhausted.WithLabelValues(reason).Inc()
	t.publish(ctx, storage.ChangeExhausted, KeyExhausted)
	t.logger.Info("Session marked exhausted", "profile_id", t.profileID, "reason", reason)
	return nil
}

func (t *Timer) writeRecord(ctx context.Context, record domain.SessionRecord) {
	if t.window == nil {
		return
	}

	data, err := json.Marshal(record)
	if err != nil {
		t.logger.Warn("Failed to encode session record", "error", err)
		return
	}
	if err := t.window.Set(ctx, KeyRecord, string(data)); err != nil {
		t.logger.Warn("Failed to write session record", "window_id", t.windowID, "error", err)
	}
}

// publish notifies sibling windows. Delivery is best effort.
func (t *Timer) publish(ctx context.Context, kind storage.ChangeKind, key string) {
	change := storage.Change{
		At:     t.clock.Now(),
		Kind:   kind,
		Key:    key,
		Origin: t.windowID,
	}
	if err := t.profile.Publish(ctx, change); err != nil {
		t.logger.Warn("Failed to publish session change", "kind", kind, "error", err)
	}
}
