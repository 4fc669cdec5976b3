package completion

import (
	"time"
)

// DateLayout is the calendar-date key format used by completion records.
// Dates are always evaluated in UTC so that the daily boundary does not
// depend on the host timezone.
const DateLayout = "2006-01-02"

// Today returns the current UTC calendar date in DateLayout form.
func Today() string {
	return time.Now().UTC().Format(DateLayout)
}

// Record represents one persisted completion fact:
// (instance identity, task kind, calendar date) -> done.
type Record struct {
	Instance  string    `json:"instance"`
	Task      string    `json:"task"`
	Date      string    `json:"date"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store defines the interface for the completion tracker's backing store.
// Implementations must be thread-safe: workers for different instances call
// into the store concurrently. Keys are instance-scoped, so concurrent
// workers never contend on the same record, but the store itself must
// serialize writes to keep the persisted representation consistent.
type Store interface {
	// IsDone reports whether the (instance, task, date) record is marked done.
	// A missing record reads as false, never as an error.
	IsDone(instance, task, date string) (bool, error)

	// MarkDone atomically records the (instance, task, date) fact.
	// It returns true if the record was newly set, and false if the record
	// already existed for that date (the second call is an observable no-op).
	MarkDone(instance, task, date string) (bool, error)

	// Reset clears completion records. Both scopes are optional: an empty
	// instance matches all instances, an empty task matches all task kinds.
	// Reset("", "") clears every record.
	Reset(instance, task string) error

	// Records returns a snapshot of all persisted records, for status display.
	Records() ([]Record, error)

	// Close releases any resources held by the store.
	Close() error
}
