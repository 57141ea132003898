// Package sim provides the clock capability consumed by the telemetry and
// probing code, plus a single-threaded discrete-event kernel implementing it.
package sim

// Time is simulated time in nanoseconds.
type Time = int64

// EventID identifies a scheduled event so it can be cancelled.
type EventID uint64

// Clock is the scheduling capability injected into trackers and schedulers.
// Callbacks run to completion on a single logical thread.
type Clock interface {
	Now() Time
	ScheduleAfter(delay Time, fn func()) EventID
	// Cancel removes a pending event. Cancelling an unknown, fired or
	// already cancelled event is a no-op.
	Cancel(id EventID)
}

const (
	Nanosecond  Time = 1
	Microsecond      = 1000 * Nanosecond
	Millisecond      = 1000 * Microsecond
	Second           = 1000 * Millisecond
)
