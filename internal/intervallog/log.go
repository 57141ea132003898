// Package intervallog compresses a piecewise-constant signal into contiguous
// (start, end, value) intervals.
//
// A Log has a single writer. Updates must arrive in non-decreasing time order;
// a repeated value extends the open interval instead of creating a new one.
// Sealed intervals are retained in memory, streamed to a Sink, or both.
package intervallog

import (
	"errors"
	"fmt"
)

// Entry is one sealed interval [Start, End) holding Value.
type Entry[T any] struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
	Value T     `json:"value"`
}

// Sink receives sealed intervals in order as soon as they can no longer change.
type Sink[T any] interface {
	Append(Entry[T]) error
}

var (
	// ErrNoChannel is returned when a log would neither retain nor stream its intervals.
	ErrNoChannel = errors.New("interval log needs retention or a sink")
	// ErrFinalized is returned by any mutation after Finalize.
	ErrFinalized = errors.New("interval log already finalized")
)

// OutOfOrderError reports an update or finalize that would move time backwards.
type OutOfOrderError struct {
	Op   string
	Time int64
	Last int64
}

func (e *OutOfOrderError) Error() string {
	if e.Time < 0 {
		return fmt.Sprintf("%s at negative time %d", e.Op, e.Time)
	}
	return fmt.Sprintf("%s at %d precedes last update at %d", e.Op, e.Time, e.Last)
}

type Option[T comparable] func(*Log[T])

// WithRetention controls whether sealed intervals are kept in memory.
func WithRetention[T comparable](keep bool) Option[T] {
	return func(l *Log[T]) {
		l.retain = keep
	}
}

// WithSink streams every sealed interval to sink.
func WithSink[T comparable](sink Sink[T]) Option[T] {
	return func(l *Log[T]) {
		l.sink = sink
	}
}

// Sampled makes every update at a later time seal the open interval even when
// the value repeats. It is used for fixed-width sampling where each tick is
// reported on its own.
func Sampled[T comparable]() Option[T] {
	return func(l *Log[T]) {
		l.sampled = true
	}
}

// Log is the run-length encoder. The zero value is not usable; call New.
type Log[T comparable] struct {
	retain  bool
	sampled bool
	sink    Sink[T]

	entries []Entry[T]

	// tail is the most recently sealed interval. It is held back from
	// entries and the sink so a same-instant update can reopen it.
	tail    Entry[T]
	hasTail bool

	openStart int64
	openValue T
	opened    bool

	committed int
	last      int64
	finalized bool
}

// New builds a log that retains intervals in memory unless told otherwise.
func New[T comparable](opts ...Option[T]) (*Log[T], error) {
	l := &Log[T]{retain: true}
	for _, opt := range opts {
		opt(l)
	}
	if !l.retain && l.sink == nil {
		return nil, ErrNoChannel
	}
	return l, nil
}

// Update records that the signal holds v from time t on.
func (l *Log[T]) Update(t int64, v T) error {
	if l.finalized {
		return ErrFinalized
	}
	if t < 0 || (l.opened && t < l.last) {
		return &OutOfOrderError{Op: "update", Time: t, Last: l.last}
	}
	l.last = t

	if !l.opened {
		l.openStart, l.openValue, l.opened = t, v, true
		return nil
	}

	if t == l.openStart {
		// The open interval has zero length; rewrite it in place.
		if !l.sampled && l.hasTail && l.tail.Value == v {
			l.openStart, l.openValue = l.tail.Start, v
			l.hasTail = false
			return nil
		}
		l.openValue = v
		return nil
	}

	if v == l.openValue && !l.sampled {
		return nil
	}

	if err := l.seal(Entry[T]{Start: l.openStart, End: t, Value: l.openValue}); err != nil {
		return err
	}
	l.openStart, l.openValue = t, v
	return nil
}

// Finalize closes the open interval at end and returns every retained
// interval. When retention is disabled the result is nil and the sink holds
// the full timeline.
func (l *Log[T]) Finalize(end int64) ([]Entry[T], error) {
	if l.finalized {
		return nil, ErrFinalized
	}
	if end < 0 || (l.opened && end < l.last) {
		return nil, &OutOfOrderError{Op: "finalize", Time: end, Last: l.last}
	}
	l.finalized = true

	if !l.opened {
		return l.entries, nil
	}
	if l.openStart < end {
		if err := l.seal(Entry[T]{Start: l.openStart, End: end, Value: l.openValue}); err != nil {
			return nil, err
		}
	}
	if l.hasTail {
		if err := l.commit(l.tail); err != nil {
			return nil, err
		}
		l.hasTail = false
	}
	return l.entries, nil
}

// Value returns the currently open value and whether any update happened.
func (l *Log[T]) Value() (T, bool) {
	return l.openValue, l.opened
}

// Len counts sealed intervals, whether retained or streamed. A sealed
// interval that may still be reopened is included.
func (l *Log[T]) Len() int {
	if l.hasTail {
		return l.committed + 1
	}
	return l.committed
}

// LastUpdate returns the time of the most recent accepted update.
func (l *Log[T]) LastUpdate() int64 {
	return l.last
}

// Finalized reports whether Finalize has been called.
func (l *Log[T]) Finalized() bool {
	return l.finalized
}

func (l *Log[T]) seal(e Entry[T]) error {
	if l.hasTail {
		if err := l.commit(l.tail); err != nil {
			return err
		}
	}
	l.tail, l.hasTail = e, true
	return nil
}

func (l *Log[T]) commit(e Entry[T]) error {
	if l.sink != nil {
		if err := l.sink.Append(e); err != nil {
			return fmt.Errorf("stream interval [%d,%d): %w", e.Start, e.End, err)
		}
	}
	if l.retain {
		l.entries = append(l.entries, e)
	}
	l.committed++
	return nil
}
