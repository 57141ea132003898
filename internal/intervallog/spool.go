package intervallog

import (
	"encoding/json"
	"fmt"

	"github.com/pingsantohq/pingmesh/internal/spool"
)

// SpoolSink streams sealed intervals into a spool as JSON records.
type SpoolSink[T any] struct {
	store *spool.Store
}

func NewSpoolSink[T any](store *spool.Store) *SpoolSink[T] {
	return &SpoolSink[T]{store: store}
}

func (s *SpoolSink[T]) Append(e Entry[T]) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal interval: %w", err)
	}
	return s.store.Append(data)
}

// ReadSpool replays every interval previously streamed into store.
func ReadSpool[T any](store *spool.Store) ([]Entry[T], error) {
	records, err := store.ReadAll()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry[T], 0, len(records))
	for i, rec := range records {
		var e Entry[T]
		if err := json.Unmarshal(rec, &e); err != nil {
			return nil, fmt.Errorf("decode interval %d in %q: %w", i, store.Dir(), err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
