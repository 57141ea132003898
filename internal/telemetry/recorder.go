package telemetry

import (
	"fmt"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/pingsantohq/pingmesh/internal/intervallog"
	"github.com/pingsantohq/pingmesh/internal/metrics"
	"github.com/pingsantohq/pingmesh/internal/netsim"
	"github.com/pingsantohq/pingmesh/internal/spool"
)

// LinkSeries is the finalized telemetry of one directed link. Only the
// series filled by the producing tracker are set.
type LinkSeries struct {
	Link    netsim.Link
	Packets []intervallog.Entry[int64]
	Bytes   []intervallog.Entry[int64]
	Busy    []intervallog.Entry[int64]
	Dropped int64
}

type options struct {
	spoolDir string
	links    metrics.LinkRecorder
}

type Option func(*options)

// WithSpoolDir streams sealed intervals to per-link spools under dir
// instead of keeping them in memory until Finalize.
func WithSpoolDir(dir string) Option {
	return func(o *options) {
		o.spoolDir = dir
	}
}

func WithLinkRecorder(rec metrics.LinkRecorder) Option {
	return func(o *options) {
		if rec != nil {
			o.links = rec
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{links: metrics.NoopLinkRecorder{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// recorder owns one interval log per tracked link. The trackers differ only
// in what triggers an update and in the sample type.
type recorder[T comparable] struct {
	kind   string
	logs   []*intervallog.Log[T]
	spools []*spool.Store
}

func newRecorder[T comparable](kind string, links []netsim.Link, o options, sampled bool) (*recorder[T], error) {
	r := &recorder[T]{kind: kind, logs: make([]*intervallog.Log[T], len(links))}
	for i, l := range links {
		var logOpts []intervallog.Option[T]
		if sampled {
			logOpts = append(logOpts, intervallog.Sampled[T]())
		}
		if o.spoolDir != "" {
			dir := filepath.Join(o.spoolDir, kind, fmt.Sprintf("link-%d-%d", l.From, l.To))
			store, err := spool.Open(dir)
			if err != nil {
				return nil, multierr.Append(fmt.Errorf("open %s spool for %s: %w", kind, linkLabel(l), err), r.close())
			}
			r.spools = append(r.spools, store)
			logOpts = append(logOpts,
				intervallog.WithRetention[T](false),
				intervallog.WithSink[T](intervallog.NewSpoolSink[T](store)))
		}
		log, err := intervallog.New(logOpts...)
		if err != nil {
			return nil, multierr.Append(err, r.close())
		}
		r.logs[i] = log
	}
	return r, nil
}

// update panics on failure: an out-of-order update is a sequencing bug and
// must abort the run from inside the event callback.
func (r *recorder[T]) update(slot int, t int64, v T) {
	if err := r.logs[slot].Update(t, v); err != nil {
		panic(fmt.Errorf("%s timeline slot %d: %w", r.kind, slot, err))
	}
}

func (r *recorder[T]) finalize(slot int, end int64) ([]intervallog.Entry[T], error) {
	entries, err := r.logs[slot].Finalize(end)
	if err != nil {
		return nil, fmt.Errorf("finalize %s timeline: %w", r.kind, err)
	}
	if r.spools == nil {
		return entries, nil
	}
	streamed, err := intervallog.ReadSpool[T](r.spools[slot])
	if err != nil {
		return nil, fmt.Errorf("replay %s timeline: %w", r.kind, err)
	}
	if len(streamed) == 0 {
		return nil, nil
	}
	return streamed, nil
}

func (r *recorder[T]) spoolBytes() int64 {
	var total int64
	for _, s := range r.spools {
		total += s.SizeBytes()
	}
	return total
}

func (r *recorder[T]) close() error {
	var err error
	for _, s := range r.spools {
		err = multierr.Append(err, s.Close())
	}
	return err
}
