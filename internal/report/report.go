// Package report writes probe and link telemetry results as CSV and text
// files once a run has been finalized.
package report

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/pingsantohq/pingmesh/internal/pairs"
	"github.com/pingsantohq/pingmesh/internal/probe"
	"github.com/pingsantohq/pingmesh/internal/telemetry"
)

const ManifestFile = "run.json"

// PairResult is the sealed probe data of one pair.
type PairResult struct {
	Pair    pairs.Pair
	Records []probe.Record
	Summary probe.Summary
}

func NewPairResult(p pairs.Pair, records []probe.Record) PairResult {
	return PairResult{Pair: p, Records: records, Summary: probe.Summarize(records)}
}

type Input struct {
	RunID      string
	DurationNs int64
	Pairs      []PairResult
	// Queues and Utilization come from the telemetry trackers; either may be
	// empty when the tracker is disabled.
	Queues      []telemetry.LinkSeries
	Utilization []telemetry.LinkSeries
	// RoundDecimals rounds utilization percentages in the compressed and
	// summary outputs. Negative disables rounding.
	RoundDecimals int
}

// Manifest is written to run.json next to the reports.
type Manifest struct {
	RunID      string   `json:"run_id"`
	DurationNs int64    `json:"duration_ns"`
	Pairs      int      `json:"pairs"`
	Links      int      `json:"links"`
	Files      []string `json:"files"`
}

// Write emits every report into dir. Report groups are written in parallel;
// run.json is written last and lists the other files.
func Write(ctx context.Context, dir string, in Input) (Manifest, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Manifest{}, fmt.Errorf("create output dir %q: %w", dir, err)
	}

	writers := []func() ([]string, error){
		func() ([]string, error) { return writeDetails(ctx, dir, in.Pairs) },
		func() ([]string, error) { return writeSummary(dir, in.Pairs) },
	}
	if len(in.Queues) > 0 {
		writers = append(writers, func() ([]string, error) { return writeQueues(dir, in.Queues) })
	}
	if len(in.Utilization) > 0 {
		writers = append(writers, func() ([]string, error) {
			return writeUtilization(dir, in.Utilization, in.DurationNs, in.RoundDecimals)
		})
	}

	names := make([][]string, len(writers))
	g, ctx := errgroup.WithContext(ctx)
	for i, w := range writers {
		i, w := i, w
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			files, err := w()
			names[i] = files
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Manifest{}, err
	}

	m := Manifest{
		RunID:      in.RunID,
		DurationNs: in.DurationNs,
		Pairs:      len(in.Pairs),
		Links:      linkCount(in),
	}
	for _, files := range names {
		m.Files = append(m.Files, files...)
	}
	sort.Strings(m.Files)

	err := writeFile(filepath.Join(dir, ManifestFile), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	})
	if err != nil {
		return Manifest{}, err
	}
	return m, nil
}

func linkCount(in Input) int {
	seen := make(map[int]struct{})
	for _, s := range in.Queues {
		seen[s.Link.ID] = struct{}{}
	}
	for _, s := range in.Utilization {
		seen[s.Link.ID] = struct{}{}
	}
	return len(seen)
}

// writeFile fills a temp file next to path and renames it into place, so a
// failed report never leaves a truncated file under its final name.
func writeFile(path string, fill func(w io.Writer) error) (err error) {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create %q: %w", tmp, err)
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, os.Remove(tmp))
		}
	}()
	bw := bufio.NewWriter(f)
	if err := fill(bw); err != nil {
		return multierr.Append(fmt.Errorf("write %q: %w", path, err), f.Close())
	}
	if err := bw.Flush(); err != nil {
		return multierr.Append(fmt.Errorf("flush %q: %w", path, err), f.Close())
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit %q: %w", path, err)
	}
	return nil
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

// stat renders a float statistic; the -1 sentinel stays an integer.
func stat(v float64) string {
	if v == -1 {
		return "-1"
	}
	return strconv.FormatFloat(v, 'f', 3, 64)
}
