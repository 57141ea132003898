package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"

	"github.com/pingsantohq/pingmesh/internal/intervallog"
	"github.com/pingsantohq/pingmesh/internal/netsim"
	"github.com/pingsantohq/pingmesh/internal/telemetry"
)

const (
	QueuePacketsCSV          = "link_queue_pkt.csv"
	QueueBytesCSV            = "link_queue_byte.csv"
	UtilizationCSV           = "link_utilization.csv"
	UtilizationCompressedCSV = "link_utilization_compressed.csv"
	UtilizationCompressedTXT = "link_utilization_compressed.txt"
	UtilizationSummaryTXT    = "link_utilization_summary.txt"
)

// LinkUtilization is the busy fraction of one link over the whole run.
type LinkUtilization struct {
	From     int     `json:"from"`
	To       int     `json:"to"`
	BusyNs   int64   `json:"busy_ns"`
	Fraction float64 `json:"fraction"`
}

// SummarizeUtilization divides each link's total busy time by the run duration.
func SummarizeUtilization(series []telemetry.LinkSeries, durationNs int64) []LinkUtilization {
	out := make([]LinkUtilization, 0, len(series))
	for _, s := range series {
		var busy int64
		for _, e := range s.Busy {
			busy += e.Value
		}
		u := LinkUtilization{From: s.Link.From, To: s.Link.To, BusyNs: busy}
		if durationNs > 0 {
			u.Fraction = float64(busy) / float64(durationNs)
		}
		out = append(out, u)
	}
	return out
}

// Compress merges consecutive fixed-width utilization intervals whose
// percentage, rounded to decimals places, is equal.
func Compress(busy []intervallog.Entry[int64], decimals int) ([]intervallog.Entry[float64], error) {
	if len(busy) == 0 {
		return nil, nil
	}
	log, err := intervallog.New[float64]()
	if err != nil {
		return nil, err
	}
	for _, e := range busy {
		if err := log.Update(e.Start, percent(e, decimals)); err != nil {
			return nil, fmt.Errorf("compress utilization: %w", err)
		}
	}
	return log.Finalize(busy[len(busy)-1].End)
}

func percent(e intervallog.Entry[int64], decimals int) float64 {
	width := e.End - e.Start
	if width <= 0 {
		return 0
	}
	return round(100*float64(e.Value)/float64(width), decimals)
}

func round(v float64, decimals int) float64 {
	if decimals < 0 {
		return v
	}
	scale := math.Pow(10, float64(decimals))
	return math.Round(v*scale) / scale
}

func pct(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func intervalRow(l netsim.Link, start, end int64, value string) []string {
	return []string{fmt.Sprint(l.From), fmt.Sprint(l.To), itoa(start), itoa(end), value}
}

func writeIntervals(path string, header []string, series []telemetry.LinkSeries, pick func(telemetry.LinkSeries) []intervallog.Entry[int64]) error {
	return writeFile(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return err
		}
		for _, s := range series {
			for _, e := range pick(s) {
				if err := cw.Write(intervalRow(s.Link, e.Start, e.End, itoa(e.Value))); err != nil {
					return err
				}
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

func writeQueues(dir string, series []telemetry.LinkSeries) ([]string, error) {
	header := []string{"from", "to", "interval_start_ns", "interval_end_ns", "value"}
	if err := writeIntervals(filepath.Join(dir, QueuePacketsCSV), header, series,
		func(s telemetry.LinkSeries) []intervallog.Entry[int64] { return s.Packets }); err != nil {
		return nil, err
	}
	if err := writeIntervals(filepath.Join(dir, QueueBytesCSV), header, series,
		func(s telemetry.LinkSeries) []intervallog.Entry[int64] { return s.Bytes }); err != nil {
		return nil, err
	}
	return []string{QueuePacketsCSV, QueueBytesCSV}, nil
}

func writeUtilization(dir string, series []telemetry.LinkSeries, durationNs int64, decimals int) ([]string, error) {
	header := []string{"from", "to", "interval_start_ns", "interval_end_ns", "busy_time_ns"}
	if err := writeIntervals(filepath.Join(dir, UtilizationCSV), header, series,
		func(s telemetry.LinkSeries) []intervallog.Entry[int64] { return s.Busy }); err != nil {
		return nil, err
	}

	compressed := make([][]intervallog.Entry[float64], len(series))
	for i, s := range series {
		c, err := Compress(s.Busy, decimals)
		if err != nil {
			return nil, fmt.Errorf("link %d->%d: %w", s.Link.From, s.Link.To, err)
		}
		compressed[i] = c
	}

	err := writeFile(filepath.Join(dir, UtilizationCompressedCSV), func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"from", "to", "interval_start_ns", "interval_end_ns", "utilization_pct"}); err != nil {
			return err
		}
		for i, s := range series {
			for _, e := range compressed[i] {
				if err := cw.Write(intervalRow(s.Link, e.Start, e.End, pct(e.Value))); err != nil {
					return err
				}
			}
		}
		cw.Flush()
		return cw.Error()
	})
	if err != nil {
		return nil, err
	}

	err = writeFile(filepath.Join(dir, UtilizationCompressedTXT), func(w io.Writer) error {
		for i, s := range series {
			if _, err := fmt.Fprintf(w, "link %d->%d\n", s.Link.From, s.Link.To); err != nil {
				return err
			}
			for _, e := range compressed[i] {
				if _, err := fmt.Fprintf(w, "  [%d, %d) %s%%\n", e.Start, e.End, pct(e.Value)); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = writeFile(filepath.Join(dir, UtilizationSummaryTXT), func(w io.Writer) error {
		for _, u := range SummarizeUtilization(series, durationNs) {
			if _, err := fmt.Fprintf(w, "%d->%d busy %dns of %dns utilization %s%%\n",
				u.From, u.To, u.BusyNs, durationNs, pct(round(100*u.Fraction, decimals))); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return []string{UtilizationCSV, UtilizationCompressedCSV, UtilizationCompressedTXT, UtilizationSummaryTXT}, nil
}
