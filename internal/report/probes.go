package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"

	"github.com/pingsantohq/pingmesh/internal/probe"
)

const (
	SummaryText = "pingmesh.txt"
	SummaryCSV  = "pingmesh.csv"
)

var (
	detailHeader  = []string{"pair_id", "seq", "send_ts", "reply_ts", "recv_ts", "there", "back", "rtt", "arrived"}
	summaryHeader = []string{"from", "to", "mean_latency_there", "mean_latency_back", "min_rtt", "mean_rtt", "max_rtt", "sample_std_rtt", "arrival"}
)

// DetailFile names the per-pair raw record file.
func DetailFile(from, to int) string {
	return fmt.Sprintf("pingmesh_details_%d_to_%d.csv", from, to)
}

func writeDetails(ctx context.Context, dir string, results []PairResult) ([]string, error) {
	files := make([]string, 0, len(results))
	for _, res := range results {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := DetailFile(res.Pair.From, res.Pair.To)
		err := writeFile(filepath.Join(dir, name), func(w io.Writer) error {
			return writeDetailRows(w, res)
		})
		if err != nil {
			return nil, err
		}
		files = append(files, name)
	}
	return files, nil
}

func writeDetailRows(w io.Writer, res PairResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(detailHeader); err != nil {
		return err
	}
	id := res.Pair.String()
	for _, r := range res.Records {
		status := "LOST"
		if r.Arrived() && r.RecvTs != probe.NotYet {
			status = "YES"
		}
		row := []string{
			id,
			fmt.Sprint(r.Seq),
			itoa(r.SendTs),
			itoa(r.ReplyTs),
			itoa(r.RecvTs),
			itoa(r.There()),
			itoa(r.Back()),
			itoa(r.RTT()),
			status,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func summaryRow(res PairResult) []string {
	s := res.Summary
	return []string{
		fmt.Sprint(res.Pair.From),
		fmt.Sprint(res.Pair.To),
		stat(s.MeanThere),
		stat(s.MeanBack),
		itoa(s.MinRTT),
		stat(s.MeanRTT),
		itoa(s.MaxRTT),
		stat(s.StdRTT),
		s.ArrivalLabel(),
	}
}

func writeSummary(dir string, results []PairResult) ([]string, error) {
	err := writeFile(filepath.Join(dir, SummaryCSV), func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(summaryHeader); err != nil {
			return err
		}
		for _, res := range results {
			if err := cw.Write(summaryRow(res)); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
	if err != nil {
		return nil, err
	}

	err = writeFile(filepath.Join(dir, SummaryText), func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		if err := writeTabRow(tw, summaryHeader); err != nil {
			return err
		}
		for _, res := range results {
			if err := writeTabRow(tw, summaryRow(res)); err != nil {
				return err
			}
		}
		return tw.Flush()
	})
	if err != nil {
		return nil, err
	}
	return []string{SummaryCSV, SummaryText}, nil
}

func writeTabRow(w io.Writer, cols []string) error {
	for i, c := range cols {
		sep := "\t"
		if i == len(cols)-1 {
			sep = "\n"
		}
		if _, err := io.WriteString(w, c+sep); err != nil {
			return err
		}
	}
	return nil
}
