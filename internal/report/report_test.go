package report

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pingsantohq/pingmesh/internal/intervallog"
	"github.com/pingsantohq/pingmesh/internal/netsim"
	"github.com/pingsantohq/pingmesh/internal/pairs"
	"github.com/pingsantohq/pingmesh/internal/probe"
	"github.com/pingsantohq/pingmesh/internal/telemetry"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func sampleInput() Input {
	ok := NewPairResult(pairs.Pair{From: 0, To: 2}, []probe.Record{
		{Seq: 0, SendTs: 0, ReplyTs: 100, RecvTs: 200},
		probe.NewRecord(1, 1000),
	})
	lost := NewPairResult(pairs.Pair{From: 2, To: 0}, []probe.Record{
		probe.NewRecord(0, 0), probe.NewRecord(1, 10), probe.NewRecord(2, 20),
		probe.NewRecord(3, 30), probe.NewRecord(4, 40),
	})
	link := netsim.Link{ID: 0, From: 0, To: 1}
	return Input{
		RunID:      "run-1",
		DurationNs: 400,
		Pairs:      []PairResult{ok, lost},
		Queues: []telemetry.LinkSeries{{
			Link:    link,
			Packets: []intervallog.Entry[int64]{{Start: 0, End: 50, Value: 2}, {Start: 50, End: 400, Value: 0}},
			Bytes:   []intervallog.Entry[int64]{{Start: 0, End: 50, Value: 128}, {Start: 50, End: 400, Value: 0}},
		}},
		Utilization: []telemetry.LinkSeries{{
			Link: link,
			Busy: []intervallog.Entry[int64]{
				{Start: 0, End: 100, Value: 50},
				{Start: 100, End: 200, Value: 51},
				{Start: 200, End: 300, Value: 0},
				{Start: 300, End: 400, Value: 0},
			},
		}},
		RoundDecimals: 2,
	}
}

func TestWriteDetailRows(t *testing.T) {
	dir := t.TempDir()
	_, err := Write(context.Background(), dir, sampleInput())
	require.NoError(t, err)

	lines := readLines(t, filepath.Join(dir, "pingmesh_details_0_to_2.csv"))
	assert.Equal(t, []string{
		"pair_id,seq,send_ts,reply_ts,recv_ts,there,back,rtt,arrived",
		"0->2,0,0,100,200,100,100,200,YES",
		"0->2,1,1000,-1,-1,-1,-1,-1,LOST",
	}, lines)
}

func TestWriteSummaryIncludesSentinelRow(t *testing.T) {
	dir := t.TempDir()
	_, err := Write(context.Background(), dir, sampleInput())
	require.NoError(t, err)

	lines := readLines(t, filepath.Join(dir, SummaryCSV))
	require.Len(t, lines, 3)
	assert.Equal(t, "0,2,100.000,100.000,200,200.000,200,0.000,1/2 (50%)", lines[1])
	assert.Equal(t, "2,0,-1,-1,-1,-1,-1,-1,0/5 (0%)", lines[2])

	text := readLines(t, filepath.Join(dir, SummaryText))
	require.Len(t, text, 3)
	assert.True(t, strings.HasPrefix(text[0], "from"))
	assert.True(t, strings.HasSuffix(text[2], "0/5 (0%)"))
}

func TestWriteLinkFiles(t *testing.T) {
	dir := t.TempDir()
	m, err := Write(context.Background(), dir, sampleInput())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"from,to,interval_start_ns,interval_end_ns,value",
		"0,1,0,50,2",
		"0,1,50,400,0",
	}, readLines(t, filepath.Join(dir, QueuePacketsCSV)))
	assert.Equal(t, "0,1,0,50,128", readLines(t, filepath.Join(dir, QueueBytesCSV))[1])

	assert.Len(t, readLines(t, filepath.Join(dir, UtilizationCSV)), 5)
	assert.Equal(t, []string{
		"from,to,interval_start_ns,interval_end_ns,utilization_pct",
		"0,1,0,100,50",
		"0,1,100,200,51",
		"0,1,200,400,0",
	}, readLines(t, filepath.Join(dir, UtilizationCompressedCSV)))
	assert.Equal(t, []string{"0->1 busy 101ns of 400ns utilization 25.25%"},
		readLines(t, filepath.Join(dir, UtilizationSummaryTXT)))

	assert.Equal(t, 1, m.Links)
	assert.Equal(t, 2, m.Pairs)
	assert.Contains(t, m.Files, UtilizationCompressedTXT)
	assert.Contains(t, m.Files, DetailFile(2, 0))
}

func TestWriteManifest(t *testing.T) {
	dir := t.TempDir()
	m, err := Write(context.Background(), dir, sampleInput())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	require.NoError(t, err)
	var decoded Manifest
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, m, decoded)
	assert.Equal(t, "run-1", decoded.RunID)
	assert.IsIncreasing(t, decoded.Files)
}

func TestWriteSkipsDisabledTrackers(t *testing.T) {
	dir := t.TempDir()
	in := sampleInput()
	in.Queues, in.Utilization = nil, nil
	m, err := Write(context.Background(), dir, in)
	require.NoError(t, err)
	assert.NotContains(t, m.Files, QueuePacketsCSV)
	_, err = os.Stat(filepath.Join(dir, UtilizationCSV))
	assert.True(t, os.IsNotExist(err))
}

func TestWriteHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Write(ctx, t.TempDir(), sampleInput())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriteFileIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, SummaryCSV)
	require.NoError(t, writeFile(path, func(w io.Writer) error {
		_, err := io.WriteString(w, "complete\n")
		return err
	}))

	err := writeFile(path, func(w io.Writer) error {
		if _, err := io.WriteString(w, "partial"); err != nil {
			return err
		}
		return errors.New("disk full")
	})
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "complete\n", string(data))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must be removed")
}

func TestCompressRoundsBeforeMerging(t *testing.T) {
	busy := []intervallog.Entry[int64]{
		{Start: 0, End: 1000, Value: 504},
		{Start: 1000, End: 2000, Value: 496},
		{Start: 2000, End: 2500, Value: 500},
	}
	got, err := Compress(busy, 0)
	require.NoError(t, err)
	assert.Equal(t, []intervallog.Entry[float64]{
		{Start: 0, End: 2000, Value: 50},
		{Start: 2000, End: 2500, Value: 100},
	}, got)

	got, err = Compress(busy, 1)
	require.NoError(t, err)
	assert.Equal(t, []intervallog.Entry[float64]{
		{Start: 0, End: 1000, Value: 50.4},
		{Start: 1000, End: 2000, Value: 49.6},
		{Start: 2000, End: 2500, Value: 100},
	}, got)

	empty, err := Compress(nil, 2)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSummarizeUtilization(t *testing.T) {
	in := sampleInput()
	got := SummarizeUtilization(in.Utilization, in.DurationNs)
	require.Len(t, got, 1)
	assert.Equal(t, int64(101), got[0].BusyNs)
	assert.InDelta(t, 0.2525, got[0].Fraction, 1e-12)
}
