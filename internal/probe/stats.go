package probe

import (
	"fmt"
	"math"

	"golang.org/x/exp/constraints"
)

// Summary aggregates one pair's records. Every latency field is -1 when no
// probe arrived.
type Summary struct {
	Sent        int     `json:"sent"`
	Arrived     int     `json:"arrived"`
	MeanThere   float64 `json:"mean_there_ns"`
	MeanBack    float64 `json:"mean_back_ns"`
	MinRTT      int64   `json:"min_rtt_ns"`
	MeanRTT     float64 `json:"mean_rtt_ns"`
	MaxRTT      int64   `json:"max_rtt_ns"`
	StdRTT      float64 `json:"std_rtt_ns"`
	ArrivalRate float64 `json:"arrival_ratio"`
}

// Summarize computes latency statistics over arrived records only.
func Summarize(records []Record) Summary {
	s := Summary{Sent: len(records)}

	there := make([]int64, 0, len(records))
	back := make([]int64, 0, len(records))
	rtt := make([]int64, 0, len(records))
	for _, r := range records {
		if !r.Arrived() || r.RecvTs == NotYet {
			continue
		}
		there = append(there, r.There())
		back = append(back, r.Back())
		rtt = append(rtt, r.There()+r.Back())
	}
	s.Arrived = len(rtt)
	if s.Sent > 0 {
		s.ArrivalRate = float64(s.Arrived) / float64(s.Sent)
	}
	if s.Arrived == 0 {
		s.MeanThere, s.MeanBack, s.MeanRTT, s.StdRTT = -1, -1, -1, -1
		s.MinRTT, s.MaxRTT = -1, -1
		return s
	}

	s.MeanThere = Mean(there)
	s.MeanBack = Mean(back)
	s.MeanRTT = Mean(rtt)
	s.MinRTT, s.MaxRTT = MinMax(rtt)
	s.StdRTT = SampleStd(rtt)
	return s
}

// ArrivalLabel renders "arrived/sent (pct%)" with the percentage rounded.
func (s Summary) ArrivalLabel() string {
	return fmt.Sprintf("%d/%d (%d%%)", s.Arrived, s.Sent, int(math.Round(s.ArrivalRate*100)))
}

type number interface {
	constraints.Integer | constraints.Float
}

// Mean is the arithmetic mean, 0 for an empty slice.
func Mean[T number](xs []T) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += float64(x)
	}
	return sum / float64(len(xs))
}

// MinMax returns the extremes of a non-empty slice.
func MinMax[T constraints.Ordered](xs []T) (T, T) {
	lo, hi := xs[0], xs[0]
	for _, x := range xs[1:] {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	return lo, hi
}

// SampleStd is the n-1 normalised standard deviation, 0 when n < 2.
func SampleStd[T number](xs []T) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := Mean(xs)
	var acc float64
	for _, x := range xs {
		d := float64(x) - mean
		acc += d * d
	}
	return math.Sqrt(acc / float64(len(xs)-1))
}
