// Package report turns a recorded run into timing statistics and charts.
package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/wheelcast/internal/db"
)

// Summary describes how closely a run kept to its schedule.
type Summary struct {
	Packets      int `json:"packets"`
	Connected    int `json:"connected"`
	Disconnected int `json:"disconnected"`
	SendErrors   int `json:"send_errors"`
	Failsafe     int `json:"failsafe"`

	Span          time.Duration `json:"span"`
	EffectiveRate float64       `json:"effective_rate_hz"`

	MeanInterval   time.Duration `json:"mean_interval"`
	StdDevInterval time.Duration `json:"stddev_interval"`
	MinInterval    time.Duration `json:"min_interval"`
	MaxInterval    time.Duration `json:"max_interval"`

	MeanLateness time.Duration `json:"mean_lateness"`
	P50Lateness  time.Duration `json:"p50_lateness"`
	P95Lateness  time.Duration `json:"p95_lateness"`
	P99Lateness  time.Duration `json:"p99_lateness"`
	MaxLateness  time.Duration `json:"max_lateness"`
}

// Summarize computes statistics over the scheduled ticks of a run. The
// failsafe packet is counted but excluded from the timing figures, since it
// is sent off schedule.
func Summarize(ticks []db.Tick) Summary {
	var s Summary
	var sent []time.Time
	var lateness []float64
	for _, t := range ticks {
		s.Packets++
		if t.SendError != "" {
			s.SendErrors++
		}
		if t.Failsafe {
			s.Failsafe++
			continue
		}
		if t.Connected {
			s.Connected++
		} else {
			s.Disconnected++
		}
		sent = append(sent, t.SentAt)
		lateness = append(lateness, float64(t.Lateness()))
	}

	if len(lateness) > 0 {
		s.MeanLateness = time.Duration(stat.Mean(lateness, nil))
		sorted := append([]float64(nil), lateness...)
		sort.Float64s(sorted)
		s.P50Lateness = time.Duration(stat.Quantile(0.50, stat.Empirical, sorted, nil))
		s.P95Lateness = time.Duration(stat.Quantile(0.95, stat.Empirical, sorted, nil))
		s.P99Lateness = time.Duration(stat.Quantile(0.99, stat.Empirical, sorted, nil))
		s.MaxLateness = time.Duration(floats.Max(sorted))
	}

	if len(sent) > 1 {
		intervals := make([]float64, 0, len(sent)-1)
		for i := 1; i < len(sent); i++ {
			intervals = append(intervals, float64(sent[i].Sub(sent[i-1])))
		}
		mean, std := stat.MeanStdDev(intervals, nil)
		s.MeanInterval = time.Duration(mean)
		s.StdDevInterval = time.Duration(std)
		s.MinInterval = time.Duration(floats.Min(intervals))
		s.MaxInterval = time.Duration(floats.Max(intervals))

		s.Span = sent[len(sent)-1].Sub(sent[0])
		if s.Span > 0 {
			s.EffectiveRate = float64(len(sent)-1) / s.Span.Seconds()
		}
	}
	return s
}

// WriteText prints the summary in a human readable form.
func (s Summary) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, `packets:       %d (connected %d, disconnected %d, failsafe %d, send errors %d)
span:          %v
rate:          %.2f Hz
interval:      mean %v, stddev %v, min %v, max %v
lateness:      mean %v, p50 %v, p95 %v, p99 %v, max %v
`,
		s.Packets, s.Connected, s.Disconnected, s.Failsafe, s.SendErrors,
		s.Span,
		s.EffectiveRate,
		s.MeanInterval, s.StdDevInterval, s.MinInterval, s.MaxInterval,
		s.MeanLateness, s.P50Lateness, s.P95Lateness, s.P99Lateness, s.MaxLateness,
	)
	return err
}
