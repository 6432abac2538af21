package monitor

import (
	"time"

	"accountlink/internal/shared/simulate"
)

// Bucket is the coarse label of the aggregate health score.
type Bucket string

const (
	BucketExcellent    Bucket = "excellent"
	BucketGood         Bucket = "good"
	BucketFair         Bucket = "fair"
	BucketPoor         Bucket = "poor"
	BucketDisconnected Bucket = "disconnected"
)

// Health is the aggregate snapshot across all monitored accounts.
type Health struct {
	Score       float64   `json:"score"`
	LatencyMS   float64   `json:"latencyMs"`
	Uptime      float64   `json:"uptime"`
	Bucket      Bucket    `json:"bucket"`
	LastChecked time.Time `json:"lastChecked"`
}

// Bounds of the random walk applied on every tick.
const (
	scoreStep   = 2.0
	latencyStep = 15.0
	uptimeStep  = 0.05

	minLatencyMS = 20.0
	maxLatencyMS = 2000.0
)

func initialHealth(now time.Time) Health {
	h := Health{Score: 92, LatencyMS: 145, Uptime: 99.8, LastChecked: now}
	h.Bucket = BucketFor(h.Score)
	return h
}

// BucketFor labels a score in [0, 100].
func BucketFor(score float64) Bucket {
	switch {
	case score >= 90:
		return BucketExcellent
	case score >= 75:
		return BucketGood
	case score >= 50:
		return BucketFair
	case score >= 25:
		return BucketPoor
	default:
		return BucketDisconnected
	}
}

// nudge moves every metric by a bounded random delta. It draws three values.
func (h Health) nudge(src simulate.Source, now time.Time) Health {
	h.Score = clamp(h.Score+simulate.Range(src, -scoreStep, scoreStep), 0, 100)
	h.LatencyMS = clamp(h.LatencyMS+simulate.Range(src, -latencyStep, latencyStep), minLatencyMS, maxLatencyMS)
	h.Uptime = clamp(h.Uptime+simulate.Range(src, -uptimeStep, uptimeStep), 0, 100)
	h.Bucket = BucketFor(h.Score)
	h.LastChecked = now
	return h
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
