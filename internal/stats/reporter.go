// Package stats aggregates the per-center counters the run loop emits.
package stats

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sample is one center's worth of counters. The run loop emits one Sample
// per processed center, unconditionally; how often anything is surfaced is
// the reporter's business.
type Sample struct {
	UnknownLow   int
	UnknownHigh  int
	Tests        int
	FallbackLow  bool
	FallbackHigh bool

	// Resolved is false on the sieve-only path, where no offsets exist.
	Resolved   bool
	FromStore  bool
	PrevOffset uint32
	NextOffset uint32
	Merit      float64
}

// Reporter consumes per-center samples at whatever cadence the run produces
// them.
type Reporter interface {
	Observe(m uint64, s Sample)
	// Flush forces a summary of everything observed so far.
	Flush()
}

// milestones are the center counts that always trigger a summary early in a
// range, before the fixed modulus takes over.
var milestones = map[int]bool{1: true, 10: true, 30: true, 100: true, 300: true, 1000: true}

const (
	summaryEvery    = 5000
	summaryInterval = 20 * time.Minute
)

// LogReporter summarizes progress through a zap logger: total tests, unknown
// averages, fallback rates, and the best merit seen since the last summary.
type LogReporter struct {
	log *zap.Logger
	sl  int

	mu           sync.Mutex
	start        time.Time
	lastSummary  time.Time
	centers      int
	tested       int
	totalUnknown int64
	unknownLow   int64
	unknownHigh  int64
	totalTests   int64
	fallbackLow  int
	fallbackHigh int
	bestMerit    float64
	bestMeritM   uint64
}

// NewLogReporter builds a LogReporter; sl is the sieve half-window, needed
// for the composite-percentage summary line.
func NewLogReporter(log *zap.Logger, sl int) *LogReporter {
	now := time.Now()
	return &LogReporter{log: log, sl: sl, start: now, lastSummary: now}
}

func (r *LogReporter) Observe(m uint64, s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.centers++
	r.totalUnknown += int64(s.UnknownLow + s.UnknownHigh)
	r.unknownLow += int64(s.UnknownLow)
	r.unknownHigh += int64(s.UnknownHigh)
	if s.Resolved && !s.FromStore {
		r.tested++
		r.totalTests += int64(s.Tests)
		if s.FallbackLow {
			r.fallbackLow++
		}
		if s.FallbackHigh {
			r.fallbackHigh++
		}
	}
	if s.Merit > r.bestMerit {
		r.bestMerit = s.Merit
		r.bestMeritM = m
	}

	if milestones[r.centers] || r.centers%summaryEvery == 0 ||
		time.Since(r.lastSummary) > summaryInterval {
		r.summaryLocked(m, s)
	}
}

// Flush emits a final summary.
func (r *LogReporter) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaryLocked(0, Sample{})
}

func (r *LogReporter) summaryLocked(m uint64, s Sample) {
	elapsed := time.Since(r.start)
	fields := []zap.Field{
		zap.Int("centers", r.centers),
		zap.Int("tested", r.tested),
		zap.Duration("elapsed", elapsed.Round(time.Second)),
		zap.Int64("unknowns", r.totalUnknown),
	}
	if r.centers > 0 {
		fields = append(fields,
			zap.Float64("unknowns_avg", float64(r.totalUnknown)/float64(r.centers)),
			zap.Float64("composite_pct",
				100*(1-float64(r.totalUnknown)/float64(2*(r.sl-1)*r.centers))))
	}
	if r.totalUnknown > 0 {
		fields = append(fields,
			zap.Float64("unknown_low_pct", 100*float64(r.unknownLow)/float64(r.totalUnknown)),
			zap.Float64("unknown_high_pct", 100*float64(r.unknownHigh)/float64(r.totalUnknown)))
	}
	if r.tested > 0 {
		fields = append(fields,
			zap.Int64("prp_tests", r.totalTests),
			zap.Float64("prp_tests_avg", float64(r.totalTests)/float64(r.tested)),
			zap.Float64("tests_per_sec", float64(r.totalTests)/elapsed.Seconds()),
			zap.Int("fallback_prev", r.fallbackLow),
			zap.Int("fallback_next", r.fallbackHigh))
	}
	if r.bestMeritM != 0 {
		fields = append(fields,
			zap.Float64("best_merit", r.bestMerit),
			zap.Uint64("best_merit_m", r.bestMeritM))
	}
	if m != 0 {
		fields = append(fields,
			zap.Uint64("m", m),
			zap.Int("unknown_low", s.UnknownLow),
			zap.Int("unknown_high", s.UnknownHigh),
			zap.Uint32("prev_p_i", s.PrevOffset),
			zap.Uint32("next_p_i", s.NextOffset))
	}
	r.log.Info("progress", fields...)

	// Best merit resets per summary interval, matching how records are
	// eyeballed during long runs.
	r.bestMerit = 0
	r.bestMeritM = 0
	r.lastSummary = time.Now()
}
