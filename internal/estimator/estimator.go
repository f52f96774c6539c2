// Package estimator models the expected prime gap around a center from its
// surviving sieve candidates, without any primality testing.
//
// Each side's true offset is treated as geometric over the enumerated
// candidates with per-step success probability q, the post-sieve prime
// density. The two sides are treated as independent when combining into
// P(gap >= threshold); that is a known simplification of the model, kept
// deliberately.
package estimator

import (
	"errors"
	"fmt"

	"primegap/internal/sieve"
)

// jointCutoff ends the inner cross-product enumeration once a joint term's
// mass drops below it. Bounded numerical error, not exactness.
const jointCutoff = 1e-8

// ErrProbabilityRange reports a computed probability outside [0,1], an
// internal-consistency failure. Fatal.
var ErrProbabilityRange = errors.New("gap probability out of range")

// Result carries one center's estimates.
type Result struct {
	ExpectedPrev float64
	ExpectedNext float64
	// ProbMerit is P(gap >= the run's merit threshold gap).
	ProbMerit float64
}

// Estimator accumulates probability-mass histograms across centers. It is
// threaded through the run loop explicitly and read once at the end; it is
// not safe for concurrent use.
type Estimator struct {
	q           float64
	sl          int
	minMeritGap int

	// SideHist and CombHist are per-offset and per-gap probability mass,
	// weighted by the model rather than by observed counts.
	SideHist map[uint32]float64
	CombHist map[uint32]float64
}

// New builds an Estimator. q must lie in (0,1); minMeritGap is the smallest
// gap clearing the run's merit threshold.
func New(q float64, sl, minMeritGap int) (*Estimator, error) {
	if q <= 0 || q >= 1 {
		return nil, fmt.Errorf("success probability %g outside (0,1)", q)
	}
	return &Estimator{
		q:           q,
		sl:          sl,
		minMeritGap: minMeritGap,
		SideHist:    make(map[uint32]float64),
		CombHist:    make(map[uint32]float64),
	}, nil
}

// ExpectedGaps estimates both side offsets and the merit-threshold tail
// probability for one candidate set. logN is ln(m*K).
func (e *Estimator) ExpectedGaps(cs *sieve.CandidateSet, logN float64) (Result, error) {
	steps := len(cs.Low)
	if len(cs.High) > steps {
		steps = len(cs.High)
	}

	// probs[i] is the mass of the i-th candidate being the prime;
	// longer[i] the mass of surviving the first i candidates.
	probs := make([]float64, steps+1)
	longer := make([]float64, steps+1)
	survive := 1.0
	for i := 0; i <= steps; i++ {
		probs[i] = survive * e.q
		longer[i] = survive
		survive *= 1 - e.q
	}

	res := Result{
		ExpectedPrev: e.expectedSide(cs.Low, probs, longer, logN),
		ExpectedNext: e.expectedSide(cs.High, probs, longer, logN),
	}

	// Joint tail mass over the side cross-product. Inner terms below the
	// cutoff are dropped; the unenumerated side remainders are added back
	// in closed form below.
	pMerit := 0.0
	tailLow := longer[len(cs.Low)]
	tailHigh := longer[len(cs.High)]
	for i, lower := range cs.Low {
		truncated := false
		for j, upper := range cs.High {
			joint := probs[i] * probs[j]
			gap := lower + upper
			if int(gap) >= e.minMeritGap {
				pMerit += joint
			}
			e.CombHist[gap] += joint
			if joint < jointCutoff {
				truncated = true
				break
			}
		}
		if !truncated && int(lower)+e.sl >= e.minMeritGap {
			// Upper side exhausted its candidates: upper offset >= SL.
			pMerit += probs[i] * tailHigh
		}
	}
	for j, upper := range cs.High {
		if e.sl+int(upper) > e.minMeritGap {
			pMerit += probs[j] * tailLow
		}
	}
	if 2*e.sl > e.minMeritGap {
		pMerit += tailLow * tailHigh
	}

	// Rounding in the mass summation may land a hair above 1; anything
	// further off is a real inconsistency.
	if pMerit > 1 && pMerit <= 1+1e-9 {
		pMerit = 1
	}
	if pMerit < 0 || pMerit > 1 {
		return Result{}, fmt.Errorf("%w: %g for center %d", ErrProbabilityRange, pMerit, cs.Index)
	}
	res.ProbMerit = pMerit
	return res, nil
}

// expectedSide folds one side's candidates into an expectation and the side
// histogram. The tail term places the undiscovered prime around SL+ln(N),
// where an unsieved search would expect one.
func (e *Estimator) expectedSide(side []uint32, probs, longer []float64, logN float64) float64 {
	expected := 0.0
	for i, off := range side {
		expected += float64(off) * probs[i]
		e.SideHist[off] += probs[i]
	}
	expected += (float64(e.sl) + logN) * longer[len(side)]
	return expected
}
