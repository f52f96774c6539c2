// Package oracle answers primality queries for numbers near a search center.
//
// Two strategies sit behind one interface: math/big's probabilistic test for
// operands below a bit-length threshold, and an external certifier process
// (PFGW) above it. Every call is one test; the resolver's candidate ordering,
// not caching, keeps the expensive calls to a minimum.
package oracle

import (
	"context"
	"errors"
	"math/big"

	"go.uber.org/zap"
)

// ErrProtocol reports output from the external certifier that does not match
// its documented status-line contract. Fatal: the tool's behavior is relied
// upon, not re-verified numerically.
var ErrProtocol = errors.New("certifier protocol violation")

// DefaultCertifierBits is the operand bit length at which testing switches
// from math/big to the external certifier.
const DefaultCertifierBits = 5000

// mrRounds for (*big.Int).ProbablyPrime. Combined with the Baillie-PSW test
// math/big always runs, false positives are not a practical concern here.
const mrRounds = 25

// Oracle decides primality near a center N.
type Oracle interface {
	// Test reports whether n is (probably) prime. label is the textual form
	// of n ("m*P#/D+i") handed to the external certifier when it is used.
	Test(ctx context.Context, n *big.Int, label string) (bool, error)

	// FirstPrimeAtOrAfter returns the smallest prime >= n. Unbounded: used
	// only by the upper-side fallback, which trusts local prime density.
	FirstPrimeAtOrAfter(ctx context.Context, n *big.Int) (*big.Int, error)
}

// Tiered is the production Oracle: built-in test below thresholdBits,
// certifier at or above it. A nil certifier forces the built-in test for
// all sizes.
type Tiered struct {
	certifier     *Certifier
	thresholdBits int
	log           *zap.Logger
}

// NewTiered builds a Tiered oracle. certifier may be nil.
func NewTiered(certifier *Certifier, thresholdBits int, log *zap.Logger) *Tiered {
	if thresholdBits <= 0 {
		thresholdBits = DefaultCertifierBits
	}
	if certifier == nil {
		log.Warn("no certifier configured, large operands use the probabilistic test",
			zap.Int("threshold_bits", thresholdBits))
	}
	return &Tiered{certifier: certifier, thresholdBits: thresholdBits, log: log}
}

func (t *Tiered) Test(ctx context.Context, n *big.Int, label string) (bool, error) {
	if t.certifier != nil && n.BitLen() >= t.thresholdBits {
		t.log.Debug("operand above threshold, using certifier",
			zap.Int("bits", n.BitLen()), zap.String("label", label))
		return t.certifier.IsPrime(ctx, label)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return n.ProbablyPrime(mrRounds), nil
}

func (t *Tiered) FirstPrimeAtOrAfter(ctx context.Context, n *big.Int) (*big.Int, error) {
	two := big.NewInt(2)
	if n.Cmp(two) <= 0 {
		return two, nil
	}
	p := new(big.Int).Set(n)
	if p.Bit(0) == 0 {
		p.Add(p, one)
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p.ProbablyPrime(mrRounds) {
			return p, nil
		}
		p.Add(p, two)
	}
}

var one = big.NewInt(1)
