// Package resolver finds the nearest prime on each side of a center N = m*K,
// preferring the pre-sieved candidate offsets and falling back to a direct
// search only when every candidate tests composite.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"primegap/internal/oracle"
	"primegap/internal/sieve"
)

// FallbackBoundFactor bounds the lower-side fallback scan at
// FallbackBoundFactor*SL distances below N. Exceeding it means the run's
// parameters or the local prime-density assumption are broken.
const FallbackBoundFactor = 5

// ErrFallbackExhausted reports a lower-side fallback that scanned its whole
// bound without finding a prime. Fatal by contract.
var ErrFallbackExhausted = errors.New("lower fallback exhausted")

// Result is the outcome for one center. Both offsets are positive: the
// surrounding primes are N-PrevOffset and N+NextOffset.
type Result struct {
	PrevOffset   uint32
	NextOffset   uint32
	Tests        int
	FallbackLow  bool
	FallbackHigh bool
}

// Resolver drives the oracle over candidate sets. It holds no per-center
// state; one Resolver serves a whole range.
type Resolver struct {
	oracle   oracle.Oracle
	k        *big.Int
	p, d     uint64
	sl       int
	primes   []uint32
	residues []uint32
	log      *zap.Logger
}

// New builds a Resolver. primes and residues come from the primes package:
// the small-prime table and K mod each entry.
func New(o oracle.Oracle, k *big.Int, p, d uint64, sl int, primeTable, residues []uint32, log *zap.Logger) *Resolver {
	return &Resolver{
		oracle:   o,
		k:        k,
		p:        p,
		d:        d,
		sl:       sl,
		primes:   primeTable,
		residues: residues,
		log:      log,
	}
}

// Resolve finds the previous and next prime around m*K using cs.
func (r *Resolver) Resolve(ctx context.Context, m uint64, cs *sieve.CandidateSet) (Result, error) {
	center := new(big.Int).Mul(r.k, new(big.Int).SetUint64(m))

	prev, prevTests, fbLow, err := r.prevPrime(ctx, m, center, cs.Low)
	if err != nil {
		return Result{}, fmt.Errorf("m=%d P=%d D=%d: %w", m, r.p, r.d, err)
	}
	next, nextTests, fbHigh, err := r.nextPrime(ctx, m, center, cs.High)
	if err != nil {
		return Result{}, fmt.Errorf("m=%d P=%d D=%d: %w", m, r.p, r.d, err)
	}
	return Result{
		PrevOffset:   prev,
		NextOffset:   next,
		Tests:        prevTests + nextTests,
		FallbackLow:  fbLow,
		FallbackHigh: fbHigh,
	}, nil
}

// label writes n = m*K+delta in the compact form the external certifier
// evaluates natively.
func (r *Resolver) label(m uint64, delta int64) string {
	return fmt.Sprintf("%d*%d#/%d%+d", m, r.p, r.d, delta)
}

// nextPrime scans the high-side candidates in increasing order, then hands
// the search past the sieve window to the oracle's unbounded next-prime
// operation.
func (r *Resolver) nextPrime(ctx context.Context, m uint64, center *big.Int, cands []uint32) (uint32, int, bool, error) {
	n := new(big.Int)
	tests := 0
	for _, off := range cands {
		tests++
		n.Add(center, new(big.Int).SetUint64(uint64(off)))
		prime, err := r.oracle.Test(ctx, n, r.label(m, int64(off)))
		if err != nil {
			return 0, tests, false, err
		}
		if prime {
			return off, tests, false, nil
		}
	}

	start := new(big.Int).Add(center, big.NewInt(int64(r.sl-1)))
	p, err := r.oracle.FirstPrimeAtOrAfter(ctx, start)
	if err != nil {
		return 0, tests, true, err
	}
	off := new(big.Int).Sub(p, center)
	if !off.IsUint64() || off.Uint64() > 1<<31 {
		return 0, tests, true, fmt.Errorf("next prime offset %s out of range", off)
	}
	r.log.Debug("next prime past sieve window",
		zap.Uint64("m", m), zap.Uint64("offset", off.Uint64()))
	return uint32(off.Uint64()), tests, true, nil
}

// prevPrime scans the low-side candidates, then falls back to a bounded
// residue-sieved scan from SL to FallbackBoundFactor*SL below N. The two
// sides fall back differently on purpose: the arithmetic library only offers
// an efficient search upward.
func (r *Resolver) prevPrime(ctx context.Context, m uint64, center *big.Int, cands []uint32) (uint32, int, bool, error) {
	n := new(big.Int)
	tests := 0
	for _, off := range cands {
		tests++
		n.Sub(center, new(big.Int).SetUint64(uint64(off)))
		prime, err := r.oracle.Test(ctx, n, r.label(m, -int64(off)))
		if err != nil {
			return 0, tests, false, err
		}
		if prime {
			return off, tests, false, nil
		}
	}

	// N-d is divisible by prime q exactly when d = m*(K mod q) (mod q).
	target := make([]uint32, len(r.primes))
	for i, q := range r.primes {
		target[i] = uint32(uint64(r.residues[i]) * (m % uint64(q)) % uint64(q))
	}

	for d := r.sl; d <= FallbackBoundFactor*r.sl; d++ {
		composite := false
		for i, q := range r.primes {
			if uint32(d)%q == target[i] {
				composite = true
				break
			}
		}
		if composite {
			continue
		}
		n.Sub(center, big.NewInt(int64(d)))
		prime, err := r.oracle.Test(ctx, n, r.label(m, -int64(d)))
		if err != nil {
			return 0, tests, true, err
		}
		if prime {
			r.log.Debug("previous prime past sieve window",
				zap.Uint64("m", m), zap.Int("offset", d))
			return uint32(d), tests, true, nil
		}
	}
	return 0, tests, true, fmt.Errorf("%w: no prime within %d below center",
		ErrFallbackExhausted, FallbackBoundFactor*r.sl)
}
