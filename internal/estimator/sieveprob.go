package estimator

import (
	"fmt"
	"math"
)

const eulerGamma = 0.577215665

// SieveProbability describes how much work the pre-sieve saves and how
// likely the sieve window is to miss both primes.
type SieveProbability struct {
	// UnknownDensity is the fraction of residues a sieve over primes up to
	// SieveRange leaves undecided, by Mertens' third theorem.
	UnknownDensity float64
	// ProbPrime is the unconditional prime density 1/ln(N) near the centers.
	ProbPrime float64
	// ProbPrimeAfterSieve is the conditional density among unknowns: the
	// per-candidate success probability q used by the gap model.
	ProbPrimeAfterSieve float64
	// TestsPerSide is the expected primality tests per side, 1/q.
	TestsPerSide float64
	// CoprimeCount counts window positions coprime to K on one side.
	CoprimeCount int
	// ProbWindowInsufficient estimates the chance a side's whole window is
	// composite, i.e. the sieve length was chosen too small.
	ProbWindowInsufficient float64
}

// EstimateSieveProbability derives the post-sieve prime density around the
// run's centers. kPrimes are the primes up to P, probPrime is 1/ln(N) at the
// start of the range, and sieveRange the pre-sieve's prime bound.
func EstimateSieveProbability(d uint64, probPrime float64, kPrimes []uint32, sl int, sieveRange uint64) (SieveProbability, error) {
	if sieveRange < 1_000_000 {
		return SieveProbability{}, fmt.Errorf("sieve range %d below 1M", sieveRange)
	}

	unknownDensity := 1.0 / (math.Log(float64(sieveRange)) * math.Exp(eulerGamma))
	if probPrime >= unknownDensity {
		return SieveProbability{}, fmt.Errorf(
			"prime density %.4f not below post-sieve unknown density %.4f: centers too small for sieve range %d",
			probPrime, unknownDensity, sieveRange)
	}

	probPrimeCoprime := 1.0
	for _, q := range kPrimes {
		if d%uint64(q) != 0 {
			probPrimeCoprime *= 1 - 1/float64(q)
		}
	}

	coprime := sl - 1
	for i := 1; i < sl; i++ {
		for _, q := range kPrimes {
			if i%int(q) == 0 && d%uint64(q) != 0 {
				coprime--
				break
			}
		}
	}

	chanceCoprimeComposite := 1 - probPrime/probPrimeCoprime

	return SieveProbability{
		UnknownDensity:         unknownDensity,
		ProbPrime:              probPrime,
		ProbPrimeAfterSieve:    probPrime / unknownDensity,
		TestsPerSide:           unknownDensity / probPrime,
		CoprimeCount:           coprime,
		ProbWindowInsufficient: math.Pow(chanceCoprimeComposite, float64(coprime)),
	}, nil
}
