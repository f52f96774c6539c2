// Package primes provides the small-prime table and primorial arithmetic
// shared by the sieve fallback and the run setup.
package primes

import (
	"fmt"
	"math"
	"math/big"
)

// SmallPrimeBound caps the table used by the lower-side fallback search.
// The prime bound P of a run must not exceed it.
const SmallPrimeBound = 80000

// Table returns all primes <= limit in increasing order.
func Table(limit int) []uint32 {
	if limit < 2 {
		return nil
	}
	composite := make([]bool, limit+1)
	var out []uint32
	for i := 2; i <= limit; i++ {
		if composite[i] {
			continue
		}
		out = append(out, uint32(i))
		for j := i * i; j <= limit; j += i {
			composite[j] = true
		}
	}
	return out
}

// Primorial computes K = P#/D, the product of all primes <= p divided by d.
// It fails if d does not divide P#, i.e. d contains a prime factor > p.
func Primorial(p uint64, d uint64, table []uint32) (*big.Int, error) {
	if p < 2 {
		return nil, fmt.Errorf("prime bound %d too small", p)
	}
	k := big.NewInt(1)
	for _, q := range table {
		if uint64(q) > p {
			break
		}
		k.Mul(k, big.NewInt(int64(q)))
	}
	div := new(big.Int).SetUint64(d)
	quo, rem := new(big.Int).QuoRem(k, div, new(big.Int))
	if rem.Sign() != 0 {
		return nil, fmt.Errorf("%d does not divide %d#", d, p)
	}
	return quo, nil
}

// Log returns the natural logarithm of n for n > 0.
// Works for values far beyond float64 range via mantissa/exponent split.
func Log(n *big.Int) float64 {
	mant := new(big.Float).SetInt(n)
	exp := mant.MantExp(mant)
	m, _ := mant.Float64()
	return math.Log(m) + float64(exp)*math.Ln2
}

// Residues returns k mod q for every prime q in table. The resolver uses
// these to rule out provably composite distances during the fallback scan.
func Residues(k *big.Int, table []uint32) []uint32 {
	out := make([]uint32, len(table))
	tmp := new(big.Int)
	q := new(big.Int)
	for i, p := range table {
		q.SetUint64(uint64(p))
		out[i] = uint32(tmp.Mod(k, q).Uint64())
	}
	return out
}

// GCD returns the greatest common divisor of a and b.
func GCD(a, b uint64) uint64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
