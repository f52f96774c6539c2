// Package runner walks a center range in order: check the store, read the
// center's candidates, resolve the surrounding primes, persist, report.
package runner

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"primegap/internal/config"
	"primegap/internal/estimator"
	"primegap/internal/oracle"
	"primegap/internal/primes"
	"primegap/internal/resolver"
	"primegap/internal/sieve"
	"primegap/internal/stats"
	"primegap/internal/store"
)

// Runner executes one verification run.
type Runner struct {
	cfg      *config.Params
	store    *store.Store
	oracle   oracle.Oracle
	reporter stats.Reporter
	log      *zap.Logger

	k        *big.Int
	kLog     float64
	table    []uint32
	residues []uint32
	resolver *resolver.Resolver
}

// New derives the run constants (small-prime table, K = P#/D and its
// residues) and wires the resolver.
func New(cfg *config.Params, st *store.Store, o oracle.Oracle, rep stats.Reporter, log *zap.Logger) (*Runner, error) {
	table := primes.Table(primes.SmallPrimeBound)
	k, err := primes.Primorial(cfg.P, cfg.D, table)
	if err != nil {
		return nil, err
	}
	r := &Runner{
		cfg:      cfg,
		store:    st,
		oracle:   o,
		reporter: rep,
		log:      log,
		k:        k,
		kLog:     primes.Log(k),
		table:    table,
		residues: primes.Residues(k, table),
	}
	r.resolver = resolver.New(o, k, cfg.P, cfg.D, cfg.SieveLength, table, r.residues, log)
	return r, nil
}

// Run processes every center in [mstart, mstart+minc).
func (r *Runner) Run(ctx context.Context) error {
	cfg := r.cfg
	mLog := r.kLog + math.Log(float64(cfg.MStart))
	minMeritGap := int(cfg.MinMerit * mLog)

	r.log.Info("run constants",
		zap.Int("k_bits", r.k.BitLen()),
		zap.Int("k_digits", len(r.k.Text(10))),
		zap.Float64("k_log", r.kLog),
		zap.Int("min_merit_gap", minMeritGap),
		zap.Float64("min_merit", cfg.MinMerit))

	sp, spErr := r.sieveProbability(mLog)
	var est *estimator.Estimator
	if cfg.Estimate {
		if spErr != nil {
			return spErr
		}
		var err error
		est, err = estimator.New(sp.ProbPrimeAfterSieve, cfg.SieveLength, minMeritGap)
		if err != nil {
			return err
		}
	} else if spErr != nil {
		r.log.Warn("sieve density model inapplicable, continuing without it", zap.Error(spErr))
	}

	existing, err := r.store.LoadRange(cfg.P, cfg.D, cfg.MStart, cfg.MInc)
	if err != nil {
		return err
	}
	r.log.Info("existing results loaded", zap.Int("count", len(existing)))

	if cfg.Workers <= 1 {
		f, err := os.Open(cfg.UnknownFile)
		if err != nil {
			return fmt.Errorf("open candidate file: %w", err)
		}
		defer f.Close()
		if err := r.runRange(ctx, sieve.NewReader(f), 0, cfg.MInc, existing, est); err != nil {
			return err
		}
	} else if err := r.runWorkers(ctx, existing); err != nil {
		return err
	}

	r.reporter.Flush()
	return nil
}

// runWorkers splits the range into disjoint contiguous subranges, one file
// handle and reader each, all sharing the store and reporter. Estimation is
// excluded here by config validation, so workers never touch shared
// histograms.
func (r *Runner) runWorkers(ctx context.Context, existing map[uint64]store.GapResult) error {
	cfg := r.cfg
	g, ctx := errgroup.WithContext(ctx)

	chunk := cfg.MInc / uint64(cfg.Workers)
	for w := 0; w < cfg.Workers; w++ {
		from := uint64(w) * chunk
		to := from + chunk
		if w == cfg.Workers-1 {
			to = cfg.MInc
		}
		if from >= to {
			continue
		}
		g.Go(func() error {
			f, err := os.Open(cfg.UnknownFile)
			if err != nil {
				return fmt.Errorf("open candidate file: %w", err)
			}
			defer f.Close()
			rd := sieve.NewReader(f)
			if err := rd.Skip(r.recordsBefore(from)); err != nil {
				return err
			}
			return r.runRange(ctx, rd, from, to, existing, nil)
		})
	}
	return g.Wait()
}

// recordsBefore counts candidate records preceding center index mi: the
// sieve emits one record per coprime center only.
func (r *Runner) recordsBefore(mi uint64) int {
	n := 0
	for i := uint64(0); i < mi; i++ {
		if primes.GCD(r.cfg.MStart+i, r.cfg.D) == 1 {
			n++
		}
	}
	return n
}

func (r *Runner) runRange(ctx context.Context, rd *sieve.Reader, from, to uint64,
	existing map[uint64]store.GapResult, est *estimator.Estimator) error {
	cfg := r.cfg
	for mi := from; mi < to; mi++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		m := cfg.MStart + mi
		if primes.GCD(m, cfg.D) != 1 {
			continue
		}

		cs, err := rd.Next(mi)
		if err != nil {
			return fmt.Errorf("m=%d: %w", m, err)
		}
		logN := r.kLog + math.Log(float64(m))
		sample := stats.Sample{
			UnknownLow:  len(cs.Low),
			UnknownHigh: len(cs.High),
		}

		if est != nil {
			res, err := est.ExpectedGaps(cs, logN)
			if err != nil {
				return err
			}
			r.log.Debug("expected gap",
				zap.Uint64("m", m),
				zap.Float64("expected_prev", res.ExpectedPrev),
				zap.Float64("expected_next", res.ExpectedNext),
				zap.Float64("prob_merit", res.ProbMerit))
		}

		if !cfg.SieveOnly {
			if err := r.resolveCenter(ctx, m, cs, logN, existing, &sample); err != nil {
				return err
			}
		}
		r.reporter.Observe(m, sample)
	}
	return nil
}

func (r *Runner) resolveCenter(ctx context.Context, m uint64, cs *sieve.CandidateSet,
	logN float64, existing map[uint64]store.GapResult, sample *stats.Sample) error {
	cfg := r.cfg

	if g, ok := existing[m]; ok {
		sample.Resolved = true
		sample.FromStore = true
		sample.PrevOffset = g.PrevOffset
		sample.NextOffset = g.NextOffset
		sample.Merit = g.Merit
		return nil
	}

	res, err := r.resolver.Resolve(ctx, m, cs)
	if err != nil {
		return err
	}
	if res.PrevOffset == 0 || res.NextOffset == 0 {
		return fmt.Errorf("m=%d: resolver returned empty offset (%d, %d)",
			m, res.PrevOffset, res.NextOffset)
	}

	gap := res.PrevOffset + res.NextOffset
	merit := float64(gap) / logN
	if err := r.store.Upsert(store.GapResult{
		M: m, P: cfg.P, D: cfg.D,
		NextOffset: res.NextOffset,
		PrevOffset: res.PrevOffset,
		Merit:      merit,
	}); err != nil {
		return err
	}
	if merit > cfg.MinMerit {
		r.log.Info("gap above merit threshold",
			zap.Uint32("gap", gap),
			zap.Float64("merit", merit),
			zap.String("center", fmt.Sprintf("%d*%d#/%d", m, cfg.P, cfg.D)),
			zap.Uint32("prev_p_i", res.PrevOffset),
			zap.Uint32("next_p_i", res.NextOffset))
	}

	sample.Resolved = true
	sample.Tests = res.Tests
	sample.FallbackLow = res.FallbackLow
	sample.FallbackHigh = res.FallbackHigh
	sample.PrevOffset = res.PrevOffset
	sample.NextOffset = res.NextOffset
	sample.Merit = merit
	return nil
}

// sieveProbability logs and returns the post-sieve density model for this
// run's parameters.
func (r *Runner) sieveProbability(mLog float64) (estimator.SieveProbability, error) {
	cfg := r.cfg
	var kPrimes []uint32
	for _, q := range r.table {
		if uint64(q) > cfg.P {
			break
		}
		kPrimes = append(kPrimes, q)
	}
	sp, err := estimator.EstimateSieveProbability(
		cfg.D, 1/mLog, kPrimes, cfg.SieveLength, cfg.SieveRange())
	if err != nil {
		return sp, err
	}
	r.log.Info("sieve model",
		zap.Float64("unknown_density_pct", 100*sp.UnknownDensity),
		zap.Float64("prob_prime_pct", 100*sp.ProbPrime),
		zap.Float64("prob_prime_after_sieve_pct", 100*sp.ProbPrimeAfterSieve),
		zap.Float64("tests_per_side", sp.TestsPerSide),
		zap.Int("coprime_count", sp.CoprimeCount),
		zap.Float64("window_insufficient_pct", 100*sp.ProbWindowInsufficient))
	return sp, nil
}
