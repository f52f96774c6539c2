package runner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"go.uber.org/goleak"
	"go.uber.org/zap"

	"primegap/internal/config"
	"primegap/internal/sieve"
	"primegap/internal/stats"
	"primegap/internal/store"
)

// countingOracle answers by label and counts every query.
type countingOracle struct {
	primes map[string]bool
	calls  atomic.Int64
}

func (o *countingOracle) Test(_ context.Context, _ *big.Int, label string) (bool, error) {
	o.calls.Add(1)
	prime, ok := o.primes[label]
	if !ok {
		return false, fmt.Errorf("unexpected oracle query %q", label)
	}
	return prime, nil
}

func (o *countingOracle) FirstPrimeAtOrAfter(_ context.Context, n *big.Int) (*big.Int, error) {
	return nil, fmt.Errorf("unexpected FirstPrimeAtOrAfter(%s)", n)
}

func testParams(t *testing.T, d uint64) *config.Params {
	t.Helper()
	cfg := &config.Params{
		MStart:      5,
		MInc:        4,
		P:           13,
		D:           d,
		SieveLength: 100,
		SieveRangeM: 100,
		DBPath:      filepath.Join(t.TempDir(), "gaps.db"),
	}
	return cfg
}

// writeCandidates writes the candidate file under the run's naming
// convention and points cfg at it.
func writeCandidates(t *testing.T, cfg *config.Params, records string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), cfg.UnknownFileName())
	if err := os.WriteFile(path, []byte(records), 0644); err != nil {
		t.Fatalf("write candidates: %v", err)
	}
	cfg.UnknownFile = path
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func newRunner(t *testing.T, cfg *config.Params, o *countingOracle) (*Runner, *store.Store) {
	t.Helper()
	st, err := store.Open(cfg.DBPath, zap.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	r, err := New(cfg, st, o, stats.NewLogReporter(zap.NewNop(), cfg.SieveLength), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, st
}

// allPrimeLabels marks the first candidate on each side prime for centers
// 5, 6 and 8, and scripts the 7 scenario: N-4 composite, N-8 and N+6 prime.
func allPrimeLabels() map[string]bool {
	primes := map[string]bool{
		"7*13#/1-4": false,
		"7*13#/1-8": true,
		"7*13#/1+6": true,
	}
	for _, m := range []int{5, 6, 8} {
		primes[fmt.Sprintf("%d*13#/1-4", m)] = true
		primes[fmt.Sprintf("%d*13#/1+2", m)] = true
	}
	return primes
}

const fourCenterRecords = "0 : -1 +1 | 4 | 2\n" +
	"1 : -1 +1 | 4 | 2\n" +
	"2 : -2 +1 | 4 8 | 6\n" +
	"3 : -1 +1 | 4 | 2\n"

func TestRunResolvesAndStores(t *testing.T) {
	cfg := testParams(t, 1)
	writeCandidates(t, cfg, fourCenterRecords)
	o := &countingOracle{primes: allPrimeLabels()}
	r, st := newRunner(t, cfg, o)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	g, err := st.Lookup(13, 1, 7)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if g == nil {
		t.Fatal("no result stored for m=7")
	}
	if g.PrevOffset != 8 || g.NextOffset != 6 {
		t.Errorf("offsets = (%d, %d), want (8, 6)", g.PrevOffset, g.NextOffset)
	}
	wantMerit := math.Round(14/math.Log(7*30030)*1000) / 1000
	if g.Merit != wantMerit {
		t.Errorf("merit = %v, want %v", g.Merit, wantMerit)
	}

	all, err := st.LoadRange(13, 1, 5, 4)
	if err != nil {
		t.Fatalf("LoadRange: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("stored %d results, want 4", len(all))
	}
	if o.calls.Load() == 0 {
		t.Error("oracle was never consulted")
	}
}

func TestRunIsResumable(t *testing.T) {
	cfg := testParams(t, 1)
	writeCandidates(t, cfg, fourCenterRecords)
	o := &countingOracle{primes: allPrimeLabels()}
	r, _ := newRunner(t, cfg, o)
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	// Same store, fresh oracle: every center is already resolved, so the
	// second run must issue zero primality tests.
	cfg2 := *cfg
	o2 := &countingOracle{primes: map[string]bool{}}
	r2, _ := newRunner(t, &cfg2, o2)
	if err := r2.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if n := o2.calls.Load(); n != 0 {
		t.Errorf("second run issued %d oracle calls, want 0", n)
	}
}

func TestRunSkipsNonCoprimeCenters(t *testing.T) {
	// D=2: centers 6 and 8 share a factor with D and get no record and no
	// result. The candidate file only carries the coprime centers.
	cfg := testParams(t, 2)
	writeCandidates(t, cfg, "0 : -1 +1 | 4 | 2\n2 : -1 +1 | 4 | 2\n")
	o := &countingOracle{primes: map[string]bool{
		"5*13#/2-4": true, "5*13#/2+2": true,
		"7*13#/2-4": true, "7*13#/2+2": true,
	}}
	r, st := newRunner(t, cfg, o)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	all, err := st.LoadRange(13, 2, 5, 4)
	if err != nil {
		t.Fatalf("LoadRange: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("stored %d results, want 2", len(all))
	}
	for _, m := range []uint64{6, 8} {
		if _, ok := all[m]; ok {
			t.Errorf("non-coprime center m=%d produced a result", m)
		}
	}
}

func TestRunSieveOnly(t *testing.T) {
	cfg := testParams(t, 1)
	cfg.SieveOnly = true
	writeCandidates(t, cfg, fourCenterRecords)
	o := &countingOracle{primes: map[string]bool{}}
	r, st := newRunner(t, cfg, o)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := o.calls.Load(); n != 0 {
		t.Errorf("sieve-only run issued %d oracle calls, want 0", n)
	}
	all, err := st.LoadRange(13, 1, 5, 4)
	if err != nil {
		t.Fatalf("LoadRange: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("sieve-only run stored %d results, want 0", len(all))
	}
}

func TestRunEstimateRequiresValidDensityModel(t *testing.T) {
	// At these toy sizes the prime density exceeds the unknown density a
	// 100M sieve leaves behind, so there is no valid per-candidate q and
	// an estimation run must fail before any primality testing.
	cfg := testParams(t, 1)
	cfg.Estimate = true
	writeCandidates(t, cfg, fourCenterRecords)
	o := &countingOracle{primes: map[string]bool{}}
	r, _ := newRunner(t, cfg, o)

	if err := r.Run(context.Background()); err == nil {
		t.Fatal("Run succeeded, want density model error")
	}
	if n := o.calls.Load(); n != 0 {
		t.Errorf("failed run issued %d oracle calls, want 0", n)
	}
}

func TestRunWorkersShareStore(t *testing.T) {
	cfg := testParams(t, 1)
	cfg.Workers = 2
	writeCandidates(t, cfg, fourCenterRecords)
	o := &countingOracle{primes: allPrimeLabels()}

	// The store is closed before the leak check so database/sql's own
	// maintenance goroutines are gone by then.
	st, err := store.Open(cfg.DBPath, zap.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	r, err := New(cfg, st, o, stats.NewLogReporter(zap.NewNop(), cfg.SieveLength), zap.NewNop())
	if err != nil {
		st.Close()
		t.Fatalf("New: %v", err)
	}

	if err := r.Run(context.Background()); err != nil {
		st.Close()
		t.Fatalf("Run: %v", err)
	}
	all, err := st.LoadRange(13, 1, 5, 4)
	if err != nil {
		st.Close()
		t.Fatalf("LoadRange: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("stored %d results, want 4", len(all))
	}
	st.Close()
	goleak.VerifyNone(t)
}

func TestRunSequenceMismatchIsFatal(t *testing.T) {
	cfg := testParams(t, 1)
	writeCandidates(t, cfg, "1 : -1 +1 | 4 | 2\n")
	o := &countingOracle{primes: allPrimeLabels()}
	r, _ := newRunner(t, cfg, o)

	err := r.Run(context.Background())
	if !errors.Is(err, sieve.ErrSequenceMismatch) {
		t.Fatalf("Run error = %v, want ErrSequenceMismatch", err)
	}
}

func TestRunTruncatedStreamIsFatal(t *testing.T) {
	cfg := testParams(t, 1)
	writeCandidates(t, cfg, "0 : -1 +1 | 4 | 2\n")
	o := &countingOracle{primes: allPrimeLabels()}
	r, _ := newRunner(t, cfg, o)

	err := r.Run(context.Background())
	if !errors.Is(err, sieve.ErrFormat) {
		t.Fatalf("Run error = %v, want ErrFormat", err)
	}
}
