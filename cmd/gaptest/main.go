// Command gaptest verifies candidate prime gaps around centers m*P#/D using
// the pre-sieved candidate files produced by the upstream sieve, and records
// resolved gaps in the results database.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"primegap/internal/config"
	"primegap/internal/oracle"
	"primegap/internal/runner"
	"primegap/internal/stats"
	"primegap/internal/store"
)

var (
	cfg        config.Params
	configPath string
	verbose    bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "gaptest",
	Short: "Verify prime gaps around primorial centers",
	Long: `gaptest resolves the nearest prime below and above each center
N = m*(P#/D) in a range, driving a two-tier primality oracle over the
candidate offsets a prior sieve left unknown.

Resolved gaps are stored in a sqlite database keyed by (P, D, m); re-running
a range skips every center already present, so interrupted runs resume where
they stopped.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		zcfg.Encoding = "console"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = logger.With(zap.String("run_id", uuid.NewString()[:8]))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: run,
}

func init() {
	f := rootCmd.Flags()
	f.Uint64Var(&cfg.MStart, "mstart", 0, "first center index m")
	f.Uint64Var(&cfg.MInc, "minc", 0, "number of centers to process")
	f.Uint64VarP(&cfg.P, "p", "p", 0, "primorial prime bound P")
	f.Uint64VarP(&cfg.D, "d", "d", 0, "primorial divisor D")
	f.IntVar(&cfg.SieveLength, "sieve-length", 0, "sieve half-window SL (must match the sieve run)")
	f.Uint64Var(&cfg.SieveRangeM, "sieve-range", 0, "pre-sieve prime bound in millions (must match the sieve run)")
	f.Float64Var(&cfg.MinMerit, "min-merit", 0, "announce gaps with merit above this (default 10)")
	f.BoolVar(&cfg.SieveOnly, "sieve-only", false, "read candidates without any primality testing")
	f.BoolVar(&cfg.Estimate, "estimate", false, "compute expected gaps and merit probabilities")
	f.StringVar(&cfg.UnknownFile, "unknown-file", "", "candidate file; parameters are inferred from its name if not given")
	f.StringVar(&cfg.DBPath, "prime-db", "", "results database path (default prime-gaps.db)")
	f.StringVar(&cfg.CertifierPath, "certifier", "", "external certifier binary for large operands (e.g. ./pfgw64)")
	f.IntVar(&cfg.Workers, "workers", 1, "disjoint-range workers sharing the store")

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML run configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func run(cmd *cobra.Command, args []string) error {
	if configPath != "" {
		fileCfg, err := config.FromFile(configPath)
		if err != nil {
			return err
		}
		applyFile(cmd, fileCfg)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	var cert *oracle.Certifier
	if cfg.CertifierPath != "" {
		cert = oracle.NewCertifier(cfg.CertifierPath, logger)
	}
	o := oracle.NewTiered(cert, oracle.DefaultCertifierBits, logger)
	rep := stats.NewLogReporter(logger, cfg.SieveLength)

	r, err := runner.New(&cfg, st, o, rep, logger)
	if err != nil {
		return err
	}
	logger.Info("starting run",
		zap.Uint64("mstart", cfg.MStart),
		zap.Uint64("minc", cfg.MInc),
		zap.Uint64("p", cfg.P),
		zap.Uint64("d", cfg.D),
		zap.String("unknown_file", cfg.UnknownFile),
		zap.Int("workers", cfg.Workers))
	return r.Run(ctx)
}

// applyFile fills cfg from the config file for every flag the user did not
// set explicitly; flags win over the file.
func applyFile(cmd *cobra.Command, file *config.Params) {
	f := cmd.Flags()
	if !f.Changed("mstart") {
		cfg.MStart = file.MStart
	}
	if !f.Changed("minc") {
		cfg.MInc = file.MInc
	}
	if !f.Changed("p") {
		cfg.P = file.P
	}
	if !f.Changed("d") {
		cfg.D = file.D
	}
	if !f.Changed("sieve-length") {
		cfg.SieveLength = file.SieveLength
	}
	if !f.Changed("sieve-range") {
		cfg.SieveRangeM = file.SieveRangeM
	}
	if !f.Changed("min-merit") && file.MinMerit != 0 {
		cfg.MinMerit = file.MinMerit
	}
	if !f.Changed("sieve-only") {
		cfg.SieveOnly = file.SieveOnly
	}
	if !f.Changed("estimate") {
		cfg.Estimate = file.Estimate
	}
	if !f.Changed("unknown-file") && file.UnknownFile != "" {
		cfg.UnknownFile = file.UnknownFile
	}
	if !f.Changed("prime-db") && file.DBPath != "" {
		cfg.DBPath = file.DBPath
	}
	if !f.Changed("certifier") && file.CertifierPath != "" {
		cfg.CertifierPath = file.CertifierPath
	}
	if !f.Changed("workers") && file.Workers != 0 {
		cfg.Workers = file.Workers
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
