package main

import (
	"context"
	"fmt"
	"github.com/notargets/PencilBench/config"
	"github.com/notargets/PencilBench/partitions"
	"github.com/notargets/PencilBench/runner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"os"
	"os/signal"
	"syscall"
)

// options holds the flag values of one command tree
type options struct {
	verbose bool

	// Input files
	configPath string
	stdinPath  string
	dimsPath   string

	// Overrides
	procs          int
	reps           int
	inner          int
	precision      string
	mode           string
	inPlace        bool
	seed           uint64
	thresholdScale float64
	dumpSpectrum   bool

	logger *zap.Logger
}

// newRootCmd builds a fresh command tree; flag state is never shared
// between two trees
func newRootCmd() *cobra.Command {
	o := &options{}

	rootCmd := &cobra.Command{
		Use:   "pencilbench",
		Short: "Round-trip correctness and timing harness for a parallel 3D FFT",
		Long: `pencilbench runs forward and backward real-to-complex 3D transforms over a
pencil-decomposed grid on a set of in-process ranks, verifies that the
normalized round trip reproduces the input, and reports per-stage timings
reduced across ranks.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := zap.NewProductionConfig()
			if o.verbose {
				cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			var err error
			o.logger, err = cfg.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if o.logger != nil {
				_ = o.logger.Sync()
			}
		},
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the round-trip benchmark",
		Long: `Runs the forward/backward round trip and prints the verification result and
the timing report. Settings come from the YAML --config file, then the legacy
--stdin ("nx ny nz ndim repetitions") and --dims ("dims0 dims1") files, then
the PENCILBENCH_* environment, then flags. A verification failure is
reported, not returned as an error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error { return o.runBenchmark(cmd) },
	}

	layoutCmd := &cobra.Command{
		Use:   "layout",
		Short: "Print every rank's pencils for the configured grid",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, args []string) error { return o.printLayout(cmd) },
	}

	rootCmd.PersistentFlags().BoolVarP(&o.verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&o.configPath, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&o.stdinPath, "stdin", "", "Legacy input file: nx ny nz ndim repetitions")
	rootCmd.PersistentFlags().StringVar(&o.dimsPath, "dims", "", "Legacy process grid file: dims0 dims1")
	rootCmd.PersistentFlags().IntVarP(&o.procs, "procs", "n", 1, "Number of ranks")

	runCmd.Flags().IntVar(&o.reps, "reps", 1, "Outer repetitions")
	runCmd.Flags().IntVar(&o.inner, "inner", 3, "Round trips timed per repetition")
	runCmd.Flags().StringVar(&o.precision, "precision", "double", "Sample precision: single or double")
	runCmd.Flags().StringVar(&o.mode, "mode", "random", "Input field: random or sine")
	runCmd.Flags().BoolVar(&o.inPlace, "in-place", false, "Share one buffer between input, spectrum and output")
	runCmd.Flags().Uint64Var(&o.seed, "seed", 1, "Random field seed")
	runCmd.Flags().Float64Var(&o.thresholdScale, "threshold-scale", 0.25, "Verification threshold factor on basePrecision*nx*ny")
	runCmd.Flags().BoolVar(&o.dumpSpectrum, "dump-spectrum", false, "Print significant coefficients of the first forward transform")

	rootCmd.AddCommand(runCmd, layoutCmd)
	return rootCmd
}

// loadConfig layers the configuration sources; flags win when set
func (o *options) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return cfg, err
		}
	}
	if o.stdinPath != "" || o.dimsPath != "" {
		if err := config.ApplyLegacy(&cfg, o.stdinPath, o.dimsPath, o.logger); err != nil {
			return cfg, err
		}
	}
	if err := config.ApplyEnv(&cfg); err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("procs") {
		cfg.Procs = o.procs
	}
	if flags.Changed("reps") {
		cfg.Repetitions = o.reps
	}
	if flags.Changed("inner") {
		cfg.Inner = o.inner
	}
	if flags.Changed("precision") {
		cfg.Precision = o.precision
	}
	if flags.Changed("mode") {
		cfg.Mode = o.mode
	}
	if flags.Changed("in-place") {
		cfg.InPlace = o.inPlace
	}
	if flags.Changed("seed") {
		cfg.Seed = o.seed
	}
	if flags.Changed("threshold-scale") {
		cfg.ThresholdScale = o.thresholdScale
	}
	if flags.Changed("dump-spectrum") {
		cfg.DumpSpectrum = o.dumpSpectrum
	}
	return cfg, cfg.Validate()
}

func (o *options) runBenchmark(cmd *cobra.Command) error {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return err
	}
	o.logger.Debug("configuration", zap.Any("config", cfg))

	r := runner.NewRunner(cfg, cmd.OutOrStdout(), o.logger)
	res, err := r.Run(cmd.Context())
	if err != nil {
		o.logger.Error("run aborted", zap.Error(err))
		return err
	}
	if !res.Verdict.Pass {
		o.logger.Warn("round trip exceeded threshold",
			zap.Float64("max_diff", res.Verdict.MaxDiff), zap.Float64("threshold", res.Verdict.Threshold))
	}
	return nil
}

func (o *options) printLayout(cmd *cobra.Command) error {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return err
	}
	pg, err := (&partitions.Resolver{}).Resolve(cfg.Decomposition, cfg.Procs, cfg.Hint())
	if err != nil {
		return err
	}
	return runner.DescribeLayout(cmd.OutOrStdout(), cfg.GlobalGrid(), pg)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
