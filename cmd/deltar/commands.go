package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"deltar/adapters/api"
	"deltar/adapters/curvestore"
	"deltar/adapters/tables"
	"deltar/app"
	"deltar/domain/reservoir"
	"deltar/internal/config"
	"deltar/internal/testkit"
)

func newShellCmd() *cobra.Command {
	var opts runOptions
	var id, output string

	cmd := &cobra.Command{
		Use:   "shell [collection-year-AD] [age] [age-sd]",
		Short: "Estimate the offset of a shell with a known collection year",
		Long: `Estimate the reservoir offset of a live-collected shell: the measured radiocarbon age is
compared with the marine curve at the collection year.

Example: deltar shell 1906 826 35 --iterations 20000 --seed 7`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseFloats(args, "collection year", "age", "age sd")
			if err != nil {
				return err
			}
			env, err := setup(cmd.Context(), opts.workers)
			if err != nil {
				return err
			}
			defer env.Shutdown(context.Background())

			est, err := env.Estimator.EstimateShell(cmd.Context(), app.ShellRequest{
				ID:             id,
				CollectionYear: values[0],
				Measured:       reservoir.DatedMeasurement{Value: values[1], SD: values[2]},
				Options:        opts.apply(cmd, env.Estimator.DefaultOptions()),
			})
			if err != nil {
				return err
			}
			return printEstimate(est, env.Estimator.DefaultOptions().Confidence, opts, cmd, output)
		},
	}

	opts.register(cmd)
	cmd.Flags().StringVar(&id, "id", "shell", "Sample identifier")
	cmd.Flags().StringVar(&output, "output", "", "Write the estimate with its draws as JSON to this path (- for stdout)")
	return cmd
}

func newPairCmd() *cobra.Command {
	var opts runOptions
	var id, mode, curve, output string

	cmd := &cobra.Command{
		Use:   "pair [true-age] [true-age-sd] [age] [age-sd]",
		Short: "Estimate the offset of a marine sample from an independently dated true age",
		Long: `Estimate the reservoir offset of a marine sample paired with an independent age.

Calibration modes for the true age:
- direct: the value is a collection year AD
- normal: the value is a calendar age BP with a normal uncertainty
- curve:  the value is a terrestrial radiocarbon age calibrated on --curve
          (northern, southern or a curve name; default northern)

Example: deltar pair 2450 30 2900 35 --mode curve --curve northern`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseFloats(args, "true age", "true age sd", "age", "age sd")
			if err != nil {
				return err
			}
			env, err := setup(cmd.Context(), opts.workers)
			if err != nil {
				return err
			}
			defer env.Shutdown(context.Background())

			est, err := env.Estimator.EstimatePair(cmd.Context(), app.PairRequest{
				ID:        id,
				TrueAge:   reservoir.DatedMeasurement{Value: values[0], SD: values[1]},
				Measured:  reservoir.DatedMeasurement{Value: values[2], SD: values[3]},
				Mode:      reservoir.CalibrationMode(mode),
				CurveName: curve,
				Options:   opts.apply(cmd, env.Estimator.DefaultOptions()),
			})
			if err != nil {
				return err
			}
			return printEstimate(est, env.Estimator.DefaultOptions().Confidence, opts, cmd, output)
		},
	}

	opts.register(cmd)
	cmd.Flags().StringVar(&id, "id", "pair", "Sample identifier")
	cmd.Flags().StringVar(&mode, "mode", string(reservoir.ModeNormal), "Calibration mode: direct|normal|curve")
	cmd.Flags().StringVar(&curve, "curve", "", "Terrestrial curve for the curve mode: northern|southern|<name>")
	cmd.Flags().StringVar(&output, "output", "", "Write the estimate with its draws as JSON to this path (- for stdout)")
	return cmd
}

func newBatchCmd() *cobra.Command {
	var opts runOptions
	var method, mode, curve, output, reportPath string
	var draws bool

	cmd := &cobra.Command{
		Use:   "batch [table-file-or-name]",
		Short: "Estimate the offset of every column of a table",
		Long: `Estimate the reservoir offset of every data column of a csv or xlsx table.

The argument is a file path, or the name of a table in the configured tables directory.
The first column names the rows; every other column is one sample:
- pair:  true age, true age sd, age, age sd
- shell: collection year AD, age, age sd

Example: deltar batch data/tables/aleutians.xlsx --method pair --mode curve --report report.html`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(cmd.Context(), opts.workers)
			if err != nil {
				return err
			}
			defer env.Shutdown(context.Background())

			req := app.BatchRequest{
				Method:    reservoir.Method(method),
				Mode:      reservoir.CalibrationMode(mode),
				CurveName: curve,
				Options:   opts.apply(cmd, env.Estimator.DefaultOptions()),
			}

			var result *reservoir.BatchResult
			if info, statErr := os.Stat(args[0]); statErr == nil && !info.IsDir() {
				table, err := tables.NewDataReader(args[0]).ReadTable()
				if err != nil {
					return err
				}
				result, err = env.Estimator.RunBatch(cmd.Context(), table, req)
				if err != nil {
					return err
				}
			} else {
				result, err = env.Estimator.RunNamedBatch(cmd.Context(), args[0], req)
				if err != nil {
					return err
				}
			}

			printStatistics(result.Statistics, result.Confidence)
			if reportPath != "" {
				if err := writeReport(reportPath, result); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "report written to %s\n", reportPath)
			}
			if output != "" {
				if !draws {
					result.Draws = nil
				}
				return writeJSON(output, result)
			}
			return nil
		},
	}

	opts.register(cmd)
	cmd.Flags().StringVar(&method, "method", string(reservoir.MethodPair), "Column layout: pair|shell")
	cmd.Flags().StringVar(&mode, "mode", string(reservoir.ModeNormal), "Calibration mode for pair columns: direct|normal|curve")
	cmd.Flags().StringVar(&curve, "curve", "", "Terrestrial curve for the curve mode: northern|southern|<name>")
	cmd.Flags().StringVar(&output, "output", "", "Write the batch result as JSON to this path (- for stdout)")
	cmd.Flags().BoolVar(&draws, "draws", false, "Include the raw offset draws in the JSON output")
	cmd.Flags().StringVar(&reportPath, "report", "", "Write a markdown (.md) or HTML (.html) report to this path")
	return cmd
}

func newServeCmd() *cobra.Command {
	var port string
	var workers int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the estimation HTTP API",
		Long: `Serve the estimation API:

  POST /v1/estimate/shell
  POST /v1/estimate/pair
  POST /v1/batch          (?report=markdown|html)
  GET  /v1/curves
  GET  /healthz
  GET  /metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			env, err := setup(ctx, workers)
			if err != nil {
				return err
			}
			defer env.Shutdown(context.Background())

			if port == "" {
				port = env.Config.Server.Port
			}
			server := api.NewServer(env.Estimator, api.Config{
				Port:  port,
				Slots: int64(env.Config.Server.Slots),
			}, env.Logger)
			return server.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "Listen port (default from configuration)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent workers (default GOMAXPROCS)")
	return cmd
}

func newGenerateCmd() *cobra.Command {
	cfg := testkit.DefaultConfig()
	var dir, format, method string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a synthetic curve pair and sample table with a known offset",
		Long: `Write a synthetic terrestrial curve, a marine curve offset from it by a global reservoir
age, and a sample table whose local offset is known. Files go to <dir>/curves and
<dir>/tables, ready for DELTAR_CURVES_DIR and DELTAR_TABLES_DIR.

Example: deltar generate --dir testdata --method shell --columns 12 --format xlsx`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := reservoir.ParseMethod(method)
			if err != nil {
				return err
			}
			cfg.Method = m
			if m == reservoir.MethodShell && cfg.FirstYear > 0 {
				cfg.FirstYear = 0
			}
			ext := "." + strings.ToLower(strings.TrimPrefix(format, "."))
			if ext != ".csv" && ext != ".xlsx" {
				return fmt.Errorf("unsupported format %q (csv or xlsx)", format)
			}

			ds, err := testkit.Generate(cfg)
			if err != nil {
				return err
			}

			curvesDir, tablesDir := filepath.Join(dir, "curves"), filepath.Join(dir, "tables")
			for _, d := range []string{curvesDir, tablesDir} {
				if err := os.MkdirAll(d, 0o755); err != nil {
					return err
				}
			}
			files := map[string][][]string{
				filepath.Join(curvesDir, testkit.MarineCurveName+ext):      testkit.CurveRows(ds.Marine),
				filepath.Join(curvesDir, testkit.TerrestrialCurveName+ext): testkit.CurveRows(ds.Terrestrial),
				filepath.Join(tablesDir, "synthetic-"+string(m)+ext):       testkit.TableRows(ds.Table),
			}
			for path, rows := range files {
				if err := testkit.WriteFile(path, rows); err != nil {
					return err
				}
				fmt.Println(path)
			}
			fmt.Fprintf(os.Stderr, "true offsets %s (drawn around %.0f±%.0f, reservoir age %.0f)\n",
				strings.Join(formatFloats(ds.TrueOffsets), ", "), cfg.Offset, cfg.OffsetSD, cfg.ReservoirAge)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "data", "Output directory")
	cmd.Flags().StringVar(&format, "format", "csv", "File format: csv|xlsx")
	cmd.Flags().StringVar(&method, "method", string(reservoir.MethodPair), "Table layout: pair|shell")
	cmd.Flags().Uint64Var(&cfg.Seed, "seed", cfg.Seed, "Generator seed")
	cmd.Flags().IntVar(&cfg.Columns, "columns", cfg.Columns, "Number of sample columns")
	cmd.Flags().Float64Var(&cfg.Offset, "offset", cfg.Offset, "Mean local offset of the samples")
	cmd.Flags().Float64Var(&cfg.OffsetSD, "offset-sd", cfg.OffsetSD, "Spread of the local offsets")
	cmd.Flags().Float64Var(&cfg.ReservoirAge, "reservoir-age", cfg.ReservoirAge, "Global marine reservoir age")
	return cmd
}

func newCurvesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "curves",
		Short: "List calibration curves or import them into the SQL curve store",
	}
	cmd.AddCommand(newCurvesListCmd(), newCurvesImportCmd())
	return cmd
}

func newCurvesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the curves and tables of the configured source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(cmd.Context(), 0)
			if err != nil {
				return err
			}
			defer env.Shutdown(context.Background())

			registry := env.Estimator.Registry()
			curves, err := registry.Names(cmd.Context())
			if err != nil {
				return err
			}
			names, err := registry.TableNames(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("curves (%s):\n", env.Config.Curves.Source)
			for _, c := range curves {
				marker := ""
				if c == env.Config.Curves.Reservoir {
					marker = "  [reservoir]"
				}
				fmt.Printf("  %s%s\n", c, marker)
			}
			fmt.Println("tables:")
			for _, n := range names {
				fmt.Printf("  %s\n", n)
			}
			return nil
		},
	}
}

func newCurvesImportCmd() *cobra.Command {
	var from string

	cmd := &cobra.Command{
		Use:   "import [names...]",
		Short: "Copy curves from a directory into the SQL curve store",
		Long: `Copy calibration curves from csv/xlsx files into the store named by DELTAR_STORE_DRIVER
and DELTAR_STORE_DSN. With no names, every curve in the directory is imported.

Example: deltar curves import marine20 intcal20 --from data/curves`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Store.Driver == "" || cfg.Store.DSN == "" {
				return fmt.Errorf("no curve store configured (DELTAR_STORE_DRIVER, DELTAR_STORE_DSN)")
			}
			if from == "" {
				from = cfg.Curves.Dir
			}

			store, err := curvestore.Open(cfg.Store.Driver, cfg.Store.DSN, nil)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}

			imported, err := store.Import(cmd.Context(), tables.NewDirectory(from, "", nil), args...)
			for _, name := range imported {
				fmt.Printf("imported %s\n", name)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Directory holding the curve files (default DELTAR_CURVES_DIR)")
	return cmd
}

func printEstimate(est *app.Estimate, defaultConfidence float64, opts runOptions, cmd *cobra.Command, output string) error {
	confidence := defaultConfidence
	if cmd.Flags().Changed("confidence") {
		confidence = opts.confidence
	}
	printStatistics([]reservoir.StatisticsRow{{ID: est.ID, OffsetStatistics: est.Statistics}}, confidence)
	if output != "" {
		return writeJSON(output, est)
	}
	return nil
}

func parseFloats(args []string, names ...string) ([]float64, error) {
	values := make([]float64, len(args))
	for i, arg := range args {
		v, err := strconv.ParseFloat(strings.TrimSpace(arg), 64)
		if err != nil {
			return nil, reservoir.NewValidationError(names[i], fmt.Sprintf("%q is not a number", arg))
		}
		values[i] = v
	}
	return values, nil
}

func formatFloats(xs []float64) []string {
	out := make([]string, len(xs))
	for i, x := range xs {
		out[i] = strconv.FormatFloat(x, 'f', 0, 64)
	}
	return out
}
