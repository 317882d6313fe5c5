package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"deltar/adapters/report"
	"deltar/app"
	"deltar/domain/reservoir"
	"deltar/internal/config"
	"deltar/internal/container"
)

var (
	envFile    string
	configFile string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "deltar",
		Short: "Monte Carlo estimation of local marine reservoir offsets (Delta R)",
		Long: `deltar estimates the local marine radiocarbon reservoir offset of dated samples
against a marine calibration curve, one sample at a time or over whole tables.

Configuration comes from DELTAR_* environment variables, an optional .env file and an
optional YAML file named by DELTAR_CONFIG or --config.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(envFile); err != nil && (cmd.Flags().Changed("env-file") || !os.IsNotExist(err)) {
				return fmt.Errorf("failed to load %s: %w", envFile, err)
			}
			if configFile != "" {
				os.Setenv("DELTAR_CONFIG", configFile)
			}
			if logLevel != "" {
				os.Setenv("DELTAR_LOG_LEVEL", logLevel)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file to load before reading configuration")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML configuration file (overrides DELTAR_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: ERROR|WARN|INFO|DEBUG|TRACE")

	rootCmd.AddCommand(
		newShellCmd(),
		newPairCmd(),
		newBatchCmd(),
		newServeCmd(),
		newGenerateCmd(),
		newCurvesCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runOptions are the flags shared by the estimation commands; zero values keep the configuration
type runOptions struct {
	iterations int
	confidence float64
	seed       uint64
	workers    int
	reservoir  string
}

func (o *runOptions) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&o.iterations, "iterations", 0, "Monte Carlo iterations (default from configuration)")
	cmd.Flags().Float64Var(&o.confidence, "confidence", 0, "Confidence level of the interval, in (0,1)")
	cmd.Flags().Uint64Var(&o.seed, "seed", 0, "Random seed for reproducible draws")
	cmd.Flags().IntVar(&o.workers, "workers", 0, "Concurrent workers (default GOMAXPROCS)")
	cmd.Flags().StringVar(&o.reservoir, "reservoir-curve", "", "Marine calibration curve name")
}

func (o *runOptions) apply(cmd *cobra.Command, opts app.Options) app.Options {
	if cmd.Flags().Changed("iterations") {
		opts.Iterations = o.iterations
	}
	if cmd.Flags().Changed("confidence") {
		opts.Confidence = o.confidence
	}
	if cmd.Flags().Changed("seed") {
		opts.Seed = o.seed
	}
	if o.reservoir != "" {
		opts.ReservoirCurve = o.reservoir
	}
	return opts
}

// setup loads configuration and wires the application container
func setup(ctx context.Context, workers int) (*container.Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if workers > 0 {
		cfg.Sampling.Workers = workers
	}

	c, err := container.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func printStatistics(rows []reservoir.StatisticsRow, confidence float64) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	pct := confidence * 100
	fmt.Fprintf(w, "id\tmean\tmedian\tsd\t%.4g%% low\t%.4g%% high\tKS p\t\n", pct, pct)
	for _, row := range rows {
		fmt.Fprintf(w, "%s\t%.1f\t%.1f\t%.1f\t%.1f\t%.1f\t%.3g\t\n",
			row.ID, row.Mean, row.Median, row.SD, row.CILow, row.CIHigh, row.PValue)
	}
	w.Flush()
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if path == "-" {
		_, err = os.Stdout.Write(append(data, '\n'))
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// writeReport renders result to path as markdown, or as HTML when the extension says so
func writeReport(path string, result *reservoir.BatchResult) error {
	doc, err := report.NewRenderer(0, 0).Document(result)
	if err != nil {
		return err
	}
	out := []byte(doc)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		out = report.HTML(doc, "Delta R batch "+result.RunID)
	}
	return os.WriteFile(path, out, 0o644)
}
