package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/banshee-data/cqrtraffic/internal/config"
	"github.com/banshee-data/cqrtraffic/internal/monitoring"
	"github.com/banshee-data/cqrtraffic/internal/version"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cqrtraffic",
		Short: "Quantile regression of traffic density and flow from TMS data",
		Long: `cqrtraffic downloads raw per-vehicle reports of a Fintraffic traffic
measurement station (TMS), aggregates them into density/flow observations,
bags them onto a grid and fits concave quantile frontiers.

Settings come from an optional JSON file (--config) and are overridden by
flags.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
				monitoring.SetLogger(nil)
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringP("config", "c", "", "Pipeline configuration file (.json)")
	flags.IntP("station", "s", 0, "TMS station id")
	flags.StringSliceP("days", "d", nil, "Days as year:day or year:first-last, comma separated")
	flags.Int("direction", 0, "Travel direction, 1 or 2 (default 1)")
	flags.Int("hour-from", 0, "First hour of the daily window (default 6)")
	flags.Int("hour-to", 0, "Hour the daily window ends, exclusive (default 20)")
	flags.Bool("keep-faulty", false, "Keep records flagged faulty by the station")
	flags.String("cache-db", "", "SQLite day cache; empty string disables it (default cqrtraffic.db)")
	flags.BoolP("quiet", "q", false, "Suppress progress logging")

	cmd.AddCommand(NewModelCmd())
	cmd.AddCommand(NewFetchCmd())
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewRunsCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads --config, if given, and applies every flag the user set.
func loadConfig(cmd *cobra.Command) (*config.PipelineConfig, error) {
	cfg := config.EmptyPipelineConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		if cfg, err = config.LoadPipelineConfig(path); err != nil {
			return nil, err
		}
	}

	var err error
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		err = applyFlag(cmd.Flags(), cfg, f.Name)
	})
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

func applyFlag(flags *pflag.FlagSet, cfg *config.PipelineConfig, name string) error {
	intp := func() *int {
		v, _ := flags.GetInt(name)
		return &v
	}
	strp := func() *string {
		v, _ := flags.GetString(name)
		return &v
	}

	switch name {
	case "station":
		cfg.StationID = intp()
	case "days":
		raw, _ := flags.GetStringSlice(name)
		days, err := parseDays(raw)
		if err != nil {
			return err
		}
		cfg.Days = days
	case "direction":
		cfg.Direction = intp()
	case "hour-from":
		cfg.HourFrom = intp()
	case "hour-to":
		cfg.HourTo = intp()
	case "keep-faulty":
		keep, _ := flags.GetBool(name)
		del := !keep
		cfg.DeleteIfFaulty = &del
	case "cache-db":
		cfg.CacheDB = strp()
	case "period":
		cfg.AggregationPeriod = strp()
	case "grid-x":
		cfg.GridX = intp()
	case "grid-y":
		cfg.GridY = intp()
	case "tau":
		taus, _ := flags.GetFloat64Slice(name)
		cfg.Taus = taus
	case "parallelism":
		cfg.Parallelism = intp()
	case "solver":
		cfg.Solver = strp()
	case "listen":
		cfg.ListenAddr = strp()
	}
	return nil
}
