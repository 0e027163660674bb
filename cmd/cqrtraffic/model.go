package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/banshee-data/cqrtraffic/internal/monitoring"
	"github.com/banshee-data/cqrtraffic/internal/pipeline"
	"github.com/banshee-data/cqrtraffic/internal/security"
	"github.com/banshee-data/cqrtraffic/internal/traffic"
)

// NewModelCmd creates the model command.
func NewModelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Load, aggregate, bag and fit quantile frontiers for a station",
		Long: `Model runs the full pipeline for one station and prints the fitted
frontiers.

Examples:
  # Median and 90% frontiers over a week
  cqrtraffic model --station 101 --days 2021:1-7 --tau 0.5,0.9

  # Keep the concatenated raw data and the aggregate
  cqrtraffic model -s 101 -d 2021:1-7 --save raw.gzip --save-aggregate agg.gzip

  # Write the models as JSON
  cqrtraffic model -s 101 -d 2021:1-7 -o models.json`,
		Args: cobra.NoArgs,
		RunE: runModelCmd,
	}

	cmd.Flags().String("period", "", "Aggregation period, e.g. 5m (default 5m)")
	cmd.Flags().Int("grid-x", 0, "Density grid size (default 70)")
	cmd.Flags().Int("grid-y", 0, "Flow grid size (default 400)")
	cmd.Flags().Float64Slice("tau", nil, "Quantile levels in (0, 1) (default 0.5)")
	cmd.Flags().Int("parallelism", 0, "Concurrent fits (default 1)")
	cmd.Flags().String("solver", "", "Frontier solver: interior or simplex (default interior)")
	cmd.Flags().String("save", "", "Save the concatenated raw data to this .gzip file")
	cmd.Flags().String("save-aggregate", "", "Save the aggregated observations to this .gzip file")
	cmd.Flags().StringP("output", "o", "", "Write the fitted models as JSON to this file")

	return cmd
}

func runModelCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	save, _ := cmd.Flags().GetString("save")
	saveAgg, _ := cmd.Flags().GetString("save-aggregate")
	output, _ := cmd.Flags().GetString("output")
	for _, path := range []string{save, saveAgg, output} {
		if path == "" {
			continue
		}
		if err := security.ValidateCachePath(path, cfg.GetCacheDir()); err != nil {
			return fmt.Errorf("invalid output path %s: %w", path, err)
		}
	}
	for _, name := range []string{save, saveAgg} {
		if name == "" {
			continue
		}
		if err := traffic.ValidateSaveName(name); err != nil {
			return err
		}
	}

	a, err := newApp(cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	station, err := a.station()
	if err != nil {
		return err
	}
	opts := a.modelOptions()
	opts.SaveRaw = save

	run, err := station.MakeModel(cmd.Context(), opts)
	if err != nil {
		return err
	}
	if saveAgg != "" {
		if err := a.files.SaveAggregate(saveAgg, run.Aggregate); err != nil {
			return err
		}
		monitoring.Logf("Aggregated data is successfully saved to %s", saveAgg)
	}
	if output != "" {
		if err := writeModels(output, run); err != nil {
			return err
		}
	}
	return printRun(cmd.OutOrStdout(), run)
}

type modelJSON struct {
	Tau        float64   `json:"tau"`
	X          []float64 `json:"x"`
	Frontier   []float64 `json:"frontier"`
	DurationMS float64   `json:"duration_ms"`
}

func writeModels(path string, run pipeline.Run) error {
	out := make([]modelJSON, len(run.Models))
	for i, m := range run.Models {
		out[i] = modelJSON{
			Tau:        m.Tau(),
			X:          m.X(),
			Frontier:   m.Frontier(),
			DurationMS: float64(m.Duration().Nanoseconds()) / 1e6,
		}
	}
	data, err := json.MarshalIndent(map[string]interface{}{
		"station_id": run.Params.Load.StationID,
		"load":       run.Report,
		"models":     out,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func printRun(w io.Writer, run pipeline.Run) error {
	fmt.Fprintf(w, "TMS %d: %d of %d days loaded, %d observations, %d cells\n",
		run.Params.Load.StationID, run.Report.Loaded, run.Report.Requested,
		run.Aggregate.Len(), run.Bagged.Len())

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TAU\tPOINTS\tFIT SECONDS\tMAX FLOW")
	for _, m := range run.Models {
		maxFlow := 0.0
		for _, f := range m.Frontier() {
			if f > maxFlow {
				maxFlow = f
			}
		}
		fmt.Fprintf(tw, "%g\t%d\t%.4f\t%.1f\n", m.Tau(), m.Len(), monitoring.Seconds(m.Duration()), maxFlow)
	}
	return tw.Flush()
}
