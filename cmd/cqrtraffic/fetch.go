package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/banshee-data/cqrtraffic/internal/fintraffic"
	"github.com/banshee-data/cqrtraffic/internal/monitoring"
	"github.com/banshee-data/cqrtraffic/internal/pipeline"
	"github.com/banshee-data/cqrtraffic/internal/security"
	"github.com/banshee-data/cqrtraffic/internal/traffic"
)

// NewFetchCmd creates the fetch command.
func NewFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download raw station data into the cache or a .gzip file",
		Long: `Fetch retrieves raw per-vehicle records without modelling them.

With one day and --save the day is written exactly as retrieved. With
several days the filtered records are concatenated first.

Examples:
  cqrtraffic fetch --station 101 --days 2021:1 --save day1.gzip
  cqrtraffic fetch --station 101 --days 2021:1-31`,
		Args: cobra.NoArgs,
		RunE: runFetchCmd,
	}
	cmd.Flags().String("save", "", "Save the retrieved records to this .gzip file")
	return cmd
}

func runFetchCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	save, _ := cmd.Flags().GetString("save")
	if save != "" {
		if err := security.ValidateCachePath(save, cfg.GetCacheDir()); err != nil {
			return fmt.Errorf("invalid output path %s: %w", save, err)
		}
		if err := traffic.ValidateSaveName(save); err != nil {
			return err
		}
	}
	p := cfg.LoadParams()
	if err := p.Validate(); err != nil {
		return err
	}

	a, err := newApp(cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if len(p.Days) == 1 {
		req := fintraffic.Request{
			StationID:      p.StationID,
			Day:            p.Days[0],
			Direction:      p.Direction,
			Window:         p.Window,
			DeleteIfFaulty: p.DeleteIfFaulty,
			SaveName:       save,
		}
		res, err := a.retriever.Retrieve(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "TMS %d day %s: %s, %d records\n",
			p.StationID, res.Day, res.Status, len(res.Records))
		if res.Status == traffic.DayEmpty {
			return fmt.Errorf("day %s: %w", res.Day, traffic.ErrRetrievalEmpty)
		}
		return nil
	}

	ds, report, err := pipeline.NewLoader(a.retriever, nil, a.metrics).Load(cmd.Context(), p)
	printReport(cmd.OutOrStdout(), p.StationID, report)
	if err != nil {
		if errors.Is(err, traffic.ErrLoadExhausted) {
			return fmt.Errorf("TMS %d: %w", p.StationID, err)
		}
		return err
	}
	if save != "" {
		if err := a.files.SaveRaw(save, ds); err != nil {
			return err
		}
		monitoring.Logf("Data is successfully saved to %s", save)
	}
	return nil
}

func printReport(w io.Writer, stationID int, report pipeline.LoadReport) {
	for _, d := range report.Days {
		fmt.Fprintf(w, "TMS %d day %s: %s, %d records\n", stationID, d.Day, d.Status, d.Records)
	}
	fmt.Fprintf(w, "%d of %d days loaded\n", report.Loaded, report.Requested)
}
