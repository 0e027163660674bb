package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/banshee-data/cqrtraffic/internal/monitoring"
)

// NewRunsCmd creates the runs command.
func NewRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List model runs recorded in the cache database",
		Args:  cobra.NoArgs,
		RunE:  runRunsCmd,
	}
	cmd.Flags().IntP("limit", "n", 20, "Maximum number of runs to list")
	return cmd
}

func runRunsCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.store == nil {
		return errors.New("run history needs the cache database; set --cache-db")
	}

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := a.store.Runs(cmd.Context(), cfg.GetStationID(), limit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tTMS\tDAYS\tOBSERVATIONS\tCELLS\tSECONDS")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d/%d\t%d\t%d\t%.4f\n",
			r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.StationID,
			r.DaysLoaded, r.DaysRequested, r.Observations, r.Cells, monitoring.Seconds(r.Elapsed))
	}
	return tw.Flush()
}
