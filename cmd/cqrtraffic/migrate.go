package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/banshee-data/cqrtraffic/internal/cache"
)

// NewMigrateCmd creates the migrate command.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate <up|down|status|to N|force N>",
		Short: "Manage the cache database schema",
		Long: `Migrate applies or rolls back the embedded schema migrations of the
cache database. Other commands migrate up automatically.

Examples:
  cqrtraffic migrate status
  cqrtraffic migrate down
  cqrtraffic migrate force 2 --cache-db cqrtraffic.db`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runMigrateCmd,
	}
	return cmd
}

func runMigrateCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	path := cfg.GetCacheDB()
	if path == "" {
		return errors.New("no cache database configured")
	}
	store, err := cache.OpenStoreAt(path)
	if err != nil {
		return err
	}
	defer store.Close()

	versionArg := func() (int, error) {
		if len(args) < 2 {
			return 0, fmt.Errorf("migrate %s needs a version number", args[0])
		}
		v, err := strconv.Atoi(args[1])
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid version %q", args[1])
		}
		return v, nil
	}

	switch args[0] {
	case "up":
		err = store.MigrateUp()
	case "down":
		err = store.MigrateDown()
	case "to":
		var v int
		if v, err = versionArg(); err == nil {
			err = store.MigrateTo(uint(v))
		}
	case "force":
		var v int
		if v, err = versionArg(); err == nil {
			err = store.MigrateForce(v)
		}
	case "status":
	default:
		return fmt.Errorf("unknown migrate action %q", args[0])
	}
	if err != nil {
		return err
	}

	version, dirty, err := store.MigrateVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: schema version %d of %d", path, version, cache.SchemaVersion)
	if dirty {
		fmt.Fprint(cmd.OutOrStdout(), " (dirty)")
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}
