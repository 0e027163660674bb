package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cqrtraffic/internal/cache"
	"github.com/banshee-data/cqrtraffic/internal/config"
	"github.com/banshee-data/cqrtraffic/internal/monitoring"
	"github.com/banshee-data/cqrtraffic/internal/traffic"
	"github.com/banshee-data/cqrtraffic/internal/units"
)

func init() {
	monitoring.SetLogger(nil)
}

// reportServer serves synthetic raw reports for station 101. Day 3 is not
// published.
func reportServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		var station, yy, dd int
		if _, err := fmt.Sscanf(r.URL.Path, "/lamraw_%d_%d_%d.csv", &station, &yy, &dd); err != nil || dd == 3 {
			http.NotFound(w, r)
			return
		}
		var b strings.Builder
		for sec := 6 * 3600; sec < 20*3600; sec += 30 {
			h, m, s := sec/3600, (sec/60)%60, sec%60
			if h >= 9 && (sec/30)%2 == 1 {
				continue
			}
			speed := 50 + 2*h + dd
			fmt.Fprintf(&b, "%d;%d;%d;%d;%d;%d;0;4.2;1;1;1;%d;0;%d;1;0\n",
				station, yy, dd, h, m, s, speed, units.ClockTicks(h, m, s, 0))
		}
		w.Write([]byte(b.String()))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func writeTestConfig(t *testing.T, dir, urlTemplate string) string {
	t.Helper()
	path := filepath.Join(dir, "station.json")
	body := fmt.Sprintf(`{
		"station_id": 101,
		"url_template": %q,
		"cache_db": %q,
		"grid_x": 5,
		"grid_y": 5
	}`, urlTemplate, filepath.Join(dir, "cache.db"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--quiet"))
	err := root.Execute()
	return out.String(), err
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, "http://localhost/{tms}/{yy}/{dd}")

	var got *cobra.Command
	root := NewRootCmd()
	inspect := &cobra.Command{Use: "inspect", RunE: func(cmd *cobra.Command, _ []string) error {
		got = cmd
		return nil
	}}
	inspect.Flags().Int("grid-x", 0, "")
	inspect.Flags().String("solver", "", "")
	root.AddCommand(inspect)
	root.SetArgs([]string{"inspect", "-c", cfgPath, "--days", "2021:1-2", "--direction", "2", "--keep-faulty", "--grid-x", "9", "--solver", "simplex"})
	require.NoError(t, root.Execute())

	cfg, err := loadConfig(got)
	require.NoError(t, err)
	p := cfg.LoadParams()
	assert.Equal(t, 101, p.StationID)
	assert.Equal(t, []traffic.DayRef{{Year: 2021, Day: 1}, {Year: 2021, Day: 2}}, p.Days)
	assert.Equal(t, traffic.DirectionTwo, p.Direction)
	assert.False(t, p.DeleteIfFaulty)
	assert.Equal(t, 9, cfg.GetGridX())
	assert.Equal(t, 5, cfg.GetGridY())
	assert.Equal(t, config.SolverSimplex, cfg.GetSolver())
}

func TestLoadConfig_Invalid(t *testing.T) {
	_, err := execute(t, "model", "--station", "101", "--days", "2021:1", "--direction", "3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration error")

	_, err = execute(t, "model", "--station", "101", "--days", "2021:x")
	require.Error(t, err)
}

func TestModelCmd(t *testing.T) {
	srv, hits := reportServer(t)
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, srv.URL+"/lamraw_{tms}_{yy}_{dd}.csv")
	models := filepath.Join(dir, "models.json")
	raw := filepath.Join(dir, "raw.gzip")
	agg := filepath.Join(dir, "agg.gzip")

	out, err := execute(t, "model", "-c", cfgPath, "--days", "2021:1-3",
		"--tau", "0.5,0.9", "-o", models, "--save", raw, "--save-aggregate", agg)
	require.NoError(t, err, out)
	assert.Contains(t, out, "TMS 101: 2 of 3 days loaded")
	assert.Contains(t, out, "0.9")
	assert.Equal(t, int32(3), hits.Load())

	data, err := os.ReadFile(models)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"frontier"`)

	files := cache.NewFiles(nil)
	ds, err := files.LoadRaw(raw)
	require.NoError(t, err)
	assert.Equal(t, 101, ds.StationID)
	aggDS, err := files.LoadAggregate(agg)
	require.NoError(t, err)
	assert.Equal(t, 2*14*12, aggDS.Len())

	// The second run is served from the cache and recorded.
	_, err = execute(t, "model", "-c", cfgPath, "--days", "2021:1-3")
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())

	out, err = execute(t, "runs", "-c", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(out, "\n"), out) // header plus two runs
}

func TestModelCmd_AllDaysMissing(t *testing.T) {
	srv, _ := reportServer(t)
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, srv.URL+"/lamraw_{tms}_{yy}_{dd}.csv")

	_, err := execute(t, "model", "-c", cfgPath, "--days", "2021:3")
	require.ErrorIs(t, err, traffic.ErrLoadExhausted)
}

func TestModelCmd_RejectsBadSaveName(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, "http://127.0.0.1:1/{tms}_{yy}_{dd}")

	_, err := execute(t, "model", "-c", cfgPath, "--days", "2021:1", "--save", filepath.Join(dir, "raw.csv"))
	require.ErrorIs(t, err, traffic.ErrCachePersist)
}

func TestSaveNamesCheckedBeforeRetrieval(t *testing.T) {
	srv, hits := reportServer(t)
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, srv.URL+"/lamraw_{tms}_{yy}_{dd}.csv")

	tests := []struct {
		name string
		args []string
	}{
		{"model aggregate", []string{"model", "-c", cfgPath, "--days", "2021:1-2", "--save-aggregate", filepath.Join(dir, "agg.csv")}},
		{"fetch several days", []string{"fetch", "-c", cfgPath, "--days", "2021:1-2", "--save", filepath.Join(dir, "days.csv")}},
		{"fetch one day", []string{"fetch", "-c", cfgPath, "--days", "2021:1", "--save", filepath.Join(dir, "day.csv")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.ErrorIs(t, err, traffic.ErrCachePersist)
		})
	}
	assert.Equal(t, int32(0), hits.Load(), "no day may be downloaded before the save names are checked")
}

func TestFetchCmd(t *testing.T) {
	srv, _ := reportServer(t)
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, srv.URL+"/lamraw_{tms}_{yy}_{dd}.csv")

	day := filepath.Join(dir, "day1.gzip")
	out, err := execute(t, "fetch", "-c", cfgPath, "--days", "2021:1", "--save", day)
	require.NoError(t, err)
	assert.Contains(t, out, "day 2021/001: ok")
	_, err = os.Stat(day)
	require.NoError(t, err)

	out, err = execute(t, "fetch", "-c", cfgPath, "--days", "2021:2-3", "--save", filepath.Join(dir, "days.gzip"))
	require.NoError(t, err)
	assert.Contains(t, out, "day 2021/003: empty")
	assert.Contains(t, out, "1 of 2 days loaded")

	_, err = execute(t, "fetch", "-c", cfgPath, "--days", "2021:3")
	require.ErrorIs(t, err, traffic.ErrRetrievalEmpty)
}

func TestRunsCmd_NoCache(t *testing.T) {
	_, err := execute(t, "runs", "--cache-db", "")
	require.Error(t, err)
}

func TestMigrateCmd(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cache.db")

	out, err := execute(t, "migrate", "status", "--cache-db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "schema version 0 of 2")

	out, err = execute(t, "migrate", "up", "--cache-db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "schema version 2 of 2")

	out, err = execute(t, "migrate", "down", "--cache-db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "schema version 1 of 2")

	_, err = execute(t, "migrate", "force", "--cache-db", db)
	require.Error(t, err)
	_, err = execute(t, "migrate", "sideways", "--cache-db", db)
	require.Error(t, err)
}
