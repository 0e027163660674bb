// Package cache persists pipeline datasets: gzip-compressed CSV files for raw
// and aggregate datasets, and an SQLite store for retrieved days and model
// runs.
package cache

import (
	"compress/gzip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strconv"
	"time"

	"github.com/banshee-data/cqrtraffic/internal/fsutil"
	"github.com/banshee-data/cqrtraffic/internal/monitoring"
	"github.com/banshee-data/cqrtraffic/internal/timeutil"
	"github.com/banshee-data/cqrtraffic/internal/traffic"
)

const (
	fileMagic   = "#cqrtraffic"
	fileVersion = "1"
	kindRaw     = "raw"
	kindAgg     = "aggregate"
	dateLayout  = "2006-01-02"
)

var (
	rawHeader = []string{"date", "time_of_day", "station_id", "direction", "vehicle", "lane", "length", "speed", "faulty"}
	aggHeader = []string{"date", "bucket", "start", "count", "cars", "buses", "trucks", "speed", "flow", "density"}
)

// Files reads and writes dataset files. Each file has a metadata record, a
// column header and one row per record, all gzip compressed.
type Files struct {
	fs    fsutil.FileSystem
	clock timeutil.Clock
}

// NewFiles creates a Files over fsys. A nil fsys means the OS filesystem.
func NewFiles(fsys fsutil.FileSystem) *Files {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	return &Files{fs: fsys, clock: timeutil.RealClock{}}
}

func persistErr(name string, err error) error {
	return fmt.Errorf("%w: %s: %w", traffic.ErrCachePersist, name, err)
}

func ftoa(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func btoa(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// SaveRaw writes ds to name, which must end in .gzip.
func (f *Files) SaveRaw(name string, ds traffic.RawDataset) error {
	meta := []string{fileMagic, kindRaw, fileVersion,
		strconv.Itoa(ds.StationID), strconv.Itoa(int(ds.Direction)),
		strconv.Itoa(ds.Window.From), strconv.Itoa(ds.Window.To), btoa(ds.DeleteIfFaulty)}

	return f.write(name, meta, rawHeader, ds.Len(), func(i int) []string {
		r := ds.Records[i]
		return []string{
			r.Date.Format(dateLayout),
			strconv.FormatInt(r.TimeOfDay, 10),
			strconv.Itoa(r.StationID),
			strconv.Itoa(int(r.Direction)),
			strconv.Itoa(int(r.Class)),
			strconv.Itoa(r.Lane),
			ftoa(r.LengthM),
			ftoa(r.SpeedKmh),
			btoa(r.Faulty),
		}
	})
}

// SaveAggregate writes agg to name, which must end in .gzip.
func (f *Files) SaveAggregate(name string, agg traffic.AggregateDataset) error {
	meta := []string{fileMagic, kindAgg, fileVersion,
		strconv.Itoa(agg.StationID), strconv.Itoa(int(agg.Direction)),
		strconv.Itoa(agg.Window.From), strconv.Itoa(agg.Window.To),
		strconv.FormatInt(int64(agg.Period), 10)}

	return f.write(name, meta, aggHeader, agg.Len(), func(i int) []string {
		o := agg.Observations[i]
		return []string{
			o.Date.Format(dateLayout),
			strconv.Itoa(o.Bucket),
			strconv.FormatInt(o.Start, 10),
			strconv.Itoa(o.Count),
			strconv.Itoa(o.Cars),
			strconv.Itoa(o.Buses),
			strconv.Itoa(o.Trucks),
			ftoa(o.SpeedKmh),
			ftoa(o.Flow),
			ftoa(o.Density),
		}
	})
}

func (f *Files) write(name string, meta, header []string, n int, row func(int) []string) error {
	if err := traffic.ValidateSaveName(name); err != nil {
		return err
	}
	if dir := filepath.Dir(name); dir != "." {
		if err := f.fs.MkdirAll(dir, 0755); err != nil {
			return persistErr(name, err)
		}
	}

	out, err := f.fs.Create(name)
	if err != nil {
		return persistErr(name, err)
	}
	zw := gzip.NewWriter(out)
	cw := csv.NewWriter(zw)

	if err := cw.Write(meta); err != nil {
		out.Close()
		return persistErr(name, err)
	}
	if err := cw.Write(header); err != nil {
		out.Close()
		return persistErr(name, err)
	}
	for i := 0; i < n; i++ {
		if err := cw.Write(row(i)); err != nil {
			out.Close()
			return persistErr(name, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		out.Close()
		return persistErr(name, err)
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return persistErr(name, err)
	}
	if err := out.Close(); err != nil {
		return persistErr(name, err)
	}
	return nil
}

// open checks name and returns a CSV reader positioned after the header,
// along with the metadata record.
func (f *Files) open(name, kind string) (*csv.Reader, []string, io.Closer, error) {
	if err := traffic.ValidateSaveName(name); err != nil {
		return nil, nil, nil, err
	}
	info, err := f.fs.Stat(name)
	if err != nil || info.Size() == 0 {
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			err = errors.New("file is empty or it does not exist")
		}
		return nil, nil, nil, persistErr(name, err)
	}

	in, err := f.fs.Open(name)
	if err != nil {
		return nil, nil, nil, persistErr(name, err)
	}
	zr, err := gzip.NewReader(in)
	if err != nil {
		in.Close()
		return nil, nil, nil, persistErr(name, err)
	}

	cr := csv.NewReader(zr)
	cr.FieldsPerRecord = -1
	meta, err := cr.Read()
	if err != nil {
		in.Close()
		return nil, nil, nil, persistErr(name, fmt.Errorf("read metadata: %w", err))
	}
	if len(meta) != 8 || meta[0] != fileMagic || meta[2] != fileVersion {
		in.Close()
		return nil, nil, nil, persistErr(name, errors.New("not a cqrtraffic dataset file"))
	}
	if meta[1] != kind {
		in.Close()
		return nil, nil, nil, persistErr(name, fmt.Errorf("holds a %s dataset, want %s", meta[1], kind))
	}
	if _, err := cr.Read(); err != nil {
		in.Close()
		return nil, nil, nil, persistErr(name, fmt.Errorf("read header: %w", err))
	}
	return cr, meta, in, nil
}

// rowParser collects the first conversion error of a row.
type rowParser struct {
	row []string
	err error
}

func (p *rowParser) atoi(i int) int {
	v, err := strconv.Atoi(p.row[i])
	if err != nil && p.err == nil {
		p.err = err
	}
	return v
}

func (p *rowParser) atoi64(i int) int64 {
	v, err := strconv.ParseInt(p.row[i], 10, 64)
	if err != nil && p.err == nil {
		p.err = err
	}
	return v
}

func (p *rowParser) atof(i int) float64 {
	v, err := strconv.ParseFloat(p.row[i], 64)
	if err != nil && p.err == nil {
		p.err = err
	}
	return v
}

func (p *rowParser) date(i int) time.Time {
	v, err := time.Parse(dateLayout, p.row[i])
	if err != nil && p.err == nil {
		p.err = err
	}
	return v
}

func (p *rowParser) window() traffic.HourWindow {
	return traffic.HourWindow{From: p.atoi(5), To: p.atoi(6)}
}

// each reads every remaining row, which must have width fields.
func each(cr *csv.Reader, width int, fn func(p *rowParser) error) error {
	for line := 3; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if len(row) != width {
			return fmt.Errorf("line %d: %d fields, want %d", line, len(row), width)
		}
		p := &rowParser{row: row}
		if err := fn(p); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
}

// LoadRaw reads a raw dataset written by SaveRaw.
func (f *Files) LoadRaw(name string) (traffic.RawDataset, error) {
	start := f.clock.Now()
	monitoring.Logf("Trying to load data locally from %s ...", name)

	cr, meta, closer, err := f.open(name, kindRaw)
	if err != nil {
		return traffic.RawDataset{}, err
	}
	defer closer.Close()

	mp := &rowParser{row: meta}
	ds := traffic.RawDataset{
		StationID:      mp.atoi(3),
		Direction:      traffic.Direction(mp.atoi(4)),
		Window:         mp.window(),
		DeleteIfFaulty: meta[7] == "1",
	}
	if mp.err != nil {
		return traffic.RawDataset{}, persistErr(name, mp.err)
	}

	err = each(cr, len(rawHeader), func(p *rowParser) error {
		r := traffic.RawRecord{
			Date:      p.date(0),
			TimeOfDay: p.atoi64(1),
			StationID: p.atoi(2),
			Direction: traffic.Direction(p.atoi(3)),
			Class:     traffic.VehicleClass(p.atoi(4)),
			Lane:      p.atoi(5),
			LengthM:   p.atof(6),
			SpeedKmh:  p.atof(7),
			Faulty:    p.row[8] == "1",
		}
		ds.Records = append(ds.Records, r)
		return p.err
	})
	if err != nil {
		return traffic.RawDataset{}, persistErr(name, err)
	}

	monitoring.Logf("Loading completed: the file was loaded in %.4f seconds", monitoring.Seconds(f.clock.Since(start)))
	return ds, nil
}

// LoadAggregate reads an aggregate dataset written by SaveAggregate.
func (f *Files) LoadAggregate(name string) (traffic.AggregateDataset, error) {
	start := f.clock.Now()
	monitoring.Logf("Trying to load data locally from %s ...", name)

	cr, meta, closer, err := f.open(name, kindAgg)
	if err != nil {
		return traffic.AggregateDataset{}, err
	}
	defer closer.Close()

	mp := &rowParser{row: meta}
	agg := traffic.AggregateDataset{
		StationID: mp.atoi(3),
		Direction: traffic.Direction(mp.atoi(4)),
		Window:    mp.window(),
		Period:    time.Duration(mp.atoi64(7)),
	}
	if mp.err != nil {
		return traffic.AggregateDataset{}, persistErr(name, mp.err)
	}

	err = each(cr, len(aggHeader), func(p *rowParser) error {
		agg.Observations = append(agg.Observations, traffic.AggregateObservation{
			Date:     p.date(0),
			Bucket:   p.atoi(1),
			Start:    p.atoi64(2),
			Count:    p.atoi(3),
			Cars:     p.atoi(4),
			Buses:    p.atoi(5),
			Trucks:   p.atoi(6),
			SpeedKmh: p.atof(7),
			Flow:     p.atof(8),
			Density:  p.atof(9),
		})
		return p.err
	})
	if err != nil {
		return traffic.AggregateDataset{}, persistErr(name, err)
	}

	monitoring.Logf("Loading completed: the file was loaded in %.4f seconds", monitoring.Seconds(f.clock.Since(start)))
	return agg, nil
}
