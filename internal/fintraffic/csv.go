package fintraffic

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/banshee-data/cqrtraffic/internal/traffic"
)

// Column positions of the raw TMS report. The file has no header row.
const (
	colStation = iota
	colYear
	colDay
	colHour
	colMinute
	colSecond
	colHundredth
	colLength
	colLane
	colDirection
	colVehicle
	colSpeed
	colFaulty
	colTotalTime
	colInterval
	colQueueStart

	numColumns
)

// Columns names the raw report fields in file order.
var Columns = [numColumns]string{
	"id", "year", "day", "hour", "minute", "second", "hundredth_second",
	"length", "lane", "direction", "vehicle", "speed", "faulty",
	"total_time", "time_interval", "queue_start",
}

// ParseReport reads a semicolon separated raw report. Every record is dated
// with day because the file's own year column is two digits only.
func ParseReport(r io.Reader, day traffic.DayRef) ([]traffic.RawRecord, error) {
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.FieldsPerRecord = numColumns
	cr.ReuseRecord = true
	cr.TrimLeadingSpace = true

	date := day.Date()
	var records []traffic.RawRecord
	for line := 1; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read report: %w", err)
		}
		rec, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("report line %d: %w", line, err)
		}
		rec.Date = date
		records = append(records, rec)
	}
	return records, nil
}

func parseRow(row []string) (traffic.RawRecord, error) {
	var rec traffic.RawRecord
	p := fieldParser{row: row}

	rec.StationID = p.atoi(colStation)
	rec.LengthM = p.atof(colLength)
	rec.Lane = p.atoi(colLane)
	rec.Direction = traffic.Direction(p.atoi(colDirection))
	rec.Class = traffic.VehicleClass(p.atoi(colVehicle))
	rec.SpeedKmh = p.atof(colSpeed)
	rec.Faulty = p.atoi(colFaulty) == 1
	rec.TimeOfDay = int64(p.atoi(colTotalTime))
	return rec, p.err
}

// fieldParser keeps the first conversion error so parseRow reads linearly.
type fieldParser struct {
	row []string
	err error
}

func (p *fieldParser) atoi(col int) int {
	if p.err != nil {
		return 0
	}
	v, err := strconv.Atoi(strings.TrimSpace(p.row[col]))
	if err != nil {
		p.err = fmt.Errorf("column %s: %w", Columns[col], err)
	}
	return v
}

func (p *fieldParser) atof(col int) float64 {
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(p.row[col]), 64)
	if err != nil {
		p.err = fmt.Errorf("column %s: %w", Columns[col], err)
	}
	return v
}
