// Package fintraffic retrieves raw per-vehicle TMS reports from the Fintraffic
// Digitraffic history API.
package fintraffic

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/banshee-data/cqrtraffic/internal/httputil"
	"github.com/banshee-data/cqrtraffic/internal/monitoring"
	"github.com/banshee-data/cqrtraffic/internal/timeutil"
	"github.com/banshee-data/cqrtraffic/internal/traffic"
)

// DefaultURLTemplate is the raw report location. {tms}, {yy} and {dd} are
// replaced by the station id, the two-digit year and the unpadded day of year.
const DefaultURLTemplate = "https://tie.digitraffic.fi/api/tms/v1/history/raw/lamraw_{tms}_{yy}_{dd}.csv"

// Request scopes the retrieval of one day.
type Request struct {
	StationID      int
	Day            traffic.DayRef
	Direction      traffic.Direction
	Window         traffic.HourWindow
	DeleteIfFaulty bool
	// SaveName, when set, is the .gzip file the day's records are saved to.
	SaveName string
}

// Params returns the single-day LoadParams equivalent of r.
func (r Request) Params() traffic.LoadParams {
	return traffic.LoadParams{
		StationID:      r.StationID,
		Days:           []traffic.DayRef{r.Day},
		Direction:      r.Direction,
		Window:         r.Window,
		DeleteIfFaulty: r.DeleteIfFaulty,
	}
}

// Validate checks r before any request is made.
func (r Request) Validate() error {
	if err := r.Params().Validate(); err != nil {
		return err
	}
	if r.SaveName != "" {
		return traffic.ValidateSaveName(r.SaveName)
	}
	return nil
}

// Retriever fetches one day of raw records. A day with no published data is
// a DayEmpty result, not an error.
type Retriever interface {
	Retrieve(ctx context.Context, req Request) (traffic.DayResult, error)
}

// Saver persists a raw dataset under a file name.
type Saver interface {
	SaveRaw(name string, ds traffic.RawDataset) error
}

// Client is the HTTP Retriever.
type Client struct {
	http        httputil.HTTPClient
	urlTemplate string
	saver       Saver
	clock       timeutil.Clock
	userAgent   string
}

// Option configures a Client.
type Option func(*Client)

// WithURLTemplate overrides DefaultURLTemplate.
func WithURLTemplate(tmpl string) Option {
	return func(c *Client) { c.urlTemplate = tmpl }
}

// WithSaver sets where requests carrying a SaveName are written.
func WithSaver(s Saver) Option {
	return func(c *Client) { c.saver = s }
}

// WithUserAgent sets the User-Agent header of report requests.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithClock replaces the clock used for timing log lines.
func WithClock(clk timeutil.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// NewClient creates a Client over h.
func NewClient(h httputil.HTTPClient, opts ...Option) *Client {
	c := &Client{
		http:        h,
		urlTemplate: DefaultURLTemplate,
		clock:       timeutil.RealClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ReportURL expands the URL template for a station and day.
func (c *Client) ReportURL(stationID int, day traffic.DayRef) string {
	return strings.NewReplacer(
		"{tms}", strconv.Itoa(stationID),
		"{yy}", fmt.Sprintf("%02d", day.Year%100),
		"{dd}", strconv.Itoa(day.Day),
	).Replace(c.urlTemplate)
}

// Retrieve downloads and filters one day. HTTP 404 yields DayEmpty; any other
// non-200 status or a malformed report is an error.
func (c *Client) Retrieve(ctx context.Context, req Request) (traffic.DayResult, error) {
	if err := req.Validate(); err != nil {
		return traffic.DayResult{}, err
	}

	start := c.clock.Now()
	monitoring.Logf("Trying to load data for the day %d of year %d from the server...", req.Day.Day, req.Day.Year)

	url := c.ReportURL(req.StationID, req.Day)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return traffic.DayResult{}, fmt.Errorf("build request: %w", err)
	}
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return traffic.DayResult{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		monitoring.Logf("Time spent: %.4f seconds", monitoring.Seconds(c.clock.Since(start)))
		c.warnEmpty(req)
		return traffic.Empty(req.Day), nil
	default:
		return traffic.DayResult{}, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	all, err := ParseReport(resp.Body, req.Day)
	if err != nil {
		return traffic.DayResult{}, fmt.Errorf("station %d day %s: %w", req.StationID, req.Day, err)
	}

	params := req.Params()
	kept := all[:0]
	for _, rec := range all {
		if params.Admits(rec) {
			kept = append(kept, rec)
		}
	}

	result := traffic.OK(req.Day, kept)
	if result.Status == traffic.DayEmpty {
		c.warnEmpty(req)
		return result, nil
	}

	monitoring.Logf("Download successful - file for the sensor %d for the day %d in year %d was loaded in %.4f seconds",
		req.StationID, req.Day.Day, req.Day.Year, monitoring.Seconds(c.clock.Since(start)))

	if req.SaveName != "" {
		if err := c.save(req, result.Records); err != nil {
			return traffic.DayResult{}, err
		}
	}
	return result, nil
}

func (c *Client) save(req Request, records []traffic.RawRecord) error {
	if c.saver == nil {
		return fmt.Errorf("%w: no saver configured for %s", traffic.ErrCachePersist, req.SaveName)
	}
	ds := traffic.RawDataset{
		StationID:      req.StationID,
		Direction:      req.Direction,
		Window:         req.Window,
		DeleteIfFaulty: req.DeleteIfFaulty,
		Records:        records,
	}
	if err := c.saver.SaveRaw(req.SaveName, ds); err != nil {
		return err
	}
	monitoring.Logf("Data is successfully saved to %s", req.SaveName)
	return nil
}

func (c *Client) warnEmpty(req Request) {
	monitoring.Logf("Warning: The data for the TMS %d for the day %d of year %d does not exist. Try to select another day.",
		req.StationID, req.Day.Day, req.Day.Year)
	if req.SaveName != "" {
		monitoring.Logf("Warning: It is impossible to save %s, as data was not loaded.", req.SaveName)
	}
}
