// Package testutil provides shared test helpers and station fixtures.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/banshee-data/cqrtraffic/internal/fintraffic"
	"github.com/banshee-data/cqrtraffic/internal/solver"
	"github.com/banshee-data/cqrtraffic/internal/traffic"
	"github.com/banshee-data/cqrtraffic/internal/units"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewJSONRequest creates a test HTTP request with body encoded as JSON.
func NewJSONRequest(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to encode request body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// DecodeJSON decodes the recorded response body into v.
func DecodeJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
}

// StaticRetriever serves canned days. Days without an entry are empty.
type StaticRetriever struct {
	mu    sync.Mutex
	days  map[traffic.DayRef][]traffic.RawRecord
	calls int
}

// NewStaticRetriever creates an empty StaticRetriever.
func NewStaticRetriever() *StaticRetriever {
	return &StaticRetriever{days: make(map[traffic.DayRef][]traffic.RawRecord)}
}

// Set registers the records served for day.
func (s *StaticRetriever) Set(day traffic.DayRef, recs []traffic.RawRecord) *StaticRetriever {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.days[day] = recs
	return s
}

// Retrieve implements fintraffic.Retriever.
func (s *StaticRetriever) Retrieve(_ context.Context, req fintraffic.Request) (traffic.DayResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	recs, ok := s.days[req.Day]
	if !ok {
		return traffic.Empty(req.Day), nil
	}
	return traffic.OK(req.Day, recs), nil
}

// Calls returns the number of Retrieve calls.
func (s *StaticRetriever) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// EchoSolver returns the observed flows as the frontier.
type EchoSolver struct{}

// Fit implements pipeline.Solver.
func (EchoSolver) Fit(_ context.Context, p *solver.Problem) (solver.Result, error) {
	return solver.Result{Frontier: append([]float64(nil), p.Y...)}, nil
}

// SyntheticDay emits direction-one cars between 06:00 and 20:00 for station,
// denser in the morning hours so the aggregate has spread.
func SyntheticDay(station int, day traffic.DayRef) []traffic.RawRecord {
	var out []traffic.RawRecord
	for sec := 6 * 3600; sec < 20*3600; sec += 30 {
		hour := sec / 3600
		if hour >= 10 && (sec/30)%2 == 1 {
			continue
		}
		out = append(out, traffic.RawRecord{
			StationID: station,
			Date:      day.Date(),
			TimeOfDay: units.ClockTicks(hour, (sec/60)%60, sec%60, 0),
			Direction: traffic.DirectionOne,
			Class:     traffic.ClassCar,
			Lane:      1,
			LengthM:   4.2,
			SpeedKmh:  60 + float64(hour),
		})
	}
	return out
}
