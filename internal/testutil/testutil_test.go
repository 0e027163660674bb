package testutil

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/banshee-data/cqrtraffic/internal/fintraffic"
	"github.com/banshee-data/cqrtraffic/internal/solver"
	"github.com/banshee-data/cqrtraffic/internal/traffic"
)

func TestAssertStatusCode_FailurePath(t *testing.T) {
	t.Parallel()

	AssertStatusCode(t, http.StatusOK, http.StatusOK)
	ok := t.Run("status mismatch", func(t *testing.T) {
		AssertStatusCode(t, http.StatusOK, http.StatusBadRequest)
	})
	if ok {
		t.Fatal("expected subtest to fail on mismatched status code")
	}
}

func TestAssertNoError_FailurePath(t *testing.T) {
	t.Parallel()

	AssertNoError(t, nil)
	ok := t.Run("unexpected error", func(t *testing.T) {
		AssertNoError(t, errors.New("boom"))
	})
	if ok {
		t.Fatal("expected subtest to fail when error is non-nil")
	}
}

func TestAssertError_FailurePath(t *testing.T) {
	t.Parallel()

	AssertError(t, errors.New("test error"))
	ok := t.Run("missing expected error", func(t *testing.T) {
		AssertError(t, nil)
	})
	if ok {
		t.Fatal("expected subtest to fail when error is nil")
	}
}

func TestNewJSONRequest(t *testing.T) {
	req := NewJSONRequest(t, http.MethodPost, "/api/model", map[string]int{"grid_x": 10})
	if req.Method != http.MethodPost {
		t.Errorf("method = %s, want POST", req.Method)
	}
	if got := req.Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}

	w := NewTestRecorder()
	w.WriteString(`{"grid_x": 10}`)
	var body map[string]int
	DecodeJSON(t, w, &body)
	if body["grid_x"] != 10 {
		t.Errorf("decoded %v", body)
	}
}

func TestStaticRetriever(t *testing.T) {
	day := traffic.DayRef{Year: 2021, Day: 5}
	r := NewStaticRetriever().Set(day, SyntheticDay(7, day))

	res, err := r.Retrieve(context.Background(), fintraffic.Request{Day: day})
	AssertNoError(t, err)
	if res.Status != traffic.DayOK || len(res.Records) == 0 {
		t.Errorf("expected records for %s, got %+v", day, res.Status)
	}

	res, err = r.Retrieve(context.Background(), fintraffic.Request{Day: traffic.DayRef{Year: 2021, Day: 6}})
	AssertNoError(t, err)
	if res.Status != traffic.DayEmpty {
		t.Errorf("unknown day should be empty, got %v", res.Status)
	}
	if r.Calls() != 2 {
		t.Errorf("Calls() = %d, want 2", r.Calls())
	}
}

func TestSyntheticDayIsInWindow(t *testing.T) {
	day := traffic.DayRef{Year: 2021, Day: 5}
	w := traffic.HourWindow{From: 6, To: 20}
	for _, r := range SyntheticDay(7, day) {
		if !w.Contains(r.TimeOfDay) {
			t.Fatalf("record at %d outside %+v", r.TimeOfDay, w)
		}
	}
}

func TestEchoSolver(t *testing.T) {
	p, err := solver.NewProblem([]float64{1, 2}, []float64{3, 4}, []float64{1, 1}, 0.5)
	AssertNoError(t, err)
	res, err := EchoSolver{}.Fit(context.Background(), p)
	AssertNoError(t, err)
	if len(res.Frontier) != 2 || res.Frontier[1] != 4 {
		t.Errorf("Frontier = %v", res.Frontier)
	}
}
