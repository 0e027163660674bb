package traffic

import (
	"errors"
	"fmt"
)

var (
	// ErrRetrievalEmpty marks a requested day with no published data. The
	// loader absorbs it.
	ErrRetrievalEmpty = errors.New("no data published for the requested day")

	// ErrLoadExhausted is returned when every requested day is empty.
	ErrLoadExhausted = errors.New("no data was loaded for any requested day")

	// ErrParameterInvalid wraps every pre-flight validation failure.
	ErrParameterInvalid = errors.New("invalid parameter")

	// ErrSolverFailure wraps errors reported by the regression solver.
	ErrSolverFailure = errors.New("solver failure")

	// ErrCachePersist wraps failures to save or read a cached dataset.
	ErrCachePersist = errors.New("cache persist failure")

	// ErrEmptyDataset is returned when a stage receives no observations.
	ErrEmptyDataset = errors.New("dataset is empty")
)

// Stage names a step of the modelling pipeline.
type Stage string

const (
	StageValidate  Stage = "validate"
	StageLoad      Stage = "load"
	StageAggregate Stage = "aggregate"
	StageBag       Stage = "bag"
	StageFit       Stage = "fit"
	StagePersist   Stage = "persist"
)

// StageError reports which pipeline stage failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// invalidf builds an ErrParameterInvalid error with context.
func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrParameterInvalid, fmt.Sprintf(format, args...))
}
