package traffic

// DayStatus tags the outcome of retrieving one day.
type DayStatus int

const (
	// DayOK means records were published and at least one survived filtering.
	DayOK DayStatus = iota
	// DayEmpty means nothing was published, or nothing survived filtering.
	DayEmpty
)

func (s DayStatus) String() string {
	switch s {
	case DayOK:
		return "ok"
	case DayEmpty:
		return "empty"
	}
	return "unknown"
}

// DayResult is what a retriever returns for one requested day. Records is
// nil unless Status is DayOK.
type DayResult struct {
	Day     DayRef
	Status  DayStatus
	Records []RawRecord
}

// OK builds a DayResult from filtered records, tagging it empty when none are
// left.
func OK(day DayRef, records []RawRecord) DayResult {
	if len(records) == 0 {
		return Empty(day)
	}
	return DayResult{Day: day, Status: DayOK, Records: records}
}

// Empty builds a DayEmpty result.
func Empty(day DayRef) DayResult {
	return DayResult{Day: day, Status: DayEmpty}
}

// MarshalText encodes the status by name.
func (s DayStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name written by MarshalText.
func (s *DayStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "ok":
		*s = DayOK
	case "empty":
		*s = DayEmpty
	default:
		return invalidf("unknown day status %q", b)
	}
	return nil
}
