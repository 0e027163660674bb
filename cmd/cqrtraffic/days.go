package main

import (
	"fmt"
	"strconv"
	"strings"
)

// parseDays expands "2021:5" and "2021:5-9" into [year, day] pairs in the
// order given.
func parseDays(args []string) ([][2]int, error) {
	var out [][2]int
	for _, arg := range args {
		arg = strings.TrimSpace(arg)
		if arg == "" {
			continue
		}
		yearPart, dayPart, ok := strings.Cut(arg, ":")
		if !ok {
			return nil, fmt.Errorf("invalid day %q: want year:day or year:first-last", arg)
		}
		year, err := strconv.Atoi(yearPart)
		if err != nil {
			return nil, fmt.Errorf("invalid year in %q: %w", arg, err)
		}

		firstPart, lastPart, isRange := strings.Cut(dayPart, "-")
		first, err := strconv.Atoi(firstPart)
		if err != nil {
			return nil, fmt.Errorf("invalid day in %q: %w", arg, err)
		}
		last := first
		if isRange {
			if last, err = strconv.Atoi(lastPart); err != nil {
				return nil, fmt.Errorf("invalid day in %q: %w", arg, err)
			}
			if last < first {
				return nil, fmt.Errorf("invalid range %q: last day before first", arg)
			}
		}
		for d := first; d <= last; d++ {
			out = append(out, [2]int{year, d})
		}
	}
	return out, nil
}
