package orchestrator

import (
	"fmt"
	"time"

	"github.com/JakeFAU/causelist-crawler/internal/causelist"
)

// WeekendDates expands date (DD/MM/YYYY) into the dates worth processing. No
// lists are published at weekends, so a Friday also covers Saturday through
// Monday, a Saturday covers Sunday and Monday, and a Sunday covers Monday.
func WeekendDates(date string) ([]string, error) {
	day, err := time.Parse(causelist.DateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", date, err)
	}
	extra := 0
	switch day.Weekday() {
	case time.Friday:
		extra = 3
	case time.Saturday:
		extra = 2
	case time.Sunday:
		extra = 1
	}
	out := make([]string, 0, extra+1)
	for i := 0; i <= extra; i++ {
		out = append(out, day.AddDate(0, 0, i).Format(causelist.DateLayout))
	}
	return out, nil
}

// Tomorrow formats the day after now in loc.
func Tomorrow(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return now.In(loc).AddDate(0, 0, 1).Format(causelist.DateLayout)
}
