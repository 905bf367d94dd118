package evaluator

import (
	"strconv"
	"strings"
	"time"

	"weatherrules/internal/types"
)

// DayBounds resolves a day token relative to now and returns the first and
// last microsecond of that UTC calendar day. Accepted tokens are "today",
// "tomorrow" and "day_N" with N a signed day offset.
func DayBounds(token string, now time.Time) (start, end time.Time, err error) {
	var offset int
	switch {
	case token == types.DayToday:
	case token == types.DayTomorrow:
		offset = 1
	case strings.HasPrefix(token, types.DayPrefix):
		offset, err = strconv.Atoi(strings.TrimPrefix(token, types.DayPrefix))
		if err != nil {
			return time.Time{}, time.Time{}, types.NewValidationError(types.ErrCodeValidationInvalidDayToken,
				"day token %q has a non-integer offset", token)
		}
	default:
		return time.Time{}, time.Time{}, types.NewValidationError(types.ErrCodeValidationInvalidDayToken,
			"unknown day token %q", token)
	}

	day := now.UTC().AddDate(0, 0, offset)
	start = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end = start.Add(24*time.Hour - time.Microsecond)
	return start, end, nil
}
