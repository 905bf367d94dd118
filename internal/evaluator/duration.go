package evaluator

import (
	"math"
	"strconv"
	"strings"
	"time"

	"weatherrules/internal/types"
)

var unitDurations = map[string]time.Duration{
	"second":  time.Second,
	"seconds": time.Second,
	"sec":     time.Second,
	"secs":    time.Second,
	"minute":  time.Minute,
	"minutes": time.Minute,
	"min":     time.Minute,
	"mins":    time.Minute,
	"hour":    time.Hour,
	"hours":   time.Hour,
	"hr":      time.Hour,
	"hrs":     time.Hour,
	"day":     24 * time.Hour,
	"days":    24 * time.Hour,
	"week":    7 * 24 * time.Hour,
	"weeks":   7 * 24 * time.Hour,
}

// ParseDuration parses "<number> <unit>" strings such as "2 hours" or
// "30 minutes". The number may be fractional; it must not be negative.
func ParseDuration(s string) (time.Duration, error) {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) != 2 {
		return 0, types.NewValidationError(types.ErrCodeValidationInvalidDuration,
			"duration %q must be \"<number> <unit>\"", s)
	}
	n, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || n < 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, types.NewValidationError(types.ErrCodeValidationInvalidDuration,
			"duration %q has an invalid amount", s)
	}
	unit, ok := unitDurations[fields[1]]
	if !ok {
		return 0, types.NewValidationError(types.ErrCodeValidationInvalidDuration,
			"duration %q has unknown unit %q", s, fields[1])
	}
	d := n * float64(unit)
	if d >= math.MaxInt64 {
		return 0, types.NewValidationError(types.ErrCodeValidationInvalidDuration,
			"duration %q is out of range", s)
	}
	return time.Duration(d), nil
}
