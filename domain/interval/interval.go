// Package interval parses the human-readable interval grammar used in job
// definitions: a positive integer or decimal count followed by a unit word,
// e.g. "one minute", "30 seconds", "2.5 hours".
package interval

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/momo-scheduler/momo/momoerrors"
)

// unitMillis maps a singular unit word to its length in milliseconds.
// Months and years are fixed-length (30 and 365 days); the grammar describes
// fixed intervals, not calendar schedules.
var unitMillis = map[string]int64{
	"millisecond": 1,
	"second":      1000,
	"minute":      60 * 1000,
	"hour":        60 * 60 * 1000,
	"day":         24 * 60 * 60 * 1000,
	"week":        7 * 24 * 60 * 60 * 1000,
	"month":       30 * 24 * 60 * 60 * 1000,
	"year":        365 * 24 * 60 * 60 * 1000,
}

// wordCounts maps spelled-out counts to their numeric value. "a" and "an"
// behave like "one".
var wordCounts = map[string]float64{
	"a":     1,
	"an":    1,
	"one":   1,
	"two":   2,
	"three": 3,
	"four":  4,
	"five":  5,
	"six":   6,
	"seven": 7,
	"eight": 8,
	"nine":  9,
	"ten":   10,
}

// Parse converts a human-readable interval string into a duration with
// millisecond resolution. Any input outside the grammar, or any interval
// that rounds below one millisecond, yields a non-parsable-interval error.
func Parse(s string) (time.Duration, error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	if len(fields) != 2 {
		return 0, momoerrors.NonParsableInterval(s, nil)
	}

	count, err := parseCount(fields[0])
	if err != nil {
		return 0, momoerrors.NonParsableInterval(s, err)
	}

	unit, ok := unitMillis[singular(fields[1])]
	if !ok {
		return 0, momoerrors.NonParsableInterval(s, nil)
	}

	millis := count * float64(unit)
	if millis < 1 || math.IsInf(millis, 0) || math.IsNaN(millis) {
		return 0, momoerrors.NonParsableInterval(s, nil)
	}

	return time.Duration(math.Round(millis)) * time.Millisecond, nil
}

// parseCount accepts a positive integer, a positive decimal, or a spelled-out
// count word.
func parseCount(token string) (float64, error) {
	if n, ok := wordCounts[token]; ok {
		return n, nil
	}
	n, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}

// singular strips a trailing plural "s" so "seconds" and "second" resolve to
// the same unit.
func singular(unit string) string {
	return strings.TrimSuffix(unit, "s")
}
