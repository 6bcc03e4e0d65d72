package cron

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidExpression is returned when a rule cannot be parsed due to
	// wrong field count, out-of-range values, or malformed syntax.
	ErrInvalidExpression = errors.New("cron: invalid expression")

	// ErrNoMatch is returned when Next exhausts its iteration limit without
	// finding a time that satisfies all fields.
	ErrNoMatch = errors.New("cron: no matching time found within iteration limit")

	// ErrNilSchedule is returned when Next is called on a nil schedule.
	ErrNilSchedule = errors.New("cron: schedule is nil")
)

// everyPrefix introduces a fixed-interval rule, e.g. "@every 30s".
const everyPrefix = "@every "

// minInterval is the smallest accepted @every interval.
const minInterval = time.Second

// Schedule computes the next execution time after a given reference time.
type Schedule interface {
	Next(from time.Time) (time.Time, error)
}

// field bounds for the five cron positions.
type fieldBounds struct {
	name string
	min  int
	max  int
}

var bounds = [5]fieldBounds{
	{name: "minute", min: 0, max: 59},
	{name: "hour", min: 0, max: 23},
	{name: "day-of-month", min: 1, max: 31},
	{name: "month", min: 1, max: 12},
	{name: "day-of-week", min: 0, max: 6},
}

// cronSchedule stores each parsed field as a bitmask: bit n set means value
// n matches. All fields fit in uint64 (largest range is day-of-month, 1-31).
type cronSchedule struct {
	minute uint64
	hour   uint64
	dom    uint64
	month  uint64
	dow    uint64
}

// intervalSchedule fires a fixed duration after the reference time.
type intervalSchedule struct {
	interval time.Duration
}

// Parse parses a recurrence rule and returns a Schedule. Rules are either a
// 5-field cron expression (minute hour day-of-month month day-of-week) or an
// "@every <duration>" interval. Returns ErrInvalidExpression on malformed
// input.
func Parse(rule string) (Schedule, error) {
	rule = strings.TrimSpace(rule)
	if rule == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidExpression)
	}

	if strings.HasPrefix(rule, "@") {
		return parseInterval(rule)
	}

	fields := strings.Fields(rule)
	if len(fields) != len(bounds) {
		return nil, fmt.Errorf("%w: expected %d fields, got %d", ErrInvalidExpression, len(bounds), len(fields))
	}

	var masks [5]uint64

	for i, field := range fields {
		mask, err := parseField(field, bounds[i])
		if err != nil {
			return nil, err
		}

		masks[i] = mask
	}

	return &cronSchedule{
		minute: masks[0],
		hour:   masks[1],
		dom:    masks[2],
		month:  masks[3],
		dow:    masks[4],
	}, nil
}

// MustParse is like Parse but panics on error. Intended for rules known at
// compile time.
//
//nolint:ireturn
func MustParse(rule string) Schedule {
	sched, err := Parse(rule)
	if err != nil {
		panic(err)
	}

	return sched
}

func parseInterval(rule string) (Schedule, error) {
	if !strings.HasPrefix(rule, everyPrefix) {
		return nil, fmt.Errorf("%w: unknown directive %q", ErrInvalidExpression, rule)
	}

	raw := strings.TrimSpace(strings.TrimPrefix(rule, everyPrefix))

	interval, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: bad interval %q: %v", ErrInvalidExpression, raw, err)
	}

	if interval < minInterval {
		return nil, fmt.Errorf("%w: interval %s below minimum %s", ErrInvalidExpression, interval, minInterval)
	}

	return &intervalSchedule{interval: interval}, nil
}

// Next returns the reference time advanced by the fixed interval.
func (sched *intervalSchedule) Next(from time.Time) (time.Time, error) {
	if sched == nil {
		return time.Time{}, ErrNilSchedule
	}

	return from.UTC().Add(sched.interval), nil
}

// Next computes the next matching time strictly after the reference time.
// The input is normalized to UTC and truncated to minute resolution before
// the search. Returns ErrNoMatch if no match exists within roughly one year.
func (sched *cronSchedule) Next(from time.Time) (time.Time, error) {
	if sched == nil {
		return time.Time{}, ErrNilSchedule
	}

	candidate := from.UTC().Add(time.Minute).Truncate(time.Minute)

	// One year of minutes is enough for any satisfiable 5-field rule.
	const maxIterations = 366 * 24 * 60
	for i := 0; i < maxIterations; i++ {
		switch {
		case !bitSet(sched.month, int(candidate.Month())):
			candidate = time.Date(candidate.Year(), candidate.Month()+1, 1, 0, 0, 0, 0, time.UTC)
		case !bitSet(sched.dom, candidate.Day()) || !bitSet(sched.dow, int(candidate.Weekday())):
			candidate = time.Date(candidate.Year(), candidate.Month(), candidate.Day()+1, 0, 0, 0, 0, time.UTC)
		case !bitSet(sched.hour, candidate.Hour()):
			candidate = time.Date(candidate.Year(), candidate.Month(), candidate.Day(), candidate.Hour()+1, 0, 0, 0, time.UTC)
		case !bitSet(sched.minute, candidate.Minute()):
			candidate = candidate.Add(time.Minute)
		default:
			return candidate, nil
		}
	}

	return time.Time{}, ErrNoMatch
}

func bitSet(mask uint64, value int) bool {
	return mask&(uint64(1)<<uint(value)) != 0
}

// parseField parses one comma-separated cron field into a bitmask.
func parseField(field string, b fieldBounds) (uint64, error) {
	var mask uint64

	for _, part := range strings.Split(field, ",") {
		partMask, err := parsePart(part, b)
		if err != nil {
			return 0, err
		}

		mask |= partMask
	}

	return mask, nil
}

// parsePart parses a single element: "*", "N", "lo-hi", optionally followed
// by "/step".
func parsePart(part string, b fieldBounds) (uint64, error) {
	rangePart, stepPart, hasStep := strings.Cut(part, "/")

	step := 1

	if hasStep {
		parsed, err := strconv.Atoi(stepPart)
		if err != nil || parsed <= 0 {
			return 0, fmt.Errorf("%w: invalid step %q in %s field", ErrInvalidExpression, stepPart, b.name)
		}

		step = parsed
	}

	lo, hi := b.min, b.max

	switch {
	case rangePart == "*":
		// full range
	case strings.Contains(rangePart, "-"):
		loRaw, hiRaw, _ := strings.Cut(rangePart, "-")

		parsedLo, err := strconv.Atoi(loRaw)
		if err != nil {
			return 0, fmt.Errorf("%w: invalid range start %q in %s field", ErrInvalidExpression, loRaw, b.name)
		}

		parsedHi, err := strconv.Atoi(hiRaw)
		if err != nil {
			return 0, fmt.Errorf("%w: invalid range end %q in %s field", ErrInvalidExpression, hiRaw, b.name)
		}

		if parsedLo < b.min || parsedHi > b.max || parsedLo > parsedHi {
			return 0, fmt.Errorf("%w: range %d-%d out of bounds [%d, %d] in %s field",
				ErrInvalidExpression, parsedLo, parsedHi, b.min, b.max, b.name)
		}

		lo, hi = parsedLo, parsedHi
	default:
		value, err := strconv.Atoi(rangePart)
		if err != nil {
			return 0, fmt.Errorf("%w: invalid value %q in %s field", ErrInvalidExpression, rangePart, b.name)
		}

		if value < b.min || value > b.max {
			return 0, fmt.Errorf("%w: value %d out of bounds [%d, %d] in %s field",
				ErrInvalidExpression, value, b.min, b.max, b.name)
		}

		if !hasStep {
			return uint64(1) << uint(value), nil
		}

		// "N/step" means start at N and step to the field maximum.
		lo = value
	}

	var mask uint64
	for v := lo; v <= hi; v += step {
		mask |= uint64(1) << uint(v)
	}

	return mask, nil
}
