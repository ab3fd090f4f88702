package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidFormat is returned for a duration or hex literal that isn't
// shaped like one at all (wrong component order, trailing garbage, a
// fraction outside the trailing component).
var ErrInvalidFormat = errors.New("config: invalid format")

// ErrInvalidUnit is returned for a duration literal using a unit outside
// {h, m, s, u}.
var ErrInvalidUnit = errors.New("config: invalid duration unit")

type durationUnit struct {
	suffix    string
	magnitude int // larger = coarser; used to enforce non-increasing order
	scale     time.Duration
}

// unitsByMagnitude is ordered coarsest-first, the order a well-formed
// literal's components must not increase past.
var unitsByMagnitude = []durationUnit{
	{"h", 4, time.Hour},
	{"m", 3, time.Minute},
	{"s", 2, time.Second},
	{"u", 1, time.Microsecond},
}

// ParseDuration parses the local_discovery.interval literal format: a
// sequence of (number)(unit) components in non-increasing unit
// magnitude, with a fractional number allowed only in the trailing
// component. Examples: "1h27m16s", "0.5h", "500u".
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, ErrInvalidFormat
	}

	rest := s
	var total time.Duration
	lastMagnitude := 5 // above the coarsest defined unit
	sawFraction := false

	for rest != "" {
		if sawFraction {
			// A fraction was already consumed and it wasn't the last
			// component — reject immediately.
			return 0, ErrInvalidFormat
		}

		numEnd := 0
		sawDot := false
		for numEnd < len(rest) {
			c := rest[numEnd]
			if c >= '0' && c <= '9' {
				numEnd++
				continue
			}
			if c == '.' && !sawDot {
				sawDot = true
				numEnd++
				continue
			}
			break
		}
		if numEnd == 0 {
			return 0, ErrInvalidFormat
		}
		numStr := rest[:numEnd]
		rest = rest[numEnd:]

		unitEnd := 0
		for unitEnd < len(rest) && isAlpha(rest[unitEnd]) {
			unitEnd++
		}
		if unitEnd == 0 {
			return 0, ErrInvalidFormat
		}
		unitStr := rest[:unitEnd]
		rest = rest[unitEnd:]

		unit, ok := findUnit(unitStr)
		if !ok {
			return 0, ErrInvalidUnit
		}
		if unit.magnitude > lastMagnitude {
			return 0, ErrInvalidFormat
		}
		lastMagnitude = unit.magnitude

		value, err := strconv.ParseFloat(numStr, 64)
		if err != nil {
			return 0, ErrInvalidFormat
		}
		if sawDot {
			sawFraction = true
		}

		total += time.Duration(value * float64(unit.scale))
	}

	return total, nil
}

func findUnit(suffix string) (durationUnit, bool) {
	for _, u := range unitsByMagnitude {
		if u.suffix == suffix {
			return u, true
		}
	}
	return durationUnit{}, false
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// FormatHex64 renders x as exactly 16 lowercase hex digits, no prefix.
func FormatHex64(x uint64) string {
	return fmt.Sprintf("%016x", x)
}

// ParseHexUint64 parses a 64-bit node id literal: an optional "0x" prefix
// followed by exactly 16 hex digits.
func ParseHexUint64(s string) (uint64, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(trimmed) != 16 {
		return 0, ErrInvalidFormat
	}
	v, err := strconv.ParseUint(trimmed, 16, 64)
	if err != nil {
		return 0, ErrInvalidFormat
	}
	return v, nil
}

// ParseBool accepts the case-insensitive true/t/yes vs false/f/no literal
// set.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "t", "yes":
		return true, nil
	case "false", "f", "no":
		return false, nil
	default:
		return false, ErrInvalidFormat
	}
}
