package util

import (
	"regexp"
	"strconv"
	"strings"
)

var numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// unit multipliers to bytes, base-1024; "ib" and non-"ib" spellings are the same
var unitBytes = map[string]float64{
	"b":   1,
	"kb":  1 << 10,
	"kib": 1 << 10,
	"mb":  1 << 20,
	"mib": 1 << 20,
	"gb":  1 << 30,
	"gib": 1 << 30,
	"tb":  1 << 40,
	"tib": 1 << 40,
}

// ParseSizeMB converts a pg_size_pretty style string ("7496 kB", "2 GB",
// "128MB") to megabytes. Any input without a numeric token yields 0, and an
// unrecognized unit is treated as bytes, so the result is always usable as a
// chart value.
func ParseSizeMB(s string) float64 {
	num := numberPattern.FindString(s)
	if num == "" {
		return 0
	}
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}

	rest := s[strings.Index(s, num)+len(num):]
	unit := strings.ToLower(strings.TrimSpace(rest))

	mult, ok := unitBytes[unit]
	if !ok {
		mult = 1 // bytes
	}
	return n * mult / (1 << 20)
}
