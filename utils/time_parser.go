package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var leadingDays = regexp.MustCompile(`^(\d+)([wd])`)

// ParseDuration extends time.ParseDuration with weeks (w) and days (d), which
// may lead a compound value such as "1w2d" or "1d12h". The result must be
// positive.
func ParseDuration(s string) (time.Duration, error) {
	rest := strings.ToLower(strings.TrimSpace(s))
	if rest == "" {
		return 0, fmt.Errorf("empty duration")
	}

	var total time.Duration
	for {
		m := leadingDays.FindStringSubmatch(rest)
		if m == nil {
			break
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		unit := 24 * time.Hour
		if m[2] == "w" {
			unit *= 7
		}
		total += time.Duration(n) * unit
		rest = rest[len(m[0]):]
	}

	if rest != "" {
		d, err := time.ParseDuration(rest)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		total += d
	}
	if total <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", s)
	}
	return total, nil
}
