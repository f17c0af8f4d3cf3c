package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParsePeriod accepts "2024-Q1", "2024-03" or "2024" and returns the
// canonical label with its half-open UTC range.
func ParsePeriod(raw string) (label string, start, end time.Time, err error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if len(s) < 4 {
		return "", time.Time{}, time.Time{}, ErrInvalidPeriod
	}
	year, convErr := strconv.Atoi(s[:4])
	if convErr != nil || year < 1900 || year > 9999 {
		return "", time.Time{}, time.Time{}, ErrInvalidPeriod
	}
	rest := s[4:]

	switch {
	case rest == "":
		start = time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		return fmt.Sprintf("%04d", year), start, start.AddDate(1, 0, 0), nil
	case len(rest) == 3 && (rest[:2] == "-Q"):
		q, convErr := strconv.Atoi(rest[2:])
		if convErr != nil || q < 1 || q > 4 {
			return "", time.Time{}, time.Time{}, ErrInvalidPeriod
		}
		start = time.Date(year, time.Month((q-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
		return fmt.Sprintf("%04d-Q%d", year, q), start, start.AddDate(0, 3, 0), nil
	case len(rest) == 3 && rest[0] == '-':
		m, convErr := strconv.Atoi(rest[1:])
		if convErr != nil || m < 1 || m > 12 {
			return "", time.Time{}, time.Time{}, ErrInvalidPeriod
		}
		start = time.Date(year, time.Month(m), 1, 0, 0, 0, 0, time.UTC)
		return fmt.Sprintf("%04d-%02d", year, m), start, start.AddDate(0, 1, 0), nil
	}
	return "", time.Time{}, time.Time{}, ErrInvalidPeriod
}
