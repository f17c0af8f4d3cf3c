package server

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const dateOnlyLayout = "2006-01-02"

var errInvalidTime = errors.New("invalid_time")

func pathID(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(c.Param(name)))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, newValidationError(name, "invalid_id", "invalid id")
	}
	return id, nil
}

// parseOptional returns nil for a blank query value and parse's result
// otherwise.
func parseOptional[T any](value string, parse func(string) (T, error)) (*T, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := parse(trimmed)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parseOptionalBool(value string) (*bool, error) {
	return parseOptional(value, strconv.ParseBool)
}

func parseOptionalDecimal(value string) (*decimal.Decimal, error) {
	return parseOptional(value, decimal.NewFromString)
}

// parseOptionalTime accepts RFC 3339 or a bare date. A bare date is the
// start of that UTC day, or its last instant when endOfDay is set, so
// ?from=2024-01-01&to=2024-12-31 covers the whole year.
func parseOptionalTime(value string, endOfDay bool) (*time.Time, error) {
	return parseOptional(value, func(v string) (time.Time, error) {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.UTC(), nil
		}
		day, err := time.Parse(dateOnlyLayout, v)
		if err != nil {
			return time.Time{}, errInvalidTime
		}
		if endOfDay {
			return day.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
		}
		return day, nil
	})
}
