package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	obscontext "github.com/smallbiznis/greenledger/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestWithContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = obscontext.WithCompanyID(ctx, "company-1")
	ctx = obscontext.WithActor(ctx, "user", "user-1")

	WithContext(ctx, base).Info("hello")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "req-1", fields["request_id"])
		assert.Equal(t, "company-1", fields["company_id"])
		assert.Equal(t, "user", fields["actor_type"])
		assert.Equal(t, "user-1", fields["actor_id"])
	}
}

func TestOperationFromSQL(t *testing.T) {
	assert.Equal(t, "SELECT", operationFromSQL("  select * from carbon_footprints"))
	assert.Equal(t, "UPDATE", operationFromSQL("UPDATE carbon_offsets SET available_quantity = available_quantity - 1"))
	assert.Equal(t, "UNKNOWN", operationFromSQL(""))
}

func TestRequestLoggingLevels(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := zap.New(core)

	logRequest(log, "/api/v1/health/", 200, "", nil)
	logRequest(log, "/api/v1/carbon/footprints/", 500, "internal", nil)
	logRequest(log, "/api/v1/imports/jobs/:id/validate", 400, "validation_error", nil)
	logRequest(log, "/api/v1/users/me", 401, "unauthorized", nil)
	logRequest(log, "/api/v1/carbon/footprints", 400, "validation_error", nil)

	entries := logs.All()
	if assert.Len(t, entries, 5) {
		assert.Equal(t, zap.DebugLevel, entries[0].Level)
		assert.Equal(t, zap.ErrorLevel, entries[1].Level)
		assert.Equal(t, zap.DebugLevel, entries[2].Level)
		assert.Equal(t, zap.WarnLevel, entries[3].Level)
		assert.Equal(t, zap.InfoLevel, entries[4].Level)
	}
}

func TestWithContextOmitsUnsetFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := obscontext.WithActor(context.Background(), "scheduler", "milestones")
	WithContext(ctx, base).Info("tick")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "scheduler", fields["actor_type"])
		assert.NotContains(t, fields, "request_id")
		assert.NotContains(t, fields, "company_id")
		assert.NotContains(t, fields, "trace_id")
	}
}

func TestNewTagsComponent(t *testing.T) {
	log, err := New(nil, Config{ServiceName: "greenledger", Component: "greenctl", Level: "warn", Output: "stderr"})
	if assert.NoError(t, err) {
		assert.False(t, log.Core().Enabled(zap.InfoLevel))
		assert.True(t, log.Core().Enabled(zap.WarnLevel))
	}

	_, err = New(nil, Config{Level: "loud"})
	assert.Error(t, err)
}

func TestGormLoggerDowngradesExpectedErrors(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	errDuplicate := errors.New("duplicate key")
	l := NewGormLogger(zap.New(core), GormLoggerConfig{
		Level:    gormlogger.Warn,
		Expected: func(err error) bool { return errors.Is(err, errDuplicate) },
	})
	query := func() (string, int64) { return "INSERT INTO users (email) VALUES (?)", 0 }

	l.Trace(context.Background(), time.Now(), query, errDuplicate)
	l.Trace(context.Background(), time.Now(), query, errors.New("connection refused"))
	l.Trace(context.Background(), time.Now(), query, gormlogger.ErrRecordNotFound)
	l.Trace(context.Background(), time.Now(), query, nil)

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, zap.WarnLevel, entries[0].Level)
		assert.Equal(t, zap.ErrorLevel, entries[1].Level)
		assert.Equal(t, "INSERT", entries[1].ContextMap()["operation"])
	}
}
