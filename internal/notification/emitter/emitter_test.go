package emitter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/greenledger/internal/config"
	"github.com/smallbiznis/greenledger/internal/notification/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWebhookPostsMessage(t *testing.T) {
	var got domain.Message
	var kind string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		kind = r.Header.Get("X-Notification-Kind")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	msg := domain.Message{
		ID:        uuid.New(),
		CompanyID: uuid.New(),
		Kind:      domain.KindMilestone,
		Title:     "Emissions milestone reached",
		Payload:   map[string]any{"milestone": "first_100_tons"},
		CreatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	em := New(config.Config{Notify: config.NotifyConfig{WebhookURL: srv.URL}}, zap.NewNop())
	require.NoError(t, em.Emit(context.Background(), msg))
	assert.Equal(t, "milestone", kind)
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, "first_100_tons", got.Payload["milestone"])
}

func TestWebhookReportsFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, time.Second).Emit(context.Background(), domain.Message{Kind: domain.KindWeeklySummary})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestNoOpWithoutURL(t *testing.T) {
	em := New(config.Config{}, zap.NewNop())
	_, ok := em.(NoOp)
	assert.True(t, ok)
	assert.NoError(t, em.Emit(context.Background(), domain.Message{}))
}
