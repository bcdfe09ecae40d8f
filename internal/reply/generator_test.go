package reply

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	apperrors "github.com/shire602-cyber/alainbcenter-crm-sub009/internal/apperrors"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/model"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/logger"
)

func newTestGenerator(t *testing.T, handler http.HandlerFunc) *HTTPGenerator {
	logger.Log = zaptest.NewLogger(t).Named("test")
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	generator, err := NewHTTPGenerator(server.URL, "token-test", 5*time.Second)
	require.NoError(t, err)
	return generator
}

func TestHTTPGeneratorGenerate(t *testing.T) {
	var captured Request
	generator := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/replies", r.URL.Path)
		assert.Equal(t, "Bearer token-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"What is your visa expiry date?","reply_type":"flow","question_key":"visa_expiry"}`))
	})

	reply, err := generator.Generate(context.Background(), Request{
		ConversationID: "conv-1",
		Channel:        model.ChannelWhatsApp,
		InboundText:    "I need to renew my visa",
	})
	require.NoError(t, err)
	assert.Equal(t, "What is your visa expiry date?", reply.Text)
	assert.Equal(t, model.ReplyTypeFlow, reply.ReplyType)
	assert.Equal(t, "visa_expiry", reply.QuestionKey)
	assert.Equal(t, "conv-1", captured.ConversationID)
}

func TestHTTPGeneratorDefaultsReplyType(t *testing.T) {
	generator := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"Our office is open 9 to 6."}`))
	})

	reply, err := generator.Generate(context.Background(), Request{ConversationID: "conv-1"})
	require.NoError(t, err)
	assert.Equal(t, model.ReplyTypeDirect, reply.ReplyType)
}

func TestHTTPGeneratorUnavailableIsRetryable(t *testing.T) {
	generator := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := generator.Generate(context.Background(), Request{ConversationID: "conv-1"})
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestHTTPGeneratorBadRequestIsFatal(t *testing.T) {
	generator := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	_, err := generator.Generate(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, apperrors.IsFatal(err))
}
