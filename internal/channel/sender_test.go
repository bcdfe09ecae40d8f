package channel

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
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/config"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/model"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/logger"
)

func newWhatsAppTestClient(t *testing.T, handler http.HandlerFunc) (*WhatsAppClient, *httptest.Server) {
	logger.Log = zaptest.NewLogger(t).Named("test")
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewWhatsAppClient(config.ChannelConfig{
		AccessToken: "token-test",
		PhoneID:     "100001",
		APIBaseURL:  server.URL,
	}, 5*time.Second)
	require.NoError(t, err)
	return client, server
}

func TestWhatsAppSendText(t *testing.T) {
	var captured map[string]interface{}
	client, _ := newWhatsAppTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/100001/messages", r.URL.Path)
		assert.Equal(t, "Bearer token-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.out.1"}]}`))
	})

	result, err := client.SendText(context.Background(), "+971501234567", "hello")
	require.NoError(t, err)
	assert.Equal(t, "wamid.out.1", result.MessageID)
	assert.Equal(t, "+971501234567", captured["to"])
	assert.Equal(t, "text", captured["type"])
}

func TestWhatsAppSendTemplate(t *testing.T) {
	var captured map[string]interface{}
	client, _ := newWhatsAppTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.tpl.1"}]}`))
	})

	result, err := client.SendTemplate(context.Background(), "+971501234567", "visa_renewal_reminder", "en", []string{"Ayesha"})
	require.NoError(t, err)
	assert.Equal(t, "wamid.tpl.1", result.MessageID)

	template := captured["template"].(map[string]interface{})
	assert.Equal(t, "visa_renewal_reminder", template["name"])
}

func TestWhatsAppSendRateLimited(t *testing.T) {
	client, _ := newWhatsAppTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":4}}`))
	})

	_, err := client.SendText(context.Background(), "+971501234567", "hello")
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
	assert.True(t, apperrors.IsRateLimitedError(err))
	assert.True(t, apperrors.IsProviderError(err))
}

func TestWhatsAppSendServerError(t *testing.T) {
	client, _ := newWhatsAppTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.SendText(context.Background(), "+971501234567", "hello")
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestWhatsAppSendRejected(t *testing.T) {
	client, _ := newWhatsAppTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"template does not exist"}}`))
	})

	_, err := client.SendTemplate(context.Background(), "+971501234567", "missing_template", "en", nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsFatal(err))
	assert.False(t, apperrors.IsRetryable(err))
}

func TestMessengerSendText(t *testing.T) {
	logger.Log = zaptest.NewLogger(t).Named("test")
	var captured map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/messages", r.URL.Path)
		assert.Equal(t, "token-ig", r.URL.Query().Get("access_token"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"recipient_id":"ig-user-42","message_id":"mid.out.1"}`))
	}))
	t.Cleanup(server.Close)

	client, err := NewMessengerClient("instagram", config.ChannelConfig{
		AccessToken: "token-ig",
		APIBaseURL:  server.URL,
	}, 5*time.Second)
	require.NoError(t, err)

	result, err := client.SendText(context.Background(), "ig-user-42", "thanks for reaching out")
	require.NoError(t, err)
	assert.Equal(t, "mid.out.1", result.MessageID)

	recipient := captured["recipient"].(map[string]interface{})
	assert.Equal(t, "ig-user-42", recipient["id"])
}

func TestMessengerSendTemplateUnsupported(t *testing.T) {
	logger.Log = zaptest.NewLogger(t).Named("test")
	client, err := NewMessengerClient("facebook", config.ChannelConfig{AccessToken: "x"}, time.Second)
	require.NoError(t, err)

	_, err = client.SendTemplate(context.Background(), "fb-user-7", "any", "en", nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsFatal(err))
}

func TestSendersFor(t *testing.T) {
	logger.Log = zaptest.NewLogger(t).Named("test")
	wa, err := NewWhatsAppClient(config.ChannelConfig{AccessToken: "t", PhoneID: "1"}, time.Second)
	require.NoError(t, err)

	senders := Senders{model.ChannelWhatsApp: wa}

	got, err := senders.For(model.Channel("WhatsApp"))
	require.NoError(t, err)
	assert.Equal(t, wa, got)

	_, err = senders.For(model.ChannelInstagram)
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
}
