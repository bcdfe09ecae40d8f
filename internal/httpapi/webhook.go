package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/config"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/model"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/observer"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/logger"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/utils"
)

// Providers kill webhooks that respond slowly; bodies past this size are
// not real webhook deliveries.
const maxWebhookBodyBytes = 1 << 20

// handleWebhookVerify serves Meta's GET subscription handshake. Without
// handshake parameters it doubles as a liveness probe for the route.
func (s *Server) handleWebhookVerify(w http.ResponseWriter, r *http.Request) {
	channel, channelCfg, ok := s.webhookChannel(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	log := logger.FromContext(r.Context()).With(zap.String("channel", string(channel)))

	query := r.URL.Query()
	if query.Get("hub.mode") != "subscribe" {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
		return
	}

	if channelCfg.VerifyToken == "" || query.Get("hub.verify_token") != channelCfg.VerifyToken {
		log.Warn("Webhook verification rejected: token mismatch")
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}

	log.Info("Webhook verification handshake accepted")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(query.Get("hub.challenge")))
}

// handleWebhookReceive accepts a provider delivery and hands it to the
// stream. The 200 is unconditional once the signature checks out: parse
// problems are the consumer's business, and a non-200 here only makes the
// provider hammer the endpoint until it disables the subscription.
func (s *Server) handleWebhookReceive(w http.ResponseWriter, r *http.Request) {
	channel, channelCfg, ok := s.webhookChannel(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	log := logger.FromContext(r.Context()).With(zap.String("channel", string(channel)))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		log.Warn("Failed to read webhook body", zap.Error(err))
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	if channelCfg.AppSecret != "" {
		if !validSignature(channelCfg.AppSecret, body, r.Header.Get("X-Hub-Signature-256")) {
			log.Warn("Webhook rejected: invalid signature")
			observer.IncWebhooksRejected(string(channel))
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	envelope := model.WebhookEnvelope{
		Channel:    channel,
		ReceivedAt: utils.Now(),
		Payload:    datatypes.JSON(body),
	}
	subject := string(model.WebhookSubjectFor(channel))

	// The body hash doubles as the broker message id, so provider retries
	// of the exact same delivery collapse at the stream.
	bodyHash := sha256.Sum256(body)
	headers := map[string]string{
		"Nats-Msg-Id": hex.EncodeToString(bodyHash[:]),
	}

	if err := s.publisher.Publish(subject, utils.MustMarshalJSON(envelope), headers); err != nil {
		// Still 200: the always-acknowledge contract beats the slim chance
		// that a provider retry arrives while the broker is still down.
		log.Error("Failed to publish webhook envelope", zap.Error(err), zap.String("subject", subject))
		observer.IncWebhooksLost(string(channel))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("EVENT_RECEIVED"))
		return
	}

	observer.IncWebhooksReceived(string(channel))
	log.Debug("Webhook envelope published", zap.String("subject", subject), zap.Int("bytes", len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("EVENT_RECEIVED"))
}

// webhookChannel resolves the {channel} path variable to a known, enabled
// channel and its config block.
func (s *Server) webhookChannel(r *http.Request) (model.Channel, *config.ChannelConfig, bool) {
	raw := mux.Vars(r)["channel"]
	channel := model.NormalizeChannel(raw)
	if model.WebhookSubjectFor(channel) == "" {
		return "", nil, false
	}
	channelCfg := s.cfg.ChannelFor(string(channel))
	if channelCfg == nil || !channelCfg.Enabled {
		return "", nil, false
	}
	return channel, channelCfg, true
}

// validSignature checks Meta's X-Hub-Signature-256 header: an HMAC-SHA256
// of the raw body keyed with the app secret, hex encoded with a "sha256="
// prefix.
func validSignature(secret string, body []byte, header string) bool {
	provided, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(provided))
}
