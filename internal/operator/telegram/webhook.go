package telegram

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/rouyesh1998/rouyeshno-bridge/internal/operator"
)

// SecretHeader carries the secret_token given to setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// WebhookHandler accepts updates pushed by Telegram.
type WebhookHandler struct {
	secret  string
	handler operator.Handler
	logger  *slog.Logger
}

// NewWebhookHandler returns a handler that rejects requests whose secret header does not
// match secret. An empty secret accepts every request.
func NewWebhookHandler(secret string, handler operator.Handler, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{secret: secret, handler: handler, logger: logger.With("component", "telegram_webhook")}
}

// ServeHTTP answers 200 for every authenticated update, including ones the handler
// failed on; redeliveries are deduplicated by update id downstream.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(SecretHeader)), []byte(h.secret)) != 1 {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	var u Update
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&u); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if in, ok := u.Inbound(); ok {
		if err := h.handler.HandleInbound(r.Context(), in); err != nil {
			h.logger.Error("handle inbound failed", "update_id", u.UpdateID, "error", err)
		}
	}
	w.WriteHeader(http.StatusOK)
}
