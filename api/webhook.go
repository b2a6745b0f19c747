package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"LineDesk/line"
)

const signatureHeader = "X-Line-Signature"

// HandleWebhook receives one channel's platform events. The channel is
// routed by its external id in the path. Once the batch is authenticated it
// is always acknowledged with 200, even when individual events fail
// internally: telling the platform to retry an accepted batch would replay
// side effects.
func (s *Server) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	lineChannelID := chi.URLParam(r, "channelID")
	ch, err := s.store.ChannelByLineID(lineChannelID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "unknown channel")
			return
		}
		log.Error().Err(err).Str("line_channel_id", lineChannelID).Msg("webhook: channel lookup failed")
		writeError(w, http.StatusInternalServerError, "channel lookup failed")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unable to read request body")
		return
	}

	signature := r.Header.Get(signatureHeader)
	if signature == "" {
		writeError(w, http.StatusBadRequest, "missing signature")
		return
	}
	if !line.VerifySignature(body, signature, ch.ChannelSecret) {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var payload line.WebhookRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}

	for i := range payload.Events {
		s.processEvent(r.Context(), ch, &payload.Events[i])
	}

	// Relayed only after primary processing, so the forward target never
	// observes a batch this system has not acted on yet.
	if ch.WebhookForwardURL != "" {
		go relay(ch.WebhookForwardURL, signature, body)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// relay forwards the raw body and signature to the channel's configured
// webhook, fire and forget.
func relay(forwardURL, signature string, body []byte) {
	client := &http.Client{Timeout: 10 * time.Second}
	req, err := http.NewRequest(http.MethodPost, forwardURL, bytes.NewReader(body))
	if err != nil {
		log.Warn().Err(err).Str("url", forwardURL).Msg("webhook relay: failed to build request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signatureHeader, signature)

	resp, err := client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("url", forwardURL).Msg("webhook relay failed")
		return
	}
	resp.Body.Close()
}
