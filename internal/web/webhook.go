package web

import (
	"net/http"

	"github.com/nhle/brain-dumper/internal/calsync"
	"github.com/nhle/brain-dumper/internal/log"
)

// Provider push-notification headers.
const (
	headerChannelID     = "X-Goog-Channel-Id"
	headerResourceState = "X-Goog-Resource-State"
	headerChannelToken  = "X-Goog-Channel-Token"
)

// handleWebhook receives provider push notifications. Only malformed
// requests get a 4xx; unknown or expired channels are acknowledged with
// 200 so the provider stops redelivering.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	channelID := r.Header.Get(headerChannelID)
	if channelID == "" {
		writeError(w, http.StatusBadRequest, "Missing channel ID")
		return
	}
	resourceState := r.Header.Get(headerResourceState)
	if resourceState == "" {
		writeError(w, http.StatusBadRequest, "Missing resource state")
		return
	}

	outcome, err := s.processor.HandleNotification(r.Context(), calsync.Notification{
		ChannelID:     channelID,
		ResourceState: resourceState,
		Token:         r.Header.Get(headerChannelToken),
	})
	if err != nil {
		// Sync failures are logged and acknowledged anyway; a retry storm
		// from the provider would not help.
		log.Error("webhook processing", err, "channel_id", channelID)
	}

	switch outcome {
	case calsync.OutcomeInvalidToken:
		writeError(w, http.StatusForbidden, "Invalid token")
	case calsync.OutcomeProcessed:
		s.coordinator.InvalidateAvailability()
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}
