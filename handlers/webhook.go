// modgate/handlers/webhook.go
package handlers

import (
	"errors"
	"io"
	"net/http"

	"modgate/config"
	"modgate/moderation"
	"modgate/utils"
)

// HandleModerationWebhook receives review decisions from the moderation
// dashboard. The raw body is kept intact for signature verification.
func HandleModerationWebhook(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleModerationWebhook")

	ip := utils.GetIPAddress(r)
	if !app.WebhookLimiter().GetLimiter(ip).Allow() {
		logger.Warn("Webhook rate limit exceeded", "ip", ip)
		respondError(w, http.StatusTooManyRequests, "Rate limit exceeded", app)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, config.MaxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "Payload too large", app)
			return
		}
		logger.Warn("Failed to read webhook body", "error", err)
		respondError(w, http.StatusBadRequest, "Could not read body", app)
		return
	}

	res := app.Reconciler().Handle(r.Context(), body, r.Header.Get(moderation.SignatureHeader))
	respondJSON(w, res.Status, res.Body, app)
}
