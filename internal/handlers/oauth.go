package handlers

import (
	"net/http"

	"bedsync/internal/common/logging"
)

type subscribedResponse struct {
	Status string `json:"status"`
}

// Authorize redirects the browser to the Withings consent page.
// @Summary Start the Withings OAuth flow
// @Success 302
// @Router /authorize [get]
func (h *Handlers) Authorize(w http.ResponseWriter, r *http.Request) {
	state := h.states.Issue()
	http.Redirect(w, r, h.withings.AuthorizeURL(state), http.StatusFound)
}

// Callback receives the authorization code, stores the credential and
// subscribes the bed-in and bed-out notifications.
// @Summary OAuth redirect target
// @Param code query string true "Authorization code"
// @Param state query string true "State issued by /authorize"
// @Success 200 {object} subscribedResponse
// @Router /webhook [get]
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	code := query.Get("code")
	if code == "" {
		h.sendJSONError(w, nil, "OAuth callback without code", "Missing code in callback", http.StatusBadRequest)
		return
	}
	if !h.states.Consume(query.Get("state")) {
		h.sendJSONError(w, nil, "OAuth callback with unknown state", "Invalid or expired state", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	token, err := h.tokens.ExchangeCode(ctx, code)
	if err != nil {
		h.sendJSONError(w, err, "Failed to exchange authorization code", err.Error(), statusFor(err))
		return
	}

	if err := h.withings.Subscribe(ctx); err != nil {
		h.sendJSONError(w, err, "Failed to subscribe to bed notifications", err.Error(), statusFor(err))
		return
	}

	h.logger.Info("Withings account linked and subscribed", logging.String("userid", token.UserID))
	h.sendJSONResponse(w, subscribedResponse{Status: "subscribed for bed events"})
}
