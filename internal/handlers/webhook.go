package handlers

import (
	"net/http"
	"time"

	"bedsync/internal/common/logging"
	"bedsync/internal/observation"
)

// Notify receives Withings data notifications. It always answers 200 so
// Withings does not disable the subscription; unknown categories and
// malformed bodies are logged and ignored.
// @Summary Withings notification webhook
// @Accept x-www-form-urlencoded
// @Param appli formData string true "Notification category"
// @Success 200 {string} string "OK"
// @Router /webhook [post]
func (h *Handlers) Notify(w http.ResponseWriter, r *http.Request) {
	defer writeOK(w)

	if err := r.ParseForm(); err != nil {
		h.logger.Warn("Unreadable notification body", logging.Err(err))
		return
	}

	appli := r.PostForm.Get("appli")
	h.logger.Info("Notification received",
		logging.String("appli", appli),
		logging.String("userid", r.PostForm.Get("userid")))

	obs, ok := observation.FromAppli(appli, time.Now())
	if !ok {
		return
	}
	h.detector.Observe(r.Context(), obs)
}

// NotifyProbe answers the HEAD request Withings sends to check the callback.
func (h *Handlers) NotifyProbe(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
