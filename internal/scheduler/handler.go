package scheduler

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type Handler struct {
	scheduler *Scheduler
	logger    *slog.Logger
}

func NewHandler(s *Scheduler, logger *slog.Logger) *Handler {
	return &Handler{scheduler: s, logger: logger}
}

// Check failures are part of the report, not an error status.
func (h *Handler) HandleRunChecks(w http.ResponseWriter, r *http.Request) {
	report := h.scheduler.RunManualCheck(r.Context())

	h.logger.Info("manual check run", "checks", len(report.Results), "failed", report.Err() != nil)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(report); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
