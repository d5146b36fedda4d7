// Package push is the delivery sink that stands in for a device push
// provider.
package push

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Handler struct {
	logger    *slog.Logger
	pushes    metric.Int64Counter
	delivered atomic.Int64
}

func NewHandler(logger *slog.Logger) *Handler {
	pushes, _ := otel.Meter("push").Int64Counter("push.delivered",
		metric.WithDescription("Push notifications accepted for delivery."))
	return &Handler{
		logger: logger,
		pushes: pushes,
	}
}

type sendRequest struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data"`
}

type sendResponse struct {
	Status string `json:"status"`
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		h.writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	h.delivered.Add(1)
	h.pushes.Add(r.Context(), 1, metric.WithAttributes(attribute.String("category", req.Data["category"])))
	h.logger.Info("push sent", "title", req.Title, "order_id", req.Data["orderId"], "category", req.Data["category"])

	h.writeJSON(w, http.StatusOK, sendResponse{Status: "sent"})
}

func (h *Handler) Delivered() int64 {
	return h.delivered.Load()
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
