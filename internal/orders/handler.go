package orders

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/fleetorders/internal/domain"
)

const ActorHeader = "X-Actor"

type Handler struct {
	store  *Store
	logger *slog.Logger
}

func NewHandler(store *Store, logger *slog.Logger) *Handler {
	return &Handler{
		store:  store,
		logger: logger,
	}
}

func (h *Handler) Register(mux *http.ServeMux, wrap func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("GET /orders", wrap(h.HandleList))
	mux.HandleFunc("POST /orders", wrap(h.HandleCreate))
	mux.HandleFunc("GET /orders/overdue", wrap(h.HandleOverdue))
	mux.HandleFunc("GET /orders/stats", wrap(h.HandleStats))
	mux.HandleFunc("GET /orders/{id}", wrap(h.HandleGet))
	mux.HandleFunc("PATCH /orders/{id}/status", wrap(h.HandleUpdateStatus))
	mux.HandleFunc("POST /orders/{id}/cancel", wrap(h.HandleCancel))
	mux.HandleFunc("POST /orders/{id}/complete", wrap(h.HandleComplete))
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status := domain.OrderStatus(q.Get("status"))
	if status != "" && !status.Valid() {
		h.writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	var orders []domain.WorkOrder
	switch {
	case q.Get("q") != "":
		orders = h.store.SearchOrders(q.Get("q"))
		if status != "" {
			orders = withStatus(orders, status)
		}
	case status != "":
		orders = h.store.GetOrdersByStatus(status)
	default:
		orders = h.store.GetOrders()
	}

	h.logger.Debug("orders listed", "count", len(orders))
	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req domain.NewWorkOrder
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.store.CreateOrder(WithActor(r.Context(), r.Header.Get(ActorHeader)), req)
	if err != nil {
		h.writeStoreError(w, err, "")
		return
	}

	h.writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.store.GetOrder(id)
	if err != nil {
		h.writeStoreError(w, err, id)
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleOverdue(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.store.GetOverdueOrders())
}

func (h *Handler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.store.GetStatistics())
}

type updateStatusRequest struct {
	Status domain.OrderStatus `json:"status"`
	Note   string             `json:"note"`
}

func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.store.UpdateOrderStatus(WithActor(r.Context(), r.Header.Get(ActorHeader)), id, req.Status, req.Note)
	if err != nil {
		h.writeStoreError(w, err, id)
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.store.CancelOrder(WithActor(r.Context(), r.Header.Get(ActorHeader)), id, req.Reason)
	if err != nil {
		h.writeStoreError(w, err, id)
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

type completeRequest struct {
	Note string `json:"note"`
}

func (h *Handler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req completeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	order, err := h.store.CompleteOrder(WithActor(r.Context(), r.Header.Get(ActorHeader)), id, req.Note)
	if err != nil {
		h.writeStoreError(w, err, id)
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

type transitionError struct {
	Error   string               `json:"error"`
	Allowed []domain.OrderStatus `json:"allowed"`
}

func withStatus(orders []domain.WorkOrder, status domain.OrderStatus) []domain.WorkOrder {
	out := orders[:0]
	for _, o := range orders {
		if o.Status == status {
			out = append(out, o)
		}
	}
	return out
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error, id string) {
	switch {
	case errors.Is(err, ErrOrderNotFound):
		h.writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, ErrInvalidTransition):
		resp := transitionError{Error: err.Error(), Allowed: []domain.OrderStatus{}}
		if order, gerr := h.store.GetOrder(id); gerr == nil {
			resp.Allowed = NextStatuses(order.Status)
		}
		h.writeJSON(w, http.StatusConflict, resp)
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrInvalidOrder):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("order operation failed", "error", err, "order_id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
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
