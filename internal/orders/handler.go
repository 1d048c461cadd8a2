package orders

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mercato/storefront/internal/domain"
	"github.com/mercato/storefront/internal/inventory"
	"github.com/mercato/storefront/internal/messaging"
)

var meter = otel.Meter("orders")

type Handler struct {
	service       *PlacementService
	repo          *OrderRepository
	producer      *messaging.Producer
	logger        *slog.Logger
	placedCounter metric.Int64Counter
}

func NewHandler(service *PlacementService, repo *OrderRepository, producer *messaging.Producer, logger *slog.Logger) (*Handler, error) {
	placedCounter, err := meter.Int64Counter("orders.placements",
		metric.WithDescription("Order placement attempts by outcome"),
	)
	if err != nil {
		return nil, err
	}

	return &Handler{
		service:       service,
		repo:          repo,
		producer:      producer,
		logger:        logger,
		placedCounter: placedCounter,
	}, nil
}

type placeOrderRequest struct {
	CustomerID string        `json:"customer_id"`
	Lines      []LineRequest `json:"lines"`
}

func (h *Handler) HandlePlace(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.CustomerID == "" {
		h.writeError(w, http.StatusBadRequest, "missing customer id")
		return
	}

	order, err := h.service.PlaceOrder(r.Context(), req.CustomerID, req.Lines)
	if err != nil {
		h.countPlacement(r, "rejected")

		switch {
		case errors.Is(err, ErrCustomerNotFound):
			h.writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, inventory.ErrProductNotFound):
			h.writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, inventory.ErrInsufficientStock):
			h.writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, ErrEmptyOrder), errors.Is(err, ErrDuplicateLine):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("failed to place order", "error", err, "customer_id", req.CustomerID)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	h.countPlacement(r, "placed")

	if h.producer != nil {
		event := domain.OrderPlacedEvent{
			OrderID:    order.ID,
			CustomerID: order.CustomerID,
			Lines:      order.Lines,
			TotalCents: order.TotalCents,
			Timestamp:  order.CreatedAt,
		}
		if err := h.producer.Publish(r.Context(), order.ID, event); err != nil {
			h.logger.Error("failed to publish order placed event", "error", err, "order_id", order.ID)
		}
	}

	h.logger.Info("order placed", "order_id", order.ID, "customer_id", order.CustomerID, "total_cents", order.TotalCents)
	h.writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "order_id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if order == nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	orders, err := h.repo.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list orders", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("orders listed", "count", len(orders))
	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	customerID := r.PathValue("id")
	if customerID == "" {
		h.writeError(w, http.StatusBadRequest, "missing customer id")
		return
	}

	orders, err := h.repo.ListByCustomer(r.Context(), customerID)
	if err != nil {
		h.logger.Error("failed to list customer orders", "error", err, "customer_id", customerID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) countPlacement(r *http.Request, outcome string) {
	h.placedCounter.Add(r.Context(), 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
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
