package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mercato/storefront/internal/domain"
)

// Handler acknowledges placed orders. It stands in for a real email or
// push channel; the confirmation is a structured log line.
type Handler struct {
	logger *slog.Logger
}

func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{logger: logger}
}

func (h *Handler) Handle(ctx context.Context, payload []byte) error {
	var event domain.OrderPlacedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal order placed event: %w", err)
	}

	h.logger.Info("order confirmation sent",
		"order_id", event.OrderID,
		"customer_id", event.CustomerID,
		"lines", len(event.Lines),
		"total", domain.FormatCents(event.TotalCents),
	)

	return nil
}
