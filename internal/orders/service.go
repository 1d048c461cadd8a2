package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mercato/storefront/internal/domain"
	"github.com/mercato/storefront/internal/inventory"
)

var (
	ErrCustomerNotFound = errors.New("customer not found")
	ErrEmptyOrder       = errors.New("order has no lines")
	ErrDuplicateLine    = errors.New("duplicate product in order lines")
)

// LineRequest is one requested (product, quantity) pair. Line order is
// preserved; reservations happen in the order the caller supplied.
type LineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// PlacementService assembles orders. One PlaceOrder call is one database
// transaction: customer lookup, stock reservation for every line, and the
// order + order_lines inserts either all commit or all roll back.
type PlacementService struct {
	db *sql.DB
}

func NewPlacementService(db *sql.DB) *PlacementService {
	return &PlacementService{db: db}
}

// PlaceOrder is not idempotent: submitting the same request twice creates
// two orders and decrements stock twice. Callers needing dedup must key
// requests upstream.
func (s *PlacementService) PlaceOrder(ctx context.Context, customerID string, lines []LineRequest) (*domain.Order, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyOrder
	}

	seen := make(map[string]bool, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("product %s: quantity must be positive, got %d", line.ProductID, line.Quantity)
		}
		if seen[line.ProductID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateLine, line.ProductID)
		}
		seen[line.ProductID] = true
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM customers WHERE id = $1)
	`, customerID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrCustomerNotFound, customerID)
	}

	order := &domain.Order{
		ID:         uuid.New().String(),
		CustomerID: customerID,
		Lines:      make([]domain.OrderLine, 0, len(lines)),
		CreatedAt:  time.Now().UTC(),
	}

	for _, line := range lines {
		lineCost, err := inventory.Reserve(ctx, tx, line.ProductID, line.Quantity)
		if err != nil {
			return nil, err
		}

		order.TotalCents += lineCost
		order.Lines = append(order.Lines, domain.OrderLine{
			ProductID:      line.ProductID,
			Quantity:       line.Quantity,
			UnitPriceCents: lineCost / int64(line.Quantity),
		})
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, customer_id, total_cents, created_at)
		VALUES ($1, $2, $3, $4)
	`, order.ID, order.CustomerID, order.TotalCents, order.CreatedAt)
	if err != nil {
		return nil, err
	}

	for _, line := range order.Lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_lines (order_id, product_id, quantity, unit_price_cents)
			VALUES ($1, $2, $3, $4)
		`, order.ID, line.ProductID, line.Quantity, line.UnitPriceCents)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return order, nil
}
