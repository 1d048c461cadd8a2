package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Querier is the subset of database/sql used by Reserve. Order placement
// passes its *sql.Tx so that reservations roll back with the transaction.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Reserve decrements a product's stock by quantity and returns the line
// cost (unit price × quantity) in cents. The UPDATE is guarded so stock
// can never go negative even if the row changed since the SELECT.
// Reserve does not commit; the caller owns the transaction boundary.
func Reserve(ctx context.Context, q Querier, productID string, quantity int) (int64, error) {
	if quantity <= 0 {
		return 0, fmt.Errorf("quantity must be positive, got %d", quantity)
	}

	var priceCents int64
	var stock int
	err := q.QueryRowContext(ctx, `
		SELECT price_cents, stock
		FROM products
		WHERE id = $1
		FOR UPDATE
	`, productID).Scan(&priceCents, &stock)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		}
		return 0, err
	}

	result, err := q.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - $2
		WHERE id = $1 AND stock >= $2
	`, productID, quantity)
	if err != nil {
		return 0, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	if rowsAffected == 0 {
		return 0, fmt.Errorf("%w: product %s: requested %d, available %d",
			ErrInsufficientStock, productID, quantity, stock)
	}

	return priceCents * int64(quantity), nil
}
