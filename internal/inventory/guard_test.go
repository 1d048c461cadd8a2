package inventory

import (
	"context"
	"testing"
)

func TestReserveRejectsNonPositiveQuantity(t *testing.T) {
	for _, quantity := range []int{0, -3} {
		if _, err := Reserve(context.Background(), nil, "product-1", quantity); err == nil {
			t.Errorf("Reserve with quantity %d: expected error, got nil", quantity)
		}
	}
}
