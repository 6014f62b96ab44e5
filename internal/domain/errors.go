package domain

import "fmt"

// InsufficientStockError rejects a checkout whose cart asks for more than
// the product's total batch stock. The whole transaction fails; nothing is
// deducted.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}
