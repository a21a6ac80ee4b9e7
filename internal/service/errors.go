package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error taxonomy surfaced by the workflow operations. Handlers map these to
// transport codes; nothing below is retried inside the service layer.
var (
	// ErrValidation marks malformed input: empty item list, non-positive
	// quantity, bad identifiers.
	ErrValidation = errors.New("validation error")

	// ErrInvalidTransition marks an operation whose precondition the current
	// derived status does not satisfy. Double submissions land here too: the
	// second writer re-reads the row under lock and finds the stage closed.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrInsufficientStock marks a stock deduction that would drive an item's
	// quantity on hand negative. The whole approval rolls back.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrNotFound marks a missing request, item, or user reference.
	ErrNotFound = errors.New("not found")

	// ErrForbidden marks an actor who may not perform the operation on this
	// particular request (e.g. cancelling someone else's request).
	ErrForbidden = errors.New("forbidden")
)

// InsufficientStockError carries enough detail for the caller to tell the
// requester which item fell short.
type InsufficientStockError struct {
	ItemID    uuid.UUID
	ItemName  string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %s (requested: %d, available: %d)",
		e.ItemName, e.Requested, e.Available)
}

// Unwrap lets errors.Is(err, ErrInsufficientStock) match
func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}
