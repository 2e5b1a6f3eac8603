package cart

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vyrodovalexey/cartsync/internal/model"
)

// Cart errors.
var (
	// ErrInvalidQuantity is returned for quantities below 1. It is raised
	// locally and never reaches the network.
	ErrInvalidQuantity = errors.New("cart: quantity must be at least 1")

	// ErrItemNotFound is returned when a quantity update names an unknown item.
	ErrItemNotFound = errors.New("cart: item not found")

	// ErrNetworkFailure wraps transport errors and non-2xx responses.
	ErrNetworkFailure = errors.New("cart: network failure")

	// ErrPartialMigration matches a *PartialMigrationError.
	ErrPartialMigration = errors.New("cart: guest cart migration partially failed")
)

// networkFailure tags err as a network failure of operation op.
func networkFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrNetworkFailure, op, err)
}

// MigrationFailure records one guest item the server refused or never saw.
type MigrationFailure struct {
	Item model.CartItem
	Err  error
}

// MigrationReport summarizes a guest to server cart migration.
type MigrationReport struct {
	Attempted int
	Migrated  int
	// VariantsDropped counts migrated items whose variant could not be sent.
	VariantsDropped int
	Failed          []MigrationFailure
}

// Err returns a *PartialMigrationError when any item failed, nil otherwise.
func (r *MigrationReport) Err() error {
	if r == nil || len(r.Failed) == 0 {
		return nil
	}
	return &PartialMigrationError{Attempted: r.Attempted, Failed: r.Failed}
}

// PartialMigrationError is the end-of-migration summary of failed items.
type PartialMigrationError struct {
	Attempted int
	Failed    []MigrationFailure
}

// Error implements error.
func (e *PartialMigrationError) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		ids = append(ids, f.Item.ProductID.String())
	}
	return fmt.Sprintf("%s: %d of %d items failed (products: %s)",
		ErrPartialMigration, len(e.Failed), e.Attempted, strings.Join(ids, ", "))
}

// Is reports whether target is ErrPartialMigration.
func (e *PartialMigrationError) Is(target error) bool {
	return target == ErrPartialMigration
}
