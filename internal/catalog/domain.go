// Package catalog maintains the entity-owned chart of accounts, the budget
// classifier forests and the fiscal-year line items.
package catalog

import (
	"fmt"
	"strings"

	"github.com/armonia-contable/armonia/internal/ledger"
)

// AccountInput creates a chart of accounts node. Level and parent derive
// from the dot-hierarchical code.
type AccountInput struct {
	EntityID int64
	Code     string
	Name     string
	Kind     ledger.AccountKind
	Nature   ledger.Nature
	ActorID  int64
}

// Validate performs cheap checks before touching storage.
func (in AccountInput) Validate() error {
	if in.EntityID <= 0 {
		return fmt.Errorf("%w: entity id required", ledger.ErrInvalidInput)
	}
	if strings.TrimSpace(in.Code) == "" {
		return fmt.Errorf("%w: account code required", ledger.ErrInvalidInput)
	}
	return nil
}

// ClassifierInput creates a classifier node under an optional parent.
type ClassifierInput struct {
	EntityID int64
	Type     ledger.ClassifierType
	Code     string
	Name     string
	ParentID *int64
	ActorID  int64
}

// Validate performs cheap checks before touching storage.
func (in ClassifierInput) Validate() error {
	if in.EntityID <= 0 {
		return fmt.Errorf("%w: entity id required", ledger.ErrInvalidInput)
	}
	if !in.Type.Valid() {
		return fmt.Errorf("%w: unknown classifier type %q", ledger.ErrInvalidInput, in.Type)
	}
	if strings.TrimSpace(in.Code) == "" || strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: classifier code and name required", ledger.ErrInvalidInput)
	}
	return nil
}

// LineItemInput creates an expense partida or a revenue concepto.
type LineItemInput struct {
	EntityID     int64
	Year         int
	Class        ledger.BudgetClass
	Code         string
	Name         string
	ClassifierID int64
	ActorID      int64
}

// Validate performs cheap checks before touching storage.
func (in LineItemInput) Validate() error {
	if in.EntityID <= 0 || in.Year <= 0 {
		return fmt.Errorf("%w: entity and fiscal year required", ledger.ErrInvalidInput)
	}
	if !in.Class.Valid() {
		return fmt.Errorf("%w: unknown budget class %q", ledger.ErrInvalidInput, in.Class)
	}
	if strings.TrimSpace(in.Code) == "" {
		return fmt.Errorf("%w: line item code required", ledger.ErrInvalidInput)
	}
	if in.ClassifierID <= 0 {
		return fmt.Errorf("%w: classifier required", ledger.ErrInvalidInput)
	}
	return nil
}

// LineItemUpdate edits the mutable attributes of a line item.
type LineItemUpdate struct {
	ID           int64
	Name         string
	ClassifierID int64
	ActorID      int64
}
