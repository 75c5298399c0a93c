package coa

import (
	"fmt"
	"strings"

	"github.com/armonia-contable/armonia/internal/ledger"
)

// Segments splits a dot-hierarchical code, rejecting empty or non-numeric parts.
func Segments(code string) ([]string, error) {
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("%w: account code required", ledger.ErrInvalidInput)
	}
	parts := strings.Split(code, ".")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: account code %q has an empty segment", ledger.ErrInvalidInput, code)
		}
		for _, r := range p {
			if r < '0' || r > '9' {
				return nil, fmt.Errorf("%w: account code %q must be numeric", ledger.ErrInvalidInput, code)
			}
		}
	}
	return parts, nil
}

// ParentCode returns the code one level up, or "" for a level 1 code.
func ParentCode(code string) string {
	idx := strings.LastIndexByte(code, '.')
	if idx < 0 {
		return ""
	}
	return code[:idx]
}

// ValidateAccount checks the structural rules of a new account against its
// parent (nil for a level 1 account).
func ValidateAccount(a ledger.Account, parent *ledger.Account) error {
	parts, err := Segments(a.Code)
	if err != nil {
		return err
	}
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("%w: account name required", ledger.ErrInvalidInput)
	}
	if len(parts) > ledger.MaxAccountLevel {
		return fmt.Errorf("%w: account %s is deeper than level %d", ledger.ErrInvalidInput, a.Code, ledger.MaxAccountLevel)
	}
	if a.Level != len(parts) {
		return fmt.Errorf("%w: account %s must be level %d", ledger.ErrInvalidInput, a.Code, len(parts))
	}
	if !a.Kind.Valid() {
		return fmt.Errorf("%w: unknown account kind %q", ledger.ErrInvalidInput, a.Kind)
	}
	if !a.Nature.Valid() {
		return fmt.Errorf("%w: unknown account nature %q", ledger.ErrInvalidInput, a.Nature)
	}
	if parent == nil {
		if a.Level != 1 {
			return fmt.Errorf("%w: account %s requires parent %s", ledger.ErrInvalidAccountReference, a.Code, ParentCode(a.Code))
		}
		return nil
	}
	if parent.EntityID != a.EntityID {
		return fmt.Errorf("%w: parent %s belongs to another entity", ledger.ErrInvalidAccountReference, parent.Code)
	}
	if ParentCode(a.Code) != parent.Code {
		return fmt.Errorf("%w: account %s is not a child of %s", ledger.ErrInvalidAccountReference, a.Code, parent.Code)
	}
	if parent.Kind != a.Kind {
		return fmt.Errorf("%w: account %s must share kind %s with its parent", ledger.ErrInvalidInput, a.Code, parent.Kind)
	}
	return nil
}
