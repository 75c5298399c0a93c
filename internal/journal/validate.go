package journal

import (
	"context"
	"errors"
	"fmt"

	"github.com/armonia-contable/armonia/internal/ledger"
)

// MinLines is the smallest voucher that can leave borrador.
const MinLines = 2

// ValidateLines enforces the double-entry invariants on voucher lines:
// at least two lines, every account a leaf of the entity chart, and
// debits equal to credits.
func ValidateLines(ctx context.Context, tx ledger.CatalogRepository, entityID int64, lines []ledger.JournalLine) error {
	if len(lines) < MinLines {
		return fmt.Errorf("%w: voucher needs at least %d lines, has %d", ledger.ErrUnbalancedVoucher, MinLines, len(lines))
	}
	seen := make(map[int64]bool, len(lines))
	for _, line := range lines {
		if line.Debit < 0 || line.Credit < 0 {
			return fmt.Errorf("%w: line %d has a negative amount", ledger.ErrInvalidInput, line.LineNo)
		}
		if seen[line.AccountID] {
			continue
		}
		account, err := tx.GetAccount(ctx, line.AccountID)
		if errors.Is(err, ledger.ErrNotFound) {
			return fmt.Errorf("%w: line %d references missing account %d", ledger.ErrInvalidAccountReference, line.LineNo, line.AccountID)
		}
		if err != nil {
			return err
		}
		if account.EntityID != entityID {
			return fmt.Errorf("%w: line %d references account %s of another entity", ledger.ErrInvalidAccountReference, line.LineNo, account.Code)
		}
		if !account.IsLeaf {
			return fmt.Errorf("%w: line %d references summary account %s", ledger.ErrInvalidAccountReference, line.LineNo, account.Code)
		}
		seen[line.AccountID] = true
	}
	v := ledger.Voucher{Lines: lines}
	debit, credit := v.Totals()
	if debit != credit {
		return fmt.Errorf("%w: debits %s do not equal credits %s", ledger.ErrUnbalancedVoucher, debit.Format(), credit.Format())
	}
	if debit == 0 {
		return fmt.Errorf("%w: voucher totals are zero", ledger.ErrUnbalancedVoucher)
	}
	return nil
}
