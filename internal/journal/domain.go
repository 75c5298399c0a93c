// Package journal implements the voucher (póliza) approval state machine.
package journal

import (
	"fmt"
	"strings"
	"time"

	"github.com/armonia-contable/armonia/internal/ledger"
	"github.com/armonia-contable/armonia/internal/money"
)

// Transition names reported to metrics and audit.
const (
	TransitionCreate  = "create"
	TransitionSubmit  = "submit"
	TransitionApprove = "approve"
	TransitionReject  = "reject"
	TransitionClone   = "clone"
	TransitionSystem  = "system"
)

// LineInput is one debit or credit of a draft voucher.
type LineInput struct {
	AccountID int64       `json:"account_id"`
	Debit     money.Cents `json:"debit"`
	Credit    money.Cents `json:"credit"`
	Memo      string      `json:"memo"`
}

// DraftInput opens a manual voucher in borrador.
type DraftInput struct {
	EntityID    int64
	Year        int
	Period      int
	Type        ledger.VoucherType
	Date        time.Time
	Description string
	Lines       []LineInput
	ActorID     int64
}

// Validate performs cheap checks before touching storage.
func (in DraftInput) Validate() error {
	if in.EntityID <= 0 || in.Year <= 0 {
		return fmt.Errorf("%w: entity and fiscal year required", ledger.ErrInvalidInput)
	}
	if in.Period < 1 || in.Period > ledger.PeriodsPerYear {
		return fmt.Errorf("%w: period %d outside 1..%d", ledger.ErrInvalidInput, in.Period, ledger.PeriodsPerYear)
	}
	if !in.Type.Valid() {
		return fmt.Errorf("%w: unknown voucher type %q", ledger.ErrInvalidInput, in.Type)
	}
	if strings.TrimSpace(in.Description) == "" {
		return fmt.Errorf("%w: description required", ledger.ErrInvalidInput)
	}
	return validateLineShapes(in.Lines)
}

func validateLineShapes(lines []LineInput) error {
	for i, line := range lines {
		if line.AccountID <= 0 {
			return fmt.Errorf("%w: line %d requires an account", ledger.ErrInvalidInput, i+1)
		}
		if line.Debit < 0 || line.Credit < 0 {
			return fmt.Errorf("%w: line %d has a negative amount", ledger.ErrInvalidInput, i+1)
		}
		if (line.Debit == 0) == (line.Credit == 0) {
			return fmt.Errorf("%w: line %d must carry either a debit or a credit", ledger.ErrInvalidInput, i+1)
		}
	}
	return nil
}

func toJournalLines(lines []LineInput) []ledger.JournalLine {
	out := make([]ledger.JournalLine, 0, len(lines))
	for i, line := range lines {
		out = append(out, ledger.JournalLine{
			LineNo:    i + 1,
			AccountID: line.AccountID,
			Debit:     line.Debit,
			Credit:    line.Credit,
			Memo:      line.Memo,
		})
	}
	return out
}

func toLineInputs(lines []ledger.JournalLine) []LineInput {
	out := make([]LineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, LineInput{AccountID: line.AccountID, Debit: line.Debit, Credit: line.Credit, Memo: line.Memo})
	}
	return out
}
