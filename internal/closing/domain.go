// Package closing owns the fiscal calendar: opening fiscal years, closing
// periods and running the year-end close that zeroes income-statement
// accounts and carries permanent balances into the next year.
package closing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/armonia-contable/armonia/internal/ledger"
	"github.com/armonia-contable/armonia/internal/shared"
)

// Voucher sources written by the year-end close.
const (
	SourceClosing = "CLOSE"
	SourceOpening = "OPEN"
)

// DefaultResultAccountCode is "Resultado del Ejercicio" in the CONAC chart.
const DefaultResultAccountCode = "3.2.1.1"

// Metric kinds.
const (
	KindPeriod     = "period"
	KindFiscalYear = "fiscal_year"
)

var voucherNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("armonia:closing"))

// voucherUID is stable per (entity, year, source) so a re-driven close
// produces the same identifiers.
func voucherUID(scope ledger.Scope, source string) uuid.UUID {
	return uuid.NewSHA1(voucherNamespace, []byte(scope.String()+"/"+source))
}

// Locker guards a fiscal year close across processes.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(context.Context) error, err error)
}

// AuditPort records close events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Metrics observes close outcomes.
type Metrics interface {
	ObserveClosing(kind, result string)
}

// YearResult describes a completed fiscal year close. Closing or Opening
// is nil when there was nothing to post.
type YearResult struct {
	FiscalYear ledger.FiscalYear `json:"fiscal_year"`
	Closing    *ledger.Voucher   `json:"closing_voucher,omitempty"`
	Opening    *ledger.Voucher   `json:"opening_voucher,omitempty"`
	// Resumed is true when the close was re-driven from en_cierre.
	Resumed bool      `json:"resumed"`
	At      time.Time `json:"at"`
}
