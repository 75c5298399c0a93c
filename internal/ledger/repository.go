package ledger

import (
	"context"

	"github.com/armonia-contable/armonia/internal/money"
)

// RepositoryPort abstracts transactional repository behaviour. Every
// mutating transaction holds the serialization boundary of the supplied
// scopes until it commits or rolls back; an error returned by fn rolls back
// every write made through the TxRepository.
type RepositoryPort interface {
	WithTx(ctx context.Context, scopes []Scope, fn func(context.Context, TxRepository) error) error
	WithReadTx(ctx context.Context, scopes []Scope, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes every operation available inside a transaction.
type TxRepository interface {
	CatalogRepository
	RuleRepository
	CalendarRepository
	BudgetRepository
	VoucherRepository
	BalanceRepository
}

// CatalogRepository persists accounts, classifiers and line items.
type CatalogRepository interface {
	InsertAccount(ctx context.Context, a Account) (Account, error)
	UpdateAccount(ctx context.Context, a Account) error
	DeleteAccount(ctx context.Context, id int64) error
	GetAccount(ctx context.Context, id int64) (Account, error)
	GetAccountByCode(ctx context.Context, entityID int64, code string) (Account, error)
	ListAccounts(ctx context.Context, entityID int64) ([]Account, error)
	ListChildAccounts(ctx context.Context, parentID int64) ([]Account, error)
	AccountHasMovements(ctx context.Context, id int64) (bool, error)

	InsertClassifier(ctx context.Context, c Classifier) (Classifier, error)
	GetClassifier(ctx context.Context, id int64) (Classifier, error)
	ListChildClassifiers(ctx context.Context, parentID int64) ([]Classifier, error)

	InsertLineItem(ctx context.Context, l LineItem) (LineItem, error)
	UpdateLineItem(ctx context.Context, l LineItem) error
	GetLineItem(ctx context.Context, id int64) (LineItem, error)
	LineItemHasMovements(ctx context.Context, id int64) (bool, error)
}

// RuleRepository persists the conversion matrix. InsertRule fails with
// ErrDuplicateRule when an active rule exists for (entity, classifier, moment).
type RuleRepository interface {
	InsertRule(ctx context.Context, r ConversionRule) (ConversionRule, error)
	GetRule(ctx context.Context, id int64) (ConversionRule, error)
	FindActiveRule(ctx context.Context, entityID, classifierID int64, m Moment) (ConversionRule, error)
	DeactivateRule(ctx context.Context, id int64) error
	ListRules(ctx context.Context, entityID int64) ([]ConversionRule, error)
}

// CalendarRepository persists fiscal years and their periods.
type CalendarRepository interface {
	InsertFiscalYear(ctx context.Context, fy FiscalYear) (FiscalYear, error)
	GetFiscalYear(ctx context.Context, scope Scope) (FiscalYear, error)
	UpdateFiscalYear(ctx context.Context, fy FiscalYear) error
	UpdatePeriod(ctx context.Context, p Period) error
}

// BudgetRepository persists budget movements and their running totals.
type BudgetRepository interface {
	GetBudgetTotals(ctx context.Context, lineItemID int64) (BudgetTotals, error)
	AddBudgetTotal(ctx context.Context, lineItemID int64, m Moment, delta money.Cents) error
	InsertMovement(ctx context.Context, mv BudgetMovement) (BudgetMovement, error)
	ListMovements(ctx context.Context, lineItemID int64) ([]BudgetMovement, error)
}

// VoucherRepository persists vouchers with their lines. InsertVoucher
// assigns the id and the sequence number unique per (entity, year, type).
type VoucherRepository interface {
	InsertVoucher(ctx context.Context, v Voucher) (Voucher, error)
	GetVoucher(ctx context.Context, id int64) (Voucher, error)
	FindVouchersBySource(ctx context.Context, scope Scope, source string) ([]Voucher, error)
	ReplaceVoucherLines(ctx context.Context, voucherID int64, lines []JournalLine) error
	UpdateVoucher(ctx context.Context, v Voucher) error
	ListVouchers(ctx context.Context, scope Scope, period int) ([]Voucher, error)
}

// BalanceRepository persists running balances and the applied markers.
// MarkVoucherApplied returns false when the voucher was already applied.
type BalanceRepository interface {
	MarkVoucherApplied(ctx context.Context, voucherID int64) (bool, error)
	IncrementBalance(ctx context.Context, delta AccountBalance) error
	ListBalances(ctx context.Context, scope Scope) ([]AccountBalance, error)
	ListAccountBalances(ctx context.Context, scope Scope, accountID int64) ([]AccountBalance, error)
}
