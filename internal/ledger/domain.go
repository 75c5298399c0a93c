// Package ledger holds the domain model shared by the budget and accounting
// components: chart of accounts, budget catalogs, conversion rules, budget
// movements, vouchers, balances and the fiscal calendar.
package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/armonia-contable/armonia/internal/money"
)

// Scope identifies the (entity, fiscal year) serialization boundary. A scope
// with Year 0 addresses the entity-wide catalogs.
type Scope struct {
	EntityID int64 `json:"entity_id"`
	Year     int   `json:"year"`
}

// SortScopes returns the distinct scopes ordered by entity then year. Stores
// acquire scope locks in this order so overlapping transactions cannot
// deadlock.
func SortScopes(scopes []Scope) []Scope {
	seen := make(map[Scope]struct{}, len(scopes))
	out := make([]Scope, 0, len(scopes))
	for _, scope := range scopes {
		if _, ok := seen[scope]; ok {
			continue
		}
		seen[scope] = struct{}{}
		out = append(out, scope)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityID != out[j].EntityID {
			return out[i].EntityID < out[j].EntityID
		}
		return out[i].Year < out[j].Year
	})
	return out
}

// CatalogScope returns the scope guarding entity-owned catalogs.
func CatalogScope(entityID int64) Scope {
	return Scope{EntityID: entityID}
}

// Next returns the scope of the following fiscal year.
func (s Scope) Next() Scope {
	return Scope{EntityID: s.EntityID, Year: s.Year + 1}
}

func (s Scope) String() string {
	return fmt.Sprintf("%d/%d", s.EntityID, s.Year)
}

// AccountKind enumerates chart of accounts categories.
type AccountKind string

const (
	AccountKindAsset          AccountKind = "activo"
	AccountKindLiability      AccountKind = "pasivo"
	AccountKindEquity         AccountKind = "hacienda"
	AccountKindRevenue        AccountKind = "ingresos"
	AccountKindExpense        AccountKind = "gastos"
	AccountKindClosing        AccountKind = "cierre"
	AccountKindMemoAccounting AccountKind = "orden_contable"
	AccountKindMemoBudget     AccountKind = "orden_presupuestario"
)

// Valid reports whether the kind is known.
func (k AccountKind) Valid() bool {
	switch k {
	case AccountKindAsset, AccountKindLiability, AccountKindEquity, AccountKindRevenue,
		AccountKindExpense, AccountKindClosing, AccountKindMemoAccounting, AccountKindMemoBudget:
		return true
	}
	return false
}

// Permanent reports whether balances of the kind carry into the next year.
func (k AccountKind) Permanent() bool {
	return k == AccountKindAsset || k == AccountKindLiability || k == AccountKindEquity
}

// Temporary reports whether the kind is an income-statement account zeroed at year end.
func (k AccountKind) Temporary() bool {
	return k == AccountKindRevenue || k == AccountKindExpense
}

// Nature determines the sign of an account balance.
type Nature string

const (
	NatureDebit  Nature = "deudora"
	NatureCredit Nature = "acreedora"
)

// Valid reports whether the nature is known.
func (n Nature) Valid() bool {
	return n == NatureDebit || n == NatureCredit
}

// Signed returns the balance of the supplied totals under this nature.
func (n Nature) Signed(debit, credit money.Cents) money.Cents {
	if n == NatureCredit {
		return credit - debit
	}
	return debit - credit
}

// MaxAccountLevel is the deepest level of the chart of accounts.
const MaxAccountLevel = 5

// Account models a chart of accounts node.
type Account struct {
	ID        int64       `json:"id"`
	EntityID  int64       `json:"entity_id"`
	Code      string      `json:"code"`
	Name      string      `json:"name"`
	Level     int         `json:"level"`
	Kind      AccountKind `json:"kind"`
	Nature    Nature      `json:"nature"`
	IsLeaf    bool        `json:"is_leaf"`
	ParentID  *int64      `json:"parent_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// ClassifierType enumerates budget classifier families.
type ClassifierType string

const (
	ClassifierObjectOfExpense ClassifierType = "COG"
	ClassifierFundingSource   ClassifierType = "FF"
	ClassifierFunctional      ClassifierType = "FUN"
	ClassifierAdministrative  ClassifierType = "ADM"
	ClassifierProgrammatic    ClassifierType = "PROG"
	ClassifierRevenueSource   ClassifierType = "CRI"
)

// Valid reports whether the classifier type is known.
func (t ClassifierType) Valid() bool {
	switch t {
	case ClassifierObjectOfExpense, ClassifierFundingSource, ClassifierFunctional,
		ClassifierAdministrative, ClassifierProgrammatic, ClassifierRevenueSource:
		return true
	}
	return false
}

// Classifier is a node in one of the budget classifier forests.
type Classifier struct {
	ID        int64          `json:"id"`
	EntityID  int64          `json:"entity_id"`
	Type      ClassifierType `json:"type"`
	Code      string         `json:"code"`
	Name      string         `json:"name"`
	Level     int            `json:"level"`
	ParentID  *int64         `json:"parent_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// BudgetClass separates expense line items from revenue line items.
type BudgetClass string

const (
	BudgetExpense BudgetClass = "egreso"
	BudgetRevenue BudgetClass = "ingreso"
)

// LineItem is an expense "partida" or a revenue "concepto" for one fiscal year.
type LineItem struct {
	ID           int64       `json:"id"`
	EntityID     int64       `json:"entity_id"`
	Year         int         `json:"year"`
	Class        BudgetClass `json:"class"`
	Code         string      `json:"code"`
	Name         string      `json:"name"`
	ClassifierID int64       `json:"classifier_id"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Scope returns the (entity, year) the line item belongs to.
func (l LineItem) Scope() Scope {
	return Scope{EntityID: l.EntityID, Year: l.Year}
}

// MovementType enumerates budget movement directions.
type MovementType string

const (
	MovementOriginal  MovementType = "original"
	MovementAddition  MovementType = "addition"
	MovementReduction MovementType = "reduction"
)

// Valid reports whether the movement type is known.
func (t MovementType) Valid() bool {
	return t == MovementOriginal || t == MovementAddition || t == MovementReduction
}

// VoucherLineRef links a budget movement to the journal lines mirroring it.
type VoucherLineRef struct {
	VoucherID  int64 `json:"voucher_id"`
	DebitLine  int   `json:"debit_line"`
	CreditLine int   `json:"credit_line"`
}

// BudgetMovement records one moment-sequenced budget event.
type BudgetMovement struct {
	ID          int64           `json:"id"`
	EntityID    int64           `json:"entity_id"`
	Year        int             `json:"year"`
	LineItemID  int64           `json:"line_item_id"`
	Period      int             `json:"period"`
	Moment      Moment          `json:"moment"`
	Type        MovementType    `json:"type"`
	Amount      money.Cents     `json:"amount"`
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	PostedBy    int64           `json:"posted_by"`
	Advisory    string          `json:"advisory,omitempty"`
	VoucherRef  *VoucherLineRef `json:"voucher_ref,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Delta returns the signed effect of the movement on its moment total.
func (m BudgetMovement) Delta() money.Cents {
	if m.Type == MovementReduction {
		return -m.Amount
	}
	return m.Amount
}

// ConversionRule maps a classifier and moment to the accounts of its
// accounting counterpart.
type ConversionRule struct {
	ID              int64     `json:"id"`
	EntityID        int64     `json:"entity_id"`
	ClassifierID    int64     `json:"classifier_id"`
	Moment          Moment    `json:"moment"`
	DebitAccountID  int64     `json:"debit_account_id"`
	CreditAccountID int64     `json:"credit_account_id"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
}

// VoucherType enumerates journal voucher families.
type VoucherType string

const (
	VoucherJournal VoucherType = "diario"
	VoucherIncome  VoucherType = "ingreso"
	VoucherOutlay  VoucherType = "egreso"
)

// Valid reports whether the voucher type is known.
func (t VoucherType) Valid() bool {
	return t == VoucherJournal || t == VoucherIncome || t == VoucherOutlay
}

// VoucherState enumerates the voucher approval lifecycle.
type VoucherState string

const (
	VoucherDraft    VoucherState = "borrador"
	VoucherPending  VoucherState = "pendiente"
	VoucherApproved VoucherState = "aprobada"
	VoucherRejected VoucherState = "rechazada"
)

// Terminal reports whether no further transition is possible.
func (s VoucherState) Terminal() bool {
	return s == VoucherApproved || s == VoucherRejected
}

// SystemActorID authors vouchers generated by the closing engine.
const SystemActorID int64 = 0

// JournalLine stores a debit or a credit against a leaf account.
type JournalLine struct {
	LineNo    int         `json:"line_no"`
	AccountID int64       `json:"account_id"`
	Debit     money.Cents `json:"debit"`
	Credit    money.Cents `json:"credit"`
	Memo      string      `json:"memo,omitempty"`
}

// Voucher is a double-entry accounting document ("póliza").
type Voucher struct {
	ID           int64         `json:"id"`
	UID          uuid.UUID     `json:"uid"`
	EntityID     int64         `json:"entity_id"`
	Year         int           `json:"year"`
	Period       int           `json:"period"`
	Type         VoucherType   `json:"type"`
	Number       int64         `json:"number"`
	Date         time.Time     `json:"date"`
	Description  string        `json:"description"`
	State        VoucherState  `json:"state"`
	Source       string        `json:"source,omitempty"`
	CreatedBy    int64         `json:"created_by"`
	SubmittedAt  *time.Time    `json:"submitted_at,omitempty"`
	ApprovedBy   *int64        `json:"approved_by,omitempty"`
	ApprovedAt   *time.Time    `json:"approved_at,omitempty"`
	RejectedBy   *int64        `json:"rejected_by,omitempty"`
	RejectedAt   *time.Time    `json:"rejected_at,omitempty"`
	RejectReason string        `json:"reject_reason,omitempty"`
	ClonedFrom   *int64        `json:"cloned_from,omitempty"`
	Lines        []JournalLine `json:"lines"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Scope returns the (entity, year) of the voucher.
func (v Voucher) Scope() Scope {
	return Scope{EntityID: v.EntityID, Year: v.Year}
}

// Totals sums debit and credit lines.
func (v Voucher) Totals() (debit, credit money.Cents) {
	for _, line := range v.Lines {
		debit += line.Debit
		credit += line.Credit
	}
	return debit, credit
}

// AccountBalance holds cumulative totals for (account, year, period).
type AccountBalance struct {
	EntityID  int64       `json:"entity_id"`
	Year      int         `json:"year"`
	Period    int         `json:"period"`
	AccountID int64       `json:"account_id"`
	Debit     money.Cents `json:"debit"`
	Credit    money.Cents `json:"credit"`
}

// FiscalYearState enumerates the fiscal year lifecycle.
type FiscalYearState string

const (
	YearOpen    FiscalYearState = "abierto"
	YearClosing FiscalYearState = "en_cierre"
	YearClosed  FiscalYearState = "cerrado"
)

// AcceptsPostings reports whether periods of the year may still receive entries.
func (s FiscalYearState) AcceptsPostings() bool {
	return s == YearOpen || s == YearClosing
}

// PeriodState enumerates the period lifecycle.
type PeriodState string

const (
	PeriodOpen   PeriodState = "abierto"
	PeriodClosed PeriodState = "cerrado"
)

const (
	// AdjustmentPeriod is the thirteenth period used for year-end entries.
	AdjustmentPeriod = 13
	// PeriodsPerYear counts twelve months plus the adjustment period.
	PeriodsPerYear = 13
)

// Period is one of the thirteen posting windows of a fiscal year.
type Period struct {
	EntityID  int64       `json:"entity_id"`
	Year      int         `json:"year"`
	Number    int         `json:"number"`
	StartDate time.Time   `json:"start_date"`
	EndDate   time.Time   `json:"end_date"`
	State     PeriodState `json:"state"`
	ClosedBy  *int64      `json:"closed_by,omitempty"`
	ClosedAt  *time.Time  `json:"closed_at,omitempty"`
}

// Contains reports whether date falls within the period window.
func (p Period) Contains(date time.Time) bool {
	d := truncateDay(date)
	return !d.Before(p.StartDate) && !d.After(p.EndDate)
}

// ResolveDate defaults a missing date to now, or to the period end when now
// falls outside the period, and rejects explicit dates outside the window.
func (p Period) ResolveDate(date, now time.Time) (time.Time, error) {
	if date.IsZero() {
		if p.Contains(now) {
			return now, nil
		}
		return p.EndDate, nil
	}
	if !p.Contains(date) {
		return time.Time{}, fmt.Errorf("%w: date %s outside period %d", ErrInvalidInput, date.Format(time.DateOnly), p.Number)
	}
	return date, nil
}

// FiscalYear owns the thirteen periods and the year-end references.
type FiscalYear struct {
	ID               int64           `json:"id"`
	EntityID         int64           `json:"entity_id"`
	Year             int             `json:"year"`
	StartDate        time.Time       `json:"start_date"`
	EndDate          time.Time       `json:"end_date"`
	State            FiscalYearState `json:"state"`
	ClosingVoucherID *int64          `json:"closing_voucher_id,omitempty"`
	OpeningVoucherID *int64          `json:"opening_voucher_id,omitempty"`
	ClosedBy         *int64          `json:"closed_by,omitempty"`
	ClosedAt         *time.Time      `json:"closed_at,omitempty"`
	Periods          []Period        `json:"periods"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Scope returns the (entity, year) of the fiscal year.
func (y FiscalYear) Scope() Scope {
	return Scope{EntityID: y.EntityID, Year: y.Year}
}

// Period returns the period with the given number.
func (y FiscalYear) Period(number int) (Period, bool) {
	for _, p := range y.Periods {
		if p.Number == number {
			return p, true
		}
	}
	return Period{}, false
}

// EnsurePostable fails with ErrPeriodClosed unless the period accepts entries.
func (y FiscalYear) EnsurePostable(number int) (Period, error) {
	if !y.State.AcceptsPostings() {
		return Period{}, fmt.Errorf("%w: fiscal year %d is %s", ErrPeriodClosed, y.Year, y.State)
	}
	p, ok := y.Period(number)
	if !ok {
		return Period{}, fmt.Errorf("%w: period %d does not exist in fiscal year %d", ErrInvalidInput, number, y.Year)
	}
	if p.State != PeriodOpen {
		return Period{}, fmt.Errorf("%w: period %d of fiscal year %d is closed", ErrPeriodClosed, number, y.Year)
	}
	return p, nil
}

// NewFiscalYear builds a fiscal year in state abierto with its periods.
func NewFiscalYear(entityID int64, year int) FiscalYear {
	fy := FiscalYear{
		EntityID:  entityID,
		Year:      year,
		StartDate: time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC),
		State:     YearOpen,
	}
	for month := 1; month <= 12; month++ {
		start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
		fy.Periods = append(fy.Periods, Period{
			EntityID:  entityID,
			Year:      year,
			Number:    month,
			StartDate: start,
			EndDate:   start.AddDate(0, 1, -1),
			State:     PeriodOpen,
		})
	}
	fy.Periods = append(fy.Periods, Period{
		EntityID:  entityID,
		Year:      year,
		Number:    AdjustmentPeriod,
		StartDate: fy.EndDate,
		EndDate:   fy.EndDate,
		State:     PeriodOpen,
	})
	return fy
}

// Actor is the identity supplied by the upstream identity provider.
type Actor struct {
	ID         int64
	CanApprove bool
	CanClose   bool
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
