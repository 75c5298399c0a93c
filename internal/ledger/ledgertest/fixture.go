// Package ledgertest seeds an in-memory store with a small governmental
// chart of accounts, classifiers and fiscal years for package tests.
package ledgertest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/armonia-contable/armonia/internal/coa"
	"github.com/armonia-contable/armonia/internal/ledger"
	"github.com/armonia-contable/armonia/internal/ledger/memory"
	"github.com/armonia-contable/armonia/internal/money"
)

const (
	// EntityID owns every seeded record.
	EntityID int64 = 1
	// Year is the first seeded fiscal year; Year+1 is seeded as well.
	Year = 2025
)

// Chart codes used across tests.
const (
	Bank          = "1.1.1.2"
	Receivables   = "1.1.2.2"
	Suppliers     = "2.1.1.2"
	Contributions = "3.1.1.1"
	Result        = "3.2.1.1"
	Taxes         = "4.1.1.1"
	Payroll       = "5.1.1.1"
	Services      = "5.1.3.1"

	ExpApproved   = "8.2.1"
	ExpToExercise = "8.2.2"
	ExpModified   = "8.2.3"
	ExpCommitted  = "8.2.4"
	ExpAccrued    = "8.2.5"
	ExpExercised  = "8.2.6"
	ExpPaid       = "8.2.7"

	RevEstimated = "8.1.1"
	RevToCollect = "8.1.2"
	RevAccrued   = "8.1.4"
	RevCollected = "8.1.5"
)

type accountSeed struct {
	code   string
	name   string
	kind   ledger.AccountKind
	nature ledger.Nature
}

var chart = []accountSeed{
	{"1", "Activo", ledger.AccountKindAsset, ledger.NatureDebit},
	{"1.1", "Activo circulante", ledger.AccountKindAsset, ledger.NatureDebit},
	{"1.1.1", "Efectivo y equivalentes", ledger.AccountKindAsset, ledger.NatureDebit},
	{"1.1.1.2", "Bancos tesorería", ledger.AccountKindAsset, ledger.NatureDebit},
	{"1.1.2", "Derechos a recibir efectivo", ledger.AccountKindAsset, ledger.NatureDebit},
	{"1.1.2.2", "Cuentas por cobrar a corto plazo", ledger.AccountKindAsset, ledger.NatureDebit},
	{"2", "Pasivo", ledger.AccountKindLiability, ledger.NatureCredit},
	{"2.1", "Pasivo circulante", ledger.AccountKindLiability, ledger.NatureCredit},
	{"2.1.1", "Cuentas por pagar a corto plazo", ledger.AccountKindLiability, ledger.NatureCredit},
	{"2.1.1.2", "Proveedores por pagar", ledger.AccountKindLiability, ledger.NatureCredit},
	{"3", "Hacienda pública", ledger.AccountKindEquity, ledger.NatureCredit},
	{"3.1", "Hacienda contribuida", ledger.AccountKindEquity, ledger.NatureCredit},
	{"3.1.1", "Aportaciones", ledger.AccountKindEquity, ledger.NatureCredit},
	{"3.1.1.1", "Aportaciones del ejercicio", ledger.AccountKindEquity, ledger.NatureCredit},
	{"3.2", "Hacienda generada", ledger.AccountKindEquity, ledger.NatureCredit},
	{"3.2.1", "Resultados del ejercicio", ledger.AccountKindEquity, ledger.NatureCredit},
	{"3.2.1.1", "Resultado del ejercicio", ledger.AccountKindEquity, ledger.NatureCredit},
	{"4", "Ingresos", ledger.AccountKindRevenue, ledger.NatureCredit},
	{"4.1", "Ingresos de gestión", ledger.AccountKindRevenue, ledger.NatureCredit},
	{"4.1.1", "Impuestos", ledger.AccountKindRevenue, ledger.NatureCredit},
	{"4.1.1.1", "Impuestos sobre los ingresos", ledger.AccountKindRevenue, ledger.NatureCredit},
	{"5", "Gastos", ledger.AccountKindExpense, ledger.NatureDebit},
	{"5.1", "Gastos de funcionamiento", ledger.AccountKindExpense, ledger.NatureDebit},
	{"5.1.1", "Servicios personales", ledger.AccountKindExpense, ledger.NatureDebit},
	{"5.1.1.1", "Remuneraciones al personal", ledger.AccountKindExpense, ledger.NatureDebit},
	{"5.1.3", "Servicios generales", ledger.AccountKindExpense, ledger.NatureDebit},
	{"5.1.3.1", "Servicios básicos", ledger.AccountKindExpense, ledger.NatureDebit},
	{"8", "Cuentas de orden presupuestarias", ledger.AccountKindMemoBudget, ledger.NatureDebit},
	{"8.1", "Ley de ingresos", ledger.AccountKindMemoBudget, ledger.NatureDebit},
	{"8.1.1", "Ley de ingresos estimada", ledger.AccountKindMemoBudget, ledger.NatureDebit},
	{"8.1.2", "Ley de ingresos por ejecutar", ledger.AccountKindMemoBudget, ledger.NatureCredit},
	{"8.1.4", "Ley de ingresos devengada", ledger.AccountKindMemoBudget, ledger.NatureCredit},
	{"8.1.5", "Ley de ingresos recaudada", ledger.AccountKindMemoBudget, ledger.NatureCredit},
	{"8.2", "Presupuesto de egresos", ledger.AccountKindMemoBudget, ledger.NatureDebit},
	{"8.2.1", "Presupuesto de egresos aprobado", ledger.AccountKindMemoBudget, ledger.NatureCredit},
	{"8.2.2", "Presupuesto de egresos por ejercer", ledger.AccountKindMemoBudget, ledger.NatureDebit},
	{"8.2.3", "Modificaciones al presupuesto de egresos", ledger.AccountKindMemoBudget, ledger.NatureDebit},
	{"8.2.4", "Presupuesto de egresos comprometido", ledger.AccountKindMemoBudget, ledger.NatureDebit},
	{"8.2.5", "Presupuesto de egresos devengado", ledger.AccountKindMemoBudget, ledger.NatureDebit},
	{"8.2.6", "Presupuesto de egresos ejercido", ledger.AccountKindMemoBudget, ledger.NatureDebit},
	{"8.2.7", "Presupuesto de egresos pagado", ledger.AccountKindMemoBudget, ledger.NatureDebit},
}

// Classifier codes seeded by New.
const (
	ObjectPayroll  = "1100"
	ObjectServices = "3100"
	RevenueTaxes   = "1.1"
)

// Fixture exposes the seeded store and lookups by code.
type Fixture struct {
	Store       *memory.Store
	EntityID    int64
	Year        int
	Accounts    map[string]ledger.Account
	Classifiers map[string]ledger.Classifier
}

// Now is the fixed clock handed to services under test.
func Now() time.Time {
	return time.Date(Year, time.March, 15, 10, 0, 0, 0, time.UTC)
}

// New seeds the chart of accounts, the COG and CRI classifiers and the
// fiscal years Year and Year+1.
func New(t testing.TB) *Fixture {
	t.Helper()
	f := &Fixture{
		Store:       memory.NewStore(),
		EntityID:    EntityID,
		Year:        Year,
		Accounts:    make(map[string]ledger.Account),
		Classifiers: make(map[string]ledger.Classifier),
	}
	isParent := make(map[string]bool)
	for _, seed := range chart {
		isParent[coa.ParentCode(seed.code)] = true
	}
	f.Tx(t, func(ctx context.Context, tx ledger.TxRepository) {
		for _, seed := range chart {
			parts, err := coa.Segments(seed.code)
			require.NoError(t, err)
			a := ledger.Account{
				EntityID: EntityID,
				Code:     seed.code,
				Name:     seed.name,
				Level:    len(parts),
				Kind:     seed.kind,
				Nature:   seed.nature,
				IsLeaf:   !isParent[seed.code],
			}
			if parent, ok := f.Accounts[coa.ParentCode(seed.code)]; ok {
				a.ParentID = &parent.ID
			}
			inserted, err := tx.InsertAccount(ctx, a)
			require.NoError(t, err)
			f.Accounts[seed.code] = inserted
		}
		chapter, err := tx.InsertClassifier(ctx, ledger.Classifier{EntityID: EntityID, Type: ledger.ClassifierObjectOfExpense, Code: "1000", Name: "Servicios personales", Level: 1})
		require.NoError(t, err)
		f.Classifiers["1000"] = chapter
		for _, c := range []ledger.Classifier{
			{EntityID: EntityID, Type: ledger.ClassifierObjectOfExpense, Code: ObjectPayroll, Name: "Remuneraciones al personal", Level: 2, ParentID: &chapter.ID},
			{EntityID: EntityID, Type: ledger.ClassifierObjectOfExpense, Code: ObjectServices, Name: "Servicios básicos", Level: 1},
			{EntityID: EntityID, Type: ledger.ClassifierRevenueSource, Code: RevenueTaxes, Name: "Impuestos sobre los ingresos", Level: 1},
		} {
			inserted, err := tx.InsertClassifier(ctx, c)
			require.NoError(t, err)
			f.Classifiers[c.Code] = inserted
		}
		for _, year := range []int{Year, Year + 1} {
			_, err := tx.InsertFiscalYear(ctx, ledger.NewFiscalYear(EntityID, year))
			require.NoError(t, err)
		}
	})
	return f
}

// Tx runs fn in a write transaction over the fixture scopes.
func (f *Fixture) Tx(t testing.TB, fn func(context.Context, ledger.TxRepository)) {
	t.Helper()
	scopes := []ledger.Scope{ledger.CatalogScope(f.EntityID), f.Scope(), f.Scope().Next()}
	err := f.Store.WithTx(context.Background(), scopes, func(ctx context.Context, tx ledger.TxRepository) error {
		fn(ctx, tx)
		return nil
	})
	require.NoError(t, err)
}

// Scope returns the first seeded fiscal year scope.
func (f *Fixture) Scope() ledger.Scope {
	return ledger.Scope{EntityID: f.EntityID, Year: f.Year}
}

// Account returns the seeded account by code.
func (f *Fixture) Account(code string) ledger.Account {
	a, ok := f.Accounts[code]
	if !ok {
		panic("ledgertest: unknown account " + code)
	}
	return a
}

// AccountID returns the seeded account id by code.
func (f *Fixture) AccountID(code string) int64 {
	return f.Account(code).ID
}

// LineItem inserts a line item for Year under the classifier code.
func (f *Fixture) LineItem(t testing.TB, class ledger.BudgetClass, code, classifierCode string) ledger.LineItem {
	t.Helper()
	classifier, ok := f.Classifiers[classifierCode]
	require.True(t, ok, "unknown classifier %s", classifierCode)
	var item ledger.LineItem
	f.Tx(t, func(ctx context.Context, tx ledger.TxRepository) {
		var err error
		item, err = tx.InsertLineItem(ctx, ledger.LineItem{
			EntityID:     f.EntityID,
			Year:         f.Year,
			Class:        class,
			Code:         code,
			Name:         code,
			ClassifierID: classifier.ID,
		})
		require.NoError(t, err)
	})
	return item
}

// Rule inserts an active conversion rule between two seeded accounts.
func (f *Fixture) Rule(t testing.TB, classifierCode string, moment ledger.Moment, debitCode, creditCode string) ledger.ConversionRule {
	t.Helper()
	var rule ledger.ConversionRule
	f.Tx(t, func(ctx context.Context, tx ledger.TxRepository) {
		var err error
		rule, err = tx.InsertRule(ctx, ledger.ConversionRule{
			EntityID:        f.EntityID,
			ClassifierID:    f.Classifiers[classifierCode].ID,
			Moment:          moment,
			DebitAccountID:  f.AccountID(debitCode),
			CreditAccountID: f.AccountID(creditCode),
			Active:          true,
		})
		require.NoError(t, err)
	})
	return rule
}

// ExpenseRules registers the standard expense matrix for a classifier.
func (f *Fixture) ExpenseRules(t testing.TB, classifierCode, expenseCode string) {
	t.Helper()
	f.Rule(t, classifierCode, ledger.MomentApproved, ExpToExercise, ExpApproved)
	f.Rule(t, classifierCode, ledger.MomentModified, ExpModified, ExpToExercise)
	f.Rule(t, classifierCode, ledger.MomentCommitted, ExpCommitted, ExpToExercise)
	f.Rule(t, classifierCode, ledger.MomentAccrued, expenseCode, Suppliers)
	f.Rule(t, classifierCode, ledger.MomentExercised, ExpExercised, ExpAccrued)
	f.Rule(t, classifierCode, ledger.MomentPaid, Suppliers, Bank)
}

// RevenueRules registers the standard revenue matrix for a classifier.
func (f *Fixture) RevenueRules(t testing.TB, classifierCode, revenueCode string) {
	t.Helper()
	f.Rule(t, classifierCode, ledger.MomentEstimated, RevEstimated, RevToCollect)
	f.Rule(t, classifierCode, ledger.MomentAccrued, Receivables, revenueCode)
	f.Rule(t, classifierCode, ledger.MomentCollected, Bank, Receivables)
}

// Voucher inserts a voucher directly, bypassing the journal state machine.
func (f *Fixture) Voucher(t testing.TB, v ledger.Voucher) ledger.Voucher {
	t.Helper()
	if v.EntityID == 0 {
		v.EntityID = f.EntityID
	}
	if v.Year == 0 {
		v.Year = f.Year
	}
	if v.Type == "" {
		v.Type = ledger.VoucherJournal
	}
	if v.Date.IsZero() {
		v.Date = Now()
	}
	for i := range v.Lines {
		v.Lines[i].LineNo = i + 1
	}
	var out ledger.Voucher
	f.Tx(t, func(ctx context.Context, tx ledger.TxRepository) {
		var err error
		out, err = tx.InsertVoucher(ctx, v)
		require.NoError(t, err)
	})
	return out
}

// Line builds a journal line against a seeded account.
func (f *Fixture) Line(code string, debit, credit int64) ledger.JournalLine {
	return ledger.JournalLine{AccountID: f.AccountID(code), Debit: money.FromUnits(debit), Credit: money.FromUnits(credit)}
}
