// Package balance folds approved vouchers into running (account, year,
// period) totals and answers balance queries over them.
package balance

import (
	"context"
	"fmt"
	"sort"

	"github.com/armonia-contable/armonia/internal/coa"
	"github.com/armonia-contable/armonia/internal/ledger"
	"github.com/armonia-contable/armonia/internal/money"
)

// Balance is the answer to a balance query for one account.
type Balance struct {
	AccountID int64         `json:"account_id"`
	Code      string        `json:"code"`
	Name      string        `json:"name"`
	Nature    ledger.Nature `json:"nature"`
	Year      int           `json:"year"`
	From      int           `json:"from_period"`
	Through   int           `json:"through_period"`
	Debit     money.Cents   `json:"debit"`
	Credit    money.Cents   `json:"credit"`
	Balance   money.Cents   `json:"balance"`
}

// Aggregator maintains account balances.
type Aggregator struct {
	repo ledger.RepositoryPort
}

// NewAggregator constructs the balance aggregator.
func NewAggregator(repo ledger.RepositoryPort) *Aggregator {
	return &Aggregator{repo: repo}
}

// ApplyVoucher folds an approved voucher into the running balances. It
// reports false when the voucher had already been applied.
func (a *Aggregator) ApplyVoucher(ctx context.Context, voucherID int64) (bool, error) {
	var scope ledger.Scope
	err := a.repo.WithReadTx(ctx, nil, func(ctx context.Context, tx ledger.TxRepository) error {
		v, err := tx.GetVoucher(ctx, voucherID)
		scope = v.Scope()
		return err
	})
	if err != nil {
		return false, err
	}
	var applied bool
	err = a.repo.WithTx(ctx, []ledger.Scope{scope}, func(ctx context.Context, tx ledger.TxRepository) error {
		v, err := tx.GetVoucher(ctx, voucherID)
		if err != nil {
			return err
		}
		applied, err = ApplyVoucherTx(ctx, tx, v)
		return err
	})
	return applied, err
}

// ApplyVoucherTx applies inside a caller-owned transaction. The applied
// marker makes repeated calls a no-op.
func ApplyVoucherTx(ctx context.Context, tx ledger.BalanceRepository, v ledger.Voucher) (bool, error) {
	if v.State != ledger.VoucherApproved {
		return false, fmt.Errorf("%w: voucher %d is %s, only approved vouchers reach balances", ledger.ErrInvalidStatus, v.ID, v.State)
	}
	marked, err := tx.MarkVoucherApplied(ctx, v.ID)
	if err != nil || !marked {
		return false, err
	}
	for _, delta := range fold(v) {
		if err := tx.IncrementBalance(ctx, delta); err != nil {
			return false, err
		}
	}
	return true, nil
}

// fold collapses voucher lines into one delta per account, ordered by
// account id so concurrent writers touch rows in the same order.
func fold(v ledger.Voucher) []ledger.AccountBalance {
	byAccount := make(map[int64]*ledger.AccountBalance)
	for _, line := range v.Lines {
		d, ok := byAccount[line.AccountID]
		if !ok {
			d = &ledger.AccountBalance{EntityID: v.EntityID, Year: v.Year, Period: v.Period, AccountID: line.AccountID}
			byAccount[line.AccountID] = d
		}
		d.Debit += line.Debit
		d.Credit += line.Credit
	}
	out := make([]ledger.AccountBalance, 0, len(byAccount))
	for _, d := range byAccount {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

// BalanceAsOf returns the movement of a single period signed by nature.
// Summary accounts aggregate their leaf descendants.
func (a *Aggregator) BalanceAsOf(ctx context.Context, scope ledger.Scope, accountID int64, period int) (Balance, error) {
	return a.query(ctx, scope, accountID, period, period)
}

// CumulativeThrough sums periods 1..period.
func (a *Aggregator) CumulativeThrough(ctx context.Context, scope ledger.Scope, accountID int64, period int) (Balance, error) {
	return a.query(ctx, scope, accountID, 1, period)
}

func (a *Aggregator) query(ctx context.Context, scope ledger.Scope, accountID int64, from, through int) (Balance, error) {
	if err := checkRange(from, through); err != nil {
		return Balance{}, err
	}
	var out Balance
	err := a.read(ctx, scope, func(ctx context.Context, tx ledger.TxRepository, tree *coa.Tree) error {
		var err error
		out, err = BalanceTx(ctx, tx, tree, scope, accountID, from, through)
		return err
	})
	return out, err
}

// BalanceTx sums the leaves under accountID over periods from..through.
func BalanceTx(ctx context.Context, tx ledger.BalanceRepository, tree *coa.Tree, scope ledger.Scope, accountID int64, from, through int) (Balance, error) {
	account, ok := tree.Get(accountID)
	if !ok {
		return Balance{}, fmt.Errorf("%w: account %d", ledger.ErrNotFound, accountID)
	}
	out := Balance{
		AccountID: account.ID,
		Code:      account.Code,
		Name:      account.Name,
		Nature:    account.Nature,
		Year:      scope.Year,
		From:      from,
		Through:   through,
	}
	for _, leaf := range tree.Leaves(accountID) {
		rows, err := tx.ListAccountBalances(ctx, scope, leaf)
		if err != nil {
			return Balance{}, err
		}
		for _, row := range rows {
			if row.Period < from || row.Period > through {
				continue
			}
			out.Debit += row.Debit
			out.Credit += row.Credit
		}
	}
	out.Balance = account.Nature.Signed(out.Debit, out.Credit)
	return out, nil
}

// LeafTotals returns raw cumulative totals per leaf account through period.
func LeafTotals(ctx context.Context, tx ledger.BalanceRepository, scope ledger.Scope, through int) (map[int64]ledger.AccountBalance, error) {
	rows, err := tx.ListBalances(ctx, scope)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]ledger.AccountBalance)
	for _, row := range rows {
		if row.Period > through {
			continue
		}
		acc := out[row.AccountID]
		acc.EntityID, acc.Year, acc.AccountID, acc.Period = scope.EntityID, scope.Year, row.AccountID, through
		acc.Debit += row.Debit
		acc.Credit += row.Credit
		out[row.AccountID] = acc
	}
	return out, nil
}

func (a *Aggregator) read(ctx context.Context, scope ledger.Scope, fn func(context.Context, ledger.TxRepository, *coa.Tree) error) error {
	scopes := []ledger.Scope{ledger.CatalogScope(scope.EntityID), scope}
	return a.repo.WithReadTx(ctx, scopes, func(ctx context.Context, tx ledger.TxRepository) error {
		accounts, err := tx.ListAccounts(ctx, scope.EntityID)
		if err != nil {
			return err
		}
		tree, err := coa.Build(accounts)
		if err != nil {
			return err
		}
		return fn(ctx, tx, tree)
	})
}

func checkRange(from, through int) error {
	if from < 1 || through > ledger.PeriodsPerYear || from > through {
		return fmt.Errorf("%w: period range %d..%d outside 1..%d", ledger.ErrInvalidInput, from, through, ledger.PeriodsPerYear)
	}
	return nil
}
