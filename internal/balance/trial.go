package balance

import (
	"context"
	"sort"

	"github.com/armonia-contable/armonia/internal/coa"
	"github.com/armonia-contable/armonia/internal/ledger"
	"github.com/armonia-contable/armonia/internal/money"
)

// TrialBalanceAccount represents a leaf row inside a trial balance group.
type TrialBalanceAccount struct {
	AccountID int64         `json:"account_id"`
	Code      string        `json:"code"`
	Name      string        `json:"name"`
	Nature    ledger.Nature `json:"nature"`
	Opening   money.Cents   `json:"opening"`
	Debit     money.Cents   `json:"debit"`
	Credit    money.Cents   `json:"credit"`
	Closing   money.Cents   `json:"closing"`
}

// TrialBalanceGroup aggregates the leaves under one level 1 account.
type TrialBalanceGroup struct {
	Key      string                `json:"key"`
	Name     string                `json:"name"`
	Accounts []TrialBalanceAccount `json:"accounts"`
	Debit    money.Cents           `json:"debit"`
	Credit   money.Cents           `json:"credit"`
}

// TrialBalance lists movement over from..through with signed opening and
// closing balances per leaf.
type TrialBalance struct {
	Scope       ledger.Scope        `json:"scope"`
	From        int                 `json:"from_period"`
	Through     int                 `json:"through_period"`
	Groups      []TrialBalanceGroup `json:"groups"`
	TotalDebit  money.Cents         `json:"total_debit"`
	TotalCredit money.Cents         `json:"total_credit"`
}

// Balanced reports whether total debits equal total credits.
func (tb TrialBalance) Balanced() bool {
	return tb.TotalDebit == tb.TotalCredit
}

// TrialBalance builds the trial balance of a scope for periods from..through.
func (a *Aggregator) TrialBalance(ctx context.Context, scope ledger.Scope, from, through int) (TrialBalance, error) {
	if err := checkRange(from, through); err != nil {
		return TrialBalance{}, err
	}
	var out TrialBalance
	err := a.read(ctx, scope, func(ctx context.Context, tx ledger.TxRepository, tree *coa.Tree) error {
		rows, err := tx.ListBalances(ctx, scope)
		if err != nil {
			return err
		}
		out = buildTrialBalance(tree, scope, rows, from, through)
		return nil
	})
	return out, err
}

func buildTrialBalance(tree *coa.Tree, scope ledger.Scope, rows []ledger.AccountBalance, from, through int) TrialBalance {
	type totals struct{ openDebit, openCredit, debit, credit money.Cents }
	perAccount := make(map[int64]*totals)
	for _, row := range rows {
		if row.Period > through {
			continue
		}
		t, ok := perAccount[row.AccountID]
		if !ok {
			t = &totals{}
			perAccount[row.AccountID] = t
		}
		if row.Period < from {
			t.openDebit += row.Debit
			t.openCredit += row.Credit
			continue
		}
		t.debit += row.Debit
		t.credit += row.Credit
	}

	groups := make(map[string]*TrialBalanceGroup)
	keys := make([]string, 0)
	for accountID, t := range perAccount {
		account, ok := tree.Get(accountID)
		if !ok {
			continue
		}
		key := coa.TopCode(account.Code)
		grp, ok := groups[key]
		if !ok {
			grp = &TrialBalanceGroup{Key: key}
			if top, found := tree.ByCode(key); found {
				grp.Name = top.Name
			}
			groups[key] = grp
			keys = append(keys, key)
		}
		opening := account.Nature.Signed(t.openDebit, t.openCredit)
		grp.Accounts = append(grp.Accounts, TrialBalanceAccount{
			AccountID: account.ID,
			Code:      account.Code,
			Name:      account.Name,
			Nature:    account.Nature,
			Opening:   opening,
			Debit:     t.debit,
			Credit:    t.credit,
			Closing:   opening + account.Nature.Signed(t.debit, t.credit),
		})
		grp.Debit += t.debit
		grp.Credit += t.credit
	}

	sort.Strings(keys)
	result := TrialBalance{Scope: scope, From: from, Through: through}
	for _, key := range keys {
		grp := groups[key]
		sort.Slice(grp.Accounts, func(i, j int) bool {
			return grp.Accounts[i].Code < grp.Accounts[j].Code
		})
		result.Groups = append(result.Groups, *grp)
		result.TotalDebit += grp.Debit
		result.TotalCredit += grp.Credit
	}
	return result
}
