package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/armonia-contable/armonia/internal/ledger"
)

const accountColumns = `id, entity_id, code, name, level, kind, nature, is_leaf, parent_id, created_at`

func scanAccount(row pgx.Row) (ledger.Account, error) {
	var a ledger.Account
	err := row.Scan(&a.ID, &a.EntityID, &a.Code, &a.Name, &a.Level, &a.Kind, &a.Nature, &a.IsLeaf, &a.ParentID, &a.CreatedAt)
	return a, err
}

func scanAccountRows(rows pgx.Rows) (ledger.Account, error) { return scanAccount(rows) }

func (r *txRepository) InsertAccount(ctx context.Context, a ledger.Account) (ledger.Account, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO accounts (entity_id, code, name, level, kind, nature, is_leaf, parent_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		a.EntityID, a.Code, a.Name, a.Level, string(a.Kind), string(a.Nature), a.IsLeaf, a.ParentID, a.CreatedAt).Scan(&a.ID)
	if err != nil {
		return ledger.Account{}, mapError(err, fmt.Sprintf("account code %s", a.Code))
	}
	return a, nil
}

func (r *txRepository) UpdateAccount(ctx context.Context, a ledger.Account) error {
	tag, err := r.tx.Exec(ctx, `UPDATE accounts SET code=$2, name=$3, level=$4, kind=$5, nature=$6, is_leaf=$7, parent_id=$8 WHERE id=$1`,
		a.ID, a.Code, a.Name, a.Level, string(a.Kind), string(a.Nature), a.IsLeaf, a.ParentID)
	return mustAffect(tag, err, fmt.Sprintf("account %d", a.ID))
}

func (r *txRepository) DeleteAccount(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM accounts WHERE id=$1`, id)
	return mustAffect(tag, err, fmt.Sprintf("account %d", id))
}

func (r *txRepository) GetAccount(ctx context.Context, id int64) (ledger.Account, error) {
	a, err := scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1`, id))
	if err != nil {
		return ledger.Account{}, mapError(err, fmt.Sprintf("account %d", id))
	}
	return a, nil
}

func (r *txRepository) GetAccountByCode(ctx context.Context, entityID int64, code string) (ledger.Account, error) {
	a, err := scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE entity_id=$1 AND code=$2`, entityID, code))
	if err != nil {
		return ledger.Account{}, mapError(err, fmt.Sprintf("account code %s", code))
	}
	return a, nil
}

func (r *txRepository) ListAccounts(ctx context.Context, entityID int64) ([]ledger.Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE entity_id=$1 ORDER BY id`, entityID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAccountRows)
}

func (r *txRepository) ListChildAccounts(ctx context.Context, parentID int64) ([]ledger.Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE parent_id=$1 ORDER BY id`, parentID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAccountRows)
}

func (r *txRepository) AccountHasMovements(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM voucher_lines WHERE account_id=$1)
		OR EXISTS (SELECT 1 FROM account_balances WHERE account_id=$1)`, id).Scan(&exists)
	return exists, err
}

const classifierColumns = `id, entity_id, type, code, name, level, parent_id, created_at`

func scanClassifier(row pgx.Row) (ledger.Classifier, error) {
	var c ledger.Classifier
	err := row.Scan(&c.ID, &c.EntityID, &c.Type, &c.Code, &c.Name, &c.Level, &c.ParentID, &c.CreatedAt)
	return c, err
}

func (r *txRepository) InsertClassifier(ctx context.Context, c ledger.Classifier) (ledger.Classifier, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO classifiers (entity_id, type, code, name, level, parent_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		c.EntityID, string(c.Type), c.Code, c.Name, c.Level, c.ParentID, c.CreatedAt).Scan(&c.ID)
	if err != nil {
		return ledger.Classifier{}, mapError(err, fmt.Sprintf("classifier %s %s", c.Type, c.Code))
	}
	return c, nil
}

func (r *txRepository) GetClassifier(ctx context.Context, id int64) (ledger.Classifier, error) {
	c, err := scanClassifier(r.tx.QueryRow(ctx, `SELECT `+classifierColumns+` FROM classifiers WHERE id=$1`, id))
	if err != nil {
		return ledger.Classifier{}, mapError(err, fmt.Sprintf("classifier %d", id))
	}
	return c, nil
}

func (r *txRepository) ListChildClassifiers(ctx context.Context, parentID int64) ([]ledger.Classifier, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+classifierColumns+` FROM classifiers WHERE parent_id=$1 ORDER BY id`, parentID)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(rows pgx.Rows) (ledger.Classifier, error) { return scanClassifier(rows) })
}

const lineItemColumns = `id, entity_id, year, class, code, name, classifier_id, created_at`

func (r *txRepository) InsertLineItem(ctx context.Context, l ledger.LineItem) (ledger.LineItem, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO line_items (entity_id, year, class, code, name, classifier_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		l.EntityID, l.Year, string(l.Class), l.Code, l.Name, l.ClassifierID, l.CreatedAt).Scan(&l.ID)
	if err != nil {
		return ledger.LineItem{}, mapError(err, fmt.Sprintf("line item %s in %d", l.Code, l.Year))
	}
	return l, nil
}

func (r *txRepository) UpdateLineItem(ctx context.Context, l ledger.LineItem) error {
	tag, err := r.tx.Exec(ctx, `UPDATE line_items SET code=$2, name=$3, classifier_id=$4 WHERE id=$1`,
		l.ID, l.Code, l.Name, l.ClassifierID)
	return mustAffect(tag, err, fmt.Sprintf("line item %d", l.ID))
}

func (r *txRepository) GetLineItem(ctx context.Context, id int64) (ledger.LineItem, error) {
	var l ledger.LineItem
	err := r.tx.QueryRow(ctx, `SELECT `+lineItemColumns+` FROM line_items WHERE id=$1`, id).
		Scan(&l.ID, &l.EntityID, &l.Year, &l.Class, &l.Code, &l.Name, &l.ClassifierID, &l.CreatedAt)
	if err != nil {
		return ledger.LineItem{}, mapError(err, fmt.Sprintf("line item %d", id))
	}
	return l, nil
}

func (r *txRepository) LineItemHasMovements(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM budget_movements WHERE line_item_id=$1)`, id).Scan(&exists)
	return exists, err
}

const ruleColumns = `id, entity_id, classifier_id, moment, debit_account_id, credit_account_id, active, created_at`

func scanRule(row pgx.Row) (ledger.ConversionRule, error) {
	var rule ledger.ConversionRule
	err := row.Scan(&rule.ID, &rule.EntityID, &rule.ClassifierID, &rule.Moment,
		&rule.DebitAccountID, &rule.CreditAccountID, &rule.Active, &rule.CreatedAt)
	return rule, err
}

func (r *txRepository) InsertRule(ctx context.Context, rule ledger.ConversionRule) (ledger.ConversionRule, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO conversion_rules (entity_id, classifier_id, moment, debit_account_id, credit_account_id, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		rule.EntityID, rule.ClassifierID, string(rule.Moment), rule.DebitAccountID, rule.CreditAccountID, rule.Active, rule.CreatedAt).Scan(&rule.ID)
	if err != nil {
		return ledger.ConversionRule{}, mapError(err, fmt.Sprintf("rule for classifier %d and %s", rule.ClassifierID, rule.Moment))
	}
	return rule, nil
}

func (r *txRepository) GetRule(ctx context.Context, id int64) (ledger.ConversionRule, error) {
	rule, err := scanRule(r.tx.QueryRow(ctx, `SELECT `+ruleColumns+` FROM conversion_rules WHERE id=$1`, id))
	if err != nil {
		return ledger.ConversionRule{}, mapError(err, fmt.Sprintf("conversion rule %d", id))
	}
	return rule, nil
}

func (r *txRepository) FindActiveRule(ctx context.Context, entityID, classifierID int64, m ledger.Moment) (ledger.ConversionRule, error) {
	rule, err := scanRule(r.tx.QueryRow(ctx, `SELECT `+ruleColumns+` FROM conversion_rules
		WHERE entity_id=$1 AND classifier_id=$2 AND moment=$3 AND active`, entityID, classifierID, string(m)))
	if err != nil {
		return ledger.ConversionRule{}, mapError(err, fmt.Sprintf("conversion rule for classifier %d and %s", classifierID, m))
	}
	return rule, nil
}

func (r *txRepository) DeactivateRule(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE conversion_rules SET active=FALSE WHERE id=$1`, id)
	return mustAffect(tag, err, fmt.Sprintf("conversion rule %d", id))
}

func (r *txRepository) ListRules(ctx context.Context, entityID int64) ([]ledger.ConversionRule, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+ruleColumns+` FROM conversion_rules WHERE entity_id=$1 ORDER BY id`, entityID)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(rows pgx.Rows) (ledger.ConversionRule, error) { return scanRule(rows) })
}
