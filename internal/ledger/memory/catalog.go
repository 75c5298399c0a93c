package memory

import (
	"context"
	"fmt"

	"github.com/armonia-contable/armonia/internal/ledger"
)

func (t *tx) InsertAccount(ctx context.Context, a ledger.Account) (ledger.Account, error) {
	done, err := t.begin(true)
	if err != nil {
		return ledger.Account{}, err
	}
	defer done()
	for _, existing := range t.store.accounts {
		if existing.EntityID == a.EntityID && existing.Code == a.Code {
			return ledger.Account{}, fmt.Errorf("%w: account code %s already exists", ledger.ErrInvalidInput, a.Code)
		}
	}
	a.ID = t.id()
	put(t, t.store.accounts, a.ID, a)
	return a, nil
}

func (t *tx) UpdateAccount(ctx context.Context, a ledger.Account) error {
	done, err := t.begin(true)
	if err != nil {
		return err
	}
	defer done()
	if _, ok := t.store.accounts[a.ID]; !ok {
		return fmt.Errorf("%w: account %d", ledger.ErrNotFound, a.ID)
	}
	put(t, t.store.accounts, a.ID, a)
	return nil
}

func (t *tx) DeleteAccount(ctx context.Context, id int64) error {
	done, err := t.begin(true)
	if err != nil {
		return err
	}
	defer done()
	if _, ok := t.store.accounts[id]; !ok {
		return fmt.Errorf("%w: account %d", ledger.ErrNotFound, id)
	}
	remove(t, t.store.accounts, id)
	return nil
}

func (t *tx) GetAccount(ctx context.Context, id int64) (ledger.Account, error) {
	done, _ := t.begin(false)
	defer done()
	a, ok := t.store.accounts[id]
	if !ok {
		return ledger.Account{}, fmt.Errorf("%w: account %d", ledger.ErrNotFound, id)
	}
	return a, nil
}

func (t *tx) GetAccountByCode(ctx context.Context, entityID int64, code string) (ledger.Account, error) {
	done, _ := t.begin(false)
	defer done()
	for _, a := range t.store.accounts {
		if a.EntityID == entityID && a.Code == code {
			return a, nil
		}
	}
	return ledger.Account{}, fmt.Errorf("%w: account code %s", ledger.ErrNotFound, code)
}

func (t *tx) ListAccounts(ctx context.Context, entityID int64) ([]ledger.Account, error) {
	done, _ := t.begin(false)
	defer done()
	return sortedByID(t.store.accounts, func(a ledger.Account) bool { return a.EntityID == entityID }), nil
}

func (t *tx) ListChildAccounts(ctx context.Context, parentID int64) ([]ledger.Account, error) {
	done, _ := t.begin(false)
	defer done()
	return sortedByID(t.store.accounts, func(a ledger.Account) bool {
		return a.ParentID != nil && *a.ParentID == parentID
	}), nil
}

func (t *tx) AccountHasMovements(ctx context.Context, id int64) (bool, error) {
	done, _ := t.begin(false)
	defer done()
	for _, v := range t.store.vouchers {
		for _, line := range v.Lines {
			if line.AccountID == id {
				return true, nil
			}
		}
	}
	for key := range t.store.balances {
		if key.accountID == id {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) InsertClassifier(ctx context.Context, c ledger.Classifier) (ledger.Classifier, error) {
	done, err := t.begin(true)
	if err != nil {
		return ledger.Classifier{}, err
	}
	defer done()
	for _, existing := range t.store.classifiers {
		if existing.EntityID == c.EntityID && existing.Type == c.Type && existing.Code == c.Code {
			return ledger.Classifier{}, fmt.Errorf("%w: classifier %s %s already exists", ledger.ErrInvalidInput, c.Type, c.Code)
		}
	}
	c.ID = t.id()
	put(t, t.store.classifiers, c.ID, c)
	return c, nil
}

func (t *tx) GetClassifier(ctx context.Context, id int64) (ledger.Classifier, error) {
	done, _ := t.begin(false)
	defer done()
	c, ok := t.store.classifiers[id]
	if !ok {
		return ledger.Classifier{}, fmt.Errorf("%w: classifier %d", ledger.ErrNotFound, id)
	}
	return c, nil
}

func (t *tx) ListChildClassifiers(ctx context.Context, parentID int64) ([]ledger.Classifier, error) {
	done, _ := t.begin(false)
	defer done()
	return sortedByID(t.store.classifiers, func(c ledger.Classifier) bool {
		return c.ParentID != nil && *c.ParentID == parentID
	}), nil
}

func (t *tx) InsertLineItem(ctx context.Context, l ledger.LineItem) (ledger.LineItem, error) {
	done, err := t.begin(true)
	if err != nil {
		return ledger.LineItem{}, err
	}
	defer done()
	for _, existing := range t.store.lineItems {
		if existing.Scope() == l.Scope() && existing.Class == l.Class && existing.Code == l.Code {
			return ledger.LineItem{}, fmt.Errorf("%w: line item %s already exists in %d", ledger.ErrInvalidInput, l.Code, l.Year)
		}
	}
	l.ID = t.id()
	put(t, t.store.lineItems, l.ID, l)
	return l, nil
}

func (t *tx) UpdateLineItem(ctx context.Context, l ledger.LineItem) error {
	done, err := t.begin(true)
	if err != nil {
		return err
	}
	defer done()
	if _, ok := t.store.lineItems[l.ID]; !ok {
		return fmt.Errorf("%w: line item %d", ledger.ErrNotFound, l.ID)
	}
	put(t, t.store.lineItems, l.ID, l)
	return nil
}

func (t *tx) GetLineItem(ctx context.Context, id int64) (ledger.LineItem, error) {
	done, _ := t.begin(false)
	defer done()
	l, ok := t.store.lineItems[id]
	if !ok {
		return ledger.LineItem{}, fmt.Errorf("%w: line item %d", ledger.ErrNotFound, id)
	}
	return l, nil
}

func (t *tx) LineItemHasMovements(ctx context.Context, id int64) (bool, error) {
	done, _ := t.begin(false)
	defer done()
	for _, mv := range t.store.movements {
		if mv.LineItemID == id {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) InsertRule(ctx context.Context, r ledger.ConversionRule) (ledger.ConversionRule, error) {
	done, err := t.begin(true)
	if err != nil {
		return ledger.ConversionRule{}, err
	}
	defer done()
	if r.Active {
		for _, existing := range t.store.rules {
			if existing.Active && existing.EntityID == r.EntityID &&
				existing.ClassifierID == r.ClassifierID && existing.Moment == r.Moment {
				return ledger.ConversionRule{}, fmt.Errorf("%w: classifier %d already maps %s", ledger.ErrDuplicateRule, r.ClassifierID, r.Moment)
			}
		}
	}
	r.ID = t.id()
	put(t, t.store.rules, r.ID, r)
	return r, nil
}

func (t *tx) GetRule(ctx context.Context, id int64) (ledger.ConversionRule, error) {
	done, _ := t.begin(false)
	defer done()
	r, ok := t.store.rules[id]
	if !ok {
		return ledger.ConversionRule{}, fmt.Errorf("%w: conversion rule %d", ledger.ErrNotFound, id)
	}
	return r, nil
}

func (t *tx) FindActiveRule(ctx context.Context, entityID, classifierID int64, m ledger.Moment) (ledger.ConversionRule, error) {
	done, _ := t.begin(false)
	defer done()
	for _, r := range t.store.rules {
		if r.Active && r.EntityID == entityID && r.ClassifierID == classifierID && r.Moment == m {
			return r, nil
		}
	}
	return ledger.ConversionRule{}, fmt.Errorf("%w: conversion rule for classifier %d and %s", ledger.ErrNotFound, classifierID, m)
}

func (t *tx) DeactivateRule(ctx context.Context, id int64) error {
	done, err := t.begin(true)
	if err != nil {
		return err
	}
	defer done()
	r, ok := t.store.rules[id]
	if !ok {
		return fmt.Errorf("%w: conversion rule %d", ledger.ErrNotFound, id)
	}
	r.Active = false
	put(t, t.store.rules, id, r)
	return nil
}

func (t *tx) ListRules(ctx context.Context, entityID int64) ([]ledger.ConversionRule, error) {
	done, _ := t.begin(false)
	defer done()
	return sortedByID(t.store.rules, func(r ledger.ConversionRule) bool { return r.EntityID == entityID }), nil
}
