// Package conversion maintains the matrix that maps a budget classifier and
// moment to the accounts of its automatic accounting counterpart.
package conversion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/armonia-contable/armonia/internal/ledger"
	"github.com/armonia-contable/armonia/internal/shared"
)

// AuditPort records matrix changes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// RuleInput registers a new active rule.
type RuleInput struct {
	EntityID        int64
	ClassifierID    int64
	Moment          ledger.Moment
	DebitAccountID  int64
	CreditAccountID int64
	ActorID         int64
}

// Validate performs cheap checks before touching storage.
func (in RuleInput) Validate() error {
	if in.EntityID <= 0 || in.ClassifierID <= 0 {
		return fmt.Errorf("%w: entity and classifier required", ledger.ErrInvalidInput)
	}
	if !in.Moment.Valid() {
		return fmt.Errorf("%w: unknown moment %q", ledger.ErrInvalidInput, in.Moment)
	}
	if in.DebitAccountID <= 0 || in.CreditAccountID <= 0 {
		return fmt.Errorf("%w: debit and credit accounts required", ledger.ErrInvalidInput)
	}
	if in.DebitAccountID == in.CreditAccountID {
		return fmt.Errorf("%w: debit and credit accounts must differ", ledger.ErrInvalidInput)
	}
	return nil
}

// Matrix is a pure lookup table over the stored rules.
type Matrix struct {
	repo   ledger.RepositoryPort
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewMatrix constructs the conversion matrix.
func NewMatrix(repo ledger.RepositoryPort, audit AuditPort, logger *slog.Logger) *Matrix {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matrix{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (m *Matrix) WithNow(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// Register stores an active rule. Both accounts must be leaves of the
// entity chart.
func (m *Matrix) Register(ctx context.Context, input RuleInput) (ledger.ConversionRule, error) {
	if err := input.Validate(); err != nil {
		return ledger.ConversionRule{}, err
	}
	rule := ledger.ConversionRule{
		EntityID:        input.EntityID,
		ClassifierID:    input.ClassifierID,
		Moment:          input.Moment,
		DebitAccountID:  input.DebitAccountID,
		CreditAccountID: input.CreditAccountID,
		Active:          true,
		CreatedAt:       m.now(),
	}
	err := m.repo.WithTx(ctx, []ledger.Scope{ledger.CatalogScope(input.EntityID)}, func(ctx context.Context, tx ledger.TxRepository) error {
		classifier, err := tx.GetClassifier(ctx, input.ClassifierID)
		if err != nil {
			return err
		}
		if classifier.EntityID != input.EntityID {
			return fmt.Errorf("%w: classifier %s belongs to another entity", ledger.ErrInvalidInput, classifier.Code)
		}
		for _, id := range []int64{input.DebitAccountID, input.CreditAccountID} {
			if err := CheckLeafTx(ctx, tx, input.EntityID, id); err != nil {
				return err
			}
		}
		inserted, err := tx.InsertRule(ctx, rule)
		if err != nil {
			return err
		}
		rule = inserted
		return nil
	})
	if err != nil {
		return ledger.ConversionRule{}, err
	}
	m.record(ctx, input.ActorID, "conversion_rule.register", rule)
	return rule, nil
}

// Resolve returns the active rule for (classifier, moment) or ErrNoRuleFound.
func (m *Matrix) Resolve(ctx context.Context, entityID, classifierID int64, moment ledger.Moment) (ledger.ConversionRule, error) {
	var rule ledger.ConversionRule
	err := m.repo.WithReadTx(ctx, []ledger.Scope{ledger.CatalogScope(entityID)}, func(ctx context.Context, tx ledger.TxRepository) error {
		var err error
		rule, err = ResolveTx(ctx, tx, entityID, classifierID, moment)
		return err
	})
	return rule, err
}

// ResolveTx resolves inside a caller-owned transaction.
func ResolveTx(ctx context.Context, tx ledger.RuleRepository, entityID, classifierID int64, moment ledger.Moment) (ledger.ConversionRule, error) {
	rule, err := tx.FindActiveRule(ctx, entityID, classifierID, moment)
	if errors.Is(err, ledger.ErrNotFound) {
		return ledger.ConversionRule{}, fmt.Errorf("%w: no active rule for classifier %d and moment %s", ledger.ErrNoRuleFound, classifierID, moment)
	}
	return rule, err
}

// Deactivate retires a rule so a replacement can be registered.
func (m *Matrix) Deactivate(ctx context.Context, actorID, ruleID int64) (ledger.ConversionRule, error) {
	var rule ledger.ConversionRule
	err := m.repo.WithReadTx(ctx, nil, func(ctx context.Context, tx ledger.TxRepository) error {
		var err error
		rule, err = tx.GetRule(ctx, ruleID)
		return err
	})
	if err != nil {
		return ledger.ConversionRule{}, err
	}
	err = m.repo.WithTx(ctx, []ledger.Scope{ledger.CatalogScope(rule.EntityID)}, func(ctx context.Context, tx ledger.TxRepository) error {
		current, err := tx.GetRule(ctx, ruleID)
		if err != nil {
			return err
		}
		if !current.Active {
			return fmt.Errorf("%w: conversion rule %d is already inactive", ledger.ErrInvalidStatus, ruleID)
		}
		if err := tx.DeactivateRule(ctx, ruleID); err != nil {
			return err
		}
		current.Active = false
		rule = current
		return nil
	})
	if err != nil {
		return ledger.ConversionRule{}, err
	}
	m.record(ctx, actorID, "conversion_rule.deactivate", rule)
	return rule, nil
}

// List returns every rule of the entity, active or not.
func (m *Matrix) List(ctx context.Context, entityID int64) ([]ledger.ConversionRule, error) {
	var rules []ledger.ConversionRule
	err := m.repo.WithReadTx(ctx, []ledger.Scope{ledger.CatalogScope(entityID)}, func(ctx context.Context, tx ledger.TxRepository) error {
		var err error
		rules, err = tx.ListRules(ctx, entityID)
		return err
	})
	return rules, err
}

// CheckLeafTx fails with ErrInvalidAccountReference unless accountID is a
// leaf of the entity chart.
func CheckLeafTx(ctx context.Context, tx ledger.CatalogRepository, entityID, accountID int64) error {
	account, err := tx.GetAccount(ctx, accountID)
	if errors.Is(err, ledger.ErrNotFound) {
		return fmt.Errorf("%w: account %d does not exist", ledger.ErrInvalidAccountReference, accountID)
	}
	if err != nil {
		return err
	}
	if account.EntityID != entityID {
		return fmt.Errorf("%w: account %s belongs to another entity", ledger.ErrInvalidAccountReference, account.Code)
	}
	if !account.IsLeaf {
		return fmt.Errorf("%w: account %s is not a leaf", ledger.ErrInvalidAccountReference, account.Code)
	}
	return nil
}

func (m *Matrix) record(ctx context.Context, actorID int64, action string, rule ledger.ConversionRule) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "conversion_rule",
		EntityID: strconv.FormatInt(rule.ID, 10),
		Meta: map[string]any{
			"classifier_id": rule.ClassifierID,
			"moment":        string(rule.Moment),
			"debit":         rule.DebitAccountID,
			"credit":        rule.CreditAccountID,
		},
		At: m.now(),
	}); err != nil {
		m.logger.Warn("audit conversion rule", slog.String("action", action), slog.Int64("rule_id", rule.ID), slog.Any("error", err))
	}
}
