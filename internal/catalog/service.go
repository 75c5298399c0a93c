package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/armonia-contable/armonia/internal/coa"
	"github.com/armonia-contable/armonia/internal/ledger"
	"github.com/armonia-contable/armonia/internal/shared"
)

// AuditPort records catalog changes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service is the catalog collaborator consumed by the ledger components.
// Reads go through the store so callers never observe stale nodes.
type Service struct {
	repo   ledger.RepositoryPort
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the catalog service.
func NewService(repo ledger.RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateAccount inserts a leaf account and turns its parent into a
// summary account.
func (s *Service) CreateAccount(ctx context.Context, input AccountInput) (ledger.Account, error) {
	if err := input.Validate(); err != nil {
		return ledger.Account{}, err
	}
	parts, err := coa.Segments(input.Code)
	if err != nil {
		return ledger.Account{}, err
	}
	account := ledger.Account{
		EntityID:  input.EntityID,
		Code:      input.Code,
		Name:      input.Name,
		Level:     len(parts),
		Kind:      input.Kind,
		Nature:    input.Nature,
		IsLeaf:    true,
		CreatedAt: s.now(),
	}
	err = s.repo.WithTx(ctx, []ledger.Scope{ledger.CatalogScope(input.EntityID)}, func(ctx context.Context, tx ledger.TxRepository) error {
		var parent *ledger.Account
		if parentCode := coa.ParentCode(input.Code); parentCode != "" {
			p, err := tx.GetAccountByCode(ctx, input.EntityID, parentCode)
			if err != nil {
				return fmt.Errorf("%w: parent %s of account %s", ledger.ErrInvalidAccountReference, parentCode, input.Code)
			}
			parent = &p
			account.ParentID = &p.ID
		}
		if err := coa.ValidateAccount(account, parent); err != nil {
			return err
		}
		if parent != nil && parent.IsLeaf {
			moved, err := tx.AccountHasMovements(ctx, parent.ID)
			if err != nil {
				return err
			}
			if moved {
				return fmt.Errorf("%w: account %s has movements and cannot become a summary account", ledger.ErrInvalidInput, parent.Code)
			}
			if err := s.ensureUnmapped(ctx, tx, *parent); err != nil {
				return err
			}
			parent.IsLeaf = false
			if err := tx.UpdateAccount(ctx, *parent); err != nil {
				return err
			}
		}
		inserted, err := tx.InsertAccount(ctx, account)
		if err != nil {
			return err
		}
		account = inserted
		return nil
	})
	if err != nil {
		return ledger.Account{}, err
	}
	s.record(ctx, input.ActorID, "account.create", "account", account.ID, map[string]any{"code": account.Code})
	return account, nil
}

// ensureUnmapped refuses to turn a leaf referenced by an active conversion
// rule into a summary account.
func (s *Service) ensureUnmapped(ctx context.Context, tx ledger.RuleRepository, account ledger.Account) error {
	rules, err := tx.ListRules(ctx, account.EntityID)
	if err != nil {
		return err
	}
	for _, rule := range rules {
		if rule.Active && (rule.DebitAccountID == account.ID || rule.CreditAccountID == account.ID) {
			return fmt.Errorf("%w: account %s is used by active conversion rule %d and cannot become a summary account", ledger.ErrInvalidInput, account.Code, rule.ID)
		}
	}
	return nil
}

// DeleteAccount removes an account without children or movements.
func (s *Service) DeleteAccount(ctx context.Context, actorID, id int64) error {
	var account ledger.Account
	err := s.withAccount(ctx, id, true, func(ctx context.Context, tx ledger.TxRepository, a ledger.Account) error {
		account = a
		children, err := tx.ListChildAccounts(ctx, a.ID)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return fmt.Errorf("%w: account %s has children", ledger.ErrInvalidInput, a.Code)
		}
		moved, err := tx.AccountHasMovements(ctx, a.ID)
		if err != nil {
			return err
		}
		if moved {
			return fmt.Errorf("%w: account %s has movements", ledger.ErrInvalidInput, a.Code)
		}
		if err := tx.DeleteAccount(ctx, a.ID); err != nil {
			return err
		}
		if a.ParentID == nil {
			return nil
		}
		siblings, err := tx.ListChildAccounts(ctx, *a.ParentID)
		if err != nil {
			return err
		}
		if len(siblings) > 0 {
			return nil
		}
		parent, err := tx.GetAccount(ctx, *a.ParentID)
		if err != nil {
			return err
		}
		parent.IsLeaf = true
		return tx.UpdateAccount(ctx, parent)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, "account.delete", "account", id, map[string]any{"code": account.Code})
	return nil
}

// GetAccount fetches an account by id.
func (s *Service) GetAccount(ctx context.Context, id int64) (ledger.Account, error) {
	var account ledger.Account
	err := s.withAccount(ctx, id, false, func(_ context.Context, _ ledger.TxRepository, a ledger.Account) error {
		account = a
		return nil
	})
	return account, err
}

// ChildAccounts lists the direct children of an account.
func (s *Service) ChildAccounts(ctx context.Context, id int64) ([]ledger.Account, error) {
	var children []ledger.Account
	err := s.withAccount(ctx, id, false, func(ctx context.Context, tx ledger.TxRepository, a ledger.Account) error {
		var err error
		children, err = tx.ListChildAccounts(ctx, a.ID)
		return err
	})
	return children, err
}

// Tree loads the entity chart of accounts as an arena.
func (s *Service) Tree(ctx context.Context, entityID int64) (*coa.Tree, error) {
	var tree *coa.Tree
	err := s.repo.WithReadTx(ctx, []ledger.Scope{ledger.CatalogScope(entityID)}, func(ctx context.Context, tx ledger.TxRepository) error {
		accounts, err := tx.ListAccounts(ctx, entityID)
		if err != nil {
			return err
		}
		tree, err = coa.Build(accounts)
		return err
	})
	return tree, err
}

// withAccount resolves the account entity before opening a transaction on
// its catalog scope.
func (s *Service) withAccount(ctx context.Context, id int64, write bool, fn func(context.Context, ledger.TxRepository, ledger.Account) error) error {
	var entityID int64
	err := s.repo.WithReadTx(ctx, nil, func(ctx context.Context, tx ledger.TxRepository) error {
		a, err := tx.GetAccount(ctx, id)
		entityID = a.EntityID
		return err
	})
	if err != nil {
		return err
	}
	run := s.repo.WithReadTx
	if write {
		run = s.repo.WithTx
	}
	return run(ctx, []ledger.Scope{ledger.CatalogScope(entityID)}, func(ctx context.Context, tx ledger.TxRepository) error {
		a, err := tx.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		return fn(ctx, tx, a)
	})
}

// CreateClassifier inserts a classifier node; children share the parent type.
func (s *Service) CreateClassifier(ctx context.Context, input ClassifierInput) (ledger.Classifier, error) {
	if err := input.Validate(); err != nil {
		return ledger.Classifier{}, err
	}
	classifier := ledger.Classifier{
		EntityID:  input.EntityID,
		Type:      input.Type,
		Code:      input.Code,
		Name:      input.Name,
		Level:     1,
		ParentID:  input.ParentID,
		CreatedAt: s.now(),
	}
	err := s.repo.WithTx(ctx, []ledger.Scope{ledger.CatalogScope(input.EntityID)}, func(ctx context.Context, tx ledger.TxRepository) error {
		if input.ParentID != nil {
			parent, err := tx.GetClassifier(ctx, *input.ParentID)
			if err != nil {
				return err
			}
			if parent.EntityID != input.EntityID || parent.Type != input.Type {
				return fmt.Errorf("%w: parent classifier %s is not a %s node of this entity", ledger.ErrInvalidInput, parent.Code, input.Type)
			}
			classifier.Level = parent.Level + 1
		}
		inserted, err := tx.InsertClassifier(ctx, classifier)
		if err != nil {
			return err
		}
		classifier = inserted
		return nil
	})
	if err != nil {
		return ledger.Classifier{}, err
	}
	s.record(ctx, input.ActorID, "classifier.create", "classifier", classifier.ID, map[string]any{"type": string(classifier.Type), "code": classifier.Code})
	return classifier, nil
}

// GetClassifier fetches a classifier by id.
func (s *Service) GetClassifier(ctx context.Context, id int64) (ledger.Classifier, error) {
	var c ledger.Classifier
	err := s.repo.WithReadTx(ctx, nil, func(ctx context.Context, tx ledger.TxRepository) error {
		var err error
		c, err = tx.GetClassifier(ctx, id)
		return err
	})
	return c, err
}

// ChildClassifiers lists the direct children of a classifier.
func (s *Service) ChildClassifiers(ctx context.Context, id int64) ([]ledger.Classifier, error) {
	var out []ledger.Classifier
	err := s.repo.WithReadTx(ctx, nil, func(ctx context.Context, tx ledger.TxRepository) error {
		if _, err := tx.GetClassifier(ctx, id); err != nil {
			return err
		}
		var err error
		out, err = tx.ListChildClassifiers(ctx, id)
		return err
	})
	return out, err
}

// CreateLineItem inserts a line item into an existing fiscal year.
func (s *Service) CreateLineItem(ctx context.Context, input LineItemInput) (ledger.LineItem, error) {
	if err := input.Validate(); err != nil {
		return ledger.LineItem{}, err
	}
	item := ledger.LineItem{
		EntityID:     input.EntityID,
		Year:         input.Year,
		Class:        input.Class,
		Code:         input.Code,
		Name:         input.Name,
		ClassifierID: input.ClassifierID,
		CreatedAt:    s.now(),
	}
	scopes := []ledger.Scope{ledger.CatalogScope(input.EntityID), item.Scope()}
	err := s.repo.WithTx(ctx, scopes, func(ctx context.Context, tx ledger.TxRepository) error {
		if _, err := tx.GetFiscalYear(ctx, item.Scope()); err != nil {
			return err
		}
		if err := s.checkClassifier(ctx, tx, input.EntityID, input.ClassifierID); err != nil {
			return err
		}
		inserted, err := tx.InsertLineItem(ctx, item)
		if err != nil {
			return err
		}
		item = inserted
		return nil
	})
	if err != nil {
		return ledger.LineItem{}, err
	}
	s.record(ctx, input.ActorID, "line_item.create", "line_item", item.ID, map[string]any{"code": item.Code, "year": item.Year})
	return item, nil
}

// UpdateLineItem edits a line item that has no movements yet.
func (s *Service) UpdateLineItem(ctx context.Context, input LineItemUpdate) (ledger.LineItem, error) {
	current, err := s.GetLineItem(ctx, input.ID)
	if err != nil {
		return ledger.LineItem{}, err
	}
	scopes := []ledger.Scope{ledger.CatalogScope(current.EntityID), current.Scope()}
	err = s.repo.WithTx(ctx, scopes, func(ctx context.Context, tx ledger.TxRepository) error {
		item, err := tx.GetLineItem(ctx, input.ID)
		if err != nil {
			return err
		}
		moved, err := tx.LineItemHasMovements(ctx, item.ID)
		if err != nil {
			return err
		}
		if moved {
			return fmt.Errorf("%w: line item %s has movements and is immutable", ledger.ErrInvalidStatus, item.Code)
		}
		if input.Name != "" {
			item.Name = input.Name
		}
		if input.ClassifierID != 0 && input.ClassifierID != item.ClassifierID {
			if err := s.checkClassifier(ctx, tx, item.EntityID, input.ClassifierID); err != nil {
				return err
			}
			item.ClassifierID = input.ClassifierID
		}
		current = item
		return tx.UpdateLineItem(ctx, item)
	})
	if err != nil {
		return ledger.LineItem{}, err
	}
	s.record(ctx, input.ActorID, "line_item.update", "line_item", current.ID, map[string]any{"code": current.Code})
	return current, nil
}

// GetLineItem fetches a line item by id.
func (s *Service) GetLineItem(ctx context.Context, id int64) (ledger.LineItem, error) {
	var item ledger.LineItem
	err := s.repo.WithReadTx(ctx, nil, func(ctx context.Context, tx ledger.TxRepository) error {
		var err error
		item, err = tx.GetLineItem(ctx, id)
		return err
	})
	return item, err
}

func (s *Service) checkClassifier(ctx context.Context, tx ledger.TxRepository, entityID, classifierID int64) error {
	c, err := tx.GetClassifier(ctx, classifierID)
	if err != nil {
		return err
	}
	if c.EntityID != entityID {
		return fmt.Errorf("%w: classifier %s belongs to another entity", ledger.ErrInvalidInput, c.Code)
	}
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit catalog", slog.String("action", action), slog.Int64("id", id), slog.Any("error", err))
	}
}
