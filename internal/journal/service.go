package journal

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/armonia-contable/armonia/internal/balance"
	"github.com/armonia-contable/armonia/internal/ledger"
	"github.com/armonia-contable/armonia/internal/notify"
	"github.com/armonia-contable/armonia/internal/reconcile"
	"github.com/armonia-contable/armonia/internal/shared"
)

// ApprovalModule tags voucher entries in the approval history.
const ApprovalModule = "voucher"

// AuditPort records voucher events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalPort keeps the submit/approve/reject history of a voucher.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
}

// Metrics observes voucher transitions.
type Metrics interface {
	ObserveVoucher(transition string)
}

// Service drives vouchers through borrador → pendiente → aprobada | rechazada.
type Service struct {
	repo      ledger.RepositoryPort
	audit     AuditPort
	approvals ApprovalPort
	notifier  notify.Notifier
	metrics   Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the journal service.
func NewService(repo ledger.RepositoryPort, audit AuditPort, notifier notify.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, notifier: notifier, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithApprovals attaches the approval history store.
func (s *Service) WithApprovals(approvals ApprovalPort) {
	s.approvals = approvals
}

// WithMetrics attaches transition metrics.
func (s *Service) WithMetrics(m Metrics) {
	s.metrics = m
}

// CreateDraft opens a manual voucher in borrador.
func (s *Service) CreateDraft(ctx context.Context, input DraftInput) (ledger.Voucher, error) {
	if input.Type == "" {
		input.Type = ledger.VoucherJournal
	}
	if err := input.Validate(); err != nil {
		return ledger.Voucher{}, err
	}
	scope := ledger.Scope{EntityID: input.EntityID, Year: input.Year}
	now := s.now()
	var voucher ledger.Voucher
	err := s.repo.WithTx(ctx, []ledger.Scope{scope}, func(ctx context.Context, tx ledger.TxRepository) error {
		fy, err := tx.GetFiscalYear(ctx, scope)
		if err != nil {
			return err
		}
		period, err := fy.EnsurePostable(input.Period)
		if err != nil {
			return err
		}
		date, err := period.ResolveDate(input.Date, now)
		if err != nil {
			return err
		}
		inserted, err := tx.InsertVoucher(ctx, ledger.Voucher{
			UID:         uuid.New(),
			EntityID:    input.EntityID,
			Year:        input.Year,
			Period:      input.Period,
			Type:        input.Type,
			Date:        date,
			Description: input.Description,
			State:       ledger.VoucherDraft,
			CreatedBy:   input.ActorID,
			Lines:       toJournalLines(input.Lines),
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return err
		}
		voucher = inserted
		return nil
	})
	if err != nil {
		return ledger.Voucher{}, err
	}
	s.observe(ctx, TransitionCreate, input.ActorID, voucher, nil)
	return voucher, nil
}

// ReplaceLines overwrites every line of a borrador voucher. Lines of
// reconciliation batches are owned by the engine and never editable.
func (s *Service) ReplaceLines(ctx context.Context, actorID, voucherID int64, lines []LineInput) (ledger.Voucher, error) {
	if err := validateLineShapes(lines); err != nil {
		return ledger.Voucher{}, err
	}
	return s.editDraft(ctx, actorID, voucherID, func([]LineInput) []LineInput { return lines })
}

// AddLines appends lines to a borrador voucher.
func (s *Service) AddLines(ctx context.Context, actorID, voucherID int64, lines ...LineInput) (ledger.Voucher, error) {
	if err := validateLineShapes(lines); err != nil {
		return ledger.Voucher{}, err
	}
	return s.editDraft(ctx, actorID, voucherID, func(current []LineInput) []LineInput {
		return append(current, lines...)
	})
}

// RemoveLine drops one line of a borrador voucher and renumbers the rest.
func (s *Service) RemoveLine(ctx context.Context, actorID, voucherID int64, lineNo int) (ledger.Voucher, error) {
	return s.editDraft(ctx, actorID, voucherID, func(current []LineInput) []LineInput {
		if lineNo < 1 || lineNo > len(current) {
			return current
		}
		return append(current[:lineNo-1:lineNo-1], current[lineNo:]...)
	})
}

func (s *Service) editDraft(ctx context.Context, actorID, voucherID int64, edit func([]LineInput) []LineInput) (ledger.Voucher, error) {
	var voucher ledger.Voucher
	err := s.withVoucher(ctx, voucherID, func(ctx context.Context, tx ledger.TxRepository, v ledger.Voucher) error {
		if v.State != ledger.VoucherDraft {
			return fmt.Errorf("%w: voucher %d is %s, lines are editable only in %s", ledger.ErrInvalidStatus, v.ID, v.State, ledger.VoucherDraft)
		}
		if reconcile.IsBatchSource(v.Source) {
			return fmt.Errorf("%w: voucher %d mirrors budget movements, correct it with a budget reduction", ledger.ErrInvalidStatus, v.ID)
		}
		lines := toJournalLines(edit(toLineInputs(v.Lines)))
		if err := tx.ReplaceVoucherLines(ctx, v.ID, lines); err != nil {
			return err
		}
		v.Lines = lines
		v.UpdatedAt = s.now()
		if err := tx.UpdateVoucher(ctx, v); err != nil {
			return err
		}
		voucher = v
		return nil
	})
	if err != nil {
		return ledger.Voucher{}, err
	}
	s.record(ctx, actorID, "voucher.edit", voucher, map[string]any{"lines": len(voucher.Lines)})
	return voucher, nil
}

// Submit moves a balanced borrador voucher to pendiente.
func (s *Service) Submit(ctx context.Context, actorID, voucherID int64) (ledger.Voucher, error) {
	var voucher ledger.Voucher
	err := s.withVoucher(ctx, voucherID, func(ctx context.Context, tx ledger.TxRepository, v ledger.Voucher) error {
		if v.State != ledger.VoucherDraft {
			return fmt.Errorf("%w: voucher %d is %s, only %s vouchers can be submitted", ledger.ErrInvalidStatus, v.ID, v.State, ledger.VoucherDraft)
		}
		if err := s.ensurePostable(ctx, tx, v); err != nil {
			return err
		}
		if err := ValidateLines(ctx, tx, v.EntityID, v.Lines); err != nil {
			return err
		}
		now := s.now()
		v.State = ledger.VoucherPending
		v.SubmittedAt = &now
		v.UpdatedAt = now
		if err := tx.UpdateVoucher(ctx, v); err != nil {
			return err
		}
		voucher = v
		return nil
	})
	if err != nil {
		return ledger.Voucher{}, err
	}
	s.observe(ctx, TransitionSubmit, actorID, voucher, nil)
	return voucher, nil
}

// Approve moves a pendiente voucher to aprobada and folds it into the
// running balances in the same transaction.
func (s *Service) Approve(ctx context.Context, actor ledger.Actor, voucherID int64) (ledger.Voucher, error) {
	if !actor.CanApprove {
		return ledger.Voucher{}, fmt.Errorf("%w: actor %d cannot approve vouchers", ledger.ErrForbidden, actor.ID)
	}
	var voucher ledger.Voucher
	err := s.withVoucher(ctx, voucherID, func(ctx context.Context, tx ledger.TxRepository, v ledger.Voucher) error {
		if v.State != ledger.VoucherPending {
			return fmt.Errorf("%w: voucher %d is %s, only %s vouchers can be approved", ledger.ErrInvalidStatus, v.ID, v.State, ledger.VoucherPending)
		}
		if v.CreatedBy == actor.ID {
			return fmt.Errorf("%w: actor %d created voucher %d", ledger.ErrSelfApprovalForbidden, actor.ID, v.ID)
		}
		if err := s.ensurePostable(ctx, tx, v); err != nil {
			return err
		}
		if err := ValidateLines(ctx, tx, v.EntityID, v.Lines); err != nil {
			return err
		}
		now := s.now()
		approver := actor.ID
		v.State = ledger.VoucherApproved
		v.ApprovedBy = &approver
		v.ApprovedAt = &now
		v.UpdatedAt = now
		if err := tx.UpdateVoucher(ctx, v); err != nil {
			return err
		}
		if _, err := balance.ApplyVoucherTx(ctx, tx, v); err != nil {
			return err
		}
		voucher = v
		return nil
	})
	if err != nil {
		return ledger.Voucher{}, err
	}
	s.observe(ctx, TransitionApprove, actor.ID, voucher, nil)
	return voucher, nil
}

// Reject moves a pendiente voucher to rechazada without touching balances.
// Vouchers opened by the reconciliation engine cannot be rejected.
func (s *Service) Reject(ctx context.Context, actor ledger.Actor, voucherID int64, reason string) (ledger.Voucher, error) {
	if !actor.CanApprove {
		return ledger.Voucher{}, fmt.Errorf("%w: actor %d cannot reject vouchers", ledger.ErrForbidden, actor.ID)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ledger.Voucher{}, fmt.Errorf("%w: rejection reason required", ledger.ErrInvalidInput)
	}
	var voucher ledger.Voucher
	err := s.withVoucher(ctx, voucherID, func(ctx context.Context, tx ledger.TxRepository, v ledger.Voucher) error {
		if v.State != ledger.VoucherPending {
			return fmt.Errorf("%w: voucher %d is %s, only %s vouchers can be rejected", ledger.ErrInvalidStatus, v.ID, v.State, ledger.VoucherPending)
		}
		// rejecting would leave the mirrored budget movements without a counterpart
		if reconcile.IsBatchSource(v.Source) {
			return fmt.Errorf("%w: voucher %d mirrors budget movements and cannot be rejected", ledger.ErrInvalidStatus, v.ID)
		}
		now := s.now()
		rejecter := actor.ID
		v.State = ledger.VoucherRejected
		v.RejectedBy = &rejecter
		v.RejectedAt = &now
		v.RejectReason = reason
		v.UpdatedAt = now
		if err := tx.UpdateVoucher(ctx, v); err != nil {
			return err
		}
		voucher = v
		return nil
	})
	if err != nil {
		return ledger.Voucher{}, err
	}
	s.observe(ctx, TransitionReject, actor.ID, voucher, map[string]any{"reason": reason})
	notify.Send(ctx, s.notifier, s.logger, notify.Event{
		Kind:      notify.KindVoucherRejected,
		EntityID:  voucher.EntityID,
		Year:      voucher.Year,
		Period:    voucher.Period,
		VoucherID: voucher.ID,
		ActorID:   actor.ID,
		Reason:    reason,
		At:        *voucher.RejectedAt,
	})
	return voucher, nil
}

// Clone copies a rechazada voucher into a new borrador.
func (s *Service) Clone(ctx context.Context, actorID, voucherID int64) (ledger.Voucher, error) {
	var clone ledger.Voucher
	err := s.withVoucher(ctx, voucherID, func(ctx context.Context, tx ledger.TxRepository, v ledger.Voucher) error {
		if v.State != ledger.VoucherRejected {
			return fmt.Errorf("%w: voucher %d is %s, only %s vouchers can be cloned", ledger.ErrInvalidStatus, v.ID, v.State, ledger.VoucherRejected)
		}
		if err := s.ensurePostable(ctx, tx, v); err != nil {
			return err
		}
		now := s.now()
		source := v.ID
		inserted, err := tx.InsertVoucher(ctx, ledger.Voucher{
			UID:         uuid.New(),
			EntityID:    v.EntityID,
			Year:        v.Year,
			Period:      v.Period,
			Type:        v.Type,
			Date:        v.Date,
			Description: v.Description,
			State:       ledger.VoucherDraft,
			CreatedBy:   actorID,
			ClonedFrom:  &source,
			Lines:       toJournalLines(toLineInputs(v.Lines)),
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return err
		}
		clone = inserted
		return nil
	})
	if err != nil {
		return ledger.Voucher{}, err
	}
	s.observe(ctx, TransitionClone, actorID, clone, map[string]any{"cloned_from": voucherID})
	return clone, nil
}

// Get fetches a voucher with its lines.
func (s *Service) Get(ctx context.Context, voucherID int64) (ledger.Voucher, error) {
	var voucher ledger.Voucher
	err := s.repo.WithReadTx(ctx, nil, func(ctx context.Context, tx ledger.TxRepository) error {
		var err error
		voucher, err = tx.GetVoucher(ctx, voucherID)
		return err
	})
	return voucher, err
}

// List returns the vouchers of a scope; period 0 lists every period.
func (s *Service) List(ctx context.Context, scope ledger.Scope, period int) ([]ledger.Voucher, error) {
	var out []ledger.Voucher
	err := s.repo.WithReadTx(ctx, []ledger.Scope{scope}, func(ctx context.Context, tx ledger.TxRepository) error {
		var err error
		out, err = tx.ListVouchers(ctx, scope, period)
		return err
	})
	return out, err
}

// History returns the approval trail of a voucher.
func (s *Service) History(ctx context.Context, voucherID int64) ([]shared.ApprovalLog, error) {
	if s.approvals == nil {
		return nil, nil
	}
	v, err := s.Get(ctx, voucherID)
	if err != nil {
		return nil, err
	}
	return s.approvals.List(ctx, ApprovalModule, v.UID)
}

// PostSystemVoucherTx inserts an engine-generated voucher directly as
// aprobada and applies it. The period state is not checked so year-end
// entries can land in closed periods.
func PostSystemVoucherTx(ctx context.Context, tx ledger.TxRepository, v ledger.Voucher, at time.Time) (ledger.Voucher, error) {
	for i := range v.Lines {
		v.Lines[i].LineNo = i + 1
	}
	if err := ValidateLines(ctx, tx, v.EntityID, v.Lines); err != nil {
		return ledger.Voucher{}, err
	}
	if v.UID == uuid.Nil {
		v.UID = uuid.New()
	}
	system := ledger.SystemActorID
	v.State = ledger.VoucherApproved
	v.CreatedBy = system
	v.ApprovedBy = &system
	v.SubmittedAt = &at
	v.ApprovedAt = &at
	v.CreatedAt = at
	v.UpdatedAt = at
	inserted, err := tx.InsertVoucher(ctx, v)
	if err != nil {
		return ledger.Voucher{}, err
	}
	if _, err := balance.ApplyVoucherTx(ctx, tx, inserted); err != nil {
		return ledger.Voucher{}, err
	}
	return inserted, nil
}

// withVoucher resolves the voucher scope before locking it, then reloads
// the voucher inside the locked transaction.
func (s *Service) withVoucher(ctx context.Context, voucherID int64, fn func(context.Context, ledger.TxRepository, ledger.Voucher) error) error {
	var scope ledger.Scope
	err := s.repo.WithReadTx(ctx, nil, func(ctx context.Context, tx ledger.TxRepository) error {
		v, err := tx.GetVoucher(ctx, voucherID)
		scope = v.Scope()
		return err
	})
	if err != nil {
		return err
	}
	return s.repo.WithTx(ctx, []ledger.Scope{ledger.CatalogScope(scope.EntityID), scope}, func(ctx context.Context, tx ledger.TxRepository) error {
		v, err := tx.GetVoucher(ctx, voucherID)
		if err != nil {
			return err
		}
		return fn(ctx, tx, v)
	})
}

func (s *Service) ensurePostable(ctx context.Context, tx ledger.CalendarRepository, v ledger.Voucher) error {
	fy, err := tx.GetFiscalYear(ctx, v.Scope())
	if err != nil {
		return err
	}
	_, err = fy.EnsurePostable(v.Period)
	return err
}

var approvalActions = map[string]shared.ApprovalAction{
	TransitionSubmit:  shared.ApprovalSubmit,
	TransitionApprove: shared.ApprovalApprove,
	TransitionReject:  shared.ApprovalReject,
}

func (s *Service) observe(ctx context.Context, transition string, actorID int64, v ledger.Voucher, meta map[string]any) {
	if s.metrics != nil {
		s.metrics.ObserveVoucher(transition)
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["number"] = v.Number
	meta["type"] = string(v.Type)
	meta["state"] = string(v.State)
	s.record(ctx, actorID, "voucher."+transition, v, meta)
	action, ok := approvalActions[transition]
	if !ok || s.approvals == nil {
		return
	}
	note, _ := meta["reason"].(string)
	if err := s.approvals.Record(ctx, shared.ApprovalLog{
		Module:  ApprovalModule,
		RefID:   v.UID,
		ActorID: actorID,
		Action:  action,
		Note:    note,
		At:      s.now(),
	}); err != nil {
		s.logger.Warn("record voucher approval", slog.Int64("voucher_id", v.ID), slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, actorID int64, action string, v ledger.Voucher, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "voucher",
		EntityID: strconv.FormatInt(v.ID, 10),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit voucher", slog.Int64("voucher_id", v.ID), slog.Any("error", err))
	}
}
