package closing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/armonia-contable/armonia/internal/balance"
	"github.com/armonia-contable/armonia/internal/journal"
	"github.com/armonia-contable/armonia/internal/ledger"
	"github.com/armonia-contable/armonia/internal/money"
	"github.com/armonia-contable/armonia/internal/notify"
	"github.com/armonia-contable/armonia/internal/shared"
)

// CloseFiscalYear runs the year-end close in two steps. The first moves
// the year to en_cierre once all thirteen periods are closed; the second
// posts the closing and opening vouchers and marks the year cerrado in a
// single transaction. A failure in the second step leaves the year in
// en_cierre with nothing posted, and calling CloseFiscalYear again resumes
// from there.
func (s *Service) CloseFiscalYear(ctx context.Context, actor ledger.Actor, scope ledger.Scope) (YearResult, error) {
	result, err := s.closeYear(ctx, actor, scope)
	s.observe(KindFiscalYear, err)
	if err != nil {
		s.logger.Error("close fiscal year",
			slog.Int64("entity_id", scope.EntityID),
			slog.Int("year", scope.Year),
			slog.Any("error", err))
		return YearResult{}, err
	}
	meta := map[string]any{"resumed": result.Resumed}
	if result.Closing != nil {
		meta["closing_voucher_id"] = result.Closing.ID
	}
	if result.Opening != nil {
		meta["opening_voucher_id"] = result.Opening.ID
	}
	s.record(ctx, actor.ID, "fiscal_year.close", scope, meta)
	notify.Send(ctx, s.notifier, s.logger, notify.Event{
		Kind:     notify.KindFiscalYearClosed,
		EntityID: scope.EntityID,
		Year:     scope.Year,
		ActorID:  actor.ID,
		At:       result.At,
	})
	return result, nil
}

func (s *Service) closeYear(ctx context.Context, actor ledger.Actor, scope ledger.Scope) (YearResult, error) {
	if !actor.CanClose {
		return YearResult{}, fmt.Errorf("%w: actor %d may not close fiscal years", ledger.ErrForbidden, actor.ID)
	}
	// an in-flight close is not cancellable
	ctx = context.WithoutCancel(ctx)
	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, shared.CloseLockKey(scope.EntityID, scope.Year))
		if err != nil {
			return YearResult{}, fmt.Errorf("%w: %w", ledger.ErrCloseAborted, err)
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				s.logger.Warn("release close lock", slog.Int("year", scope.Year), slog.Any("error", err))
			}
		}()
	}

	resumed, err := s.beginClose(ctx, scope)
	if err != nil {
		return YearResult{}, err
	}
	result, err := s.finishClose(ctx, actor, scope)
	if err != nil {
		return YearResult{}, fmt.Errorf("%w: %w", ledger.ErrCloseAborted, err)
	}
	result.Resumed = resumed
	return result, nil
}

// beginClose checks the preconditions and persists the en_cierre
// checkpoint. It reports true when the year was already en_cierre.
func (s *Service) beginClose(ctx context.Context, scope ledger.Scope) (bool, error) {
	var resumed bool
	err := s.repo.WithTx(ctx, []ledger.Scope{scope}, func(ctx context.Context, tx ledger.TxRepository) error {
		fy, err := tx.GetFiscalYear(ctx, scope)
		if err != nil {
			return err
		}
		switch fy.State {
		case ledger.YearClosed:
			return fmt.Errorf("%w: fiscal year %d is already closed", ledger.ErrInvalidStatus, fy.Year)
		case ledger.YearClosing:
			resumed = true
			return nil
		}
		for _, p := range fy.Periods {
			if p.State != ledger.PeriodClosed {
				return fmt.Errorf("%w: period %d of fiscal year %d is still open", ledger.ErrInvalidStatus, p.Number, fy.Year)
			}
		}
		if len(fy.Periods) != ledger.PeriodsPerYear {
			return fmt.Errorf("%w: fiscal year %d has %d periods", ledger.ErrInvalidStatus, fy.Year, len(fy.Periods))
		}
		fy.State = ledger.YearClosing
		return tx.UpdateFiscalYear(ctx, fy)
	})
	return resumed, err
}

func (s *Service) finishClose(ctx context.Context, actor ledger.Actor, scope ledger.Scope) (YearResult, error) {
	var result YearResult
	scopes := []ledger.Scope{ledger.CatalogScope(scope.EntityID), scope, scope.Next()}
	err := s.repo.WithTx(ctx, scopes, func(ctx context.Context, tx ledger.TxRepository) error {
		fy, err := tx.GetFiscalYear(ctx, scope)
		if err != nil {
			return err
		}
		if fy.State != ledger.YearClosing {
			return fmt.Errorf("%w: fiscal year %d is %s", ledger.ErrInvalidStatus, fy.Year, fy.State)
		}
		accounts, err := tx.ListAccounts(ctx, scope.EntityID)
		if err != nil {
			return err
		}
		byID := make(map[int64]ledger.Account, len(accounts))
		for _, a := range accounts {
			byID[a.ID] = a
		}
		at := s.now()

		totals, err := balance.LeafTotals(ctx, tx, scope, ledger.AdjustmentPeriod)
		if err != nil {
			return err
		}
		lines, err := s.closingLines(ctx, tx, scope.EntityID, byID, totals)
		if err != nil {
			return err
		}
		if len(lines) > 0 {
			closing, err := journal.PostSystemVoucherTx(ctx, tx, ledger.Voucher{
				UID:         voucherUID(scope, SourceClosing),
				EntityID:    scope.EntityID,
				Year:        scope.Year,
				Period:      ledger.AdjustmentPeriod,
				Type:        ledger.VoucherJournal,
				Date:        fy.EndDate,
				Description: fmt.Sprintf("Cierre del ejercicio %d", scope.Year),
				Source:      SourceClosing,
				Lines:       lines,
			}, at)
			if err != nil {
				return fmt.Errorf("post closing voucher: %w", err)
			}
			fy.ClosingVoucherID = &closing.ID
			result.Closing = &closing
		}

		// balances again, now including the closing voucher
		totals, err = balance.LeafTotals(ctx, tx, scope, ledger.AdjustmentPeriod)
		if err != nil {
			return err
		}
		lines = openingLines(byID, totals)
		if len(lines) > 0 {
			next, err := tx.GetFiscalYear(ctx, scope.Next())
			if err != nil {
				if errors.Is(err, ledger.ErrNotFound) {
					return fmt.Errorf("fiscal year %d must exist to receive opening balances: %w", scope.Year+1, err)
				}
				return err
			}
			opening, err := journal.PostSystemVoucherTx(ctx, tx, ledger.Voucher{
				UID:         voucherUID(next.Scope(), SourceOpening),
				EntityID:    next.EntityID,
				Year:        next.Year,
				Period:      1,
				Type:        ledger.VoucherJournal,
				Date:        next.StartDate,
				Description: fmt.Sprintf("Apertura del ejercicio %d", next.Year),
				Source:      SourceOpening,
				Lines:       lines,
			}, at)
			if err != nil {
				return fmt.Errorf("post opening voucher: %w", err)
			}
			fy.OpeningVoucherID = &opening.ID
			result.Opening = &opening
		}

		fy.State = ledger.YearClosed
		fy.ClosedBy = &actor.ID
		fy.ClosedAt = &at
		if err := tx.UpdateFiscalYear(ctx, fy); err != nil {
			return err
		}
		fy, err = tx.GetFiscalYear(ctx, scope)
		if err != nil {
			return err
		}
		result.FiscalYear = fy
		result.At = at
		return nil
	})
	return result, err
}

// closingLines zeroes every revenue and expense leaf against the result
// account. The result line carries revenue minus expense; it is omitted
// when both sides are equal.
func (s *Service) closingLines(ctx context.Context, tx ledger.CatalogRepository, entityID int64, accounts map[int64]ledger.Account, totals map[int64]ledger.AccountBalance) ([]ledger.JournalLine, error) {
	var lines []ledger.JournalLine
	var debit, credit money.Cents
	for _, row := range byCode(accounts, totals) {
		if !accounts[row.AccountID].Kind.Temporary() {
			continue
		}
		net := row.Debit - row.Credit
		switch {
		case net > 0:
			lines = append(lines, ledger.JournalLine{AccountID: row.AccountID, Credit: net, Memo: "cierre"})
			credit += net
		case net < 0:
			lines = append(lines, ledger.JournalLine{AccountID: row.AccountID, Debit: -net, Memo: "cierre"})
			debit += -net
		}
	}
	if len(lines) == 0 {
		return nil, nil
	}
	result, err := tx.GetAccountByCode(ctx, entityID, s.resultAccount)
	if err != nil {
		return nil, fmt.Errorf("result account %s: %w", s.resultAccount, err)
	}
	if !result.IsLeaf || result.Kind != ledger.AccountKindEquity {
		return nil, fmt.Errorf("%w: result account %s must be a hacienda leaf", ledger.ErrInvalidAccountReference, result.Code)
	}
	switch {
	case debit > credit:
		lines = append(lines, ledger.JournalLine{AccountID: result.ID, Credit: debit - credit, Memo: "ahorro del ejercicio"})
	case credit > debit:
		lines = append(lines, ledger.JournalLine{AccountID: result.ID, Debit: credit - debit, Memo: "desahorro del ejercicio"})
	}
	return lines, nil
}

// openingLines carries every non-zero permanent balance on the side of
// its sign.
func openingLines(accounts map[int64]ledger.Account, totals map[int64]ledger.AccountBalance) []ledger.JournalLine {
	var lines []ledger.JournalLine
	for _, row := range byCode(accounts, totals) {
		if !accounts[row.AccountID].Kind.Permanent() {
			continue
		}
		net := row.Debit - row.Credit
		switch {
		case net > 0:
			lines = append(lines, ledger.JournalLine{AccountID: row.AccountID, Debit: net, Memo: "saldo inicial"})
		case net < 0:
			lines = append(lines, ledger.JournalLine{AccountID: row.AccountID, Credit: -net, Memo: "saldo inicial"})
		}
	}
	return lines
}

func byCode(accounts map[int64]ledger.Account, totals map[int64]ledger.AccountBalance) []ledger.AccountBalance {
	rows := make([]ledger.AccountBalance, 0, len(totals))
	for _, row := range totals {
		if _, ok := accounts[row.AccountID]; ok {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		return accounts[rows[i].AccountID].Code < accounts[rows[j].AccountID].Code
	})
	return rows
}
