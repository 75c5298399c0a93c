package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/armonia-contable/armonia/internal/ledger"
	"github.com/armonia-contable/armonia/internal/money"
)

func (r *txRepository) InsertFiscalYear(ctx context.Context, fy ledger.FiscalYear) (ledger.FiscalYear, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO fiscal_years (entity_id, year, start_date, end_date, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		fy.EntityID, fy.Year, fy.StartDate, fy.EndDate, string(fy.State), fy.CreatedAt).Scan(&fy.ID)
	if err != nil {
		return ledger.FiscalYear{}, mapError(err, fmt.Sprintf("fiscal year %d", fy.Year))
	}
	for _, p := range fy.Periods {
		_, err := r.tx.Exec(ctx, `INSERT INTO periods (entity_id, year, number, start_date, end_date, state)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			fy.EntityID, fy.Year, p.Number, p.StartDate, p.EndDate, string(p.State))
		if err != nil {
			return ledger.FiscalYear{}, mapError(err, fmt.Sprintf("period %d", p.Number))
		}
	}
	return fy, nil
}

func (r *txRepository) GetFiscalYear(ctx context.Context, scope ledger.Scope) (ledger.FiscalYear, error) {
	var fy ledger.FiscalYear
	err := r.tx.QueryRow(ctx, `SELECT id, entity_id, year, start_date, end_date, state, closing_voucher_id,
		opening_voucher_id, closed_by, closed_at, created_at FROM fiscal_years WHERE entity_id=$1 AND year=$2`,
		scope.EntityID, scope.Year).
		Scan(&fy.ID, &fy.EntityID, &fy.Year, &fy.StartDate, &fy.EndDate, &fy.State, &fy.ClosingVoucherID,
			&fy.OpeningVoucherID, &fy.ClosedBy, &fy.ClosedAt, &fy.CreatedAt)
	if err != nil {
		return ledger.FiscalYear{}, mapError(err, fmt.Sprintf("fiscal year %d", scope.Year))
	}
	rows, err := r.tx.Query(ctx, `SELECT entity_id, year, number, start_date, end_date, state, closed_by, closed_at
		FROM periods WHERE entity_id=$1 AND year=$2 ORDER BY number`, scope.EntityID, scope.Year)
	if err != nil {
		return ledger.FiscalYear{}, err
	}
	fy.Periods, err = collect(rows, func(rows pgx.Rows) (ledger.Period, error) {
		var p ledger.Period
		err := rows.Scan(&p.EntityID, &p.Year, &p.Number, &p.StartDate, &p.EndDate, &p.State, &p.ClosedBy, &p.ClosedAt)
		return p, err
	})
	if err != nil {
		return ledger.FiscalYear{}, err
	}
	return fy, nil
}

func (r *txRepository) UpdateFiscalYear(ctx context.Context, fy ledger.FiscalYear) error {
	tag, err := r.tx.Exec(ctx, `UPDATE fiscal_years SET state=$3, closing_voucher_id=$4, opening_voucher_id=$5,
		closed_by=$6, closed_at=$7 WHERE entity_id=$1 AND year=$2`,
		fy.EntityID, fy.Year, string(fy.State), fy.ClosingVoucherID, fy.OpeningVoucherID, fy.ClosedBy, fy.ClosedAt)
	return mustAffect(tag, err, fmt.Sprintf("fiscal year %d", fy.Year))
}

func (r *txRepository) UpdatePeriod(ctx context.Context, p ledger.Period) error {
	tag, err := r.tx.Exec(ctx, `UPDATE periods SET start_date=$4, end_date=$5, state=$6, closed_by=$7, closed_at=$8
		WHERE entity_id=$1 AND year=$2 AND number=$3`,
		p.EntityID, p.Year, p.Number, p.StartDate, p.EndDate, string(p.State), p.ClosedBy, p.ClosedAt)
	return mustAffect(tag, err, fmt.Sprintf("period %d", p.Number))
}

func (r *txRepository) GetBudgetTotals(ctx context.Context, lineItemID int64) (ledger.BudgetTotals, error) {
	rows, err := r.tx.Query(ctx, `SELECT moment, amount FROM budget_totals WHERE line_item_id=$1`, lineItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	totals := make(ledger.BudgetTotals)
	for rows.Next() {
		var (
			moment ledger.Moment
			amount int64
		)
		if err := rows.Scan(&moment, &amount); err != nil {
			return nil, err
		}
		totals[moment] = money.Cents(amount)
	}
	return totals, rows.Err()
}

func (r *txRepository) AddBudgetTotal(ctx context.Context, lineItemID int64, m ledger.Moment, delta money.Cents) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO budget_totals (line_item_id, moment, amount) VALUES ($1, $2, $3)
		ON CONFLICT (line_item_id, moment) DO UPDATE SET amount = budget_totals.amount + EXCLUDED.amount`,
		lineItemID, string(m), int64(delta))
	return mapError(err, fmt.Sprintf("budget total %d/%s", lineItemID, m))
}

func (r *txRepository) InsertMovement(ctx context.Context, mv ledger.BudgetMovement) (ledger.BudgetMovement, error) {
	var voucherID *int64
	var debitLine, creditLine *int
	if ref := mv.VoucherRef; ref != nil {
		voucherID, debitLine, creditLine = &ref.VoucherID, &ref.DebitLine, &ref.CreditLine
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO budget_movements (entity_id, year, line_item_id, period, moment, movement_type,
		amount, date, description, posted_by, advisory, voucher_id, debit_line, credit_line, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15) RETURNING id`,
		mv.EntityID, mv.Year, mv.LineItemID, mv.Period, string(mv.Moment), string(mv.Type), int64(mv.Amount),
		mv.Date, mv.Description, mv.PostedBy, mv.Advisory, voucherID, debitLine, creditLine, mv.CreatedAt).Scan(&mv.ID)
	if err != nil {
		return ledger.BudgetMovement{}, mapError(err, fmt.Sprintf("movement on line item %d", mv.LineItemID))
	}
	return mv, nil
}

func (r *txRepository) ListMovements(ctx context.Context, lineItemID int64) ([]ledger.BudgetMovement, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, entity_id, year, line_item_id, period, moment, movement_type, amount, date,
		description, posted_by, advisory, voucher_id, debit_line, credit_line, created_at
		FROM budget_movements WHERE line_item_id=$1 ORDER BY id`, lineItemID)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(rows pgx.Rows) (ledger.BudgetMovement, error) {
		var (
			mv                    ledger.BudgetMovement
			amount                int64
			voucherID             *int64
			debitLine, creditLine *int
		)
		err := rows.Scan(&mv.ID, &mv.EntityID, &mv.Year, &mv.LineItemID, &mv.Period, &mv.Moment, &mv.Type, &amount,
			&mv.Date, &mv.Description, &mv.PostedBy, &mv.Advisory, &voucherID, &debitLine, &creditLine, &mv.CreatedAt)
		if err != nil {
			return mv, err
		}
		mv.Amount = money.Cents(amount)
		if voucherID != nil && debitLine != nil && creditLine != nil {
			mv.VoucherRef = &ledger.VoucherLineRef{VoucherID: *voucherID, DebitLine: *debitLine, CreditLine: *creditLine}
		}
		return mv, nil
	})
}

const voucherColumns = `id, uid, entity_id, year, period, type, number, date, description, state, source, created_by,
	submitted_at, approved_by, approved_at, rejected_by, rejected_at, reject_reason, cloned_from, created_at, updated_at`

func scanVoucher(row pgx.Row) (ledger.Voucher, error) {
	var v ledger.Voucher
	err := row.Scan(&v.ID, &v.UID, &v.EntityID, &v.Year, &v.Period, &v.Type, &v.Number, &v.Date, &v.Description,
		&v.State, &v.Source, &v.CreatedBy, &v.SubmittedAt, &v.ApprovedBy, &v.ApprovedAt, &v.RejectedBy,
		&v.RejectedAt, &v.RejectReason, &v.ClonedFrom, &v.CreatedAt, &v.UpdatedAt)
	return v, err
}

func (r *txRepository) InsertVoucher(ctx context.Context, v ledger.Voucher) (ledger.Voucher, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO voucher_sequences (entity_id, year, type, last_number) VALUES ($1, $2, $3, 1)
		ON CONFLICT (entity_id, year, type) DO UPDATE SET last_number = voucher_sequences.last_number + 1
		RETURNING last_number`, v.EntityID, v.Year, string(v.Type)).Scan(&v.Number)
	if err != nil {
		return ledger.Voucher{}, mapError(err, "voucher sequence")
	}
	err = r.tx.QueryRow(ctx, `INSERT INTO vouchers (uid, entity_id, year, period, type, number, date, description, state,
		source, created_by, submitted_at, approved_by, approved_at, rejected_by, rejected_at, reject_reason, cloned_from,
		created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20) RETURNING id`,
		v.UID, v.EntityID, v.Year, v.Period, string(v.Type), v.Number, v.Date, v.Description, string(v.State),
		v.Source, v.CreatedBy, v.SubmittedAt, v.ApprovedBy, v.ApprovedAt, v.RejectedBy, v.RejectedAt,
		v.RejectReason, v.ClonedFrom, v.CreatedAt, v.UpdatedAt).Scan(&v.ID)
	if err != nil {
		return ledger.Voucher{}, mapError(err, fmt.Sprintf("voucher %s", v.UID))
	}
	if err := r.insertLines(ctx, v.ID, v.Lines); err != nil {
		return ledger.Voucher{}, err
	}
	v.Lines = append([]ledger.JournalLine(nil), v.Lines...)
	return v, nil
}

func (r *txRepository) insertLines(ctx context.Context, voucherID int64, lines []ledger.JournalLine) error {
	if len(lines) == 0 {
		return nil
	}
	_, err := r.tx.CopyFrom(ctx, pgx.Identifier{"voucher_lines"},
		[]string{"voucher_id", "line_no", "account_id", "debit", "credit", "memo"},
		pgx.CopyFromSlice(len(lines), func(i int) ([]any, error) {
			l := lines[i]
			return []any{voucherID, l.LineNo, l.AccountID, int64(l.Debit), int64(l.Credit), l.Memo}, nil
		}))
	return mapError(err, fmt.Sprintf("lines of voucher %d", voucherID))
}

func (r *txRepository) GetVoucher(ctx context.Context, id int64) (ledger.Voucher, error) {
	v, err := scanVoucher(r.tx.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE id=$1`, id))
	if err != nil {
		return ledger.Voucher{}, mapError(err, fmt.Sprintf("voucher %d", id))
	}
	found, err := r.withLines(ctx, []ledger.Voucher{v})
	if err != nil {
		return ledger.Voucher{}, err
	}
	return found[0], nil
}

func (r *txRepository) FindVouchersBySource(ctx context.Context, scope ledger.Scope, source string) ([]ledger.Voucher, error) {
	return r.queryVouchers(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE entity_id=$1 AND year=$2 AND source=$3 ORDER BY id`,
		scope.EntityID, scope.Year, source)
}

func (r *txRepository) ListVouchers(ctx context.Context, scope ledger.Scope, period int) ([]ledger.Voucher, error) {
	return r.queryVouchers(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE entity_id=$1 AND year=$2 AND ($3 = 0 OR period=$3) ORDER BY id`,
		scope.EntityID, scope.Year, period)
}

func (r *txRepository) queryVouchers(ctx context.Context, sql string, args ...any) ([]ledger.Voucher, error) {
	rows, err := r.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	vouchers, err := collect(rows, func(rows pgx.Rows) (ledger.Voucher, error) { return scanVoucher(rows) })
	if err != nil {
		return nil, err
	}
	return r.withLines(ctx, vouchers)
}

// withLines loads the lines of every voucher in one query.
func (r *txRepository) withLines(ctx context.Context, vouchers []ledger.Voucher) ([]ledger.Voucher, error) {
	if len(vouchers) == 0 {
		return vouchers, nil
	}
	ids := make([]int64, len(vouchers))
	index := make(map[int64]int, len(vouchers))
	for i, v := range vouchers {
		ids[i] = v.ID
		index[v.ID] = i
	}
	rows, err := r.tx.Query(ctx, `SELECT voucher_id, line_no, account_id, debit, credit, memo
		FROM voucher_lines WHERE voucher_id = ANY($1) ORDER BY voucher_id, line_no`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			voucherID     int64
			debit, credit int64
			line          ledger.JournalLine
		)
		if err := rows.Scan(&voucherID, &line.LineNo, &line.AccountID, &debit, &credit, &line.Memo); err != nil {
			return nil, err
		}
		line.Debit, line.Credit = money.Cents(debit), money.Cents(credit)
		i := index[voucherID]
		vouchers[i].Lines = append(vouchers[i].Lines, line)
	}
	return vouchers, rows.Err()
}

func (r *txRepository) ReplaceVoucherLines(ctx context.Context, voucherID int64, lines []ledger.JournalLine) error {
	var id int64
	if err := r.tx.QueryRow(ctx, `SELECT id FROM vouchers WHERE id=$1 FOR UPDATE`, voucherID).Scan(&id); err != nil {
		return mapError(err, fmt.Sprintf("voucher %d", voucherID))
	}
	if _, err := r.tx.Exec(ctx, `DELETE FROM voucher_lines WHERE voucher_id=$1`, voucherID); err != nil {
		return err
	}
	return r.insertLines(ctx, voucherID, lines)
}

// UpdateVoucher writes the header. Lines and the sequence number are
// owned by ReplaceVoucherLines and InsertVoucher.
func (r *txRepository) UpdateVoucher(ctx context.Context, v ledger.Voucher) error {
	tag, err := r.tx.Exec(ctx, `UPDATE vouchers SET period=$2, date=$3, description=$4, state=$5, source=$6,
		submitted_at=$7, approved_by=$8, approved_at=$9, rejected_by=$10, rejected_at=$11, reject_reason=$12,
		cloned_from=$13, updated_at=$14 WHERE id=$1`,
		v.ID, v.Period, v.Date, v.Description, string(v.State), v.Source, v.SubmittedAt, v.ApprovedBy, v.ApprovedAt,
		v.RejectedBy, v.RejectedAt, v.RejectReason, v.ClonedFrom, v.UpdatedAt)
	return mustAffect(tag, err, fmt.Sprintf("voucher %d", v.ID))
}

func (r *txRepository) MarkVoucherApplied(ctx context.Context, voucherID int64) (bool, error) {
	tag, err := r.tx.Exec(ctx, `INSERT INTO applied_vouchers (voucher_id) VALUES ($1) ON CONFLICT (voucher_id) DO NOTHING`, voucherID)
	if err != nil {
		return false, mapError(err, fmt.Sprintf("voucher %d", voucherID))
	}
	return tag.RowsAffected() == 1, nil
}

func (r *txRepository) IncrementBalance(ctx context.Context, delta ledger.AccountBalance) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO account_balances (entity_id, year, period, account_id, debit, credit)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (entity_id, year, period, account_id)
		DO UPDATE SET debit = account_balances.debit + EXCLUDED.debit, credit = account_balances.credit + EXCLUDED.credit`,
		delta.EntityID, delta.Year, delta.Period, delta.AccountID, int64(delta.Debit), int64(delta.Credit))
	return mapError(err, fmt.Sprintf("balance of account %d", delta.AccountID))
}

func (r *txRepository) ListBalances(ctx context.Context, scope ledger.Scope) ([]ledger.AccountBalance, error) {
	return r.queryBalances(ctx, `SELECT entity_id, year, period, account_id, debit, credit FROM account_balances
		WHERE entity_id=$1 AND year=$2 ORDER BY account_id, period`, scope.EntityID, scope.Year)
}

func (r *txRepository) ListAccountBalances(ctx context.Context, scope ledger.Scope, accountID int64) ([]ledger.AccountBalance, error) {
	return r.queryBalances(ctx, `SELECT entity_id, year, period, account_id, debit, credit FROM account_balances
		WHERE entity_id=$1 AND year=$2 AND account_id=$3 ORDER BY period`, scope.EntityID, scope.Year, accountID)
}

func (r *txRepository) queryBalances(ctx context.Context, sql string, args ...any) ([]ledger.AccountBalance, error) {
	rows, err := r.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(rows pgx.Rows) (ledger.AccountBalance, error) {
		var (
			b             ledger.AccountBalance
			debit, credit int64
		)
		err := rows.Scan(&b.EntityID, &b.Year, &b.Period, &b.AccountID, &debit, &credit)
		b.Debit, b.Credit = money.Cents(debit), money.Cents(credit)
		return b, err
	})
}
