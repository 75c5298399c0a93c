package ledgerhttp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/armonia-contable/armonia/internal/balance"
	"github.com/armonia-contable/armonia/internal/budget"
	"github.com/armonia-contable/armonia/internal/catalog"
	"github.com/armonia-contable/armonia/internal/closing"
	"github.com/armonia-contable/armonia/internal/conversion"
	"github.com/armonia-contable/armonia/internal/journal"
	"github.com/armonia-contable/armonia/internal/ledger"
	"github.com/armonia-contable/armonia/internal/ledger/ledgertest"
	"github.com/armonia-contable/armonia/internal/money"
	"github.com/armonia-contable/armonia/internal/notify"
	"github.com/armonia-contable/armonia/internal/platform/httpx"
	"github.com/armonia-contable/armonia/internal/shared"
)

type testServer struct {
	f      *ledgertest.Fixture
	router http.Handler
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	f := ledgertest.New(t)
	audit := &shared.AuditBuffer{}

	cat := catalog.NewService(f.Store, audit, nil)
	cat.WithNow(ledgertest.Now)
	matrix := conversion.NewMatrix(f.Store, audit, nil)
	matrix.WithNow(ledgertest.Now)
	ledgerSvc := budget.NewLedger(f.Store, nil, audit, nil)
	ledgerSvc.WithNow(ledgertest.Now)
	vouchers := journal.NewService(f.Store, audit, notify.Nop{}, nil)
	vouchers.WithNow(ledgertest.Now)
	vouchers.WithApprovals(&shared.ApprovalBuffer{})
	closer := closing.NewService(f.Store, audit, notify.Nop{}, nil)
	closer.WithNow(ledgertest.Now)

	h := NewHandler(nil, Services{
		Catalog:     cat,
		Matrix:      matrix,
		Budget:      ledgerSvc,
		Journal:     vouchers,
		Balances:    balance.NewAggregator(f.Store),
		Closing:     closer,
		Idempotency: &shared.IdempotencyBuffer{},
	})
	r := chi.NewRouter()
	h.MountRoutes(r)
	return testServer{f: f, router: r}
}

type call struct {
	method  string
	path    string
	body    any
	actor   int64
	caps    string
	headers map[string]string
}

func (s testServer) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, &body)
	if c.actor != 0 {
		req.Header.Set(HeaderActorID, fmt.Sprint(c.actor))
	}
	if c.caps != "" {
		req.Header.Set(HeaderCapabilities, c.caps)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func problemOf(t *testing.T, rec *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	var p httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func movement(item ledger.LineItem, moment ledger.Moment, amount string) map[string]any {
	return map[string]any{
		"line_item_id": item.ID,
		"period":       3,
		"moment":       string(moment),
		"type":         string(ledger.MovementOriginal),
		"amount":       amount,
		"description":  "movimiento",
	}
}

func TestRequestsWithoutActorAreUnauthorized(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, call{method: http.MethodGet, path: "/accounts/1"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "Unauthorized", problemOf(t, rec).Type)

	rec = s.do(t, call{method: http.MethodGet, path: "/accounts/1", headers: map[string]string{HeaderActorID: "abc"}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetAccount(t *testing.T) {
	s := newTestServer(t)
	bank := s.f.Account(ledgertest.Bank)

	rec := s.do(t, call{method: http.MethodGet, path: fmt.Sprintf("/accounts/%d", bank.ID), actor: 1})
	require.Equal(t, http.StatusOK, rec.Code)
	var got ledger.Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, ledgertest.Bank, got.Code)

	rec = s.do(t, call{method: http.MethodGet, path: "/accounts/999999", actor: 1})
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "NotFound", problemOf(t, rec).Type)
}

func TestValidationFailuresAreBadRequests(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, call{method: http.MethodPost, path: "/movements", actor: 1, body: map[string]any{
		"line_item_id": 1,
		"period":       14,
		"moment":       "aprobado",
		"type":         "original",
		"amount":       "10.00",
	}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	p := problemOf(t, rec)
	require.Equal(t, "InvalidInput", p.Type)
	require.Contains(t, p.Detail, "Period")

	rec = s.do(t, call{method: http.MethodPost, path: "/movements", actor: 1, body: map[string]any{"unknown": true}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, call{method: http.MethodGet, path: "/trial-balance?entity_id=1", actor: 1})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMovementCeilingIsUnprocessable(t *testing.T) {
	s := newTestServer(t)
	s.f.ExpenseRules(t, ledgertest.ObjectPayroll, ledgertest.Payroll)
	item := s.f.LineItem(t, ledger.BudgetExpense, "E-1100", ledgertest.ObjectPayroll)

	rec := s.do(t, call{method: http.MethodPost, path: "/movements", actor: 1, body: movement(item, ledger.MomentApproved, "150000000.00")})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res budget.PostResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.NotNil(t, res.VoucherLine)

	rec = s.do(t, call{method: http.MethodPost, path: "/movements", actor: 1, body: movement(item, ledger.MomentCommitted, "25000000")})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, call{method: http.MethodPost, path: "/movements", actor: 1, body: movement(item, ledger.MomentCommitted, "130000000")})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	p := problemOf(t, rec)
	require.Equal(t, "BudgetCeilingExceeded", p.Type)
	require.Contains(t, p.Detail, "by $5,000,000.00")

	rec = s.do(t, call{method: http.MethodGet, path: fmt.Sprintf("/line-items/%d/summary", item.ID), actor: 1})
	require.Equal(t, http.StatusOK, rec.Code)
	var summary budget.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	require.Equal(t, money.FromUnits(125_000_000), summary.Available)
}

func TestIdempotencyKeyRefusesReplay(t *testing.T) {
	s := newTestServer(t)
	item := s.f.LineItem(t, ledger.BudgetExpense, "E-3100", ledgertest.ObjectServices)
	headers := map[string]string{HeaderIdempotencyKey: "mov-1"}

	rec := s.do(t, call{method: http.MethodPost, path: "/movements", actor: 1, headers: headers, body: movement(item, ledger.MomentApproved, "10.00")})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, call{method: http.MethodPost, path: "/movements", actor: 1, headers: headers, body: movement(item, ledger.MomentApproved, "10.00")})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "IdempotencyConflict", problemOf(t, rec).Type)

	// A failed post releases its key.
	failing := map[string]string{HeaderIdempotencyKey: "mov-2"}
	rec = s.do(t, call{method: http.MethodPost, path: "/movements", actor: 1, headers: failing, body: movement(item, ledger.MomentCommitted, "50.00")})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rec = s.do(t, call{method: http.MethodPost, path: "/movements", actor: 1, headers: failing, body: movement(item, ledger.MomentApproved, "5.00")})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, call{method: http.MethodGet, path: fmt.Sprintf("/line-items/%d/movements", item.ID), actor: 1})
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Movements []ledger.BudgetMovement `json:"movements"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Movements, 2)
}

func TestVoucherApprovalFlow(t *testing.T) {
	s := newTestServer(t)
	const author, approver = 10, 20

	rec := s.do(t, call{method: http.MethodPost, path: "/vouchers", actor: author, body: map[string]any{
		"entity_id":   ledgertest.EntityID,
		"year":        ledgertest.Year,
		"period":      3,
		"type":        "diario",
		"date":        "2025-03-15",
		"description": "Pago de nómina",
		"lines": []map[string]any{
			{"account_id": s.f.AccountID(ledgertest.Payroll), "debit": "1000.00"},
			{"account_id": s.f.AccountID(ledgertest.Bank), "credit": "1000.00"},
		},
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var v ledger.Voucher
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	require.Equal(t, ledger.VoucherDraft, v.State)
	base := fmt.Sprintf("/vouchers/%d", v.ID)

	rec = s.do(t, call{method: http.MethodPost, path: base + "/submit", actor: author})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, call{method: http.MethodPost, path: base + "/approve", actor: approver})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "Forbidden", problemOf(t, rec).Type)

	rec = s.do(t, call{method: http.MethodPost, path: base + "/approve", actor: author, caps: shared.CapApprove})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "SelfApprovalForbidden", problemOf(t, rec).Type)

	rec = s.do(t, call{method: http.MethodPost, path: base + "/approve", actor: approver, caps: shared.CapApprove + ",other"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	require.Equal(t, ledger.VoucherApproved, v.State)

	rec = s.do(t, call{method: http.MethodPost, path: base + "/apply", actor: approver})
	require.Equal(t, http.StatusOK, rec.Code)
	var applied applyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &applied))
	require.False(t, applied.Applied, "approval already folded the voucher in")

	rec = s.do(t, call{method: http.MethodGet, path: base + "/history", actor: author})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), `"history"`))

	path := fmt.Sprintf("/balances/%d?entity_id=%d&year=%d&period=3", s.f.AccountID(ledgertest.Bank), ledgertest.EntityID, ledgertest.Year)
	rec = s.do(t, call{method: http.MethodGet, path: path, actor: author})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var bal balance.Balance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bal))
	require.Equal(t, money.FromUnits(1000), bal.Credit)
	require.Equal(t, money.FromUnits(-1000), bal.Balance)

	rec = s.do(t, call{method: http.MethodGet, path: fmt.Sprintf("/integrity?entity_id=%d&year=%d", ledgertest.EntityID, ledgertest.Year), actor: author})
	require.Equal(t, http.StatusOK, rec.Code)
	var report balance.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Empty(t, report.Mismatches)
}

func TestClosePeriodRequiresCapability(t *testing.T) {
	s := newTestServer(t)
	path := fmt.Sprintf("/fiscal-years/%d/%d/periods/1/close", ledgertest.EntityID, ledgertest.Year)

	rec := s.do(t, call{method: http.MethodPost, path: path, actor: 5})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, call{method: http.MethodPost, path: path, actor: 5, caps: shared.CapClose})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var p ledger.Period
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	require.Equal(t, ledger.PeriodClosed, p.State)

	rec = s.do(t, call{method: http.MethodGet, path: fmt.Sprintf("/fiscal-years/%d/%d", ledgertest.EntityID, ledgertest.Year), actor: 5})
	require.Equal(t, http.StatusOK, rec.Code)
	var fy ledger.FiscalYear
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fy))
	require.Len(t, fy.Periods, ledger.PeriodsPerYear)
}
