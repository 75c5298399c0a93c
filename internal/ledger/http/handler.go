// Package ledgerhttp exposes the reconciliation engine over JSON. The
// upstream identity gateway authenticates callers and forwards the actor in
// the X-Actor-ID and X-Capabilities headers.
package ledgerhttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/armonia-contable/armonia/internal/balance"
	"github.com/armonia-contable/armonia/internal/budget"
	"github.com/armonia-contable/armonia/internal/catalog"
	"github.com/armonia-contable/armonia/internal/closing"
	"github.com/armonia-contable/armonia/internal/conversion"
	"github.com/armonia-contable/armonia/internal/journal"
	"github.com/armonia-contable/armonia/internal/ledger"
	"github.com/armonia-contable/armonia/internal/platform/httpx"
	"github.com/armonia-contable/armonia/internal/shared"
)

// Headers read from the identity gateway.
const (
	HeaderActorID        = "X-Actor-ID"
	HeaderCapabilities   = "X-Capabilities"
	HeaderIdempotencyKey = "Idempotency-Key"
)

const idempotencyModule = "budget.movement"

type catalogService interface {
	CreateAccount(ctx context.Context, input catalog.AccountInput) (ledger.Account, error)
	GetAccount(ctx context.Context, id int64) (ledger.Account, error)
	ChildAccounts(ctx context.Context, id int64) ([]ledger.Account, error)
	DeleteAccount(ctx context.Context, actorID, id int64) error
	CreateClassifier(ctx context.Context, input catalog.ClassifierInput) (ledger.Classifier, error)
	GetClassifier(ctx context.Context, id int64) (ledger.Classifier, error)
	ChildClassifiers(ctx context.Context, id int64) ([]ledger.Classifier, error)
	CreateLineItem(ctx context.Context, input catalog.LineItemInput) (ledger.LineItem, error)
	UpdateLineItem(ctx context.Context, input catalog.LineItemUpdate) (ledger.LineItem, error)
	GetLineItem(ctx context.Context, id int64) (ledger.LineItem, error)
}

type matrixService interface {
	Register(ctx context.Context, input conversion.RuleInput) (ledger.ConversionRule, error)
	Resolve(ctx context.Context, entityID, classifierID int64, moment ledger.Moment) (ledger.ConversionRule, error)
	Deactivate(ctx context.Context, actorID, ruleID int64) (ledger.ConversionRule, error)
	List(ctx context.Context, entityID int64) ([]ledger.ConversionRule, error)
}

type budgetService interface {
	PostMovement(ctx context.Context, actor ledger.Actor, input budget.MovementInput) (budget.PostResult, error)
	Summary(ctx context.Context, lineItemID int64) (budget.Summary, error)
	Movements(ctx context.Context, lineItemID int64) ([]ledger.BudgetMovement, error)
}

type journalService interface {
	CreateDraft(ctx context.Context, input journal.DraftInput) (ledger.Voucher, error)
	ReplaceLines(ctx context.Context, actorID, voucherID int64, lines []journal.LineInput) (ledger.Voucher, error)
	Submit(ctx context.Context, actorID, voucherID int64) (ledger.Voucher, error)
	Approve(ctx context.Context, actor ledger.Actor, voucherID int64) (ledger.Voucher, error)
	Reject(ctx context.Context, actor ledger.Actor, voucherID int64, reason string) (ledger.Voucher, error)
	Clone(ctx context.Context, actorID, voucherID int64) (ledger.Voucher, error)
	Get(ctx context.Context, voucherID int64) (ledger.Voucher, error)
	List(ctx context.Context, scope ledger.Scope, period int) ([]ledger.Voucher, error)
	History(ctx context.Context, voucherID int64) ([]shared.ApprovalLog, error)
}

type balanceService interface {
	ApplyVoucher(ctx context.Context, voucherID int64) (bool, error)
	BalanceAsOf(ctx context.Context, scope ledger.Scope, accountID int64, period int) (balance.Balance, error)
	CumulativeThrough(ctx context.Context, scope ledger.Scope, accountID int64, period int) (balance.Balance, error)
	TrialBalance(ctx context.Context, scope ledger.Scope, from, through int) (balance.TrialBalance, error)
	Verify(ctx context.Context, scope ledger.Scope) (balance.Report, error)
}

type closingService interface {
	CreateFiscalYear(ctx context.Context, actorID, entityID int64, year int) (ledger.FiscalYear, error)
	GetFiscalYear(ctx context.Context, scope ledger.Scope) (ledger.FiscalYear, error)
	ClosePeriod(ctx context.Context, actor ledger.Actor, scope ledger.Scope, number int) (ledger.Period, error)
	CloseFiscalYear(ctx context.Context, actor ledger.Actor, scope ledger.Scope) (closing.YearResult, error)
}

// IdempotencyPort deduplicates movement posts carrying an Idempotency-Key.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Services groups the engines served by the handler.
type Services struct {
	Catalog     catalogService
	Matrix      matrixService
	Budget      budgetService
	Journal     journalService
	Balances    balanceService
	Closing     closingService
	Idempotency IdempotencyPort
}

// Handler wires HTTP endpoints for every exposed ledger operation.
type Handler struct {
	logger   *slog.Logger
	svc      Services
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, svc Services) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, svc: svc, validate: validator.New()}
}

// MountRoutes registers the API routes. Every route requires an actor.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.requireActor)

		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", h.createAccount)
			r.Get("/{id}", h.getAccount)
			r.Get("/{id}/children", h.childAccounts)
			r.Delete("/{id}", h.deleteAccount)
		})
		r.Route("/classifiers", func(r chi.Router) {
			r.Post("/", h.createClassifier)
			r.Get("/{id}", h.getClassifier)
			r.Get("/{id}/children", h.childClassifiers)
		})
		r.Route("/line-items", func(r chi.Router) {
			r.Post("/", h.createLineItem)
			r.Get("/{id}", h.getLineItem)
			r.Patch("/{id}", h.updateLineItem)
			r.Get("/{id}/summary", h.lineItemSummary)
			r.Get("/{id}/movements", h.lineItemMovements)
		})
		r.Post("/movements", h.postMovement)

		r.Route("/rules", func(r chi.Router) {
			r.Post("/", h.registerRule)
			r.Get("/", h.listRules)
			r.Get("/resolve", h.resolveRule)
			r.Post("/{id}/deactivate", h.deactivateRule)
		})

		r.Route("/vouchers", func(r chi.Router) {
			r.Post("/", h.createVoucher)
			r.Get("/", h.listVouchers)
			r.Get("/{id}", h.getVoucher)
			r.Put("/{id}/lines", h.replaceLines)
			r.Post("/{id}/submit", h.submitVoucher)
			r.Post("/{id}/approve", h.approveVoucher)
			r.Post("/{id}/reject", h.rejectVoucher)
			r.Post("/{id}/clone", h.cloneVoucher)
			r.Post("/{id}/apply", h.applyVoucher)
			r.Get("/{id}/history", h.voucherHistory)
		})

		r.Get("/balances/{accountID}", h.accountBalance)
		r.Get("/trial-balance", h.trialBalance)
		r.Get("/integrity", h.integrity)

		r.Route("/fiscal-years", func(r chi.Router) {
			r.Post("/", h.createFiscalYear)
			r.Get("/{entityID}/{year}", h.getFiscalYear)
			r.Post("/{entityID}/{year}/periods/{number}/close", h.closePeriod)
			r.Post("/{entityID}/{year}/close", h.closeFiscalYear)
		})
	})
}

// requireActor loads the caller identity forwarded by the gateway.
func (h *Handler) requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(HeaderActorID))
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httpx.RespondError(w, h.logger, fmt.Errorf("%w: %s header required", httpx.ErrUnauthorized, HeaderActorID))
			return
		}
		actor := shared.ActorWithCapabilities(id, r.Header.Get(HeaderCapabilities))
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
	})
}

func actorFrom(r *http.Request) ledger.Actor {
	actor, _ := shared.ActorFromContext(r.Context())
	return actor
}

// decode reads and validates the request body.
func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return err
	}
	if err := h.validate.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			fields := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ledger.ErrInvalidInput, strings.Join(fields, "; "))
		}
		return fmt.Errorf("%w: %v", ledger.ErrInvalidInput, err)
	}
	return nil
}

func pathInt64(r *http.Request, name string) (int64, error) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", ledger.ErrInvalidInput, name)
	}
	return v, nil
}

func pathInt(r *http.Request, name string) (int, error) {
	v, err := pathInt64(r, name)
	return int(v), err
}

// queryInt reads an integer query parameter, returning def when absent.
func queryInt(r *http.Request, name string, def int64) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: invalid %s", ledger.ErrInvalidInput, name)
	}
	return v, nil
}

// queryScope reads entity_id and year, both required.
func queryScope(r *http.Request) (ledger.Scope, error) {
	entityID, err := queryInt(r, "entity_id", 0)
	if err != nil {
		return ledger.Scope{}, err
	}
	year, err := queryInt(r, "year", 0)
	if err != nil {
		return ledger.Scope{}, err
	}
	if entityID == 0 || year == 0 {
		return ledger.Scope{}, fmt.Errorf("%w: entity_id and year required", ledger.ErrInvalidInput)
	}
	return ledger.Scope{EntityID: entityID, Year: int(year)}, nil
}

func pathScope(r *http.Request) (ledger.Scope, error) {
	entityID, err := pathInt64(r, "entityID")
	if err != nil {
		return ledger.Scope{}, err
	}
	year, err := pathInt(r, "year")
	if err != nil {
		return ledger.Scope{}, err
	}
	return ledger.Scope{EntityID: entityID, Year: year}, nil
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	httpx.RespondError(w, h.logger, err)
}
