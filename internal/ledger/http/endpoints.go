package ledgerhttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/armonia-contable/armonia/internal/balance"
	"github.com/armonia-contable/armonia/internal/catalog"
	"github.com/armonia-contable/armonia/internal/ledger"
	"github.com/armonia-contable/armonia/internal/platform/httpx"
	"github.com/armonia-contable/armonia/internal/shared"
)

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	account, err := h.svc.Catalog.CreateAccount(r.Context(), req.input(actorFrom(r).ID))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, account)
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	account, err := h.svc.Catalog.GetAccount(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

func (h *Handler) childAccounts(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	children, err := h.svc.Catalog.ChildAccounts(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"accounts": children})
}

func (h *Handler) deleteAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	if err := h.svc.Catalog.DeleteAccount(r.Context(), actorFrom(r).ID, id); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) createClassifier(w http.ResponseWriter, r *http.Request) {
	var req classifierRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	classifier, err := h.svc.Catalog.CreateClassifier(r.Context(), req.input(actorFrom(r).ID))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, classifier)
}

func (h *Handler) getClassifier(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	classifier, err := h.svc.Catalog.GetClassifier(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, classifier)
}

func (h *Handler) childClassifiers(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	children, err := h.svc.Catalog.ChildClassifiers(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"classifiers": children})
}

func (h *Handler) createLineItem(w http.ResponseWriter, r *http.Request) {
	var req lineItemRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	item, err := h.svc.Catalog.CreateLineItem(r.Context(), req.input(actorFrom(r).ID))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) getLineItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	item, err := h.svc.Catalog.GetLineItem(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) updateLineItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	var req lineItemPatch
	if err := h.decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	item, err := h.svc.Catalog.UpdateLineItem(r.Context(), catalog.LineItemUpdate{
		ID:           id,
		Name:         req.Name,
		ClassifierID: req.ClassifierID,
		ActorID:      actorFrom(r).ID,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) lineItemSummary(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	summary, err := h.svc.Budget.Summary(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) lineItemMovements(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	movements, err := h.svc.Budget.Movements(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

// postMovement records a budget movement. A repeated Idempotency-Key is
// refused; the key is released again when the post fails.
func (h *Handler) postMovement(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	input, err := req.input()
	if err != nil {
		h.fail(w, err)
		return
	}
	ctx := r.Context()
	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if key != "" && h.svc.Idempotency != nil {
		if err := h.svc.Idempotency.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.Problem(w, http.StatusConflict, "IdempotencyConflict", http.StatusText(http.StatusConflict),
					fmt.Sprintf("movement with %s %q already processed", HeaderIdempotencyKey, key))
				return
			}
			h.fail(w, err)
			return
		}
	}
	result, err := h.svc.Budget.PostMovement(ctx, actorFrom(r), input)
	if err != nil {
		if key != "" && h.svc.Idempotency != nil {
			if delErr := h.svc.Idempotency.Delete(context.WithoutCancel(ctx), key, idempotencyModule); delErr != nil {
				h.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", delErr))
			}
		}
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) registerRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	rule, err := h.svc.Matrix.Register(r.Context(), req.input(actorFrom(r).ID))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rule)
}

func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	entityID, err := queryInt(r, "entity_id", 0)
	if err != nil || entityID == 0 {
		h.fail(w, fmt.Errorf("%w: entity_id required", ledger.ErrInvalidInput))
		return
	}
	rules, err := h.svc.Matrix.List(r.Context(), entityID)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (h *Handler) resolveRule(w http.ResponseWriter, r *http.Request) {
	entityID, err := queryInt(r, "entity_id", 0)
	if err != nil {
		h.fail(w, err)
		return
	}
	classifierID, err := queryInt(r, "classifier_id", 0)
	if err != nil {
		h.fail(w, err)
		return
	}
	moment := ledger.Moment(r.URL.Query().Get("moment"))
	rule, err := h.svc.Matrix.Resolve(r.Context(), entityID, classifierID, moment)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rule)
}

func (h *Handler) deactivateRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	rule, err := h.svc.Matrix.Deactivate(r.Context(), actorFrom(r).ID, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rule)
}

func (h *Handler) createVoucher(w http.ResponseWriter, r *http.Request) {
	var req voucherRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	input, err := req.input(actorFrom(r).ID)
	if err != nil {
		h.fail(w, err)
		return
	}
	voucher, err := h.svc.Journal.CreateDraft(r.Context(), input)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, voucher)
}

func (h *Handler) listVouchers(w http.ResponseWriter, r *http.Request) {
	scope, err := queryScope(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	period, err := queryInt(r, "period", 0)
	if err != nil {
		h.fail(w, err)
		return
	}
	vouchers, err := h.svc.Journal.List(r.Context(), scope, int(period))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"vouchers": vouchers})
}

func (h *Handler) getVoucher(w http.ResponseWriter, r *http.Request) {
	h.voucherAction(w, r, http.StatusOK, func(ctx context.Context, actor ledger.Actor, id int64) (ledger.Voucher, error) {
		return h.svc.Journal.Get(ctx, id)
	})
}

func (h *Handler) replaceLines(w http.ResponseWriter, r *http.Request) {
	var req linesRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	h.voucherAction(w, r, http.StatusOK, func(ctx context.Context, actor ledger.Actor, id int64) (ledger.Voucher, error) {
		return h.svc.Journal.ReplaceLines(ctx, actor.ID, id, lineInputs(req.Lines))
	})
}

func (h *Handler) submitVoucher(w http.ResponseWriter, r *http.Request) {
	h.voucherAction(w, r, http.StatusOK, func(ctx context.Context, actor ledger.Actor, id int64) (ledger.Voucher, error) {
		return h.svc.Journal.Submit(ctx, actor.ID, id)
	})
}

// approveVoucher runs detached from the request context; approval is
// short and must not be cut halfway by a client disconnect.
func (h *Handler) approveVoucher(w http.ResponseWriter, r *http.Request) {
	h.voucherAction(w, r, http.StatusOK, func(ctx context.Context, actor ledger.Actor, id int64) (ledger.Voucher, error) {
		return h.svc.Journal.Approve(context.WithoutCancel(ctx), actor, id)
	})
}

func (h *Handler) rejectVoucher(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	h.voucherAction(w, r, http.StatusOK, func(ctx context.Context, actor ledger.Actor, id int64) (ledger.Voucher, error) {
		return h.svc.Journal.Reject(ctx, actor, id, req.Reason)
	})
}

func (h *Handler) cloneVoucher(w http.ResponseWriter, r *http.Request) {
	h.voucherAction(w, r, http.StatusCreated, func(ctx context.Context, actor ledger.Actor, id int64) (ledger.Voucher, error) {
		return h.svc.Journal.Clone(ctx, actor.ID, id)
	})
}

func (h *Handler) voucherAction(w http.ResponseWriter, r *http.Request, status int, fn func(context.Context, ledger.Actor, int64) (ledger.Voucher, error)) {
	id, err := pathInt64(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	voucher, err := fn(r.Context(), actorFrom(r), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, status, voucher)
}

func (h *Handler) applyVoucher(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	applied, err := h.svc.Balances.ApplyVoucher(context.WithoutCancel(r.Context()), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, applyResponse{VoucherID: id, Applied: applied})
}

func (h *Handler) voucherHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	history, err := h.svc.Journal.History(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"history": history})
}

// accountBalance answers balanceAsOf, or the cumulative balance through the
// period when cumulative=true.
func (h *Handler) accountBalance(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathInt64(r, "accountID")
	if err != nil {
		h.fail(w, err)
		return
	}
	scope, err := queryScope(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	period, err := queryInt(r, "period", ledger.PeriodsPerYear)
	if err != nil {
		h.fail(w, err)
		return
	}
	cumulative := r.URL.Query().Get("cumulative") == "true"
	key := fmt.Sprintf("balance:%s:%d:%d:%t", scope, accountID, period, cumulative)
	val, err := sharedRead(r.Context(), key, func(ctx context.Context) (any, error) {
		if cumulative {
			return h.svc.Balances.CumulativeThrough(ctx, scope, accountID, int(period))
		}
		return h.svc.Balances.BalanceAsOf(ctx, scope, accountID, int(period))
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, val.(balance.Balance))
}

func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	scope, err := queryScope(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	from, err := queryInt(r, "from", 1)
	if err != nil {
		h.fail(w, err)
		return
	}
	through, err := queryInt(r, "through", ledger.PeriodsPerYear)
	if err != nil {
		h.fail(w, err)
		return
	}
	key := fmt.Sprintf("trial:%s:%d:%d", scope, from, through)
	val, err := sharedRead(r.Context(), key, func(ctx context.Context) (any, error) {
		return h.svc.Balances.TrialBalance(ctx, scope, int(from), int(through))
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, val.(balance.TrialBalance))
}

func (h *Handler) integrity(w http.ResponseWriter, r *http.Request) {
	scope, err := queryScope(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	report, err := h.svc.Balances.Verify(r.Context(), scope)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) createFiscalYear(w http.ResponseWriter, r *http.Request) {
	var req fiscalYearRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	fy, err := h.svc.Closing.CreateFiscalYear(r.Context(), actorFrom(r).ID, req.EntityID, req.Year)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, fy)
}

func (h *Handler) getFiscalYear(w http.ResponseWriter, r *http.Request) {
	scope, err := pathScope(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	fy, err := h.svc.Closing.GetFiscalYear(r.Context(), scope)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, fy)
}

func (h *Handler) closePeriod(w http.ResponseWriter, r *http.Request) {
	scope, err := pathScope(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	number, err := pathInt(r, "number")
	if err != nil {
		h.fail(w, err)
		return
	}
	period, err := h.svc.Closing.ClosePeriod(context.WithoutCancel(r.Context()), actorFrom(r), scope, number)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) closeFiscalYear(w http.ResponseWriter, r *http.Request) {
	scope, err := pathScope(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	result, err := h.svc.Closing.CloseFiscalYear(r.Context(), actorFrom(r), scope)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}
