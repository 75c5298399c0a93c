package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/armonia-contable/armonia/internal/ledger"
)

func TestRespondErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{fmt.Errorf("%w: voucher 9", ledger.ErrNotFound), http.StatusNotFound, "NotFound"},
		{fmt.Errorf("%w: by $5.00", ledger.ErrBudgetCeilingExceeded), http.StatusUnprocessableEntity, "BudgetCeilingExceeded"},
		{ledger.ErrSelfApprovalForbidden, http.StatusForbidden, "SelfApprovalForbidden"},
		{fmt.Errorf("%w: %w", ledger.ErrCloseAborted, ledger.ErrUnbalancedVoucher), http.StatusConflict, "CloseAborted"},
		{ErrUnauthorized, http.StatusUnauthorized, "Unauthorized"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, nil, tc.err)
		require.Equal(t, tc.status, rec.Code, tc.err.Error())
		var problem ProblemDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
		require.Equal(t, tc.kind, problem.Type)
		require.Equal(t, tc.err.Error(), problem.Detail)
	}
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, nil, fmt.Errorf("pq: connection reset"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "connection reset")
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var target struct {
		Amount string `json:"amount"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"1.00","extra":true}`))
	err := DecodeJSON(req, &target)
	require.ErrorIs(t, err, ledger.ErrInvalidInput)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"1.00"}`))
	require.NoError(t, DecodeJSON(req, &target))
	require.Equal(t, "1.00", target.Amount)
}
