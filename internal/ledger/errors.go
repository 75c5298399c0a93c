package ledger

import "errors"

var (
	// ErrPeriodClosed indicates the period or its fiscal year no longer accepts postings.
	ErrPeriodClosed = errors.New("period closed")
	// ErrBudgetCeilingExceeded indicates an expense moment would exceed its predecessor.
	ErrBudgetCeilingExceeded = errors.New("budget ceiling exceeded")
	// ErrNoRuleFound indicates no active conversion rule matches (classifier, moment).
	ErrNoRuleFound = errors.New("no conversion rule found")
	// ErrUnbalancedVoucher indicates debit != credit or too few lines.
	ErrUnbalancedVoucher = errors.New("unbalanced voucher")
	// ErrInvalidAccountReference indicates a line references a missing or non-leaf account.
	ErrInvalidAccountReference = errors.New("invalid account reference")
	// ErrSelfApprovalForbidden indicates the approver authored the voucher.
	ErrSelfApprovalForbidden = errors.New("self approval forbidden")
	// ErrDuplicateRule indicates an active rule already exists for (classifier, moment).
	ErrDuplicateRule = errors.New("duplicate conversion rule")
	// ErrPendingVouchersExist indicates non-terminal vouchers block a period close.
	ErrPendingVouchersExist = errors.New("pending vouchers exist")
	// ErrCloseAborted indicates the fiscal year close was rolled back.
	ErrCloseAborted = errors.New("close aborted")

	// ErrNotFound indicates a missing record.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput indicates a malformed request.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidStatus indicates a state machine transition is not allowed.
	ErrInvalidStatus = errors.New("invalid status transition")
	// ErrForbidden indicates the actor lacks the required capability.
	ErrForbidden = errors.New("forbidden")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrCloseAborted, "CloseAborted"},
	{ErrPeriodClosed, "PeriodClosed"},
	{ErrBudgetCeilingExceeded, "BudgetCeilingExceeded"},
	{ErrNoRuleFound, "NoRuleFound"},
	{ErrUnbalancedVoucher, "UnbalancedVoucher"},
	{ErrInvalidAccountReference, "InvalidAccountReference"},
	{ErrSelfApprovalForbidden, "SelfApprovalForbidden"},
	{ErrDuplicateRule, "DuplicateRule"},
	{ErrPendingVouchersExist, "PendingVouchersExist"},
	{ErrNotFound, "NotFound"},
	{ErrInvalidInput, "InvalidInput"},
	{ErrInvalidStatus, "InvalidStatus"},
	{ErrForbidden, "Forbidden"},
}

// Kind returns the taxonomy name of err, or "Internal" when unclassified.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}
