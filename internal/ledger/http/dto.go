package ledgerhttp

import (
	"fmt"
	"time"

	"github.com/armonia-contable/armonia/internal/budget"
	"github.com/armonia-contable/armonia/internal/catalog"
	"github.com/armonia-contable/armonia/internal/conversion"
	"github.com/armonia-contable/armonia/internal/journal"
	"github.com/armonia-contable/armonia/internal/ledger"
	"github.com/armonia-contable/armonia/internal/money"
)

type accountRequest struct {
	EntityID int64  `json:"entity_id" validate:"required,gt=0"`
	Code     string `json:"code" validate:"required,max=32"`
	Name     string `json:"name" validate:"required,max=200"`
	Kind     string `json:"kind" validate:"required"`
	Nature   string `json:"nature" validate:"required,oneof=deudora acreedora"`
}

func (req accountRequest) input(actorID int64) catalog.AccountInput {
	return catalog.AccountInput{
		EntityID: req.EntityID,
		Code:     req.Code,
		Name:     req.Name,
		Kind:     ledger.AccountKind(req.Kind),
		Nature:   ledger.Nature(req.Nature),
		ActorID:  actorID,
	}
}

type classifierRequest struct {
	EntityID int64  `json:"entity_id" validate:"required,gt=0"`
	Type     string `json:"type" validate:"required,oneof=COG FF FUN ADM PROG CRI"`
	Code     string `json:"code" validate:"required,max=32"`
	Name     string `json:"name" validate:"required,max=200"`
	ParentID *int64 `json:"parent_id" validate:"omitempty,gt=0"`
}

func (req classifierRequest) input(actorID int64) catalog.ClassifierInput {
	return catalog.ClassifierInput{
		EntityID: req.EntityID,
		Type:     ledger.ClassifierType(req.Type),
		Code:     req.Code,
		Name:     req.Name,
		ParentID: req.ParentID,
		ActorID:  actorID,
	}
}

type lineItemRequest struct {
	EntityID     int64  `json:"entity_id" validate:"required,gt=0"`
	Year         int    `json:"year" validate:"required,gt=0"`
	Class        string `json:"class" validate:"required,oneof=egreso ingreso"`
	Code         string `json:"code" validate:"required,max=64"`
	Name         string `json:"name" validate:"max=200"`
	ClassifierID int64  `json:"classifier_id" validate:"required,gt=0"`
}

func (req lineItemRequest) input(actorID int64) catalog.LineItemInput {
	return catalog.LineItemInput{
		EntityID:     req.EntityID,
		Year:         req.Year,
		Class:        ledger.BudgetClass(req.Class),
		Code:         req.Code,
		Name:         req.Name,
		ClassifierID: req.ClassifierID,
		ActorID:      actorID,
	}
}

type lineItemPatch struct {
	Name         string `json:"name" validate:"max=200"`
	ClassifierID int64  `json:"classifier_id" validate:"omitempty,gt=0"`
}

type movementRequest struct {
	LineItemID  int64       `json:"line_item_id" validate:"required,gt=0"`
	Period      int         `json:"period" validate:"required,min=1,max=13"`
	Moment      string      `json:"moment" validate:"required"`
	Type        string      `json:"type" validate:"required,oneof=original addition reduction"`
	Amount      money.Cents `json:"amount" validate:"required"`
	Date        string      `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Description string      `json:"description" validate:"max=500"`
}

func (req movementRequest) input() (budget.MovementInput, error) {
	date, err := parseDate(req.Date)
	if err != nil {
		return budget.MovementInput{}, err
	}
	return budget.MovementInput{
		LineItemID:  req.LineItemID,
		Period:      req.Period,
		Moment:      ledger.Moment(req.Moment),
		Type:        ledger.MovementType(req.Type),
		Amount:      req.Amount,
		Date:        date,
		Description: req.Description,
	}, nil
}

type ruleRequest struct {
	EntityID        int64  `json:"entity_id" validate:"required,gt=0"`
	ClassifierID    int64  `json:"classifier_id" validate:"required,gt=0"`
	Moment          string `json:"moment" validate:"required"`
	DebitAccountID  int64  `json:"debit_account_id" validate:"required,gt=0"`
	CreditAccountID int64  `json:"credit_account_id" validate:"required,gt=0,nefield=DebitAccountID"`
}

func (req ruleRequest) input(actorID int64) conversion.RuleInput {
	return conversion.RuleInput{
		EntityID:        req.EntityID,
		ClassifierID:    req.ClassifierID,
		Moment:          ledger.Moment(req.Moment),
		DebitAccountID:  req.DebitAccountID,
		CreditAccountID: req.CreditAccountID,
		ActorID:         actorID,
	}
}

type lineRequest struct {
	AccountID int64       `json:"account_id" validate:"required,gt=0"`
	Debit     money.Cents `json:"debit"`
	Credit    money.Cents `json:"credit"`
	Memo      string      `json:"memo" validate:"max=200"`
}

func lineInputs(lines []lineRequest) []journal.LineInput {
	out := make([]journal.LineInput, 0, len(lines))
	for _, l := range lines {
		out = append(out, journal.LineInput{AccountID: l.AccountID, Debit: l.Debit, Credit: l.Credit, Memo: l.Memo})
	}
	return out
}

type voucherRequest struct {
	EntityID    int64         `json:"entity_id" validate:"required,gt=0"`
	Year        int           `json:"year" validate:"required,gt=0"`
	Period      int           `json:"period" validate:"required,min=1,max=13"`
	Type        string        `json:"type" validate:"required,oneof=diario ingreso egreso"`
	Date        string        `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Description string        `json:"description" validate:"required,max=500"`
	Lines       []lineRequest `json:"lines" validate:"dive"`
}

func (req voucherRequest) input(actorID int64) (journal.DraftInput, error) {
	date, err := parseDate(req.Date)
	if err != nil {
		return journal.DraftInput{}, err
	}
	return journal.DraftInput{
		EntityID:    req.EntityID,
		Year:        req.Year,
		Period:      req.Period,
		Type:        ledger.VoucherType(req.Type),
		Date:        date,
		Description: req.Description,
		Lines:       lineInputs(req.Lines),
		ActorID:     actorID,
	}, nil
}

type linesRequest struct {
	Lines []lineRequest `json:"lines" validate:"required,dive"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type fiscalYearRequest struct {
	EntityID int64 `json:"entity_id" validate:"required,gt=0"`
	Year     int   `json:"year" validate:"required,min=1900,max=9999"`
}

type applyResponse struct {
	VoucherID int64 `json:"voucher_id"`
	Applied   bool  `json:"applied"`
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	date, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ledger.ErrInvalidInput, raw)
	}
	return date, nil
}
