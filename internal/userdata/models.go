package userdata

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType separates income from expenses
type TransactionType string

const (
	Income  TransactionType = "income"
	Expense TransactionType = "expense"
)

// Transaction is one denormalized ledger record. Amount is signed: expenses
// are negative.
type Transaction struct {
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
	Type        TransactionType `json:"type"`
}

// Goal is a savings target
type Goal struct {
	Name          string          `json:"name"`
	TargetAmount  decimal.Decimal `json:"targetAmount"`
	CurrentAmount decimal.Decimal `json:"currentAmount"`
	Deadline      *time.Time      `json:"deadline,omitempty"`
	Category      string          `json:"category"`
	Priority      string          `json:"priority"`
}

// Progress returns CurrentAmount/TargetAmount as a percentage, capped at 100
func (g Goal) Progress() decimal.Decimal {
	if !g.TargetAmount.IsPositive() {
		return decimal.Zero
	}
	pct := g.CurrentAmount.Div(g.TargetAmount).Mul(decimal.NewFromInt(100))
	if pct.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.NewFromInt(100)
	}
	return pct.Round(1)
}

// DataStatus summarizes a fetch outcome
type DataStatus string

const (
	StatusOK    DataStatus = "ok"
	StatusEmpty DataStatus = "empty"
	StatusError DataStatus = "error"
)

// Section is one class of records in a snapshot
type Section[T any] struct {
	Items       []T        `json:"items"`
	HasData     bool       `json:"hasData"`
	Status      DataStatus `json:"dataStatus"`
	ErrorReason string     `json:"errorReason,omitempty"`
}

func newSection[T any](items []T, err error) Section[T] {
	s := Section[T]{Items: items, HasData: len(items) > 0, Status: StatusEmpty}
	switch {
	case len(items) > 0:
		s.Status = StatusOK
	case err != nil:
		s.Status = StatusError
	}
	if err != nil {
		s.ErrorReason = err.Error()
	}
	return s
}

// Snapshot is the bounded, best-effort view of a user's finances for one
// request. It is never mutated after Gather returns.
type Snapshot struct {
	Transactions Section[Transaction] `json:"transactions"`
	Goals        Section[Goal]        `json:"goals"`
	Status       DataStatus           `json:"dataStatus"`
	ErrorReason  string               `json:"errorReason,omitempty"`
	PlanTier     string               `json:"planTier"`
	LookbackDays int                  `json:"lookbackDays"`
}

// HasData reports whether any record was retrieved
func (s *Snapshot) HasData() bool {
	return s.Transactions.HasData || s.Goals.HasData
}

// Totals sums income and expenses (as a positive value) over the transactions
func (s *Snapshot) Totals() (income, expenses decimal.Decimal) {
	for _, tx := range s.Transactions.Items {
		if tx.Type == Income {
			income = income.Add(tx.Amount.Abs())
		} else {
			expenses = expenses.Add(tx.Amount.Abs())
		}
	}
	return income, expenses
}
