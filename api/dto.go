/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Business validation lives in the coordinator, not here. DTOs are pure
  data carriers; handlers only translate shapes and status codes.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/ledger-engine/coordinator"
	"github.com/warp/ledger-engine/finance"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// AccountDTO represents an account in API responses.
type AccountDTO struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Currency       string  `json:"currency"`
	Balance        string  `json:"balance"`
	InitialBalance *string `json:"initial_balance,omitempty"`
	Mode           string  `json:"mode"`
}

// CreateAccountRequest registers a new account.
type CreateAccountRequest struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Currency       string  `json:"currency"`
	InitialBalance *string `json:"initial_balance,omitempty"`
	Balance        *string `json:"balance,omitempty"` // Trusted mode only
	Mode           string  `json:"mode,omitempty"`    // "derived" (default) | "trusted"
}

// TransactionDTO represents a ledger record in API responses.
type TransactionDTO struct {
	ID            string  `json:"id"`
	Date          string  `json:"date"`
	Amount        string  `json:"amount"`
	Currency      string  `json:"currency"`
	Kind          string  `json:"kind"`
	SourceAccount  string  `json:"source_account"`
	SourceAmount   *string `json:"source_amount,omitempty"`
	SourceCurrency *string `json:"source_currency,omitempty"`
	TargetAccount  string  `json:"target_account,omitempty"`
	TargetAmount   *string `json:"target_amount,omitempty"`
	TargetCurrency *string `json:"target_currency,omitempty"`
	CategoryID    string  `json:"category_id,omitempty"`
	SeriesID      string  `json:"series_id,omitempty"`
	Description   string  `json:"description,omitempty"`
	CreatedAt     string  `json:"created_at,omitempty"`
}

// MutateTransactionRequest adds or updates a ledger record.
type MutateTransactionRequest struct {
	Date          string `json:"date"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Kind          string `json:"kind"`
	SourceAccount string `json:"source_account"`
	CategoryID    string `json:"category_id,omitempty"`
	Description   string `json:"description,omitempty"`
}

// TransferRequest moves money between two accounts.
type TransferRequest struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Date        string `json:"date"`
	Description string `json:"description,omitempty"`
}

// SummaryDTO is the period summary response.
type SummaryDTO struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Income      string `json:"income"`
	Expense     string `json:"expense"`
	Net         string `json:"net"`
	Approximate bool   `json:"approximate"`
}

// CategoryTotalsDTO is the per-category expense breakdown response.
type CategoryTotalsDTO struct {
	Totals      map[string]string `json:"totals"`
	Approximate bool              `json:"approximate"`
}

// DayTotalDTO is the single-day spend response.
type DayTotalDTO struct {
	Date        string `json:"date"`
	Total       string `json:"total"`
	Approximate bool   `json:"approximate"`
}

// SeriesDTO represents a recurring series.
type SeriesDTO struct {
	ID          string `json:"id"`
	Frequency   string `json:"frequency"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Kind        string `json:"kind"`
	CategoryID  string `json:"category_id,omitempty"`
	AccountID   string `json:"account_id"`
	StartDate   string `json:"start_date"`
	Description string `json:"description,omitempty"`
	Active      bool   `json:"active"`
}

// CreateSeriesRequest registers a recurring series.
type CreateSeriesRequest struct {
	Frequency   string `json:"frequency"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Kind        string `json:"kind,omitempty"`
	CategoryID  string `json:"category_id,omitempty"`
	AccountID   string `json:"account_id"`
	StartDate   string `json:"start_date"`
	Description string `json:"description,omitempty"`
}

// StopSeriesRequest deactivates a series from a given date.
type StopSeriesRequest struct {
	From string `json:"from"` // "2006-01-02"; future materialized records after this are deleted
}

// InterestPolicyDTO represents a deposit interest policy.
type InterestPolicyDTO struct {
	AccountID  string `json:"account_id"`
	AnnualRate string `json:"annual_rate"`
}

// InterestPolicyRequest configures interest for an account.
type InterestPolicyRequest struct {
	AnnualRate string `json:"annual_rate"` // Fraction, e.g. "0.145" for 14.5% p.a.
}

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toAccountDTO(acc finance.Account) AccountDTO {
	dto := AccountDTO{
		ID:       string(acc.ID),
		Name:     acc.Name,
		Currency: string(acc.Currency),
		Balance:  acc.Balance.String(),
		Mode:     string(acc.Mode),
	}
	if acc.InitialBalance != nil {
		s := acc.InitialBalance.String()
		dto.InitialBalance = &s
	}
	return dto
}

func toTransactionDTO(tx finance.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:            string(tx.ID),
		Date:          tx.Date,
		Amount:        tx.Amount.Value.String(),
		Currency:      string(tx.Amount.Currency),
		Kind:          string(tx.Kind),
		SourceAccount: string(tx.SourceAccount),
		TargetAccount: string(tx.TargetAccount),
		CategoryID:    string(tx.CategoryID),
		SeriesID:      string(tx.SeriesID),
		Description:   tx.Description,
	}
	if !tx.CreatedAt.IsZero() {
		dto.CreatedAt = tx.CreatedAt.Format(time.RFC3339Nano)
	}
	if tx.SourceAmount != nil {
		amount := tx.SourceAmount.Value.String()
		currency := string(tx.SourceAmount.Currency)
		dto.SourceAmount = &amount
		dto.SourceCurrency = &currency
	}
	if tx.TargetAmount != nil {
		amount := tx.TargetAmount.Value.String()
		currency := string(tx.TargetAmount.Currency)
		dto.TargetAmount = &amount
		dto.TargetCurrency = &currency
	}
	return dto
}

func toSummaryDTO(s coordinator.Summary) SummaryDTO {
	return SummaryDTO{
		From:        s.Period.Start.String(),
		To:          s.Period.End.String(),
		Income:      s.Income.String(),
		Expense:     s.Expense.String(),
		Net:         s.Net.String(),
		Approximate: s.Approximate,
	}
}

func toSeriesDTO(s finance.RecurringSeries) SeriesDTO {
	return SeriesDTO{
		ID:          string(s.ID),
		Frequency:   string(s.Frequency),
		Amount:      s.Amount.Value.String(),
		Currency:    string(s.Amount.Currency),
		Kind:        string(s.Kind),
		CategoryID:  string(s.CategoryID),
		AccountID:   string(s.AccountID),
		StartDate:   s.StartDate,
		Description: s.Description,
		Active:      s.Active,
	}
}
