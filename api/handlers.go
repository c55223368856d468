/*
handlers.go - HTTP handlers for the ledger engine

PURPOSE:
  Translates HTTP requests into coordinator and recurring-engine calls.
  The handlers own no business logic: validation, balance updates, cache
  invalidation and notification all happen inside the coordinator.

ERROR MAPPING:
  finance.IsClientError -> 400
  finance.IsNotFound    -> 404
  finance.IsProtected   -> 409
  anything else         -> 500

SEE ALSO:
  - server.go: Route wiring
  - dto.go: Request/response shapes
*/
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/coordinator"
	"github.com/warp/ledger-engine/deposit"
	"github.com/warp/ledger-engine/finance"
	"github.com/warp/ledger-engine/recurring"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Coord     *coordinator.Coordinator
	Recurring *recurring.Engine
	Deposits  *deposit.Engine
}

func NewHandler(coord *coordinator.Coordinator, rec *recurring.Engine, dep *deposit.Engine) *Handler {
	return &Handler{Coord: coord, Recurring: rec, Deposits: dep}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns every registered account with its current balance.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts := h.Coord.Accounts()
	dtos := make([]AccountDTO, len(accounts))
	for i, acc := range accounts {
		dtos[i] = toAccountDTO(acc)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAccount returns a single account.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := finance.AccountID(chi.URLParam(r, "id"))
	acc, ok := h.Coord.Account(id)
	if !ok {
		writeError(w, http.StatusNotFound, "account not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acc))
}

// CreateAccount registers a new account.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	acc := finance.Account{
		ID:       finance.AccountID(req.ID),
		Name:     req.Name,
		Currency: finance.Currency(req.Currency),
		Mode:     finance.BalanceMode(req.Mode),
	}
	if req.InitialBalance != nil {
		value, err := decimal.NewFromString(*req.InitialBalance)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid initial balance", err)
			return
		}
		acc.InitialBalance = &value
	}
	if req.Balance != nil {
		value, err := decimal.NewFromString(*req.Balance)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid balance", err)
			return
		}
		acc.Balance = value
	}

	if err := h.Coord.RegisterAccount(r.Context(), acc); err != nil {
		writeDomainError(w, err)
		return
	}
	created, _ := h.Coord.Account(acc.ID)
	writeJSON(w, http.StatusCreated, toAccountDTO(created))
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// ListTransactions returns the full ledger in order.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txs := h.Coord.Transactions()
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AddTransaction adds an expense or income record.
func (h *Handler) AddTransaction(w http.ResponseWriter, r *http.Request) {
	tx, ok := h.decodeTransaction(w, r)
	if !ok {
		return
	}
	created, err := h.Coord.Add(r.Context(), tx)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(created))
}

// UpdateTransaction replaces an existing record's fields.
func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	tx, ok := h.decodeTransaction(w, r)
	if !ok {
		return
	}
	tx.ID = finance.TransactionID(chi.URLParam(r, "id"))
	if err := h.Coord.Update(r.Context(), tx); err != nil {
		writeDomainError(w, err)
		return
	}
	updated, _ := h.Coord.Transaction(tx.ID)
	writeJSON(w, http.StatusOK, toTransactionDTO(updated))
}

// DeleteTransaction removes a record and reverses its balance effects.
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := finance.TransactionID(chi.URLParam(r, "id"))
	if err := h.Coord.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Transfer moves money between two accounts.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount", err)
		return
	}

	tx, err := h.Coord.Transfer(r.Context(), coordinator.TransferInput{
		From:        finance.AccountID(req.From),
		To:          finance.AccountID(req.To),
		Amount:      finance.Money{Value: amount, Currency: finance.Currency(req.Currency)},
		Date:        req.Date,
		Description: req.Description,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// =============================================================================
// INTEREST POLICY HANDLERS
// =============================================================================

// SetInterestPolicy configures monthly-compounding interest for an account.
func (h *Handler) SetInterestPolicy(w http.ResponseWriter, r *http.Request) {
	id := finance.AccountID(chi.URLParam(r, "id"))

	var req InterestPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	rate, err := decimal.NewFromString(req.AnnualRate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid annual rate", err)
		return
	}

	if err := h.Deposits.SetPolicy(deposit.MonthlyCompounding(id, rate)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, InterestPolicyDTO{
		AccountID:  string(id),
		AnnualRate: rate.String(),
	})
}

// RemoveInterestPolicy stops future interest accrual for an account.
func (h *Handler) RemoveInterestPolicy(w http.ResponseWriter, r *http.Request) {
	h.Deposits.RemovePolicy(finance.AccountID(chi.URLParam(r, "id")))
	w.WriteHeader(http.StatusNoContent)
}

// ListInterestPolicies returns every configured interest policy.
func (h *Handler) ListInterestPolicies(w http.ResponseWriter, r *http.Request) {
	policies := h.Deposits.Policies()
	dtos := make([]InterestPolicyDTO, len(policies))
	for i, p := range policies {
		dtos[i] = InterestPolicyDTO{
			AccountID:  string(p.AccountID),
			AnnualRate: p.AnnualRate.String(),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// GetSummary returns the cached period summary. Query: from, to.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	period, ok := parsePeriod(w, r)
	if !ok {
		return
	}
	summary, err := h.Coord.Summary(period)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(summary))
}

// GetCategoryTotals returns per-category expense totals. Query: from, to.
func (h *Handler) GetCategoryTotals(w http.ResponseWriter, r *http.Request) {
	period, ok := parsePeriod(w, r)
	if !ok {
		return
	}
	breakdown, err := h.Coord.CategoryTotals(period)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := CategoryTotalsDTO{
		Totals:      make(map[string]string, len(breakdown.Totals)),
		Approximate: breakdown.Approximate,
	}
	for id, total := range breakdown.Totals {
		out.Totals[string(id)] = total.String()
	}
	writeJSON(w, http.StatusOK, out)
}

// GetDayTotal returns the total spent on one day.
func (h *Handler) GetDayTotal(w http.ResponseWriter, r *http.Request) {
	day, err := finance.ParseDay(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date", err)
		return
	}
	spend, err := h.Coord.DayTotal(day)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DayTotalDTO{
		Date:        day.String(),
		Total:       spend.Total.String(),
		Approximate: spend.Approximate,
	})
}

// RebuildBalances triggers the explicit full rebuild.
func (h *Handler) RebuildBalances(w http.ResponseWriter, r *http.Request) {
	if err := h.Coord.RebuildBalances(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// RECURRING HANDLERS
// =============================================================================

// ListSeries returns every recurring series.
func (h *Handler) ListSeries(w http.ResponseWriter, r *http.Request) {
	series := h.Recurring.Series()
	dtos := make([]SeriesDTO, len(series))
	for i, s := range series {
		dtos[i] = toSeriesDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateSeries registers a recurring series template.
func (h *Handler) CreateSeries(w http.ResponseWriter, r *http.Request) {
	var req CreateSeriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount", err)
		return
	}

	series, err := h.Recurring.AddSeries(r.Context(), finance.RecurringSeries{
		Frequency:   finance.Frequency(req.Frequency),
		Amount:      finance.Money{Value: amount, Currency: finance.Currency(req.Currency)},
		Kind:        finance.TransactionKind(req.Kind),
		CategoryID:  finance.CategoryID(req.CategoryID),
		AccountID:   finance.AccountID(req.AccountID),
		StartDate:   req.StartDate,
		Description: req.Description,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSeriesDTO(series))
}

// GetProjection returns existing plus synthetic future transactions for a
// series. Query: months (default 12).
func (h *Handler) GetProjection(w http.ResponseWriter, r *http.Request) {
	id := finance.SeriesID(chi.URLParam(r, "id"))
	months := 12
	if raw := r.URL.Query().Get("months"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "invalid months", err)
			return
		}
		months = parsed
	}

	txs, err := h.Recurring.Projected(r.Context(), id, months)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// StopSeries deactivates a series and deletes its future materialized
// transactions.
func (h *Handler) StopSeries(w http.ResponseWriter, r *http.Request) {
	id := finance.SeriesID(chi.URLParam(r, "id"))

	var req StopSeriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	from := finance.Today()
	if req.From != "" {
		parsed, err := finance.ParseDay(req.From)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from date", err)
			return
		}
		from = parsed
	}

	if err := h.Recurring.StopSeries(r.Context(), id, from); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) decodeTransaction(w http.ResponseWriter, r *http.Request) (finance.Transaction, bool) {
	var req MutateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return finance.Transaction{}, false
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount", err)
		return finance.Transaction{}, false
	}

	return finance.Transaction{
		Date:          req.Date,
		Amount:        finance.Money{Value: amount, Currency: finance.Currency(req.Currency)},
		Kind:          finance.TransactionKind(req.Kind),
		SourceAccount: finance.AccountID(req.SourceAccount),
		CategoryID:    finance.CategoryID(req.CategoryID),
		Description:   req.Description,
	}, true
}

func parsePeriod(w http.ResponseWriter, r *http.Request) (finance.Period, bool) {
	from, err := finance.ParseDay(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from date", err)
		return finance.Period{}, false
	}
	to, err := finance.ParseDay(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to date", err)
		return finance.Period{}, false
	}
	return finance.Period{Start: from, End: to}, true
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case finance.IsProtected(err):
		writeError(w, http.StatusConflict, "protected transaction", err)
	case finance.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not found", err)
	case finance.IsClientError(err):
		writeError(w, http.StatusBadRequest, "invalid request", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
