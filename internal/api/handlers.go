/**
 * @description
 * This file contains the HTTP handlers for the treasury-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * Every domain sentinel maps to one HTTP status in statusForError, so clients can
 * rely on status codes and the body's error string stays informational.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/vestra/treasury-service/internal/app"
	"github.com/vestra/treasury-service/internal/domain"
)

// TreasuryHandlers holds the application service that handlers will use.
type TreasuryHandlers struct {
	service *app.Service
}

// NewTreasuryHandlers creates a new instance of TreasuryHandlers.
func NewTreasuryHandlers(service *app.Service) *TreasuryHandlers {
	return &TreasuryHandlers{service: service}
}

type purchaseRequest struct {
	Tier       string     `json:"tier"`
	Amount     int64      `json:"amount"`
	AltAmount  int64      `json:"alt_amount"`
	OrderID    string     `json:"order_id"`
	ReferrerID *uuid.UUID `json:"referrer_id,omitempty"`
}

type purchaseResponse struct {
	PurchaseID string `json:"purchase_id"`
	OrderID    string `json:"order_id"`
	Tier       string `json:"tier"`
	Amount     int64  `json:"amount"`
	AltAmount  int64  `json:"alt_amount,omitempty"`
	Commission int64  `json:"commission,omitempty"`
}

type batchDepositRequest struct {
	AccountID uuid.UUID `json:"account_id"`
	Amounts   []int64   `json:"amounts"`
	OrderIDs  []string  `json:"order_ids"`
}

type amountRequest struct {
	Amount int64 `json:"amount"`
}

type rateRequest struct {
	RateBps int64 `json:"rate_bps"`
}

type priceRequest struct {
	Rate int64 `json:"rate"`
}

type referrerRequest struct {
	ReferrerID uuid.UUID `json:"referrer_id"`
}

type rewardPeriodRequest struct {
	TotalReward int64 `json:"total_reward"`
}

// statusForError maps domain sentinels to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrAccountNotFound), errors.Is(err, domain.ErrRewardPeriodNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateOrder), errors.Is(err, domain.ErrRewardAlreadyClaimed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPriceExpired):
		return http.StatusPreconditionFailed
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrPaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrInvalidInvestmentAmount),
		errors.Is(err, domain.ErrInvalidProductType),
		errors.Is(err, domain.ErrBatchTooLarge),
		errors.Is(err, domain.ErrBatchShapeMismatch),
		errors.Is(err, domain.ErrInvalidReferrer),
		errors.Is(err, domain.ErrCommissionRateTooHigh),
		errors.Is(err, domain.ErrInvalidPrice),
		errors.Is(err, domain.ErrAmountOverflow),
		errors.Is(err, domain.ErrInvalidWithdrawAmount),
		errors.Is(err, domain.ErrInvalidDailyLimit),
		errors.Is(err, domain.ErrExceedsWithdrawLimit):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *TreasuryHandlers) writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		log.Printf("level=error component=api endpoint=%s err=%v", endpoint, err)
		h.writeError(w, status, "Internal server error")
		return
	}
	h.writeError(w, status, err.Error())
}

func (h *TreasuryHandlers) caller(w http.ResponseWriter, r *http.Request) (domain.Caller, bool) {
	caller, ok := GetCaller(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get caller from context")
	}
	return caller, ok
}

// =============================================================================
// Investment ledger
// =============================================================================

// PurchaseHandler handles fiat-denominated investment purchases.
func (h *TreasuryHandlers) PurchaseHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	receipt, err := h.service.Purchase(r.Context(), caller, domain.Tier(req.Tier), req.Amount, req.OrderID, req.ReferrerID)
	if err != nil {
		h.writeServiceError(w, "purchase", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, purchaseResponse{
		PurchaseID: receipt.Purchase.ID.String(),
		OrderID:    receipt.Purchase.OrderID,
		Tier:       string(receipt.Purchase.Tier),
		Amount:     receipt.Purchase.Amount,
		Commission: receipt.Commission,
	})
}

// PurchaseWithAltHandler handles purchases funded in the alternative asset.
func (h *TreasuryHandlers) PurchaseWithAltHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	receipt, err := h.service.PurchaseWithAlt(r.Context(), caller, domain.Tier(req.Tier), req.AltAmount, req.OrderID, req.ReferrerID)
	if err != nil {
		h.writeServiceError(w, "purchase_alt", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, purchaseResponse{
		PurchaseID: receipt.Purchase.ID.String(),
		OrderID:    receipt.Purchase.OrderID,
		Tier:       string(receipt.Purchase.Tier),
		Amount:     receipt.Purchase.Amount,
		AltAmount:  receipt.Purchase.AltAmount,
		Commission: receipt.Commission,
	})
}

// BatchDepositHandler applies a capped batch of deposits atomically.
func (h *TreasuryHandlers) BatchDepositHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req batchDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	total, err := h.service.BatchDeposit(r.Context(), caller, req.AccountID, req.Amounts, req.OrderIDs)
	if err != nil {
		h.writeServiceError(w, "batch_deposit", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"account_id": req.AccountID,
		"entries":    len(req.Amounts),
		"total":      total,
	})
}

// ListPurchasesHandler returns recent purchases for an account.
func (h *TreasuryHandlers) ListPurchasesHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	accountID, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid account ID format")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	purchases, err := h.service.ListPurchases(r.Context(), caller, accountID, limit)
	if err != nil {
		h.writeServiceError(w, "list_purchases", err)
		return
	}
	if purchases == nil {
		purchases = []domain.Purchase{}
	}
	h.writeJSON(w, http.StatusOK, purchases)
}

// GetAccountHandler returns one account's ledger view.
func (h *TreasuryHandlers) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	accountID, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid account ID format")
		return
	}

	account, err := h.service.Account(r.Context(), caller, accountID)
	if err != nil {
		h.writeServiceError(w, "get_account", err)
		return
	}
	h.writeJSON(w, http.StatusOK, account)
}

// =============================================================================
// Referral commissions
// =============================================================================

// SetReferrerHandler binds the caller's account to a referrer.
func (h *TreasuryHandlers) SetReferrerHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req referrerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := h.service.SetReferrer(r.Context(), caller, req.ReferrerID); err != nil {
		h.writeServiceError(w, "set_referrer", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"referrer_id": req.ReferrerID.String()})
}

// ClaimCommissionHandler pays out the caller's accrued referral commission.
func (h *TreasuryHandlers) ClaimCommissionHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	paid, err := h.service.ClaimCommission(r.Context(), caller)
	if err != nil {
		h.writeServiceError(w, "claim_commission", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"paid": paid})
}

// SetCommissionRateHandler updates the global referral rate.
func (h *TreasuryHandlers) SetCommissionRateHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req rateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := h.service.SetCommissionRate(r.Context(), caller, req.RateBps); err != nil {
		h.writeServiceError(w, "set_commission_rate", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"rate_bps": req.RateBps})
}

// =============================================================================
// Price oracle
// =============================================================================

// UpdatePriceHandler stores a fresh conversion rate.
func (h *TreasuryHandlers) UpdatePriceHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req priceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := h.service.UpdatePrice(r.Context(), caller, req.Rate); err != nil {
		h.writeServiceError(w, "update_price", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"rate": req.Rate})
}

// GetPriceHandler returns the stored quote and its staleness verdict.
func (h *TreasuryHandlers) GetPriceHandler(w http.ResponseWriter, r *http.Request) {
	quote, err := h.service.CurrentQuote(r.Context())
	if err != nil {
		h.writeServiceError(w, "get_price", err)
		return
	}
	h.writeJSON(w, http.StatusOK, quote)
}

// ConvertPreviewHandler converts an alt amount under the current quote without
// touching the ledger.
func (h *TreasuryHandlers) ConvertPreviewHandler(w http.ResponseWriter, r *http.Request) {
	altAmount, err := strconv.ParseInt(r.URL.Query().Get("alt_amount"), 10, 64)
	if err != nil || altAmount <= 0 {
		h.writeError(w, http.StatusBadRequest, "alt_amount must be a positive integer")
		return
	}

	converted, err := h.service.ConvertPreview(r.Context(), altAmount)
	if err != nil {
		h.writeServiceError(w, "convert_preview", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"alt_amount": altAmount, "converted": converted})
}

// =============================================================================
// Reward periods
// =============================================================================

// StartRewardPeriodHandler opens the next distribution period.
func (h *TreasuryHandlers) StartRewardPeriodHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req rewardPeriodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	period, err := h.service.StartRewardPeriod(r.Context(), caller, req.TotalReward)
	if err != nil {
		h.writeServiceError(w, "start_reward_period", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, period)
}

// GetRewardPeriodHandler returns one period's parameters.
func (h *TreasuryHandlers) GetRewardPeriodHandler(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseInt(chi.URLParam(r, "index"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid period index")
		return
	}

	period, err := h.service.RewardPeriod(r.Context(), index)
	if err != nil {
		h.writeServiceError(w, "get_reward_period", err)
		return
	}
	h.writeJSON(w, http.StatusOK, period)
}

// ClaimRewardHandler pays out the caller's pro-rata share of one period.
func (h *TreasuryHandlers) ClaimRewardHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	index, err := strconv.ParseInt(chi.URLParam(r, "index"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid period index")
		return
	}

	claim, err := h.service.ClaimReward(r.Context(), caller, index)
	if err != nil {
		h.writeServiceError(w, "claim_reward", err)
		return
	}
	h.writeJSON(w, http.StatusOK, claim)
}

// =============================================================================
// Treasury administration
// =============================================================================

// GetTreasuryHandler returns the aggregate treasury state.
func (h *TreasuryHandlers) GetTreasuryHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	treasury, err := h.service.Treasury(r.Context(), caller)
	if err != nil {
		h.writeServiceError(w, "get_treasury", err)
		return
	}
	h.writeJSON(w, http.StatusOK, treasury)
}

// WithdrawHandler debits treasury funds inside the rolling daily limit.
func (h *TreasuryHandlers) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	window, err := h.service.Withdraw(r.Context(), caller, req.Amount)
	if err != nil {
		h.writeServiceError(w, "withdraw", err)
		return
	}
	h.writeJSON(w, http.StatusOK, window)
}

// SetDailyLimitHandler updates the rolling window cap.
func (h *TreasuryHandlers) SetDailyLimitHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := h.service.SetDailyLimit(r.Context(), caller, req.Amount); err != nil {
		h.writeServiceError(w, "set_daily_limit", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"daily_limit": req.Amount})
}

// EmergencyWithdrawHandler drains the treasury. Owner only.
func (h *TreasuryHandlers) EmergencyWithdrawHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	drained, err := h.service.EmergencyWithdraw(r.Context(), caller)
	if err != nil {
		h.writeServiceError(w, "emergency_withdraw", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"drained": drained})
}

// PauseHandler halts all mutating treasury operations.
func (h *TreasuryHandlers) PauseHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	if err := h.service.Pause(r.Context(), caller); err != nil {
		h.writeServiceError(w, "pause", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

// UnpauseHandler resumes normal operation.
func (h *TreasuryHandlers) UnpauseHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	if err := h.service.Unpause(r.Context(), caller); err != nil {
		h.writeServiceError(w, "unpause", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

// =============================================================================
// Response helpers
// =============================================================================

// writeJSON is a helper for writing JSON responses.
func (h *TreasuryHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *TreasuryHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
