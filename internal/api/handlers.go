/**
 * @description
 * HTTP handlers for the savings-service. Each authenticated request resolves the Clerk
 * user to the internal user id and runs against that user's session.
 *
 * @notes
 * - Handlers only decode, call the engine and map errors; no business rules live here.
 * - Money values travel as decimal strings in both directions.
 */
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/transfa/savings-service/internal/app"
	"github.com/transfa/savings-service/internal/domain"
	"github.com/transfa/savings-service/internal/money"
	"github.com/transfa/savings-service/internal/store"
)

const (
	defaultTransactionLimit = 50
	maxTransactionLimit     = 200
)

// UserStore is the part of the repository the transport reads directly.
type UserStore interface {
	FindUserIDByClerkUserID(ctx context.Context, clerkUserID string) (string, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]domain.Transaction, error)
}

// MaturitySweeper runs one maturity sweep across all users.
type MaturitySweeper interface {
	RunMaturitySweep(ctx context.Context) (app.SweepResult, error)
}

// Handler holds the engine the handlers interact with.
type Handler struct {
	users    UserStore
	sessions *app.Sessions
	sweeper  MaturitySweeper
	now      func() time.Time
}

// NewHandler creates a new Handler.
func NewHandler(users UserStore, sessions *app.Sessions, sweeper MaturitySweeper) *Handler {
	return &Handler{
		users:    users,
		sessions: sessions,
		sweeper:  sweeper,
		now:      time.Now,
	}
}

type createDepositRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	DurationWeeks   int             `json:"duration_weeks"`
	PaymentMethodID string          `json:"payment_method_id"`
}

type settlePlanRequest struct {
	WithdrawAmount  decimal.Decimal `json:"withdraw_amount"`
	InvestAmount    decimal.Decimal `json:"invest_amount"`
	PaymentMethodID string          `json:"payment_method_id"`
}

type createInvestmentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type withdrawInvestmentRequest struct {
	PaymentMethodID string `json:"payment_method_id"`
}

type verifyBankAccountRequest struct {
	Amounts []decimal.Decimal `json:"amounts"`
}

// session resolves the authenticated user's session, writing the error response itself
// when that is not possible. The caller must call release once the request is done.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*app.Session, func(), bool) {
	clerkUserID, ok := GetClerkUserID(r.Context())
	if !ok || clerkUserID == "" {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return nil, nil, false
	}

	userID, err := h.users.FindUserIDByClerkUserID(r.Context(), clerkUserID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			respondWithError(w, http.StatusNotFound, "User not found")
			return nil, nil, false
		}
		log.Printf("level=error component=api msg=\"user lookup failed\" clerk_user_id=%s err=%v", clerkUserID, err)
		respondWithError(w, http.StatusInternalServerError, "Failed to resolve user")
		return nil, nil, false
	}

	session, release := h.sessions.Acquire(userID)
	return session, release, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func (h *Handler) handleListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	session, release, ok := h.session(w, r)
	if !ok {
		return
	}
	defer release()

	methods, err := session.Gateway.ListPaymentMethods(r.Context())
	if err != nil {
		respondWithServiceError(w, err, "list payment methods")
		return
	}
	if methods == nil {
		methods = []domain.PaymentMethod{}
	}
	respondWithJSON(w, http.StatusOK, methods)
}

func (h *Handler) handleConnectBankAccount(w http.ResponseWriter, r *http.Request) {
	session, release, ok := h.session(w, r)
	if !ok {
		return
	}
	defer release()

	var req domain.BankAccountDetails
	if !decodeJSON(w, r, &req) {
		return
	}

	method, err := session.Gateway.ConnectBankAccount(r.Context(), req)
	if err != nil {
		respondWithServiceError(w, err, "connect bank account")
		return
	}
	respondWithJSON(w, http.StatusCreated, method)
}

func (h *Handler) handleConnectDebitCard(w http.ResponseWriter, r *http.Request) {
	session, release, ok := h.session(w, r)
	if !ok {
		return
	}
	defer release()

	var req domain.DebitCardDetails
	if !decodeJSON(w, r, &req) {
		return
	}

	method, err := session.Gateway.ConnectDebitCard(r.Context(), req)
	if err != nil {
		respondWithServiceError(w, err, "connect debit card")
		return
	}
	respondWithJSON(w, http.StatusCreated, method)
}

func (h *Handler) handleVerifyBankAccount(w http.ResponseWriter, r *http.Request) {
	session, release, ok := h.session(w, r)
	if !ok {
		return
	}
	defer release()

	var req verifyBankAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Amounts) != 2 {
		respondWithError(w, http.StatusBadRequest, "Exactly two micro-deposit amounts are required")
		return
	}

	method, err := session.Gateway.VerifyBankAccount(r.Context(), chi.URLParam(r, "id"), [2]decimal.Decimal{req.Amounts[0], req.Amounts[1]})
	if err != nil {
		respondWithServiceError(w, err, "verify bank account")
		return
	}
	respondWithJSON(w, http.StatusOK, method)
}

func (h *Handler) handleSetDefaultPaymentMethod(w http.ResponseWriter, r *http.Request) {
	session, release, ok := h.session(w, r)
	if !ok {
		return
	}
	defer release()

	if err := session.Gateway.SetDefaultPaymentMethod(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondWithServiceError(w, err, "set default payment method")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCreateDeposit(w http.ResponseWriter, r *http.Request) {
	session, release, ok := h.session(w, r)
	if !ok {
		return
	}
	defer release()

	var req createDepositRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := session.Coordinator.StartSavingsPlan(r.Context(), req.Amount, req.DurationWeeks, strings.TrimSpace(req.PaymentMethodID))
	if err != nil {
		respondWithServiceError(w, err, "start savings plan")
		return
	}
	respondWithJSON(w, http.StatusCreated, result)
}

func (h *Handler) handleListPlans(w http.ResponseWriter, r *http.Request) {
	session, release, ok := h.session(w, r)
	if !ok {
		return
	}
	defer release()

	plans, err := session.Plans.ListPlans(r.Context())
	if err != nil {
		respondWithServiceError(w, err, "list plans")
		return
	}
	if plans == nil {
		plans = []domain.SavingsPlan{}
	}
	respondWithJSON(w, http.StatusOK, plans)
}

func (h *Handler) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	session, release, ok := h.session(w, r)
	if !ok {
		return
	}
	defer release()

	plan, err := session.Plans.GetPlan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithServiceError(w, err, "get plan")
		return
	}
	respondWithJSON(w, http.StatusOK, plan)
}

func (h *Handler) handleSettlePlan(w http.ResponseWriter, r *http.Request) {
	session, release, ok := h.session(w, r)
	if !ok {
		return
	}
	defer release()

	var req settlePlanRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := session.Coordinator.SettleMaturedPlan(r.Context(), chi.URLParam(r, "id"), req.WithdrawAmount, req.InvestAmount, strings.TrimSpace(req.PaymentMethodID))
	if err != nil {
		respondWithServiceError(w, err, "settle plan")
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleListInvestments(w http.ResponseWriter, r *http.Request) {
	session, release, ok := h.session(w, r)
	if !ok {
		return
	}
	defer release()

	investments, err := session.Ledger.ListInvestments(r.Context())
	if err != nil {
		respondWithServiceError(w, err, "list investments")
		return
	}
	if investments == nil {
		investments = []domain.Investment{}
	}
	respondWithJSON(w, http.StatusOK, investments)
}

func (h *Handler) handleCreateInvestment(w http.ResponseWriter, r *http.Request) {
	session, release, ok := h.session(w, r)
	if !ok {
		return
	}
	defer release()

	var req createInvestmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	inv, err := session.Coordinator.Invest(r.Context(), req.Amount)
	if err != nil {
		respondWithServiceError(w, err, "create investment")
		return
	}
	respondWithJSON(w, http.StatusCreated, inv)
}

func (h *Handler) handleWithdrawInvestment(w http.ResponseWriter, r *http.Request) {
	session, release, ok := h.session(w, r)
	if !ok {
		return
	}
	defer release()

	// The body is optional; without one the default payment method is used.
	var req withdrawInvestmentRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}

	result, err := session.Coordinator.WithdrawInvestment(r.Context(), chi.URLParam(r, "id"), strings.TrimSpace(req.PaymentMethodID))
	if err != nil {
		respondWithServiceError(w, err, "withdraw investment")
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	session, release, ok := h.session(w, r)
	if !ok {
		return
	}
	defer release()

	limit := defaultTransactionLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > maxTransactionLimit {
		limit = maxTransactionLimit
	}

	txs, err := h.users.ListTransactions(r.Context(), session.UserID(), limit)
	if err != nil {
		respondWithServiceError(w, err, "list transactions")
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	respondWithJSON(w, http.StatusOK, txs)
}

func (h *Handler) handleQuoteDeposit(w http.ResponseWriter, r *http.Request) {
	amount, err := money.Parse(r.URL.Query().Get("amount"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "amount must be a non-negative decimal")
		return
	}

	weeks := 10
	if raw := strings.TrimSpace(r.URL.Query().Get("weeks")); raw != "" {
		weeks, err = strconv.Atoi(raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "weeks must be an integer")
			return
		}
	}

	quote, err := app.QuoteDeposit(amount, weeks, h.now())
	if err != nil {
		respondWithServiceError(w, err, "quote deposit")
		return
	}
	respondWithJSON(w, http.StatusOK, quote)
}

func (h *Handler) handleRunMaturitySweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.sweeper.RunMaturitySweep(r.Context())
	if err != nil {
		log.Printf("level=error component=api msg=\"maturity sweep failed\" err=%v", err)
		respondWithError(w, http.StatusInternalServerError, "Maturity sweep failed")
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// statusForError maps engine errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, domain.ErrAmountMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrPaymentMethodNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrGateway), errors.Is(err, domain.ErrDepositFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondWithServiceError(w http.ResponseWriter, err error, action string) {
	if errors.Is(err, domain.ErrPlanNotCreated) {
		log.Printf("level=error component=api msg=\"deposit charged without plan\" action=%q err=%v", action, err)
		respondWithError(w, http.StatusInternalServerError, "Deposit was received but the savings plan could not be opened. Support has been notified.")
		return
	}
	code := statusForError(err)
	if code == http.StatusInternalServerError {
		log.Printf("level=error component=api msg=\"request failed\" action=%q err=%v", action, err)
		respondWithError(w, code, "Internal server error")
		return
	}
	if code >= http.StatusBadGateway {
		log.Printf("level=warn component=api msg=\"payment processor failure\" action=%q err=%v", action, err)
	}
	respondWithError(w, code, err.Error())
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithJSON writes JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
