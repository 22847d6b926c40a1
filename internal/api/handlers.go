package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/abkawan/nivalus-ledger/internal/db"
	"github.com/abkawan/nivalus-ledger/internal/models"
	"github.com/abkawan/nivalus-ledger/internal/service"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Handler is for handling api requests
type Handler struct {
	store        db.Store
	accounts     *service.AccountService
	transactions *service.TransactionService
	// nil when no activity archive is configured
	activity *service.ActivityService
}

func NewHandler(store db.Store, accounts *service.AccountService, transactions *service.TransactionService, activity *service.ActivityService) *Handler {
	return &Handler{
		store:        store,
		accounts:     accounts,
		transactions: transactions,
		activity:     activity,
	}
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("Failed to write response", zap.Error(err))
	}
}

// for error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// maxBodyBytes caps request bodies; avatars are the largest payload.
const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		respondError(w, http.StatusBadRequest, "invalid request payload")
		return false
	}
	return true
}

// queryInt parses a non-negative integer query parameter, falling back to def.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// handles health check
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		zap.L().Warn("Health check failed", zap.Error(err))
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handles public account creation
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	account, err := h.accounts.Signup(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, models.NewAccountResponse(account))
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.accounts.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if err := h.accounts.Logout(r.Context(), caller); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

// handles the caller's profile with recent transactions
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	profile, err := h.accounts.Profile(r.Context(), caller)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

func (h *Handler) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	var req models.UpdateAvatarRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	account, err := h.accounts.UpdateAvatar(r.Context(), caller, req.Avatar)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, models.NewAccountResponse(account))
}

// handles money transfer from the caller
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	var req models.TransferRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.transactions.ExecuteTransfer(r.Context(), caller, req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, models.NewTransferResponse(result))
}

// handles the caller's transaction history; no limit returns everything
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	txs, err := h.transactions.History(r.Context(), caller, queryInt(r, "limit", 0))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, models.NewTransactionResponses(txs))
}

func (h *Handler) AttachReceipt(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	var req models.ReceiptRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	tx, err := h.transactions.AttachReceipt(r.Context(), caller, mux.Vars(r)["id"], req.Receipt)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, models.NewTransactionResponse(tx))
}

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	accounts, err := h.accounts.ListAccounts(r.Context(), caller)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	response := make([]models.AccountResponse, 0, len(accounts))
	for _, a := range accounts {
		response = append(response, models.NewAccountResponse(a))
	}
	respondJSON(w, http.StatusOK, response)
}

func (h *Handler) AdminCreateAccount(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	var req models.CreateAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	account, err := h.accounts.AdminCreateAccount(r.Context(), caller, req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, models.NewAccountResponse(account))
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	var req models.UpdateStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	account, err := h.accounts.UpdateStatus(r.Context(), caller, mux.Vars(r)["id"], req.Status)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, models.NewAccountResponse(account))
}

func (h *Handler) AdminCreateTransaction(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	var req models.AdminTransactionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	tx, err := h.transactions.AdminCreateTransaction(r.Context(), caller, req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, models.NewTransactionResponse(tx))
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	txs, err := h.transactions.ListAll(r.Context(), caller, queryInt(r, "limit", 0))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, models.NewTransactionResponses(txs))
}

// handles the archived ledger activity feed
func (h *Handler) Activity(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	// default limit is set to 50
	events, err := h.activity.ListActivity(r.Context(), caller,
		r.URL.Query().Get("accountId"),
		queryInt(r, "limit", 50),
		queryInt(r, "offset", 0))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, events)
}
