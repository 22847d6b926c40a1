package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// sets up the API routes
func SetupRoutes(r *mux.Router, h *Handler) {
	r.Use(recoverPanics, logRequests)

	// Health check (check if API is working)
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)

	// Public routes
	public := r.PathPrefix("/api").Subrouter()
	public.HandleFunc("/signup", h.Signup).Methods(http.MethodPost)
	public.HandleFunc("/login", h.Login).Methods(http.MethodPost)

	// Authenticated routes
	private := r.PathPrefix("/api").Subrouter()
	private.Use(h.authenticate)
	private.HandleFunc("/logout", h.Logout).Methods(http.MethodPost)
	private.HandleFunc("/user", h.Profile).Methods(http.MethodGet)
	private.HandleFunc("/user/avatar", h.UpdateAvatar).Methods(http.MethodPost)
	private.HandleFunc("/transfer", h.Transfer).Methods(http.MethodPost)
	private.HandleFunc("/history", h.History).Methods(http.MethodGet)
	private.HandleFunc("/transaction/{id}/receipt", h.AttachReceipt).Methods(http.MethodPost)

	// Admin routes; the role check happens in the services
	private.HandleFunc("/admin/users", h.ListAccounts).Methods(http.MethodGet)
	private.HandleFunc("/admin/users", h.AdminCreateAccount).Methods(http.MethodPost)
	private.HandleFunc("/admin/users/{id}", h.UpdateStatus).Methods(http.MethodPut)
	private.HandleFunc("/admin/transactions", h.AdminCreateTransaction).Methods(http.MethodPost)
	private.HandleFunc("/admin/transactions", h.ListTransactions).Methods(http.MethodGet)
	if h.activity != nil {
		private.HandleFunc("/admin/activity", h.Activity).Methods(http.MethodGet)
	}
}
