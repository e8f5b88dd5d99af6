package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// AdminCredentials enable GET /api/donations. Leave empty to not register the route.
type AdminCredentials struct {
	User         string
	PasswordHash string
}

func NewRouter(h *DonationHandler, admin AdminCredentials) *mux.Router {
	router := mux.NewRouter()
	router.Use(RequestLogger)

	router.HandleFunc("/", Health).Methods("GET", "HEAD")

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/create-order", h.CreateOrder).Methods("POST")
	api.HandleFunc("/verify-payment", h.VerifyPayment).Methods("POST")
	api.HandleFunc("/store-donation", h.StoreDonation).Methods("POST")
	api.HandleFunc("/download-receipt", h.DownloadReceipt).Methods("POST")
	api.HandleFunc("/test-sheets", h.TestSheets).Methods("GET")

	if admin.User != "" && admin.PasswordHash != "" {
		api.Handle("/donations", AdminAuth(admin.User, admin.PasswordHash)(http.HandlerFunc(h.ListDonations))).Methods("GET")
	}
	return router
}
