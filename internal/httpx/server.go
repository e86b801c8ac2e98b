package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/trovashop/orders/internal/catalog"
	"github.com/trovashop/orders/internal/checkout"
	"github.com/trovashop/orders/internal/orders"
	"github.com/trovashop/orders/internal/payments"
	"github.com/trovashop/orders/internal/returns"
	"github.com/trovashop/orders/internal/stock"
)

func NewRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDomainErr maps core errors onto HTTP. Insufficient stock and rejected
// transitions return enough detail for the client to reconcile without
// re-polling.
func writeDomainErr(w http.ResponseWriter, err error) {
	var insufficient *stock.InsufficientStockError
	var invalid *orders.InvalidTransitionError

	switch {
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      "insufficient_stock",
			"product_id": insufficient.ProductID,
			"size":       insufficient.Size,
			"requested":  insufficient.Requested,
			"available":  insufficient.Available,
		})
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":         "invalid_transition",
			"current_state": invalid.Current,
			"target_state":  invalid.Target,
		})
	case errors.Is(err, orders.ErrNotFound), errors.Is(err, returns.ErrNotFound),
		errors.Is(err, catalog.ErrProductNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, orders.ErrConcurrentModification):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "concurrent modification, retry"})
	case errors.Is(err, payments.ErrVerificationFailed):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "payment verification failed"})
	case errors.Is(err, checkout.ErrEmptyCart), errors.Is(err, stock.ErrUnknownProduct):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

// The HTTP layer trusts the authenticated principal supplied by the auth
// collaborator in headers; roles are not re-checked inside the core.
type principal struct {
	ID   string
	Role string
}

func callerOf(r *http.Request) principal {
	return principal{ID: r.Header.Get("X-User-Id"), Role: r.Header.Get("X-User-Role")}
}

func (p principal) admin() bool {
	return p.Role == "admin" || p.Role == "super_admin"
}
