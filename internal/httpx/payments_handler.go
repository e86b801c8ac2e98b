package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/trovashop/orders/internal/orders"
	"github.com/trovashop/orders/internal/payments"
)

type PaymentBridge interface {
	HandleCallback(ctx context.Context, cb payments.Callback) (*orders.Order, error)
}

type PaymentsHandler struct {
	Bridge PaymentBridge
	Log    *zap.Logger
}

func (h *PaymentsHandler) Register(r *chi.Mux) {
	r.Post("/payments/verify", h.verify)
}

func (h *PaymentsHandler) verify(w http.ResponseWriter, r *http.Request) {
	var cb payments.Callback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Bridge.HandleCallback(ctx, cb)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
