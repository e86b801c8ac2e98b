package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/trovashop/orders/internal/returns"
)

type ReturnService interface {
	Create(ctx context.Context, userID, orderID string, typ returns.Type, reason string) (*returns.ReturnRequest, error)
	Approve(ctx context.Context, id string) (*returns.ReturnRequest, error)
	Reject(ctx context.Context, id string) (*returns.ReturnRequest, error)
	PickUp(ctx context.Context, id string) (*returns.ReturnRequest, error)
	Complete(ctx context.Context, id string) (*returns.ReturnRequest, error)
}

type ReturnsHandler struct {
	Svc ReturnService
	Log *zap.Logger
}

func (h *ReturnsHandler) Register(r *chi.Mux) {
	r.Post("/returns", h.createReturn)
	r.Post("/returns/{id}/approve", h.decide((ReturnService).Approve))
	r.Post("/returns/{id}/reject", h.decide((ReturnService).Reject))
	r.Post("/returns/{id}/pickup", h.decide((ReturnService).PickUp))
	r.Post("/returns/{id}/complete", h.decide((ReturnService).Complete))
}

func (h *ReturnsHandler) createReturn(w http.ResponseWriter, r *http.Request) {
	caller := callerOf(r)
	if caller.ID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing principal"})
		return
	}

	var req struct {
		OrderID string       `json:"order_id"`
		Type    returns.Type `json:"type"`
		Reason  string       `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rr, err := h.Svc.Create(ctx, caller.ID, req.OrderID, req.Type, req.Reason)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rr)
}

// decide wraps the four admin decisions, which differ only in the service
// method they call.
func (h *ReturnsHandler) decide(op func(ReturnService, context.Context, string) (*returns.ReturnRequest, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !callerOf(r).admin() {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "admin only"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		rr, err := op(h.Svc, ctx, chi.URLParam(r, "id"))
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rr)
	}
}
