package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/trovashop/orders/internal/checkout"
	"github.com/trovashop/orders/internal/orders"
	"github.com/trovashop/orders/internal/redisx"
)

type OrderCreator interface {
	CreateOrder(ctx context.Context, userID string, cart checkout.Cart) (*orders.Order, error)
}

type OrderTransitioner interface {
	Transition(ctx context.Context, orderID string, t orders.Transition) (*orders.Order, error)
}

type OrderReader interface {
	Get(ctx context.Context, id string) (*orders.Order, error)
	SoftDelete(ctx context.Context, id string) error
}

type OrderLister interface {
	List(ctx context.Context, opts orders.ListOptions) (*orders.ListResult, error)
	CountByStatus(ctx context.Context) (map[orders.Status]int64, error)
}

type OrdersHandler struct {
	Checkout OrderCreator
	Svc      OrderTransitioner
	Store    OrderReader
	Query    OrderLister
	Redis    *redis.Client // status cache; may be nil
	Log      *zap.Logger
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/stats", h.orderStats)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getOrderStatus)
	r.Post("/orders/{id}/ship", h.shipOrder)
	r.Post("/orders/{id}/deliver", h.deliverOrder)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Delete("/orders/{id}", h.deleteOrder)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	caller := callerOf(r)
	if caller.ID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing principal"})
		return
	}

	var cart checkout.Cart
	if err := json.NewDecoder(r.Body).Decode(&cart); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if cart.ExternalID == "" {
		cart.ExternalID = r.Header.Get("Idempotency-Key")
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// Fast-path replays through the redis idempotency key; the coordinator
	// still dedups against the database when the cache has expired.
	if cart.ExternalID != "" && h.Redis != nil {
		idemKey := fmt.Sprintf(redisx.KeyIdemOrderCreate, cart.ExternalID)
		if orderID, err := h.Redis.Get(ctx, idemKey).Result(); err == nil && orderID != "" {
			if o, err := h.Store.Get(ctx, orderID); err == nil {
				writeJSON(w, http.StatusOK, o)
				return
			}
		}
	}

	o, err := h.Checkout.CreateOrder(ctx, caller.ID, cart)
	if err != nil {
		writeDomainErr(w, err)
		return
	}

	if cart.ExternalID != "" && h.Redis != nil {
		idemKey := fmt.Sprintf(redisx.KeyIdemOrderCreate, cart.ExternalID)
		_ = h.Redis.Set(ctx, idemKey, o.ID, redisx.TTLIdempotency).Err()
	}
	h.cacheStatus(ctx, o)

	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Store.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	caller := callerOf(r)
	if !caller.admin() && o.UserID != caller.ID {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// getOrderStatus serves the lightweight polling endpoint from the redis
// cache, falling back to the database.
func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.Redis != nil {
		key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	o, err := h.Store.Get(ctx, orderID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, statusBody(o))
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	caller := callerOf(r)
	q := r.URL.Query()

	opts := orders.ListOptions{
		Status:        orders.Status(q.Get("status")),
		PaymentStatus: orders.PaymentStatus(q.Get("payment_status")),
		UserID:        q.Get("user_id"),
	}
	opts.Page, _ = strconv.Atoi(q.Get("page"))
	opts.Limit, _ = strconv.Atoi(q.Get("limit"))
	if !caller.admin() {
		opts.UserID = caller.ID
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	res, err := h.Query.List(ctx, opts)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *OrdersHandler) orderStats(w http.ResponseWriter, r *http.Request) {
	if !callerOf(r).admin() {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "admin only"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	counts, err := h.Query.CountByStatus(ctx)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (h *OrdersHandler) shipOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TrackingNumber string `json:"tracking_number"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	h.transition(w, r, orders.Transition{Kind: orders.TransitionShip, TrackingNumber: req.TrackingNumber}, true)
}

func (h *OrdersHandler) deliverOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, orders.Transition{Kind: orders.TransitionDeliver}, true)
}

// cancelOrder is open to the order's owner as well as admins; a non-admin
// caller must own the order, and a miss is reported as not-found so the
// route does not leak which orders exist.
func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	if caller := callerOf(r); !caller.admin() {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		o, err := h.Store.Get(ctx, chi.URLParam(r, "id"))
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		if caller.ID == "" || o.UserID != caller.ID {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
	}

	var req struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	h.transition(w, r, orders.Transition{Kind: orders.TransitionCancel, CancellationReason: req.Reason}, false)
}

func (h *OrdersHandler) transition(w http.ResponseWriter, r *http.Request, t orders.Transition, adminOnly bool) {
	if adminOnly && !callerOf(r).admin() {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "admin only"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Svc.Transition(ctx, chi.URLParam(r, "id"), t)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	if !callerOf(r).admin() {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "admin only"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.Store.SoftDelete(ctx, chi.URLParam(r, "id")); err != nil {
		writeDomainErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func statusBody(o *orders.Order) map[string]any {
	return map[string]any{
		"order_number":   o.OrderNumber,
		"status":         o.Status,
		"payment_status": o.PaymentStatus,
	}
}

func (h *OrdersHandler) cacheStatus(ctx context.Context, o *orders.Order) {
	if h.Redis == nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, o.ID)
	b, _ := json.Marshal(statusBody(o))
	_ = h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
}
