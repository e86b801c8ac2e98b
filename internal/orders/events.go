package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated  = "OrderCreated"
	EventStatusChanged = "OrderStatusChanged"
	EventPaymentUpdate = "OrderPaymentUpdated"
	EventReturnUpdate  = "OrderReturnUpdated"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order number
	Payload       json.RawMessage `json:"payload"`
}

// ---- payloads ----

type CreatedPayload struct {
	OrderID     string      `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	UserID      string      `json:"user_id"`
	Items       []OrderItem `json:"items"`
	TotalCents  int64       `json:"total_cents"`
}

type StatusChangedPayload struct {
	OrderID           string        `json:"order_id"`
	OrderNumber       string        `json:"order_number"`
	PrevStatus        Status        `json:"prev_status"`
	Status            Status        `json:"status"`
	PrevPaymentStatus PaymentStatus `json:"prev_payment_status"`
	PaymentStatus     PaymentStatus `json:"payment_status"`
	Reason            string        `json:"reason,omitempty"`
}

type PaymentUpdatePayload struct {
	OrderID       string        `json:"order_id"`
	OrderNumber   string        `json:"order_number"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	PaymentRef    string        `json:"payment_ref,omitempty"`
}

type ReturnUpdatePayload struct {
	ReturnID    string `json:"return_id"`
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Type        string `json:"type"`
	Status      string `json:"status"`
}
