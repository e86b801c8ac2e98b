package orders

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Address is a snapshot taken at order time, not a live reference.
type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Phone      string `json:"phone"`
}

// OrderItem snapshots product data at order time; later catalog edits never
// change the name or price recorded here.
type OrderItem struct {
	ID         string `json:"id"`
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Qty        int    `json:"qty"`
	Size       string `json:"size"`
	Color      string `json:"color,omitempty"`
	ImageURL   string `json:"image_url,omitempty"`
}

type Order struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	ExternalID  string `json:"external_id,omitempty"`
	UserID      string `json:"user_id"`

	Items           []OrderItem `json:"items"`
	ShippingAddress Address     `json:"shipping_address"`

	// total = subtotal + shipping + tax, fixed at creation.
	SubtotalCents int64 `json:"subtotal_cents"`
	ShippingCents int64 `json:"shipping_cents"`
	TaxCents      int64 `json:"tax_cents"`
	TotalCents    int64 `json:"total_cents"`

	PaymentMethod PaymentMethod `json:"payment_method"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	PaymentRef    string        `json:"payment_ref,omitempty"`
	Status        Status        `json:"status"`

	TrackingNumber     string     `json:"tracking_number,omitempty"`
	ShippedAt          *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt        *time.Time `json:"delivered_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`

	IsDeleted bool  `json:"-"`
	Version   int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewOrderNumber generates the customer-facing identifier, unique and
// immutable for the life of the order.
func NewOrderNumber() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "ORD-" + raw[:12]
}
