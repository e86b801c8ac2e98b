package returns

import "time"

type Type string

const (
	TypeRefund   Type = "refund"
	TypeExchange Type = "exchange"
)

type Status string

const (
	StatusRequested Status = "requested"
	StatusApproved  Status = "approved"
	StatusPickedUp  Status = "picked_up"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
)

var validNext = map[Status]map[Status]bool{
	StatusRequested: {StatusApproved: true, StatusRejected: true},
	StatusApproved:  {StatusPickedUp: true, StatusRejected: true},
	StatusPickedUp:  {StatusCompleted: true},
	StatusCompleted: {},
	StatusRejected:  {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

type ReturnRequest struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	UserID      string    `json:"user_id"`
	Type        Type      `json:"type"`
	Status      Status    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
