package orders

const (
	TopicOrderCreated  = "order.created"
	TopicStatusChanged = "order.status.changed"
	TopicPayment       = "order.payment"
	TopicReturn        = "order.return"
)

// Partition key = order number, so every event of one order stays ordered.
func PartitionKey(orderNumber string) []byte { return []byte(orderNumber) }
