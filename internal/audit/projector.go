// Package audit projects lifecycle events into an append-only trail for the
// admin surface. Events arrive at least once; the event-id primary key is
// the inbox dedup.
package audit

import (
	"context"
	"encoding/json"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/trovashop/orders/internal/orders"
	"github.com/trovashop/orders/internal/postgres"
)

type Projector struct {
	DB  postgres.DB
	Log *zap.Logger
}

// Handle is wired as the consumer handler for every lifecycle topic.
func (p *Projector) Handle(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// Poison message; log and commit past it.
		p.Log.Warn("unparseable event dropped", zap.Error(err))
		return nil
	}

	prev, curr := statuses(env)

	ct, err := p.DB.Exec(ctx, `
		INSERT INTO order_audit(event_id, order_number, event_type, prev_status, curr_status, occurred_at, payload)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (event_id) DO NOTHING`,
		env.EventID, env.CorrelationID, env.EventType, prev, curr, env.OccurredAt, []byte(env.Payload))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		p.Log.Debug("duplicate event skipped", zap.String("event_id", env.EventID))
	}
	return nil
}

func statuses(env orders.Envelope) (prev, curr string) {
	switch env.EventType {
	case orders.EventStatusChanged:
		var pl orders.StatusChangedPayload
		if err := json.Unmarshal(env.Payload, &pl); err == nil {
			return string(pl.PrevStatus), string(pl.Status)
		}
	case orders.EventOrderCreated:
		return "", string(orders.StatusPending)
	case orders.EventPaymentUpdate:
		var pl orders.PaymentUpdatePayload
		if err := json.Unmarshal(env.Payload, &pl); err == nil {
			return "", string(pl.PaymentStatus)
		}
	case orders.EventReturnUpdate:
		var pl orders.ReturnUpdatePayload
		if err := json.Unmarshal(env.Payload, &pl); err == nil {
			return "", pl.Status
		}
	}
	return "", ""
}
