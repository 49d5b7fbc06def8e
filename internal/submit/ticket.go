// Package submit hands confirmed carts to the kitchen. Every backend
// implements order.Submitter and ships the same Ticket envelope.
package submit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/fuua/internal/obs"
	"github.com/noah-isme/fuua/internal/order"
	"github.com/noah-isme/fuua/internal/pricing"
)

// Task names shared by the submitters and the kitchen worker.
const (
	QueueKind      = "kitchen-ticket"
	AsynqTaskType  = "kitchen:ticket"
	AsynqQueueName = "kitchen"
)

var nopLogger = zerolog.Nop()

// Ticket is the wire form of a submitted order.
type Ticket struct {
	ID          string                `json:"id"`
	SessionID   string                `json:"sessionId,omitempty"`
	Wraps       []order.ConfirmedWrap `json:"wraps"`
	Total       pricing.Money         `json:"total"`
	SubmittedAt time.Time             `json:"submittedAt"`
}

type ticketKey struct{}

// NewTicket builds a ticket for wraps, tagging it with the session on ctx.
func NewTicket(ctx context.Context, wraps []order.ConfirmedWrap) Ticket {
	if wraps == nil {
		wraps = []order.ConfirmedWrap{}
	}
	var total pricing.Money
	for _, w := range wraps {
		total += w.Total
	}
	return Ticket{
		ID:          uuid.NewString(),
		SessionID:   obs.SessionIDFromContext(ctx),
		Wraps:       wraps,
		Total:       total,
		SubmittedAt: time.Now().UTC(),
	}
}

// WithTicket pins a ticket on ctx so fan-out backends share one id.
func WithTicket(ctx context.Context, t Ticket) context.Context {
	return context.WithValue(ctx, ticketKey{}, t)
}

// TicketFor returns the ticket pinned on ctx or builds a new one.
func TicketFor(ctx context.Context, wraps []order.ConfirmedWrap) Ticket {
	if t, ok := ctx.Value(ticketKey{}).(Ticket); ok {
		return t
	}
	return NewTicket(ctx, wraps)
}

// Encode marshals the ticket.
func (t Ticket) Encode() ([]byte, error) { return json.Marshal(t) }

// DecodeTicket parses a ticket produced by Encode.
func DecodeTicket(data []byte) (Ticket, error) {
	var t Ticket
	if err := json.Unmarshal(data, &t); err != nil {
		return Ticket{}, err
	}
	return t, nil
}

func loggerFor(ctx context.Context, fallback *zerolog.Logger, component string) zerolog.Logger {
	base := fallback
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		base = l
	}
	if base == nil {
		base = &nopLogger
	}
	return base.With().Str("component", component).Logger()
}
