package submit

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/fuua/internal/order"
	"github.com/noah-isme/fuua/internal/pricing"
)

// Log writes the order to the log and, when Out is set, prints the
// "Sending order" line a kiosk operator expects to see.
type Log struct {
	Out    io.Writer
	Logger *zerolog.Logger
}

// Submit implements order.Submitter. It never fails.
func (l Log) Submit(ctx context.Context, wraps []order.ConfirmedWrap) error {
	t := TicketFor(ctx, wraps)
	logger := loggerFor(ctx, l.Logger, "submit.log")
	logger.Info().
		Str("ticket_id", t.ID).
		Str("session_id", t.SessionID).
		Int("wraps", len(t.Wraps)).
		Str("total", pricing.Format(t.Total)).
		Msg("Sending order")
	if l.Out != nil {
		_, _ = fmt.Fprintf(l.Out, "Sending order: %s\n", Summary(t.Wraps))
	}
	return nil
}

// Summary renders wraps as "Meat Wrap [Lettuce, Cheese] $8.49; ...".
func Summary(wraps []order.ConfirmedWrap) string {
	if len(wraps) == 0 {
		return "(empty)"
	}
	parts := make([]string, 0, len(wraps))
	for _, w := range wraps {
		names := make([]string, 0, len(w.Items))
		for _, it := range w.Items {
			names = append(names, it.Name)
		}
		parts = append(parts, fmt.Sprintf("%s [%s] %s", w.Type.Name, strings.Join(names, ", "), pricing.Format(w.Total)))
	}
	return strings.Join(parts, "; ")
}
