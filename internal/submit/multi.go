package submit

import (
	"context"
	"errors"
	"fmt"

	"github.com/noah-isme/fuua/internal/order"
)

// Named labels a submitter for fan-out errors.
type Named struct {
	Name      string
	Submitter order.Submitter
}

// Multi delivers the same ticket to every backend. All backends are tried;
// their failures are joined.
type Multi []Named

// Submit implements order.Submitter.
func (m Multi) Submit(ctx context.Context, wraps []order.ConfirmedWrap) error {
	ctx = WithTicket(ctx, TicketFor(ctx, wraps))
	var errs []error
	for _, n := range m {
		if n.Submitter == nil {
			continue
		}
		if err := n.Submitter.Submit(ctx, wraps); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name, err))
		}
	}
	return errors.Join(errs...)
}
