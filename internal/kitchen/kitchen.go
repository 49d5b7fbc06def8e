// Package kitchen turns submitted tickets into printed kitchen slips. The
// same ticket may arrive more than once (retries, fan-out to several
// backends); it is printed only once.
package kitchen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/fuua/internal/lock"
	"github.com/noah-isme/fuua/internal/obs"
	"github.com/noah-isme/fuua/internal/pricing"
	"github.com/noah-isme/fuua/internal/submit"
)

// ErrInvalidTicket marks payloads that can never be processed.
var ErrInvalidTicket = errors.New("kitchen: invalid ticket")

// Outcome labels for kitchen_tickets_total.
const (
	ResultPrinted   = "printed"
	ResultDuplicate = "duplicate"
	ResultInvalid   = "invalid"
	ResultFailed    = "failed"
)

var nopLogger = zerolog.Nop()

// Kitchen prints tickets. Without a Redis client every delivery is printed.
type Kitchen struct {
	R       *redis.Client
	Locker  lock.Locker
	LockTTL time.Duration
	SeenTTL time.Duration
	Prefix  string
	Out     io.Writer
	Logger  *zerolog.Logger

	mu sync.Mutex
}

// Handle decodes and prints one ticket delivered by source.
func (k *Kitchen) Handle(ctx context.Context, source string, payload []byte) error {
	t, err := submit.DecodeTicket(payload)
	if err != nil || t.ID == "" {
		k.count(source, ResultInvalid)
		if err == nil {
			err = errors.New("missing ticket id")
		}
		return fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}
	logger := k.logger().With().Str("source", source).Str("ticket_id", t.ID).Str("session_id", t.SessionID).Logger()

	if k.R == nil {
		k.print(t)
		k.count(source, ResultPrinted)
		logger.Info().Int("wraps", len(t.Wraps)).Msg("ticket printed")
		return nil
	}

	result := ResultPrinted
	locker := k.Locker
	if locker.R == nil {
		locker.R = k.R
	}
	err = locker.TryWithLock(ctx, k.key("lock:"+t.ID), k.LockTTL, func(ctx context.Context) error {
		// claim the ticket before printing; a failed claim prints nothing
		first, err := k.R.SetNX(ctx, k.key("seen:"+t.ID), "1", k.seenTTL()).Result()
		if err != nil {
			return err
		}
		if !first {
			result = ResultDuplicate
			return nil
		}
		k.print(t)
		return nil
	})
	switch {
	case errors.Is(err, lock.ErrNotAcquired):
		result = ResultDuplicate
	case err != nil:
		k.count(source, ResultFailed)
		logger.Error().Err(err).Msg("ticket handling failed")
		return err
	}
	k.count(source, result)
	logger.Info().Str("result", result).Int("wraps", len(t.Wraps)).Msg("ticket handled")
	return nil
}

// PrintTicket renders a kitchen slip.
func PrintTicket(w io.Writer, t submit.Ticket) {
	var b strings.Builder
	fmt.Fprintf(&b, "=== ticket %s", t.ID)
	if t.SessionID != "" {
		fmt.Fprintf(&b, " (session %s)", t.SessionID)
	}
	b.WriteString(" ===\n")
	for _, wrap := range t.Wraps {
		fmt.Fprintf(&b, "%s  %s  %s\n", wrap.ID, wrap.Type.Name, pricing.Format(wrap.Type.Price))
		for _, it := range wrap.Items {
			fmt.Fprintf(&b, "    + %-18s %s\n", it.Name, pricing.Format(it.Price))
		}
		fmt.Fprintf(&b, "    = %s\n", pricing.Format(wrap.Total))
	}
	fmt.Fprintf(&b, "TOTAL %s\n", pricing.Format(t.Total))
	_, _ = io.WriteString(w, b.String())
}

func (k *Kitchen) print(t submit.Ticket) {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := k.Out
	if out == nil {
		out = os.Stdout
	}
	PrintTicket(out, t)
}

func (k *Kitchen) key(suffix string) string {
	prefix := k.Prefix
	if prefix == "" {
		prefix = "fuua:kitchen:"
	}
	return prefix + suffix
}

func (k *Kitchen) seenTTL() time.Duration {
	if k.SeenTTL <= 0 {
		return 24 * time.Hour
	}
	return k.SeenTTL
}

func (k *Kitchen) count(source, result string) {
	if obs.KitchenTicketsTotal != nil {
		obs.KitchenTicketsTotal.WithLabelValues(source, result).Inc()
	}
}

func (k *Kitchen) logger() *zerolog.Logger {
	if k.Logger != nil {
		return k.Logger
	}
	return &nopLogger
}
