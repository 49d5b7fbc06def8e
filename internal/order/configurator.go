// Package order implements the wrap configuration and cart state machine.
//
// A Configurator owns one in-progress Selection and one Cart. Every operation
// runs to completion synchronously; invalid requests (a third topping, an
// incomplete wrap, an unknown cart id, an empty order) leave the state
// untouched instead of failing. A Configurator is not safe for concurrent use.
package order

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/fuua/internal/menu"
	"github.com/noah-isme/fuua/internal/obs"
	"github.com/noah-isme/fuua/internal/pricing"
)

var nopLogger = zerolog.Nop()

// Submitter receives the cart contents when an order is sent.
type Submitter interface {
	Submit(ctx context.Context, wraps []ConfirmedWrap) error
}

// SubmitterFunc adapts a function to the Submitter interface.
type SubmitterFunc func(ctx context.Context, wraps []ConfirmedWrap) error

// Submit calls f.
func (f SubmitterFunc) Submit(ctx context.Context, wraps []ConfirmedWrap) error {
	return f(ctx, wraps)
}

// Phase names where the wrap under configuration sits in its lifecycle.
type Phase string

const (
	// PhaseEmpty: nothing picked. Also the state right after a wrap is confirmed.
	PhaseEmpty Phase = "empty"
	// PhaseTypeChosen: a base wrap is chosen, no items yet.
	PhaseTypeChosen Phase = "type_chosen"
	// PhaseItemsAdjusting: at least one item is selected.
	PhaseItemsAdjusting Phase = "items_adjusting"
)

// Configurator owns the selection and cart of a single ordering session.
type Configurator struct {
	Menu      *menu.Menu
	Submitter Submitter
	IDs       *Sequence
	Logger    *zerolog.Logger

	selection Selection
	cart      Cart
}

// New constructs a configurator for the given menu and order submitter.
func New(m *menu.Menu, submitter Submitter) *Configurator {
	if m == nil {
		m = menu.Default()
	}
	return &Configurator{Menu: m, Submitter: submitter, IDs: &Sequence{}}
}

// SetWrapType selects the base wrap. Unknown ids clear the current choice.
func (c *Configurator) SetWrapType(id string) {
	item, ok := c.Menu.WrapType(id)
	if !ok {
		c.selection.setWrapType(nil)
		return
	}
	c.selection.setWrapType(&item)
}

// ToggleItem adds the item when absent and removes it when present. Adding a
// topping while MaxToppings are already selected is ignored. Items outside
// the menu are accepted as-is.
func (c *Configurator) ToggleItem(item menu.Item) ToggleResult {
	res := c.selection.toggle(item, c.Menu.IsTopping)
	if obs.ItemToggleTotal != nil {
		obs.ItemToggleTotal.WithLabelValues(res.String()).Inc()
	}
	return res
}

// ToggleByID toggles a catalog item looked up by catalog name and id. Unknown
// ids are ignored.
func (c *Configurator) ToggleByID(catalog, id string) (ToggleResult, bool) {
	item, ok := c.Menu.Find(catalog, id)
	if !ok {
		return ToggleRejected, false
	}
	return c.ToggleItem(item), true
}

// Selection exposes the in-progress wrap.
func (c *Configurator) Selection() *Selection { return &c.selection }

// Cart exposes the confirmed wraps.
func (c *Configurator) Cart() *Cart { return &c.cart }

// CurrentTotal is the running price of the wrap being configured.
func (c *Configurator) CurrentTotal() pricing.Money { return c.selection.Total() }

// CanAddToCart reports whether the current wrap has a type and at least one item.
func (c *Configurator) CanAddToCart() bool { return c.selection.Complete() }

// ToppingLimitReached reports whether no further topping can be added.
func (c *Configurator) ToppingLimitReached() bool {
	return c.selection.countWhere(c.Menu.IsTopping) >= MaxToppings
}

// Phase derives the lifecycle phase from the selection.
func (c *Configurator) Phase() Phase {
	switch {
	case len(c.selection.items) > 0:
		return PhaseItemsAdjusting
	case c.selection.wrapType != nil:
		return PhaseTypeChosen
	default:
		return PhaseEmpty
	}
}

// AddToCart confirms the current wrap and starts a fresh one. It does nothing
// when CanAddToCart is false.
func (c *Configurator) AddToCart() (ConfirmedWrap, bool) {
	if !c.selection.Complete() {
		return ConfirmedWrap{}, false
	}
	if c.IDs == nil {
		c.IDs = &Sequence{}
	}
	wrap := ConfirmedWrap{
		ID:    c.IDs.Next(),
		Type:  *c.selection.wrapType,
		Items: c.selection.Items(),
		Total: c.selection.Total(),
	}
	c.cart.add(wrap)
	c.selection.reset()
	if obs.WrapsAddedTotal != nil {
		obs.WrapsAddedTotal.Inc()
	}
	return wrap, true
}

// RemoveFromCart drops the wrap with the given id. Unknown ids are ignored.
func (c *Configurator) RemoveFromCart(id string) bool {
	removed := c.cart.remove(id)
	if removed && obs.WrapsRemovedTotal != nil {
		obs.WrapsRemovedTotal.Inc()
	}
	return removed
}

// CartTotal sums the cart.
func (c *Configurator) CartTotal() pricing.Money { return c.cart.Total() }

// SubmitOrder hands the cart to the submitter and then empties it whatever the
// submitter returns. The submitted wraps are returned for confirmation.
func (c *Configurator) SubmitOrder(ctx context.Context) []ConfirmedWrap {
	if ctx == nil {
		ctx = context.Background()
	}
	wraps := c.cart.Wraps()
	total := c.cart.Total()

	ctx, span := otel.Tracer("order.Configurator").Start(ctx, "Configurator.SubmitOrder")
	defer span.End()
	span.SetAttributes(
		attribute.Int("order.wraps", len(wraps)),
		attribute.Int64("order.total_cents", total),
	)

	logger := c.loggerFor(ctx)
	result := "submitted"
	if c.Submitter == nil {
		result = "skipped"
	} else if err := c.Submitter.Submit(ctx, c.cart.Wraps()); err != nil {
		result = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, "order submission failed")
		logger.Error().Err(err).Int("wraps", len(wraps)).Str("total", pricing.Format(total)).Msg("order_submission_failed")
	}
	c.cart.clear()

	if obs.OrderSubmissionsTotal != nil {
		obs.OrderSubmissionsTotal.WithLabelValues(result).Inc()
	}
	if obs.OrderValueCents != nil && len(wraps) > 0 {
		obs.OrderValueCents.Observe(float64(total))
	}
	logger.Info().Str("result", result).Int("wraps", len(wraps)).Str("total", pricing.Format(total)).Msg("order_submitted")
	return wraps
}

func (c *Configurator) loggerFor(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	if c.Logger != nil {
		return c.Logger
	}
	return &nopLogger
}
