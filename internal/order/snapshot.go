package order

import (
	"github.com/noah-isme/fuua/internal/menu"
	"github.com/noah-isme/fuua/internal/pricing"
)

// Snapshot is a read-only copy of everything the display layer renders.
type Snapshot struct {
	WrapType            *menu.Item      `json:"wrapType"`
	Items               []menu.Item     `json:"items"`
	CurrentTotal        pricing.Money   `json:"currentTotal"`
	CanAddToCart        bool            `json:"canAddToCart"`
	ToppingLimitReached bool            `json:"toppingLimitReached"`
	Phase               Phase           `json:"phase"`
	Cart                []ConfirmedWrap `json:"cart"`
	CartTotal           pricing.Money   `json:"cartTotal"`
}

// Snapshot copies the current selection and cart.
func (c *Configurator) Snapshot() Snapshot {
	snap := Snapshot{
		Items:               c.selection.Items(),
		CurrentTotal:        c.CurrentTotal(),
		CanAddToCart:        c.CanAddToCart(),
		ToppingLimitReached: c.ToppingLimitReached(),
		Phase:               c.Phase(),
		Cart:                c.cart.Wraps(),
		CartTotal:           c.CartTotal(),
	}
	if wt, ok := c.selection.WrapType(); ok {
		snap.WrapType = &wt
	}
	if snap.Items == nil {
		snap.Items = []menu.Item{}
	}
	return snap
}
