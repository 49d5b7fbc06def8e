package order

import (
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/noah-isme/fuua/internal/menu"
	"github.com/noah-isme/fuua/internal/pricing"
)

// ConfirmedWrap is a configured wrap that has been placed in the cart.
type ConfirmedWrap struct {
	ID    string        `json:"id"`
	Type  menu.Item     `json:"type"`
	Items []menu.Item   `json:"items"`
	Total pricing.Money `json:"total"`
}

func (w ConfirmedWrap) clone() ConfirmedWrap {
	w.Items = slices.Clone(w.Items)
	return w
}

// Cart holds confirmed wraps in insertion order.
type Cart struct {
	wraps []ConfirmedWrap
}

// Wraps returns a copy of the cart contents.
func (c *Cart) Wraps() []ConfirmedWrap {
	out := make([]ConfirmedWrap, 0, len(c.wraps))
	for _, w := range c.wraps {
		out = append(out, w.clone())
	}
	return out
}

// Len returns the number of wraps in the cart.
func (c *Cart) Len() int { return len(c.wraps) }

// Total sums the stored totals. Totals are never recomputed.
func (c *Cart) Total() pricing.Money {
	var total pricing.Money
	for _, w := range c.wraps {
		total += w.Total
	}
	return total
}

func (c *Cart) add(w ConfirmedWrap) {
	c.wraps = append(c.wraps, w.clone())
}

func (c *Cart) remove(id string) bool {
	i := slices.IndexFunc(c.wraps, func(w ConfirmedWrap) bool { return w.ID == id })
	if i < 0 {
		return false
	}
	c.wraps = slices.Delete(c.wraps, i, i+1)
	return true
}

func (c *Cart) clear() {
	c.wraps = nil
}

// Sequence hands out monotonically increasing wrap identifiers. The zero value
// is ready to use and safe to share.
type Sequence struct {
	Prefix string
	n      atomic.Uint64
}

// Next returns the next identifier, e.g. "w-000001".
func (s *Sequence) Next() string {
	prefix := s.Prefix
	if prefix == "" {
		prefix = "w"
	}
	return fmt.Sprintf("%s-%06d", prefix, s.n.Add(1))
}
