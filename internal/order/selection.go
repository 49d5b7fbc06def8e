package order

import (
	"slices"

	"github.com/noah-isme/fuua/internal/menu"
	"github.com/noah-isme/fuua/internal/pricing"
)

// MaxToppings caps how many Toppings-catalog items a single wrap may carry.
const MaxToppings = 2

// ToggleResult describes what a toggle did to the selection.
type ToggleResult int

const (
	// ToggleAdded means the item was appended.
	ToggleAdded ToggleResult = iota
	// ToggleRemoved means the item was already selected and got removed.
	ToggleRemoved
	// ToggleRejected means the topping cap was reached; nothing changed.
	ToggleRejected
)

func (r ToggleResult) String() string {
	switch r {
	case ToggleAdded:
		return "added"
	case ToggleRemoved:
		return "removed"
	case ToggleRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Selection is the wrap currently being configured.
type Selection struct {
	wrapType *menu.Item
	items    []menu.Item
}

// WrapType returns the chosen base wrap, if any.
func (s *Selection) WrapType() (menu.Item, bool) {
	if s.wrapType == nil {
		return menu.Item{}, false
	}
	return *s.wrapType, true
}

// Items returns the selected items in the order they were picked.
func (s *Selection) Items() []menu.Item {
	return slices.Clone(s.items)
}

// IsSelected reports whether an item with the given id is selected.
func (s *Selection) IsSelected(id string) bool {
	return slices.IndexFunc(s.items, func(it menu.Item) bool { return it.ID == id }) >= 0
}

// Total is the running price: base wrap (0 if unset) plus all items.
func (s *Selection) Total() pricing.Money {
	var base pricing.Money
	if s.wrapType != nil {
		base = s.wrapType.Price
	}
	prices := make([]pricing.Money, 0, len(s.items))
	for _, it := range s.items {
		prices = append(prices, it.Price)
	}
	return pricing.Total(base, prices)
}

// Complete reports whether the selection can be confirmed.
func (s *Selection) Complete() bool {
	return s.wrapType != nil && len(s.items) > 0
}

// Empty reports whether nothing has been picked yet.
func (s *Selection) Empty() bool {
	return s.wrapType == nil && len(s.items) == 0
}

func (s *Selection) setWrapType(item *menu.Item) {
	if item == nil {
		s.wrapType = nil
		return
	}
	cp := *item
	s.wrapType = &cp
}

func (s *Selection) countWhere(match func(id string) bool) int {
	n := 0
	for _, it := range s.items {
		if match(it.ID) {
			n++
		}
	}
	return n
}

func (s *Selection) toggle(item menu.Item, isTopping func(id string) bool) ToggleResult {
	if i := slices.IndexFunc(s.items, func(it menu.Item) bool { return it.ID == item.ID }); i >= 0 {
		s.items = slices.Delete(slices.Clone(s.items), i, i+1)
		return ToggleRemoved
	}
	if isTopping != nil && isTopping(item.ID) && s.countWhere(isTopping) >= MaxToppings {
		return ToggleRejected
	}
	s.items = append(slices.Clone(s.items), item)
	return ToggleAdded
}

func (s *Selection) reset() {
	s.wrapType = nil
	s.items = nil
}
