// Package menu holds the static catalogs a wrap is assembled from.
package menu

import (
	"slices"

	"github.com/noah-isme/fuua/internal/pricing"
)

// Catalog names.
const (
	WrapTypes      = "wrap-types"
	Vegetables     = "vegetables"
	Toppings       = "toppings"
	Sauces         = "sauces"
	PremiumOptions = "premium-options"
)

// Names returns catalog names in display order.
func Names() []string {
	return []string{WrapTypes, Vegetables, Toppings, Sauces, PremiumOptions}
}

// Item is a selectable catalog entry.
type Item struct {
	ID    string        `json:"id" yaml:"id"`
	Name  string        `json:"name" yaml:"name"`
	Price pricing.Money `json:"price" yaml:"-"`
}

// Catalog is an ordered, read-only set of items keyed by id.
type Catalog struct {
	Name  string
	Title string
	items []Item
	index map[string]int
}

func newCatalog(name, title string, items []Item) *Catalog {
	c := &Catalog{
		Name:  name,
		Title: title,
		items: slices.Clone(items),
		index: make(map[string]int, len(items)),
	}
	for i, it := range c.items {
		c.index[it.ID] = i
	}
	return c
}

// Items returns a copy of the catalog entries in display order.
func (c *Catalog) Items() []Item {
	if c == nil {
		return []Item{}
	}
	return slices.Clone(c.items)
}

// Lookup finds an item by id.
func (c *Catalog) Lookup(id string) (Item, bool) {
	if c == nil {
		return Item{}, false
	}
	i, ok := c.index[id]
	if !ok {
		return Item{}, false
	}
	return c.items[i], true
}

// Contains reports whether id belongs to the catalog.
func (c *Catalog) Contains(id string) bool {
	_, ok := c.Lookup(id)
	return ok
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.items)
}

// Menu groups the five catalogs. It is built once at start-up and never mutated.
type Menu struct {
	catalogs map[string]*Catalog
}

// Catalog returns the named catalog.
func (m *Menu) Catalog(name string) (*Catalog, bool) {
	if m == nil {
		return nil, false
	}
	c, ok := m.catalogs[name]
	return c, ok
}

// List returns the entries of the named catalog. Unknown names yield an empty list.
func (m *Menu) List(name string) []Item {
	c, _ := m.Catalog(name)
	return c.Items()
}

// WrapType looks up a base wrap by id.
func (m *Menu) WrapType(id string) (Item, bool) {
	c, _ := m.Catalog(WrapTypes)
	return c.Lookup(id)
}

// IsTopping reports whether id is listed in the Toppings catalog.
func (m *Menu) IsTopping(id string) bool {
	c, _ := m.Catalog(Toppings)
	return c.Contains(id)
}

// Find looks an item up in one of the ingredient catalogs.
func (m *Menu) Find(catalog, id string) (Item, bool) {
	c, ok := m.Catalog(catalog)
	if !ok {
		return Item{}, false
	}
	return c.Lookup(id)
}

// Catalogs returns every catalog in display order.
func (m *Menu) Catalogs() []*Catalog {
	out := make([]*Catalog, 0, len(Names()))
	for _, name := range Names() {
		if c, ok := m.Catalog(name); ok {
			out = append(out, c)
		}
	}
	return out
}

// Default returns the built-in Fuua menu.
func Default() *Menu {
	return &Menu{catalogs: map[string]*Catalog{
		WrapTypes: newCatalog(WrapTypes, "Select Wrap Type", []Item{
			{ID: "meat", Name: "Meat Wrap", Price: 699},
			{ID: "chicken", Name: "Chicken Wrap", Price: 649},
			{ID: "vegan", Name: "Vegan Wrap", Price: 599},
		}),
		Vegetables: newCatalog(Vegetables, "Vegetables", []Item{
			{ID: "lettuce", Name: "Lettuce", Price: 50},
			{ID: "tomato", Name: "Tomato", Price: 50},
			{ID: "cucumber", Name: "Cucumber", Price: 50},
			{ID: "onion", Name: "Onion", Price: 50},
			{ID: "bell-pepper", Name: "Bell Pepper", Price: 75},
		}),
		Toppings: newCatalog(Toppings, "Toppings", []Item{
			{ID: "cheese", Name: "Cheese", Price: 100},
			{ID: "ham", Name: "Ham", Price: 150},
			{ID: "chicken", Name: "Grilled Chicken", Price: 200},
			{ID: "bacon", Name: "Bacon", Price: 150},
			{ID: "egg", Name: "Egg", Price: 100},
		}),
		Sauces: newCatalog(Sauces, "Sauces", []Item{
			{ID: "mayo", Name: "Mayonnaise", Price: 50},
			{ID: "mustard", Name: "Mustard", Price: 50},
			{ID: "ketchup", Name: "Ketchup", Price: 50},
			{ID: "ranch", Name: "Ranch", Price: 75},
			{ID: "bbq", Name: "BBQ Sauce", Price: 75},
		}),
		PremiumOptions: newCatalog(PremiumOptions, "Premium Options", []Item{
			{ID: "avocado", Name: "Avocado", Price: 200},
			{ID: "feta", Name: "Feta Cheese", Price: 150},
			{ID: "sun-dried-tomato", Name: "Sun-dried Tomato", Price: 150},
			{ID: "olives", Name: "Kalamata Olives", Price: 100},
			{ID: "roasted-peppers", Name: "Roasted Red Peppers", Price: 150},
		}),
	}}
}
