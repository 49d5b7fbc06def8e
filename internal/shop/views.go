package shop

import (
	"github.com/noah-isme/fuua/internal/menu"
	"github.com/noah-isme/fuua/internal/order"
	"github.com/noah-isme/fuua/internal/pricing"
)

type moneyView struct {
	Cents   pricing.Money `json:"cents"`
	Display string        `json:"display"`
}

func money(m pricing.Money) moneyView {
	return moneyView{Cents: m, Display: pricing.Format(m)}
}

type itemView struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Price moneyView `json:"price"`
}

func item(it menu.Item) itemView {
	return itemView{ID: it.ID, Name: it.Name, Price: money(it.Price)}
}

func items(list []menu.Item) []itemView {
	out := make([]itemView, 0, len(list))
	for _, it := range list {
		out = append(out, item(it))
	}
	return out
}

type catalogView struct {
	Name  string     `json:"name"`
	Title string     `json:"title"`
	Items []itemView `json:"items"`
}

func catalog(c *menu.Catalog) catalogView {
	return catalogView{Name: c.Name, Title: c.Title, Items: items(c.Items())}
}

type wrapView struct {
	ID    string     `json:"id"`
	Type  itemView   `json:"type"`
	Items []itemView `json:"items"`
	Total moneyView  `json:"total"`
}

func wrap(w order.ConfirmedWrap) wrapView {
	return wrapView{ID: w.ID, Type: item(w.Type), Items: items(w.Items), Total: money(w.Total)}
}

func wraps(list []order.ConfirmedWrap) []wrapView {
	out := make([]wrapView, 0, len(list))
	for _, w := range list {
		out = append(out, wrap(w))
	}
	return out
}

type sessionView struct {
	ID                  string      `json:"id"`
	Phase               order.Phase `json:"phase"`
	WrapType            *itemView   `json:"wrapType"`
	Items               []itemView  `json:"items"`
	CurrentTotal        moneyView   `json:"currentTotal"`
	CanAddToCart        bool        `json:"canAddToCart"`
	ToppingLimitReached bool        `json:"toppingLimitReached"`
	Cart                []wrapView  `json:"cart"`
	CartCount           int         `json:"cartCount"`
	CartTotal           moneyView   `json:"cartTotal"`
}

func sessionSnapshot(id string, s order.Snapshot) sessionView {
	v := sessionView{
		ID:                  id,
		Phase:               s.Phase,
		Items:               items(s.Items),
		CurrentTotal:        money(s.CurrentTotal),
		CanAddToCart:        s.CanAddToCart,
		ToppingLimitReached: s.ToppingLimitReached,
		Cart:                wraps(s.Cart),
		CartCount:           len(s.Cart),
		CartTotal:           money(s.CartTotal),
	}
	if s.WrapType != nil {
		wt := item(*s.WrapType)
		v.WrapType = &wt
	}
	return v
}
