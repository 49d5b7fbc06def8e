// Package shop exposes ordering sessions over HTTP/JSON.
package shop

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/fuua/internal/common"
	"github.com/noah-isme/fuua/internal/events"
	"github.com/noah-isme/fuua/internal/menu"
	"github.com/noah-isme/fuua/internal/obs"
	"github.com/noah-isme/fuua/internal/order"
	"github.com/noah-isme/fuua/internal/pricing"
	"github.com/noah-isme/fuua/internal/session"
)

var defaultValidate = validator.New(validator.WithRequiredStructEnabled())

// EventHistory lists recorded events for a session.
type EventHistory interface {
	ForAggregate(aggregateID string, limit int) []events.Event
}

// Handler wires sessions to HTTP.
type Handler struct {
	Menu     *menu.Menu
	Sessions *session.Registry
	History  EventHistory
	Validate *validator.Validate
	// SubmitMiddleware wraps the order submission route only.
	SubmitMiddleware []func(http.Handler) http.Handler
}

type wrapTypeRequest struct {
	ID string `json:"id" validate:"max=64"`
}

type toggleRequest struct {
	Catalog string `json:"catalog" validate:"omitempty,max=64"`
	ID      string `json:"id" validate:"required,max=64"`
	Name    string `json:"name" validate:"required_without=Catalog,max=128"`
	Price   string `json:"price" validate:"required_without=Catalog,max=16"`
}

// Routes registers the shop endpoints under r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/menu", h.ListMenu)
	r.Get("/menu/{catalog}", h.ListCatalog)
	r.Post("/sessions", h.Start)
	r.Route("/sessions/{"+obs.SessionParam+"}", func(s chi.Router) {
		s.Get("/", h.Get)
		s.Delete("/", h.End)
		s.Put("/wrap-type", h.SetWrapType)
		s.Post("/items/toggle", h.Toggle)
		s.Post("/cart", h.AddToCart)
		s.Delete("/cart/{wrapID}", h.RemoveFromCart)
		s.With(h.SubmitMiddleware...).Post("/order", h.Submit)
		s.Get("/events", h.Events)
	})
}

// ListMenu lists every catalog in display order.
func (h *Handler) ListMenu(w http.ResponseWriter, _ *http.Request) {
	cats := h.menu().Catalogs()
	out := make([]catalogView, 0, len(cats))
	for _, c := range cats {
		out = append(out, catalog(c))
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}

// ListCatalog lists one catalog.
func (h *Handler) ListCatalog(w http.ResponseWriter, r *http.Request) {
	c, ok := h.menu().Catalog(chi.URLParam(r, "catalog"))
	if !ok {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "catalog not found", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": catalog(c)})
}

// Start opens a session.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	id, snap, err := h.Sessions.Start(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/sessions/"+id)
	common.JSON(w, http.StatusCreated, map[string]any{"data": sessionSnapshot(id, snap)})
}

// Get returns the session snapshot.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	id := chi.URLParam(r, obs.SessionParam)
	snap, err := h.Sessions.Snapshot(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSnapshot(w, id, snap, nil)
}

// End closes the session.
func (h *Handler) End(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	if err := h.Sessions.End(r.Context(), chi.URLParam(r, obs.SessionParam)); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetWrapType picks the base wrap. Unknown ids clear the choice.
func (h *Handler) SetWrapType(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req wrapTypeRequest
	if !h.decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, obs.SessionParam)
	snap, err := h.Sessions.Do(r.Context(), id, func(c *order.Configurator) {
		c.SetWrapType(strings.TrimSpace(req.ID))
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSnapshot(w, id, snap, nil)
}

// Toggle adds or removes an ingredient. A catalog item is looked up by
// catalog and id; without a catalog the item is taken as given.
func (h *Handler) Toggle(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req toggleRequest
	if !h.decode(w, r, &req) {
		return
	}
	var (
		it  menu.Item
		err error
	)
	if req.Catalog != "" {
		var ok bool
		it, ok = h.menu().Find(req.Catalog, req.ID)
		if !ok {
			common.JSONError(w, http.StatusNotFound, "ITEM_NOT_FOUND", "item not on the menu", map[string]string{"catalog": req.Catalog, "id": req.ID})
			return
		}
	} else {
		it.ID, it.Name = req.ID, req.Name
		if it.Price, err = pricing.ParseDecimal(req.Price); err != nil || it.Price < 0 || it.Price > pricing.MaxAmount {
			common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "price must be a decimal between 0 and "+pricing.Decimal(pricing.MaxAmount), map[string]string{"price": req.Price})
			return
		}
	}

	id := chi.URLParam(r, obs.SessionParam)
	var result order.ToggleResult
	snap, err := h.Sessions.Do(r.Context(), id, func(c *order.Configurator) { result = c.ToggleItem(it) })
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSnapshot(w, id, snap, map[string]any{"result": result.String()})
}

// AddToCart confirms the current wrap. An incomplete wrap leaves everything unchanged.
func (h *Handler) AddToCart(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	id := chi.URLParam(r, obs.SessionParam)
	snap, added, err := h.Sessions.AddToCart(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var view *wrapView
	if added != nil {
		v := wrap(*added)
		view = &v
	}
	h.writeSnapshot(w, id, snap, map[string]any{"added": view})
}

// RemoveFromCart drops a confirmed wrap. Unknown wrap ids are ignored.
func (h *Handler) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	id := chi.URLParam(r, obs.SessionParam)
	snap, removed, err := h.Sessions.RemoveFromCart(r.Context(), id, chi.URLParam(r, "wrapID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSnapshot(w, id, snap, map[string]any{"removed": removed})
}

// Submit sends the cart to the kitchen and answers with what was sent.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	id := chi.URLParam(r, obs.SessionParam)
	snap, sent, err := h.Sessions.Submit(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var total pricing.Money
	for _, wr := range sent {
		total += wr.Total
	}
	h.writeSnapshot(w, id, snap, map[string]any{
		"submitted":      wraps(sent),
		"submittedTotal": money(total),
	})
}

// Events lists what happened in the session, oldest first.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	id := chi.URLParam(r, obs.SessionParam)
	if _, err := h.Sessions.Snapshot(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	list := []events.Event{}
	if h.History != nil {
		if found := h.History.ForAggregate(id, limit); found != nil {
			list = found
		}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": list})
}

func (h *Handler) writeSnapshot(w http.ResponseWriter, id string, snap order.Snapshot, extra map[string]any) {
	body := map[string]any{"data": sessionSnapshot(id, snap)}
	if len(extra) > 0 {
		body["meta"] = extra
	}
	common.JSON(w, http.StatusOK, body)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return false
	}
	if err := h.validator().Struct(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request", validationDetails(err))
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found", nil)
	case errors.Is(err, session.ErrCapacity):
		w.Header().Set("Retry-After", "30")
		common.JSONError(w, http.StatusServiceUnavailable, "SESSION_CAPACITY", "too many open sessions", nil)
	default:
		common.WriteError(w, err)
	}
}

func (h *Handler) ready(w http.ResponseWriter) bool {
	if h.Sessions == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "session registry not configured", nil)
		return false
	}
	return true
}

func (h *Handler) menu() *menu.Menu {
	if h.Menu != nil {
		return h.Menu
	}
	if h.Sessions != nil && h.Sessions.Menu != nil {
		return h.Sessions.Menu
	}
	return menu.Default()
}

func (h *Handler) validator() *validator.Validate {
	if h.Validate != nil {
		return h.Validate
	}
	return defaultValidate
}

func validationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[strings.ToLower(fe.Field())] = fe.Tag()
	}
	return out
}
