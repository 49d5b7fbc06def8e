package shop_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/fuua/internal/common"
	"github.com/noah-isme/fuua/internal/events"
	"github.com/noah-isme/fuua/internal/menu"
	"github.com/noah-isme/fuua/internal/obs"
	"github.com/noah-isme/fuua/internal/order"
	"github.com/noah-isme/fuua/internal/pricing"
	"github.com/noah-isme/fuua/internal/session"
	"github.com/noah-isme/fuua/internal/shop"
)

type kitchenStub struct {
	mu    sync.Mutex
	calls int
}

func (k *kitchenStub) Submit(context.Context, []order.ConfirmedWrap) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.calls++
	return nil
}

type money struct {
	Cents   int64  `json:"cents"`
	Display string `json:"display"`
}

type snapshotBody struct {
	Data struct {
		ID       string `json:"id"`
		Phase    string `json:"phase"`
		WrapType *struct {
			ID string `json:"id"`
		} `json:"wrapType"`
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
		CurrentTotal        money `json:"currentTotal"`
		CanAddToCart        bool  `json:"canAddToCart"`
		ToppingLimitReached bool  `json:"toppingLimitReached"`
		Cart                []struct {
			ID    string `json:"id"`
			Total money  `json:"total"`
		} `json:"cart"`
		CartCount int   `json:"cartCount"`
		CartTotal money `json:"cartTotal"`
	} `json:"data"`
	Meta map[string]json.RawMessage `json:"meta"`
}

type fixture struct {
	t       *testing.T
	router  http.Handler
	kitchen *kitchenStub
	journal *events.Journal
}

func newFixture(t *testing.T, submitMW ...func(http.Handler) http.Handler) *fixture {
	t.Helper()
	kitchen := &kitchenStub{}
	journal := &events.Journal{}
	reg := session.NewRegistry(menu.Default(), kitchen, time.Minute, 100)
	reg.Events = &events.Bus{Store: journal}
	h := &shop.Handler{Sessions: reg, History: journal, SubmitMiddleware: submitMW}

	r := chi.NewRouter()
	r.Route("/api/v1", h.Routes)
	return &fixture{t: t, router: r, kitchen: kitchen, journal: journal}
}

func (f *fixture) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func (f *fixture) snapshot(rr *httptest.ResponseRecorder) snapshotBody {
	f.t.Helper()
	var body snapshotBody
	require.NoError(f.t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body
}

func (f *fixture) start() string {
	f.t.Helper()
	rr := f.do(http.MethodPost, "/api/v1/sessions", nil)
	require.Equal(f.t, http.StatusCreated, rr.Code)
	body := f.snapshot(rr)
	require.NotEmpty(f.t, body.Data.ID)
	require.Equal(f.t, "/api/v1/sessions/"+body.Data.ID, rr.Header().Get("Location"))
	return body.Data.ID
}

func TestMenuEndpoints(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodGet, "/api/v1/menu", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var all struct {
		Data []struct {
			Name  string `json:"name"`
			Title string `json:"title"`
			Items []struct {
				ID    string `json:"id"`
				Price money  `json:"price"`
			} `json:"items"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &all))
	require.Len(t, all.Data, len(menu.Names()))
	require.Equal(t, menu.WrapTypes, all.Data[0].Name)
	require.Equal(t, "$6.99", all.Data[0].Items[0].Price.Display)

	rr = f.do(http.MethodGet, "/api/v1/menu/sauces", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"title":"Sauces"`)

	rr = f.do(http.MethodGet, "/api/v1/menu/desserts", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestOrderingFlow(t *testing.T) {
	f := newFixture(t)
	id := f.start()
	base := "/api/v1/sessions/" + id

	rr := f.do(http.MethodPut, base+"/wrap-type", map[string]string{"id": "meat"})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "type_chosen", f.snapshot(rr).Data.Phase)

	rr = f.do(http.MethodPost, base+"/cart", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := f.snapshot(rr)
	require.Equal(t, "null", string(body.Meta["added"]))
	require.Zero(t, body.Data.CartCount)

	f.do(http.MethodPost, base+"/items/toggle", map[string]string{"catalog": "vegetables", "id": "lettuce"})
	rr = f.do(http.MethodPost, base+"/items/toggle", map[string]string{"catalog": "toppings", "id": "cheese"})
	body = f.snapshot(rr)
	require.Equal(t, `"added"`, string(body.Meta["result"]))
	require.Equal(t, "$8.49", body.Data.CurrentTotal.Display)
	require.True(t, body.Data.CanAddToCart)

	rr = f.do(http.MethodPost, base+"/cart", nil)
	body = f.snapshot(rr)
	require.Equal(t, 1, body.Data.CartCount)
	require.Empty(t, body.Data.Items)
	require.Nil(t, body.Data.WrapType)
	require.Equal(t, "empty", body.Data.Phase)
	first := body.Data.Cart[0].ID

	f.do(http.MethodPut, base+"/wrap-type", map[string]string{"id": "chicken"})
	f.do(http.MethodPost, base+"/items/toggle", map[string]string{"catalog": "toppings", "id": "cheese"})
	rr = f.do(http.MethodPost, base+"/cart", nil)
	require.Equal(t, "$15.98", f.snapshot(rr).Data.CartTotal.Display)

	rr = f.do(http.MethodDelete, base+"/cart/w-999999", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "false", string(f.snapshot(rr).Meta["removed"]))

	rr = f.do(http.MethodDelete, base+"/cart/"+first, nil)
	body = f.snapshot(rr)
	require.Equal(t, "true", string(body.Meta["removed"]))
	require.Equal(t, "$7.49", body.Data.CartTotal.Display)

	rr = f.do(http.MethodPost, base+"/order", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body = f.snapshot(rr)
	require.Zero(t, body.Data.CartCount)
	require.Contains(t, string(body.Meta["submittedTotal"]), `"display":"$7.49"`)
	require.Equal(t, 1, f.kitchen.calls)

	rr = f.do(http.MethodGet, base+"/events", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), events.TopicOrderSubmitted)

	rr = f.do(http.MethodDelete, base, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = f.do(http.MethodGet, base, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestToppingLimitAndUnknownWrapType(t *testing.T) {
	f := newFixture(t)
	base := "/api/v1/sessions/" + f.start()

	f.do(http.MethodPut, base+"/wrap-type", map[string]string{"id": "vegan"})
	f.do(http.MethodPost, base+"/items/toggle", map[string]string{"catalog": "toppings", "id": "ham"})
	f.do(http.MethodPost, base+"/items/toggle", map[string]string{"catalog": "toppings", "id": "egg"})
	rr := f.do(http.MethodPost, base+"/items/toggle", map[string]string{"catalog": "toppings", "id": "bacon"})
	require.Equal(t, http.StatusOK, rr.Code)
	body := f.snapshot(rr)
	require.Equal(t, `"rejected"`, string(body.Meta["result"]))
	require.True(t, body.Data.ToppingLimitReached)
	require.Len(t, body.Data.Items, 2)

	rr = f.do(http.MethodPut, base+"/wrap-type", map[string]string{"id": "falafel"})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Nil(t, f.snapshot(rr).Data.WrapType)
}

func TestToggleFreeFormItem(t *testing.T) {
	f := newFixture(t)
	base := "/api/v1/sessions/" + f.start()

	rr := f.do(http.MethodPost, base+"/items/toggle", map[string]string{"id": "house-special", "name": "House Special", "price": "3.25"})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "$3.25", f.snapshot(rr).Data.CurrentTotal.Display)

	rr = f.do(http.MethodPost, base+"/items/toggle", map[string]string{"id": "mystery"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "VALIDATION_ERROR")

	rr = f.do(http.MethodPost, base+"/items/toggle", map[string]string{"id": "x", "name": "X", "price": "abc"})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(http.MethodPost, base+"/items/toggle", map[string]string{"catalog": "sauces", "id": "gravy"})
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Contains(t, rr.Body.String(), "ITEM_NOT_FOUND")
}

func TestToggleFreeFormPriceBounds(t *testing.T) {
	f := newFixture(t)
	base := "/api/v1/sessions/" + f.start()

	for _, price := range []string{"9999999999999999", "1000000.01", "--5", "5.+1", "-"} {
		rr := f.do(http.MethodPost, base+"/items/toggle", map[string]string{"id": "big", "name": "Big", "price": price})
		require.Equal(t, http.StatusBadRequest, rr.Code, price)
		require.Contains(t, rr.Body.String(), "VALIDATION_ERROR", price)
	}

	var rr *httptest.ResponseRecorder
	for i := 0; i < 10; i++ {
		rr = f.do(http.MethodPost, base+"/items/toggle", map[string]string{
			"id": fmt.Sprintf("gold-%d", i), "name": "Gold Leaf", "price": "1000000.00",
		})
		require.Equal(t, http.StatusOK, rr.Code)
	}
	total := f.snapshot(rr).Data.CurrentTotal
	require.Equal(t, int64(10*pricing.MaxAmount), total.Cents)
	require.Equal(t, "$10000000.00", total.Display)
}

func TestTransportErrors(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodGet, "/api/v1/sessions/nope", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Contains(t, rr.Body.String(), "SESSION_NOT_FOUND")

	base := "/api/v1/sessions/" + f.start()
	req := httptest.NewRequest(http.MethodPut, base+"/wrap-type", bytes.NewBufferString("{"))
	rr = httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(http.MethodPut, base+"/wrap-type", map[string]string{"wrap": "meat"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSubmitIsIdempotent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	idem := common.Idem{R: client, TTL: time.Minute, Scope: func(r *http.Request) string {
		return chi.URLParam(r, obs.SessionParam)
	}}
	f := newFixture(t, idem.Middleware)
	base := "/api/v1/sessions/" + f.start()

	f.do(http.MethodPut, base+"/wrap-type", map[string]string{"id": "meat"})
	f.do(http.MethodPost, base+"/items/toggle", map[string]string{"catalog": "sauces", "id": "mayo"})
	f.do(http.MethodPost, base+"/cart", nil)

	first := f.do(http.MethodPost, base+"/order", nil, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusOK, first.Code)
	second := f.do(http.MethodPost, base+"/order", nil, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusOK, second.Code)
	require.Equal(t, "true", second.Header().Get("Idempotent-Replay"))
	require.JSONEq(t, first.Body.String(), second.Body.String())
	require.Equal(t, 1, f.kitchen.calls)
}
