package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"courierops/api/internal/pricing"
)

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(NewRouter(Deps{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestProtectedRoutesNeedSession(t *testing.T) {
	router := NewRouter(Deps{})

	tests := []struct {
		name    string
		method  string
		path    string
		cookie  string
		wantMsg string
	}{
		{name: "no cookie", method: http.MethodGet, path: "/api/auth/me", wantMsg: "not authenticated"},
		{name: "garbage cookie", method: http.MethodGet, path: "/api/auth/me", cookie: "not-a-uuid", wantMsg: "invalid session"},
		{name: "quote", method: http.MethodPost, path: "/api/pricing/quote", wantMsg: "not authenticated"},
		{name: "admin", method: http.MethodGet, path: "/api/admin/pricing", wantMsg: "not authenticated"},
		{name: "reports", method: http.MethodGet, path: "/api/reports/garant", cookie: "x", wantMsg: "invalid session"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: sessionCookie, Value: tt.cookie})
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			var got errorBody
			if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.Error.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", got.Error.Message, tt.wantMsg)
			}
		})
	}
}

func TestLoginRejectsMalformedInput(t *testing.T) {
	router := NewRouter(Deps{})
	for _, body := range []string{`not json`, `{"email":"nobody","password":"x"}`, `{"email":"a@b.c","password":"  "}`} {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("login %s: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestRequireRole(t *testing.T) {
	app := newApp(Deps{})
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := app.requireRole(RoleAdmin, RoleOperator)(next)

	tests := []struct {
		name string
		user *User
		want int
	}{
		{name: "anonymous", want: http.StatusUnauthorized},
		{name: "admin", user: &User{ID: 1, Role: RoleAdmin}, want: http.StatusNoContent},
		{name: "operator", user: &User{ID: 2, Role: RoleOperator}, want: http.StatusNoContent},
		{name: "analyst", user: &User{ID: 3, Role: RoleAnalyst}, want: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.user != nil {
				req = req.WithContext(context.WithValue(req.Context(), ctxUserKey, *tt.user))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestWriteDBError(t *testing.T) {
	app := newApp(Deps{})
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "no rows", err: pgx.ErrNoRows, want: http.StatusNotFound},
		{name: "policy missing", err: fmt.Errorf("resolve: %w", pricing.ErrNotFound), want: http.StatusNotFound},
		{name: "terminal missing", err: fmt.Errorf("resolve: %w", pricing.ErrUnknownTerminal), want: http.StatusNotFound},
		{name: "foreign key", err: &pgconn.PgError{Code: "23503"}, want: http.StatusBadRequest},
		{name: "unique", err: &pgconn.PgError{Code: "23505"}, want: http.StatusConflict},
		{name: "check", err: &pgconn.PgError{Code: "23514", ConstraintName: "couriers_status_check"}, want: http.StatusBadRequest},
		{name: "other", err: errors.New("connection reset"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			app.writeDBError(rec, tt.err, "thing")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestPaging(t *testing.T) {
	tests := []struct {
		query                      string
		page, pageSize, wantOffset int
	}{
		{query: "", page: 1, pageSize: 20, wantOffset: 0},
		{query: "page=3&pageSize=10", page: 3, pageSize: 10, wantOffset: 20},
		{query: "page=0&pageSize=500", page: 1, pageSize: 50, wantOffset: 0},
		{query: "page=x&pageSize=-4", page: 1, pageSize: 20, wantOffset: 0},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)
		page, size, offset := paging(req)
		if page != tt.page || size != tt.pageSize || offset != tt.wantOffset {
			t.Errorf("paging(%q) = %d,%d,%d; want %d,%d,%d", tt.query, page, size, offset, tt.page, tt.pageSize, tt.wantOffset)
		}
	}
}

// withID attaches a chi {id} URL parameter the way the router would.
func withID(req *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// These requests are all rejected before any query runs, so no database is needed.
func TestHandlersValidateBeforeDB(t *testing.T) {
	app := newApp(Deps{})

	tests := []struct {
		name      string
		handler   http.HandlerFunc
		id        string
		body      string
		wantField string
	}{
		{name: "order without terminal", handler: app.handleCreateOrder, body: `{"distanceKm":3}`, wantField: "terminalId"},
		{name: "order without distance", handler: app.handleCreateOrder, body: `{"terminalId":1}`, wantField: "distanceKm"},
		{name: "order to the pole and beyond", handler: app.handleCreateOrder, body: `{"terminalId":1,"destination":{"lat":91,"lng":69.2}}`, wantField: "destination"},
		{name: "order off the date line", handler: app.handleCreateOrder, body: `{"terminalId":1,"destination":{"lat":41.3,"lng":-181}}`, wantField: "destination"},
		{name: "policy with unknown kind", handler: app.handleCreatePricing, body: `{"kind":"tips","name":"x"}`, wantField: "kind"},
		{name: "policy without name", handler: app.handleCreatePricing, body: `{"kind":"delivery"}`, wantField: "name"},
		{
			name:      "policy with overlapping tiers",
			handler:   app.handleCreatePricing,
			body:      `{"kind":"delivery","name":"x","rules":[{"from":0,"to":3,"price":1},{"from":2,"to":5,"price":1}]}`,
			wantField: "rules[1].from",
		},
		{
			name:      "policy with negative rate",
			handler:   app.handleUpdatePricing,
			id:        "4",
			body:      `{"kind":"order_bonus","name":"x","price_per_km":-1}`,
			wantField: "price_per_km",
		},
		{name: "terminal policy without organization", handler: app.handleCreatePricing, body: `{"kind":"delivery","name":"x","terminalId":2}`, wantField: "organizationId"},
		{name: "bad id", handler: app.handleUpdatePricing, id: "abc", body: `{}`},
		{name: "zero wallet amount", handler: app.handleCourierWallet, id: "1", body: `{"amount":0}`},
		{name: "sub-cent wallet amount", handler: app.handleCourierWallet, id: "1", body: `{"amount":"1.005"}`},
		{name: "courier without phone", handler: app.handleCreateCourier, body: `{"firstName":"Aziz"}`},
		{name: "courier with unknown status", handler: app.handleCreateCourier, body: `{"firstName":"Aziz","phone":"+998901234567","status":"ON_LEAVE"}`},
		{name: "status with lowercase junk", handler: app.handleCreateStatus, body: `{"code":"x","name":"X"}`},
		{name: "status with bad color", handler: app.handleCreateStatus, body: `{"code":"RETURNED","name":"Returned","color":"red"}`},
		{name: "terminal off the map", handler: app.handleCreateTerminal, body: `{"organizationId":1,"name":"T","lat":91}`},
		{name: "organization without name", handler: app.handleCreateOrganization, body: `{"name":"  "}`},
		{name: "order status without code", handler: app.handleSetOrderStatus, id: "9", body: `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			if tt.id != "" {
				req = withID(req, tt.id)
			}
			rec := httptest.NewRecorder()
			tt.handler(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
			}
			var got errorBody
			if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.Error.Field != tt.wantField {
				t.Errorf("field = %q, want %q", got.Error.Field, tt.wantField)
			}
		})
	}
}

func TestReportsValidateQuery(t *testing.T) {
	app := newApp(Deps{})
	tests := []struct {
		name    string
		handler http.HandlerFunc
		query   string
	}{
		{name: "garant without amount", handler: app.handleReportGarant, query: ""},
		{name: "garant with negative amount", handler: app.handleReportGarant, query: "dailyGarant=-5"},
		{name: "garant with bad date", handler: app.handleReportGarant, query: "from=01.02.2026&dailyGarant=50000"},
		{name: "efficiency reversed period", handler: app.handleReportEfficiency, query: "from=2026-03-10&to=2026-03-01"},
		{name: "efficiency bad terminal", handler: app.handleReportEfficiency, query: "terminalId=-1"},
		{name: "wallets bad terminal", handler: app.handleReportWallets, query: "terminalId=x"},
		{name: "roll call bad date", handler: app.handleReportRollCall, query: "date=yesterday"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)
			rec := httptest.NewRecorder()
			tt.handler(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestWalletAmountError(t *testing.T) {
	tests := []struct {
		amount string
		ok     bool
	}{
		{amount: "20000", ok: true},
		{amount: "-20.10", ok: true},
		{amount: "1.500", ok: true},
		{amount: "0.01", ok: true},
		{amount: "0", ok: false},
		{amount: "0.000", ok: false},
		{amount: "1.005", ok: false},
		{amount: "-0.001", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			got := walletAmountError(decimal.RequireFromString(tt.amount))
			if (got == "") != tt.ok {
				t.Errorf("walletAmountError(%s) = %q, want ok=%v", tt.amount, got, tt.ok)
			}
		})
	}
}
