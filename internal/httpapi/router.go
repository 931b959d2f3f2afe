package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"courierops/api/internal/cache"
	"courierops/api/internal/config"
	"courierops/api/internal/pricing"
)

type Deps struct {
	DB       *pgxpool.Pool
	Config   config.Config
	Cache    *cache.PolicyCache
	InfoLog  *log.Logger
	ErrorLog *log.Logger
}

// policyStore is what the handlers need from pricing.Store.
type policyStore interface {
	List(ctx context.Context, kind pricing.Kind, organizationID *int64) ([]pricing.Record, error)
	Get(ctx context.Context, id int64) (pricing.Record, error)
	Resolve(ctx context.Context, kind pricing.Kind, terminalID int64) (pricing.Record, error)
	Create(ctx context.Context, rec pricing.Record) (int64, error)
	Update(ctx context.Context, rec pricing.Record) error
	Delete(ctx context.Context, id int64) (pricing.Kind, error)
}

// policyCache is satisfied by *cache.PolicyCache, including a nil one.
type policyCache interface {
	Get(ctx context.Context, kind pricing.Kind, terminalID int64) (pricing.Record, bool, error)
	Set(ctx context.Context, terminalID int64, rec pricing.Record) error
	InvalidateKind(ctx context.Context, kind pricing.Kind) error
}

type App struct {
	db       *pgxpool.Pool
	cfg      config.Config
	policies policyStore
	cache    policyCache
	infoLog  *log.Logger
	errorLog *log.Logger
}

func newApp(deps Deps) *App {
	a := &App{
		db:       deps.DB,
		cfg:      deps.Config,
		policies: pricing.NewStore(deps.DB),
		cache:    deps.Cache,
		infoLog:  deps.InfoLog,
		errorLog: deps.ErrorLog,
	}
	if a.infoLog == nil {
		a.infoLog = log.New(os.Stdout, "INFO\t", log.Ldate|log.Ltime)
	}
	if a.errorLog == nil {
		a.errorLog = log.New(os.Stderr, "ERROR\t", log.Ldate|log.Ltime|log.Lshortfile)
	}
	return a
}

func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	app := newApp(deps)

	r.Route("/api", func(api chi.Router) {
		api.Post("/auth/login", app.handleLogin)
		api.Post("/auth/logout", app.handleLogout)

		api.Group(func(pr chi.Router) {
			pr.Use(app.authMiddleware)
			pr.Get("/auth/me", app.handleMe)
			pr.Post("/pricing/quote", app.handlePricingQuote)

			pr.With(app.requireRole(RoleAdmin)).Route("/admin", func(ad chi.Router) {
				ad.Get("/organizations", app.handleListOrganizations)
				ad.Post("/organizations", app.handleCreateOrganization)
				ad.Put("/organizations/{id}", app.handleUpdateOrganization)
				ad.Delete("/organizations/{id}", app.handleDeleteOrganization)

				ad.Get("/terminals", app.handleListTerminals)
				ad.Post("/terminals", app.handleCreateTerminal)
				ad.Put("/terminals/{id}", app.handleUpdateTerminal)
				ad.Delete("/terminals/{id}", app.handleDeleteTerminal)

				ad.Get("/order-statuses", app.handleListStatuses)
				ad.Post("/order-statuses", app.handleCreateStatus)
				ad.Put("/order-statuses/{id}", app.handleUpdateStatus)
				ad.Delete("/order-statuses/{id}", app.handleDeleteStatus)

				ad.Get("/pricing", app.handleListPricing)
				ad.Post("/pricing", app.handleCreatePricing)
				ad.Get("/pricing/{id}", app.handleGetPricing)
				ad.Put("/pricing/{id}", app.handleUpdatePricing)
				ad.Delete("/pricing/{id}", app.handleDeletePricing)
			})

			pr.With(app.requireRole(RoleAdmin, RoleOperator)).Route("/ops", func(op chi.Router) {
				op.Get("/couriers", app.handleListCouriers)
				op.Post("/couriers", app.handleCreateCourier)
				op.Put("/couriers/{id}", app.handleUpdateCourier)
				op.Delete("/couriers/{id}", app.handleDeleteCourier)
				op.Post("/couriers/{id}/wallet", app.handleCourierWallet)
				op.Post("/couriers/{id}/roll-call", app.handleCourierRollCall)

				op.Get("/orders", app.handleListOrders)
				op.Post("/orders", app.handleCreateOrder)
				op.Patch("/orders/{id}/status", app.handleSetOrderStatus)
			})

			pr.With(app.requireRole(RoleAdmin, RoleOperator, RoleAnalyst)).Route("/reports", func(rp chi.Router) {
				rp.Get("/courier-efficiency", app.handleReportEfficiency)
				rp.Get("/garant", app.handleReportGarant)
				rp.Get("/wallet-balances", app.handleReportWallets)
				rp.Get("/roll-call", app.handleReportRollCall)
			})
		})
	})

	return r
}

// ---------- helpers ----------

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
		Field   string `json:"field,omitempty"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	var e apiError
	e.Error.Code = code
	e.Error.Message = message
	writeJSON(w, status, e)
}

func writeValidationError(w http.ResponseWriter, err error) {
	var ve *pricing.ValidationError
	if !errors.As(err, &ve) {
		writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	var e apiError
	e.Error.Code = "VALIDATION"
	e.Error.Message = ve.Error()
	e.Error.Field = ve.Field
	writeJSON(w, http.StatusBadRequest, e)
}

// writeDBError maps store errors onto the API envelope; what names the entity for 404s.
func (a *App) writeDBError(w http.ResponseWriter, err error, what string) {
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, pricing.ErrUnknownTerminal):
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "terminal not found")
	case errors.Is(err, pgx.ErrNoRows), errors.Is(err, pricing.ErrNotFound):
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", what+" not found")
	case errors.As(err, &pgErr) && pgErr.Code == "23503":
		writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", "referenced record does not exist or is still in use")
	case errors.As(err, &pgErr) && pgErr.Code == "23505":
		writeAPIError(w, http.StatusConflict, "CONFLICT", what+" already exists")
	case errors.As(err, &pgErr) && pgErr.Code == "23514":
		writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", "value rejected: "+pgErr.ConstraintName)
	default:
		a.errorLog.Printf("%s: %v", what, err)
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL", "db error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}
	if pricing.IsValidation(err) {
		writeValidationError(w, err)
		return false
	}
	if errors.Is(err, io.EOF) {
		writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", "empty body")
		return false
	}
	writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json")
	return false
}

func urlID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid id")
		return 0, false
	}
	return id, true
}

// queryID reads an optional positive integer query parameter. A nil result means absent.
func queryID(w http.ResponseWriter, r *http.Request, name string) (*int64, bool) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return nil, true
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid "+name)
		return nil, false
	}
	return &id, true
}

func paging(r *http.Request) (page, pageSize, offset int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(r.URL.Query().Get("pageSize"))
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	return page, pageSize, (page - 1) * pageSize
}
