// Package http provides the JSON API handlers for meterlink.
package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/novalabs/meterlink/adapters/metrics"
	"github.com/novalabs/meterlink/app"
	"github.com/novalabs/meterlink/pkg/apperr"
	"github.com/novalabs/meterlink/ports"
)

// Handler serves the meterlink JSON API.
type Handler struct {
	provisioner *app.Provisioner
	ingestor    *app.Ingestor
	usage       *app.UsageService
	account     *app.AccountService
	store       ports.StateStore
	collector   *metrics.Collector
	logger      zerolog.Logger

	defaultCustomerName string
	defaultIngestAlias  string
}

// HandlerDeps contains dependencies for Handler.
type HandlerDeps struct {
	Provisioner *app.Provisioner
	Ingestor    *app.Ingestor
	Usage       *app.UsageService
	Account     *app.AccountService
	Store       ports.StateStore
	Collector   *metrics.Collector
	Logger      zerolog.Logger

	// Defaults for POST /api/customers with an empty body.
	DefaultCustomerName string
	DefaultIngestAlias  string
}

// NewHandler creates the API handler.
func NewHandler(deps HandlerDeps) *Handler {
	return &Handler{
		provisioner:         deps.Provisioner,
		ingestor:            deps.Ingestor,
		usage:               deps.Usage,
		account:             deps.Account,
		store:               deps.Store,
		collector:           deps.Collector,
		logger:              deps.Logger.With().Str("component", "http").Logger(),
		defaultCustomerName: deps.DefaultCustomerName,
		defaultIngestAlias:  deps.DefaultIngestAlias,
	}
}

// Router builds the chi router for the API.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if h.collector != nil {
		r.Use(h.instrument)
	}

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/customers", h.CreateCustomer)
		r.Post("/metrics", h.CreateMetric)
		r.Post("/pricing", h.CreatePricing)
		r.Post("/contract", h.CreateContract)
		r.Post("/ingest", h.Ingest)
		r.Post("/dashboard", h.Dashboard)
		r.Get("/status", h.Status)
		r.Get("/usage", h.Usage)
		r.Get("/balance", h.Balance)
	})

	return r
}

// instrument records request totals and latency.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		h.collector.RequestsInFlight.Inc()
		defer h.collector.RequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// The matched route pattern keeps label cardinality bounded;
		// raw request paths would mint a series per unique URL.
		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = "unmatched"
		}

		status := strconv.Itoa(ww.Status())
		h.collector.RequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		h.collector.RequestDuration.WithLabelValues(r.Method, path, status).
			Observe(time.Since(start).Seconds())
	})
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error struct {
		Code    string   `json:"code"`
		Message string   `json:"message"`
		Allowed []string `json:"allowed,omitempty"`
		Hint    string   `json:"hint,omitempty"`
	} `json:"error"`
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindConfiguration:
		return http.StatusConflict
	case apperr.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := apperr.From(err)

	var body errorBody
	body.Error.Code = e.Kind.String()
	body.Error.Message = e.Message
	body.Error.Allowed = e.Allowed
	body.Error.Hint = e.Hint

	status := statusFor(e.Kind)
	if status >= 500 {
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	} else {
		h.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("request rejected")
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decode parses a JSON body; an empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateCustomer handles POST /api/customers.
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		IngestAlias string `json:"ingest_alias"`
	}
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, apperr.Validation("invalid JSON body"))
		return
	}
	if req.Name == "" {
		req.Name = h.defaultCustomerName
	}
	if req.IngestAlias == "" {
		req.IngestAlias = h.defaultIngestAlias
	}
	if req.Name == "" || req.IngestAlias == "" {
		h.writeError(w, r, apperr.Validation("name and ingest_alias are required"))
		return
	}

	c, err := h.provisioner.EnsureCustomer(r.Context(), req.Name, req.IngestAlias)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"customer_id":  c.ID,
		"name":         c.Name,
		"ingest_alias": req.IngestAlias,
	})
}

// CreateMetric handles POST /api/metrics.
func (h *Handler) CreateMetric(w http.ResponseWriter, r *http.Request) {
	m, err := h.provisioner.EnsureMetric(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"metric_id":        m.ID,
		"name":             m.Name,
		"event_type":       m.EventType,
		"aggregation_type": m.AggregationType,
	})
}

// CreatePricing handles POST /api/pricing.
func (h *Handler) CreatePricing(w http.ResponseWriter, r *http.Request) {
	productID, rateCardID, err := h.provisioner.EnsurePricing(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	prices, err := h.provisioner.RefreshPrices(r.Context())
	if err != nil {
		// Pricing objects exist; price cache refresh is best effort here.
		h.logger.Warn().Err(err).Msg("price refresh after provisioning failed")
		prices = nil
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"product_id":     productID,
		"rate_card_id":   rateCardID,
		"prices_by_tier": prices,
	})
}

// CreateContract handles POST /api/contract.
func (h *Handler) CreateContract(w http.ResponseWriter, r *http.Request) {
	id, err := h.provisioner.EnsureContract(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contract_id": id})
}

// ingestRequest is the POST /api/ingest body.
type ingestRequest struct {
	CustomerID    string            `json:"customer_id"`
	Tier          string            `json:"tier"`
	Quantity      int64             `json:"quantity"`
	Timestamp     string            `json:"timestamp"`
	TransactionID string            `json:"transaction_id"`
	Properties    map[string]string `json:"properties"`
}

// Ingest handles POST /api/ingest.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, apperr.Validation("invalid JSON body"))
		return
	}

	var ts time.Time
	if req.Timestamp != "" {
		var err error
		ts, err = time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			h.writeError(w, r, apperr.Validation("timestamp must be RFC3339"))
			return
		}
	}

	rcpt, err := h.ingestor.Ingest(r.Context(), app.IngestRequest{
		CustomerID:    req.CustomerID,
		TierKey:       req.Tier,
		Quantity:      req.Quantity,
		Timestamp:     ts,
		TransactionID: req.TransactionID,
		Properties:    req.Properties,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rcpt)
}

// Status handles GET /api/status: the current state document.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	doc, err := h.store.Load(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Usage handles GET /api/usage?date=YYYY-MM-DD (default: today UTC).
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	day := h.usage.Today()
	if v := r.URL.Query().Get("date"); v != "" {
		var err error
		day, err = time.Parse("2006-01-02", v)
		if err != nil {
			h.writeError(w, r, apperr.Validation("date must be YYYY-MM-DD"))
			return
		}
	}

	tiers, err := h.usage.Usage(r.Context(), day)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":  day.Format("2006-01-02"),
		"tiers": tiers,
	})
}

// Balance handles GET /api/balance.
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.account.Balance(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_cents":     bal.TotalCents,
		"remaining_cents": bal.RemainingCents,
	})
}

// Dashboard handles POST /api/dashboard.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Dashboard string `json:"dashboard"`
	}
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, apperr.Validation("invalid JSON body"))
		return
	}

	u, err := h.account.DashboardURL(r.Context(), req.Dashboard)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": u})
}
