package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nportel/conciliador/internal/domain"
	"github.com/nportel/conciliador/internal/reconcile"
	"github.com/nportel/conciliador/internal/report"
	"github.com/nportel/conciliador/internal/store"
	"github.com/nportel/conciliador/internal/syncer"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciler_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reconciler_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"method", "endpoint"})
)

type Handler struct {
	store     *store.Store
	syncer    *syncer.Engine
	reconcile *reconcile.Engine
	report    *report.Aggregator
}

func NewHandler(s *store.Store, sync *syncer.Engine, rec *reconcile.Engine, rep *report.Aggregator) *Handler {
	return &Handler{store: s, syncer: sync, reconcile: rec, report: rep}
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SyncButtonHandler triggers both entity-type sync passes for one button.
// A failed pass is still a 200: the caller gets a non-success summary, the
// detail lives in the sync log.
func (h *Handler) SyncButtonHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/buttons/{id}/sync"))
	defer timer.ObserveDuration()

	button, ok := h.buttonFromPath(w, r, "POST", "/buttons/{id}/sync")
	if !ok {
		return
	}

	result := h.syncer.SyncButton(r.Context(), *button)
	httpRequestsTotal.WithLabelValues("POST", "/buttons/{id}/sync", "200").Inc()
	respondWithJSON(w, http.StatusOK, result)
}

// MatchButtonHandler triggers the processor-driven matching pass for a button.
func (h *Handler) MatchButtonHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/buttons/{id}/match"))
	defer timer.ObserveDuration()

	button, ok := h.buttonFromPath(w, r, "POST", "/buttons/{id}/match")
	if !ok {
		return
	}

	result := h.reconcile.MatchViaProcessor(r.Context(), *button)
	httpRequestsTotal.WithLabelValues("POST", "/buttons/{id}/match", "200").Inc()
	respondWithJSON(w, http.StatusOK, result)
}

// BackfillButtonHandler triggers the expected-date backfill pass for a button.
func (h *Handler) BackfillButtonHandler(w http.ResponseWriter, r *http.Request) {
	button, ok := h.buttonFromPath(w, r, "POST", "/buttons/{id}/backfill")
	if !ok {
		return
	}

	result := h.reconcile.BackfillExpectedDates(r.Context(), *button)
	httpRequestsTotal.WithLabelValues("POST", "/buttons/{id}/backfill", "200").Inc()
	respondWithJSON(w, http.StatusOK, result)
}

// ReconcileOrganizationHandler triggers the local heuristic matching pass.
func (h *Handler) ReconcileOrganizationHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/organizations/{id}/reconcile"))
	defer timer.ObserveDuration()

	orgID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		httpRequestsTotal.WithLabelValues("POST", "/organizations/{id}/reconcile", "400").Inc()
		respondWithError(w, http.StatusBadRequest, "Invalid organization id")
		return
	}

	result := h.reconcile.Reconcile(r.Context(), orgID)
	httpRequestsTotal.WithLabelValues("POST", "/organizations/{id}/reconcile", "200").Inc()
	respondWithJSON(w, http.StatusOK, result)
}

// SummaryHandler returns the windowed reconciliation summary. from/to are
// optional YYYY-MM-DD query params; both bounds are validated before any
// storage read.
func (h *Handler) SummaryHandler(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		httpRequestsTotal.WithLabelValues("GET", "/organizations/{id}/summary", "400").Inc()
		respondWithError(w, http.StatusBadRequest, "Invalid organization id")
		return
	}

	from, err := parseDateParam(r, "from")
	if err != nil {
		httpRequestsTotal.WithLabelValues("GET", "/organizations/{id}/summary", "400").Inc()
		respondWithError(w, http.StatusBadRequest, "Invalid from date, expected YYYY-MM-DD")
		return
	}
	to, err := parseDateParam(r, "to")
	if err != nil {
		httpRequestsTotal.WithLabelValues("GET", "/organizations/{id}/summary", "400").Inc()
		respondWithError(w, http.StatusBadRequest, "Invalid to date, expected YYYY-MM-DD")
		return
	}
	if from != nil && to != nil && to.Before(*from) {
		httpRequestsTotal.WithLabelValues("GET", "/organizations/{id}/summary", "422").Inc()
		respondWithError(w, http.StatusUnprocessableEntity, "to date is before from date")
		return
	}

	summary, err := h.report.Summarize(r.Context(), orgID, from, to)
	if err != nil {
		httpRequestsTotal.WithLabelValues("GET", "/organizations/{id}/summary", "500").Inc()
		respondWithError(w, http.StatusInternalServerError, "Failed to compute summary")
		return
	}

	httpRequestsTotal.WithLabelValues("GET", "/organizations/{id}/summary", "200").Inc()
	respondWithJSON(w, http.StatusOK, summary)
}

// SyncLogHandler returns the most recent sync-log entries for a button.
func (h *Handler) SyncLogHandler(w http.ResponseWriter, r *http.Request) {
	buttonID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		httpRequestsTotal.WithLabelValues("GET", "/buttons/{id}/synclog", "400").Inc()
		respondWithError(w, http.StatusBadRequest, "Invalid button id")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			httpRequestsTotal.WithLabelValues("GET", "/buttons/{id}/synclog", "400").Inc()
			respondWithError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	entries, err := h.store.ListSyncLog(r.Context(), buttonID, limit)
	if err != nil {
		httpRequestsTotal.WithLabelValues("GET", "/buttons/{id}/synclog", "500").Inc()
		respondWithError(w, http.StatusInternalServerError, "Failed to read sync log")
		return
	}

	httpRequestsTotal.WithLabelValues("GET", "/buttons/{id}/synclog", "200").Inc()
	respondWithJSON(w, http.StatusOK, entries)
}

func (h *Handler) buttonFromPath(w http.ResponseWriter, r *http.Request, method, endpoint string) (*domain.PaymentButton, bool) {
	buttonID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		httpRequestsTotal.WithLabelValues(method, endpoint, "400").Inc()
		respondWithError(w, http.StatusBadRequest, "Invalid button id")
		return nil, false
	}

	button, err := h.store.GetButton(r.Context(), buttonID)
	if err != nil {
		if errors.Is(err, store.ErrButtonNotFound) {
			httpRequestsTotal.WithLabelValues(method, endpoint, "404").Inc()
			respondWithError(w, http.StatusNotFound, "Payment button not found")
			return nil, false
		}
		httpRequestsTotal.WithLabelValues(method, endpoint, "500").Inc()
		respondWithError(w, http.StatusInternalServerError, "Failed to load payment button")
		return nil, false
	}
	return button, true
}

func parseDateParam(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
