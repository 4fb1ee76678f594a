// internal/server/mux.go
// Package server implements the HTTP handlers and routing for the
// AgriVault data service. It exposes the authentication facade, the
// query interface, marketplace mutations and the offline queue over
// the envelope format the app consumes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Haleem001/agrivault/internal/dataservice"
	errordefs "github.com/Haleem001/agrivault/internal/errors"
	"github.com/Haleem001/agrivault/internal/event"
	"github.com/Haleem001/agrivault/internal/kv"
	"github.com/Haleem001/agrivault/internal/media"
	"github.com/Haleem001/agrivault/internal/metrics"
	"github.com/Haleem001/agrivault/internal/model"
	"github.com/Haleem001/agrivault/internal/offline"
	"github.com/Haleem001/agrivault/internal/storage"
	"github.com/Haleem001/agrivault/internal/telemetry"
)

// ContextKey is used for context values to avoid collisions when
// storing values in request context
type ContextKey string

const (
	ContextKeyProfileID     ContextKey = "profileId"     // Stores the profile ID from the session token
	ContextKeyCorrelationID ContextKey = "correlationId" // Unique ID for request tracking
)

// Mux handles HTTP requests for the AgriVault data service.
type Mux struct {
	mux         *http.ServeMux
	svc         *dataservice.Service
	queue       *offline.Queue
	cache       *offline.Cache
	monitor     *offline.Monitor
	syncer      *offline.Syncer
	pub         event.Publisher
	mediaClient *media.S3Client // nil when S3 is not configured
	metrics     *metrics.Metrics
}

// NewMux creates the HTTP mux with all data service endpoints.
// mediaClient may be nil; upload initialization then reports
// unavailable.
func NewMux(svc *dataservice.Service, queue *offline.Queue, cache *offline.Cache, monitor *offline.Monitor, syncer *offline.Syncer, pub event.Publisher, mediaClient *media.S3Client) *http.ServeMux {
	m := &Mux{
		mux:         http.NewServeMux(),
		svc:         svc,
		queue:       queue,
		cache:       cache,
		monitor:     monitor,
		syncer:      syncer,
		pub:         pub,
		mediaClient: mediaClient,
		metrics:     metrics.NewMetrics(),
	}

	// Health and observability
	m.mux.HandleFunc("/healthz", m.handleHealthz)
	m.mux.HandleFunc("/readyz", m.handleReadyz)
	m.mux.Handle("/metrics", promhttp.Handler())

	// Authentication
	m.mux.HandleFunc("/v1/auth/login", m.method("POST", m.withMiddleware(m.handleLogin)))
	m.mux.HandleFunc("/v1/auth/register", m.method("POST", m.withMiddleware(m.handleRegister)))
	m.mux.HandleFunc("/v1/auth/session", m.method("GET", m.withMiddleware(m.handleSession)))
	m.mux.HandleFunc("/v1/auth/logout", m.method("POST", m.withMiddleware(m.handleLogout)))

	// Query interface
	m.mux.HandleFunc("/v1/query", m.method("GET", m.withMiddleware(m.handleQuery)))

	// Marketplace mutations
	m.mux.HandleFunc("/v1/listings", m.method("POST", m.withMiddleware(m.handleCreate(model.CollectionListings))))
	m.mux.HandleFunc("/v1/listings/", m.withMiddleware(m.handleRecord(model.CollectionListings)))
	m.mux.HandleFunc("/v1/orders", m.method("POST", m.withMiddleware(m.handleCreate(model.CollectionOrders))))
	m.mux.HandleFunc("/v1/orders/", m.withMiddleware(m.handleRecord(model.CollectionOrders)))
	m.mux.HandleFunc("/v1/bookings", m.method("POST", m.withMiddleware(m.handleCreate(model.CollectionBookings))))
	m.mux.HandleFunc("/v1/bookings/", m.withMiddleware(m.handleRecord(model.CollectionBookings)))

	// Offline layer
	m.mux.HandleFunc("/v1/offline/queue", m.withMiddleware(m.handleQueue))
	m.mux.HandleFunc("/v1/offline/queue/", m.method("DELETE", m.withMiddleware(m.handleQueueRemove)))
	m.mux.HandleFunc("/v1/offline/connectivity", m.method("POST", m.withMiddleware(m.handleConnectivity)))
	m.mux.HandleFunc("/v1/offline/status", m.method("GET", m.withMiddleware(m.handleStatus)))
	m.mux.HandleFunc("/v1/offline/sync", m.method("POST", m.withMiddleware(m.handleSync)))

	// Media
	m.mux.HandleFunc("/v1/media/uploadInit", m.method("POST", m.withMiddleware(m.handleUploadInit)))
	m.mux.HandleFunc("/v1/media/finalize", m.method("POST", m.withMiddleware(m.handleUploadFinalize)))

	return m.mux
}

// requiresAuth reports whether a request must carry a valid session
// token. Mutations do; auth endpoints and connectivity reports do not.
func requiresAuth(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/v1/auth/") {
		return false
	}
	if r.URL.Path == "/v1/offline/connectivity" || r.URL.Path == "/v1/offline/status" {
		return false
	}
	switch r.Method {
	case http.MethodPost, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// method ensures the HTTP method matches the expected method
func (m *Mux) method(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			err := errordefs.New(errordefs.AV_BAD_REQUEST, "method not allowed", "")
			m.writeErrorDef(w, err)
			return
		}
		h(w, r)
	}
}

// withMiddleware applies correlation IDs, request logging, metrics and
// session authentication to handlers.
func (m *Mux) withMiddleware(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Add correlation ID if not present
		correlationID := r.Header.Get("X-Correlation-Id")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		r = r.WithContext(context.WithValue(r.Context(), ContextKeyCorrelationID, correlationID))
		w.Header().Set("X-Correlation-Id", correlationID)

		if requiresAuth(r) {
			profileID, err := m.validateSession(r)
			if err != nil {
				var errorDef *errordefs.Error
				if e, ok := err.(*errordefs.Error); ok {
					errorDef = e
					errorDef.CorrelationID = correlationID
				} else {
					errorDef = errordefs.New(errordefs.AV_AUTHN, err.Error(), correlationID)
				}
				m.writeErrorDef(w, errorDef)
				m.logRequest(r, errorDef.HTTPStatus, time.Since(start), correlationID, err)
				return
			}
			r = r.WithContext(context.WithValue(r.Context(), ContextKeyProfileID, profileID))
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)

		duration := time.Since(start)
		m.metrics.HTTPRequestTotal.WithLabelValues(r.Method, r.URL.Path, fmt.Sprint(rec.status)).Inc()
		m.metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path, fmt.Sprint(rec.status)).Observe(duration.Seconds())
		m.logRequest(r, rec.status, duration, correlationID, nil)
	}
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// validateSession validates the bearer token and returns the profile ID.
func (m *Mux) validateSession(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errordefs.New(errordefs.AV_AUTHN, "missing Authorization header", "")
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", errordefs.New(errordefs.AV_AUTHN, "invalid Authorization header format", "")
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")

	claims, err := m.svc.ValidateToken(tokenString)
	if err != nil {
		if strings.Contains(err.Error(), "expired") {
			return "", errordefs.New(errordefs.AV_TOKEN_EXPIRED, "session token expired", "")
		}
		return "", errordefs.New(errordefs.AV_TOKEN_INVALID, fmt.Sprintf("failed to validate token: %v", err), "")
	}
	if claims.Subject == "" {
		return "", errordefs.New(errordefs.AV_TOKEN_INVALID, "missing subject claim", "")
	}
	return claims.Subject, nil
}

// writeSuccess writes a successful response
func (m *Mux) writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]interface{}{
		"data": data,
	}
	_ = json.NewEncoder(w).Encode(response)
}

// writeError writes an error response following the error taxonomy
func (m *Mux) writeError(w http.ResponseWriter, statusCode int, code, message, correlationID string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]interface{}{
		"error": map[string]interface{}{
			"code":          code,
			"message":       message,
			"correlationId": correlationID,
		},
	}
	if details != nil {
		response["error"].(map[string]interface{})["details"] = details
	}
	_ = json.NewEncoder(w).Encode(response)
}

// writeErrorDef writes an error response using the error definitions package
func (m *Mux) writeErrorDef(w http.ResponseWriter, err *errordefs.Error) {
	m.writeError(w, err.HTTPStatus, string(err.Code), err.Message, err.CorrelationID, err.Details)
}

// fail maps any error onto the envelope, preserving typed errors.
func (m *Mux) fail(w http.ResponseWriter, r *http.Request, err error) {
	correlationID, _ := r.Context().Value(ContextKeyCorrelationID).(string)
	var errorDef *errordefs.Error
	if e, ok := err.(*errordefs.Error); ok {
		errorDef = e
		if errorDef.CorrelationID == "" {
			errorDef.CorrelationID = correlationID
		}
	} else if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		errorDef = errordefs.New(errordefs.AV_UNAVAILABLE, "request cancelled", correlationID)
	} else if errors.Is(err, kv.ErrUnavailable) {
		errorDef = errordefs.New(errordefs.AV_UNAVAILABLE, "durable storage unavailable", correlationID)
	} else if errors.Is(err, offline.ErrQueueFull) {
		errorDef = errordefs.New(errordefs.AV_QUEUE_FULL, "offline queue is full", correlationID)
	} else {
		errorDef = errordefs.New(errordefs.AV_INTERNAL, "internal error", correlationID)
		slog.Error("internal error", "path", r.URL.Path, "error", err, "correlation_id", correlationID)
	}
	m.writeErrorDef(w, errorDef)
}

// logRequest logs request details
func (m *Mux) logRequest(r *http.Request, status int, duration time.Duration, correlationID string, err error) {
	attrs := []any{
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"duration", duration,
		"remote_addr", r.RemoteAddr,
		"correlation_id", correlationID,
	}
	if err != nil {
		attrs = append(attrs, "error", err)
		slog.Warn("request failed", attrs...)
		return
	}
	slog.Info("request", attrs...)
}

func (m *Mux) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (m *Mux) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// handleLogin signs a user in by phone number and password.
func (m *Mux) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req model.AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		m.fail(w, r, errordefs.New(errordefs.AV_BAD_REQUEST, "malformed request body", ""))
		return
	}

	session, err := m.svc.Authenticate(r.Context(), req.PhoneNumber, req.Password)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, session)
}

// handleRegister creates an account and signs it in.
func (m *Mux) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req model.AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		m.fail(w, r, errordefs.New(errordefs.AV_BAD_REQUEST, "malformed request body", ""))
		return
	}

	session, err := m.svc.Register(r.Context(), req)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusCreated, session)
}

// handleSession returns the signed-in profile, or null data when
// signed out.
func (m *Mux) handleSession(w http.ResponseWriter, r *http.Request) {
	profile, err := m.svc.CurrentSession(r.Context())
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, profile)
}

func (m *Mux) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := m.svc.EndSession(r.Context()); err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, map[string]bool{"signed_out": true})
}

// parseQuery builds a storage.Query from request parameters:
// collection, repeated eq=column:value filters, select and single.
func parseQuery(r *http.Request) (storage.Query, error) {
	params := r.URL.Query()
	collection := params.Get("collection")
	if collection == "" {
		return storage.Query{}, errordefs.New(errordefs.AV_BAD_REQUEST, "collection is required", "")
	}

	q := storage.NewQuery(collection)
	if sel := params.Get("select"); sel != "" {
		q = q.Select(strings.Split(sel, ",")...)
	}
	for _, eq := range params["eq"] {
		column, value, found := strings.Cut(eq, ":")
		if !found || column == "" {
			return storage.Query{}, errordefs.New(errordefs.AV_BAD_REQUEST,
				fmt.Sprintf("malformed filter %q, want column:value", eq), "")
		}
		q = q.Eq(column, value)
	}
	if params.Get("single") == "true" {
		q = q.One()
	}
	return q, nil
}

// cacheKey is the canonical cache key for a query: collection plus
// sorted filters.
func cacheKey(q storage.Query) string {
	if len(q.Filters) == 0 {
		return q.Collection
	}
	parts := make([]string, 0, len(q.Filters))
	for _, f := range q.Filters {
		parts = append(parts, fmt.Sprintf("%s=%v", f.Column, f.Value))
	}
	sort.Strings(parts)
	return q.Collection + "?" + strings.Join(parts, "&")
}

// handleQuery executes a query. Results are cached while online and
// served from cache while offline.
func (m *Mux) handleQuery(w http.ResponseWriter, r *http.Request) {
	tracer := telemetry.Tracer("agrivault/server")
	ctx, span := tracer.Start(r.Context(), "query")
	defer span.End()

	q, err := parseQuery(r)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	span.SetAttributes(attribute.String("collection", q.Collection))

	if !m.monitor.Online() {
		// Offline reads come from the cache; staleness over nothing.
		cached, ok, err := m.cache.Get(ctx, cacheKey(q), 0)
		if err != nil {
			m.metrics.CacheAccessTotal.WithLabelValues("error").Inc()
			m.fail(w, r, err)
			return
		}
		if !ok {
			m.metrics.CacheAccessTotal.WithLabelValues("miss").Inc()
			m.fail(w, r, errordefs.New(errordefs.AV_UNAVAILABLE, "offline and no cached result", ""))
			return
		}
		m.metrics.CacheAccessTotal.WithLabelValues("hit").Inc()
		m.writeSuccess(w, http.StatusOK, cached)
		return
	}

	if q.Single {
		row, err := m.svc.ExecuteSingle(ctx, q)
		if err != nil {
			m.fail(w, r, err)
			return
		}
		if err := m.cache.Put(ctx, cacheKey(q), row); err != nil {
			slog.Warn("failed to cache query result", "error", err)
		}
		m.writeSuccess(w, http.StatusOK, row)
		return
	}

	rows, err := m.svc.Execute(ctx, q)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	if err := m.cache.Put(ctx, cacheKey(q), rows); err != nil {
		slog.Warn("failed to cache query result", "error", err)
	}
	m.writeSuccess(w, http.StatusOK, rows)
}

// handleCreate inserts a record into the given collection. While
// offline the mutation is captured into the queue instead and the
// response reports it as queued.
func (m *Mux) handleCreate(collection string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			m.fail(w, r, errordefs.New(errordefs.AV_BAD_REQUEST, "malformed request body", ""))
			return
		}

		if !m.monitor.Online() {
			kind, ok := queueKindForCollection(collection)
			if !ok {
				m.fail(w, r, errordefs.New(errordefs.AV_BAD_REQUEST,
					fmt.Sprintf("%s cannot be captured offline", collection), ""))
				return
			}
			item, err := m.queue.Enqueue(r.Context(), kind, payload)
			if err != nil {
				m.metrics.QueueEnqueueTotal.WithLabelValues(string(kind), "error").Inc()
				if !errors.Is(err, offline.ErrQueueFull) && !errors.Is(err, kv.ErrUnavailable) {
					err = errordefs.New(errordefs.AV_SCHEMA_REJECT, err.Error(), "")
				}
				m.fail(w, r, err)
				return
			}
			m.metrics.QueueEnqueueTotal.WithLabelValues(string(kind), "ok").Inc()
			m.updateQueueDepth(r.Context())
			m.writeSuccess(w, http.StatusAccepted, map[string]interface{}{
				"queued": true,
				"item":   item,
			})
			return
		}

		row, err := m.svc.Insert(r.Context(), collection, payload)
		if err != nil {
			m.fail(w, r, err)
			return
		}
		m.writeSuccess(w, http.StatusCreated, row)
	}
}

// handleRecord handles PATCH and DELETE on /v1/<collection>/{id}.
func (m *Mux) handleRecord(collection string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		id := parts[len(parts)-1]
		if id == "" {
			m.fail(w, r, errordefs.New(errordefs.AV_BAD_REQUEST, "record id is required", ""))
			return
		}
		filters := []storage.Filter{{Column: "id", Value: id}}

		switch r.Method {
		case http.MethodPatch:
			var changes map[string]interface{}
			if err := json.NewDecoder(r.Body).Decode(&changes); err != nil {
				m.fail(w, r, errordefs.New(errordefs.AV_BAD_REQUEST, "malformed request body", ""))
				return
			}
			updated, err := m.svc.Update(r.Context(), collection, changes, filters)
			if err != nil {
				m.fail(w, r, err)
				return
			}
			if len(updated) == 0 {
				m.fail(w, r, errordefs.New(errordefs.AV_NOT_FOUND, "record not found", ""))
				return
			}
			m.writeSuccess(w, http.StatusOK, updated[0])

		case http.MethodDelete:
			deleted, err := m.svc.Delete(r.Context(), collection, filters)
			if err != nil {
				m.fail(w, r, err)
				return
			}
			if deleted == 0 {
				m.fail(w, r, errordefs.New(errordefs.AV_NOT_FOUND, "record not found", ""))
				return
			}
			m.writeSuccess(w, http.StatusOK, map[string]int{"deleted": deleted})

		default:
			m.fail(w, r, errordefs.New(errordefs.AV_BAD_REQUEST, "method not allowed", ""))
		}
	}
}

func queueKindForCollection(collection string) (model.QueueKind, bool) {
	switch collection {
	case model.CollectionListings:
		return model.QueueKindListing, true
	case model.CollectionOrders:
		return model.QueueKindOrder, true
	case model.CollectionBookings:
		return model.QueueKindBooking, true
	}
	return "", false
}

// handleQueue lists (GET) or captures (POST) offline mutations.
func (m *Mux) handleQueue(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		items, err := m.queue.List(r.Context())
		if err != nil {
			m.fail(w, r, err)
			return
		}
		m.writeSuccess(w, http.StatusOK, items)

	case http.MethodPost:
		var req model.EnqueueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			m.fail(w, r, errordefs.New(errordefs.AV_BAD_REQUEST, "malformed request body", ""))
			return
		}
		item, err := m.queue.Enqueue(r.Context(), req.Kind, req.Payload)
		if err != nil {
			m.metrics.QueueEnqueueTotal.WithLabelValues(string(req.Kind), "error").Inc()
			if !errors.Is(err, offline.ErrQueueFull) && !errors.Is(err, kv.ErrUnavailable) {
				err = errordefs.NewWithDetails(errordefs.AV_SCHEMA_REJECT, "payload failed validation", "", err.Error())
			}
			m.fail(w, r, err)
			return
		}
		m.metrics.QueueEnqueueTotal.WithLabelValues(string(req.Kind), "ok").Inc()
		m.updateQueueDepth(r.Context())
		m.writeSuccess(w, http.StatusCreated, item)

	default:
		m.fail(w, r, errordefs.New(errordefs.AV_BAD_REQUEST, "method not allowed", ""))
	}
}

// handleQueueRemove removes a single queued item by id.
func (m *Mux) handleQueueRemove(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	id := parts[len(parts)-1]
	if id == "" || id == "queue" {
		m.fail(w, r, errordefs.New(errordefs.AV_BAD_REQUEST, "item id is required", ""))
		return
	}
	if err := m.queue.Remove(r.Context(), id); err != nil {
		m.fail(w, r, err)
		return
	}
	m.updateQueueDepth(r.Context())
	m.writeSuccess(w, http.StatusOK, map[string]bool{"removed": true})
}

// handleConnectivity records a connectivity reading from the host
// environment. A transition to online triggers an automatic sync pass
// through the attached syncer.
func (m *Mux) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	var req model.ConnectivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		m.fail(w, r, errordefs.New(errordefs.AV_BAD_REQUEST, "malformed request body", ""))
		return
	}

	transitioned := m.monitor.Report(req.Online)
	if transitioned {
		if err := m.pub.PublishConnectivityChanged(r.Context(), req.Online); err != nil {
			slog.Warn("failed to publish connectivity event", "error", err)
		}
	}
	m.writeSuccess(w, http.StatusOK, map[string]bool{
		"online":       req.Online,
		"transitioned": transitioned,
	})
}

// handleStatus reports connectivity, queue depth and storage health.
func (m *Mux) handleStatus(w http.ResponseWriter, r *http.Request) {
	depth, degraded, err := m.queue.Depth(r.Context())
	if err != nil {
		// Depth unavailable still yields a status; the queue is the
		// degraded part.
		m.writeSuccess(w, http.StatusOK, model.OfflineStatus{
			Online:   m.monitor.Online(),
			Degraded: true,
		})
		return
	}
	m.metrics.QueueDepth.Set(float64(depth))
	m.writeSuccess(w, http.StatusOK, model.OfflineStatus{
		Online:     m.monitor.Online(),
		QueueDepth: depth,
		Degraded:   degraded,
	})
}

// handleSync runs a sync pass immediately.
func (m *Mux) handleSync(w http.ResponseWriter, r *http.Request) {
	if !m.monitor.Online() {
		m.fail(w, r, errordefs.New(errordefs.AV_UNAVAILABLE, "cannot sync while offline", ""))
		return
	}
	applied, err := m.syncer.Sync(r.Context())
	if err != nil {
		m.metrics.SyncPassTotal.WithLabelValues("error").Inc()
		m.metrics.SyncItemsApplied.Add(float64(applied))
		m.fail(w, r, err)
		return
	}
	m.metrics.SyncPassTotal.WithLabelValues("ok").Inc()
	m.metrics.SyncItemsApplied.Add(float64(applied))
	m.updateQueueDepth(r.Context())
	if err := m.pub.PublishQueueSynced(r.Context(), applied); err != nil {
		slog.Warn("failed to publish sync event", "error", err)
	}
	m.writeSuccess(w, http.StatusOK, map[string]int{"applied": applied})
}

// handleUploadInit issues a presigned URL for a listing image upload.
func (m *Mux) handleUploadInit(w http.ResponseWriter, r *http.Request) {
	if m.mediaClient == nil {
		m.fail(w, r, errordefs.New(errordefs.AV_UNAVAILABLE, "media storage is not configured", ""))
		return
	}

	var req model.UploadInitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		m.fail(w, r, errordefs.New(errordefs.AV_BAD_REQUEST, "malformed request body", ""))
		return
	}
	if err := media.ValidateUpload(req.MimeType, req.Size); err != nil {
		m.fail(w, r, errordefs.New(errordefs.AV_VALIDATION, err.Error(), ""))
		return
	}

	imageID := uuid.New().String()
	key := fmt.Sprintf("listings/%s", imageID)
	expires := 15 * time.Minute
	url, err := m.mediaClient.GenerateUploadURL(r.Context(), key, expires)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, model.UploadInitData{
		ImageID:   imageID,
		UploadURL: url,
		ExpiresAt: time.Now().UTC().Add(expires),
	})
}

// handleUploadFinalize confirms a listing image actually reached
// storage before the client attaches it to a listing.
func (m *Mux) handleUploadFinalize(w http.ResponseWriter, r *http.Request) {
	if m.mediaClient == nil {
		m.fail(w, r, errordefs.New(errordefs.AV_UNAVAILABLE, "media storage is not configured", ""))
		return
	}

	var req model.UploadFinalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		m.fail(w, r, errordefs.New(errordefs.AV_BAD_REQUEST, "malformed request body", ""))
		return
	}
	if req.ImageID == "" {
		m.fail(w, r, errordefs.New(errordefs.AV_VALIDATION, "image_id is required", ""))
		return
	}

	key := fmt.Sprintf("listings/%s", req.ImageID)
	exists, size, err := m.mediaClient.ObjectExists(r.Context(), key)
	if err != nil || !exists {
		m.fail(w, r, errordefs.New(errordefs.AV_NOT_FOUND, "image was not uploaded", ""))
		return
	}
	m.writeSuccess(w, http.StatusOK, model.UploadFinalizeData{
		ImageID:   req.ImageID,
		SizeBytes: size,
	})
}

// updateQueueDepth refreshes the queue depth gauge, best effort.
func (m *Mux) updateQueueDepth(ctx context.Context) {
	if depth, _, err := m.queue.Depth(ctx); err == nil {
		m.metrics.QueueDepth.Set(float64(depth))
	}
}
