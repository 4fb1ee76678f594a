// Package conformance provides an end-to-end harness that exercises
// the AgriVault data service over HTTP the way the marketplace app
// does: sign in, query, mutate, go offline, capture, reconnect, sync.
package conformance

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Haleem001/agrivault/internal/auth"
	"github.com/Haleem001/agrivault/internal/config"
	"github.com/Haleem001/agrivault/internal/dataservice"
	"github.com/Haleem001/agrivault/internal/event"
	"github.com/Haleem001/agrivault/internal/kv"
	"github.com/Haleem001/agrivault/internal/model"
	"github.com/Haleem001/agrivault/internal/offline"
	"github.com/Haleem001/agrivault/internal/schema"
	"github.com/Haleem001/agrivault/internal/seed"
	"github.com/Haleem001/agrivault/internal/server"
	"github.com/Haleem001/agrivault/internal/storage"
	"github.com/Haleem001/agrivault/internal/testutil"
)

// Harness runs the full service stack behind an httptest server.
type Harness struct {
	server *httptest.Server
	clock  *testutil.StubClock
	token  string
}

// Config holds configuration for the conformance harness.
type Config struct {
	// QueueCapacity bounds the offline queue. Zero means unbounded.
	QueueCapacity int

	// QueuePolicy selects the behavior at capacity.
	QueuePolicy config.QueuePolicy

	// CacheMaxAge is the maximum age for cached query results.
	CacheMaxAge time.Duration
}

// NewHarness creates a harness over the seeded in-memory stack with a
// stub clock so cache expiry scenarios are deterministic.
func NewHarness(cfg Config) (*Harness, error) {
	if cfg.QueuePolicy == "" {
		cfg.QueuePolicy = config.QueueRejectNew
	}
	if cfg.CacheMaxAge == 0 {
		cfg.CacheMaxAge = time.Hour
	}

	clk := testutil.FixedClock()
	data := seed.Default(clk.Now())
	kvStore := kv.NewMemory()

	svc := dataservice.New(dataservice.Options{
		Store:     storage.NewMemory(data),
		KV:        kvStore,
		Tokens:    auth.NewTokens([]byte("conformance-key"), "agrivault", 24*time.Hour, clk),
		Clock:     clk,
		Passwords: data.Passwords,
	})

	validator, err := schema.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize schema validator: %w", err)
	}
	queue := offline.NewQueue(kvStore, validator, clk, cfg.QueueCapacity, cfg.QueuePolicy)
	cache := offline.NewCache(kvStore, clk, cfg.CacheMaxAge)
	monitor := offline.NewMonitor(true)
	syncer := offline.NewSyncer(queue, svc, nil)

	// The monitor is deliberately not attached to the syncer here so
	// scenarios control when the queue drains via /v1/offline/sync.
	mux := server.NewMux(svc, queue, cache, monitor, syncer, event.NewNoop(), nil)

	return &Harness{
		server: httptest.NewServer(mux),
		clock:  clk,
	}, nil
}

// URL returns the base URL of the test server.
func (h *Harness) URL() string {
	return h.server.URL
}

// Close shuts down the test server.
func (h *Harness) Close() {
	h.server.Close()
}

// RunScenarios runs the end-to-end scenarios against the service.
func (h *Harness) RunScenarios(t *testing.T) {
	t.Run("Health", h.testHealth)
	t.Run("AuthRoundTrip", h.testAuthRoundTrip)
	t.Run("MarketplaceQueries", h.testMarketplaceQueries)
	t.Run("OfflineBookingCapture", h.testOfflineBookingCapture)
	t.Run("ScreenShapedCapture", h.testScreenShapedCapture)
	t.Run("CacheExpiry", h.testCacheExpiry)
}

// post sends a JSON body and decodes the data envelope into out.
func (h *Harness) post(t *testing.T, path string, body, out interface{}) (int, string) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	req, err := http.NewRequest("POST", h.URL()+path, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	return h.do(t, req, out)
}

// get fetches a path and decodes the data envelope into out.
func (h *Harness) get(t *testing.T, path string, out interface{}) (int, string) {
	t.Helper()
	req, err := http.NewRequest("GET", h.URL()+path, nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	return h.do(t, req, out)
}

// do executes the request and returns the status code and error code,
// if any.
func (h *Harness) do(t *testing.T, req *http.Request, out interface{}) (int, string) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}

	var envelope struct {
		Data  json.RawMessage `json:"data"`
		Error *struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("malformed envelope: %v (%s)", err, raw)
	}
	if envelope.Error != nil {
		return resp.StatusCode, envelope.Error.Code
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			t.Fatalf("failed to decode data: %v (%s)", err, envelope.Data)
		}
	}
	return resp.StatusCode, ""
}

// testHealth verifies the health endpoints respond.
func (h *Harness) testHealth(t *testing.T) {
	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(h.URL() + path)
		if err != nil {
			t.Fatalf("failed to GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected status 200 for %s, got %d", path, resp.StatusCode)
		}
	}
}

// testAuthRoundTrip signs in a seeded farmer, checks the session and
// keeps the token for the remaining scenarios.
func (h *Harness) testAuthRoundTrip(t *testing.T) {
	var session model.SessionData
	status, code := h.post(t, "/v1/auth/login", model.AuthRequest{
		PhoneNumber: "+2348034567890",
		Password:    seed.DemoPassword,
	}, &session)
	if status != http.StatusOK || code != "" {
		t.Fatalf("login failed: %d %s", status, code)
	}
	if session.Profile.FullName != "Musa Abdullahi" {
		t.Errorf("unexpected profile: %+v", session.Profile)
	}
	if session.Profile.Email != "+2348034567890@agrivault.app" {
		t.Errorf("unexpected synthetic email: %s", session.Profile.Email)
	}
	h.token = session.Token

	var profile model.Profile
	status, _ = h.get(t, "/v1/auth/session", &profile)
	if status != http.StatusOK || profile.ID != session.Profile.ID {
		t.Errorf("session mismatch: %d %+v", status, profile)
	}
}

// testMarketplaceQueries runs the filter queries the app issues.
func (h *Harness) testMarketplaceQueries(t *testing.T) {
	var listings []map[string]interface{}
	status, _ := h.get(t, "/v1/query?collection=produce_listings", &listings)
	if status != http.StatusOK || len(listings) != 7 {
		t.Fatalf("expected 7 listings, got status %d len %d", status, len(listings))
	}
	// Every listing carries its farmer profile inline.
	for _, l := range listings {
		if _, ok := l["farmer"].(map[string]interface{}); !ok {
			t.Errorf("listing %v missing embedded farmer", l["id"])
		}
	}

	var facilities []map[string]interface{}
	status, _ = h.get(t, "/v1/query?collection=storage_facilities&eq=status:operational", &facilities)
	if status != http.StatusOK || len(facilities) != 4 {
		t.Errorf("expected 4 operational facilities, got %d", len(facilities))
	}
}

// testOfflineBookingCapture books storage while offline, verifies the
// mutation is queued not applied, reconnects and syncs.
func (h *Harness) testOfflineBookingCapture(t *testing.T) {
	if h.token == "" {
		t.Skip("auth scenario did not run")
	}

	h.post(t, "/v1/offline/connectivity", model.ConnectivityRequest{Online: false}, nil)

	status, _ := h.post(t, "/v1/bookings", map[string]interface{}{
		"farmer_id":           "550e8400-e29b-41d4-a716-446655440003",
		"storage_facility_id": "1",
		"quantity_kg":         50,
	}, nil)
	if status != http.StatusAccepted {
		t.Fatalf("expected 202 while offline, got %d", status)
	}

	// The booking must not exist yet.
	var bookings []map[string]interface{}
	h.post(t, "/v1/offline/connectivity", model.ConnectivityRequest{Online: true}, nil)
	h.get(t, "/v1/query?collection=storage_bookings", &bookings)
	if len(bookings) != 0 {
		t.Fatalf("booking applied before sync: %v", bookings)
	}

	var result map[string]int
	status, code := h.post(t, "/v1/offline/sync", nil, &result)
	if status != http.StatusOK || code != "" {
		t.Fatalf("sync failed: %d %s", status, code)
	}
	if result["applied"] != 1 {
		t.Errorf("expected 1 applied, got %d", result["applied"])
	}

	h.get(t, "/v1/query?collection=storage_bookings", &bookings)
	if len(bookings) != 1 {
		t.Fatalf("expected replayed booking, got %d", len(bookings))
	}

	// Capacity was reserved during replay.
	var facility map[string]interface{}
	h.get(t, "/v1/query?collection=storage_facilities&eq=id:1&single=true", &facility)
	if facility["available_capacity_kg"] != float64(4950) {
		t.Errorf("expected 4950 kg available, got %v", facility["available_capacity_kg"])
	}
}

// testScreenShapedCapture queues a booking in the exact shape the
// booking screen writes, verifies it round-trips verbatim, and syncs
// it into a record.
func (h *Harness) testScreenShapedCapture(t *testing.T) {
	if h.token == "" {
		t.Skip("auth scenario did not run")
	}

	h.post(t, "/v1/offline/connectivity", model.ConnectivityRequest{Online: false}, nil)

	payload := map[string]interface{}{
		"produceType": "Tomatoes",
		"quantity":    "50",
		"duration":    "2",
	}
	var item model.QueueItem
	status, code := h.post(t, "/v1/offline/queue", model.EnqueueRequest{
		Kind:    model.QueueKindBooking,
		Payload: payload,
	}, &item)
	if status != http.StatusCreated || code != "" {
		t.Fatalf("enqueue failed: %d %s", status, code)
	}

	var items []model.QueueItem
	h.get(t, "/v1/offline/queue", &items)
	if len(items) != 1 || items[0].Kind != model.QueueKindBooking {
		t.Fatalf("expected one queued booking, got %+v", items)
	}
	for k, want := range payload {
		if items[0].Payload[k] != want {
			t.Errorf("payload[%s]: got %v, want %v", k, items[0].Payload[k], want)
		}
	}

	h.post(t, "/v1/offline/connectivity", model.ConnectivityRequest{Online: true}, nil)
	var result map[string]int
	status, code = h.post(t, "/v1/offline/sync", nil, &result)
	if status != http.StatusOK || code != "" || result["applied"] != 1 {
		t.Fatalf("sync failed: %d %s %v", status, code, result)
	}

	// Replay converted the capture into a record against the first
	// facility; the earlier scenario left 4950 kg there.
	var facility map[string]interface{}
	h.get(t, "/v1/query?collection=storage_facilities&eq=id:1&single=true", &facility)
	if facility["available_capacity_kg"] != float64(4900) {
		t.Errorf("expected 4900 kg available, got %v", facility["available_capacity_kg"])
	}
}

// testCacheExpiry verifies cached reads serve while offline and expire
// with the clock.
func (h *Harness) testCacheExpiry(t *testing.T) {
	// Prime the cache online.
	var listings []map[string]interface{}
	status, _ := h.get(t, "/v1/query?collection=produce_listings", &listings)
	if status != http.StatusOK {
		t.Fatalf("priming query failed: %d", status)
	}

	h.post(t, "/v1/offline/connectivity", model.ConnectivityRequest{Online: false}, nil)
	defer h.post(t, "/v1/offline/connectivity", model.ConnectivityRequest{Online: true}, nil)

	status, _ = h.get(t, "/v1/query?collection=produce_listings", &listings)
	if status != http.StatusOK {
		t.Fatalf("expected cached result offline, got %d", status)
	}

	h.clock.Advance(2 * time.Hour)
	status, code := h.get(t, "/v1/query?collection=produce_listings", nil)
	if status != http.StatusServiceUnavailable || code != "AV_UNAVAILABLE" {
		t.Errorf("expected expiry after max age, got %d %s", status, code)
	}
}
