// internal/server/mux_test.go
// Package server provides unit tests for the HTTP handlers and routing.
package server

import (
	"bytes"
	"encoding/json"
	"fmt"
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
	"github.com/Haleem001/agrivault/internal/storage"
	"github.com/Haleem001/agrivault/internal/testutil"
)

type testEnv struct {
	mux     *http.ServeMux
	svc     *dataservice.Service
	monitor *offline.Monitor
	clock   *testutil.StubClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clk := testutil.FixedClock()
	data := seed.Default(clk.Now())
	kvStore := kv.NewMemory()

	svc := dataservice.New(dataservice.Options{
		Store:     storage.NewMemory(data),
		KV:        kvStore,
		Tokens:    auth.NewTokens([]byte("test-signing-key"), "agrivault", 24*time.Hour, clk),
		Clock:     clk,
		Passwords: data.Passwords,
	})

	validator, err := schema.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator failed: %v", err)
	}
	queue := offline.NewQueue(kvStore, validator, clk, 100, config.QueueRejectNew)
	cache := offline.NewCache(kvStore, clk, time.Hour)
	monitor := offline.NewMonitor(true)
	syncer := offline.NewSyncer(queue, svc, nil)
	syncer.Attach(monitor)

	mux := NewMux(svc, queue, cache, monitor, syncer, event.NewNoop(), nil)
	return &testEnv{mux: mux, svc: svc, monitor: monitor, clock: clk}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.mux.ServeHTTP(rr, req)
	return rr
}

func decodeData(t *testing.T, rr *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to decode envelope: %v (%s)", err, rr.Body.String())
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			t.Fatalf("failed to decode data: %v (%s)", err, envelope.Data)
		}
	}
}

func errorCodeOf(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code          string `json:"code"`
			CorrelationID string `json:"correlationId"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to decode error envelope: %v (%s)", err, rr.Body.String())
	}
	return envelope.Error.Code
}

func (e *testEnv) login(t *testing.T, phone string) string {
	t.Helper()
	rr := e.do(t, "POST", "/v1/auth/login", "", model.AuthRequest{
		PhoneNumber: phone,
		Password:    seed.DemoPassword,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rr.Code, rr.Body.String())
	}
	var session model.SessionData
	decodeData(t, rr, &session)
	return session.Token
}

// TestHealthzEndpoint tests the healthz endpoint.
func TestHealthzEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/healthz", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	if rr.Body.String() != "ok" {
		t.Errorf("handler returned unexpected body: got %v want ok", rr.Body.String())
	}
}

// TestLoginAndSession verifies the login round trip and the session
// endpoint.
func TestLoginAndSession(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "POST", "/v1/auth/login", "", model.AuthRequest{
		PhoneNumber: "+2348034567890",
		Password:    seed.DemoPassword,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d %s", rr.Code, rr.Body.String())
	}
	var session model.SessionData
	decodeData(t, rr, &session)
	if session.Profile.FullName != "Musa Abdullahi" || session.Token == "" {
		t.Errorf("unexpected session: %+v", session)
	}

	rr = env.do(t, "GET", "/v1/auth/session", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("session endpoint failed: %d", rr.Code)
	}
	var profile model.Profile
	decodeData(t, rr, &profile)
	if profile.ID != session.Profile.ID {
		t.Errorf("session profile mismatch: %+v", profile)
	}
}

// TestLoginRejectsWrongPassword verifies the typed credential error.
func TestLoginRejectsWrongPassword(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "POST", "/v1/auth/login", "", model.AuthRequest{
		PhoneNumber: "+2348034567890",
		Password:    "nope",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
	if code := errorCodeOf(t, rr); code != "AV_INVALID_CREDENTIALS" {
		t.Errorf("expected AV_INVALID_CREDENTIALS, got %s", code)
	}
}

// TestRegisterEndpoint registers a new account over HTTP.
func TestRegisterEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "POST", "/v1/auth/register", "", model.AuthRequest{
		PhoneNumber: "+2348150000001",
		Password:    "secret",
		FullName:    "Amina Yakubu",
		UserType:    "buyer",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", rr.Code, rr.Body.String())
	}
	var session model.SessionData
	decodeData(t, rr, &session)
	if session.Profile.UserType != model.UserTypeBuyer {
		t.Errorf("expected buyer, got %s", session.Profile.UserType)
	}
}

// TestQueryEndpoint exercises the query interface with filters and
// single mode.
func TestQueryEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/v1/query?collection=produce_listings&eq=farmer_id:550e8400-e29b-41d4-a716-446655440001", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("query failed: %d %s", rr.Code, rr.Body.String())
	}
	var rows []map[string]interface{}
	decodeData(t, rr, &rows)
	if len(rows) != 3 {
		t.Errorf("expected 3 listings, got %d", len(rows))
	}

	rr = env.do(t, "GET", "/v1/query?collection=profiles&eq=phone_number:%2B2348034567890&single=true", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("single query failed: %d", rr.Code)
	}
	var row map[string]interface{}
	decodeData(t, rr, &row)
	if row["full_name"] != "Musa Abdullahi" {
		t.Errorf("unexpected single result: %v", row)
	}

	// Single mode with no match is data null, not an error.
	rr = env.do(t, "GET", "/v1/query?collection=profiles&eq=id:missing&single=true", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = env.do(t, "GET", "/v1/query?collection=invoices", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown collection, got %d", rr.Code)
	}
	if code := errorCodeOf(t, rr); code != "AV_BAD_COLLECTION" {
		t.Errorf("expected AV_BAD_COLLECTION, got %s", code)
	}
}

// TestMutationsRequireAuth verifies the JWT guard on mutations.
func TestMutationsRequireAuth(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "POST", "/v1/listings", "", map[string]interface{}{})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rr.Code)
	}

	rr = env.do(t, "POST", "/v1/listings", "garbage-token", map[string]interface{}{})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with bad token, got %d", rr.Code)
	}
	if code := errorCodeOf(t, rr); code != "AV_TOKEN_INVALID" {
		t.Errorf("expected AV_TOKEN_INVALID, got %s", code)
	}
}

// TestCreateListingEndpoint creates a listing through the HTTP
// surface.
func TestCreateListingEndpoint(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "+2348012345678")

	rr := env.do(t, "POST", "/v1/listings", token, map[string]interface{}{
		"farmer_id":    "550e8400-e29b-41d4-a716-446655440001",
		"produce_name": "Onions",
		"quantity_kg":  80,
		"price_per_kg": 550,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", rr.Code, rr.Body.String())
	}
	var row map[string]interface{}
	decodeData(t, rr, &row)
	if row["id"] == "" || row["status"] != "available" {
		t.Errorf("unexpected created row: %v", row)
	}
}

// TestOrderStatusPatch verifies the transition guard over HTTP.
func TestOrderStatusPatch(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "+2348023456789")

	// Seeded order 1 is in transit; delivered is the legal next step.
	rr := env.do(t, "PATCH", "/v1/orders/1", token, map[string]interface{}{"status": "delivered"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, "PATCH", "/v1/orders/1", token, map[string]interface{}{"status": "pending"})
	if rr.Code != http.StatusConflict && rr.Code != http.StatusBadRequest {
		t.Fatalf("expected rejection, got %d", rr.Code)
	}
	if code := errorCodeOf(t, rr); code != "AV_BAD_TRANSITION" {
		t.Errorf("expected AV_BAD_TRANSITION, got %s", code)
	}
}

// TestOfflineCaptureAndSync walks the offline round trip: go offline,
// capture a booking, come back online, sync, observe the booking.
func TestOfflineCaptureAndSync(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "+2348012345678")

	rr := env.do(t, "POST", "/v1/offline/connectivity", "", model.ConnectivityRequest{Online: false})
	if rr.Code != http.StatusOK {
		t.Fatalf("connectivity report failed: %d", rr.Code)
	}

	// Mutations while offline land in the queue.
	rr = env.do(t, "POST", "/v1/bookings", token, map[string]interface{}{
		"farmer_id":           "550e8400-e29b-41d4-a716-446655440001",
		"storage_facility_id": "1",
		"quantity_kg":         50,
	})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 queued, got %d %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, "GET", "/v1/offline/status", "", nil)
	var status model.OfflineStatus
	decodeData(t, rr, &status)
	if status.Online || status.QueueDepth != 1 {
		t.Errorf("unexpected status: %+v", status)
	}

	// Back online, run the sync pass.
	env.do(t, "POST", "/v1/offline/connectivity", "", model.ConnectivityRequest{Online: true})

	// The monitor transition already triggered an automatic pass;
	// wait for it to drain rather than racing it with a manual sync.
	deadline := time.Now().Add(2 * time.Second)
	for {
		rr = env.do(t, "GET", "/v1/offline/status", "", nil)
		decodeData(t, rr, &status)
		if status.QueueDepth == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("queue did not drain: %+v", status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	rr = env.do(t, "GET", "/v1/query?collection=storage_bookings", "", nil)
	var bookings []map[string]interface{}
	decodeData(t, rr, &bookings)
	if len(bookings) != 1 {
		t.Fatalf("expected replayed booking, got %d", len(bookings))
	}
	if bookings[0]["quantity_kg"] != float64(50) {
		t.Errorf("unexpected booking: %v", bookings[0])
	}
}

// TestOfflineQueryServedFromCache verifies reads fall back to cached
// results while offline and expire with the clock.
func TestOfflineQueryServedFromCache(t *testing.T) {
	env := newTestEnv(t)

	// Prime the cache online.
	rr := env.do(t, "GET", "/v1/query?collection=produce_listings", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("query failed: %d", rr.Code)
	}

	env.do(t, "POST", "/v1/offline/connectivity", "", model.ConnectivityRequest{Online: false})

	rr = env.do(t, "GET", "/v1/query?collection=produce_listings", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected cached result, got %d %s", rr.Code, rr.Body.String())
	}
	var rows []map[string]interface{}
	decodeData(t, rr, &rows)
	if len(rows) != 7 {
		t.Errorf("expected 7 cached listings, got %d", len(rows))
	}

	// Uncached queries fail offline.
	rr = env.do(t, "GET", "/v1/query?collection=orders", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 for uncached offline query, got %d", rr.Code)
	}

	// Cache entries expire by absolute age.
	env.clock.Advance(2 * time.Hour)
	rr = env.do(t, "GET", "/v1/query?collection=produce_listings", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 after cache expiry, got %d", rr.Code)
	}
}

// TestQueueEndpointValidation verifies schema rejection over HTTP.
func TestQueueEndpointValidation(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "+2348012345678")

	rr := env.do(t, "POST", "/v1/offline/queue", token, model.EnqueueRequest{
		Kind:    model.QueueKindOrder,
		Payload: map[string]interface{}{"buyer_id": "x"},
	})
	if rr.Code != http.StatusBadRequest && rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected rejection, got %d %s", rr.Code, rr.Body.String())
	}
	if code := errorCodeOf(t, rr); code != "AV_SCHEMA_REJECT" {
		t.Errorf("expected AV_SCHEMA_REJECT, got %s", code)
	}
}

// TestQueueRemoveEndpoint verifies targeted removal by id.
func TestQueueRemoveEndpoint(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "+2348012345678")

	rr := env.do(t, "POST", "/v1/offline/queue", token, model.EnqueueRequest{
		Kind: model.QueueKindListing,
		Payload: map[string]interface{}{
			"farmer_id":    "550e8400-e29b-41d4-a716-446655440001",
			"produce_name": "Okra",
			"quantity_kg":  20,
			"price_per_kg": 900,
		},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("enqueue failed: %d %s", rr.Code, rr.Body.String())
	}
	var item model.QueueItem
	decodeData(t, rr, &item)

	rr = env.do(t, "DELETE", fmt.Sprintf("/v1/offline/queue/%s", item.ID), token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("remove failed: %d %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, "GET", "/v1/offline/queue", "", nil)
	var items []model.QueueItem
	decodeData(t, rr, &items)
	if len(items) != 0 {
		t.Errorf("expected empty queue, got %d items", len(items))
	}
}

// TestUploadInitWithoutS3 verifies the media endpoint degrades
// cleanly when S3 is not configured.
func TestUploadInitWithoutS3(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "+2348012345678")

	rr := env.do(t, "POST", "/v1/media/uploadInit", token, model.UploadInitRequest{
		MimeType: "image/jpeg",
		Size:     1024,
	})
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rr.Code)
	}
}

// TestUploadFinalizeWithoutS3 verifies upload confirmation degrades
// cleanly when S3 is not configured.
func TestUploadFinalizeWithoutS3(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "+2348012345678")

	rr := env.do(t, "POST", "/v1/media/finalize", token, model.UploadFinalizeRequest{
		ImageID: "some-image-id",
	})
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rr.Code)
	}
}

// TestCorrelationIDHeader verifies every response carries a
// correlation id.
func TestCorrelationIDHeader(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/v1/query?collection=profiles", "", nil)
	if rr.Header().Get("X-Correlation-Id") == "" {
		t.Error("expected X-Correlation-Id header")
	}

	req := httptest.NewRequest("GET", "/v1/query?collection=profiles", nil)
	req.Header.Set("X-Correlation-Id", "my-correlation-id")
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	if rec.Header().Get("X-Correlation-Id") != "my-correlation-id" {
		t.Errorf("expected caller correlation id echoed, got %s", rec.Header().Get("X-Correlation-Id"))
	}
}
