// internal/dataservice/service_test.go
// Package dataservice provides unit tests for the data access facade.
package dataservice

import (
	"context"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Haleem001/agrivault/internal/auth"
	averrors "github.com/Haleem001/agrivault/internal/errors"
	"github.com/Haleem001/agrivault/internal/kv"
	"github.com/Haleem001/agrivault/internal/metrics"
	"github.com/Haleem001/agrivault/internal/model"
	"github.com/Haleem001/agrivault/internal/seed"
	"github.com/Haleem001/agrivault/internal/storage"
	"github.com/Haleem001/agrivault/internal/testutil"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	clk := testutil.FixedClock()
	data := seed.Default(clk.Now())
	return New(Options{
		Store:     storage.NewMemory(data),
		KV:        kv.NewMemory(),
		Tokens:    auth.NewTokens([]byte("test-signing-key"), "agrivault", 24*time.Hour, clk),
		Clock:     clk,
		Passwords: data.Passwords,
	})
}

func errorCode(t *testing.T, err error) averrors.ErrorCode {
	t.Helper()
	avErr, ok := err.(*averrors.Error)
	if !ok {
		t.Fatalf("expected typed error, got %T: %v", err, err)
	}
	return avErr.Code
}

// TestAuthenticateSeededFarmer signs in a seeded farmer with the demo
// password and verifies the session round trip.
func TestAuthenticateSeededFarmer(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	session, err := svc.Authenticate(ctx, "+2348034567890", seed.DemoPassword)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if session.Profile.FullName != "Musa Abdullahi" {
		t.Errorf("unexpected profile: %s", session.Profile.FullName)
	}
	if session.Profile.Email != "+2348034567890@agrivault.app" {
		t.Errorf("unexpected synthetic email: %s", session.Profile.Email)
	}
	if session.Token == "" {
		t.Error("expected session token")
	}

	claims, err := svc.ValidateToken(session.Token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.Subject != session.Profile.ID {
		t.Errorf("token subject %s does not match profile %s", claims.Subject, session.Profile.ID)
	}

	current, err := svc.CurrentSession(ctx)
	if err != nil {
		t.Fatalf("CurrentSession failed: %v", err)
	}
	if current == nil || current.ID != session.Profile.ID {
		t.Errorf("unexpected current session: %+v", current)
	}
}

// TestAuthenticateRejectsBadCredentials verifies wrong passwords and
// unknown phones read identically.
func TestAuthenticateRejectsBadCredentials(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Authenticate(ctx, "+2348034567890", "wrong")
	if errorCode(t, err) != averrors.AV_INVALID_CREDENTIALS {
		t.Errorf("expected AV_INVALID_CREDENTIALS, got %v", err)
	}
	wrongPass := err.Error()

	_, err = svc.Authenticate(ctx, "+2340000000000", seed.DemoPassword)
	if errorCode(t, err) != averrors.AV_INVALID_CREDENTIALS {
		t.Errorf("expected AV_INVALID_CREDENTIALS, got %v", err)
	}
	if err.Error() != wrongPass {
		t.Errorf("unknown phone and wrong password should read the same: %q vs %q", err.Error(), wrongPass)
	}
}

// TestRegisterAndSignIn registers a new buyer, verifies the profile
// persists, and signs in again with the chosen password.
func TestRegisterAndSignIn(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	session, err := svc.Register(ctx, model.AuthRequest{
		PhoneNumber: "+2348140000001",
		Password:    "uniquepass",
		FullName:    "Halima Garba",
		UserType:    "buyer",
		Location:    "Gombe, Nigeria",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if session.Profile.UserType != model.UserTypeBuyer {
		t.Errorf("expected buyer, got %s", session.Profile.UserType)
	}
	if session.Profile.ID == "" {
		t.Error("expected generated profile id")
	}

	// The registered profile is queryable for the process lifetime.
	row, err := svc.ExecuteSingle(ctx,
		storage.NewQuery(model.CollectionProfiles).Eq("phone_number", "+2348140000001").One())
	if err != nil {
		t.Fatalf("ExecuteSingle failed: %v", err)
	}
	if row == nil || row["full_name"] != "Halima Garba" {
		t.Errorf("registered profile not queryable: %v", row)
	}

	if err := svc.EndSession(ctx); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	again, err := svc.Authenticate(ctx, "+2348140000001", "uniquepass")
	if err != nil {
		t.Fatalf("re-authentication failed: %v", err)
	}
	if again.Profile.ID != session.Profile.ID {
		t.Error("re-authentication returned a different profile")
	}
}

// TestRegisterDefaultsToFarmer verifies the role default.
func TestRegisterDefaultsToFarmer(t *testing.T) {
	svc := newTestService(t)

	session, err := svc.Register(context.Background(), model.AuthRequest{
		PhoneNumber: "+2348140000002",
		Password:    "pass",
		FullName:    "Default Role",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if session.Profile.UserType != model.UserTypeFarmer {
		t.Errorf("expected farmer default, got %s", session.Profile.UserType)
	}
}

// TestRegisterDuplicatePhone verifies a second account on the same
// phone is rejected.
func TestRegisterDuplicatePhone(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Register(context.Background(), model.AuthRequest{
		PhoneNumber: "+2348034567890", // Musa's seeded phone
		Password:    "pass",
		FullName:    "Impostor",
	})
	if errorCode(t, err) != averrors.AV_CONFLICT {
		t.Errorf("expected AV_CONFLICT, got %v", err)
	}
}

// TestSessionLifecycle verifies no-session reads, KV rehydration and
// idempotent sign-out.
func TestSessionLifecycle(t *testing.T) {
	clk := testutil.FixedClock()
	data := seed.Default(clk.Now())
	kvStore := kv.NewMemory()
	opts := Options{
		Store:     storage.NewMemory(data),
		KV:        kvStore,
		Tokens:    auth.NewTokens([]byte("test-signing-key"), "agrivault", 24*time.Hour, clk),
		Clock:     clk,
		Passwords: data.Passwords,
	}
	svc := New(opts)
	ctx := context.Background()

	current, err := svc.CurrentSession(ctx)
	if err != nil {
		t.Fatalf("CurrentSession failed: %v", err)
	}
	if current != nil {
		t.Errorf("expected no session, got %+v", current)
	}

	if _, err := svc.Authenticate(ctx, "+2348012345678", seed.DemoPassword); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	// A fresh service over the same kv store rehydrates the session.
	restarted := New(opts)
	current, err = restarted.CurrentSession(ctx)
	if err != nil {
		t.Fatalf("CurrentSession after restart failed: %v", err)
	}
	if current == nil || current.FullName != "Abubakar Muhammad" {
		t.Errorf("expected rehydrated session, got %+v", current)
	}

	if err := restarted.EndSession(ctx); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	if err := restarted.EndSession(ctx); err != nil {
		t.Errorf("EndSession should be idempotent: %v", err)
	}
	current, _ = restarted.CurrentSession(ctx)
	if current != nil {
		t.Errorf("expected signed out, got %+v", current)
	}
}

// TestExecuteSingleZeroMatches verifies single-row mode yields
// (nil, nil) on no match.
func TestExecuteSingleZeroMatches(t *testing.T) {
	svc := newTestService(t)

	row, err := svc.ExecuteSingle(context.Background(),
		storage.NewQuery(model.CollectionProfiles).Eq("id", "missing").One())
	if err != nil {
		t.Fatalf("ExecuteSingle failed: %v", err)
	}
	if row != nil {
		t.Errorf("expected nil row, got %v", row)
	}
}

// TestInsertListing verifies inserts synthesize id and timestamps and
// persist for later queries.
func TestInsertListing(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	row, err := svc.Insert(ctx, model.CollectionListings, map[string]interface{}{
		"farmer_id":    "550e8400-e29b-41d4-a716-446655440005",
		"produce_name": "Irish Potatoes",
		"quantity_kg":  300,
		"price_per_kg": 350,
	})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	id, _ := row["id"].(string)
	if id == "" {
		t.Fatal("expected synthesized id")
	}
	if row["status"] != string(model.ListingAvailable) {
		t.Errorf("expected available default, got %v", row["status"])
	}
	if row["created_at"] == nil || row["updated_at"] == nil {
		t.Error("expected synthesized timestamps")
	}

	got, err := svc.ExecuteSingle(ctx,
		storage.NewQuery(model.CollectionListings).Eq("id", id).One())
	if err != nil {
		t.Fatalf("ExecuteSingle failed: %v", err)
	}
	if got == nil || got["produce_name"] != "Irish Potatoes" {
		t.Errorf("inserted listing not queryable: %v", got)
	}
	farmer, _ := got["farmer"].(map[string]interface{})
	if farmer == nil || farmer["full_name"] != "Jonathan Dung" {
		t.Errorf("expected embedded farmer, got %v", got["farmer"])
	}
}

// TestInsertOrderDerivesTotal verifies the total is always derived
// from the listing's unit price.
func TestInsertOrderDerivesTotal(t *testing.T) {
	svc := newTestService(t)

	row, err := svc.Insert(context.Background(), model.CollectionOrders, map[string]interface{}{
		"buyer_id":           "550e8400-e29b-41d4-a716-446655440009",
		"produce_listing_id": "1", // Tomatoes at 700/kg
		"quantity_kg":        10,
		"total_price":        1, // Ignored
		"delivery_address":   "Bauchi, Nigeria",
	})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if row["total_price"] != float64(7000) {
		t.Errorf("expected derived total 7000, got %v", row["total_price"])
	}
	if row["status"] != string(model.OrderPending) {
		t.Errorf("expected pending default, got %v", row["status"])
	}
}

// TestInsertBookingReservesCapacity verifies capacity is decremented
// and over-capacity bookings rejected.
func TestInsertBookingReservesCapacity(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Insert(ctx, model.CollectionBookings, map[string]interface{}{
		"farmer_id":           "550e8400-e29b-41d4-a716-446655440001",
		"storage_facility_id": "3", // 4000kg available
		"quantity_kg":         3500,
	})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	facility, err := svc.ExecuteSingle(ctx,
		storage.NewQuery(model.CollectionFacilities).Eq("id", "3").One())
	if err != nil {
		t.Fatalf("ExecuteSingle failed: %v", err)
	}
	if facility["available_capacity_kg"] != float64(500) {
		t.Errorf("expected 500kg left, got %v", facility["available_capacity_kg"])
	}

	_, err = svc.Insert(ctx, model.CollectionBookings, map[string]interface{}{
		"farmer_id":           "550e8400-e29b-41d4-a716-446655440001",
		"storage_facility_id": "3",
		"quantity_kg":         600,
	})
	if errorCode(t, err) != averrors.AV_CAPACITY_EXCEEDED {
		t.Errorf("expected AV_CAPACITY_EXCEEDED, got %v", err)
	}
}

// TestUpdateListingFields verifies filtered field updates.
func TestUpdateListingFields(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	updated, err := svc.Update(ctx, model.CollectionListings,
		map[string]interface{}{"status": "sold", "quantity_kg": 0},
		[]storage.Filter{{Column: "id", Value: "1"}})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if len(updated) != 1 {
		t.Fatalf("expected 1 updated row, got %d", len(updated))
	}
	if updated[0]["status"] != string(model.ListingSold) {
		t.Errorf("expected sold, got %v", updated[0]["status"])
	}

	_, err = svc.Update(ctx, model.CollectionListings,
		map[string]interface{}{"farmer_id": "someone-else"},
		[]storage.Filter{{Column: "id", Value: "2"}})
	if errorCode(t, err) != averrors.AV_VALIDATION {
		t.Errorf("expected AV_VALIDATION for immutable field, got %v", err)
	}
}

// TestUpdateOrderTransition verifies the delivery state machine is
// enforced on status updates.
func TestUpdateOrderTransition(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// Seeded order 1 is in transit.
	updated, err := svc.Update(ctx, model.CollectionOrders,
		map[string]interface{}{"status": "delivered"},
		[]storage.Filter{{Column: "id", Value: "1"}})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated[0]["status"] != string(model.OrderDelivered) {
		t.Errorf("expected delivered, got %v", updated[0]["status"])
	}

	// Delivered is terminal.
	_, err = svc.Update(ctx, model.CollectionOrders,
		map[string]interface{}{"status": "cancelled"},
		[]storage.Filter{{Column: "id", Value: "1"}})
	if errorCode(t, err) != averrors.AV_BAD_TRANSITION {
		t.Errorf("expected AV_BAD_TRANSITION, got %v", err)
	}
}

// TestDeleteListing verifies filtered deletes and the unsupported
// collection guard.
func TestDeleteListing(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	deleted, err := svc.Delete(ctx, model.CollectionListings,
		[]storage.Filter{{Column: "id", Value: "7"}})
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}
	row, _ := svc.ExecuteSingle(ctx,
		storage.NewQuery(model.CollectionListings).Eq("id", "7").One())
	if row != nil {
		t.Errorf("expected listing gone, got %v", row)
	}

	_, err = svc.Delete(ctx, model.CollectionOrders,
		[]storage.Filter{{Column: "id", Value: "1"}})
	if errorCode(t, err) != averrors.AV_VALIDATION {
		t.Errorf("expected AV_VALIDATION for unsupported delete, got %v", err)
	}
}

// TestApplyQueueItem verifies the offline replay path creates the
// queued record.
func TestApplyQueueItem(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	item := model.QueueItem{
		ID:   "01J0000000000000000000000X",
		Kind: model.QueueKindListing,
		Payload: map[string]interface{}{
			"farmer_id":    "550e8400-e29b-41d4-a716-446655440002",
			"produce_name": "Ginger",
			"quantity_kg":  40,
			"price_per_kg": 1200,
		},
		Timestamp: time.Now().UTC(),
	}
	if err := svc.Apply(ctx, item); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	rows, err := svc.Execute(ctx,
		storage.NewQuery(model.CollectionListings).Eq("produce_name", "Ginger"))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("expected replayed listing, got %d rows", len(rows))
	}
}

// TestApplyScreenShapedBooking replays a booking captured in the
// booking screen's own field names: the replay converts it to a
// record, attributes it to the signed-in farmer and reserves capacity
// at the first facility.
func TestApplyScreenShapedBooking(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	session, err := svc.Authenticate(ctx, "+2348034567890", seed.DemoPassword)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	item := model.QueueItem{
		ID:   "01J0000000000000000000000Y",
		Kind: model.QueueKindBooking,
		Payload: map[string]interface{}{
			"produceType": "Tomatoes",
			"quantity":    "50",
			"duration":    "2",
		},
		Timestamp: time.Now().UTC(),
	}
	if err := svc.Apply(ctx, item); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	rows, err := svc.Execute(ctx, storage.NewQuery(model.CollectionBookings))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected replayed booking, got %d rows", len(rows))
	}
	if rows[0]["quantity_kg"] != float64(50) {
		t.Errorf("expected quantity 50, got %v", rows[0]["quantity_kg"])
	}
	if rows[0]["farmer_id"] != session.Profile.ID {
		t.Errorf("expected booking attributed to %s, got %v", session.Profile.ID, rows[0]["farmer_id"])
	}
	if rows[0]["storage_facility_id"] != "1" {
		t.Errorf("expected first facility, got %v", rows[0]["storage_facility_id"])
	}

	// 5000 kg at the first facility minus the replayed 50.
	facility, err := svc.ExecuteSingle(ctx,
		storage.NewQuery(model.CollectionFacilities).Eq("id", "1").One())
	if err != nil {
		t.Fatalf("ExecuteSingle failed: %v", err)
	}
	if facility["available_capacity_kg"] != float64(4950) {
		t.Errorf("expected 4950 kg available, got %v", facility["available_capacity_kg"])
	}
}

// TestApplyScreenShapedListing replays a listing captured by the sell
// screen, with its string-typed quantity and price fields.
func TestApplyScreenShapedListing(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Authenticate(ctx, "+2348012345678", seed.DemoPassword); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	item := model.QueueItem{
		ID:   "01J0000000000000000000000Z",
		Kind: model.QueueKindListing,
		Payload: map[string]interface{}{
			"name":     "Yellow Pepper",
			"quantity": "15kg",
			"price":    "₦800/kg",
		},
		Timestamp: time.Now().UTC(),
	}
	if err := svc.Apply(ctx, item); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	row, err := svc.ExecuteSingle(ctx,
		storage.NewQuery(model.CollectionListings).
			Eq("farmer_id", "550e8400-e29b-41d4-a716-446655440001").
			Eq("produce_name", "Yellow Pepper").One())
	if err != nil {
		t.Fatalf("ExecuteSingle failed: %v", err)
	}
	if row == nil {
		t.Fatal("expected replayed listing")
	}
	if row["quantity_kg"] != float64(15) || row["price_per_kg"] != float64(800) {
		t.Errorf("unexpected converted numbers: %v / %v", row["quantity_kg"], row["price_per_kg"])
	}
}

// TestStorageOperationMetrics verifies storage-backed operations are
// counted with their outcome.
func TestStorageOperationMetrics(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	inserts := metrics.NewMetrics().StorageOperationTotal.WithLabelValues("insert", "ok")
	executes := metrics.NewMetrics().StorageOperationTotal.WithLabelValues("execute", "ok")
	insertsBefore := promtestutil.ToFloat64(inserts)
	executesBefore := promtestutil.ToFloat64(executes)

	if _, err := svc.Insert(ctx, model.CollectionListings, map[string]interface{}{
		"farmer_id":    "550e8400-e29b-41d4-a716-446655440001",
		"produce_name": "Cassava",
		"quantity_kg":  200,
		"price_per_kg": 150,
	}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if _, err := svc.Execute(ctx, storage.NewQuery(model.CollectionListings)); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if got := promtestutil.ToFloat64(inserts); got != insertsBefore+1 {
		t.Errorf("insert counter = %v, want %v", got, insertsBefore+1)
	}
	if got := promtestutil.ToFloat64(executes); got != executesBefore+1 {
		t.Errorf("execute counter = %v, want %v", got, executesBefore+1)
	}
}

// TestNumberIn covers the form-field number extraction.
func TestNumberIn(t *testing.T) {
	cases := []struct {
		in   interface{}
		want float64
	}{
		{50.0, 50},
		{"50", 50},
		{"50kg", 50},
		{"₦450/kg", 450},
		{"2.5", 2.5},
		{"", 0},
		{"n/a", 0},
		{nil, 0},
	}
	for _, c := range cases {
		if got := numberIn(c.in); got != c.want {
			t.Errorf("numberIn(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

// TestSimulatedLatencyHonorsContext verifies a cancelled context cuts
// the simulated delay short.
func TestSimulatedLatencyHonorsContext(t *testing.T) {
	clk := testutil.FixedClock()
	data := seed.Default(clk.Now())
	svc := New(Options{
		Store:     storage.NewMemory(data),
		KV:        kv.NewMemory(),
		Tokens:    auth.NewTokens([]byte("test-signing-key"), "agrivault", 24*time.Hour, clk),
		Clock:     clk,
		Latency:   10 * time.Second,
		Passwords: data.Passwords,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := svc.Execute(ctx, storage.NewQuery(model.CollectionProfiles))
	if err == nil {
		t.Fatal("expected context error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("latency did not honor cancellation, took %v", elapsed)
	}
}
