// Package dataservice implements the backend facade the AgriVault app
// talks to. It fronts a Store with authentication, a builder-style
// query interface and create/update/delete operations, and stands in
// for a remote backend: phone numbers become synthetic emails, every
// seeded profile accepts the demo password, and a configurable latency
// simulates the network.
package dataservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Haleem001/agrivault/internal/auth"
	"github.com/Haleem001/agrivault/internal/clock"
	averrors "github.com/Haleem001/agrivault/internal/errors"
	"github.com/Haleem001/agrivault/internal/event"
	"github.com/Haleem001/agrivault/internal/kv"
	"github.com/Haleem001/agrivault/internal/metrics"
	"github.com/Haleem001/agrivault/internal/model"
	"github.com/Haleem001/agrivault/internal/storage"
)

// EmailDomain is appended to phone numbers to form the synthetic
// emails the backend keys accounts by. The mapping is deterministic
// and reversible.
const EmailDomain = "@agrivault.app"

// Options carries the collaborators a Service is constructed with.
// Everything is injected; the package keeps no globals.
type Options struct {
	Store     storage.Store
	KV        kv.Store
	Tokens    *auth.Tokens
	Publisher event.Publisher
	Clock     clock.Clock
	Latency   time.Duration
	Passwords map[string]string // profile ID to accepted secret
	Logger    *slog.Logger
}

// Service is the data access facade.
type Service struct {
	store     storage.Store
	kv        kv.Store
	tokens    *auth.Tokens
	publisher event.Publisher
	clock     clock.Clock
	latency   time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu        sync.Mutex
	session   *model.Profile
	passwords map[string]string
}

// New creates a Service. Nil Clock falls back to the real clock; nil
// Publisher to a no-op; Passwords is copied.
func New(opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Publisher == nil {
		opts.Publisher = event.NewNoop()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	passwords := make(map[string]string, len(opts.Passwords))
	for id, secret := range opts.Passwords {
		passwords[id] = secret
	}
	return &Service{
		store:     opts.Store,
		kv:        opts.KV,
		tokens:    opts.Tokens,
		publisher: opts.Publisher,
		clock:     opts.Clock,
		latency:   opts.Latency,
		logger:    opts.Logger,
		metrics:   metrics.NewMetrics(),
		passwords: passwords,
	}
}

// observeStore records the outcome and duration of a storage-backed
// operation.
func (s *Service) observeStore(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.StorageOperationTotal.WithLabelValues(op, status).Inc()
	s.metrics.StorageOperationDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
}

// PhoneToEmail normalizes a phone number to its synthetic email.
func PhoneToEmail(phone string) string {
	return phone + EmailDomain
}

// simulateLatency sleeps for the configured duration, honoring
// context cancellation.
func (s *Service) simulateLatency(ctx context.Context) error {
	if s.latency <= 0 {
		return nil
	}
	timer := time.NewTimer(s.latency)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Authenticate checks a phone number and password against known
// profiles. Success establishes the session, mirrors the profile to
// durable storage, and issues a session token.
func (s *Service) Authenticate(ctx context.Context, phoneNumber, password string) (*model.SessionData, error) {
	if err := s.simulateLatency(ctx); err != nil {
		return nil, err
	}
	if phoneNumber == "" || password == "" {
		return nil, averrors.New(averrors.AV_VALIDATION, "phone number and password are required", "")
	}

	profile, err := s.store.GetProfileByPhone(ctx, phoneNumber)
	if err != nil {
		// An unknown phone and a wrong password read the same.
		return nil, averrors.InvalidCredentials("")
	}

	s.mu.Lock()
	expected, ok := s.passwords[profile.ID]
	s.mu.Unlock()
	if !ok || expected != password {
		return nil, averrors.InvalidCredentials("")
	}

	return s.establishSession(ctx, *profile)
}

// Register creates a profile and signs it in, replacing any prior
// session. The role defaults to farmer.
func (s *Service) Register(ctx context.Context, req model.AuthRequest) (*model.SessionData, error) {
	if err := s.simulateLatency(ctx); err != nil {
		return nil, err
	}
	if req.PhoneNumber == "" || req.Password == "" {
		return nil, averrors.New(averrors.AV_VALIDATION, "phone number and password are required", "")
	}

	userType := model.UserType(req.UserType)
	switch userType {
	case "":
		userType = model.UserTypeFarmer
	case model.UserTypeFarmer, model.UserTypeBuyer:
	default:
		return nil, averrors.New(averrors.AV_VALIDATION, fmt.Sprintf("unknown user type: %s", req.UserType), "")
	}

	now := s.clock.Now()
	profile := model.Profile{
		ID:          uuid.New().String(),
		Email:       PhoneToEmail(req.PhoneNumber),
		FullName:    req.FullName,
		UserType:    userType,
		PhoneNumber: req.PhoneNumber,
		Location:    req.Location,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.CreateProfile(ctx, profile); err != nil {
		if err == storage.ErrConflict {
			return nil, averrors.New(averrors.AV_CONFLICT, "an account already exists for this phone number", "")
		}
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}

	s.mu.Lock()
	s.passwords[profile.ID] = req.Password
	s.mu.Unlock()

	return s.establishSession(ctx, profile)
}

func (s *Service) establishSession(ctx context.Context, profile model.Profile) (*model.SessionData, error) {
	token, err := s.tokens.Issue(profile)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session token: %w", err)
	}

	s.mu.Lock()
	s.session = &profile
	s.mu.Unlock()

	// Mirror the profile so a restarted process can restore the
	// session. A mirror failure does not fail the sign-in.
	if raw, err := json.Marshal(profile); err == nil {
		if err := s.kv.Set(ctx, kv.KeySession, raw); err != nil {
			s.logger.Warn("failed to mirror session", "error", err)
		}
	}

	return &model.SessionData{Profile: profile, Token: token}, nil
}

// CurrentSession returns the signed-in profile, rehydrating from
// durable storage after a restart. No session is (nil, nil), not an
// error.
func (s *Service) CurrentSession(ctx context.Context) (*model.Profile, error) {
	s.mu.Lock()
	if s.session != nil {
		cp := *s.session
		s.mu.Unlock()
		return &cp, nil
	}
	s.mu.Unlock()

	raw, ok, err := s.kv.Get(ctx, kv.KeySession)
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var profile model.Profile
	if err := json.Unmarshal(raw, &profile); err != nil {
		// A corrupt mirror is treated as signed out.
		_ = s.kv.Delete(ctx, kv.KeySession)
		return nil, nil
	}

	s.mu.Lock()
	s.session = &profile
	s.mu.Unlock()
	return &profile, nil
}

// EndSession signs out. Idempotent.
func (s *Service) EndSession(ctx context.Context) error {
	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()
	return s.kv.Delete(ctx, kv.KeySession)
}

// ValidateToken verifies a session token issued by this service.
func (s *Service) ValidateToken(token string) (*auth.Claims, error) {
	return s.tokens.Validate(token)
}

// Execute runs a query and returns matching rows in stored order.
func (s *Service) Execute(ctx context.Context, q storage.Query) (rows []storage.Row, err error) {
	start := time.Now()
	defer func() { s.observeStore("execute", start, err) }()

	if err = s.simulateLatency(ctx); err != nil {
		return nil, err
	}
	rows, err = s.store.Execute(ctx, q)
	if err != nil {
		if errors.Is(err, storage.ErrBadCollection) {
			return nil, averrors.New(averrors.AV_BAD_COLLECTION, err.Error(), "")
		}
		return nil, err
	}
	return rows, nil
}

// ExecuteSingle runs a query in single-row mode: the first match, or
// (nil, nil) when nothing matches. Zero matches is never an error.
func (s *Service) ExecuteSingle(ctx context.Context, q storage.Query) (storage.Row, error) {
	rows, err := s.Execute(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// decodePayload maps a generic payload onto a typed record.
func decodePayload(payload map[string]interface{}, out interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return averrors.New(averrors.AV_VALIDATION, fmt.Sprintf("malformed payload: %v", err), "")
	}
	return nil
}

// Insert creates a record in the named collection. The service
// synthesizes the id and timestamps; the record persists for the
// process lifetime. Returns the stored row.
func (s *Service) Insert(ctx context.Context, collection string, payload map[string]interface{}) (row storage.Row, err error) {
	start := time.Now()
	defer func() { s.observeStore("insert", start, err) }()

	if err := s.simulateLatency(ctx); err != nil {
		return nil, err
	}
	if err := storage.ValidateCollection(collection); err != nil {
		return nil, averrors.New(averrors.AV_BAD_COLLECTION, err.Error(), "")
	}

	now := s.clock.Now()
	id := uuid.New().String()

	switch collection {
	case model.CollectionListings:
		var l model.ProduceListing
		if err := decodePayload(payload, &l); err != nil {
			return nil, err
		}
		if l.ProduceName == "" || l.FarmerID == "" {
			return nil, averrors.New(averrors.AV_VALIDATION, "farmer_id and produce_name are required", "")
		}
		if l.QuantityKg < 0 || l.PricePerKg < 0 {
			return nil, averrors.New(averrors.AV_VALIDATION, "quantity and price must be non-negative", "")
		}
		l.ID, l.CreatedAt, l.UpdatedAt = id, now, now
		if l.Status == "" {
			l.Status = model.ListingAvailable
		}
		if err := s.store.CreateListing(ctx, l); err != nil {
			return nil, s.mapStoreError(err)
		}
		return s.created(ctx, collection, l)

	case model.CollectionOrders:
		var o model.Order
		if err := decodePayload(payload, &o); err != nil {
			return nil, err
		}
		if o.BuyerID == "" || o.ProduceListingID == "" {
			return nil, averrors.New(averrors.AV_VALIDATION, "buyer_id and produce_listing_id are required", "")
		}
		if o.QuantityKg <= 0 {
			return nil, averrors.New(averrors.AV_VALIDATION, "quantity must be positive", "")
		}
		// Total price is always derived from the listing's unit price.
		listing, err := s.store.GetListing(ctx, o.ProduceListingID)
		if err != nil {
			return nil, s.mapStoreError(err)
		}
		o.TotalPrice = o.QuantityKg * listing.PricePerKg
		o.ID, o.CreatedAt, o.UpdatedAt = id, now, now
		if o.Status == "" {
			o.Status = model.OrderPending
		}
		if err := s.store.CreateOrder(ctx, o); err != nil {
			return nil, s.mapStoreError(err)
		}
		return s.created(ctx, collection, o)

	case model.CollectionBookings:
		var b model.StorageBooking
		if err := decodePayload(payload, &b); err != nil {
			return nil, err
		}
		if b.FarmerID == "" || b.StorageFacilityID == "" {
			return nil, averrors.New(averrors.AV_VALIDATION, "farmer_id and storage_facility_id are required", "")
		}
		if b.QuantityKg <= 0 {
			return nil, averrors.New(averrors.AV_VALIDATION, "quantity must be positive", "")
		}
		// Capacity is reserved before the booking exists, so a full
		// facility rejects the booking atomically.
		if err := s.store.ReserveCapacity(ctx, b.StorageFacilityID, b.QuantityKg); err != nil {
			return nil, s.mapStoreError(err)
		}
		b.ID, b.CreatedAt = id, now
		if b.StartDate.IsZero() {
			b.StartDate = now
		}
		if b.Status == "" {
			b.Status = model.BookingActive
		}
		if err := s.store.CreateBooking(ctx, b); err != nil {
			return nil, s.mapStoreError(err)
		}
		return s.created(ctx, collection, b)

	case model.CollectionProfiles:
		var p model.Profile
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		if p.PhoneNumber == "" {
			return nil, averrors.New(averrors.AV_VALIDATION, "phone_number is required", "")
		}
		p.ID, p.CreatedAt, p.UpdatedAt = id, now, now
		if p.Email == "" {
			p.Email = PhoneToEmail(p.PhoneNumber)
		}
		if p.UserType == "" {
			p.UserType = model.UserTypeFarmer
		}
		if err := s.store.CreateProfile(ctx, p); err != nil {
			return nil, s.mapStoreError(err)
		}
		return s.created(ctx, collection, p)

	default:
		return nil, averrors.New(averrors.AV_VALIDATION, fmt.Sprintf("inserts are not supported for %s", collection), "")
	}
}

// created converts a stored record to a row and publishes the created
// event. Publishing is best-effort.
func (s *Service) created(ctx context.Context, collection string, record interface{}) (storage.Row, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	var row storage.Row
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("failed to convert record: %w", err)
	}
	if err := s.publisher.PublishRecordCreated(ctx, collection, row); err != nil {
		s.logger.Warn("failed to publish created event", "collection", collection, "error", err)
	}
	return row, nil
}

// Update applies changes to every row matching the filters and
// returns the updated rows. Listings accept field changes; orders and
// bookings accept status changes only, with order transitions checked
// against the delivery state machine.
func (s *Service) Update(ctx context.Context, collection string, changes map[string]interface{}, filters []storage.Filter) (result []storage.Row, err error) {
	start := time.Now()
	defer func() { s.observeStore("update", start, err) }()

	if err := s.simulateLatency(ctx); err != nil {
		return nil, err
	}
	if err := storage.ValidateCollection(collection); err != nil {
		return nil, averrors.New(averrors.AV_BAD_COLLECTION, err.Error(), "")
	}
	if len(filters) == 0 {
		return nil, averrors.New(averrors.AV_VALIDATION, "updates require at least one filter", "")
	}

	q := storage.Query{Collection: collection, Filters: filters}
	rows, err := s.store.Execute(ctx, q)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	updated := make([]storage.Row, 0, len(rows))
	for _, row := range rows {
		id, _ := row["id"].(string)
		switch collection {
		case model.CollectionListings:
			listing, err := s.store.GetListing(ctx, id)
			if err != nil {
				return nil, s.mapStoreError(err)
			}
			merged, err := mergeListing(*listing, changes, now)
			if err != nil {
				return nil, err
			}
			if err := s.store.UpdateListing(ctx, merged); err != nil {
				return nil, s.mapStoreError(err)
			}
			row, err := toServiceRow(merged)
			if err != nil {
				return nil, err
			}
			updated = append(updated, row)

		case model.CollectionOrders:
			status, err := statusChange(changes)
			if err != nil {
				return nil, err
			}
			order, err := s.store.GetOrder(ctx, id)
			if err != nil {
				return nil, s.mapStoreError(err)
			}
			next := model.OrderStatus(status)
			if !model.ValidOrderTransition(order.Status, next) {
				return nil, averrors.New(averrors.AV_BAD_TRANSITION,
					fmt.Sprintf("order cannot move from %s to %s", order.Status, next), "")
			}
			if err := s.store.UpdateOrderStatus(ctx, id, next); err != nil {
				return nil, s.mapStoreError(err)
			}
			previous := order.Status
			order.Status = next
			order.UpdatedAt = now
			if err := s.publisher.PublishOrderStatusChanged(ctx, *order, previous); err != nil {
				s.logger.Warn("failed to publish order status event", "order_id", id, "error", err)
			}
			row, err := toServiceRow(*order)
			if err != nil {
				return nil, err
			}
			updated = append(updated, row)

		case model.CollectionBookings:
			status, err := statusChange(changes)
			if err != nil {
				return nil, err
			}
			if err := s.store.UpdateBookingStatus(ctx, id, model.BookingStatus(status)); err != nil {
				return nil, s.mapStoreError(err)
			}
			row["status"] = status
			updated = append(updated, row)

		default:
			return nil, averrors.New(averrors.AV_VALIDATION, fmt.Sprintf("updates are not supported for %s", collection), "")
		}
	}
	return updated, nil
}

// Delete removes every row matching the filters. Only listings
// support deletion; other records move through status changes.
func (s *Service) Delete(ctx context.Context, collection string, filters []storage.Filter) (n int, err error) {
	start := time.Now()
	defer func() { s.observeStore("delete", start, err) }()

	if err := s.simulateLatency(ctx); err != nil {
		return 0, err
	}
	if collection != model.CollectionListings {
		return 0, averrors.New(averrors.AV_VALIDATION, fmt.Sprintf("deletes are not supported for %s", collection), "")
	}
	if len(filters) == 0 {
		return 0, averrors.New(averrors.AV_VALIDATION, "deletes require at least one filter", "")
	}

	rows, err := s.store.Execute(ctx, storage.Query{Collection: collection, Filters: filters})
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, row := range rows {
		id, _ := row["id"].(string)
		if err := s.store.DeleteListing(ctx, id); err != nil {
			return deleted, s.mapStoreError(err)
		}
		deleted++
	}
	return deleted, nil
}

// Apply replays a single queued offline mutation. Implements
// offline.Applier.
func (s *Service) Apply(ctx context.Context, item model.QueueItem) error {
	var collection string
	switch item.Kind {
	case model.QueueKindListing:
		collection = model.CollectionListings
	case model.QueueKindOrder:
		collection = model.CollectionOrders
	case model.QueueKindBooking:
		collection = model.CollectionBookings
	default:
		return fmt.Errorf("unknown queue kind: %s", item.Kind)
	}
	_, err := s.Insert(ctx, collection, s.fromCaptureShape(item.Kind, item.Payload))
	return err
}

// fromCaptureShape converts a payload captured by a screen while
// offline into the record shape Insert expects. Record-shaped
// payloads pass through untouched; the queue stores whatever the
// screen supplied.
func (s *Service) fromCaptureShape(kind model.QueueKind, payload map[string]interface{}) map[string]interface{} {
	switch kind {
	case model.QueueKindListing:
		name, _ := payload["name"].(string)
		if _, record := payload["produce_name"]; record || name == "" {
			return payload
		}
		out := map[string]interface{}{
			"produce_name": name,
			"quantity_kg":  numberIn(payload["quantity"]),
			"price_per_kg": numberIn(payload["price"]),
		}
		s.fillFarmer(out, payload)
		return out

	case model.QueueKindBooking:
		produce, _ := payload["produceType"].(string)
		if _, record := payload["storage_facility_id"]; record || produce == "" {
			return payload
		}
		// The booking screen has no facility picker; submissions go
		// to the first facility.
		out := map[string]interface{}{
			"storage_facility_id": "1",
			"quantity_kg":         numberIn(payload["quantity"]),
		}
		if pickup, _ := payload["pickupDate"].(string); pickup != "" {
			if d, err := time.Parse("2006-01-02", pickup); err == nil {
				out["start_date"] = d.UTC().Format(time.RFC3339)
			}
		}
		s.fillFarmer(out, payload)
		return out
	}
	return payload
}

// fillFarmer carries the farmer id through, falling back to the
// signed-in profile when the capture has none.
func (s *Service) fillFarmer(out, payload map[string]interface{}) {
	if id, _ := payload["farmer_id"].(string); id != "" {
		out["farmer_id"] = id
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		out["farmer_id"] = s.session.ID
	}
}

// numberIn extracts the numeric value from a form field: numbers pass
// through, strings like "50", "50kg" or "₦450/kg" yield their first
// number.
func numberIn(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case string:
		start := -1
		for i := 0; i <= len(n); i++ {
			if i < len(n) && (n[i] >= '0' && n[i] <= '9' || n[i] == '.') {
				if start == -1 {
					start = i
				}
				continue
			}
			if start != -1 {
				f, err := strconv.ParseFloat(n[start:i], 64)
				if err != nil {
					return 0
				}
				return f
			}
		}
	}
	return 0
}

func (s *Service) mapStoreError(err error) error {
	switch err {
	case storage.ErrNotFound:
		return averrors.New(averrors.AV_NOT_FOUND, "record not found", "")
	case storage.ErrConflict:
		return averrors.New(averrors.AV_CONFLICT, "record already exists", "")
	case storage.ErrCapacityExceeded:
		return averrors.New(averrors.AV_CAPACITY_EXCEEDED, "facility does not have enough available capacity", "")
	}
	return err
}

// statusChange extracts the status field from an update payload,
// rejecting anything else.
func statusChange(changes map[string]interface{}) (string, error) {
	status, ok := changes["status"].(string)
	if !ok || status == "" {
		return "", averrors.New(averrors.AV_VALIDATION, "a status change is required", "")
	}
	if len(changes) != 1 {
		return "", averrors.New(averrors.AV_VALIDATION, "only status may be changed", "")
	}
	return status, nil
}

// mergeListing applies field changes onto a listing. The farmer and
// the id are immutable.
func mergeListing(l model.ProduceListing, changes map[string]interface{}, now time.Time) (model.ProduceListing, error) {
	for field, value := range changes {
		switch field {
		case "produce_name":
			v, ok := value.(string)
			if !ok || v == "" {
				return l, averrors.New(averrors.AV_VALIDATION, "produce_name must be a non-empty string", "")
			}
			l.ProduceName = v
		case "quantity_kg":
			v, ok := toFloat(value)
			if !ok || v < 0 {
				return l, averrors.New(averrors.AV_VALIDATION, "quantity_kg must be a non-negative number", "")
			}
			l.QuantityKg = v
		case "price_per_kg":
			v, ok := toFloat(value)
			if !ok || v < 0 {
				return l, averrors.New(averrors.AV_VALIDATION, "price_per_kg must be a non-negative number", "")
			}
			l.PricePerKg = v
		case "status":
			v, _ := value.(string)
			switch model.ListingStatus(v) {
			case model.ListingAvailable, model.ListingInStorage, model.ListingSold:
				l.Status = model.ListingStatus(v)
			default:
				return l, averrors.New(averrors.AV_VALIDATION, fmt.Sprintf("unknown listing status: %v", value), "")
			}
		case "storage_facility_id":
			v, _ := value.(string)
			l.StorageFacilityID = v
		case "image_url":
			v, _ := value.(string)
			l.ImageURL = v
		default:
			return l, averrors.New(averrors.AV_VALIDATION, fmt.Sprintf("field %s cannot be updated", field), "")
		}
	}
	l.UpdatedAt = now
	return l, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toServiceRow(record interface{}) (storage.Row, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	var row storage.Row
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("failed to convert record: %w", err)
	}
	return row, nil
}
