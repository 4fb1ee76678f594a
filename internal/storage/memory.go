// internal/storage/memory.go
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Haleem001/agrivault/internal/model"
	"github.com/Haleem001/agrivault/internal/seed"
)

// memory implements the Store interface over seeded in-memory
// collections. It stands in for the remote backend during development
// and testing; collections live for the process lifetime and reset on
// restart.
type memory struct {
	mu         sync.RWMutex
	profiles   []model.Profile
	listings   []model.ProduceListing
	facilities []model.StorageFacility
	orders     []model.Order
	bookings   []model.StorageBooking
}

// NewMemory creates an in-memory storage implementation initialized
// with the given seed data. Passing nil yields empty collections.
func NewMemory(data *seed.Data) Store {
	m := &memory{}
	if data != nil {
		m.profiles = append(m.profiles, data.Profiles...)
		m.listings = append(m.listings, data.Listings...)
		m.facilities = append(m.facilities, data.Facilities...)
		m.orders = append(m.orders, data.Orders...)
		m.bookings = append(m.bookings, data.Bookings...)
	}
	return m
}

// toRow converts a typed record into the generic row shape the query
// interface returns. The JSON round trip keeps field names aligned
// with the backend's snake_case convention.
func toRow(v interface{}) (Row, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal row: %w", err)
	}
	var row Row
	if err := json.Unmarshal(b, &row); err != nil {
		return nil, fmt.Errorf("failed to unmarshal row: %w", err)
	}
	return row, nil
}

func (m *memory) Execute(ctx context.Context, q Query) ([]Row, error) {
	if err := ValidateCollection(q.Collection); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var rows []Row
	appendRow := func(v interface{}) error {
		row, err := toRow(v)
		if err != nil {
			return err
		}
		rows = append(rows, row)
		return nil
	}

	switch q.Collection {
	case model.CollectionProfiles:
		for _, p := range m.profiles {
			if err := appendRow(p); err != nil {
				return nil, err
			}
		}
	case model.CollectionListings:
		for _, l := range m.listings {
			row, err := toRow(l)
			if err != nil {
				return nil, err
			}
			// Embed the owning profile, resolved synchronously.
			if farmer := m.findProfileLocked(l.FarmerID); farmer != nil {
				farmerRow, err := toRow(*farmer)
				if err != nil {
					return nil, err
				}
				row["farmer"] = farmerRow
			} else {
				row["farmer"] = nil
			}
			rows = append(rows, row)
		}
	case model.CollectionFacilities:
		for _, f := range m.facilities {
			if err := appendRow(f); err != nil {
				return nil, err
			}
		}
	case model.CollectionOrders:
		for _, o := range m.orders {
			if err := appendRow(o); err != nil {
				return nil, err
			}
		}
	case model.CollectionBookings:
		for _, b := range m.bookings {
			if err := appendRow(b); err != nil {
				return nil, err
			}
		}
	}

	filtered := rows[:0]
	for _, row := range rows {
		if applyFilters(row, q.Filters) {
			filtered = append(filtered, row)
		}
	}
	if filtered == nil {
		filtered = []Row{}
	}
	return filtered, nil
}

// findProfileLocked looks up a profile by id. Caller holds the lock.
func (m *memory) findProfileLocked(id string) *model.Profile {
	for i := range m.profiles {
		if m.profiles[i].ID == id {
			return &m.profiles[i]
		}
	}
	return nil
}

func (m *memory) CreateProfile(ctx context.Context, p model.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.profiles {
		if m.profiles[i].ID == p.ID || (p.PhoneNumber != "" && m.profiles[i].PhoneNumber == p.PhoneNumber) {
			return ErrConflict
		}
	}
	m.profiles = append(m.profiles, p)
	return nil
}

func (m *memory) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if p := m.findProfileLocked(id); p != nil {
		cp := *p
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *memory) GetProfileByPhone(ctx context.Context, phone string) (*model.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range m.profiles {
		if m.profiles[i].PhoneNumber == phone {
			cp := m.profiles[i]
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memory) CreateListing(ctx context.Context, l model.ProduceListing) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l.QuantityKg < 0 {
		return fmt.Errorf("quantity must be non-negative")
	}
	for i := range m.listings {
		if m.listings[i].ID == l.ID {
			return ErrConflict
		}
	}
	if m.findProfileLocked(l.FarmerID) == nil {
		return fmt.Errorf("farmer not found: %s", l.FarmerID)
	}
	m.listings = append(m.listings, l)
	return nil
}

func (m *memory) GetListing(ctx context.Context, id string) (*model.ProduceListing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range m.listings {
		if m.listings[i].ID == id {
			cp := m.listings[i]
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memory) UpdateListing(ctx context.Context, l model.ProduceListing) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l.QuantityKg < 0 {
		return fmt.Errorf("quantity must be non-negative")
	}
	for i := range m.listings {
		if m.listings[i].ID == l.ID {
			m.listings[i] = l
			return nil
		}
	}
	return ErrNotFound
}

func (m *memory) DeleteListing(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.listings {
		if m.listings[i].ID == id {
			m.listings = append(m.listings[:i], m.listings[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *memory) CreateOrder(ctx context.Context, o model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.orders {
		if m.orders[i].ID == o.ID {
			return ErrConflict
		}
	}
	m.orders = append(m.orders, o)
	return nil
}

func (m *memory) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range m.orders {
		if m.orders[i].ID == id {
			cp := m.orders[i]
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memory) UpdateOrderStatus(ctx context.Context, id string, status model.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.orders {
		if m.orders[i].ID == id {
			m.orders[i].Status = status
			return nil
		}
	}
	return ErrNotFound
}

func (m *memory) CreateBooking(ctx context.Context, b model.StorageBooking) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.bookings {
		if m.bookings[i].ID == b.ID {
			return ErrConflict
		}
	}
	m.bookings = append(m.bookings, b)
	return nil
}

func (m *memory) UpdateBookingStatus(ctx context.Context, id string, status model.BookingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.bookings {
		if m.bookings[i].ID == id {
			m.bookings[i].Status = status
			return nil
		}
	}
	return ErrNotFound
}

func (m *memory) GetFacility(ctx context.Context, id string) (*model.StorageFacility, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range m.facilities {
		if m.facilities[i].ID == id {
			cp := m.facilities[i]
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memory) ReserveCapacity(ctx context.Context, facilityID string, kg float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.facilities {
		if m.facilities[i].ID != facilityID {
			continue
		}
		f := &m.facilities[i]
		if kg <= 0 {
			return fmt.Errorf("reservation must be positive")
		}
		if f.AvailableCapacityKg < kg {
			return ErrCapacityExceeded
		}
		f.AvailableCapacityKg -= kg
		if f.AvailableCapacityKg == 0 {
			f.Status = model.FacilityFull
		}
		return nil
	}
	return ErrNotFound
}
