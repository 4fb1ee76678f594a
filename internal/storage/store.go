// internal/storage/store.go
// Package storage provides implementations of the Store interface for
// both in-memory and PostgreSQL storage backends.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/Haleem001/agrivault/internal/model"
)

// Standard errors returned by the storage layer
var (
	ErrNotFound         = errors.New("not found") // Returned when a record is not found
	ErrConflict         = errors.New("conflict")  // Returned when a record already exists
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrBadCollection    = errors.New("unknown collection")
)

// Row is a single result row as returned by the query interface. Rows
// carry full records regardless of any column selection; field names
// follow the backend's snake_case convention.
type Row = map[string]interface{}

// Filter is a single equality predicate against a column.
type Filter struct {
	Column string      `json:"column"`
	Value  interface{} `json:"value"`
}

// Query accumulates filter criteria against a collection. It is pure
// data with no side effects; nothing is looked up until a Store
// executes it.
type Query struct {
	Collection string   `json:"collection"`
	Columns    []string `json:"columns,omitempty"` // Cosmetic; full rows are always returned
	Filters    []Filter `json:"filters,omitempty"` // Conjunctive, applied in declared order
	Single     bool     `json:"single,omitempty"`  // First match or null, never an error
}

// NewQuery starts a query against the named collection.
func NewQuery(collection string) Query {
	return Query{Collection: collection}
}

// Select records a cosmetic column selection.
func (q Query) Select(columns ...string) Query {
	q.Columns = append(q.Columns[:len(q.Columns):len(q.Columns)], columns...)
	return q
}

// Eq appends an equality filter. Filters are conjunctive and applied
// in the order declared.
func (q Query) Eq(column string, value interface{}) Query {
	q.Filters = append(q.Filters[:len(q.Filters):len(q.Filters)], Filter{Column: column, Value: value})
	return q
}

// One marks the query as single-row: execution yields the first match
// or null rather than an error when zero rows match.
func (q Query) One() Query {
	q.Single = true
	return q
}

// Store defines the storage operations required by the AgriVault data
// service. It is implemented by both the seeded in-memory backend and
// PostgreSQL.
type Store interface {
	// Execute runs an accumulated query and returns matching rows.
	// Listing rows embed the owning profile under a "farmer" key.
	Execute(ctx context.Context, q Query) ([]Row, error)

	// Profile operations
	CreateProfile(ctx context.Context, p model.Profile) error
	GetProfile(ctx context.Context, id string) (*model.Profile, error)
	GetProfileByPhone(ctx context.Context, phone string) (*model.Profile, error)

	// Listing operations
	CreateListing(ctx context.Context, l model.ProduceListing) error
	UpdateListing(ctx context.Context, l model.ProduceListing) error
	DeleteListing(ctx context.Context, id string) error
	GetListing(ctx context.Context, id string) (*model.ProduceListing, error)

	// Order operations
	CreateOrder(ctx context.Context, o model.Order) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status model.OrderStatus) error

	// Booking and facility operations
	CreateBooking(ctx context.Context, b model.StorageBooking) error
	UpdateBookingStatus(ctx context.Context, id string, status model.BookingStatus) error
	GetFacility(ctx context.Context, id string) (*model.StorageFacility, error)
	// ReserveCapacity decrements a facility's available capacity,
	// failing with ErrCapacityExceeded rather than letting available
	// capacity go negative. Marks the facility full at zero.
	ReserveCapacity(ctx context.Context, facilityID string, kg float64) error
}

// knownCollections guards query execution against arbitrary names.
var knownCollections = map[string]bool{
	model.CollectionProfiles:   true,
	model.CollectionListings:   true,
	model.CollectionFacilities: true,
	model.CollectionOrders:     true,
	model.CollectionBookings:   true,
}

// ValidateCollection returns ErrBadCollection for unknown names.
func ValidateCollection(name string) error {
	if !knownCollections[name] {
		return fmt.Errorf("%w: %s", ErrBadCollection, name)
	}
	return nil
}

// matchValue compares a row value against a filter value. Values cross
// a JSON boundary, so comparison is on the canonical string form:
// float64(50), int(50) and "50" all match each other.
func matchValue(rowVal, filterVal interface{}) bool {
	if rowVal == nil || filterVal == nil {
		return rowVal == nil && filterVal == nil
	}
	return fmt.Sprint(rowVal) == fmt.Sprint(filterVal)
}

// applyFilters evaluates a query's predicates against a row,
// conjunctively and in declared order.
func applyFilters(row Row, filters []Filter) bool {
	for _, f := range filters {
		if !matchValue(row[f.Column], f.Value) {
			return false
		}
	}
	return true
}
