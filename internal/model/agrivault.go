// internal/model/agrivault.go
// Package model defines the data structures used throughout the AgriVault data service.
// These structures represent the core domain objects for profiles, produce listings,
// storage facilities, bookings and orders.
package model

import (
	"time"
)

// UserType identifies the role of a profile. The role is fixed at
// registration; there is no role-change operation.
type UserType string

const (
	UserTypeFarmer UserType = "farmer"
	UserTypeBuyer  UserType = "buyer"
)

// ListingStatus is the lifecycle status of a produce listing.
type ListingStatus string

const (
	ListingAvailable ListingStatus = "available"
	ListingInStorage ListingStatus = "in_storage"
	ListingSold      ListingStatus = "sold"
)

// StorageType is the storage category of a facility.
type StorageType string

const (
	StorageCold              StorageType = "cold"
	StorageClimateControlled StorageType = "climate_controlled"
	StorageStandard          StorageType = "standard"
)

// FacilityStatus is the operational status of a storage facility.
type FacilityStatus string

const (
	FacilityOperational FacilityStatus = "operational"
	FacilityMaintenance FacilityStatus = "maintenance"
	FacilityFull        FacilityStatus = "full"
)

// OrderStatus is the delivery status of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderInTransit OrderStatus = "in_transit"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

// BookingStatus is the lifecycle status of a storage booking.
type BookingStatus string

const (
	BookingActive    BookingStatus = "active"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
)

// Collection names understood by the query interface.
// These correspond to the tables of the backend the service stands in for.
const (
	CollectionProfiles   = "profiles"
	CollectionListings   = "produce_listings"
	CollectionFacilities = "storage_facilities"
	CollectionOrders     = "orders"
	CollectionBookings   = "storage_bookings"
)

// Profile represents a registered user with a role of farmer or buyer.
// This corresponds to the profiles table in storage.
type Profile struct {
	ID          string    `json:"id" db:"id"`
	Email       string    `json:"email" db:"email"`                 // Synthetic phone-derived email
	FullName    string    `json:"full_name" db:"full_name"`         // Display name
	UserType    UserType  `json:"user_type" db:"user_type"`         // farmer or buyer, immutable
	PhoneNumber string    `json:"phone_number" db:"phone_number"`   // E.164 phone number
	Location    string    `json:"location" db:"location"`           // Free-text location
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// ProduceListing represents a quantity of produce offered for sale by a farmer.
// This corresponds to the produce_listings table in storage.
type ProduceListing struct {
	ID                string        `json:"id" db:"id"`
	FarmerID          string        `json:"farmer_id" db:"farmer_id"`
	ProduceName       string        `json:"produce_name" db:"produce_name"`
	QuantityKg        float64       `json:"quantity_kg" db:"quantity_kg"`     // Non-negative
	PricePerKg        float64       `json:"price_per_kg" db:"price_per_kg"`
	Status            ListingStatus `json:"status" db:"status"`
	StorageFacilityID string        `json:"storage_facility_id,omitempty" db:"storage_facility_id"`
	ImageURL          string        `json:"image_url,omitempty" db:"image_url"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at" db:"updated_at"`
}

// TotalValue is the market value of the listed quantity.
// Always derived, never stored.
func (l ProduceListing) TotalValue() float64 {
	return l.QuantityKg * l.PricePerKg
}

// StorageFacility represents a storage location farmers can book capacity in.
// This corresponds to the storage_facilities table in storage.
type StorageFacility struct {
	ID                  string         `json:"id" db:"id"`
	Name                string         `json:"name" db:"name"`
	Location            string         `json:"location" db:"location"`
	StorageType         StorageType    `json:"storage_type" db:"storage_type"`
	CapacityKg          float64        `json:"capacity_kg" db:"capacity_kg"`
	AvailableCapacityKg float64        `json:"available_capacity_kg" db:"available_capacity_kg"` // <= CapacityKg
	TemperatureRange    string         `json:"temperature_range,omitempty" db:"temperature_range"`
	RatePerKgPerWeek    float64        `json:"rate_per_kg_per_week" db:"rate_per_kg_per_week"`
	Status              FacilityStatus `json:"status" db:"status"`
	CreatedAt           time.Time      `json:"created_at" db:"created_at"`
}

// StorageBooking links a farmer (and optionally a listing) to a facility
// for a quantity and a date range.
// This corresponds to the storage_bookings table in storage.
type StorageBooking struct {
	ID                string        `json:"id" db:"id"`
	FarmerID          string        `json:"farmer_id" db:"farmer_id"`
	ProduceListingID  string        `json:"produce_listing_id,omitempty" db:"produce_listing_id"`
	StorageFacilityID string        `json:"storage_facility_id" db:"storage_facility_id"`
	QuantityKg        float64       `json:"quantity_kg" db:"quantity_kg"`
	StartDate         time.Time     `json:"start_date" db:"start_date"`
	EndDate           *time.Time    `json:"end_date,omitempty" db:"end_date"`
	Status            BookingStatus `json:"status" db:"status"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
}

// Order represents a buyer's purchase of a quantity from a listing.
// This corresponds to the orders table in storage.
type Order struct {
	ID               string      `json:"id" db:"id"`
	BuyerID          string      `json:"buyer_id" db:"buyer_id"`
	ProduceListingID string      `json:"produce_listing_id" db:"produce_listing_id"`
	QuantityKg       float64     `json:"quantity_kg" db:"quantity_kg"`
	TotalPrice       float64     `json:"total_price" db:"total_price"` // quantity * unit price, derived
	DeliveryAddress  string      `json:"delivery_address" db:"delivery_address"`
	Status           OrderStatus `json:"status" db:"status"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at" db:"updated_at"`
}

// ValidOrderTransition reports whether an order may move from one status
// to another. Orders progress pending -> confirmed -> in_transit ->
// delivered, or divert to cancelled from any non-terminal state.
func ValidOrderTransition(from, to OrderStatus) bool {
	if from == to {
		return false
	}
	switch to {
	case OrderConfirmed:
		return from == OrderPending
	case OrderInTransit:
		return from == OrderConfirmed
	case OrderDelivered:
		return from == OrderInTransit
	case OrderCancelled:
		return from != OrderDelivered && from != OrderCancelled
	default:
		return false
	}
}

// QueueKind identifies the type of a captured offline mutation.
type QueueKind string

const (
	QueueKindListing QueueKind = "produce_listing"
	QueueKindOrder   QueueKind = "order"
	QueueKindBooking QueueKind = "booking"
)

// ValidQueueKind reports whether k is a recognized queue item kind.
func ValidQueueKind(k QueueKind) bool {
	switch k {
	case QueueKindListing, QueueKindOrder, QueueKindBooking:
		return true
	}
	return false
}

// QueueItem is a mutation intent captured while the device was offline.
// Items are created once and never mutated in place; a sync pass
// consumes and removes them.
type QueueItem struct {
	ID        string                 `json:"id"`        // ULID, preserves append order
	Kind      QueueKind              `json:"kind"`      // produce_listing, order or booking
	Payload   map[string]interface{} `json:"payload"`   // Shape of the entity being created
	Timestamp time.Time              `json:"timestamp"` // Capture time
}

// CacheEntry is a keyed snapshot of a prior read result, served while
// disconnected and invalidated by absolute age.
type CacheEntry struct {
	Value      interface{} `json:"value"`
	CapturedAt time.Time   `json:"captured_at"`
}

// AuthRequest is the request body for login and registration.
type AuthRequest struct {
	PhoneNumber string `json:"phone_number"`
	Password    string `json:"password"`
	FullName    string `json:"full_name,omitempty"` // Registration only
	UserType    string `json:"user_type,omitempty"` // Registration only, defaults to farmer
	Location    string `json:"location,omitempty"`  // Registration only
}

// SessionData is the response payload for authentication operations.
type SessionData struct {
	Profile Profile `json:"profile"`
	Token   string  `json:"token,omitempty"`
}

// EnqueueRequest is the request body for capturing an offline mutation.
type EnqueueRequest struct {
	Kind    QueueKind              `json:"kind"`
	Payload map[string]interface{} `json:"payload"`
}

// ConnectivityRequest is the request body for reporting a connectivity
// transition from the host environment.
type ConnectivityRequest struct {
	Online bool `json:"online"`
}

// OfflineStatus describes the connectivity state and queue depth.
type OfflineStatus struct {
	Online     bool `json:"online"`
	QueueDepth int  `json:"queue_depth"`
	Degraded   bool `json:"degraded"` // Durable storage unavailable on last read
}

// UploadInitRequest is the request body for initializing a listing
// image upload.
type UploadInitRequest struct {
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	Filename string `json:"filename,omitempty"`
}

// UploadInitData contains the details needed to upload a listing image.
type UploadInitData struct {
	ImageID   string    `json:"image_id"`
	UploadURL string    `json:"upload_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UploadFinalizeRequest is the request body for confirming a listing
// image upload.
type UploadFinalizeRequest struct {
	ImageID string `json:"image_id"`
}

// UploadFinalizeData confirms a listing image was uploaded.
type UploadFinalizeData struct {
	ImageID   string `json:"image_id"`
	SizeBytes int64  `json:"size_bytes"`
}
