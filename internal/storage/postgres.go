// internal/storage/postgres.go
// PostgreSQL implementation of the Store interface, intended for
// deployments backed by a real database rather than the seeded
// in-memory collections.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Haleem001/agrivault/internal/model"
)

type postgres struct {
	db *pgxpool.Pool // Connection pool to PostgreSQL database
}

// NewPostgres creates a new PostgreSQL storage implementation. It
// establishes a connection pool and initializes the schema.
func NewPostgres(dsn string) (Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}

	// Connection pool settings
	config.MaxConns = 20
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = time.Minute * 30
	config.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &postgres{db: pool}, nil
}

// initSchema creates all required tables if they don't already exist.
func initSchema(ctx context.Context, db *pgxpool.Pool) error {
	schema := `
		CREATE TABLE IF NOT EXISTS profiles (
		    id TEXT PRIMARY KEY,
		    email TEXT NOT NULL UNIQUE,
		    full_name TEXT NOT NULL,
		    user_type TEXT NOT NULL CHECK (user_type IN ('farmer', 'buyer')),
		    phone_number TEXT UNIQUE,
		    location TEXT,
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS storage_facilities (
		    id TEXT PRIMARY KEY,
		    name TEXT NOT NULL,
		    location TEXT NOT NULL,
		    storage_type TEXT NOT NULL CHECK (storage_type IN ('cold', 'climate_controlled', 'standard')),
		    capacity_kg DOUBLE PRECISION NOT NULL,
		    available_capacity_kg DOUBLE PRECISION NOT NULL,
		    temperature_range TEXT,
		    rate_per_kg_per_week DOUBLE PRECISION NOT NULL,
		    status TEXT NOT NULL DEFAULT 'operational',
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		    CHECK (available_capacity_kg >= 0 AND available_capacity_kg <= capacity_kg)
		);

		CREATE TABLE IF NOT EXISTS produce_listings (
		    id TEXT PRIMARY KEY,
		    farmer_id TEXT NOT NULL REFERENCES profiles(id),
		    produce_name TEXT NOT NULL,
		    quantity_kg DOUBLE PRECISION NOT NULL CHECK (quantity_kg >= 0),
		    price_per_kg DOUBLE PRECISION NOT NULL,
		    status TEXT NOT NULL DEFAULT 'available',
		    storage_facility_id TEXT REFERENCES storage_facilities(id),
		    image_url TEXT,
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_listings_farmer ON produce_listings(farmer_id);
		CREATE INDEX IF NOT EXISTS idx_listings_status ON produce_listings(status);

		CREATE TABLE IF NOT EXISTS orders (
		    id TEXT PRIMARY KEY,
		    buyer_id TEXT NOT NULL REFERENCES profiles(id),
		    produce_listing_id TEXT NOT NULL REFERENCES produce_listings(id),
		    quantity_kg DOUBLE PRECISION NOT NULL,
		    total_price DOUBLE PRECISION NOT NULL,
		    delivery_address TEXT NOT NULL,
		    status TEXT NOT NULL DEFAULT 'pending',
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_orders_buyer ON orders(buyer_id);

		CREATE TABLE IF NOT EXISTS storage_bookings (
		    id TEXT PRIMARY KEY,
		    farmer_id TEXT NOT NULL REFERENCES profiles(id),
		    produce_listing_id TEXT REFERENCES produce_listings(id),
		    storage_facility_id TEXT NOT NULL REFERENCES storage_facilities(id),
		    quantity_kg DOUBLE PRECISION NOT NULL,
		    start_date TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		    end_date TIMESTAMP WITH TIME ZONE,
		    status TEXT NOT NULL DEFAULT 'active',
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_bookings_farmer ON storage_bookings(farmer_id);
	`

	_, err := db.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool
func (p *postgres) Close() {
	p.db.Close()
}

func (p *postgres) Execute(ctx context.Context, q Query) ([]Row, error) {
	if err := ValidateCollection(q.Collection); err != nil {
		return nil, err
	}

	// Collection names are whitelisted above, so interpolation is safe.
	sql := fmt.Sprintf("SELECT * FROM %s", q.Collection)
	args := make([]interface{}, 0, len(q.Filters))
	for i, f := range q.Filters {
		if i == 0 {
			sql += fmt.Sprintf(" WHERE %s::text = $%d", pgx.Identifier{f.Column}.Sanitize(), i+1)
		} else {
			sql += fmt.Sprintf(" AND %s::text = $%d", pgx.Identifier{f.Column}.Sanitize(), i+1)
		}
		args = append(args, fmt.Sprint(f.Value))
	}
	sql += " ORDER BY created_at"

	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	result := []Row{}
	fields := rows.FieldDescriptions()
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		row := make(Row, len(fields))
		for i, fd := range fields {
			row[string(fd.Name)] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	// Embed the owning profile for listing rows.
	if q.Collection == model.CollectionListings {
		for _, row := range result {
			farmerID, _ := row["farmer_id"].(string)
			farmer, err := p.GetProfile(ctx, farmerID)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					row["farmer"] = nil
					continue
				}
				return nil, err
			}
			row["farmer"] = Row{
				"id":           farmer.ID,
				"email":        farmer.Email,
				"full_name":    farmer.FullName,
				"user_type":    string(farmer.UserType),
				"phone_number": farmer.PhoneNumber,
				"location":     farmer.Location,
				"created_at":   farmer.CreatedAt,
				"updated_at":   farmer.UpdatedAt,
			}
		}
	}

	return result, nil
}

func (p *postgres) CreateProfile(ctx context.Context, prof model.Profile) error {
	query := `INSERT INTO profiles (id, email, full_name, user_type, phone_number, location, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := p.db.Exec(ctx, query, prof.ID, prof.Email, prof.FullName, prof.UserType, prof.PhoneNumber, prof.Location, prof.CreatedAt, prof.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("failed to create profile: %w", err)
	}
	return nil
}

func (p *postgres) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	query := `SELECT id, email, full_name, user_type, phone_number, location, created_at, updated_at
	          FROM profiles WHERE id = $1`
	return p.scanProfile(p.db.QueryRow(ctx, query, id))
}

func (p *postgres) GetProfileByPhone(ctx context.Context, phone string) (*model.Profile, error) {
	query := `SELECT id, email, full_name, user_type, phone_number, location, created_at, updated_at
	          FROM profiles WHERE phone_number = $1`
	return p.scanProfile(p.db.QueryRow(ctx, query, phone))
}

func (p *postgres) scanProfile(row pgx.Row) (*model.Profile, error) {
	var prof model.Profile
	err := row.Scan(&prof.ID, &prof.Email, &prof.FullName, &prof.UserType, &prof.PhoneNumber, &prof.Location, &prof.CreatedAt, &prof.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &prof, nil
}

func (p *postgres) CreateListing(ctx context.Context, l model.ProduceListing) error {
	query := `INSERT INTO produce_listings (id, farmer_id, produce_name, quantity_kg, price_per_kg, status, storage_facility_id, image_url, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10)`
	_, err := p.db.Exec(ctx, query, l.ID, l.FarmerID, l.ProduceName, l.QuantityKg, l.PricePerKg, l.Status, l.StorageFacilityID, l.ImageURL, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("failed to create listing: %w", err)
	}
	return nil
}

func (p *postgres) GetListing(ctx context.Context, id string) (*model.ProduceListing, error) {
	query := `SELECT id, farmer_id, produce_name, quantity_kg, price_per_kg, status,
	                 COALESCE(storage_facility_id, ''), COALESCE(image_url, ''), created_at, updated_at
	          FROM produce_listings WHERE id = $1`
	var l model.ProduceListing
	err := p.db.QueryRow(ctx, query, id).Scan(&l.ID, &l.FarmerID, &l.ProduceName, &l.QuantityKg, &l.PricePerKg, &l.Status, &l.StorageFacilityID, &l.ImageURL, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	return &l, nil
}

func (p *postgres) UpdateListing(ctx context.Context, l model.ProduceListing) error {
	query := `UPDATE produce_listings
	          SET produce_name = $1, quantity_kg = $2, price_per_kg = $3, status = $4,
	              storage_facility_id = NULLIF($5, ''), image_url = NULLIF($6, ''), updated_at = $7
	          WHERE id = $8`
	result, err := p.db.Exec(ctx, query, l.ProduceName, l.QuantityKg, l.PricePerKg, l.Status, l.StorageFacilityID, l.ImageURL, l.UpdatedAt, l.ID)
	if err != nil {
		return fmt.Errorf("failed to update listing: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *postgres) DeleteListing(ctx context.Context, id string) error {
	result, err := p.db.Exec(ctx, `DELETE FROM produce_listings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete listing: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *postgres) CreateOrder(ctx context.Context, o model.Order) error {
	query := `INSERT INTO orders (id, buyer_id, produce_listing_id, quantity_kg, total_price, delivery_address, status, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := p.db.Exec(ctx, query, o.ID, o.BuyerID, o.ProduceListingID, o.QuantityKg, o.TotalPrice, o.DeliveryAddress, o.Status, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (p *postgres) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	query := `SELECT id, buyer_id, produce_listing_id, quantity_kg, total_price, delivery_address, status, created_at, updated_at
	          FROM orders WHERE id = $1`
	var o model.Order
	err := p.db.QueryRow(ctx, query, id).Scan(&o.ID, &o.BuyerID, &o.ProduceListingID, &o.QuantityKg, &o.TotalPrice, &o.DeliveryAddress, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &o, nil
}

func (p *postgres) UpdateOrderStatus(ctx context.Context, id string, status model.OrderStatus) error {
	result, err := p.db.Exec(ctx, `UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *postgres) CreateBooking(ctx context.Context, b model.StorageBooking) error {
	query := `INSERT INTO storage_bookings (id, farmer_id, produce_listing_id, storage_facility_id, quantity_kg, start_date, end_date, status, created_at)
	          VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9)`
	_, err := p.db.Exec(ctx, query, b.ID, b.FarmerID, b.ProduceListingID, b.StorageFacilityID, b.QuantityKg, b.StartDate, b.EndDate, b.Status, b.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

func (p *postgres) UpdateBookingStatus(ctx context.Context, id string, status model.BookingStatus) error {
	result, err := p.db.Exec(ctx, `UPDATE storage_bookings SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *postgres) GetFacility(ctx context.Context, id string) (*model.StorageFacility, error) {
	query := `SELECT id, name, location, storage_type, capacity_kg, available_capacity_kg,
	                 COALESCE(temperature_range, ''), rate_per_kg_per_week, status, created_at
	          FROM storage_facilities WHERE id = $1`
	var f model.StorageFacility
	err := p.db.QueryRow(ctx, query, id).Scan(&f.ID, &f.Name, &f.Location, &f.StorageType, &f.CapacityKg, &f.AvailableCapacityKg, &f.TemperatureRange, &f.RatePerKgPerWeek, &f.Status, &f.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get facility: %w", err)
	}
	return &f, nil
}

func (p *postgres) ReserveCapacity(ctx context.Context, facilityID string, kg float64) error {
	if kg <= 0 {
		return fmt.Errorf("reservation must be positive")
	}
	// Single statement so the capacity check and decrement are atomic.
	query := `UPDATE storage_facilities
	          SET available_capacity_kg = available_capacity_kg - $1,
	              status = CASE WHEN available_capacity_kg - $1 <= 0 THEN 'full' ELSE status END
	          WHERE id = $2 AND available_capacity_kg >= $1`
	result, err := p.db.Exec(ctx, query, kg, facilityID)
	if err != nil {
		return fmt.Errorf("failed to reserve capacity: %w", err)
	}
	if result.RowsAffected() == 0 {
		if _, getErr := p.GetFacility(ctx, facilityID); getErr != nil {
			return getErr
		}
		return ErrCapacityExceeded
	}
	return nil
}
