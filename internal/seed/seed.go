// Package seed provides the fixture dataset the in-memory store is
// initialized with. The data stands in for a remote backend during
// development and demos.
package seed

import (
	"time"

	"github.com/Haleem001/agrivault/internal/model"
)

// Data is the initial contents of the in-memory store plus the
// credentials accepted by the authentication facade.
type Data struct {
	Profiles   []model.Profile
	Listings   []model.ProduceListing
	Facilities []model.StorageFacility
	Orders     []model.Order
	Bookings   []model.StorageBooking

	// Passwords maps profile ID to the accepted secret.
	Passwords map[string]string
}

// DemoPassword is the secret every seeded profile accepts.
const DemoPassword = "password123"

func profile(id, phone, name string, userType model.UserType, location string, now time.Time) model.Profile {
	return model.Profile{
		ID:          id,
		Email:       phone + "@agrivault.app",
		FullName:    name,
		UserType:    userType,
		PhoneNumber: phone,
		Location:    location,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Default returns the demo dataset: farmers and buyers across Bauchi
// and Plateau, their produce listings, the storage facilities, and a
// pair of historical orders. Timestamps are derived from now so tests
// can inject a fixed clock.
func Default(now time.Time) *Data {
	profiles := []model.Profile{
		// Farmers from Bauchi
		profile("550e8400-e29b-41d4-a716-446655440001", "+2348012345678", "Abubakar Muhammad", model.UserTypeFarmer, "Bauchi, Nigeria", now),
		profile("550e8400-e29b-41d4-a716-446655440002", "+2348023456789", "Fatima Ibrahim", model.UserTypeFarmer, "Azare, Bauchi, Nigeria", now),
		profile("550e8400-e29b-41d4-a716-446655440003", "+2348034567890", "Musa Abdullahi", model.UserTypeFarmer, "Katagum, Bauchi, Nigeria", now),
		profile("550e8400-e29b-41d4-a716-446655440004", "+2348045678901", "Aisha Bello", model.UserTypeFarmer, "Misau, Bauchi, Nigeria", now),

		// Farmers from Plateau
		profile("550e8400-e29b-41d4-a716-446655440005", "+2348056789012", "Jonathan Dung", model.UserTypeFarmer, "Jos, Plateau, Nigeria", now),
		profile("550e8400-e29b-41d4-a716-446655440006", "+2348067890123", "Grace Pam", model.UserTypeFarmer, "Bokkos, Plateau, Nigeria", now),
		profile("550e8400-e29b-41d4-a716-446655440007", "+2348078901234", "Samuel Gyang", model.UserTypeFarmer, "Pankshin, Plateau, Nigeria", now),
		profile("550e8400-e29b-41d4-a716-446655440008", "+2348089012345", "Rebecca Choji", model.UserTypeFarmer, "Langtang, Plateau, Nigeria", now),

		// Buyers from Bauchi
		profile("550e8400-e29b-41d4-a716-446655440009", "+2348090123456", "Ahmed Yussuf", model.UserTypeBuyer, "Bauchi, Nigeria", now),
		profile("550e8400-e29b-41d4-a716-446655440010", "+2348101234567", "Mariam Sani", model.UserTypeBuyer, "Giade, Bauchi, Nigeria", now),

		// Buyers from Plateau
		profile("550e8400-e29b-41d4-a716-446655440011", "+2348112345678", "Daniel Davou", model.UserTypeBuyer, "Jos, Plateau, Nigeria", now),
		profile("550e8400-e29b-41d4-a716-446655440012", "+2348123456789", "Esther Ishaya", model.UserTypeBuyer, "Barkin Ladi, Plateau, Nigeria", now),
	}

	listings := []model.ProduceListing{
		{ID: "1", FarmerID: "550e8400-e29b-41d4-a716-446655440001", ProduceName: "Tomatoes", QuantityKg: 50, PricePerKg: 700, Status: model.ListingAvailable, CreatedAt: now, UpdatedAt: now},
		{ID: "2", FarmerID: "550e8400-e29b-41d4-a716-446655440001", ProduceName: "Carrots", QuantityKg: 30, PricePerKg: 600, Status: model.ListingAvailable, CreatedAt: now, UpdatedAt: now},
		{ID: "3", FarmerID: "550e8400-e29b-41d4-a716-446655440002", ProduceName: "Yellow Peppers", QuantityKg: 25, PricePerKg: 900, Status: model.ListingAvailable, CreatedAt: now, UpdatedAt: now},
		{ID: "4", FarmerID: "550e8400-e29b-41d4-a716-446655440001", ProduceName: "Millet", QuantityKg: 500, PricePerKg: 250, Status: model.ListingAvailable, CreatedAt: now, UpdatedAt: now},
		{ID: "5", FarmerID: "550e8400-e29b-41d4-a716-446655440002", ProduceName: "Sorghum", QuantityKg: 750, PricePerKg: 220, Status: model.ListingAvailable, CreatedAt: now, UpdatedAt: now},
		{ID: "6", FarmerID: "550e8400-e29b-41d4-a716-446655440003", ProduceName: "Rice", QuantityKg: 1000, PricePerKg: 450, Status: model.ListingAvailable, CreatedAt: now, UpdatedAt: now},
		{ID: "7", FarmerID: "550e8400-e29b-41d4-a716-446655440004", ProduceName: "Maize", QuantityKg: 1200, PricePerKg: 180, Status: model.ListingAvailable, CreatedAt: now, UpdatedAt: now},
	}

	facilities := []model.StorageFacility{
		{ID: "1", Name: "Bauchi Central Storage", Location: "Bauchi State", StorageType: model.StorageClimateControlled, CapacityKg: 10000, AvailableCapacityKg: 5000, TemperatureRange: "15-20°C", RatePerKgPerWeek: 500, Status: model.FacilityOperational, CreatedAt: now},
		{ID: "2", Name: "Jos Cold Storage", Location: "Jos, Plateau State", StorageType: model.StorageCold, CapacityKg: 15000, AvailableCapacityKg: 8000, TemperatureRange: "2-8°C", RatePerKgPerWeek: 600, Status: model.FacilityOperational, CreatedAt: now},
		{ID: "3", Name: "Azare Storage Facility", Location: "Azare, Bauchi State", StorageType: model.StorageStandard, CapacityKg: 8000, AvailableCapacityKg: 4000, TemperatureRange: "Ambient", RatePerKgPerWeek: 400, Status: model.FacilityOperational, CreatedAt: now},
		{ID: "4", Name: "Bokkos Storage Hub", Location: "Bokkos, Plateau State", StorageType: model.StorageClimateControlled, CapacityKg: 12000, AvailableCapacityKg: 6000, TemperatureRange: "15-22°C", RatePerKgPerWeek: 550, Status: model.FacilityOperational, CreatedAt: now},
	}

	weekAgo := now.Add(-7 * 24 * time.Hour)
	orders := []model.Order{
		{ID: "1", BuyerID: "550e8400-e29b-41d4-a716-446655440002", ProduceListingID: "1", QuantityKg: 50, TotalPrice: 35000, DeliveryAddress: "Jos, Plateau, Nigeria", Status: model.OrderInTransit, CreatedAt: now, UpdatedAt: now},
		{ID: "2", BuyerID: "550e8400-e29b-41d4-a716-446655440002", ProduceListingID: "2", QuantityKg: 30, TotalPrice: 18000, DeliveryAddress: "Jos, Plateau, Nigeria", Status: model.OrderDelivered, CreatedAt: weekAgo, UpdatedAt: weekAgo},
	}

	passwords := make(map[string]string, len(profiles))
	for _, p := range profiles {
		passwords[p.ID] = DemoPassword
	}

	return &Data{
		Profiles:   profiles,
		Listings:   listings,
		Facilities: facilities,
		Orders:     orders,
		Passwords:  passwords,
	}
}
