package models

import "time"

// District is reference data seeded at start-up
type District struct {
	ID           uint   `gorm:"primaryKey" json:"-"`
	Name         string `gorm:"size:100;not null;uniqueIndex" json:"name"`
	CityPart     string `gorm:"size:50" json:"city_part"`
	Neighborhood string `gorm:"size:50" json:"neighborhood"`
}

// StreetLocation caches a successful geocode of (street name, postal code).
// Entries are permanent; failures are never stored.
type StreetLocation struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	StreetName  string    `gorm:"size:255;not null;uniqueIndex:idx_street_location_key,priority:1" json:"street_name"`
	PostalCode  string    `gorm:"size:20;not null;uniqueIndex:idx_street_location_key,priority:2" json:"postal_code"`
	Lat         float64   `gorm:"not null" json:"lat"`
	Lng         float64   `gorm:"not null" json:"lng"`
	FullAddress string    `gorm:"size:500" json:"full_address"`
	DistrictID  *uint     `json:"district_id"`
	District    *District `gorm:"constraint:OnDelete:SET NULL" json:"district,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
