package models

import "time"

// Apartment is one rental listing, identified by (scraper, remote id).
// Location fields are a point-in-time copy of the resolved StreetLocation
// and are not reconciled when the cache entry changes later.
type Apartment struct {
	ID uint `gorm:"primaryKey" json:"-"`

	// Identity, immutable after insert
	Scraper  string `gorm:"size:50;not null;uniqueIndex:idx_apartment_identity,priority:1" json:"scraper"`
	RemoteID string `gorm:"size:100;not null;uniqueIndex:idx_apartment_identity,priority:2" json:"id"`
	Link     string `gorm:"size:500;not null;uniqueIndex:idx_apartment_link" json:"link"`

	Title       string  `gorm:"size:255;not null" json:"title"`
	Description *string `gorm:"type:text" json:"description"`
	Price       int     `gorm:"not null;index;index:idx_apartment_listing,priority:3" json:"price"`
	ImageURL    *string `gorm:"size:500" json:"image_url"`
	Disposition *string `gorm:"size:20" json:"disposition"`
	Area        *int    `json:"area"`

	Address    *string  `gorm:"size:500" json:"address"`
	City       string   `gorm:"size:50;not null;index:idx_apartment_listing,priority:1" json:"city"`
	CityPart   *string  `gorm:"size:100;index;index:idx_apartment_listing,priority:2" json:"city_part"`
	District   *string  `gorm:"size:100" json:"district"`
	StreetName *string  `gorm:"size:255" json:"street_name"`
	Region     *string  `gorm:"size:100" json:"region"`
	Country    *string  `gorm:"size:50" json:"country"`
	PostalCode *string  `gorm:"size:20" json:"postal_code"`
	Lat        *float64 `json:"lat"`
	Lng        *float64 `json:"lng"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`

	LastPing        *time.Time `json:"last_ping"`
	LastPingStatus  *int       `json:"last_ping_status"`
	LastPingIsValid bool       `gorm:"not null;index;index:idx_apartment_listing,priority:4" json:"last_ping_is_valid"`
	PingFailures    int        `gorm:"not null" json:"ping_failures"`
	BatchNumber     *int       `json:"batch_number"`
}

// HasLocation reports whether both coordinates are resolved
func (a *Apartment) HasLocation() bool {
	return a.Lat != nil && a.Lng != nil
}
