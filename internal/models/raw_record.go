package models

// RawRecord is what a scraper emits for one listing. Price is left untyped
// because scrapers send numbers as well as formatted strings ("20 000 Kč").
type RawRecord struct {
	ID              string   `json:"id"`
	Scraper         string   `json:"scraper"`
	Link            string   `json:"link"`
	Title           string   `json:"title"`
	Description     *string  `json:"description"`
	Price           any      `json:"price"`
	ImageURL        *string  `json:"image_url"`
	Disposition     *string  `json:"disposition"`
	Area            *int     `json:"area"`
	Address         *string  `json:"address"`
	City            *string  `json:"city"`
	CityPart        *string  `json:"city_part"`
	District        *string  `json:"district"`
	StreetName      *string  `json:"street_name"`
	Region          *string  `json:"region"`
	Country         *string  `json:"country"`
	PostalCode      *string  `json:"postal_code"`
	Lat             *float64 `json:"lat"`
	Lng             *float64 `json:"lng"`
	LastPingIsValid *bool    `json:"last_ping_is_valid"`
	BatchNumber     *int     `json:"batch_number"`
}
