package models

import "time"

// Offer is the public view of a listing
type Offer struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Price           int       `json:"price"`
	Address         *string   `json:"address"`
	CityPart        *string   `json:"city_part"`
	Disposition     *string   `json:"disposition"`
	Area            *int      `json:"area"`
	Link            string    `json:"link"`
	ImageURL        *string   `json:"image_url"`
	Scraper         string    `json:"scraper"`
	Lat             *float64  `json:"lat"`
	Lng             *float64  `json:"lng"`
	CreatedAt       time.Time `json:"created_at"`
	LastPingIsValid bool      `json:"last_ping_is_valid"`
}

// MapOffer is the reduced view used by the map
type MapOffer struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Price   int     `json:"price"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Link    string  `json:"link"`
	Scraper string  `json:"scraper"`
}

func (a *Apartment) ToOffer() Offer {
	return Offer{
		ID:              a.RemoteID,
		Title:           a.Title,
		Price:           a.Price,
		Address:         a.Address,
		CityPart:        a.CityPart,
		Disposition:     a.Disposition,
		Area:            a.Area,
		Link:            a.Link,
		ImageURL:        a.ImageURL,
		Scraper:         a.Scraper,
		Lat:             a.Lat,
		Lng:             a.Lng,
		CreatedAt:       a.CreatedAt,
		LastPingIsValid: a.LastPingIsValid,
	}
}

// ToMapOffer returns false when the listing has no coordinates
func (a *Apartment) ToMapOffer() (MapOffer, bool) {
	if !a.HasLocation() {
		return MapOffer{}, false
	}
	return MapOffer{
		ID:      a.RemoteID,
		Title:   a.Title,
		Price:   a.Price,
		Lat:     *a.Lat,
		Lng:     *a.Lng,
		Link:    a.Link,
		Scraper: a.Scraper,
	}, true
}
