package geometry

import (
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"bytovka/internal/models"
)

// OffersFeatureCollection converts located listings into point features.
// Listings without coordinates are skipped.
func OffersFeatureCollection(apartments []models.Apartment) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i := range apartments {
		apt := &apartments[i]
		if !apt.HasLocation() {
			continue
		}

		feature := geojson.NewFeature(orb.Point{*apt.Lng, *apt.Lat})
		feature.Properties = geojson.Properties{
			"id":         apt.RemoteID,
			"title":      apt.Title,
			"price":      apt.Price,
			"link":       apt.Link,
			"scraper":    apt.Scraper,
			"created_at": apt.CreatedAt.Format(time.RFC3339),
		}
		if apt.CityPart != nil {
			feature.Properties["city_part"] = *apt.CityPart
		}
		fc.Append(feature)
	}
	return fc
}
