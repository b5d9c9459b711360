package database

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bytovka/internal/models"
)

var streetLocationKey = []clause.Column{{Name: "street_name"}, {Name: "postal_code"}}

// FindStreetLocation returns the cached geocode for (street, postal code)
func (d *Database) FindStreetLocation(ctx context.Context, streetName, postalCode string) (*models.StreetLocation, error) {
	var location models.StreetLocation
	err := d.db.WithContext(ctx).
		Preload("District").
		Where("street_name = ? AND postal_code = ?", streetName, postalCode).
		First(&location).Error
	if err != nil {
		return nil, wrapErr("find street location", err)
	}
	return &location, nil
}

// InsertStreetLocation stores a geocode unless the key is already cached and
// returns the persisted row. When two writers race, the first one wins and
// both get its values back.
func (d *Database) InsertStreetLocation(ctx context.Context, location *models.StreetLocation) (*models.StreetLocation, error) {
	row := *location
	row.ID = 0
	row.District = nil
	row.CreatedAt = d.now()

	var persisted models.StreetLocation
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{Columns: streetLocationKey, DoNothing: true}).Create(&row).Error; err != nil {
			return err
		}
		return tx.Preload("District").
			Where("street_name = ? AND postal_code = ?", row.StreetName, row.PostalCode).
			First(&persisted).Error
	})
	if err != nil {
		return nil, wrapErr("insert street location", err)
	}
	return &persisted, nil
}

// ListDistricts returns the catalog ordered by name
func (d *Database) ListDistricts(ctx context.Context) ([]models.District, error) {
	districts := []models.District{}
	if err := d.db.WithContext(ctx).Order("name").Find(&districts).Error; err != nil {
		return nil, wrapErr("list districts", err)
	}
	return districts, nil
}

// MatchDistrict finds the catalog entry for a provider neighborhood,
// falling back to the first district of the city part. Returns nil when
// nothing matches.
func (d *Database) MatchDistrict(ctx context.Context, neighborhood, cityPart string) (*models.District, error) {
	neighborhood = strings.TrimSpace(neighborhood)
	cityPart = strings.TrimSpace(cityPart)
	if neighborhood == "" && cityPart == "" {
		return nil, nil
	}

	districts, err := d.ListDistricts(ctx)
	if err != nil {
		return nil, err
	}

	if neighborhood != "" {
		for i := range districts {
			if strings.EqualFold(districts[i].Neighborhood, neighborhood) || strings.EqualFold(districts[i].Name, neighborhood) {
				return &districts[i], nil
			}
		}
	}
	if cityPart != "" {
		for i := range districts {
			if strings.EqualFold(districts[i].CityPart, cityPart) {
				return &districts[i], nil
			}
		}
	}
	return nil, nil
}
