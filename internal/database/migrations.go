package database

import (
	"context"

	"gorm.io/gorm/clause"

	"bytovka/internal/models"
)

// RunMigrations creates or updates the districts, street_locations and apartments tables
func (d *Database) RunMigrations() error {
	if err := d.db.AutoMigrate(
		&models.District{},
		&models.StreetLocation{},
		&models.Apartment{},
	); err != nil {
		return wrapErr("migrate", err)
	}
	return nil
}

// SeedDistricts inserts missing districts; existing names are left untouched
func (d *Database) SeedDistricts(ctx context.Context, districts []models.District) (int64, error) {
	if len(districts) == 0 {
		return 0, nil
	}

	rows := make([]models.District, len(districts))
	copy(rows, districts)
	for i := range rows {
		rows[i].ID = 0
	}

	result := d.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(&rows)
	if result.Error != nil {
		return 0, wrapErr("seed districts", result.Error)
	}
	return result.RowsAffected, nil
}
