package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bytovka/internal/models"
)

var identityColumns = []clause.Column{{Name: "scraper"}, {Name: "remote_id"}}

// UpsertOutcome describes what UpsertApartment did to the row
type UpsertOutcome struct {
	Created bool

	// ValidityChanged is set when an existing row's last_ping_is_valid flipped
	ValidityChanged bool

	Apartment models.Apartment
}

// Filter narrows QueryApartments. Zero values disable a condition.
type Filter struct {
	Valid    *bool
	CityPart string // case-insensitive substring of city_part
	Scraper  string
	MinPrice *int
	MaxPrice *int
}

func (f Filter) apply(db *gorm.DB) *gorm.DB {
	if f.Valid != nil {
		db = db.Where("last_ping_is_valid = ?", *f.Valid)
	}
	if cityPart := strings.TrimSpace(f.CityPart); cityPart != "" {
		db = db.Where("LOWER(city_part) LIKE ? ESCAPE '\\'", "%"+escapeLike(strings.ToLower(cityPart))+"%")
	}
	if f.Scraper != "" {
		db = db.Where("scraper = ?", f.Scraper)
	}
	if f.MinPrice != nil {
		db = db.Where("price >= ?", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		db = db.Where("price <= ?", *f.MaxPrice)
	}
	return db
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// UpsertApartment inserts apt or, when (scraper, remote_id) already exists,
// overwrites its mutable fields. The insert relies on the identity unique
// index so concurrent callers never create a second row; created_at and link
// of an existing row are never changed.
func (d *Database) UpsertApartment(ctx context.Context, apt *models.Apartment) (UpsertOutcome, error) {
	var outcome UpsertOutcome

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := d.now()
		row := *apt
		row.ID = 0
		row.CreatedAt = now
		row.UpdatedAt = now
		row.PingFailures = 0

		result := tx.Clauses(clause.OnConflict{Columns: identityColumns, DoNothing: true}).Create(&row)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 1 {
			outcome.Created = true
			return tx.Where("scraper = ? AND remote_id = ?", row.Scraper, row.RemoteID).First(&outcome.Apartment).Error
		}

		var existing models.Apartment
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("scraper = ? AND remote_id = ?", apt.Scraper, apt.RemoteID).
			First(&existing).Error; err != nil {
			return err
		}

		updates := map[string]any{
			"title":        apt.Title,
			"description":  apt.Description,
			"price":        apt.Price,
			"image_url":    apt.ImageURL,
			"disposition":  apt.Disposition,
			"area":         apt.Area,
			"address":      apt.Address,
			"city":         apt.City,
			"city_part":    apt.CityPart,
			"district":     apt.District,
			"street_name":  apt.StreetName,
			"region":       apt.Region,
			"country":      apt.Country,
			"postal_code":  apt.PostalCode,
			"lat":          apt.Lat,
			"lng":          apt.Lng,
			"batch_number": apt.BatchNumber,
			"updated_at":   now,
		}
		if existing.LastPingIsValid != apt.LastPingIsValid {
			outcome.ValidityChanged = true
			updates["last_ping_is_valid"] = apt.LastPingIsValid
			if apt.LastPingIsValid {
				updates["ping_failures"] = 0
			}
		}

		if err := tx.Model(&models.Apartment{}).Where("id = ?", existing.ID).UpdateColumns(updates).Error; err != nil {
			return err
		}
		return tx.First(&outcome.Apartment, existing.ID).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return UpsertOutcome{}, fmt.Errorf("upsert %s/%s: %w", apt.Scraper, apt.RemoteID, ErrDuplicateLink)
		}
		return UpsertOutcome{}, wrapErr("upsert apartment", err)
	}
	return outcome, nil
}

// GetApartment returns the listing with the given identity
func (d *Database) GetApartment(ctx context.Context, remoteID, scraper string) (*models.Apartment, error) {
	var apt models.Apartment
	err := d.db.WithContext(ctx).
		Where("scraper = ? AND remote_id = ?", scraper, remoteID).
		First(&apt).Error
	if err != nil {
		return nil, wrapErr("get apartment", err)
	}
	return &apt, nil
}

// QueryApartments returns one page of listings matching f, newest first,
// together with the size of the whole filtered set. Count and page come
// from the same snapshot.
func (d *Database) QueryApartments(ctx context.Context, f Filter, offset, limit int) ([]models.Apartment, int64, error) {
	var total int64
	apartments := []models.Apartment{}

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Apartment{}).Scopes(f.apply).Count(&total).Error; err != nil {
			return err
		}
		if total == 0 || int64(offset) >= total {
			return nil
		}
		return tx.Scopes(f.apply).
			Order("created_at DESC").Order("id DESC").
			Offset(offset).Limit(limit).
			Find(&apartments).Error
	}, d.readTx)
	if err != nil {
		return nil, 0, wrapErr("query apartments", err)
	}
	return apartments, total, nil
}

// QueryByBounds returns valid listings with coordinates, optionally limited to a box
func (d *Database) QueryByBounds(ctx context.Context, box *orb.Bound) ([]models.Apartment, error) {
	apartments := []models.Apartment{}
	q := d.db.WithContext(ctx).
		Where("last_ping_is_valid = ?", true).
		Where("lat IS NOT NULL AND lng IS NOT NULL")
	if box != nil {
		q = q.Where("lat BETWEEN ? AND ?", box.Min.Lat(), box.Max.Lat()).
			Where("lng BETWEEN ? AND ?", box.Min.Lon(), box.Max.Lon())
	}
	if err := q.Order("created_at DESC").Order("id DESC").Find(&apartments).Error; err != nil {
		return nil, wrapErr("query by bounds", err)
	}
	return apartments, nil
}

// CountApartments returns the number of all and of valid listings
func (d *Database) CountApartments(ctx context.Context) (total int64, valid int64, err error) {
	if err = d.db.WithContext(ctx).Model(&models.Apartment{}).Count(&total).Error; err != nil {
		return 0, 0, wrapErr("count apartments", err)
	}
	if err = d.db.WithContext(ctx).Model(&models.Apartment{}).
		Where("last_ping_is_valid = ?", true).Count(&valid).Error; err != nil {
		return 0, 0, wrapErr("count apartments", err)
	}
	return total, valid, nil
}

// ListDueForPing returns valid listings never pinged or pinged before the
// cutoff, least recently pinged first
func (d *Database) ListDueForPing(ctx context.Context, cutoff time.Time, limit int) ([]models.Apartment, error) {
	apartments := []models.Apartment{}
	err := d.db.WithContext(ctx).
		Where("last_ping_is_valid = ?", true).
		Where("last_ping IS NULL OR last_ping < ?", cutoff.UTC()).
		Order("CASE WHEN last_ping IS NULL THEN 0 ELSE 1 END").
		Order("last_ping").Order("id").
		Limit(limit).
		Find(&apartments).Error
	if err != nil {
		return nil, wrapErr("list due for ping", err)
	}
	return apartments, nil
}

// PingResult is the outcome of one liveness probe
type PingResult struct {
	// HTTP status code, 0 when no response was received
	Status int

	OK bool

	// Terminal failures (gone, not found) invalidate immediately
	Terminal bool
}

// PingOutcome describes what RecordPing did to the row
type PingOutcome struct {
	Invalidated bool
	Apartment   models.Apartment
}

// RecordPing stores a probe result and applies the consecutive failure
// policy: a listing is invalidated after threshold failures in a row or on
// a terminal failure. A successful probe resets the failure counter.
func (d *Database) RecordPing(ctx context.Context, id uint, result PingResult, threshold int) (PingOutcome, error) {
	var outcome PingOutcome

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var apt models.Apartment
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&apt, id).Error; err != nil {
			return err
		}

		now := d.now()
		status := result.Status
		updates := map[string]any{
			"last_ping":        now,
			"last_ping_status": &status,
		}

		if result.OK {
			updates["ping_failures"] = 0
		} else {
			failures := apt.PingFailures + 1
			updates["ping_failures"] = failures
			if apt.LastPingIsValid && (result.Terminal || failures >= threshold) {
				updates["last_ping_is_valid"] = false
				updates["updated_at"] = now
				outcome.Invalidated = true
			}
		}

		if err := tx.Model(&models.Apartment{}).Where("id = ?", id).UpdateColumns(updates).Error; err != nil {
			return err
		}
		return tx.First(&outcome.Apartment, id).Error
	})
	if err != nil {
		return PingOutcome{}, wrapErr("record ping", err)
	}
	return outcome, nil
}
