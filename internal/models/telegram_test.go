package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsOfferAllowed(t *testing.T) {
	cityPart := "Praha 5 - Smíchov"
	disposition := "2+kk"
	offer := &Offer{Price: 20000, CityPart: &cityPart, Disposition: &disposition}

	minPrice, maxPrice, low := 15000, 25000, 10000

	tests := []struct {
		name    string
		filters *TelegramFilters
		want    bool
	}{
		{"no filters", nil, true},
		{"empty filters", &TelegramFilters{}, true},
		{"price in range", &TelegramFilters{MinPrice: &minPrice, MaxPrice: &maxPrice}, true},
		{"price above max", &TelegramFilters{MaxPrice: &low}, false},
		{"district substring", &TelegramFilters{Districts: []string{" praha 5 "}}, true},
		{"district mismatch", &TelegramFilters{Districts: []string{"Praha 2"}}, false},
		{"disposition match", &TelegramFilters{Dispositions: []string{"1+1", "2+KK"}}, true},
		{"disposition mismatch", &TelegramFilters{Dispositions: []string{"3+1"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filters.IsOfferAllowed(offer))
		})
	}

	assert.False(t, (&TelegramFilters{Districts: []string{"Praha 5"}}).IsOfferAllowed(&Offer{}))
	assert.False(t, (&TelegramFilters{Dispositions: []string{"2+kk"}}).IsOfferAllowed(&Offer{}))
}
