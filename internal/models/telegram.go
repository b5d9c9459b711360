package models

import "strings"

// TelegramConfig stores the bot credentials
type TelegramConfig struct {
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
	APIURL   string `json:"api_url"`
}

// TelegramFilters selects which new listings are announced
type TelegramFilters struct {
	MinPrice     *int     `json:"min_price"`
	MaxPrice     *int     `json:"max_price"`
	Districts    []string `json:"districts"`
	Dispositions []string `json:"dispositions"`
}

// IsOfferAllowed checks if a listing matches the filter criteria
func (f *TelegramFilters) IsOfferAllowed(apt *Offer) bool {
	if f == nil {
		return true // No filters means allow all
	}

	if f.MinPrice != nil && apt.Price < *f.MinPrice {
		return false
	}
	if f.MaxPrice != nil && apt.Price > *f.MaxPrice {
		return false
	}

	// District matches on a case-insensitive city part substring, like the offers filter
	if len(f.Districts) > 0 {
		if apt.CityPart == nil {
			return false
		}
		cityPart := strings.ToLower(*apt.CityPart)
		allowed := false
		for _, district := range f.Districts {
			if strings.Contains(cityPart, strings.ToLower(strings.TrimSpace(district))) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if len(f.Dispositions) > 0 {
		if apt.Disposition == nil {
			return false // Filter requires a disposition but listing has none
		}
		allowed := false
		for _, d := range f.Dispositions {
			if strings.EqualFold(strings.TrimSpace(d), *apt.Disposition) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	return true
}
