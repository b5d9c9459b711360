package config

import (
	"regexp"
	"strings"
)

// DistrictSeed is one row of the district reference table
type DistrictSeed struct {
	Name         string `json:"name"`
	CityPart     string `json:"city_part"`
	Neighborhood string `json:"neighborhood"`
}

// DefaultDistricts seeds the district catalog with the Prague city parts
var DefaultDistricts = []DistrictSeed{
	{Name: "Praha 1 - Staré Město", CityPart: "Praha 1", Neighborhood: "Staré Město"},
	{Name: "Praha 1 - Nové Město", CityPart: "Praha 1", Neighborhood: "Nové Město"},
	{Name: "Praha 1 - Malá Strana", CityPart: "Praha 1", Neighborhood: "Malá Strana"},
	{Name: "Praha 1 - Josefov", CityPart: "Praha 1", Neighborhood: "Josefov"},
	{Name: "Praha 1 - Hradčany", CityPart: "Praha 1", Neighborhood: "Hradčany"},
	{Name: "Praha 2 - Vinohrady", CityPart: "Praha 2", Neighborhood: "Vinohrady"},
	{Name: "Praha 2 - Nusle", CityPart: "Praha 2", Neighborhood: "Nusle"},
	{Name: "Praha 2 - Vyšehrad", CityPart: "Praha 2", Neighborhood: "Vyšehrad"},
	{Name: "Praha 3 - Žižkov", CityPart: "Praha 3", Neighborhood: "Žižkov"},
	{Name: "Praha 4 - Nusle", CityPart: "Praha 4", Neighborhood: "Nusle"},
	{Name: "Praha 4 - Michle", CityPart: "Praha 4", Neighborhood: "Michle"},
	{Name: "Praha 4 - Podolí", CityPart: "Praha 4", Neighborhood: "Podolí"},
	{Name: "Praha 4 - Krč", CityPart: "Praha 4", Neighborhood: "Krč"},
	{Name: "Praha 4 - Chodov", CityPart: "Praha 4", Neighborhood: "Chodov"},
	{Name: "Praha 5 - Smíchov", CityPart: "Praha 5", Neighborhood: "Smíchov"},
	{Name: "Praha 5 - Košíře", CityPart: "Praha 5", Neighborhood: "Košíře"},
	{Name: "Praha 5 - Motol", CityPart: "Praha 5", Neighborhood: "Motol"},
	{Name: "Praha 5 - Hlubočepy", CityPart: "Praha 5", Neighborhood: "Hlubočepy"},
	{Name: "Praha 6 - Dejvice", CityPart: "Praha 6", Neighborhood: "Dejvice"},
	{Name: "Praha 6 - Břevnov", CityPart: "Praha 6", Neighborhood: "Břevnov"},
	{Name: "Praha 6 - Bubeneč", CityPart: "Praha 6", Neighborhood: "Bubeneč"},
	{Name: "Praha 6 - Střešovice", CityPart: "Praha 6", Neighborhood: "Střešovice"},
	{Name: "Praha 7 - Holešovice", CityPart: "Praha 7", Neighborhood: "Holešovice"},
	{Name: "Praha 7 - Letná", CityPart: "Praha 7", Neighborhood: "Letná"},
	{Name: "Praha 7 - Troja", CityPart: "Praha 7", Neighborhood: "Troja"},
	{Name: "Praha 8 - Karlín", CityPart: "Praha 8", Neighborhood: "Karlín"},
	{Name: "Praha 8 - Libeň", CityPart: "Praha 8", Neighborhood: "Libeň"},
	{Name: "Praha 8 - Kobylisy", CityPart: "Praha 8", Neighborhood: "Kobylisy"},
	{Name: "Praha 9 - Vysočany", CityPart: "Praha 9", Neighborhood: "Vysočany"},
	{Name: "Praha 9 - Prosek", CityPart: "Praha 9", Neighborhood: "Prosek"},
	{Name: "Praha 10 - Vršovice", CityPart: "Praha 10", Neighborhood: "Vršovice"},
	{Name: "Praha 10 - Strašnice", CityPart: "Praha 10", Neighborhood: "Strašnice"},
	{Name: "Praha 10 - Záběhlice", CityPart: "Praha 10", Neighborhood: "Záběhlice"},
	{Name: "Praha 11 - Chodov", CityPart: "Praha 11", Neighborhood: "Chodov"},
	{Name: "Praha 12 - Modřany", CityPart: "Praha 12", Neighborhood: "Modřany"},
	{Name: "Praha 13 - Stodůlky", CityPart: "Praha 13", Neighborhood: "Stodůlky"},
	{Name: "Praha 14 - Černý Most", CityPart: "Praha 14", Neighborhood: "Černý Most"},
	{Name: "Praha 15 - Hostivař", CityPart: "Praha 15", Neighborhood: "Hostivař"},
}

var cityPartPattern = regexp.MustCompile(`(?i)praha\s*-?\s*(\d{1,2})\b`)

// NormalizeCityPart maps free-text city parts ("obvod Praha 5", "praha5",
// "Praha 5 - Smíchov") to the canonical "Praha N" form. Values that do not
// name a numbered Prague part are returned trimmed.
func NormalizeCityPart(value string) string {
	value = strings.Join(strings.Fields(value), " ")
	if m := cityPartPattern.FindStringSubmatch(value); m != nil {
		return "Praha " + strings.TrimLeft(m[1], "0")
	}
	return value
}

// FindDistrict looks up a seed by neighborhood name, case-insensitively.
// A non-empty cityPart restricts the search to that city part. Neighborhoods
// that span several city parts ("Nusle", "Chodov") only resolve when the
// city part disambiguates them; otherwise nil is returned.
func FindDistrict(cityPart, neighborhood string) *DistrictSeed {
	neighborhood = strings.TrimSpace(neighborhood)
	if neighborhood == "" {
		return nil
	}
	cityPart = strings.TrimSpace(cityPart)

	var found *DistrictSeed
	for i := range DefaultDistricts {
		seed := &DefaultDistricts[i]
		if !strings.EqualFold(seed.Neighborhood, neighborhood) {
			continue
		}
		if cityPart != "" && !strings.EqualFold(seed.CityPart, cityPart) {
			continue
		}
		if found != nil {
			return nil
		}
		found = seed
	}
	return found
}
