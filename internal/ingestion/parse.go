package ingestion

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	dispositionPattern = regexp.MustCompile(`(?i)(?:^|[^\d])([1-9])\s*\+\s*(kk|1)\b`)
	studioPattern      = regexp.MustCompile(`(?i)garsoni[eé]r|garsonk|garzonk`)
	atypicalPattern    = regexp.MustCompile(`(?i)atypick`)

	areaPattern = regexp.MustCompile(`(?i)(\d{1,4}(?:[.,]\d{1,2})?)\s*(?:m\s*[2²]|metr[ůu]\s*čtverečn)`)

	thousandsDotPattern = regexp.MustCompile(`^\d{1,3}(?:\.\d{3})+$`)
	decimalPattern      = regexp.MustCompile(`^(\d+)(?:[.,]0+)?$`)
)

// ParseDisposition extracts a Czech room layout such as "2+kk" or "3+1"
func ParseDisposition(text string) *string {
	if text == "" {
		return nil
	}

	var disposition string
	switch {
	case dispositionPattern.MatchString(text):
		m := dispositionPattern.FindStringSubmatch(text)
		disposition = m[1] + "+" + strings.ToLower(m[2])
	case studioPattern.MatchString(text):
		disposition = "1+kk"
	case atypicalPattern.MatchString(text):
		disposition = "atypický"
	default:
		return nil
	}
	return &disposition
}

// ParseArea extracts a floor area in square meters, rounded to whole meters
func ParseArea(text string) *int {
	m := areaPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	value, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
	if err != nil || value <= 0 {
		return nil
	}
	area := int(math.Round(value))
	return &area
}

// ParsePrice coerces a scraped price to whole crowns. Accepts JSON numbers
// that are integral and strings such as "20 000 Kč" or "20.000,-".
func ParsePrice(value any) (int, error) {
	switch v := value.(type) {
	case nil:
		return 0, fmt.Errorf("price is missing")
	case int:
		return checkPrice(float64(v))
	case int64:
		return checkPrice(float64(v))
	case float64:
		return checkPrice(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("invalid price %q", v.String())
		}
		return checkPrice(f)
	case string:
		return parsePriceString(v)
	default:
		return 0, fmt.Errorf("unsupported price type %T", value)
	}
}

func checkPrice(f float64) (int, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("price is not a number")
	}
	if f < 0 {
		return 0, fmt.Errorf("price %v is negative", f)
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("price %v is not a whole number", f)
	}
	if f > math.MaxInt32 {
		return 0, fmt.Errorf("price %v is too large", f)
	}
	return int(f), nil
}

func parsePriceString(s string) (int, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\u00a0', '\u202f':
			return -1
		}
		return r
	}, strings.ToLower(s))

	for _, suffix := range []string{"/měsíc", "/měs.", "/měs", "kč", "czk", ",-", ".-"} {
		cleaned = strings.TrimSuffix(cleaned, suffix)
	}
	for _, suffix := range []string{"kč", "czk", ",-", ".-"} {
		cleaned = strings.TrimSuffix(cleaned, suffix)
	}

	if thousandsDotPattern.MatchString(cleaned) {
		cleaned = strings.ReplaceAll(cleaned, ".", "")
	}
	m := decimalPattern.FindStringSubmatch(cleaned)
	if m == nil {
		return 0, fmt.Errorf("invalid price %q", s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q", s)
	}
	return checkPrice(float64(n))
}

// validLink reports whether link is an absolute http(s) URL
func validLink(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// optional trims s and maps blank values to nil
func optional(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
