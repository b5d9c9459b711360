package ingestion

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDisposition(t *testing.T) {
	tests := []struct {
		text     string
		expected string
	}{
		{"Pronájem bytu 2+kk 54 m²", "2+kk"},
		{"Byt 3 + 1, Praha 5", "3+1"},
		{"Pronájem bytu 1+KK", "1+kk"},
		{"Krásná garsoniéra u metra", "1+kk"},
		{"Pronájem garsonky", "1+kk"},
		{"Atypický byt v podkroví", "atypický"},
		{"Pronájem bytu", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := ParseDisposition(tt.text)
			if tt.expected == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.expected, *got)
		})
	}
}

func TestParseArea(t *testing.T) {
	tests := []struct {
		text     string
		expected int
	}{
		{"Byt 1+1, 35 m²", 35},
		{"Byt 2+kk 54m2", 54},
		{"Plocha 72 m2", 72},
		{"Plocha 48,6 m²", 49},
		{"Byt o 60 metrů čtverečních", 60},
		{"Pronájem bytu 2+1", 0},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := ParseArea(tt.text)
			if tt.expected == 0 {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.expected, *got)
		})
	}
}

func TestParsePrice(t *testing.T) {
	valid := []struct {
		name     string
		value    any
		expected int
	}{
		{"integer", 20000, 20000},
		{"float without fraction", 20000.0, 20000},
		{"json number", json.Number("18500"), 18500},
		{"zero", 0.0, 0},
		{"formatted string", "20 000 Kč", 20000},
		{"nbsp string", "20 000 Kč/měsíc", 20000},
		{"dot thousands", "20.000,-", 20000},
		{"plain string", "15000", 15000},
		{"decimal zero string", "15000,00", 15000},
	}
	for _, tt := range valid {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePrice(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}

	invalid := []struct {
		name  string
		value any
	}{
		{"missing", nil},
		{"negative", -1.0},
		{"fractional", 1999.5},
		{"text", "dohodou"},
		{"empty string", ""},
		{"bool", true},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePrice(tt.value)
			assert.Error(t, err)
		})
	}
}

func TestValidLink(t *testing.T) {
	assert.True(t, validLink("https://www.sreality.cz/detail/123"))
	assert.True(t, validLink("http://example.cz/a"))
	assert.False(t, validLink("/detail/123"))
	assert.False(t, validLink("ftp://example.cz/a"))
	assert.False(t, validLink("https://"))
	assert.False(t, validLink(""))
}
