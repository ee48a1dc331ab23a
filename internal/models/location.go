package models

import "strings"

// Location identifies a place. Latitude and Longitude form the identity of a
// Location; names may differ between a searched and a reverse-geocoded entry.
type Location struct {
	ID        int64   `json:"id,omitempty"`
	Name      string  `json:"name"`
	Country   string  `json:"country,omitempty"`
	Admin1    string  `json:"admin1,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timezone  string  `json:"timezone,omitempty"`
}

// Same reports whether l and other refer to the same place (exact coordinate match).
func (l Location) Same(other Location) bool {
	return l.Latitude == other.Latitude && l.Longitude == other.Longitude
}

// Label is the "name, admin1, country" display string with empty parts omitted.
func (l Location) Label() string {
	parts := []string{l.Name}
	if l.Admin1 != "" {
		parts = append(parts, l.Admin1)
	}
	if l.Country != "" {
		parts = append(parts, l.Country)
	}
	return strings.Join(parts, ", ")
}

// DefaultLocation is selected when neither the URL nor the caller names a place.
var DefaultLocation = Location{
	Name:      "São Paulo",
	Country:   "Brasil",
	Latitude:  -23.55,
	Longitude: -46.63,
}
