// Package urlstate encodes the selected location and unit preferences into a
// shareable query string and recovers them on page load.
package urlstate

import (
	"math"
	"net/url"
	"strconv"

	"github.com/kjstillabower/weather-dashboard/internal/models"
)

// Query parameter names.
const (
	ParamLatitude  = "lat"
	ParamLongitude = "lon"
	ParamName      = "name"
	ParamAdmin1    = "admin1"
	ParamCountry   = "country"
	ParamTempUnit  = "u"
	ParamWindUnit  = "ws"
)

// DefaultName labels a location decoded without a name parameter.
const DefaultName = "Local"

// Encode returns a copy of u with the location and unit parameters rewritten.
// The path and unrelated parameters are preserved. Empty name parts are removed
// so a previous location's region does not leak into the link.
func Encode(u *url.URL, loc models.Location, units models.UnitPreferences) *url.URL {
	out := &url.URL{}
	if u != nil {
		copied := *u
		out = &copied
	}
	q, err := url.ParseQuery(out.RawQuery)
	if err != nil {
		q = url.Values{}
	}
	q.Set(ParamLatitude, formatCoord(loc.Latitude))
	q.Set(ParamLongitude, formatCoord(loc.Longitude))
	setOrDelete(q, ParamName, loc.Name)
	setOrDelete(q, ParamAdmin1, loc.Admin1)
	setOrDelete(q, ParamCountry, loc.Country)
	units = units.Normalize()
	q.Set(ParamTempUnit, string(units.TemperatureUnit))
	q.Set(ParamWindUnit, string(units.WindSpeedUnit))
	out.RawQuery = q.Encode()
	return out
}

// DecodeLocation reads a location from rawQuery. ok is false unless both
// coordinates are present and finite numbers.
func DecodeLocation(rawQuery string) (loc models.Location, ok bool) {
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return models.Location{}, false
	}
	lat, ok := parseCoord(q.Get(ParamLatitude))
	if !ok {
		return models.Location{}, false
	}
	lon, ok := parseCoord(q.Get(ParamLongitude))
	if !ok {
		return models.Location{}, false
	}
	name := q.Get(ParamName)
	if name == "" {
		name = DefaultName
	}
	return models.Location{
		Name:      name,
		Admin1:    q.Get(ParamAdmin1),
		Country:   q.Get(ParamCountry),
		Latitude:  lat,
		Longitude: lon,
	}, true
}

// DecodeUnits reads unit preferences from rawQuery. Temperature is fahrenheit only
// when the parameter is exactly "fahrenheit"; wind is kmh unless ms, mph or kn.
// A malformed query yields fallback.
func DecodeUnits(rawQuery string, fallback models.UnitPreferences) models.UnitPreferences {
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return fallback
	}
	out := models.DefaultUnits()
	if q.Get(ParamTempUnit) == string(models.Fahrenheit) {
		out.TemperatureUnit = models.Fahrenheit
	}
	switch ws := models.WindSpeedUnit(q.Get(ParamWindUnit)); ws {
	case models.MetersPerSecond, models.MilesPerHour, models.Knots:
		out.WindSpeedUnit = ws
	}
	return out
}

// HasUnits reports whether rawQuery carries any unit parameter.
func HasUnits(rawQuery string) bool {
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return false
	}
	return q.Has(ParamTempUnit) || q.Has(ParamWindUnit)
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func parseCoord(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func setOrDelete(q url.Values, key, value string) {
	if value == "" {
		q.Del(key)
		return
	}
	q.Set(key, value)
}
