package models

// TemperatureUnit is the provider token for temperatures.
type TemperatureUnit string

// WindSpeedUnit is the provider token for wind speeds.
type WindSpeedUnit string

const (
	Celsius    TemperatureUnit = "celsius"
	Fahrenheit TemperatureUnit = "fahrenheit"

	KilometersPerHour WindSpeedUnit = "kmh"
	MetersPerSecond   WindSpeedUnit = "ms"
	MilesPerHour      WindSpeedUnit = "mph"
	Knots             WindSpeedUnit = "kn"
)

// UnitPreferences holds the display units. Always fully populated after Normalize.
type UnitPreferences struct {
	TemperatureUnit TemperatureUnit `json:"temperatureUnit"`
	WindSpeedUnit   WindSpeedUnit   `json:"windSpeedUnit"`
}

// DefaultUnits returns celsius and km/h.
func DefaultUnits() UnitPreferences {
	return UnitPreferences{TemperatureUnit: Celsius, WindSpeedUnit: KilometersPerHour}
}

// ParseTemperatureUnit returns the unit for s and whether s was recognized.
func ParseTemperatureUnit(s string) (TemperatureUnit, bool) {
	switch TemperatureUnit(s) {
	case Celsius, Fahrenheit:
		return TemperatureUnit(s), true
	}
	return Celsius, false
}

// ParseWindSpeedUnit returns the unit for s and whether s was recognized.
func ParseWindSpeedUnit(s string) (WindSpeedUnit, bool) {
	switch WindSpeedUnit(s) {
	case KilometersPerHour, MetersPerSecond, MilesPerHour, Knots:
		return WindSpeedUnit(s), true
	}
	return KilometersPerHour, false
}

// Normalize replaces every missing or unrecognized field with its default.
// Valid fields are kept; the object as a whole is never rejected.
func (u UnitPreferences) Normalize() UnitPreferences {
	t, _ := ParseTemperatureUnit(string(u.TemperatureUnit))
	w, _ := ParseWindSpeedUnit(string(u.WindSpeedUnit))
	return UnitPreferences{TemperatureUnit: t, WindSpeedUnit: w}
}

// Theme is the persisted color scheme.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// ParseTheme returns the theme for s and whether s was recognized.
func ParseTheme(s string) (Theme, bool) {
	switch Theme(s) {
	case ThemeLight, ThemeDark:
		return Theme(s), true
	}
	return ThemeLight, false
}
