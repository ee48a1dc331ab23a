// Package validation checks API payloads before they reach the synchronizer or preference store.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/kjstillabower/weather-dashboard/internal/models"
)

// ErrInvalidCoordinates is returned when latitude or longitude is missing or out of range.
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// ErrInvalidPayload is returned when a request body fails struct validation.
var ErrInvalidPayload = errors.New("invalid payload")

// ErrQueryTooLong is returned when a search query exceeds the maximum length.
var ErrQueryTooLong = errors.New("query too long")

// ErrQueryInvalidChars is returned when a search query contains disallowed characters.
var ErrQueryInvalidChars = errors.New("query contains invalid characters")

// MaxNameLength bounds location name parts accepted from clients.
const MaxNameLength = 200

var validate = validator.New(validator.WithRequiredStructEnabled())

// Coordinates is the wire form for a position; pointers make absence detectable.
type Coordinates struct {
	Latitude  *float64 `json:"latitude" validate:"required,latitude"`
	Longitude *float64 `json:"longitude" validate:"required,longitude"`
}

// LocationPayload is the wire form of a models.Location accepted from clients.
type LocationPayload struct {
	ID        int64    `json:"id"`
	Name      string   `json:"name" validate:"max=200"`
	Country   string   `json:"country" validate:"max=200"`
	Admin1    string   `json:"admin1" validate:"max=200"`
	Latitude  *float64 `json:"latitude" validate:"required,latitude"`
	Longitude *float64 `json:"longitude" validate:"required,longitude"`
	Timezone  string   `json:"timezone" validate:"max=64"`
}

// Struct validates v against its `validate` tags. Failures wrap ErrInvalidPayload and
// name the first offending field.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Tag() == "latitude" || fe.Tag() == "longitude" || fe.Field() == "Latitude" || fe.Field() == "Longitude" {
			return fmt.Errorf("%w: %s", ErrInvalidCoordinates, strings.ToLower(fe.Field()))
		}
		return fmt.Errorf("%w: %s failed %s", ErrInvalidPayload, strings.ToLower(fe.Field()), fe.Tag())
	}
	return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
}

// ValidateCoordinates checks latitude in [-90, 90] and longitude in [-180, 180].
func ValidateCoordinates(lat, lon float64) error {
	return Struct(Coordinates{Latitude: &lat, Longitude: &lon})
}

// Location validates p and converts it to a models.Location. The name defaults to
// placeholder when blank.
func (p LocationPayload) Location(placeholder string) (models.Location, error) {
	if err := Struct(p); err != nil {
		return models.Location{}, err
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = placeholder
	}
	return models.Location{
		ID:        p.ID,
		Name:      name,
		Country:   strings.TrimSpace(p.Country),
		Admin1:    strings.TrimSpace(p.Admin1),
		Latitude:  *p.Latitude,
		Longitude: *p.Longitude,
		Timezone:  p.Timezone,
	}, nil
}

// ValidateQuery trims the input, enforces maxLen (in runes) and restricts to allowed
// characters: letters (Unicode), digits, space, comma, hyphen, period and apostrophe.
// Short queries are valid here; the synchronizer decides they need no lookup.
func ValidateQuery(input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if maxLen > 0 && len(r) > maxLen {
		return "", ErrQueryTooLong
	}
	for _, c := range r {
		if !isAllowedQueryRune(c) {
			return "", ErrQueryInvalidChars
		}
	}
	return s, nil
}

func isAllowedQueryRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsMark(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}
