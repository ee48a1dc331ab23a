package prefs

import (
	"os"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
)

// MaxFavorites bounds the favorites list; the oldest entries beyond it are dropped.
const MaxFavorites = 12

// SystemTheme reports the operating environment's color scheme, if known.
type SystemTheme func() (models.Theme, bool)

// EnvSystemTheme reads PREFERS_COLOR_SCHEME ("light" or "dark").
func EnvSystemTheme() (models.Theme, bool) {
	return models.ParseTheme(strings.ToLower(strings.TrimSpace(os.Getenv("PREFERS_COLOR_SCHEME"))))
}

// Store holds the loaded preferences in memory and writes every change back to
// Storage. Write failures are logged and swallowed; the in-memory change stands.
// Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	storage   Storage
	logger    *zap.Logger
	theme     models.Theme
	units     models.UnitPreferences
	favorites []models.Location
}

// Load reads theme, settings and favorites once. Missing or corrupt values fall back
// to defaults; Load never fails.
func Load(storage Storage, system SystemTheme, logger *zap.Logger) *Store {
	s := &Store{storage: storage, logger: observability.OrNop(logger)}
	s.theme = s.loadTheme(system)
	s.units = s.loadUnits()
	s.favorites = s.loadFavorites()
	observability.FavoritesCount.Set(float64(len(s.favorites)))
	return s
}

func (s *Store) read(key string) (string, bool) {
	v, ok, err := s.storage.Get(key)
	if err != nil {
		s.logger.Warn("preference read failed", zap.String("key", key), zap.Error(err))
		return "", false
	}
	return v, ok
}

func (s *Store) write(key, value string) {
	if err := s.storage.Set(key, value); err != nil {
		s.logger.Warn("preference write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *Store) loadTheme(system SystemTheme) models.Theme {
	if v, ok := s.read(KeyTheme); ok {
		if t, ok := models.ParseTheme(v); ok {
			return t
		}
	}
	if system != nil {
		if t, ok := system(); ok {
			return t
		}
	}
	return models.ThemeLight
}

// loadUnits validates each field independently.
func (s *Store) loadUnits() models.UnitPreferences {
	raw, ok := s.read(KeySettings)
	if !ok {
		return models.DefaultUnits()
	}
	var fields struct {
		TemperatureUnit any `json:"temperatureUnit"`
		WindSpeedUnit   any `json:"windSpeedUnit"`
	}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		s.logger.Debug("settings unreadable, using defaults", zap.Error(err))
		return models.DefaultUnits()
	}
	temp, _ := fields.TemperatureUnit.(string)
	wind, _ := fields.WindSpeedUnit.(string)
	return models.UnitPreferences{
		TemperatureUnit: models.TemperatureUnit(temp),
		WindSpeedUnit:   models.WindSpeedUnit(wind),
	}.Normalize()
}

func (s *Store) loadFavorites() []models.Location {
	raw, ok := s.read(KeyFavorites)
	if !ok {
		return nil
	}
	var favs []models.Location
	if err := json.Unmarshal([]byte(raw), &favs); err != nil {
		s.logger.Debug("favorites unreadable, starting empty", zap.Error(err))
		return nil
	}
	out := make([]models.Location, 0, len(favs))
	for _, f := range favs {
		if indexOf(out, f) < 0 {
			out = append(out, f)
		}
		if len(out) == MaxFavorites {
			break
		}
	}
	return out
}

// Theme returns the current theme.
func (s *Store) Theme() models.Theme {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.theme
}

// SetTheme stores t. Unknown values are coerced to light.
func (s *Store) SetTheme(t models.Theme) models.Theme {
	t, _ = models.ParseTheme(string(t))
	s.mu.Lock()
	s.theme = t
	s.mu.Unlock()
	s.write(KeyTheme, string(t))
	return t
}

// ToggleTheme flips between light and dark and returns the new theme.
func (s *Store) ToggleTheme() models.Theme {
	s.mu.Lock()
	if s.theme == models.ThemeDark {
		s.theme = models.ThemeLight
	} else {
		s.theme = models.ThemeDark
	}
	t := s.theme
	s.mu.Unlock()
	s.write(KeyTheme, string(t))
	return t
}

// Units returns the current unit preferences.
func (s *Store) Units() models.UnitPreferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.units
}

// SetUnits normalizes and stores u, returning the stored value.
func (s *Store) SetUnits(u models.UnitPreferences) models.UnitPreferences {
	u = u.Normalize()
	s.mu.Lock()
	s.units = u
	s.mu.Unlock()
	raw, err := json.Marshal(u)
	if err != nil {
		s.logger.Warn("settings encode failed", zap.Error(err))
		return u
	}
	s.write(KeySettings, string(raw))
	return u
}

// Favorites returns a copy of the favorites, most recently added first.
func (s *Store) Favorites() []models.Location {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Location(nil), s.favorites...)
}

// IsFavorite reports whether a favorite shares loc's coordinates.
func (s *Store) IsFavorite(loc models.Location) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return indexOf(s.favorites, loc) >= 0
}

// AddFavorite inserts loc at the front, removing any earlier entry for the same
// place and dropping the oldest beyond MaxFavorites.
func (s *Store) AddFavorite(loc models.Location) []models.Location {
	s.mu.Lock()
	next := make([]models.Location, 0, len(s.favorites)+1)
	next = append(next, loc)
	for _, f := range s.favorites {
		if !f.Same(loc) {
			next = append(next, f)
		}
	}
	if len(next) > MaxFavorites {
		next = next[:MaxFavorites]
	}
	s.favorites = next
	out := s.commitFavoritesLocked()
	s.mu.Unlock()
	return out
}

// RemoveFavorite deletes the favorite sharing loc's coordinates.
func (s *Store) RemoveFavorite(loc models.Location) []models.Location {
	s.mu.Lock()
	next := make([]models.Location, 0, len(s.favorites))
	for _, f := range s.favorites {
		if !f.Same(loc) {
			next = append(next, f)
		}
	}
	s.favorites = next
	out := s.commitFavoritesLocked()
	s.mu.Unlock()
	return out
}

// ToggleFavorite adds loc if absent or removes it if present.
func (s *Store) ToggleFavorite(loc models.Location) (favorites []models.Location, added bool) {
	if s.IsFavorite(loc) {
		return s.RemoveFavorite(loc), false
	}
	return s.AddFavorite(loc), true
}

// commitFavoritesLocked writes the full list back. Must be called with mu held.
func (s *Store) commitFavoritesLocked() []models.Location {
	observability.FavoritesCount.Set(float64(len(s.favorites)))
	out := make([]models.Location, len(s.favorites))
	copy(out, s.favorites)
	raw, err := json.Marshal(out)
	if err != nil {
		s.logger.Warn("favorites encode failed", zap.Error(err))
		return out
	}
	s.write(KeyFavorites, string(raw))
	return out
}

func indexOf(list []models.Location, loc models.Location) int {
	for i, f := range list {
		if f.Same(loc) {
			return i
		}
	}
	return -1
}
