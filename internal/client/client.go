package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
)

// Provider is the geocoding and forecast surface used by the synchronizer.
type Provider interface {
	Search(ctx context.Context, query string) ([]models.Location, error)
	Reverse(ctx context.Context, lat, lon float64) ([]models.Location, error)
	Forecast(ctx context.Context, loc models.Location, units models.UnitPreferences) (models.WeatherState, error)
	Current(ctx context.Context, loc models.Location, units models.UnitPreferences) (models.CurrentWeather, error)
}

var (
	ErrNotFound        = errors.New("not found")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
	ErrDecode          = errors.New("decode provider payload")
)

// Request field lists.
const (
	currentFields = "temperature_2m,relative_humidity_2m,apparent_temperature,is_day,weather_code,wind_speed_10m"
	dailyFields   = "weather_code,temperature_2m_max,temperature_2m_min,precipitation_probability_max,wind_speed_10m_max,sunrise,sunset"
	hourlyFields  = "temperature_2m,relative_humidity_2m,precipitation_probability,wind_speed_10m"
	forecastDays  = "7"
)

// Endpoint labels for metrics.
const (
	endpointSearch   = "search"
	endpointReverse  = "reverse"
	endpointForecast = "forecast"
	endpointCurrent  = "current"
)

// Config configures an OpenMeteoClient.
type Config struct {
	ForecastURL  string
	GeocodingURL string
	ReverseURL   string
	Language     string
	SearchCount  int
	// Timeout bounds one attempt, including any cache fallback done by Transport.
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// Transport is the fetcher; http.DefaultTransport if nil.
	Transport http.RoundTripper
}

// OpenMeteoClient calls the Open-Meteo geocoding and forecast APIs.
type OpenMeteoClient struct {
	forecastURL    string
	geocodingURL   string
	reverseURL     string
	language       string
	searchCount    int
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	now            func() time.Time
}

// NewOpenMeteoClient returns a client with defaults filled in for zero fields.
func NewOpenMeteoClient(cfg Config) *OpenMeteoClient {
	c := &OpenMeteoClient{
		forecastURL:    orDefault(cfg.ForecastURL, "https://api.open-meteo.com/v1/forecast"),
		geocodingURL:   orDefault(cfg.GeocodingURL, "https://geocoding-api.open-meteo.com/v1/search"),
		reverseURL:     orDefault(cfg.ReverseURL, "https://geocoding-api.open-meteo.com/v1/reverse"),
		language:       orDefault(cfg.Language, "pt"),
		searchCount:    cfg.SearchCount,
		timeout:        cfg.Timeout,
		retryAttempts:  cfg.RetryAttempts,
		retryBaseDelay: cfg.RetryBaseDelay,
		retryMaxDelay:  cfg.RetryMaxDelay,
		now:            time.Now,
	}
	if c.searchCount <= 0 {
		c.searchCount = 5
	}
	if c.timeout <= 0 {
		c.timeout = 15 * time.Second
	}
	if c.retryAttempts <= 0 {
		c.retryAttempts = 1
	}
	if c.retryBaseDelay <= 0 {
		c.retryBaseDelay = 100 * time.Millisecond
	}
	if c.retryMaxDelay <= 0 {
		c.retryMaxDelay = 2 * time.Second
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	c.client = &http.Client{Transport: transport}
	return c
}

// Search looks up places matching query (count and language fixed by config).
func (c *OpenMeteoClient) Search(ctx context.Context, query string) ([]models.Location, error) {
	params := url.Values{}
	params.Set("name", query)
	params.Set("count", strconv.Itoa(c.searchCount))
	params.Set("language", c.language)
	params.Set("format", "json")
	body, err := c.get(ctx, endpointSearch, c.geocodingURL, params)
	if err != nil {
		return nil, err
	}
	return decodeGeocoding(body)
}

// Reverse looks up places at the coordinates; the first result is the closest.
func (c *OpenMeteoClient) Reverse(ctx context.Context, lat, lon float64) ([]models.Location, error) {
	params := url.Values{}
	params.Set("latitude", formatCoord(lat))
	params.Set("longitude", formatCoord(lon))
	params.Set("language", c.language)
	params.Set("format", "json")
	body, err := c.get(ctx, endpointReverse, c.reverseURL, params)
	if err != nil {
		return nil, err
	}
	return decodeGeocoding(body)
}

// Forecast fetches current, 7-day daily and hourly conditions in one request.
func (c *OpenMeteoClient) Forecast(ctx context.Context, loc models.Location, units models.UnitPreferences) (models.WeatherState, error) {
	units = units.Normalize()
	params := c.locationParams(loc, units)
	params.Set("current", currentFields)
	params.Set("daily", dailyFields)
	params.Set("hourly", hourlyFields)
	params.Set("forecast_days", forecastDays)
	body, err := c.get(ctx, endpointForecast, c.forecastURL, params)
	if err != nil {
		return models.WeatherState{}, err
	}
	state, err := decodeForecast(body)
	if err != nil {
		return models.WeatherState{}, err
	}
	state.Location = loc
	state.Units = units
	state.UpdatedAt = c.now()
	return state, nil
}

// Current fetches current conditions only.
func (c *OpenMeteoClient) Current(ctx context.Context, loc models.Location, units models.UnitPreferences) (models.CurrentWeather, error) {
	params := c.locationParams(loc, units.Normalize())
	params.Set("current", currentFields)
	body, err := c.get(ctx, endpointCurrent, c.forecastURL, params)
	if err != nil {
		return models.CurrentWeather{}, err
	}
	return decodeCurrent(body)
}

func (c *OpenMeteoClient) locationParams(loc models.Location, units models.UnitPreferences) url.Values {
	params := url.Values{}
	params.Set("latitude", formatCoord(loc.Latitude))
	params.Set("longitude", formatCoord(loc.Longitude))
	params.Set("timezone", "auto")
	params.Set("temperature_unit", string(units.TemperatureUnit))
	params.Set("wind_speed_unit", string(units.WindSpeedUnit))
	return params
}

// get performs the request with retries. Cancellation is returned as-is and never retried.
func (c *OpenMeteoClient) get(ctx context.Context, endpoint, rawURL string, params url.Values) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.ProviderRetriesTotal.WithLabelValues(endpoint).Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		body, err := c.callAPI(ctx, endpoint, rawURL, params)
		if err == nil {
			return body, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err
		if !c.isRetryable(err) {
			return nil, err
		}
	}
	if c.retryAttempts == 1 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *OpenMeteoClient) callAPI(ctx context.Context, endpoint, rawURL string, params url.Values) ([]byte, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := buildRequest(reqCtx, rawURL, params)
	if err != nil {
		observability.ProviderCallsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("build request: %w", err)
	}
	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.ProviderCallsTotal.WithLabelValues(endpoint, "error").Inc()
		observability.ProviderDuration.WithLabelValues(endpoint, "error").Observe(duration)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("request timeout: %w", err)
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.ProviderCallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.ProviderDuration.WithLabelValues(endpoint, status).Observe(duration)

	if err := handleErrorResponse(resp); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}

func (c *OpenMeteoClient) isRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrUpstreamFailure):
		return true
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDecode):
		return false
	}
	var clientErr *statusError
	if errors.As(err, &clientErr) {
		return false
	}
	// transport failures and per-attempt timeouts
	return true
}

func (c *OpenMeteoClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func buildRequest(ctx context.Context, rawURL string, params url.Values) (*http.Request, error) {
	baseURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// statusError is a non-retryable 4xx response.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status: HTTP %d", e.code)
}

func handleErrorResponse(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w", ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	default:
		return &statusError{code: resp.StatusCode}
	}
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
