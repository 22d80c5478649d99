// Package weather fetches and caches ambient conditions for event enrichment.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fernledge/homestream/internal/domain"
	"github.com/fernledge/homestream/internal/observability"
)

const defaultBaseURL = "https://api.openweathermap.org/data/2.5/weather"

// Client implements domain.WeatherProvider against a current-conditions HTTP
// API keyed by a fixed latitude/longitude.
type Client struct {
	apiKey     string
	lat, lon   float64
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient creates a weather provider client for one location.
func NewClient(apiKey string, lat, lon float64, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		apiKey:  apiKey,
		lat:     lat,
		lon:     lon,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger:  logger,
		metrics: metrics,
	}
}

// SetBaseURL overrides the default API endpoint, for self-hosted or
// compatible providers.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// Current fetches the present conditions for the configured location.
func (c *Client) Current(ctx context.Context) (domain.WeatherConditions, error) {
	params := url.Values{
		"lat":   {strconv.FormatFloat(c.lat, 'f', 4, 64)},
		"lon":   {strconv.FormatFloat(c.lon, 'f', 4, 64)},
		"appid": {c.apiKey},
		"units": {"metric"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return domain.WeatherConditions{}, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.WeatherAPIDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.WeatherFetchErrors.Inc()
		return domain.WeatherConditions{}, fmt.Errorf("fetch current conditions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.metrics.WeatherFetchErrors.Inc()
		body, _ := io.ReadAll(resp.Body)
		return domain.WeatherConditions{}, fmt.Errorf("weather API error: status %d: %s", resp.StatusCode, body)
	}

	var wr response
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		c.metrics.WeatherFetchErrors.Inc()
		return domain.WeatherConditions{}, fmt.Errorf("decode response: %w", err)
	}

	cond := domain.WeatherConditions{
		TemperatureC: wr.Main.Temp,
		HumidityPct:  wr.Main.Humidity,
		PressureHpa:  wr.Main.Pressure,
		WindSpeedMS:  wr.Wind.Speed,
		FetchedAt:    time.Now().UTC(),
	}
	if len(wr.Weather) > 0 {
		cond.Condition = wr.Weather[0].Main
	}
	return cond, nil
}

// Weather API response types.

type response struct {
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity float64 `json:"humidity"`
		Pressure float64 `json:"pressure"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Weather []struct {
		Main string `json:"main"`
	} `json:"weather"`
}
