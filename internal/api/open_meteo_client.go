package api

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
)

const DefaultBaseURL = "https://api.open-meteo.com/v1/forecast"

// OpenMeteoClient is a client for the Open-Meteo API
type OpenMeteoClient struct {
	baseURL string
	client  *resty.Client
}

type ForecastParams struct {
	Latitude        float64
	Longitude       float64
	CurrentFields   []string
	HourlyFields    []string
	DailyFields     []string
	Timezone        string
	TemperatureUnit string
	PastDays        int // how many days in the past you want to get
	ForecastDays    int // how many days in the future you want to forecast
}

// CurrentWeather holds the fields requested through "current"
type CurrentWeather struct {
	Time          string   `json:"time"`
	Temperature2m *float64 `json:"temperature_2m"`
	Precipitation *float64 `json:"precipitation"`
}

type HourlyWeather struct {
	Time          []string  `json:"time"`
	Temperature2m []float64 `json:"temperature_2m"`
	Precipitation []float64 `json:"precipitation"`
}

type DailyWeather struct {
	Time             []string  `json:"time"`
	Temperature2mMax []float64 `json:"temperature_2m_max"`
	Temperature2mMin []float64 `json:"temperature_2m_min"`
	PrecipitationSum []float64 `json:"precipitation_sum"`
}

// WeatherResponse is the subset of the Open-Meteo forecast payload we read
type WeatherResponse struct {
	Latitude  float64         `json:"latitude"`
	Longitude float64         `json:"longitude"`
	Timezone  string          `json:"timezone"`
	Current   *CurrentWeather `json:"current,omitempty"`
	Hourly    *HourlyWeather  `json:"hourly,omitempty"`
	Daily     *DailyWeather   `json:"daily,omitempty"`
}

// NewOpenMeteoClient creates a new Open-Meteo API client. An empty baseURL uses the public endpoint.
func NewOpenMeteoClient(baseURL string) *OpenMeteoClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &OpenMeteoClient{
		baseURL: baseURL,
		client:  resty.New().SetHeader("Accept", "application/json"),
	}
}

// GetForecast fetches weather data for the given coordinates
func (c *OpenMeteoClient) GetForecast(ctx context.Context, forecastParams ForecastParams) (*WeatherResponse, error) {
	var forecast WeatherResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&forecast).
		Get(c.BuildURL(forecastParams))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch forecast: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("API error: status %d, body: %s", resp.StatusCode(), resp.String())
	}

	return &forecast, nil
}

// Builds URL for OpenMeteoClient request
func (c *OpenMeteoClient) BuildURL(forecastParams ForecastParams) string {
	if forecastParams.Timezone == "" {
		forecastParams.Timezone = "auto"
	}

	if forecastParams.TemperatureUnit == "" {
		forecastParams.TemperatureUnit = "celsius"
	}

	url := fmt.Sprintf("%s?latitude=%.4f&longitude=%.4f&timezone=%s&temperature_unit=%s",
		c.baseURL, forecastParams.Latitude, forecastParams.Longitude, forecastParams.Timezone, forecastParams.TemperatureUnit)

	if forecastParams.PastDays > 0 {
		url += fmt.Sprintf("&past_days=%d", forecastParams.PastDays)
	}

	if forecastParams.ForecastDays >= 0 {
		url += fmt.Sprintf("&forecast_days=%d", forecastParams.ForecastDays)
	}

	if len(forecastParams.CurrentFields) > 0 {
		url += "&current=" + strings.Join(forecastParams.CurrentFields, ",")
	}

	if len(forecastParams.DailyFields) > 0 {
		url += "&daily=" + strings.Join(forecastParams.DailyFields, ",")
	}

	if len(forecastParams.HourlyFields) > 0 {
		url += "&hourly=" + strings.Join(forecastParams.HourlyFields, ",")
	}

	return url
}

func (c *OpenMeteoClient) GetCurrentWeather(ctx context.Context, lat, long float64, fields []string) (*WeatherResponse, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("GetCurrentWeather: no weather fields provided")
	}

	return c.GetForecast(ctx, ForecastParams{
		Latitude:      lat,
		Longitude:     long,
		CurrentFields: fields,
	})
}
