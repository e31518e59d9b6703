// Package weather looks up current conditions from OpenWeatherMap. Lookups
// never fail the caller: any problem yields no weather.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/mr1hm/go-raid-alerts/internal/models"
)

const DefaultURL = "https://api.openweathermap.org/data/2.5/weather"

type Client struct {
	url    string
	apiKey string
	client *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Client{
		url:    baseURL,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

type owmResponse struct {
	Weather []struct {
		ID          int    `json:"id"`
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Pressure  float64 `json:"pressure"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64  `json:"speed"`
		Deg   *float64 `json:"deg"`
	} `json:"wind"`
	Clouds struct {
		All int `json:"all"`
	} `json:"clouds"`
}

// Current returns the weather at lat/lon or nil when unavailable.
func (c *Client) Current(ctx context.Context, lat, lon float64) *models.Weather {
	if c == nil || c.apiKey == "" {
		return nil
	}

	w, err := c.fetch(ctx, lat, lon)
	if err != nil {
		slog.Warn("weather lookup failed", "lat", lat, "lon", lon, "error", err)
		return nil
	}
	return w
}

func (c *Client) fetch(ctx context.Context, lat, lon float64) (*models.Weather, error) {
	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%.4f", lat))
	q.Set("lon", fmt.Sprintf("%.4f", lon))
	q.Set("appid", c.apiKey)
	q.Set("units", "metric")
	q.Set("lang", "uk")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error while doing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d - status: %s", resp.StatusCode, resp.Status)
	}

	var data owmResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("error decoding resp.Body: %w", err)
	}

	w := &models.Weather{
		Temp:     round(data.Main.Temp),
		Feels:    round(data.Main.FeelsLike),
		Wind:     round(data.Wind.Speed),
		Pressure: round(data.Main.Pressure),
		Humidity: data.Main.Humidity,
		Clouds:   data.Clouds.All,
		Icon:     Icon(0),
	}
	if data.Wind.Deg != nil {
		w.WindDir = WindDirection(*data.Wind.Deg)
	}
	if len(data.Weather) > 0 {
		w.Desc = capitalize(data.Weather[0].Description)
		w.Icon = Icon(data.Weather[0].ID)
	}
	return w, nil
}

var directions = [8]string{"Пн", "ПнСх", "Сх", "ПдСх", "Пд", "ПдЗх", "Зх", "ПнЗх"}

// WindDirection names the compass sector of deg in Ukrainian abbreviations.
func WindDirection(deg float64) string {
	i := int(math.Round(deg/45)) % 8
	if i < 0 {
		i += 8
	}
	return directions[i]
}

// Icon picks an emoji for an OpenWeatherMap condition code.
func Icon(id int) string {
	switch {
	case id >= 200 && id < 300:
		return "⛈️"
	case id >= 300 && id < 400, id >= 500 && id < 600:
		return "🌧️"
	case id >= 600 && id < 700:
		return "❄️"
	case id >= 700 && id < 800:
		return "🌫️"
	case id == 800:
		return "☀️"
	case id > 800:
		return "☁️"
	default:
		return "🌡️"
	}
}

func round(f float64) int {
	return int(math.Round(f))
}

func capitalize(s string) string {
	s = strings.TrimSpace(s)
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
