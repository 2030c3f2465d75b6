// Package nominatim implements reverse geocoding against a Nominatim
// endpoint, with a persistent cache and the courtesy pacing the public
// OSM instance requires.
package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/roadpulse/road-telemetry-etl/internal/domain"
)

// Client implements domain.Geocoder using the Nominatim reverse API.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Nominatim reverse-geocoding client. The userAgent
// identifies this deployment; the public OSM instance rejects anonymous
// clients.
func NewClient(baseURL, userAgent string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL:   baseURL,
		userAgent: userAgent,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// ReverseGeocode resolves coordinates to road attributes. An address the
// provider cannot resolve comes back as an empty result, not an error.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lon float64) (domain.GeocodeResult, error) {
	params := url.Values{
		"format":         {"jsonv2"},
		"lat":            {fmt.Sprintf("%.6f", lat)},
		"lon":            {fmt.Sprintf("%.6f", lon)},
		"zoom":           {"18"},
		"addressdetails": {"1"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/reverse?"+params.Encode(), nil)
	if err != nil {
		return domain.GeocodeResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.GeocodeResult{}, fmt.Errorf("reverse geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return domain.GeocodeResult{}, fmt.Errorf("nominatim error: status %d: %s", resp.StatusCode, body)
	}

	var nr response
	if err := json.NewDecoder(resp.Body).Decode(&nr); err != nil {
		return domain.GeocodeResult{}, fmt.Errorf("decode response: %w", err)
	}

	a := nr.Address
	result := domain.GeocodeResult{
		RoadName: firstNonEmpty(a.Road, a.Pedestrian, a.Path, a.Footway),
		HwyRef:   a.Ref,
		Region:   a.State,
		County:   a.County,
		City:     firstNonEmpty(a.City, a.Town, a.Village),
		Locality: firstNonEmpty(a.Suburb, a.Neighbourhood, a.Hamlet, a.Village),
	}
	return result, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Nominatim reverse API response types.

type response struct {
	Address address `json:"address"`
}

type address struct {
	Road          string `json:"road"`
	Pedestrian    string `json:"pedestrian"`
	Path          string `json:"path"`
	Footway       string `json:"footway"`
	Ref           string `json:"ref"`
	State         string `json:"state"`
	County        string `json:"county"`
	City          string `json:"city"`
	Town          string `json:"town"`
	Village       string `json:"village"`
	Suburb        string `json:"suburb"`
	Neighbourhood string `json:"neighbourhood"`
	Hamlet        string `json:"hamlet"`
}
