package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/deokhwajeong/ott-compliance-events-pipeline/pkg/models"
)

// Resolver resolves an IP address to a location record
type Resolver interface {
	Resolve(ctx context.Context, ip string) (*models.GeoLocation, error)
}

// HTTPResolver resolves IPs against an ipapi-style JSON endpoint.
// Lookups carry their own bounded timeout so a slow upstream can never
// stall inline evaluation.
type HTTPResolver struct {
	baseURL string
	client  *http.Client
}

// NewHTTPResolver creates a resolver against the given endpoint
func NewHTTPResolver(baseURL string, timeout time.Duration) *HTTPResolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPResolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type resolveResponse struct {
	CountryCode string  `json:"country_code"`
	CountryName string  `json:"country_name"`
	Region      string  `json:"region"`
	City        string  `json:"city"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	ASN         string  `json:"asn"`
	Org         string  `json:"org"`
}

// Resolve performs the upstream lookup
func (r *HTTPResolver) Resolve(ctx context.Context, ip string) (*models.GeoLocation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s/json/", r.baseURL, ip), nil)
	if err != nil {
		return nil, fmt.Errorf("build geoip request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geoip lookup for %s: %w", ip, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geoip lookup for %s: unexpected status %d", ip, resp.StatusCode)
	}

	var body resolveResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode geoip response: %w", err)
	}

	return &models.GeoLocation{
		CountryCode:  body.CountryCode,
		CountryName:  body.CountryName,
		Region:       body.Region,
		City:         body.City,
		Latitude:     body.Latitude,
		Longitude:    body.Longitude,
		ASN:          body.ASN,
		Organization: body.Org,
		IsDatacenter: strings.Contains(strings.ToLower(body.Org), "datacenter"),
	}, nil
}
