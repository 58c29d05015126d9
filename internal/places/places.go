// Package places wraps the Google Maps Places and Geocoding APIs used for hospital search
// and reverse geocoding.
package places

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/MedBay/internal/models"
	"googlemaps.github.io/maps"
)

// ErrNoAPIKey is returned when no Google Places API key is configured.
var ErrNoAPIKey = errors.New("google places API key not configured")

// Search defaults
const (
	MaxHospitals       = 4
	NearbyRadiusMeters = 10000
	DefaultRegion      = "IN"
	DefaultTimeout     = 10 * time.Second
	UnknownLocation    = "Unknown Location"

	// CoordinatePrefix marks a hospital query carrying the browser's coordinates.
	CoordinatePrefix = "user_location::"
)

// HospitalSearcher finds hospitals near a free-text location or coordinates.
type HospitalSearcher interface {
	SearchHospitals(ctx context.Context, query string) ([]models.Hospital, error)
}

// Geocoder turns coordinates into a short display name.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (string, error)
}

// mapsAPI is the subset of *maps.Client used here.
type mapsAPI interface {
	TextSearch(ctx context.Context, r *maps.TextSearchRequest) (maps.PlacesSearchResponse, error)
	NearbySearch(ctx context.Context, r *maps.NearbySearchRequest) (maps.PlacesSearchResponse, error)
	ReverseGeocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error)
}

// Opts holds configuration for the places client.
type Opts struct {
	APIKey  string
	BaseURL string
	Region  string
	Timeout time.Duration
}

// Option defines a configuration option for the places client.
type Option func(*Opts)

// WithAPIKey sets the Google Maps API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL points the client at an alternate Maps endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithRegion sets the region bias for text search.
func WithRegion(region string) Option {
	return func(o *Opts) { o.Region = region }
}

// WithTimeout bounds every API call.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Client implements HospitalSearcher and Geocoder.
type Client struct {
	api     mapsAPI
	region  string
	timeout time.Duration
}

var (
	_ HospitalSearcher = (*Client)(nil)
	_ Geocoder         = (*Client)(nil)
)

// NewClient creates a Maps client. It returns ErrNoAPIKey when the key is empty.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Region: DefaultRegion, Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	mapsOpts := []maps.ClientOption{maps.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		mapsOpts = append(mapsOpts, maps.WithBaseURL(cfg.BaseURL))
	}
	mc, err := maps.NewClient(mapsOpts...)
	if err != nil {
		return nil, fmt.Errorf("create maps client: %w", err)
	}
	return newClient(mc, cfg), nil
}

func newClient(api mapsAPI, cfg Opts) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{api: api, region: cfg.Region, timeout: cfg.Timeout}
}

// ParseCoordinates reports whether query is a "lat,lng" pair, optionally prefixed with
// CoordinatePrefix.
func ParseCoordinates(query string) (maps.LatLng, bool) {
	q := strings.TrimPrefix(strings.TrimSpace(query), CoordinatePrefix)
	q = strings.ReplaceAll(q, " ", "")
	ll, err := maps.ParseLatLng(q)
	if err != nil {
		return maps.LatLng{}, false
	}
	return ll, true
}

// SearchHospitals returns up to MaxHospitals results. Coordinates use Nearby Search within
// NearbyRadiusMeters; anything else is a text search for hospitals near the query.
func (c *Client) SearchHospitals(ctx context.Context, query string) ([]models.Hospital, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		resp maps.PlacesSearchResponse
		err  error
	)
	if ll, ok := ParseCoordinates(query); ok {
		slog.Debug("Places.SearchHospitals: nearby search", "lat", ll.Lat, "lng", ll.Lng)
		resp, err = c.api.NearbySearch(ctx, &maps.NearbySearchRequest{
			Location: &ll,
			Radius:   NearbyRadiusMeters,
			Type:     maps.PlaceTypeHospital,
		})
	} else {
		slog.Debug("Places.SearchHospitals: text search", "query", query)
		resp, err = c.api.TextSearch(ctx, &maps.TextSearchRequest{
			Query:  "hospitals near " + strings.TrimSpace(query),
			Region: c.region,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("places search: %w", err)
	}

	hospitals := make([]models.Hospital, 0, MaxHospitals)
	for _, r := range resp.Results {
		if len(hospitals) == MaxHospitals {
			break
		}
		hospitals = append(hospitals, toHospital(r))
	}
	return hospitals, nil
}

func toHospital(r maps.PlacesSearchResult) models.Hospital {
	addr := r.Vicinity
	if addr == "" {
		addr = r.FormattedAddress
	}
	if addr == "" {
		addr = "N/A"
	}
	return models.Hospital{
		Name:         r.Name,
		Address:      addr,
		Rating:       float64(r.Rating),
		TotalRatings: r.UserRatingsTotal,
	}
}

// ReverseGeocode returns "<sublocality>, <locality>", else "<locality>, <state>", else the
// formatted address. No results yields UnknownLocation.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	results, err := c.api.ReverseGeocode(ctx, &maps.GeocodingRequest{LatLng: &maps.LatLng{Lat: lat, Lng: lng}})
	if err != nil {
		return "", fmt.Errorf("reverse geocode: %w", err)
	}
	if len(results) == 0 {
		slog.Warn("Places.ReverseGeocode: no results", "lat", lat, "lng", lng)
		return UnknownLocation, nil
	}
	return DisplayName(results[0]), nil
}

// DisplayName picks a short human-readable name for a geocoding result.
func DisplayName(r maps.GeocodingResult) string {
	var sublocality, locality, state string
	for _, comp := range r.AddressComponents {
		switch {
		case hasType(comp.Types, "sublocality_level_1"):
			sublocality = comp.LongName
		case hasType(comp.Types, "locality"):
			locality = comp.LongName
		case hasType(comp.Types, "administrative_area_level_1"):
			state = comp.ShortName
		}
	}
	switch {
	case sublocality != "" && locality != "":
		return sublocality + ", " + locality
	case locality != "" && state != "":
		return locality + ", " + state
	case r.FormattedAddress != "":
		return r.FormattedAddress
	default:
		return UnknownLocation
	}
}

func hasType(types []string, want string) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}
