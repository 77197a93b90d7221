package osrm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"

	"mapsync/pkg/routing"
)

var profiles = map[routing.TravelMode]string{
	routing.ModeCar:  "driving",
	routing.ModeBike: "cycling",
	routing.ModeFoot: "walking",
}

// Client routes through an OSRM HTTP server
type Client struct {
	baseURL     string
	httpClient  *http.Client
	initialized atomic.Bool
	logger      *slog.Logger
}

func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger.With("component", "osrm"),
	}
}

type routeResponse struct {
	Code    string  `json:"code"`
	Message string  `json:"message,omitempty"`
	Routes  []route `json:"routes"`
}

type route struct {
	Distance float64           `json:"distance"`
	Duration float64           `json:"duration"`
	Geometry *geojson.Geometry `json:"geometry"`
}

func (c *Client) Name() string        { return "osrm" }
func (c *Client) IsInitialized() bool { return c.initialized.Load() }
func (c *Client) IsDownload() bool    { return false }

func (c *Client) AvailableTravelModes() []routing.TravelMode {
	return []routing.TravelMode{routing.ModeCar, routing.ModeBike, routing.ModeFoot}
}

func (c *Client) PreferredTravelMode() routing.TravelMode { return routing.ModeCar }

func (c *Client) DownloadRoutingDataFor(ctx context.Context, points []orb.Point) (routing.DownloadFuture, error) {
	return routing.NothingToDownload(), nil
}

// WaitReady probes the server until it answers, then marks the client initialized
func (c *Client) WaitReady(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := c.Probe(ctx); err == nil {
			c.initialized.Store(true)
			c.logger.Info("osrm server reachable", "url", c.baseURL)
			return
		} else {
			c.logger.Warn("osrm server not reachable", "url", c.baseURL, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Probe asks the server for a trivial route
func (c *Client) Probe(ctx context.Context) error {
	_, err := c.fetch(ctx, orb.Point{0, 0}, orb.Point{0, 0}, routing.ModeCar)
	return err
}

func (c *Client) RouteBetween(ctx context.Context, from, to orb.Point, mode routing.TravelMode) (routing.Result, error) {
	start := time.Now()
	resp, err := c.fetch(ctx, from, to, mode)
	if err != nil {
		return routing.Result{}, err
	}

	if resp.Code == "NoRoute" || resp.Code == "NoSegment" || len(resp.Routes) == 0 {
		c.logger.Debug("no route", "from", from, "to", to, "code", resp.Code)
		return routing.Result{
			Path:     orb.LineString{from, to},
			Distance: geo.DistanceHaversine(from, to),
			Valid:    false,
		}, nil
	}
	if resp.Code != "Ok" {
		return routing.Result{}, fmt.Errorf("osrm error %s: %s", resp.Code, resp.Message)
	}

	r := resp.Routes[0]
	var path orb.LineString
	if r.Geometry != nil {
		if ls, ok := r.Geometry.Geometry().(orb.LineString); ok {
			path = ls
		}
	}

	c.logger.Debug("route computed",
		"mode", mode,
		"distance_m", r.Distance,
		"points", len(path),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return routing.Result{
		Path:     path,
		Distance: r.Distance,
		Duration: time.Duration(r.Duration * float64(time.Second)),
		Valid:    true,
	}, nil
}

func (c *Client) fetch(ctx context.Context, from, to orb.Point, mode routing.TravelMode) (*routeResponse, error) {
	profile, ok := profiles[mode]
	if !ok {
		return nil, fmt.Errorf("%w: %s", routing.ErrUnknownMode, mode)
	}

	reqURL := fmt.Sprintf("%s/route/v1/%s/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=geojson&alternatives=false&steps=false",
		c.baseURL, profile,
		from.Lon(), from.Lat(),
		to.Lon(), to.Lat(),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	// OSRM answers NoRoute with 400 and a JSON body
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusBadRequest {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var out routeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if resp.StatusCode == http.StatusBadRequest && out.Code == "" {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return &out, nil
}
