// Package geocode resolves coordinates to a display address through a
// Nominatim-compatible reverse geocoding endpoint.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dalemusser/selfmap/internal/app/system/metrics"
	"github.com/dalemusser/selfmap/internal/domain/apperr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public OpenStreetMap Nominatim service.
const DefaultBaseURL = "https://nominatim.openstreetmap.org"

// maxBody caps how much of a response is read.
const maxBody = 1 << 20

// Config configures a Client.
type Config struct {
	BaseURL   string
	UserAgent string  // Nominatim's usage policy requires an identifying agent
	RPS       float64 // request ceiling; 0 disables limiting
	HTTP      *http.Client
}

// Client calls GET {BaseURL}/reverse?format=jsonv2&lat=..&lon=..
type Client struct {
	base    string
	agent   string
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

// New builds a Client.
func New(cfg Config, log *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTP == nil {
		cfg.HTTP = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	return &Client{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		agent:   cfg.UserAgent,
		http:    cfg.HTTP,
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
	}
}

type reverseResponse struct {
	DisplayName string `json:"display_name"`
}

// Lookup returns display_name for the position. Every failure wraps
// apperr.ErrGeocode.
func (c *Client) Lookup(ctx context.Context, lat, lng float64) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrGeocode, err)
	}

	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrGeocode, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.agent != "" {
		req.Header.Set("User-Agent", c.agent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrGeocode, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return "", fmt.Errorf("%w: status %d", apperr.ErrGeocode, resp.StatusCode)
	}
	var body reverseResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: decode: %v", apperr.ErrGeocode, err)
	}
	return body.DisplayName, nil
}

// ReverseGeocode is Lookup with errors absorbed: failures are logged and
// counted, and the address is empty.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lng float64) string {
	addr, err := c.Lookup(ctx, lat, lng)
	if err != nil {
		metrics.GeocodeFailures.Inc()
		c.log.Warn("reverse geocode failed",
			zap.Float64("lat", lat), zap.Float64("lng", lng), zap.Error(err))
		return ""
	}
	return addr
}
