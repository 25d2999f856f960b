package srn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"tbloader/internal/services"
)

const (
	defaultHTTPTimeout       = 30 * time.Second
	defaultRequestsPerMinute = 6
	defaultUserAgent         = "tbloader/dev"
)

// Reservation is a block of serials issued by the reservation service.
type Reservation struct {
	LoaderID    int
	LoaderHexID string
	Begin       int
	End         int
}

// Reserver obtains new serial number blocks.
type Reserver interface {
	Reserve(ctx context.Context, n int) (Reservation, error)
}

// HTTPConfig describes the reservation service client.
type HTTPConfig struct {
	BaseURL           string
	Token             string
	RequestsPerMinute int
	Timeout           time.Duration
	HTTPClient        *http.Client
}

// HTTPReserver calls GET {base}/reserve?n=N.
type HTTPReserver struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	limiter *rate.Limiter
}

// NewHTTPReserver validates cfg and returns a client.
func NewHTTPReserver(cfg HTTPConfig) (*HTTPReserver, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, services.Wrap(services.ErrConfiguration, "srn", "reserver", "reservation url is required", nil)
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "srn", "reserver", "parse reservation url", err)
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	perMinute := cfg.RequestsPerMinute
	if perMinute <= 0 {
		perMinute = defaultRequestsPerMinute
	}
	return &HTTPReserver{
		baseURL: baseURL,
		token:   strings.TrimSpace(cfg.Token),
		http:    client,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}, nil
}

type reserveResponse struct {
	Result struct {
		Status string `json:"status"`
		Begin  int    `json:"begin"`
		End    int    `json:"end"`
		ID     int    `json:"id"`
		HexID  string `json:"hexid"`
	} `json:"result"`
}

// Reserve asks for n serial numbers.
func (c *HTTPReserver) Reserve(ctx context.Context, n int) (Reservation, error) {
	if c == nil {
		return Reservation{}, errors.New("srn: reserver is nil")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return Reservation{}, services.Wrap(services.ErrTransient, "srn", "reserve", "rate limit wait", err)
	}
	endpoint := c.baseURL.JoinPath("reserve")
	if n > 0 {
		endpoint.RawQuery = url.Values{"n": []string{strconv.Itoa(n)}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return Reservation{}, fmt.Errorf("srn: build reserve request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", defaultUserAgent)
	if c.token != "" {
		req.Header.Set("Authorization", c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Reservation{}, services.Wrap(services.ErrTransient, "srn", "reserve", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		marker := services.ErrExternalTool
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			marker = services.ErrTransient
		}
		return Reservation{}, services.Wrap(marker, "srn", "reserve",
			fmt.Sprintf("reservation failed (%s): %s", resp.Status, strings.TrimSpace(string(body))), nil)
	}

	var payload reserveResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Reservation{}, services.Wrap(services.ErrExternalTool, "srn", "reserve", "decode response", err)
	}
	if payload.Result.Status != "ok" {
		return Reservation{}, services.Wrap(services.ErrExternalTool, "srn", "reserve",
			fmt.Sprintf("reservation refused: status %q", payload.Result.Status), nil)
	}
	return Reservation{
		LoaderID:    payload.Result.ID,
		LoaderHexID: strings.ToUpper(payload.Result.HexID),
		Begin:       payload.Result.Begin,
		End:         payload.Result.End,
	}, nil
}
