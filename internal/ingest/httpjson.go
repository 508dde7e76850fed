package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/oddswatch/oddswatch/internal/models"
)

// fixtureDTO is the wire format served by a JSON odds feed.
type fixtureDTO struct {
	ID        string  `json:"id"`
	Home      string  `json:"home"`
	Away      string  `json:"away"`
	HomePrice float64 `json:"home_price"`
	AwayPrice float64 `json:"away_price"`
	StartTime string  `json:"start_time"` // RFC 3339
}

// HTTPProvider fetches fixture odds from a JSON-over-HTTP feed exposing
// GET {base}/groups/{group}/odds. It is the reference Provider implementation;
// bookmaker-specific feeds plug in behind the same interface.
type HTTPProvider struct {
	name       string
	baseURL    string
	httpClient *http.Client
	maxRetries int
}

// NewHTTPProvider creates a provider named name reading from baseURL.
func NewHTTPProvider(name, baseURL string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		name:       name,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: 3,
	}
}

// Name returns the provider name used in merge priority tables.
func (p *HTTPProvider) Name() string {
	return p.name
}

// FetchGroup retrieves the group's fixtures. An empty array from the feed is
// a valid "no data this cycle" result.
func (p *HTTPProvider) FetchGroup(ctx context.Context, groupID string) ([]models.Snapshot, error) {
	endpoint := fmt.Sprintf("%s/groups/%s/odds", p.baseURL, url.PathEscape(groupID))
	resp, err := p.doRequest(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var fixtures []fixtureDTO
	if err := json.NewDecoder(resp.Body).Decode(&fixtures); err != nil {
		return nil, fmt.Errorf("failed to decode fixtures: %w", err)
	}

	now := time.Now().UTC()
	snapshots := make([]models.Snapshot, 0, len(fixtures))
	for _, f := range fixtures {
		start, err := time.Parse(time.RFC3339, f.StartTime)
		if err != nil {
			continue // malformed fixture, skip
		}
		snapshots = append(snapshots, models.Snapshot{
			InstrumentID: f.ID,
			SideALabel:   f.Home,
			SideBLabel:   f.Away,
			SideAValue:   f.HomePrice,
			SideBValue:   f.AwayPrice,
			ObservedAt:   now,
			ScheduledAt:  start.UTC(),
			Provider:     p.name,
		})
	}
	return snapshots, nil
}

// doRequest performs the HTTP request with linear-backoff retry on transport
// errors and server-side failures.
func (p *HTTPProvider) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	var lastErr error
	for i := 0; i < p.maxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := p.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
		} else if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
		} else {
			return resp, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(i+1) * time.Second):
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
