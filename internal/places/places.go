// Package places finds nearby sports venues through the Foursquare
// Places API. Venues carry the fsq_place_id the backend keys game
// locations by, so a search result feeds straight into
// api.GamesForLocation.
package places

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	defaultBaseURL = "https://places-api.foursquare.com"
	apiVersion     = "2025-06-17"
	maxResults     = 50
)

// Place is one venue search hit.
type Place struct {
	FsqID    string   `json:"fsq_place_id"`
	Name     string   `json:"name"`
	Distance int      `json:"distance"`
	Location Location `json:"location"`
}

type Location struct {
	FormattedAddress string `json:"formatted_address"`
	Locality         string `json:"locality"`
	Region           string `json:"region"`
}

type searchResponse struct {
	Results []Place `json:"results"`
}

// Client queries the Foursquare Places API with a service key.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func New(apiKey string) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Search returns venues matching query within radius meters of the given
// coordinates, nearest first, capped at 50 results.
func (c *Client) Search(ctx context.Context, query string, lat, lng float64, radius int) ([]Place, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("ll", fmt.Sprintf("%f,%f", lat, lng))
	q.Set("radius", strconv.Itoa(radius))
	q.Set("limit", strconv.Itoa(maxResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/places/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("places.Search: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Places-Api-Version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("places.Search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("places.Search: HTTP %d", resp.StatusCode)
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("places.Search: decode response: %w", err)
	}
	return sr.Results, nil
}
