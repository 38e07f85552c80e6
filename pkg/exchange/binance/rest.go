package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client wraps read-only REST access to the public Binance ticker endpoints.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient builds a REST client against the given base URL.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// GetTickerPrice fetches the current spot price for a pair.
func (c *Client) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	var resp struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := c.get(ctx, "/api/v3/ticker/price", symbol, &resp); err != nil {
		return 0, err
	}
	price, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("parse ticker price %q: %w", resp.Price, err)
	}
	return price, nil
}

// Get24hChange fetches the 24h price change percentage for a pair.
func (c *Client) Get24hChange(ctx context.Context, symbol string) (float64, error) {
	var resp struct {
		PriceChangePercent string `json:"priceChangePercent"`
	}
	if err := c.get(ctx, "/api/v3/ticker/24hr", symbol, &resp); err != nil {
		return 0, err
	}
	change, err := strconv.ParseFloat(resp.PriceChangePercent, 64)
	if err != nil {
		return 0, fmt.Errorf("parse change percent %q: %w", resp.PriceChangePercent, err)
	}
	return change, nil
}

func (c *Client) get(ctx context.Context, path, symbol string, out any) error {
	params := url.Values{}
	params.Set("symbol", symbol)

	u := fmt.Sprintf("%s%s?%s", c.BaseURL, path, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("binance %s status %d", path, res.StatusCode)
	}

	return json.NewDecoder(res.Body).Decode(out)
}
