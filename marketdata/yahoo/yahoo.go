// Package yahoo implements a marketdata.Provider backed by the Yahoo
// Finance chart API. No API key is required; quotes are delayed.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/quantfold/ibot/market"
	"github.com/quantfold/ibot/marketdata"
)

// BaseURL is the Yahoo Finance chart API endpoint.
const BaseURL = "https://query1.finance.yahoo.com"

type Provider struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Yahoo Finance provider.
func New() *Provider {
	return &Provider{
		baseURL: BaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NewWithBaseURL creates a provider against an alternate endpoint,
// used by tests with an httptest server.
func NewWithBaseURL(base string) *Provider {
	p := New()
	p.baseURL = base
	return p
}

func (p *Provider) Name() string { return "yahoo" }

// chartResponse covers the subset of the v8 chart payload we consume.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
				Bid                float64 `json:"bid"`
				Ask                float64 `json:"ask"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []float64 `json:"open"`
					High   []float64 `json:"high"`
					Low    []float64 `json:"low"`
					Close  []float64 `json:"close"`
					Volume []float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (p *Provider) fetchChart(ctx context.Context, symbol string, params url.Values) (*chartResponse, error) {
	apiURL := fmt.Sprintf("%s/v8/finance/chart/%s?%s", p.baseURL, url.PathEscape(symbol), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "ibot/1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("yahoo API error (status %d): %s", resp.StatusCode, string(body))
	}

	var cr chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if cr.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo API error: %s: %s", cr.Chart.Error.Code, cr.Chart.Error.Description)
	}
	if len(cr.Chart.Result) == 0 {
		return nil, fmt.Errorf("yahoo: empty result for %s", symbol)
	}
	return &cr, nil
}

// GetQuote returns the latest quote for symbol.
func (p *Provider) GetQuote(ctx context.Context, symbol string) (market.Quote, error) {
	params := url.Values{}
	params.Set("interval", "1m")
	params.Set("range", "1d")

	cr, err := p.fetchChart(ctx, symbol, params)
	if err != nil {
		return market.Quote{}, err
	}

	meta := cr.Chart.Result[0].Meta
	q := market.Quote{
		Symbol: symbol,
		Time:   time.Unix(meta.RegularMarketTime, 0),
		Bid:    meta.Bid,
		Ask:    meta.Ask,
		Last:   meta.RegularMarketPrice,
	}
	if q.Time.Unix() <= 0 {
		q.Time = time.Now()
	}
	if !q.HasPrice() {
		return market.Quote{}, fmt.Errorf("yahoo: no price for %s", symbol)
	}
	return q, nil
}

// GetHistoricalBars returns OHLCV bars for symbol.
func (p *Provider) GetHistoricalBars(ctx context.Context, symbol string, req marketdata.BarRequest) ([]market.Bar, error) {
	params := url.Values{}
	if req.Period == "" {
		req.Period = "1d"
	}
	if req.Interval == "" {
		req.Interval = "1m"
	}
	params.Set("range", req.Period)
	params.Set("interval", req.Interval)

	cr, err := p.fetchChart(ctx, symbol, params)
	if err != nil {
		return nil, err
	}

	res := cr.Chart.Result[0]
	if len(res.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("yahoo: no bar data for %s", symbol)
	}
	ohlc := res.Indicators.Quote[0]

	bars := make([]market.Bar, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		if i >= len(ohlc.Close) || ohlc.Close[i] == 0 {
			continue
		}
		bars = append(bars, market.Bar{
			Symbol: symbol,
			Time:   time.Unix(ts, 0),
			Open:   at(ohlc.Open, i),
			High:   at(ohlc.High, i),
			Low:    at(ohlc.Low, i),
			Close:  ohlc.Close[i],
			Volume: at(ohlc.Volume, i),
		})
	}

	if req.Limit > 0 && len(bars) > req.Limit {
		bars = bars[len(bars)-req.Limit:]
	}
	return bars, nil
}

func at(v []float64, i int) float64 {
	if i < len(v) {
		return v[i]
	}
	return 0
}
