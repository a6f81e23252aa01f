package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultBaseURL is the public screener scan endpoint.
const DefaultBaseURL = "https://scanner.tradingview.com"

// Column pairs a screener field name with the display label used as the
// row key in the resulting batch.
type Column struct {
	Field string
	Label string
}

// DefaultColumns is the field set retrieved on every scan. The labels
// match what downstream consumers look up ("Symbol", "AnalystRating",
// "Price" plus display-only extras).
var DefaultColumns = []Column{
	{Field: "name", Label: "Symbol"},
	{Field: "description", Label: "Description"},
	{Field: "close", Label: "Price"},
	{Field: "change", Label: "Change %"},
	{Field: "volume", Label: "Volume"},
	{Field: "market_cap_basic", Label: "Market Capitalization"},
	{Field: "sector", Label: "Sector"},
	{Field: "industry", Label: "Industry"},
	{Field: "recommendation_mark", Label: "AnalystRating"},
	{Field: "price_52_week_high", Label: "52 Week High"},
	{Field: "price_52_week_low", Label: "52 Week Low"},
}

// ScreenerFetcher pulls a ranked slice of instruments from a
// TradingView-style scan API.
type ScreenerFetcher struct {
	client  *resty.Client
	market  string
	start   int
	end     int
	columns []Column
}

// NewScreenerFetcher creates a fetcher for the given market and row range.
// An empty baseURL falls back to the public endpoint.
func NewScreenerFetcher(baseURL, market, proxyURL string, start, end int) *ScreenerFetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetHeader("User-Agent", "Mozilla/5.0")
	if proxyURL != "" {
		client.SetProxy(proxyURL)
	}
	return &ScreenerFetcher{
		client:  client,
		market:  market,
		start:   start,
		end:     end,
		columns: DefaultColumns,
	}
}

func (f *ScreenerFetcher) Name() string { return "screener:" + f.market }

type scanRequest struct {
	Columns []string `json:"columns"`
	Range   [2]int   `json:"range"`
}

type scanResponse struct {
	TotalCount int `json:"totalCount"`
	Data       []struct {
		S string `json:"s"`
		D []any  `json:"d"`
	} `json:"data"`
}

// Fetch executes one blocking scan and maps columns onto labelled rows.
func (f *ScreenerFetcher) Fetch(ctx context.Context) (Batch, error) {
	req := scanRequest{Range: [2]int{f.start, f.end}}
	for _, col := range f.columns {
		req.Columns = append(req.Columns, col.Field)
	}

	var result scanResponse
	resp, err := f.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		Post(fmt.Sprintf("/%s/scan", f.market))
	if err != nil {
		return nil, fmt.Errorf("screener scan: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("screener scan: status %d, body: %s", resp.StatusCode(), resp.String())
	}

	batch := make(Batch, 0, len(result.Data))
	for _, item := range result.Data {
		row := make(Row, len(f.columns)+1)
		for i, col := range f.columns {
			if i < len(item.D) {
				row[col.Label] = item.D[i]
			}
		}
		// The screener reports "EXCHANGE:TICKER"; keep the bare ticker
		// when the name column came back empty.
		if row["Symbol"] == nil || row["Symbol"] == "" {
			if idx := strings.IndexByte(item.S, ':'); idx >= 0 {
				row["Symbol"] = item.S[idx+1:]
			} else {
				row["Symbol"] = item.S
			}
		}
		batch = append(batch, row)
	}
	return batch, nil
}
