package provider

import "context"

// MockFetcher returns controllable fixed data for development and testing.
type MockFetcher struct {
	Rows Batch
	Err  error
}

func (m *MockFetcher) Name() string { return "mock" }

func (m *MockFetcher) Fetch(_ context.Context) (Batch, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Rows != nil {
		return m.Rows, nil
	}
	return Batch{
		{"Symbol": "AAPL", "AnalystRating": "Buy", "Price": 189.2},
		{"Symbol": "MSFT", "AnalystRating": "Neutral", "Price": 327.5},
		{"Symbol": "TSLA", "AnalystRating": "Hold", "Price": 242.8},
	}, nil
}
