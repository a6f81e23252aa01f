package provider

import "context"

// Row is one instrument record as returned by the data provider. Field
// names are heterogeneous display labels ("Symbol", "Price", ...).
type Row map[string]any

// Batch is the tabular result of one fetch.
type Batch []Row

// Fetcher retrieves one snapshot batch from an external data provider.
type Fetcher interface {
	Fetch(ctx context.Context) (Batch, error)
	Name() string
}
