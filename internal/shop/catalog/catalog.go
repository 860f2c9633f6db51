// Package catalog provides the product model and the search store backing
// the assistant's search, detail, and recommendation tools.
//
// Search is hybrid: an approximate-nearest-neighbour pass over product
// embeddings narrows by meaning ("something warm for winter"), while
// structured filters narrow by attribute (brand, price, size). Filter values
// come from a speech transcript, so brand and category filters fall back to
// fuzzy matching when an exact value misses ("adidas" heard as "addidas").
package catalog

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a product id does not exist.
var ErrNotFound = errors.New("catalog: product not found")

// Product is one catalog entry.
type Product struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Brand       string   `json:"brand"`
	Category    string   `json:"category"`
	Gender      string   `json:"gender,omitempty"`
	Price       float64  `json:"price"`
	Colors      []string `json:"colors,omitempty"`
	Sizes       []string `json:"sizes,omitempty"`
	Material    string   `json:"material,omitempty"`
	Description string   `json:"description,omitempty"`
	ImageURL    string   `json:"image_url,omitempty"`
	Rating      float64  `json:"rating,omitempty"`
	OnSale      bool     `json:"on_sale"`
}

// Filters narrows a search by structured attributes. Zero values mean "no
// constraint".
type Filters struct {
	Brand    string
	Category string
	Gender   string
	Color    string
	Size     string
	Material string
	MinPrice float64
	MaxPrice float64

	// OnSale is a tri-state: nil means no constraint.
	OnSale *bool
}

// Empty reports whether no filter is set.
func (f Filters) Empty() bool {
	return f == Filters{}
}

// Query is one search request.
type Query struct {
	// Text is the natural-language query to embed for similarity search.
	Text string

	// Filters narrows the candidate set before ranking.
	Filters Filters

	// Limit caps the result count. Zero means the store default.
	Limit int
}

// Store is the product search backend.
type Store interface {
	// Search returns products matching the query, most similar first.
	Search(ctx context.Context, q Query) ([]Product, error)

	// Get returns one product by id, or ErrNotFound.
	Get(ctx context.Context, id string) (Product, error)

	// Recommend returns products similar in meaning to the given style
	// terms, most similar first.
	Recommend(ctx context.Context, styleTerms []string, limit int) ([]Product, error)

	// Upsert inserts or replaces a product and its embedding. Used by
	// catalog ingestion, not by tool handlers.
	Upsert(ctx context.Context, p Product, embedding []float32) error
}
