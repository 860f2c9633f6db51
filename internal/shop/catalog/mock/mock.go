// Package mock provides a test double for the catalog.Store interface.
package mock

import (
	"context"
	"sync"

	"github.com/moalsayed95/zalanko/internal/shop/catalog"
)

// Ensure Store implements catalog.Store at compile time.
var _ catalog.Store = (*Store)(nil)

// Store is a mock implementation of catalog.Store backed by an in-memory
// product map plus scripted results and errors.
type Store struct {
	mu sync.Mutex

	// SearchResult is returned by Search when SearchErr is nil.
	SearchResult []catalog.Product

	// SearchErr, if non-nil, is returned as the error from Search.
	SearchErr error

	// RecommendResult is returned by Recommend when RecommendErr is nil.
	RecommendResult []catalog.Product

	// RecommendErr, if non-nil, is returned as the error from Recommend.
	RecommendErr error

	// Products backs Get and Upsert, keyed by product id.
	Products map[string]catalog.Product

	// SearchQueries records every query passed to Search, in order.
	SearchQueries []catalog.Query

	// RecommendTerms records every term slice passed to Recommend, in order.
	RecommendTerms [][]string
}

// NewStore creates an empty mock store.
func NewStore() *Store {
	return &Store{Products: make(map[string]catalog.Product)}
}

// Search records the query and returns SearchResult, SearchErr.
func (s *Store) Search(_ context.Context, q catalog.Query) ([]catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SearchQueries = append(s.SearchQueries, q)
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}
	return s.SearchResult, nil
}

// Get returns the product from Products, or catalog.ErrNotFound.
func (s *Store) Get(_ context.Context, id string) (catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.Products[id]
	if !ok {
		return catalog.Product{}, catalog.ErrNotFound
	}
	return p, nil
}

// Recommend records the terms and returns RecommendResult, RecommendErr.
func (s *Store) Recommend(_ context.Context, terms []string, _ int) ([]catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]string, len(terms))
	copy(cp, terms)
	s.RecommendTerms = append(s.RecommendTerms, cp)
	if s.RecommendErr != nil {
		return nil, s.RecommendErr
	}
	return s.RecommendResult, nil
}

// Upsert stores the product in Products. The embedding is ignored.
func (s *Store) Upsert(_ context.Context, p catalog.Product, _ []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Products[p.ID] = p
	return nil
}
