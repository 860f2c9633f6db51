// Package mock provides a test double for the tryon.Generator interface.
package mock

import (
	"context"
	"sync"

	"github.com/moalsayed95/zalanko/internal/shop/tryon"
)

// Ensure Generator implements tryon.Generator at compile time.
var _ tryon.Generator = (*Generator)(nil)

// Generator is a mock implementation of tryon.Generator.
type Generator struct {
	mu sync.Mutex

	// Result is returned by Generate when Err is nil.
	Result tryon.Result

	// Err, if non-nil, is returned as the error from Generate.
	Err error

	// Requests records every request passed to Generate, in order.
	Requests []tryon.Request
}

// Generate records the call and returns Result, Err.
func (g *Generator) Generate(_ context.Context, req tryon.Request) (tryon.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Requests = append(g.Requests, req)
	if g.Err != nil {
		return tryon.Result{}, g.Err
	}
	return g.Result, nil
}
