// Package tryon calls the virtual try-on image-generation service.
//
// Generation is the slowest tool in the catalog (tens of seconds), so the
// HTTP client sits behind a circuit breaker: once the service fails
// repeatedly, further try-on calls fail fast with a typed error instead of
// each burning the full tool timeout. A failed generation is surfaced as an
// error to the shopper, never replaced with placeholder imagery.
package tryon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/moalsayed95/zalanko/internal/resilience"
)

// Request describes one try-on generation.
type Request struct {
	// ProductID identifies the garment to render.
	ProductID string `json:"product_id"`

	// ProductImageURL is the garment image to composite.
	ProductImageURL string `json:"product_image_url,omitempty"`

	// UserImageURL is the shopper's photo. Handlers check for its presence
	// before calling; the service requires it.
	UserImageURL string `json:"user_image_url"`
}

// Result is a successful generation.
type Result struct {
	// ImageURL references the generated composite image.
	ImageURL string `json:"image_url"`
}

// Generator produces try-on images.
type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

// Ensure HTTPClient implements Generator at compile time.
var _ Generator = (*HTTPClient)(nil)

// defaultTimeout bounds one generation request. The service renders an
// image, so this is far above typical HTTP API timeouts.
const defaultTimeout = 60 * time.Second

// Option is a functional option for configuring an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) { h.httpc = c }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(h *HTTPClient) { h.breaker = b }
}

// HTTPClient is a Generator backed by the try-on service's HTTP API.
// Safe for concurrent use.
type HTTPClient struct {
	baseURL string
	httpc   *http.Client
	breaker *resilience.Breaker
}

// New creates an HTTPClient for the service at baseURL.
func New(baseURL string, opts ...Option) *HTTPClient {
	h := &HTTPClient{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: defaultTimeout},
		breaker: resilience.NewBreaker(resilience.BreakerConfig{Name: "tryon"}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Generate implements [Generator]. It returns resilience.ErrOpen without
// contacting the service while the breaker is open.
func (h *HTTPClient) Generate(ctx context.Context, req Request) (Result, error) {
	var res Result
	err := h.breaker.Execute(func() error {
		var err error
		res, err = h.generate(ctx, req)
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("tryon: generate: %w", err)
	}
	return res, nil
}

func (h *HTTPClient) generate(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.httpc.Do(httpReq)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, fmt.Errorf("service returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}
	if res.ImageURL == "" {
		return Result{}, fmt.Errorf("service returned no image url")
	}
	return res, nil
}
