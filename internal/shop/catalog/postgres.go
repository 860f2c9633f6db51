package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/antzucaro/matchr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/moalsayed95/zalanko/internal/observe"
	"github.com/moalsayed95/zalanko/pkg/provider/embeddings"
)

// Compile-time assertion that PostgresStore satisfies the Store interface.
var _ Store = (*PostgresStore)(nil)

const (
	// defaultLimit caps search results when the query does not set one.
	defaultLimit = 5

	// fuzzyThreshold is the minimum Jaro-Winkler score for a transcribed
	// filter value to be corrected to a known attribute value.
	fuzzyThreshold = 0.85
)

// productColumns is the shared select list for product rows.
const productColumns = `id, name, brand, category, gender, price, colors, sizes, material, description, image_url, rating, on_sale`

// PostgresOption is a functional option for configuring a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithMetrics sets the metrics sink for the search latency histogram.
func WithMetrics(m *observe.Metrics) PostgresOption {
	return func(s *PostgresStore) { s.metrics = m }
}

// PostgresStore is a Store backed by a PostgreSQL products table with a
// pgvector HNSW index over product embeddings.
//
// All methods are safe for concurrent use.
type PostgresStore struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
	metrics  *observe.Metrics
}

// NewPostgresStore creates a store over pool using embedder for query
// vectors.
func NewPostgresStore(pool *pgxpool.Pool, embedder embeddings.Provider, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{pool: pool, embedder: embedder}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Search implements [Store]. The query text is embedded and ranked by cosine
// distance; filters narrow the candidate set. A brand or category filter that
// matches nothing exactly is retried once with its closest known value.
func (s *PostgresStore) Search(ctx context.Context, q Query) ([]Product, error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.SearchDuration.Record(ctx, time.Since(start).Seconds())
		}
	}()

	vec, err := s.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("catalog: embed query: %w", err)
	}

	products, err := s.vectorSearch(ctx, vec, q.Filters, q.Limit)
	if err != nil {
		return nil, err
	}
	if len(products) > 0 || q.Filters.Empty() {
		return products, nil
	}

	// Nothing matched. Spoken filter values are often slightly off, so
	// correct brand and category against the known attribute values and
	// retry once.
	corrected, changed, err := s.fuzzyCorrect(ctx, q.Filters)
	if err != nil {
		return nil, err
	}
	if !changed {
		return products, nil
	}
	return s.vectorSearch(ctx, vec, corrected, q.Limit)
}

// Get implements [Store].
func (s *PostgresStore) Get(ctx context.Context, id string) (Product, error) {
	q := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return Product{}, fmt.Errorf("catalog: get %q: %w", id, err)
	}
	p, err := pgx.CollectOneRow(rows, scanProduct)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, fmt.Errorf("catalog: get %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return Product{}, fmt.Errorf("catalog: get %q: %w", id, err)
	}
	return p, nil
}

// Recommend implements [Store]. Style terms are embedded as one description
// of the shopper's taste and matched against the catalog.
func (s *PostgresStore) Recommend(ctx context.Context, styleTerms []string, limit int) ([]Product, error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.SearchDuration.Record(ctx, time.Since(start).Seconds())
		}
	}()

	vec, err := s.embedder.Embed(ctx, strings.Join(styleTerms, ", "))
	if err != nil {
		return nil, fmt.Errorf("catalog: embed style terms: %w", err)
	}
	return s.vectorSearch(ctx, vec, Filters{}, limit)
}

// Upsert implements [Store].
func (s *PostgresStore) Upsert(ctx context.Context, p Product, embedding []float32) error {
	const q = `
		INSERT INTO products
		    (id, name, brand, category, gender, price, colors, sizes, material, description, image_url, rating, on_sale, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
		    name        = EXCLUDED.name,
		    brand       = EXCLUDED.brand,
		    category    = EXCLUDED.category,
		    gender      = EXCLUDED.gender,
		    price       = EXCLUDED.price,
		    colors      = EXCLUDED.colors,
		    sizes       = EXCLUDED.sizes,
		    material    = EXCLUDED.material,
		    description = EXCLUDED.description,
		    image_url   = EXCLUDED.image_url,
		    rating      = EXCLUDED.rating,
		    on_sale     = EXCLUDED.on_sale,
		    embedding   = EXCLUDED.embedding`

	_, err := s.pool.Exec(ctx, q,
		p.ID, p.Name, p.Brand, p.Category, p.Gender, p.Price,
		p.Colors, p.Sizes, p.Material, p.Description, p.ImageURL,
		p.Rating, p.OnSale, pgvector.NewVector(embedding),
	)
	if err != nil {
		return fmt.Errorf("catalog: upsert %q: %w", p.ID, err)
	}
	return nil
}

// scanProduct maps one productColumns row.
func scanProduct(row pgx.CollectableRow) (Product, error) {
	var p Product
	err := row.Scan(
		&p.ID, &p.Name, &p.Brand, &p.Category, &p.Gender, &p.Price,
		&p.Colors, &p.Sizes, &p.Material, &p.Description, &p.ImageURL,
		&p.Rating, &p.OnSale,
	)
	return p, err
}

// vectorSearch runs one ANN query with the given filters.
func (s *PostgresStore) vectorSearch(ctx context.Context, vec []float32, f Filters, limit int) ([]Product, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	args := []any{pgvector.NewVector(vec)} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := buildConditions(f, next)
	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, "\n  AND ")
	}

	args = append(args, limit)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT %s,
		       embedding <=> $1 AS distance
		FROM   products
		%s
		ORDER  BY distance
		LIMIT  %s`, productColumns, whereClause, limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: search: %w", err)
	}
	products, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Product, error) {
		var (
			p        Product
			distance float64
		)
		if err := row.Scan(
			&p.ID, &p.Name, &p.Brand, &p.Category, &p.Gender, &p.Price,
			&p.Colors, &p.Sizes, &p.Material, &p.Description, &p.ImageURL,
			&p.Rating, &p.OnSale, &distance,
		); err != nil {
			return Product{}, err
		}
		return p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: scan rows: %w", err)
	}
	if products == nil {
		products = []Product{}
	}
	return products, nil
}

// buildConditions translates filters into SQL conditions, registering each
// value through next.
func buildConditions(f Filters, next func(any) string) []string {
	var conditions []string
	if f.Brand != "" {
		conditions = append(conditions, "LOWER(brand) = LOWER("+next(f.Brand)+")")
	}
	if f.Category != "" {
		conditions = append(conditions, "LOWER(category) = LOWER("+next(f.Category)+")")
	}
	if f.Gender != "" {
		conditions = append(conditions, "LOWER(gender) = LOWER("+next(f.Gender)+")")
	}
	if f.Color != "" {
		conditions = append(conditions, next(f.Color)+" ILIKE ANY (colors)")
	}
	if f.Size != "" {
		conditions = append(conditions, next(f.Size)+" ILIKE ANY (sizes)")
	}
	if f.Material != "" {
		conditions = append(conditions, "LOWER(material) = LOWER("+next(f.Material)+")")
	}
	if f.MinPrice > 0 {
		conditions = append(conditions, "price >= "+next(f.MinPrice))
	}
	if f.MaxPrice > 0 {
		conditions = append(conditions, "price <= "+next(f.MaxPrice))
	}
	if f.OnSale != nil {
		conditions = append(conditions, "on_sale = "+next(*f.OnSale))
	}
	return conditions
}

// fuzzyCorrect replaces the brand and category filter values with their
// closest known values when an exact match does not exist. Reports whether
// any value changed.
func (s *PostgresStore) fuzzyCorrect(ctx context.Context, f Filters) (Filters, bool, error) {
	changed := false

	if f.Brand != "" {
		known, err := s.distinctValues(ctx, "brand")
		if err != nil {
			return f, false, err
		}
		if best, ok := closestMatch(f.Brand, known); ok && !strings.EqualFold(best, f.Brand) {
			f.Brand = best
			changed = true
		}
	}
	if f.Category != "" {
		known, err := s.distinctValues(ctx, "category")
		if err != nil {
			return f, false, err
		}
		if best, ok := closestMatch(f.Category, known); ok && !strings.EqualFold(best, f.Category) {
			f.Category = best
			changed = true
		}
	}
	return f, changed, nil
}

// distinctValues returns the distinct non-empty values of one attribute
// column. column is always a fixed identifier, never user input.
func (s *PostgresStore) distinctValues(ctx context.Context, column string) ([]string, error) {
	q := fmt.Sprintf(`SELECT DISTINCT %s FROM products WHERE %s <> ''`, column, column)
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("catalog: distinct %s: %w", column, err)
	}
	values, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var v string
		err := row.Scan(&v)
		return v, err
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: distinct %s: %w", column, err)
	}
	return values, nil
}

// closestMatch returns the candidate with the highest Jaro-Winkler score
// against value, if any scores at or above fuzzyThreshold.
func closestMatch(value string, candidates []string) (string, bool) {
	best, bestScore := "", 0.0
	for _, c := range candidates {
		score := matchr.JaroWinkler(strings.ToLower(value), strings.ToLower(c), false)
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	if bestScore >= fuzzyThreshold {
		return best, true
	}
	return "", false
}
