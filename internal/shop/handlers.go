package shop

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/moalsayed95/zalanko/internal/shop/catalog"
	"github.com/moalsayed95/zalanko/internal/shop/tryon"
	"github.com/moalsayed95/zalanko/internal/tool"
)

// pageAliases maps spoken page names to canonical page tokens.
var pageAliases = map[string]string{
	"home":     "main",
	"wishlist": "favorites",
	"product":  "details",
}

// validPages are the canonical navigation targets the client UI knows.
var validPages = map[string]bool{
	"main":      true,
	"favorites": true,
	"cart":      true,
	"details":   true,
	"tryon":     true,
}

// handlers bundles the dependencies shared by all tool handlers.
type handlers struct {
	state *State
	store catalog.Store
	tryon tryon.Generator
}

// RegisterTools registers the full shopping tool catalog on reg. Result
// visibility mirrors how the client consumes each tool: UI-facing tools are
// to-client (the model still gets a completion marker from the relay), while
// get_application_state exists purely to refresh the model's context and is
// to-model.
func RegisterTools(reg *tool.Registry, state *State, store catalog.Store, gen tryon.Generator) error {
	h := &handlers{state: state, store: store, tryon: gen}

	entries := []struct {
		name        string
		description string
		schema      *jsonschema.Schema
		handler     tool.Handler
		visibility  tool.Visibility
	}{
		{
			name:        "search",
			description: "Search the product catalog by natural-language query with optional structured filters.",
			schema:      searchSchema,
			handler:     h.search,
			visibility:  tool.ToClient,
		},
		{
			name:        "get_product_details",
			description: "Show the detail view for one product by id.",
			schema:      productIDSchema("id", "Product id to show."),
			handler:     h.getProductDetails,
			visibility:  tool.ToClient,
		},
		{
			name:        "add_to_cart",
			description: "Add a product to the shopping cart in a chosen size and color.",
			schema:      addToCartSchema,
			handler:     h.addToCart,
			visibility:  tool.ToClient,
		},
		{
			name:        "manage_wishlist",
			description: "Add a product to or remove it from the favorites list.",
			schema:      wishlistSchema,
			handler:     h.manageWishlist,
			visibility:  tool.ToClient,
		},
		{
			name:        "navigate_page",
			description: "Navigate the client UI to a page: main, favorites, cart, details or tryon.",
			schema:      navigateSchema,
			handler:     h.navigatePage,
			visibility:  tool.ToClient,
		},
		{
			name:        "get_recommendations",
			description: "Recommend products matching the shopper's stored style preferences.",
			schema:      recommendationsSchema,
			handler:     h.getRecommendations,
			visibility:  tool.ToClient,
		},
		{
			name:        "update_style_preferences",
			description: "Remember style preferences the shopper expressed, e.g. favourite colours or fits.",
			schema:      preferencesSchema,
			handler:     h.updateStylePreferences,
			visibility:  tool.ToClient,
		},
		{
			name:        "virtual_try_on",
			description: "Generate a virtual try-on image of a product on the shopper's photo.",
			schema:      tryOnSchema,
			handler:     h.virtualTryOn,
			visibility:  tool.ToClient,
		},
		{
			name:        "get_application_state",
			description: "Return the current cart, favorites, focused product, preferences and page.",
			schema:      &jsonschema.Schema{Type: "object"},
			handler:     h.getApplicationState,
			visibility:  tool.ToModel,
		},
	}

	for _, e := range entries {
		if err := reg.Register(e.name, e.description, e.schema, e.handler, e.visibility); err != nil {
			return fmt.Errorf("shop: register %s: %w", e.name, err)
		}
	}
	return nil
}

// ── Handlers ──

func (h *handlers) search(ctx context.Context, args map[string]any) (any, error) {
	q := catalog.Query{
		Text:  stringArg(args, "query"),
		Limit: intArg(args, "limit"),
		Filters: catalog.Filters{
			Brand:    stringArg(args, "brand"),
			Category: stringArg(args, "category"),
			Gender:   stringArg(args, "gender"),
			Color:    stringArg(args, "color"),
			Size:     stringArg(args, "size"),
			Material: stringArg(args, "material"),
			MinPrice: floatArg(args, "min_price"),
			MaxPrice: floatArg(args, "max_price"),
		},
	}
	if v, ok := args["on_sale"].(bool); ok {
		q.Filters.OnSale = &v
	}

	products, err := h.store.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	return map[string]any{"products": products}, nil
}

func (h *handlers) getProductDetails(ctx context.Context, args map[string]any) (any, error) {
	id := stringArg(args, "id")
	p, err := h.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	h.state.SetFocused(id)
	return map[string]any{"id": id, "product": p}, nil
}

func (h *handlers) addToCart(ctx context.Context, args map[string]any) (any, error) {
	item := CartItem{
		ID:       stringArg(args, "id"),
		Size:     stringArg(args, "size"),
		Color:    stringArg(args, "color"),
		Quantity: intArg(args, "quantity"),
	}
	if item.Size == "" || item.Color == "" {
		return nil, fmt.Errorf("size and color are required")
	}
	// A misheard id must not land in the cart.
	if _, err := h.store.Get(ctx, item.ID); err != nil {
		return nil, err
	}
	cart := h.state.AddToCart(item)
	return map[string]any{
		"id":    item.ID,
		"size":  item.Size,
		"color": item.Color,
		"cart":  cart,
	}, nil
}

func (h *handlers) manageWishlist(ctx context.Context, args map[string]any) (any, error) {
	id := stringArg(args, "favorite_id")
	action := stringArg(args, "action")

	var favorites []string
	switch action {
	case "add":
		if _, err := h.store.Get(ctx, id); err != nil {
			return nil, err
		}
		favorites = h.state.AddFavorite(id)
	case "remove":
		favorites = h.state.RemoveFavorite(id)
	default:
		return nil, fmt.Errorf("unsupported action %q", action)
	}
	return map[string]any{"favorite_id": id, "action": action, "favorites": favorites}, nil
}

func (h *handlers) navigatePage(_ context.Context, args map[string]any) (any, error) {
	target := strings.ToLower(strings.TrimSpace(stringArg(args, "navigate_to")))
	if alias, ok := pageAliases[target]; ok {
		target = alias
	}
	if !validPages[target] {
		return nil, fmt.Errorf("unknown page %q", target)
	}
	h.state.SetPage(target)
	return map[string]any{"navigate_to": target}, nil
}

func (h *handlers) getRecommendations(ctx context.Context, args map[string]any) (any, error) {
	terms := h.state.Preferences()
	if len(terms) == 0 {
		// Nothing known about the shopper yet; fall back to broad appeal.
		terms = []string{"popular versatile wardrobe staples"}
	}
	products, err := h.store.Recommend(ctx, terms, intArg(args, "limit"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"products": products}, nil
}

func (h *handlers) updateStylePreferences(_ context.Context, args map[string]any) (any, error) {
	raw, _ := args["preferences"].([]any)
	prefs := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			prefs = append(prefs, s)
		}
	}
	merged := h.state.MergePreferences(prefs)
	return map[string]any{"preferences": merged, "status": "updated"}, nil
}

func (h *handlers) virtualTryOn(ctx context.Context, args map[string]any) (any, error) {
	id := stringArg(args, "id")
	p, err := h.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	userImage := stringArg(args, "user_image_url")
	if userImage == "" {
		// No photo on file: the UI opens its capture modal and the tool is
		// retried with the uploaded image.
		return map[string]any{"action": "open_modal", "id": id}, nil
	}

	res, err := h.tryon.Generate(ctx, tryon.Request{
		ProductID:       id,
		ProductImageURL: p.ImageURL,
		UserImageURL:    userImage,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": id, "image_url": res.ImageURL}, nil
}

func (h *handlers) getApplicationState(_ context.Context, _ map[string]any) (any, error) {
	return h.state.Snapshot(), nil
}

// ── Argument helpers ──

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func floatArg(args map[string]any, key string) float64 {
	f, _ := args[key].(float64)
	return f
}

func intArg(args map[string]any, key string) int {
	return int(floatArg(args, key))
}

// ── Schemas ──

var searchSchema = &jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"query":     {Type: "string", Description: "Natural-language description of what to find."},
		"brand":     {Type: "string"},
		"category":  {Type: "string"},
		"gender":    {Type: "string"},
		"color":     {Type: "string"},
		"size":      {Type: "string"},
		"material":  {Type: "string"},
		"min_price": {Type: "number"},
		"max_price": {Type: "number"},
		"on_sale":   {Type: "boolean"},
		"limit":     {Type: "integer"},
	},
	Required: []string{"query"},
}

var addToCartSchema = &jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"id":       {Type: "string", Description: "Product id to add."},
		"size":     {Type: "string", Description: "Selected size for the item."},
		"color":    {Type: "string", Description: "Selected color for the item."},
		"quantity": {Type: "integer", Description: "Quantity to add. Defaults to 1."},
	},
	Required: []string{"id", "size", "color"},
}

var wishlistSchema = &jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"favorite_id": {Type: "string", Description: "Product id to add or remove."},
		"action":      {Type: "string", Enum: []any{"add", "remove"}},
	},
	Required: []string{"favorite_id", "action"},
}

var navigateSchema = &jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"navigate_to": {Type: "string", Description: "Target page name."},
	},
	Required: []string{"navigate_to"},
}

var recommendationsSchema = &jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"limit": {Type: "integer"},
	},
}

var preferencesSchema = &jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"preferences": {
			Type:        "array",
			Items:       &jsonschema.Schema{Type: "string"},
			Description: "Style preference terms to remember.",
		},
	},
	Required: []string{"preferences"},
}

var tryOnSchema = &jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"id":             {Type: "string", Description: "Product id to try on."},
		"user_image_url": {Type: "string", Description: "URL of the shopper's photo, if already captured."},
	},
	Required: []string{"id"},
}

// productIDSchema builds the shared one-required-string-field schema.
func productIDSchema(field, description string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			field: {Type: "string", Description: description},
		},
		Required: []string{field},
	}
}
