// Package shop owns the shopper's per-session application state and the tool
// handlers that mutate it.
//
// State (cart, favorites, focused product, style preferences, current page)
// is mutated only through registered tool handlers; the relay core never
// reads or writes it directly. Handlers run concurrently when the model
// issues parallel tool calls, so State guards itself.
package shop

import (
	"slices"
	"strings"
	"sync"
)

// CartItem is one cart line: a product in a chosen size and colour. The same
// product in a different size or colour is a separate line.
type CartItem struct {
	ID       string `json:"id"`
	Size     string `json:"size"`
	Color    string `json:"color"`
	Quantity int    `json:"quantity"`
}

// Snapshot is a point-in-time copy of the shopper state, shaped for
// re-injection into the model context.
type Snapshot struct {
	Cart           []CartItem `json:"cart"`
	Favorites      []string   `json:"favorites"`
	FocusedProduct string     `json:"focused_product,omitempty"`
	Preferences    []string   `json:"style_preferences,omitempty"`
	CurrentPage    string     `json:"current_page"`
}

// State is the shopper's session-scoped application state. Safe for
// concurrent use.
type State struct {
	mu             sync.Mutex
	cart           []CartItem
	favorites      []string
	focusedProduct string
	preferences    []string
	currentPage    string
}

// NewState creates an empty State positioned on the main page.
func NewState() *State {
	return &State{currentPage: "main"}
}

// AddToCart adds a cart line and returns the updated cart. An existing line
// with the same id, size and colour has its quantity increased instead of a
// second line appearing. A non-positive quantity counts as one.
func (s *State) AddToCart(item CartItem) []CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.Quantity <= 0 {
		item.Quantity = 1
	}
	for i, line := range s.cart {
		if line.ID == item.ID && line.Size == item.Size && line.Color == item.Color {
			s.cart[i].Quantity += item.Quantity
			return slices.Clone(s.cart)
		}
	}
	s.cart = append(s.cart, item)
	return slices.Clone(s.cart)
}

// Cart returns a copy of the cart contents.
func (s *State) Cart() []CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.cart)
}

// AddFavorite adds a product id to the favorites, ignoring duplicates, and
// returns the updated set.
func (s *State) AddFavorite(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.favorites, id) {
		s.favorites = append(s.favorites, id)
	}
	return slices.Clone(s.favorites)
}

// RemoveFavorite removes a product id from the favorites and returns the
// updated set. Removing an absent id is a no-op.
func (s *State) RemoveFavorite(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.favorites = slices.DeleteFunc(s.favorites, func(v string) bool { return v == id })
	return slices.Clone(s.favorites)
}

// Favorites returns a copy of the favorites.
func (s *State) Favorites() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.favorites)
}

// SetFocused records the product the conversation is currently about.
func (s *State) SetFocused(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focusedProduct = id
}

// Focused returns the currently focused product id, if any.
func (s *State) Focused() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focusedProduct
}

// MergePreferences folds new style preference terms into the stored set,
// case-insensitively deduplicated, and returns the merged list.
func (s *State) MergePreferences(prefs []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range prefs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		exists := slices.ContainsFunc(s.preferences, func(v string) bool {
			return strings.EqualFold(v, p)
		})
		if !exists {
			s.preferences = append(s.preferences, p)
		}
	}
	return slices.Clone(s.preferences)
}

// Preferences returns a copy of the stored style preferences.
func (s *State) Preferences() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.preferences)
}

// SetPage records the page the client UI is showing.
func (s *State) SetPage(page string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentPage = page
}

// Page returns the current page.
func (s *State) Page() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentPage
}

// Snapshot returns a copy of the full state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Cart:           slices.Clone(s.cart),
		Favorites:      slices.Clone(s.favorites),
		FocusedProduct: s.focusedProduct,
		Preferences:    slices.Clone(s.preferences),
		CurrentPage:    s.currentPage,
	}
	if snap.Cart == nil {
		snap.Cart = []CartItem{}
	}
	if snap.Favorites == nil {
		snap.Favorites = []string{}
	}
	return snap
}
