package catalog

import (
	"fmt"
	"strings"
	"testing"
)

func TestBuildConditions(t *testing.T) {
	t.Parallel()

	onSale := true
	f := Filters{
		Brand:    "Nordwind",
		Category: "jackets",
		Gender:   "women",
		Color:    "black",
		Size:     "M",
		Material: "leather",
		MinPrice: 50,
		MaxPrice: 300,
		OnSale:   &onSale,
	}

	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args)+1) // $1 is reserved for the vector
	}

	conditions := buildConditions(f, next)
	if len(conditions) != 9 {
		t.Fatalf("conditions = %d, want 9: %v", len(conditions), conditions)
	}
	if len(args) != 9 {
		t.Fatalf("args = %d, want 9", len(args))
	}

	joined := strings.Join(conditions, " AND ")
	for _, want := range []string{"brand", "category", "gender", "colors", "sizes", "material", "price >=", "price <=", "on_sale"} {
		if !strings.Contains(joined, want) {
			t.Errorf("conditions missing %q: %s", want, joined)
		}
	}
}

func TestBuildConditions_EmptyFilters(t *testing.T) {
	t.Parallel()

	next := func(v any) string { return "$2" }
	if conditions := buildConditions(Filters{}, next); len(conditions) != 0 {
		t.Errorf("conditions = %v, want none for empty filters", conditions)
	}
}

func TestFiltersEmpty(t *testing.T) {
	t.Parallel()

	if !(Filters{}).Empty() {
		t.Error("zero Filters should be empty")
	}
	if (Filters{Brand: "x"}).Empty() {
		t.Error("Filters with a brand should not be empty")
	}
	onSale := false
	if (Filters{OnSale: &onSale}).Empty() {
		t.Error("Filters with a tri-state OnSale should not be empty")
	}
}

func TestClosestMatch(t *testing.T) {
	t.Parallel()

	known := []string{"Nordwind", "Velora", "StrideLab", "Kaminsky"}

	cases := []struct {
		in    string
		want  string
		found bool
	}{
		{"nordwind", "Nordwind", true},
		{"nordwid", "Nordwind", true},
		{"velora", "Velora", true},
		{"completely different", "", false},
		{"stride lab", "StrideLab", true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, found := closestMatch(tc.in, known)
			if found != tc.found || got != tc.want {
				t.Errorf("closestMatch(%q) = %q, %v; want %q, %v", tc.in, got, found, tc.want, tc.found)
			}
		})
	}
}

func TestClosestMatch_NoCandidates(t *testing.T) {
	t.Parallel()

	if got, found := closestMatch("anything", nil); found {
		t.Errorf("closestMatch with no candidates = %q, want no match", got)
	}
}
