package models

import "fmt"

// Product identifies one market series (nodal price, regulation-up capacity, ...).
type Product string

// DefaultProducts is the product universe of the ERCOT pipeline the engine was built for.
var DefaultProducts = []Product{
	"nodalPrices",
	"hubPrices",
	"nodalGeneration",
	"regup",
	"regdown",
	"nonspin",
	"hourlyHubForecasts",
	"hourlyNodalForecasts",
}

// Universe is the fixed, ordered set of products every panel covers.
type Universe struct {
	products []Product
	index    map[Product]int
}

// NewUniverse builds a universe, rejecting empty or duplicated product names.
func NewUniverse(products ...Product) (Universe, error) {
	if len(products) == 0 {
		return Universe{}, NewPreconditionError("universe", "at least one product is required")
	}
	u := Universe{
		products: make([]Product, 0, len(products)),
		index:    make(map[Product]int, len(products)),
	}
	for _, p := range products {
		if p == "" {
			return Universe{}, NewPreconditionError("universe", "product name is empty")
		}
		if _, dup := u.index[p]; dup {
			return Universe{}, NewPreconditionError("universe", fmt.Sprintf("duplicate product %q", p))
		}
		u.index[p] = len(u.products)
		u.products = append(u.products, p)
	}
	return u, nil
}

// MustUniverse is NewUniverse for static product lists.
func MustUniverse(products ...Product) Universe {
	u, err := NewUniverse(products...)
	if err != nil {
		panic(err)
	}
	return u
}

// Products returns the products in universe order.
func (u Universe) Products() []Product {
	out := make([]Product, len(u.products))
	copy(out, u.products)
	return out
}

// Len returns the number of products.
func (u Universe) Len() int { return len(u.products) }

// Contains reports whether p belongs to the universe.
func (u Universe) Contains(p Product) bool {
	_, ok := u.index[p]
	return ok
}

// Index returns the position of p, or -1.
func (u Universe) Index(p Product) int {
	if i, ok := u.index[p]; ok {
		return i
	}
	return -1
}

// ProductsFromStrings converts config values to products.
func ProductsFromStrings(names []string) []Product {
	out := make([]Product, len(names))
	for i, n := range names {
		out[i] = Product(n)
	}
	return out
}
