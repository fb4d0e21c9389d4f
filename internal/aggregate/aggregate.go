// Package aggregate provides the single merge/subtract primitive used for
// every per-product quantity map in the system: order and sale totals, and
// the running detail map of a production order. All callers share it so the
// derived figures cannot drift apart.
package aggregate

import "sort"

// LineItem is the minimal shape the aggregator needs from an order, sale or
// production detail line.
type LineItem struct {
	ProductID int64
	Quantity  int64
}

// Detail is one aggregated row of a quantity map.
type Detail struct {
	ProductID int64
	Quantity  int64
}

// New builds a fresh quantity map from the given line items.
func New(items []LineItem) map[int64]int64 {
	m := make(map[int64]int64, len(items))
	Add(m, items)
	return m
}

// Add folds line items into the map, summing quantities per product.
func Add(m map[int64]int64, items []LineItem) {
	for _, it := range items {
		m[it.ProductID] += it.Quantity
	}
}

// Subtract reverses a prior Add. A product whose quantity reaches zero or
// below is removed from the map entirely, never stored as zero.
func Subtract(m map[int64]int64, items []LineItem) {
	for _, it := range items {
		q, ok := m[it.ProductID]
		if !ok {
			continue
		}
		q -= it.Quantity
		if q <= 0 {
			delete(m, it.ProductID)
			continue
		}
		m[it.ProductID] = q
	}
}

// Total returns the summed quantity across all products in the map.
func Total(m map[int64]int64) int64 {
	var total int64
	for _, q := range m {
		total += q
	}
	return total
}

// Details flattens the map into rows ordered by product id.
func Details(m map[int64]int64) []Detail {
	out := make([]Detail, 0, len(m))
	for id, q := range m {
		out = append(out, Detail{ProductID: id, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}
