package production

import (
	"github.com/delicrem-erp/delicrem-erp/internal/aggregate"
	"github.com/delicrem-erp/delicrem-erp/internal/shared"
)

// Selection is the working set of sales for a production order under
// construction. Each toggle folds the sale's line items into (or out of) the
// running detail map incrementally, so the cost of a toggle does not depend
// on how many sales are already selected.
type Selection struct {
	selected map[int64][]aggregate.LineItem
	running  map[int64]int64
}

// NewSelection returns an empty working set.
func NewSelection() *Selection {
	return &Selection{
		selected: make(map[int64][]aggregate.LineItem),
		running:  make(map[int64]int64),
	}
}

// Select adds a sale's line items to the working set.
func (s *Selection) Select(saleID int64, items []aggregate.LineItem) error {
	if _, ok := s.selected[saleID]; ok {
		return shared.NewValidationError("sale %d already selected", saleID)
	}
	s.selected[saleID] = items
	aggregate.Add(s.running, items)
	return nil
}

// Deselect removes a previously selected sale, reversing its contribution.
func (s *Selection) Deselect(saleID int64) error {
	items, ok := s.selected[saleID]
	if !ok {
		return shared.NewValidationError("sale %d not selected", saleID)
	}
	delete(s.selected, saleID)
	aggregate.Subtract(s.running, items)
	return nil
}

// Empty reports whether no sales are selected.
func (s *Selection) Empty() bool {
	return len(s.selected) == 0
}

// SaleIDs returns the selected sale identifiers in unspecified order.
func (s *Selection) SaleIDs() []int64 {
	out := make([]int64, 0, len(s.selected))
	for id := range s.selected {
		out = append(out, id)
	}
	return out
}

// Total is the summed quantity across the running detail map.
func (s *Selection) Total() int64 {
	return aggregate.Total(s.running)
}

// Details flattens the running map into rows ordered by product id.
func (s *Selection) Details() []aggregate.Detail {
	return aggregate.Details(s.running)
}
