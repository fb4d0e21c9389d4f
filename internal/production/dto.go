package production

import (
	"github.com/delicrem-erp/delicrem-erp/internal/shared"
)

// CreateRequest commits a production order over the selected sales.
type CreateRequest struct {
	SaleIDs []int64 `json:"sale_ids" validate:"required,min=1,dive,gt=0"`
}

// UpdateRequest replaces the selection of a pending production order.
type UpdateRequest struct {
	SaleIDs []int64 `json:"sale_ids" validate:"required,min=1,dive,gt=0"`
}

// CancelRequest cancels a production order.
type CancelRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// ListRequest filters production order listings.
type ListRequest struct {
	Status *Status `json:"status,omitempty"`
	Limit  int     `json:"limit" validate:"gte=0,lte=1000"`
	Offset int     `json:"offset" validate:"gte=0"`
}

// ListResponse is the paginated listing body.
type ListResponse struct {
	Orders     []Order           `json:"orders"`
	Total      int               `json:"total"`
	Pagination shared.Pagination `json:"pagination"`
}

// CandidatesResponse lists sales eligible for selection.
type CandidatesResponse struct {
	Sales []CandidateSale `json:"sales"`
}
