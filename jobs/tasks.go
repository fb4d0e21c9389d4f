package jobs

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/delicrem-erp/delicrem-erp/internal/stock"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStockAdjust applies a produced order's output to finished-goods
	// stock.
	TaskStockAdjust = "stock:adjust"
)

// StockAdjustPayload carries one produced order's aggregated output.
type StockAdjustPayload struct {
	ProductionOrderID int64              `json:"production_order_id"`
	Number            string             `json:"number"`
	Adjustments       []stock.Adjustment `json:"adjustments"`
}

// NewStockAdjustTask constructs an Asynq task.
func NewStockAdjustTask(payload StockAdjustPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockAdjust, data, asynq.Queue(QueueDefault)), nil
}

// NewStockAdjustHandler builds the handler processing TaskStockAdjust tasks
// against the stock service.
func NewStockAdjustHandler(svc *stock.Service) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload StockAdjustPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		return svc.Apply(ctx, payload.Number, payload.Adjustments)
	}
}
