package jobs

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delicrem-erp/delicrem-erp/internal/production"
	"github.com/delicrem-erp/delicrem-erp/internal/stock"
)

func TestClientEnqueuesOverSharedConnection(t *testing.T) {
	srv := miniredis.RunT(t)
	conn := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer conn.Close()

	client := NewClientFromRedis(conn)

	err := client.ProductionProduced(context.Background(), 1, "ORD-20260828-AB12CD34", []production.Detail{
		{ProductID: 10, Quantity: 12},
	})
	require.NoError(t, err)
	require.NotEmpty(t, srv.Keys(), "task written through the shared connection")
}

func TestStockAdjustTaskRoundTrip(t *testing.T) {
	payload := StockAdjustPayload{
		ProductionOrderID: 7,
		Number:            "ORD-20260828-AB12CD34",
		Adjustments:       []stock.Adjustment{{ProductID: 10, Quantity: 12}},
	}

	task, err := NewStockAdjustTask(payload)
	require.NoError(t, err)
	assert.Equal(t, TaskStockAdjust, task.Type())

	var decoded StockAdjustPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	assert.Equal(t, payload, decoded)
}
