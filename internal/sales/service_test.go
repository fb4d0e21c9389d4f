package sales

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delicrem-erp/delicrem-erp/internal/capacity"
	"github.com/delicrem-erp/delicrem-erp/internal/catalog"
	"github.com/delicrem-erp/delicrem-erp/internal/orders"
	"github.com/delicrem-erp/delicrem-erp/internal/shared"
)

// mockStore backs the repository, the order source, the catalog and the
// capacity reads for service tests.
type mockStore struct {
	mu         sync.Mutex
	sales      map[int64]*Sale
	nextID     int64
	nextLineID int64

	// sourceOrders is the order book for FromOrderNumber lookups.
	sourceOrders map[string]*orders.Order

	// seedCommitted simulates demand already committed by other records on a
	// given date (keyed YYYY-MM-DD).
	seedCommitted map[string]int64

	// raceCommitted simulates demand a concurrent writer committed between
	// the pre-lock check and the transaction: it is visible only through the
	// transactional capacity view.
	raceCommitted int64

	customers map[int64]catalog.Customer
	products  map[int64]catalog.Product
}

func newMockStore() *mockStore {
	return &mockStore{
		sales:         make(map[int64]*Sale),
		sourceOrders:  make(map[string]*orders.Order),
		seedCommitted: make(map[string]int64),
		customers: map[int64]catalog.Customer{
			1: {ID: 1, Name: "Reposteria Andina", DocumentNumber: "900123456"},
		},
		products: map[int64]catalog.Product{
			10: {ID: 10, Name: "Torta de vainilla", UnitPrice: 25},
			11: {ID: 11, Name: "Cupcake de fresa", UnitPrice: 3.5},
		},
	}
}

// Repository.

func (m *mockStore) GetByID(_ context.Context, id int64) (*Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sales[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *s
	cp.Lines = append([]Line(nil), s.Lines...)
	return &cp, nil
}

func (m *mockStore) List(_ context.Context, _ ListRequest) ([]WithCustomer, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WithCustomer, 0, len(m.sales))
	for _, s := range m.sales {
		out = append(out, WithCustomer{Sale: *s})
	}
	return out, len(out), nil
}

func (m *mockStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &mockTx{store: m})
}

// OrderSource.

func (m *mockStore) GetByNumber(_ context.Context, number string) (*orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.sourceOrders[number]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *o
	cp.Lines = append([]orders.Line(nil), o.Lines...)
	return &cp, nil
}

type mockTx struct {
	store *mockStore
}

func (t *mockTx) Insert(_ context.Context, s Sale) (int64, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	// Mirrors the sales.number unique constraint and its repository mapping.
	for _, existing := range t.store.sales {
		if existing.Number == s.Number {
			return 0, shared.NewValidationError("sale number %s already exists", s.Number)
		}
	}
	t.store.nextID++
	s.ID = t.store.nextID
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	t.store.sales[s.ID] = &s
	return s.ID, nil
}

func (t *mockTx) InsertLine(_ context.Context, l Line) (int64, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.nextLineID++
	l.ID = t.store.nextLineID
	s := t.store.sales[l.SaleID]
	s.Lines = append(s.Lines, l)
	return l.ID, nil
}

func (t *mockTx) DeleteLines(_ context.Context, saleID int64) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if s, ok := t.store.sales[saleID]; ok {
		s.Lines = nil
	}
	return nil
}

func (t *mockTx) UpdateHeader(_ context.Context, id int64, deliveryDate time.Time, total float64) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	s, ok := t.store.sales[id]
	if !ok {
		return shared.ErrNotFound
	}
	s.DeliveryDate = deliveryDate
	s.Total = total
	return nil
}

func (t *mockTx) UpdateStatus(_ context.Context, id int64, status Status, reason *string) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	s, ok := t.store.sales[id]
	if !ok {
		return shared.ErrNotFound
	}
	s.Status = status
	s.CancellationReason = reason
	return nil
}

func (t *mockTx) Capacity() capacity.Repository { return &txCapacity{store: t.store} }

// txCapacity is the in-transaction view: the live sums plus raceCommitted.
type txCapacity struct {
	store *mockStore
}

func (c *txCapacity) CommittedForDate(ctx context.Context, date time.Time, excl capacity.Exclude) (int64, error) {
	committed, err := c.store.CommittedForDate(ctx, date, excl)
	return committed + c.store.raceCommitted, err
}

func (c *txCapacity) CommittedForProduction(ctx context.Context, excl capacity.Exclude) (int64, error) {
	return c.store.CommittedForProduction(ctx, excl)
}

// capacity.Repository: derived from the live store plus the seed.

func (m *mockStore) CommittedForDate(_ context.Context, date time.Time, excl capacity.Exclude) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := date.Format("2006-01-02")
	committed := m.seedCommitted[key]
	for _, s := range m.sales {
		if s.ID == excl.SaleID || s.Status == StatusCancelled {
			continue
		}
		if s.DeliveryDate.Format("2006-01-02") != key {
			continue
		}
		for _, l := range s.Lines {
			committed += l.Quantity
		}
	}
	return committed, nil
}

func (m *mockStore) CommittedForProduction(_ context.Context, _ capacity.Exclude) (int64, error) {
	return 0, nil
}

// catalog.Repository.

func (m *mockStore) GetCustomer(_ context.Context, id int64) (*catalog.Customer, error) {
	c, ok := m.customers[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &c, nil
}

func (m *mockStore) GetProduct(_ context.Context, id int64) (*catalog.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &p, nil
}

func (m *mockStore) GetProducts(_ context.Context, ids []int64) (map[int64]catalog.Product, error) {
	out := make(map[int64]catalog.Product)
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func newTestService(store *mockStore) *Service {
	ledger := capacity.NewLedger(store, 2000)
	return NewService(store, store, store, ledger, capacity.NewGuard(), nil)
}

func futureDate(days int) string {
	return time.Now().AddDate(0, 0, days).Format("2006-01-02")
}

func TestCreateSale(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)

	date := futureDate(2)
	sale, err := svc.Create(context.Background(), CreateRequest{
		CustomerID:   1,
		DeliveryDate: &date,
		Lines: []LineReq{
			{ProductID: 10, Quantity: 12, UnitPrice: 25},
			{ProductID: 11, Quantity: 40, UnitPrice: 3.5},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, StatusInPreparation, sale.Status)
	assert.True(t, strings.HasPrefix(sale.Number, "VTA-"), "number %q", sale.Number)
	assert.Nil(t, sale.OrderID)
	assert.InDelta(t, 12*25+40*3.5, sale.Total, 1e-9)
	require.Len(t, sale.Lines, 2)
}

func TestCreateSaleFromOrder(t *testing.T) {
	store := newMockStore()
	delivery, _ := time.Parse("2006-01-02", futureDate(4))
	store.sourceOrders["PED-20260815-AB12CD34"] = &orders.Order{
		ID:           7,
		Number:       "PED-20260815-AB12CD34",
		CustomerID:   1,
		DeliveryDate: delivery,
		Status:       orders.StatusPaid,
		Lines: []orders.Line{
			{OrderID: 7, ProductID: 10, Quantity: 30, UnitPrice: 25, Subtotal: 750},
		},
	}
	svc := newTestService(store)

	number := "PED-20260815-AB12CD34"
	sale, err := svc.Create(context.Background(), CreateRequest{FromOrderNumber: &number})
	require.NoError(t, err)

	assert.Equal(t, "VTA-20260815-AB12CD34", sale.Number)
	require.NotNil(t, sale.OrderID)
	assert.Equal(t, int64(7), *sale.OrderID)
	assert.Equal(t, int64(1), sale.CustomerID)
	assert.Equal(t, delivery.Format("2006-01-02"), sale.DeliveryDate.Format("2006-01-02"))
	require.Len(t, sale.Lines, 1)
	assert.Equal(t, int64(30), sale.Lines[0].Quantity)
}

func TestCreateSaleFromOrderTwiceRejected(t *testing.T) {
	store := newMockStore()
	delivery, _ := time.Parse("2006-01-02", futureDate(4))
	store.sourceOrders["PED-20260815-AB12CD34"] = &orders.Order{
		ID:           7,
		Number:       "PED-20260815-AB12CD34",
		CustomerID:   1,
		DeliveryDate: delivery,
		Status:       orders.StatusPaid,
		Lines: []orders.Line{
			{OrderID: 7, ProductID: 10, Quantity: 30, UnitPrice: 25, Subtotal: 750},
		},
	}
	svc := newTestService(store)

	number := "PED-20260815-AB12CD34"
	_, err := svc.Create(context.Background(), CreateRequest{FromOrderNumber: &number})
	require.NoError(t, err)

	// The derived number is deterministic, so the second attempt collides
	// with the first sale and is reported as input, not as a server fault.
	_, err = svc.Create(context.Background(), CreateRequest{FromOrderNumber: &number})
	var validationErr *shared.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Len(t, store.sales, 1)
}

func TestCreateSaleDetectsConcurrentCommit(t *testing.T) {
	store := newMockStore()
	date := futureDate(3)
	store.raceCommitted = 1900
	svc := newTestService(store)

	_, err := svc.Create(context.Background(), CreateRequest{
		CustomerID:   1,
		DeliveryDate: &date,
		Lines:        []LineReq{{ProductID: 10, Quantity: 150, UnitPrice: 25}},
	})

	var conflictErr *shared.ConcurrencyConflictError
	require.ErrorAs(t, err, &conflictErr)
	require.NotNil(t, conflictErr.Cause)
	assert.Equal(t, int64(150), conflictErr.Cause.Requested)
	assert.Equal(t, int64(1900), conflictErr.Cause.Committed)
	assert.Equal(t, int64(100), conflictErr.Cause.Remaining)
	assert.Empty(t, store.sales, "no rows written when the re-check fails")
}

func TestCreateSaleFromCancelledOrderRejected(t *testing.T) {
	store := newMockStore()
	store.sourceOrders["PED-X"] = &orders.Order{
		ID: 8, Number: "PED-X", CustomerID: 1, Status: orders.StatusCancelled,
	}
	svc := newTestService(store)

	number := "PED-X"
	_, err := svc.Create(context.Background(), CreateRequest{FromOrderNumber: &number})
	var validationErr *shared.ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestCreateSaleRejectsNonFutureDeliveryDate(t *testing.T) {
	svc := newTestService(newMockStore())

	// Today is not strictly future.
	today := time.Now().Format("2006-01-02")
	_, err := svc.Create(context.Background(), CreateRequest{
		CustomerID:   1,
		DeliveryDate: &today,
		Lines:        []LineReq{{ProductID: 10, Quantity: 5, UnitPrice: 25}},
	})
	var validationErr *shared.ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestCreateSaleCapacityExceeded(t *testing.T) {
	store := newMockStore()
	date := futureDate(3)
	store.seedCommitted[date] = 1900
	svc := newTestService(store)

	_, err := svc.Create(context.Background(), CreateRequest{
		CustomerID:   1,
		DeliveryDate: &date,
		Lines:        []LineReq{{ProductID: 10, Quantity: 150, UnitPrice: 25}},
	})

	var capErr *shared.CapacityExceededError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, int64(150), capErr.Requested)
	assert.Equal(t, int64(1900), capErr.Committed)
	assert.Equal(t, int64(100), capErr.Remaining)
	assert.Empty(t, store.sales, "no rows written on rejection")
}

func TestUpdateSaleExcludesOwnQuantity(t *testing.T) {
	store := newMockStore()
	date := futureDate(3)
	store.seedCommitted[date] = 1700
	svc := newTestService(store)

	sale, err := svc.Create(context.Background(), CreateRequest{
		CustomerID:   1,
		DeliveryDate: &date,
		Lines:        []LineReq{{ProductID: 10, Quantity: 300, UnitPrice: 25}},
	})
	require.NoError(t, err)

	lines := []LineReq{{ProductID: 10, Quantity: 300, UnitPrice: 25}}
	_, err = svc.Update(context.Background(), sale.ID, UpdateRequest{Lines: &lines})
	require.NoError(t, err)

	lines = []LineReq{{ProductID: 10, Quantity: 301, UnitPrice: 25}}
	_, err = svc.Update(context.Background(), sale.ID, UpdateRequest{Lines: &lines})
	var capErr *shared.CapacityExceededError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, int64(300), capErr.Remaining)
}

func TestUpdateSaleOnlyWhileInPreparation(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)

	date := futureDate(3)
	sale, err := svc.Create(context.Background(), CreateRequest{
		CustomerID:   1,
		DeliveryDate: &date,
		Lines:        []LineReq{{ProductID: 10, Quantity: 5, UnitPrice: 25}},
	})
	require.NoError(t, err)

	_, err = svc.MarkReady(context.Background(), sale.ID)
	require.NoError(t, err)

	lines := []LineReq{{ProductID: 11, Quantity: 2, UnitPrice: 3.5}}
	_, err = svc.Update(context.Background(), sale.ID, UpdateRequest{Lines: &lines})
	var transitionErr *shared.InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
}

func TestSaleLifecycle(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)

	date := futureDate(3)
	sale, err := svc.Create(context.Background(), CreateRequest{
		CustomerID:   1,
		DeliveryDate: &date,
		Lines:        []LineReq{{ProductID: 10, Quantity: 5, UnitPrice: 25}},
	})
	require.NoError(t, err)

	// Delivering straight from preparation skips a state.
	_, err = svc.MarkDelivered(context.Background(), sale.ID)
	var transitionErr *shared.InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)

	ready, err := svc.MarkReady(context.Background(), sale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReadyForDelivery, ready.Status)

	delivered, err := svc.MarkDelivered(context.Background(), sale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, delivered.Status)

	// Delivered is terminal: no cancellation.
	_, err = svc.Cancel(context.Background(), sale.ID, "entrega rechazada")
	require.ErrorAs(t, err, &transitionErr)
}

func TestCancelSaleValidatesReason(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)

	date := futureDate(3)
	sale, err := svc.Create(context.Background(), CreateRequest{
		CustomerID:   1,
		DeliveryDate: &date,
		Lines:        []LineReq{{ProductID: 10, Quantity: 5, UnitPrice: 25}},
	})
	require.NoError(t, err)

	var validationErr *shared.ValidationError
	_, err = svc.Cancel(context.Background(), sale.ID, "mal")
	require.ErrorAs(t, err, &validationErr)

	cancelled, err := svc.Cancel(context.Background(), sale.ID, "cliente no recogio")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
}

func TestCancelledSaleFreesCapacity(t *testing.T) {
	store := newMockStore()
	date := futureDate(3)
	svc := newTestService(store)

	sale, err := svc.Create(context.Background(), CreateRequest{
		CustomerID:   1,
		DeliveryDate: &date,
		Lines:        []LineReq{{ProductID: 10, Quantity: 2000, UnitPrice: 25}},
	})
	require.NoError(t, err)

	one := []LineReq{{ProductID: 11, Quantity: 1, UnitPrice: 3.5}}
	_, err = svc.Create(context.Background(), CreateRequest{
		CustomerID: 1, DeliveryDate: &date, Lines: one,
	})
	var capErr *shared.CapacityExceededError
	require.ErrorAs(t, err, &capErr)

	_, err = svc.Cancel(context.Background(), sale.ID, "venta duplicada")
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), CreateRequest{
		CustomerID: 1, DeliveryDate: &date, Lines: one,
	})
	require.NoError(t, err)
}
