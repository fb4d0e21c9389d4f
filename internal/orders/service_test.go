package orders

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
	"github.com/delicrem-erp/delicrem-erp/internal/shared"
)

// mockStore backs the repository, the catalog and the capacity reads for
// service tests.
type mockStore struct {
	mu         sync.Mutex
	orders     map[int64]*Order
	nextID     int64
	nextLineID int64

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
		orders:        make(map[int64]*Order),
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

func (m *mockStore) GetByID(_ context.Context, id int64) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *o
	cp.Lines = append([]Line(nil), o.Lines...)
	return &cp, nil
}

func (m *mockStore) GetByNumber(ctx context.Context, number string) (*Order, error) {
	m.mu.Lock()
	var id int64 = -1
	for _, o := range m.orders {
		if o.Number == number {
			id = o.ID
		}
	}
	m.mu.Unlock()
	if id < 0 {
		return nil, shared.ErrNotFound
	}
	return m.GetByID(ctx, id)
}

func (m *mockStore) List(_ context.Context, _ ListRequest) ([]WithCustomer, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WithCustomer, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, WithCustomer{Order: *o})
	}
	return out, len(out), nil
}

func (m *mockStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &mockTx{store: m})
}

type mockTx struct {
	store *mockStore
}

func (t *mockTx) Insert(_ context.Context, o Order) (int64, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.nextID++
	o.ID = t.store.nextID
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	t.store.orders[o.ID] = &o
	return o.ID, nil
}

func (t *mockTx) InsertLine(_ context.Context, l Line) (int64, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.nextLineID++
	l.ID = t.store.nextLineID
	o := t.store.orders[l.OrderID]
	o.Lines = append(o.Lines, l)
	return l.ID, nil
}

func (t *mockTx) DeleteLines(_ context.Context, orderID int64) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if o, ok := t.store.orders[orderID]; ok {
		o.Lines = nil
	}
	return nil
}

func (t *mockTx) UpdateHeader(_ context.Context, id int64, deliveryDate time.Time, total float64) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	o, ok := t.store.orders[id]
	if !ok {
		return shared.ErrNotFound
	}
	o.DeliveryDate = deliveryDate
	o.Total = total
	return nil
}

func (t *mockTx) MarkPaid(_ context.Context, id int64, paymentDate time.Time) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	o, ok := t.store.orders[id]
	if !ok {
		return shared.ErrNotFound
	}
	o.Status = StatusPaid
	o.PaymentDate = &paymentDate
	return nil
}

func (t *mockTx) UpdateStatus(_ context.Context, id int64, status Status, reason *string) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	o, ok := t.store.orders[id]
	if !ok {
		return shared.ErrNotFound
	}
	o.Status = status
	o.CancellationReason = reason
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
	for _, o := range m.orders {
		if o.ID == excl.OrderID || o.Status == StatusCancelled {
			continue
		}
		if o.DeliveryDate.Format("2006-01-02") != key {
			continue
		}
		for _, l := range o.Lines {
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
	return NewService(store, store, ledger, capacity.NewGuard(), nil)
}

func futureDate(days int) string {
	return time.Now().AddDate(0, 0, days).Format("2006-01-02")
}

func TestCreateOrder(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)

	order, err := svc.Create(context.Background(), CreateRequest{
		CustomerID:   1,
		DeliveryDate: futureDate(3),
		Lines: []LineReq{
			{ProductID: 10, Quantity: 20, UnitPrice: 25},
			{ProductID: 11, Quantity: 100, UnitPrice: 3.5},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, StatusAwaitingPayment, order.Status)
	assert.True(t, strings.HasPrefix(order.Number, "PED-"), "number %q", order.Number)
	assert.InDelta(t, 20*25+100*3.5, order.Total, 1e-9)
	require.Len(t, order.Lines, 2)
	assert.InDelta(t, 500.0, order.Lines[0].Subtotal, 1e-9)
}

func TestCreateOrderRejectsDuplicateProducts(t *testing.T) {
	svc := newTestService(newMockStore())

	_, err := svc.Create(context.Background(), CreateRequest{
		CustomerID:   1,
		DeliveryDate: futureDate(3),
		Lines: []LineReq{
			{ProductID: 10, Quantity: 5, UnitPrice: 25},
			{ProductID: 10, Quantity: 3, UnitPrice: 25},
		},
	})
	var validationErr *shared.ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestCreateOrderRejectsPastDeliveryDate(t *testing.T) {
	svc := newTestService(newMockStore())

	_, err := svc.Create(context.Background(), CreateRequest{
		CustomerID:   1,
		DeliveryDate: time.Now().AddDate(0, 0, -1).Format("2006-01-02"),
		Lines:        []LineReq{{ProductID: 10, Quantity: 5, UnitPrice: 25}},
	})
	var validationErr *shared.ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestCreateOrderRejectsUnknownProduct(t *testing.T) {
	svc := newTestService(newMockStore())

	_, err := svc.Create(context.Background(), CreateRequest{
		CustomerID:   1,
		DeliveryDate: futureDate(3),
		Lines:        []LineReq{{ProductID: 999, Quantity: 5, UnitPrice: 25}},
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreateOrderCapacityExceeded(t *testing.T) {
	store := newMockStore()
	date := futureDate(3)
	store.seedCommitted[date] = 1900
	svc := newTestService(store)

	_, err := svc.Create(context.Background(), CreateRequest{
		CustomerID:   1,
		DeliveryDate: date,
		Lines:        []LineReq{{ProductID: 10, Quantity: 150, UnitPrice: 25}},
	})

	var capErr *shared.CapacityExceededError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, int64(150), capErr.Requested)
	assert.Equal(t, int64(1900), capErr.Committed)
	assert.Equal(t, int64(100), capErr.Remaining)
	assert.Empty(t, store.orders, "no rows written on rejection")
}

func TestCreateOrderAcceptsTodayDelivery(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)

	order, err := svc.Create(context.Background(), CreateRequest{
		CustomerID:   1,
		DeliveryDate: time.Now().Format("2006-01-02"),
		Lines:        []LineReq{{ProductID: 10, Quantity: 5, UnitPrice: 25}},
	})
	require.NoError(t, err)
	assert.Equal(t, time.Now().Format("2006-01-02"), order.DeliveryDate.Format("2006-01-02"))
}

func TestCreateOrderDetectsConcurrentCommit(t *testing.T) {
	store := newMockStore()
	date := futureDate(3)
	// The date looks open before the lock is taken; by the time the
	// transaction re-derives the sum another writer has filled it.
	store.raceCommitted = 1900
	svc := newTestService(store)

	_, err := svc.Create(context.Background(), CreateRequest{
		CustomerID:   1,
		DeliveryDate: date,
		Lines:        []LineReq{{ProductID: 10, Quantity: 150, UnitPrice: 25}},
	})

	var conflictErr *shared.ConcurrencyConflictError
	require.ErrorAs(t, err, &conflictErr)
	require.NotNil(t, conflictErr.Cause)
	assert.Equal(t, int64(150), conflictErr.Cause.Requested)
	assert.Equal(t, int64(1900), conflictErr.Cause.Committed)
	assert.Equal(t, int64(100), conflictErr.Cause.Remaining)
	assert.Empty(t, store.orders, "no rows written when the re-check fails")
}

func TestUpdateOrderExcludesOwnQuantity(t *testing.T) {
	store := newMockStore()
	date := futureDate(3)
	store.seedCommitted[date] = 1700
	svc := newTestService(store)

	order, err := svc.Create(context.Background(), CreateRequest{
		CustomerID:   1,
		DeliveryDate: date,
		Lines:        []LineReq{{ProductID: 10, Quantity: 300, UnitPrice: 25}},
	})
	require.NoError(t, err)

	// Growing the same order to 300 again is fine: its own 300 does not
	// count against itself.
	lines := []LineReq{{ProductID: 10, Quantity: 300, UnitPrice: 25}}
	_, err = svc.Update(context.Background(), order.ID, UpdateRequest{Lines: &lines})
	require.NoError(t, err)

	// Growing it past the exclusive allowance (2000-1700=300) is rejected.
	lines = []LineReq{{ProductID: 10, Quantity: 301, UnitPrice: 25}}
	_, err = svc.Update(context.Background(), order.ID, UpdateRequest{Lines: &lines})
	var capErr *shared.CapacityExceededError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, int64(300), capErr.Remaining)
}

func TestUpdateCancelledOrderRejected(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)

	order, err := svc.Create(context.Background(), CreateRequest{
		CustomerID:   1,
		DeliveryDate: futureDate(3),
		Lines:        []LineReq{{ProductID: 10, Quantity: 5, UnitPrice: 25}},
	})
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), order.ID, "cliente desistio")
	require.NoError(t, err)

	lines := []LineReq{{ProductID: 11, Quantity: 2, UnitPrice: 3.5}}
	_, err = svc.Update(context.Background(), order.ID, UpdateRequest{Lines: &lines})
	var transitionErr *shared.InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
}

func TestPayOrder(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)

	order, err := svc.Create(context.Background(), CreateRequest{
		CustomerID:   1,
		DeliveryDate: futureDate(3),
		Lines:        []LineReq{{ProductID: 10, Quantity: 5, UnitPrice: 25}},
	})
	require.NoError(t, err)

	paid, err := svc.Pay(context.Background(), order.ID, PayRequest{})
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, paid.Status)
	require.NotNil(t, paid.PaymentDate)

	// Paying twice is an invalid transition.
	_, err = svc.Pay(context.Background(), order.ID, PayRequest{})
	var transitionErr *shared.InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
}

func TestCancelOrderReasonBoundaries(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)

	order, err := svc.Create(context.Background(), CreateRequest{
		CustomerID:   1,
		DeliveryDate: futureDate(3),
		Lines:        []LineReq{{ProductID: 10, Quantity: 5, UnitPrice: 25}},
	})
	require.NoError(t, err)

	var validationErr *shared.ValidationError
	_, err = svc.Cancel(context.Background(), order.ID, strings.Repeat("a", 4))
	require.ErrorAs(t, err, &validationErr)
	_, err = svc.Cancel(context.Background(), order.ID, strings.Repeat("a", 31))
	require.ErrorAs(t, err, &validationErr)

	cancelled, err := svc.Cancel(context.Background(), order.ID, strings.Repeat("a", 30))
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancellationReason)

	// Cancelling an already-cancelled order fails, state unchanged.
	_, err = svc.Cancel(context.Background(), order.ID, strings.Repeat("b", 10))
	var transitionErr *shared.InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
	after, err := svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("a", 30), *after.CancellationReason)
}

func TestCancelledOrderFreesCapacity(t *testing.T) {
	store := newMockStore()
	date := futureDate(3)
	svc := newTestService(store)

	order, err := svc.Create(context.Background(), CreateRequest{
		CustomerID:   1,
		DeliveryDate: date,
		Lines:        []LineReq{{ProductID: 10, Quantity: 2000, UnitPrice: 25}},
	})
	require.NoError(t, err)

	// Date is full.
	_, err = svc.Create(context.Background(), CreateRequest{
		CustomerID:   1,
		DeliveryDate: date,
		Lines:        []LineReq{{ProductID: 11, Quantity: 1, UnitPrice: 3.5}},
	})
	var capErr *shared.CapacityExceededError
	require.ErrorAs(t, err, &capErr)

	// Cancelling releases the committed quantity; the ledger is derived, so
	// no counter needs resetting.
	_, err = svc.Cancel(context.Background(), order.ID, "pedido duplicado")
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), CreateRequest{
		CustomerID:   1,
		DeliveryDate: date,
		Lines:        []LineReq{{ProductID: 11, Quantity: 2000, UnitPrice: 3.5}},
	})
	require.NoError(t, err)
}
