package invoice

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chargehub/server/internal/module/order"
	"github.com/chargehub/server/internal/utils/pagination"
)

type memInvoiceRepo struct {
	mu       sync.Mutex
	invoices map[uuid.UUID]*Invoice
}

func newMemInvoiceRepo() *memInvoiceRepo {
	return &memInvoiceRepo{invoices: make(map[uuid.UUID]*Invoice)}
}

func (r *memInvoiceRepo) Create(_ context.Context, inv *Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	cp := *inv
	r.invoices[inv.ID] = &cp
	return nil
}

func (r *memInvoiceRepo) Get(_ context.Context, id, tenantID uuid.UUID) (*Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok || inv.TenantID != tenantID {
		return nil, ErrInvoiceNotFound
	}
	cp := *inv
	return &cp, nil
}

func (r *memInvoiceRepo) GetByOrderID(_ context.Context, orderID, tenantID uuid.UUID) (*Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.invoices {
		if inv.OrderID == orderID && inv.TenantID == tenantID {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, ErrInvoiceNotFound
}

func (r *memInvoiceRepo) List(_ context.Context, tenantID uuid.UUID, _ *pagination.Pagination) ([]Invoice, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Invoice
	for _, inv := range r.invoices {
		if inv.TenantID == tenantID {
			out = append(out, *inv)
		}
	}
	return out, int64(len(out)), nil
}

type memOrderRepo struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*order.Order
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: make(map[uuid.UUID]*order.Order)}
}

func (r *memOrderRepo) Create(_ context.Context, o *order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *o
	r.orders[o.ID] = &cp
	return nil
}

func (r *memOrderRepo) Get(_ context.Context, id, tenantID uuid.UUID) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok || o.TenantID != tenantID {
		return nil, order.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *memOrderRepo) GetByIdempotencyKey(_ context.Context, tenantID uuid.UUID, key string) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.TenantID == tenantID && o.IdempotencyKey == key {
			cp := *o
			return &cp, nil
		}
	}
	return nil, order.ErrOrderNotFound
}

func (r *memOrderRepo) Update(_ context.Context, o *order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *o
	r.orders[o.ID] = &cp
	return nil
}

func (r *memOrderRepo) List(_ context.Context, tenantID uuid.UUID, _ *order.Filter, _ *pagination.Pagination) ([]*order.Order, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*order.Order
	for _, o := range r.orders {
		if o.TenantID == tenantID {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, int64(len(out)), nil
}

func seedOrder(t *testing.T, repo *memOrderRepo, tenantID uuid.UUID, status order.OrderStatus) *order.Order {
	t.Helper()
	o := &order.Order{
		ID:       uuid.New(),
		TenantID: tenantID,
		UserID:   uuid.New(),
		Amount:   decimal.NewFromInt(150),
		Currency: "USD",
		Status:   status,
	}
	require.NoError(t, repo.Create(context.Background(), o))
	return o
}

func TestService_GenerateForOrder(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	newEnv := func() (*Service, *memOrderRepo, *memInvoiceRepo) {
		orderRepo := newMemOrderRepo()
		invoiceRepo := newMemInvoiceRepo()
		orders := order.NewService(orderRepo, zap.NewNop())
		return NewService(invoiceRepo, orders, zap.NewNop()), orderRepo, invoiceRepo
	}

	t.Run("issues an invoice for a completed order", func(t *testing.T) {
		svc, orderRepo, _ := newEnv()
		o := seedOrder(t, orderRepo, tenantID, order.OrderStatusCompleted)

		inv, err := svc.GenerateForOrder(ctx, o.ID, tenantID)
		require.NoError(t, err)
		assert.Equal(t, o.ID, inv.OrderID)
		assert.Equal(t, StatusIssued, inv.Status)
		assert.True(t, inv.Amount.Equal(o.Amount))
		assert.Equal(t, "USD", inv.Currency)
		assert.True(t, strings.HasPrefix(inv.InvoiceNumber, "INV-"))
		assert.False(t, inv.IssuedAt.IsZero())
	})

	t.Run("regeneration returns the original invoice", func(t *testing.T) {
		svc, orderRepo, invoiceRepo := newEnv()
		o := seedOrder(t, orderRepo, tenantID, order.OrderStatusCompleted)

		first, err := svc.GenerateForOrder(ctx, o.ID, tenantID)
		require.NoError(t, err)
		second, err := svc.GenerateForOrder(ctx, o.ID, tenantID)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, first.InvoiceNumber, second.InvoiceNumber)
		assert.Len(t, invoiceRepo.invoices, 1)
	})

	t.Run("rejects an unsettled order", func(t *testing.T) {
		svc, orderRepo, _ := newEnv()
		for _, status := range []order.OrderStatus{
			order.OrderStatusPending,
			order.OrderStatusProcessing,
			order.OrderStatusFailed,
			order.OrderStatusCancelled,
		} {
			o := seedOrder(t, orderRepo, tenantID, status)
			_, err := svc.GenerateForOrder(ctx, o.ID, tenantID)
			assert.ErrorIs(t, err, ErrOrderNotCompleted, string(status))
		}
	})

	t.Run("unknown order", func(t *testing.T) {
		svc, _, _ := newEnv()
		_, err := svc.GenerateForOrder(ctx, uuid.New(), tenantID)
		assert.ErrorIs(t, err, order.ErrOrderNotFound)
	})

	t.Run("order from another tenant is invisible", func(t *testing.T) {
		svc, orderRepo, _ := newEnv()
		o := seedOrder(t, orderRepo, tenantID, order.OrderStatusCompleted)

		_, err := svc.GenerateForOrder(ctx, o.ID, uuid.New())
		assert.ErrorIs(t, err, order.ErrOrderNotFound)
	})
}

func TestService_GetInvoice(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	orderRepo := newMemOrderRepo()
	invoiceRepo := newMemInvoiceRepo()
	svc := NewService(invoiceRepo, order.NewService(orderRepo, zap.NewNop()), zap.NewNop())

	o := seedOrder(t, orderRepo, tenantID, order.OrderStatusCompleted)
	inv, err := svc.GenerateForOrder(ctx, o.ID, tenantID)
	require.NoError(t, err)

	got, err := svc.GetInvoice(ctx, inv.ID, tenantID)
	require.NoError(t, err)
	assert.Equal(t, inv.InvoiceNumber, got.InvoiceNumber)

	_, err = svc.GetInvoice(ctx, inv.ID, uuid.New())
	assert.ErrorIs(t, err, ErrInvoiceNotFound)
}
