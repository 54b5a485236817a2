package refund

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chargehub/server/internal/module/payment"
	"github.com/chargehub/server/internal/module/payment/gateway"
	"github.com/chargehub/server/internal/utils/pagination"
)

type memRefundRepo struct {
	mu      sync.Mutex
	refunds map[uuid.UUID]*Refund
}

func newMemRefundRepo() *memRefundRepo {
	return &memRefundRepo{refunds: make(map[uuid.UUID]*Refund)}
}

func (r *memRefundRepo) Create(_ context.Context, rf *Refund) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rf.ID == uuid.Nil {
		rf.ID = uuid.New()
	}
	cp := *rf
	r.refunds[rf.ID] = &cp
	return nil
}

func (r *memRefundRepo) Get(_ context.Context, id, tenantID uuid.UUID) (*Refund, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rf, ok := r.refunds[id]
	if !ok || rf.TenantID != tenantID {
		return nil, ErrRefundNotFound
	}
	cp := *rf
	return &cp, nil
}

func (r *memRefundRepo) GetByProviderRefundID(_ context.Context, provider, providerRefundID string, tenantID uuid.UUID) (*Refund, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rf := range r.refunds {
		if rf.Provider != provider || rf.ProviderRefundID != providerRefundID {
			continue
		}
		if tenantID != uuid.Nil && rf.TenantID != tenantID {
			continue
		}
		cp := *rf
		return &cp, nil
	}
	return nil, ErrRefundNotFound
}

func (r *memRefundRepo) Update(_ context.Context, rf *Refund) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rf
	r.refunds[rf.ID] = &cp
	return nil
}

func (r *memRefundRepo) List(_ context.Context, tenantID uuid.UUID, filter *Filter, _ *pagination.Pagination) ([]Refund, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Refund
	for _, rf := range r.refunds {
		if rf.TenantID != tenantID {
			continue
		}
		if filter != nil {
			if filter.TransactionID != nil && rf.TransactionID != *filter.TransactionID {
				continue
			}
			if filter.OrderID != nil && rf.OrderID != *filter.OrderID {
				continue
			}
			if filter.UserID != nil && rf.UserID != *filter.UserID {
				continue
			}
		}
		out = append(out, *rf)
	}
	return out, int64(len(out)), nil
}

func (r *memRefundRepo) SumReserved(_ context.Context, transactionID uuid.UUID) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sum := decimal.Zero
	for _, rf := range r.refunds {
		if rf.TransactionID == transactionID &&
			(rf.Status == StatusPending || rf.Status == StatusSucceeded) {
			sum = sum.Add(rf.Amount)
		}
	}
	return sum, nil
}

type fakePaymentStore struct {
	mu   sync.Mutex
	txns map[uuid.UUID]*payment.Transaction
}

func newFakePaymentStore() *fakePaymentStore {
	return &fakePaymentStore{txns: make(map[uuid.UUID]*payment.Transaction)}
}

func (s *fakePaymentStore) GetTransaction(_ context.Context, id, tenantID uuid.UUID) (*payment.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	txn, ok := s.txns[id]
	if !ok || txn.TenantID != tenantID {
		return nil, payment.ErrTransactionNotFound
	}
	cp := *txn
	return &cp, nil
}

func (s *fakePaymentStore) UpdateTransaction(_ context.Context, txn *payment.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *txn
	s.txns[txn.ID] = &cp
	return nil
}

type fakeRefundProvider struct {
	mu          sync.Mutex
	refundCalls int
	status      string
}

func (p *fakeRefundProvider) Name() string { return "stripe" }

func (p *fakeRefundProvider) CreateIntent(context.Context, gateway.CreateIntentParams) (*gateway.Intent, error) {
	return nil, nil
}
func (p *fakeRefundProvider) GetIntent(context.Context, string) (*gateway.Intent, error) {
	return nil, nil
}
func (p *fakeRefundProvider) ConfirmIntent(context.Context, string, gateway.ConfirmParams) (*gateway.Intent, error) {
	return nil, nil
}
func (p *fakeRefundProvider) CancelIntent(context.Context, string) (*gateway.Intent, error) {
	return nil, nil
}

func (p *fakeRefundProvider) CreateRefund(_ context.Context, params gateway.RefundParams) (*gateway.Refund, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refundCalls++
	status := p.status
	if status == "" {
		status = "succeeded"
	}
	return &gateway.Refund{
		ID:       fmt.Sprintf("re_%d", p.refundCalls),
		ChargeID: params.ChargeID,
		Amount:   params.Amount,
		Currency: params.Currency,
		Status:   status,
	}, nil
}

func (p *fakeRefundProvider) VerifyWebhook([]byte, string) (*gateway.Event, error) {
	return nil, nil
}

type refundEnv struct {
	svc      *Service
	repo     *memRefundRepo
	payments *fakePaymentStore
	provider *fakeRefundProvider
	tenantID uuid.UUID
	userID   uuid.UUID
	orderID  uuid.UUID
	intentID uuid.UUID
	txnID    uuid.UUID
}

func newRefundEnv(t *testing.T, amount string) *refundEnv {
	t.Helper()

	provider := &fakeRefundProvider{}
	registry := gateway.NewRegistry()
	registry.Register(provider)

	payments := newFakePaymentStore()
	tenantID := uuid.New()
	userID := uuid.New()
	intentID := uuid.New()
	txnID := uuid.New()
	orderID := uuid.New()

	payments.txns[txnID] = &payment.Transaction{
		ID:              txnID,
		TenantID:        tenantID,
		PaymentIntentID: intentID,
		OrderID:         orderID,
		UserID:          userID,
		Provider:        "stripe",
		ProviderTxnID:   "ch_1",
		Amount:          decimal.RequireFromString(amount),
		Currency:        "USD",
		Status:          payment.TransactionStatusSucceeded,
		CreatedAt:       time.Now(),
	}

	repo := newMemRefundRepo()
	svc := NewService(repo, payments, registry,
		Config{MaxRefundPeriod: 90 * 24 * time.Hour}, zap.NewNop())

	return &refundEnv{
		svc:      svc,
		repo:     repo,
		payments: payments,
		provider: provider,
		tenantID: tenantID,
		userID:   userID,
		orderID:  orderID,
		intentID: intentID,
		txnID:    txnID,
	}
}

func (e *refundEnv) txnStatus(t *testing.T) string {
	t.Helper()
	e.payments.mu.Lock()
	defer e.payments.mu.Unlock()
	return e.payments.txns[e.txnID].Status
}

func TestService_CreateRefund(t *testing.T) {
	ctx := context.Background()

	t.Run("full refund marks the transaction refunded", func(t *testing.T) {
		env := newRefundEnv(t, "100")
		r, err := env.svc.CreateRefund(ctx, env.tenantID, CreateRefundInput{
			TransactionID: env.txnID,
			Amount:        decimal.NewFromInt(100),
		})
		require.NoError(t, err)
		assert.Equal(t, StatusSucceeded, r.Status)
		assert.Equal(t, env.intentID, r.PaymentIntentID)
		assert.Equal(t, env.userID, r.UserID)
		require.NotNil(t, r.ProcessedAt)
		assert.Equal(t, payment.TransactionStatusRefunded, env.txnStatus(t))
	})

	t.Run("zero amount refunds the remaining balance", func(t *testing.T) {
		env := newRefundEnv(t, "100")
		r, err := env.svc.CreateRefund(ctx, env.tenantID, CreateRefundInput{
			TransactionID: env.txnID,
		})
		require.NoError(t, err)
		assert.True(t, r.Amount.Equal(decimal.NewFromInt(100)))
	})

	t.Run("pending gateway refund is not stamped processed", func(t *testing.T) {
		env := newRefundEnv(t, "100")
		env.provider.status = "pending"
		r, err := env.svc.CreateRefund(ctx, env.tenantID, CreateRefundInput{
			TransactionID: env.txnID,
			Amount:        decimal.NewFromInt(25),
		})
		require.NoError(t, err)
		assert.Equal(t, StatusPending, r.Status)
		assert.Nil(t, r.ProcessedAt)
	})

	t.Run("partial refunds accumulate against the balance", func(t *testing.T) {
		env := newRefundEnv(t, "100")

		_, err := env.svc.CreateRefund(ctx, env.tenantID, CreateRefundInput{
			TransactionID: env.txnID,
			Amount:        decimal.NewFromInt(40),
		})
		require.NoError(t, err)
		assert.Equal(t, payment.TransactionStatusPartiallyRefunded, env.txnStatus(t))

		// 40 + 70 > 100
		_, err = env.svc.CreateRefund(ctx, env.tenantID, CreateRefundInput{
			TransactionID: env.txnID,
			Amount:        decimal.NewFromInt(70),
		})
		assert.ErrorIs(t, err, ErrAmountExceedsBalance)

		_, err = env.svc.CreateRefund(ctx, env.tenantID, CreateRefundInput{
			TransactionID: env.txnID,
			Amount:        decimal.NewFromInt(60),
		})
		require.NoError(t, err)
		assert.Equal(t, payment.TransactionStatusRefunded, env.txnStatus(t))
	})

	t.Run("rejects negative amounts", func(t *testing.T) {
		env := newRefundEnv(t, "100")
		_, err := env.svc.CreateRefund(ctx, env.tenantID, CreateRefundInput{
			TransactionID: env.txnID,
			Amount:        decimal.NewFromInt(-10),
		})
		assert.ErrorIs(t, err, ErrAmountExceedsBalance)
	})

	t.Run("rejects settled transactions outside the refund window", func(t *testing.T) {
		env := newRefundEnv(t, "100")
		env.payments.mu.Lock()
		env.payments.txns[env.txnID].CreatedAt = time.Now().Add(-91 * 24 * time.Hour)
		env.payments.mu.Unlock()

		_, err := env.svc.CreateRefund(ctx, env.tenantID, CreateRefundInput{
			TransactionID: env.txnID,
			Amount:        decimal.NewFromInt(10),
		})
		assert.ErrorIs(t, err, ErrWindowExpired)
	})

	t.Run("rejects unsettled payments", func(t *testing.T) {
		env := newRefundEnv(t, "100")
		env.payments.mu.Lock()
		env.payments.txns[env.txnID].Status = payment.TransactionStatusFailed
		env.payments.mu.Unlock()

		_, err := env.svc.CreateRefund(ctx, env.tenantID, CreateRefundInput{
			TransactionID: env.txnID,
			Amount:        decimal.NewFromInt(10),
		})
		assert.ErrorIs(t, err, ErrNotRefundable)
	})

	t.Run("rejects transactions without a charge reference", func(t *testing.T) {
		env := newRefundEnv(t, "100")
		env.payments.mu.Lock()
		env.payments.txns[env.txnID].ProviderTxnID = ""
		env.payments.mu.Unlock()

		_, err := env.svc.CreateRefund(ctx, env.tenantID, CreateRefundInput{
			TransactionID: env.txnID,
			Amount:        decimal.NewFromInt(10),
		})
		assert.ErrorIs(t, err, ErrNoChargeReference)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		env := newRefundEnv(t, "100")
		_, err := env.svc.CreateRefund(ctx, env.tenantID, CreateRefundInput{
			TransactionID: uuid.New(),
		})
		assert.ErrorIs(t, err, payment.ErrTransactionNotFound)
	})

	t.Run("wrong tenant cannot refund", func(t *testing.T) {
		env := newRefundEnv(t, "100")
		_, err := env.svc.CreateRefund(ctx, uuid.New(), CreateRefundInput{
			TransactionID: env.txnID,
		})
		assert.ErrorIs(t, err, payment.ErrTransactionNotFound)
	})
}

func TestService_ListRefunds(t *testing.T) {
	ctx := context.Background()

	env := newRefundEnv(t, "100")
	_, err := env.svc.CreateRefund(ctx, env.tenantID, CreateRefundInput{
		TransactionID: env.txnID,
		Amount:        decimal.NewFromInt(30),
	})
	require.NoError(t, err)

	p := pagination.New()

	t.Run("by transaction", func(t *testing.T) {
		refunds, total, err := env.svc.ListRefunds(ctx, env.tenantID, &Filter{TransactionID: &env.txnID}, p)
		require.NoError(t, err)
		assert.EqualValues(t, 1, total)
		require.Len(t, refunds, 1)
		assert.Equal(t, env.txnID, refunds[0].TransactionID)
	})

	t.Run("by order and user", func(t *testing.T) {
		_, total, err := env.svc.ListRefunds(ctx, env.tenantID, &Filter{OrderID: &env.orderID}, p)
		require.NoError(t, err)
		assert.EqualValues(t, 1, total)

		_, total, err = env.svc.ListRefunds(ctx, env.tenantID, &Filter{UserID: &env.userID}, p)
		require.NoError(t, err)
		assert.EqualValues(t, 1, total)
	})

	t.Run("non-matching filter returns nothing", func(t *testing.T) {
		other := uuid.New()
		_, total, err := env.svc.ListRefunds(ctx, env.tenantID, &Filter{OrderID: &other}, p)
		require.NoError(t, err)
		assert.Zero(t, total)
	})
}

func TestService_UpdateRefundStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown provider refund is ignored", func(t *testing.T) {
		env := newRefundEnv(t, "100")
		err := env.svc.UpdateRefundStatus(ctx, "stripe", "re_unknown", "succeeded", uuid.Nil)
		assert.NoError(t, err)
	})

	t.Run("failed refund releases the reserved balance", func(t *testing.T) {
		env := newRefundEnv(t, "100")
		env.provider.status = "pending"

		r, err := env.svc.CreateRefund(ctx, env.tenantID, CreateRefundInput{
			TransactionID: env.txnID,
			Amount:        decimal.NewFromInt(100),
		})
		require.NoError(t, err)
		assert.Equal(t, StatusPending, r.Status)
		assert.Equal(t, payment.TransactionStatusRefunded, env.txnStatus(t))

		require.NoError(t, env.svc.UpdateRefundStatus(ctx, "stripe", r.ProviderRefundID, "failed", env.tenantID))
		assert.Equal(t, payment.TransactionStatusSucceeded, env.txnStatus(t))

		stored, err := env.svc.GetRefund(ctx, r.ID, env.tenantID)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, stored.Status)
		require.NotNil(t, stored.ProcessedAt)

		// The full balance is refundable again.
		_, err = env.svc.CreateRefund(ctx, env.tenantID, CreateRefundInput{
			TransactionID: env.txnID,
		})
		require.NoError(t, err)
	})

	t.Run("nil tenant matches events without tenant metadata", func(t *testing.T) {
		env := newRefundEnv(t, "100")
		env.provider.status = "pending"
		r, err := env.svc.CreateRefund(ctx, env.tenantID, CreateRefundInput{
			TransactionID: env.txnID,
			Amount:        decimal.NewFromInt(20),
		})
		require.NoError(t, err)

		require.NoError(t, env.svc.UpdateRefundStatus(ctx, "stripe", r.ProviderRefundID, "succeeded", uuid.Nil))
		stored, err := env.svc.GetRefund(ctx, r.ID, env.tenantID)
		require.NoError(t, err)
		assert.Equal(t, StatusSucceeded, stored.Status)
	})

	t.Run("another provider's reference does not match", func(t *testing.T) {
		env := newRefundEnv(t, "100")
		env.provider.status = "pending"
		r, err := env.svc.CreateRefund(ctx, env.tenantID, CreateRefundInput{
			TransactionID: env.txnID,
			Amount:        decimal.NewFromInt(20),
		})
		require.NoError(t, err)

		require.NoError(t, env.svc.UpdateRefundStatus(ctx, "adyen", r.ProviderRefundID, "succeeded", env.tenantID))
		stored, err := env.svc.GetRefund(ctx, r.ID, env.tenantID)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, stored.Status)
	})

	t.Run("status confirmation is idempotent", func(t *testing.T) {
		env := newRefundEnv(t, "100")
		r, err := env.svc.CreateRefund(ctx, env.tenantID, CreateRefundInput{
			TransactionID: env.txnID,
			Amount:        decimal.NewFromInt(50),
		})
		require.NoError(t, err)

		require.NoError(t, env.svc.UpdateRefundStatus(ctx, "stripe", r.ProviderRefundID, "succeeded", env.tenantID))
		require.NoError(t, env.svc.UpdateRefundStatus(ctx, "stripe", r.ProviderRefundID, "succeeded", env.tenantID))
		assert.Equal(t, payment.TransactionStatusPartiallyRefunded, env.txnStatus(t))
	})
}
