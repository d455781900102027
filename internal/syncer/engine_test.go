package syncer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nportel/conciliador/internal/domain"
	"github.com/nportel/conciliador/internal/processor"
)

type fakeStore struct {
	txByExt    map[string]*domain.Transaction
	liqByExt   map[string]*domain.Liquidation
	logs       []domain.SyncLogEntry
	watermarks map[string]time.Time
	leaseBusy  bool
	nextID     int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		txByExt:    make(map[string]*domain.Transaction),
		liqByExt:   make(map[string]*domain.Liquidation),
		watermarks: make(map[string]time.Time),
	}
}

func (f *fakeStore) AcquireButtonLease(ctx context.Context, buttonID uuid.UUID) (func(), bool, error) {
	if f.leaseBusy {
		return nil, false, nil
	}
	return func() {}, true, nil
}

func (f *fakeStore) LatestSyncSuccess(ctx context.Context, buttonID uuid.UUID, operation string) (*time.Time, error) {
	if ts, ok := f.watermarks[buttonID.String()+operation]; ok {
		return &ts, nil
	}
	return nil, nil
}

func (f *fakeStore) AppendSyncLog(ctx context.Context, e domain.SyncLogEntry) error {
	e.CreatedAt = time.Now()
	f.logs = append(f.logs, e)
	return nil
}

func (f *fakeStore) GetTransactionByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error) {
	if t, ok := f.txByExt[externalID]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	if _, exists := f.txByExt[t.ExternalID]; exists {
		return fmt.Errorf("duplicate external id %s", t.ExternalID)
	}
	f.nextID++
	t.ID = f.nextID
	cp := *t
	f.txByExt[t.ExternalID] = &cp
	return nil
}

func (f *fakeStore) UpdateTransactionSyncFields(ctx context.Context, id int64, status string, amount float64, paymentMethod string, installments int) error {
	for _, t := range f.txByExt {
		if t.ID == id {
			t.Status = status
			t.Amount = amount
			t.PaymentMethod = paymentMethod
			t.Installments = installments
			return nil
		}
	}
	return errors.New("transaction not found")
}

func (f *fakeStore) GetLiquidationByExternalID(ctx context.Context, externalID string) (*domain.Liquidation, error) {
	if l, ok := f.liqByExt[externalID]; ok {
		cp := *l
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) CreateLiquidation(ctx context.Context, l *domain.Liquidation) error {
	if _, exists := f.liqByExt[l.ExternalID]; exists {
		return fmt.Errorf("duplicate external id %s", l.ExternalID)
	}
	f.nextID++
	l.ID = f.nextID
	cp := *l
	f.liqByExt[l.ExternalID] = &cp
	return nil
}

func (f *fakeStore) UpdateLiquidationSyncFields(ctx context.Context, id int64, amount float64, settlementDate time.Time, status string) error {
	for _, l := range f.liqByExt {
		if l.ID == id {
			l.Amount = amount
			l.SettlementDate = settlementDate
			l.Status = status
			return nil
		}
	}
	return errors.New("liquidation not found")
}

func (f *fakeStore) lastLog() domain.SyncLogEntry {
	return f.logs[len(f.logs)-1]
}

type fakeClient struct {
	transactions []processor.Transaction
	liquidations []processor.Liquidation
	txErr        error
	liqErr       error
	gotFrom      time.Time
	gotTo        time.Time
}

func (c *fakeClient) ListTransactions(ctx context.Context, from, to time.Time) ([]processor.Transaction, error) {
	c.gotFrom, c.gotTo = from, to
	return c.transactions, c.txErr
}

func (c *fakeClient) ListLiquidations(ctx context.Context, from, to time.Time) ([]processor.Liquidation, error) {
	c.gotFrom, c.gotTo = from, to
	return c.liquidations, c.liqErr
}

func newEngine(store *fakeStore, client *fakeClient) *Engine {
	return New(store, func(domain.PaymentButton) Client { return client }, nil)
}

func testButton() domain.PaymentButton {
	return domain.PaymentButton{ID: uuid.New(), OrganizationID: uuid.New(), Name: "Tienda Centro"}
}

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestSyncTransactionsCreatesWithExpectedDate(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{transactions: []processor.Transaction{
		{ID: "tx-1", Date: date("2024-01-02"), Amount: 150.5, PaymentMethod: domain.MethodDebitCard, Status: domain.TxStatusCompleted},
		{ID: "tx-2", Date: date("2024-01-02"), Amount: 900, PaymentMethod: domain.MethodCreditCard, Installments: 3, Status: domain.TxStatusPending},
	}}
	engine := newEngine(store, client)

	res := engine.SyncTransactions(context.Background(), testButton())

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 0, res.Updated)

	tx1 := store.txByExt["tx-1"]
	require.NotNil(t, tx1)
	require.NotNil(t, tx1.ExpectedPayDate)
	assert.Equal(t, date("2024-01-03"), *tx1.ExpectedPayDate)

	tx2 := store.txByExt["tx-2"]
	require.NotNil(t, tx2)
	assert.Equal(t, 3, tx2.Installments)

	last := store.lastLog()
	assert.Equal(t, domain.OpTransactionSync, last.Operation)
	assert.Equal(t, domain.LogSuccess, last.Status)
	assert.Contains(t, last.Message, "created 2")
}

func TestSyncTransactionsIsIdempotent(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{transactions: []processor.Transaction{
		{ID: "tx-1", Date: date("2024-01-02"), Amount: 150.5, PaymentMethod: domain.MethodDebitCard, Status: domain.TxStatusCompleted},
	}}
	engine := newEngine(store, client)
	button := testButton()

	first := engine.SyncTransactions(context.Background(), button)
	require.True(t, first.Success)
	require.Equal(t, 1, first.Created)

	second := engine.SyncTransactions(context.Background(), button)
	assert.True(t, second.Success)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 1, second.Updated)

	// Exactly one local record per external id, fields unchanged.
	assert.Len(t, store.txByExt, 1)
	assert.Equal(t, 150.5, store.txByExt["tx-1"].Amount)
	assert.Equal(t, domain.TxStatusCompleted, store.txByExt["tx-1"].Status)
}

func TestSyncTransactionsDoesNotRecomputeExpectedDateOnUpdate(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{transactions: []processor.Transaction{
		{ID: "tx-1", Date: date("2024-01-02"), Amount: 100, PaymentMethod: domain.MethodDebitCard, Status: domain.TxStatusPending},
	}}
	engine := newEngine(store, client)
	button := testButton()

	engine.SyncTransactions(context.Background(), button)
	original := *store.txByExt["tx-1"].ExpectedPayDate

	// Upstream reclassifies the method; the expected date must not move.
	client.transactions[0].PaymentMethod = domain.MethodCreditCard
	engine.SyncTransactions(context.Background(), button)

	assert.Equal(t, domain.MethodCreditCard, store.txByExt["tx-1"].PaymentMethod)
	assert.Equal(t, original, *store.txByExt["tx-1"].ExpectedPayDate)
}

func TestSyncTransactionsUsesWatermarkWindow(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{}
	engine := newEngine(store, client)
	button := testButton()

	mark := date("2024-02-01")
	store.watermarks[button.ID.String()+domain.OpTransactionSync] = mark

	engine.SyncTransactions(context.Background(), button)
	assert.Equal(t, mark, client.gotFrom)
}

func TestSyncTransactionsDefaultLookback(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{}
	engine := newEngine(store, client)
	now := date("2024-03-01")
	engine.now = func() time.Time { return now }

	engine.SyncTransactions(context.Background(), testButton())
	assert.Equal(t, now.Add(-transactionLookback), client.gotFrom)
	assert.Equal(t, now, client.gotTo)
}

func TestSyncLiquidationsParsesLocalizedAmountAndDebitTag(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{liquidations: []processor.Liquidation{
		{LiquidacionID: "liq-1", NetoLiquidacion: "12 345.67", FechaLiquidacion: "2024-01-04", NumeroSubente: "0042 TARJETA DE DEBITO"},
		{LiquidacionID: "liq-2", NetoLiquidacion: "500.00", FechaLiquidacion: "2024-01-05", NumeroSubente: "0017 COMERCIOS"},
	}}
	engine := newEngine(store, client)

	res := engine.SyncLiquidations(context.Background(), testButton())

	require.True(t, res.Success)
	assert.Equal(t, 2, res.Created)

	debit := store.liqByExt["liq-1"]
	require.NotNil(t, debit)
	assert.Equal(t, 12345.67, debit.Amount)
	assert.Equal(t, domain.LiqStatusDebitCard, debit.Status)
	assert.Equal(t, date("2024-01-04"), debit.SettlementDate)

	other := store.liqByExt["liq-2"]
	require.NotNil(t, other)
	assert.Equal(t, domain.LiqStatusProcessed, other.Status)
}

func TestSyncLiquidationsSkipsMalformedRecordOnly(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{liquidations: []processor.Liquidation{
		{LiquidacionID: "liq-bad", NetoLiquidacion: "no es un numero", FechaLiquidacion: "2024-01-04", NumeroSubente: "0017"},
		{LiquidacionID: "liq-ok", NetoLiquidacion: "100.00", FechaLiquidacion: "2024-01-05", NumeroSubente: "0017"},
	}}
	engine := newEngine(store, client)

	res := engine.SyncLiquidations(context.Background(), testButton())

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Skipped)
	assert.Nil(t, store.liqByExt["liq-bad"])
	assert.NotNil(t, store.liqByExt["liq-ok"])

	// Malformed records are called out in the ledger message, distinct from
	// connectivity failures which produce an error entry instead.
	last := store.lastLog()
	assert.Equal(t, domain.LogSuccess, last.Status)
	assert.Contains(t, last.Message, "malformed")
	assert.Contains(t, last.Message, "liq-bad")
}

func TestUpstreamFailureIsIsolatedPerEntityType(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{
		transactions: []processor.Transaction{
			{ID: "tx-1", Date: date("2024-01-02"), Amount: 10, PaymentMethod: domain.MethodQR, Status: domain.TxStatusCompleted},
		},
		liqErr: errors.New("connection refused"),
	}
	engine := newEngine(store, client)

	res := engine.SyncButton(context.Background(), testButton())

	assert.True(t, res.Transactions.Success)
	assert.Equal(t, 1, res.Transactions.Created)
	assert.False(t, res.Liquidations.Success)
	assert.Contains(t, res.Liquidations.Error, "connection refused")

	var errEntries int
	for _, e := range store.logs {
		if e.Status == domain.LogError {
			errEntries++
			assert.Equal(t, domain.OpLiquidationSync, e.Operation)
		}
	}
	assert.Equal(t, 1, errEntries)
}

func TestBusyLeaseRejectsWithoutLedgerEntry(t *testing.T) {
	store := newFakeStore()
	store.leaseBusy = true
	engine := newEngine(store, &fakeClient{})

	res := engine.SyncTransactions(context.Background(), testButton())

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "already in progress")
	assert.Empty(t, store.logs)
}

func TestParseLocalizedAmount(t *testing.T) {
	cases := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"12 345.67", 12345.67, false},
		{"500.00", 500, false},
		{" 1 234 567.89 ", 1234567.89, false},
		{"", 0, true},
		{"12,345", 0, true},
		{"abc", 0, true},
	}
	for _, tc := range cases {
		got, err := parseLocalizedAmount(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}
