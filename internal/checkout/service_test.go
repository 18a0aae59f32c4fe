package checkout_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/apotek-pos/internal/catalog"
	"github.com/noah-isme/apotek-pos/internal/checkout"
	"github.com/noah-isme/apotek-pos/internal/events"
	"github.com/noah-isme/apotek-pos/internal/gateway"
	"github.com/noah-isme/apotek-pos/internal/lock"
	"github.com/noah-isme/apotek-pos/internal/obs"
	"github.com/noah-isme/apotek-pos/internal/pos"
	"github.com/noah-isme/apotek-pos/internal/pricing"
	"github.com/noah-isme/apotek-pos/internal/tenant"
)

func money(s string) pricing.Money { return pricing.MustMoney(s) }

type flakyRecorder struct {
	mu    sync.Mutex
	fail  error
	ids   []string
	inner *gateway.MemoryRecorder
	// entered and release hold Record open when set.
	entered chan struct{}
	release chan struct{}
}

func (f *flakyRecorder) Record(ctx context.Context, rec gateway.Record) (gateway.Receipt, error) {
	f.mu.Lock()
	f.ids = append(f.ids, rec.ID.String())
	fail := f.fail
	entered, release := f.entered, f.release
	f.mu.Unlock()
	if entered != nil {
		close(entered)
		select {
		case <-release:
		case <-ctx.Done():
			return gateway.Receipt{}, ctx.Err()
		}
	}
	if fail != nil {
		return gateway.Receipt{}, fail
	}
	return f.inner.Record(ctx, rec)
}

type fixture struct {
	svc      *checkout.Service
	mr       *miniredis.Miniredis
	client   *redis.Client
	recorder *flakyRecorder
	metrics  *obs.CheckoutMetrics
	ctx      context.Context
}

func newFixture(t *testing.T, opts ...func(*checkout.Config)) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	src := catalog.NewStaticSource()
	copay := money("10.00")
	require.NoError(t, src.Put(pos.KindProduct, pos.Item{ID: "otc-1", Name: "Paracetamol", Price: money("10.00")}))
	require.NoError(t, src.Put(pos.KindPrescription, pos.Item{ID: "rx-1", Name: "Amoxicillin", Price: money("50.00"), InsuranceCovered: true, Copay: &copay}))

	rates, err := pricing.ParseRateTable("0.08", "clinic-b=0")
	require.NoError(t, err)

	recorder := &flakyRecorder{inner: gateway.NewMemoryRecorder()}
	metrics := obs.NewCheckoutMetrics("test", prometheus.NewRegistry())
	cfg := checkout.Config{
		Store:      checkout.NewRedisStore(client),
		Locker:     lock.Locker{R: client, RetryBackoff: 2 * time.Millisecond, MaxWait: time.Second},
		Catalog:    src,
		Recorder:   recorder,
		Events:     &events.Bus{Store: events.RedisStreamStore{R: client}},
		Rates:      rates,
		SessionTTL: time.Hour,
		Currency:   "USD",
		Logger:     zerolog.Nop(),
		Metrics:    metrics,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	svc, err := checkout.NewService(cfg)
	require.NoError(t, err)
	return &fixture{
		svc:      svc,
		mr:       mr,
		client:   client,
		recorder: recorder,
		metrics:  metrics,
		ctx:      tenant.WithTenant(context.Background(), "clinic-a"),
	}
}

func (f *fixture) pharmacyCart(t *testing.T) string {
	t.Helper()
	view, err := f.svc.Start(f.ctx)
	require.NoError(t, err)
	require.Equal(t, checkout.StatusEmpty, view.Status)

	_, err = f.svc.AddItem(f.ctx, view.ID, pos.KindOTC, "otc-1")
	require.NoError(t, err)
	_, err = f.svc.SetQuantity(f.ctx, view.ID, 0, 3)
	require.NoError(t, err)
	view, err = f.svc.AddItem(f.ctx, view.ID, pos.KindPrescription, "rx-1")
	require.NoError(t, err)
	return view.ID
}

func TestServiceBuildsPharmacyCart(t *testing.T) {
	f := newFixture(t)
	id := f.pharmacyCart(t)

	view, err := f.svc.Get(f.ctx, id)
	require.NoError(t, err)
	require.Len(t, view.Lines, 2)
	require.Equal(t, money("30.00"), view.Lines[0].LineTotal)
	require.Equal(t, money("80.00"), view.Settlement.Subtotal)
	require.Equal(t, money("40.00"), view.Settlement.InsuranceCredit)
	require.Equal(t, money("3.20"), view.Settlement.Tax)
	require.Equal(t, money("43.20"), view.Settlement.TotalDue)
	require.Equal(t, checkout.StatusBuilding, view.Status)
	require.False(t, view.CanSettle)
	require.Equal(t, "USD", view.Currency)
	require.True(t, f.mr.Exists("clinic-a:pos:session:"+id))

	view, err = f.svc.AddTender(f.ctx, id, pos.MethodCash, money("43.20"))
	require.NoError(t, err)
	require.Equal(t, checkout.StatusSettleable, view.Status)
	require.True(t, view.CanSettle)
	require.Equal(t, pricing.Money(0), view.Settlement.ChangeDue)
}

func TestServiceMergesRepeatedAdds(t *testing.T) {
	f := newFixture(t)
	view, err := f.svc.Start(f.ctx)
	require.NoError(t, err)
	for range 2 {
		view, err = f.svc.AddItem(f.ctx, view.ID, pos.KindOTC, "otc-1")
		require.NoError(t, err)
	}
	require.Len(t, view.Lines, 1)
	require.Equal(t, 2, view.Lines[0].Quantity)
}

func TestServiceUsesTenantRate(t *testing.T) {
	f := newFixture(t)
	ctx := tenant.WithTenant(context.Background(), "clinic-b")
	view, err := f.svc.Start(ctx)
	require.NoError(t, err)
	view, err = f.svc.AddItem(ctx, view.ID, pos.KindOTC, "otc-1")
	require.NoError(t, err)
	require.Equal(t, pricing.Money(0), view.Settlement.Tax)
	require.Equal(t, money("10.00"), view.Settlement.TotalDue)
}

func TestServiceIsolatesTenants(t *testing.T) {
	f := newFixture(t)
	id := f.pharmacyCart(t)
	_, err := f.svc.Get(tenant.WithTenant(context.Background(), "clinic-b"), id)
	require.ErrorIs(t, err, checkout.ErrSessionNotFound)
}

func TestServiceErrors(t *testing.T) {
	f := newFixture(t)
	id := f.pharmacyCart(t)

	_, err := f.svc.Get(f.ctx, "missing")
	require.ErrorIs(t, err, checkout.ErrSessionNotFound)

	_, err = f.svc.SetQuantity(f.ctx, id, 5, 1)
	require.ErrorIs(t, err, pos.ErrOutOfRange)

	_, err = f.svc.SetUnitPrice(f.ctx, id, 0, money("-1.00"))
	require.ErrorIs(t, err, pos.ErrInvalidAmount)

	_, err = f.svc.AddTender(f.ctx, id, pos.MethodCard, money("-0.01"))
	require.ErrorIs(t, err, pos.ErrInvalidAmount)

	_, err = f.svc.RemoveTender(f.ctx, id, 0)
	require.ErrorIs(t, err, pos.ErrOutOfRange)

	_, err = f.svc.AddItem(f.ctx, id, pos.KindOTC, "nope")
	require.ErrorIs(t, err, catalog.ErrNotFound)

	_, err = f.svc.AddItem(f.ctx, id, pos.Kind("service"), "otc-1")
	require.ErrorIs(t, err, pos.ErrUnknownKind)

	view, err := f.svc.Get(f.ctx, id)
	require.NoError(t, err)
	require.Equal(t, money("43.20"), view.Settlement.TotalDue, "failed operations leave the cart unchanged")

	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Operations.WithLabelValues("set_quantity", "rejected")))
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Operations.WithLabelValues("add_item", "not_found")))
}

func TestServiceSessionExpires(t *testing.T) {
	f := newFixture(t)
	id := f.pharmacyCart(t)

	f.mr.FastForward(59 * time.Minute)
	_, err := f.svc.AddTender(f.ctx, id, pos.MethodCash, money("1.00"))
	require.NoError(t, err, "mutation refreshes the ttl")

	f.mr.FastForward(59 * time.Minute)
	_, err = f.svc.Get(f.ctx, id)
	require.NoError(t, err)

	f.mr.FastForward(2 * time.Minute)
	_, err = f.svc.Get(f.ctx, id)
	require.ErrorIs(t, err, checkout.ErrSessionNotFound)
}

func TestFinalizeRequiresBalancedNonEmptyCart(t *testing.T) {
	f := newFixture(t)
	view, err := f.svc.Start(f.ctx)
	require.NoError(t, err)

	_, err = f.svc.Finalize(f.ctx, view.ID)
	require.ErrorIs(t, err, checkout.ErrEmptyCart)

	id := f.pharmacyCart(t)
	_, err = f.svc.AddTender(f.ctx, id, pos.MethodCash, money("40.00"))
	require.NoError(t, err)
	_, err = f.svc.Finalize(f.ctx, id)
	require.ErrorIs(t, err, checkout.ErrNotSettleable)
	require.ErrorContains(t, err, "3.20")
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Finalize.WithLabelValues("not_settleable")))
}

func TestFinalizeRecordsAndDiscardsSession(t *testing.T) {
	f := newFixture(t)
	id := f.pharmacyCart(t)
	_, err := f.svc.SelectCustomer(f.ctx, id, pos.Customer{ID: "c-1", Name: "Ana", Insurance: &pos.InsuranceProfile{Provider: "Acme", MemberID: "M-9"}})
	require.NoError(t, err)
	_, err = f.svc.AddTender(f.ctx, id, pos.MethodInsurance, money("3.20"))
	require.NoError(t, err)
	_, err = f.svc.AddTender(f.ctx, id, pos.MethodCash, money("50.00"))
	require.NoError(t, err)

	result, err := f.svc.Finalize(f.ctx, id)
	require.NoError(t, err)
	require.NotEmpty(t, result.Receipt.Number)
	require.Equal(t, money("10.00"), result.Settlement.ChangeDue)
	require.NotNil(t, result.Customer)

	records := f.recorder.inner.Records()
	require.Len(t, records, 1)
	require.Equal(t, "clinic-a", records[0].Tenant)
	require.Equal(t, pricing.MustRate("0.08"), records[0].TaxRate)
	require.Equal(t, money("43.20"), records[0].Settlement.TotalDue)

	_, err = f.svc.Get(f.ctx, id)
	require.ErrorIs(t, err, checkout.ErrSessionNotFound)
	require.Equal(t, 5320.0, testutil.ToFloat64(f.metrics.Tendered.WithLabelValues("cash"))+testutil.ToFloat64(f.metrics.Tendered.WithLabelValues("insurance")))

	msgs, err := f.client.XRange(context.Background(), events.DefaultStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, events.TopicTransactionFinalized, msgs[0].Values["topic"])
}

func TestFinalizeGatewayFailureKeepsSession(t *testing.T) {
	f := newFixture(t)
	id := f.pharmacyCart(t)
	_, err := f.svc.AddTender(f.ctx, id, pos.MethodCard, money("43.20"))
	require.NoError(t, err)

	f.recorder.fail = errors.New("connection refused")
	_, err = f.svc.Finalize(f.ctx, id)
	require.ErrorIs(t, err, checkout.ErrUpstream)

	view, err := f.svc.Get(f.ctx, id)
	require.NoError(t, err)
	require.Equal(t, checkout.StatusSettleable, view.Status)

	f.recorder.fail = nil
	_, err = f.svc.Finalize(f.ctx, id)
	require.NoError(t, err)
	require.Len(t, f.recorder.ids, 2)
	require.Equal(t, f.recorder.ids[0], f.recorder.ids[1], "retry reuses the record id")
}

func TestFinalizeRecordIDResetsAfterMutation(t *testing.T) {
	f := newFixture(t)
	id := f.pharmacyCart(t)
	_, err := f.svc.AddTender(f.ctx, id, pos.MethodCard, money("43.20"))
	require.NoError(t, err)

	f.recorder.fail = errors.New("timeout")
	_, err = f.svc.Finalize(f.ctx, id)
	require.Error(t, err)

	_, err = f.svc.AddTender(f.ctx, id, pos.MethodCash, money("1.00"))
	require.NoError(t, err)
	f.recorder.fail = nil
	_, err = f.svc.Finalize(f.ctx, id)
	require.NoError(t, err)
	require.NotEqual(t, f.recorder.ids[0], f.recorder.ids[1])
}

func TestCancelDiscardsSessionAndEmits(t *testing.T) {
	f := newFixture(t)
	id := f.pharmacyCart(t)
	require.NoError(t, f.svc.Cancel(f.ctx, id))

	_, err := f.svc.Get(f.ctx, id)
	require.ErrorIs(t, err, checkout.ErrSessionNotFound)
	require.ErrorIs(t, f.svc.Cancel(f.ctx, id), checkout.ErrSessionNotFound)

	msgs, err := f.client.XRange(context.Background(), events.DefaultStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, events.TopicSessionCanceled, msgs[0].Values["topic"])
	require.Equal(t, "clinic-a", msgs[0].Values["tenant"])
}

func TestConcurrentMutationsAreSerialised(t *testing.T) {
	f := newFixture(t)
	view, err := f.svc.Start(f.ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.AddItem(f.ctx, view.ID, pos.KindOTC, "otc-1")
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	view, err = f.svc.Get(f.ctx, view.ID)
	require.NoError(t, err)
	require.Len(t, view.Lines, 1)
	require.Equal(t, 10, view.Lines[0].Quantity)
}

func TestUpdateLineIsAtomic(t *testing.T) {
	f := newFixture(t)
	id := f.pharmacyCart(t)

	price := money("1.00")
	quantity := pos.MaxQuantity + 1
	_, err := f.svc.UpdateLine(f.ctx, id, 0, &price, &quantity)
	require.ErrorIs(t, err, pos.ErrInvalidAmount)

	view, err := f.svc.Get(f.ctx, id)
	require.NoError(t, err)
	require.Equal(t, money("10.00"), view.Lines[0].UnitPrice, "price is not applied when the quantity fails")
	require.Equal(t, 3, view.Lines[0].Quantity)

	quantity = 2
	view, err = f.svc.UpdateLine(f.ctx, id, 0, &price, &quantity)
	require.NoError(t, err)
	require.Equal(t, money("2.00"), view.Lines[0].LineTotal)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Operations.WithLabelValues("update_line", "rejected")))
}

func TestOverflowingQuantityCannotFinalize(t *testing.T) {
	f := newFixture(t)
	id := f.pharmacyCart(t)

	_, err := f.svc.SetQuantity(f.ctx, id, 0, 9_223_372_036_854_776)
	require.ErrorIs(t, err, pos.ErrInvalidAmount)

	_, err = f.svc.Finalize(f.ctx, id)
	require.ErrorIs(t, err, checkout.ErrNotSettleable)
	require.Empty(t, f.recorder.inner.Records())
}

func TestFinalizeKeepsLockDuringSlowGateway(t *testing.T) {
	const lockTTL = 60 * time.Millisecond
	f := newFixture(t, func(cfg *checkout.Config) { cfg.LockTTL = lockTTL })
	id := f.pharmacyCart(t)
	_, err := f.svc.AddTender(f.ctx, id, pos.MethodCash, money("43.20"))
	require.NoError(t, err)

	f.recorder.mu.Lock()
	f.recorder.entered = make(chan struct{})
	f.recorder.release = make(chan struct{})
	entered, release := f.recorder.entered, f.recorder.release
	f.recorder.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Finalize(f.ctx, id)
		done <- err
	}()
	<-entered

	lockKey := "clinic-a:pos:lock:" + id
	for range 4 {
		time.Sleep(lockTTL / 2)
		f.mr.FastForward(lockTTL / 2)
		require.True(t, f.mr.Exists(lockKey), "lease is renewed while the gateway call runs")
	}
	close(release)
	require.NoError(t, <-done)
	require.Len(t, f.recorder.inner.Records(), 1)
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := checkout.NewService(checkout.Config{})
	require.Error(t, err)
}
