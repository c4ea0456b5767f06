package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	catalogdomain "github.com/veriplex/veriplex/internal/catalog/domain"
	catalogservice "github.com/veriplex/veriplex/internal/catalog/service"
	"github.com/veriplex/veriplex/internal/clock"
	"github.com/veriplex/veriplex/internal/config"
	ledgerdomain "github.com/veriplex/veriplex/internal/ledger/domain"
	ledgerservice "github.com/veriplex/veriplex/internal/ledger/service"
	"github.com/veriplex/veriplex/internal/notifier"
	"github.com/veriplex/veriplex/internal/resolver"
	usagedomain "github.com/veriplex/veriplex/internal/usagelog/domain"
	usageservice "github.com/veriplex/veriplex/internal/usagelog/service"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type stubResolver struct {
	mu    sync.Mutex
	res   *resolver.Resolution
	err   error
	calls int
}

func (s *stubResolver) Resolve(_ context.Context, _ config.Domain, _ string, _ map[string]string) (*resolver.Resolution, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.res, nil
}

func (s *stubResolver) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type failingRecorder struct{}

func (failingRecorder) Record(context.Context, *usagedomain.UsageRecord) error {
	return errors.New("disk full")
}

func (failingRecorder) List(context.Context, usagedomain.ListFilter) ([]usagedomain.UsageRecord, error) {
	return nil, nil
}

type fixture struct {
	engine   *Engine
	db       *gorm.DB
	hub      *notifier.Hub
	resolver *stubResolver
	clock    *clock.FakeClock
}

func setupEngine(t *testing.T, res *stubResolver) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&catalogdomain.Service{},
		&ledgerdomain.CreditAccount{},
		&ledgerdomain.Subscription{},
		&usagedomain.UsageRecord{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Now().UTC())
	log := zap.NewNop()

	domains, err := config.Domains(config.Config{})
	require.NoError(t, err)
	registry, err := NewRegistry(domains)
	require.NoError(t, err)

	hub := notifier.NewHub()
	eng := NewEngine(EngineParam{
		Cfg:       config.Config{ExecuteTimeout: 5 * time.Second},
		Log:       log,
		Directory: catalogservice.NewDirectory(catalogservice.DirectoryParam{DB: db, Log: log}),
		Registry:  registry,
		Resolver:  res,
		Ledger:    ledgerservice.NewLedger(ledgerservice.LedgerParam{DB: db, Log: log, Clock: clk}),
		Recorder:  usageservice.NewRecorder(usageservice.RecorderParam{DB: db, Log: log, GenID: node, Clock: clk}),
		Notifier:  hub,
		Clock:     clk,
	})
	return &fixture{engine: eng, db: db, hub: hub, resolver: res, clock: clk}
}

func seedBillable(t *testing.T, db *gorm.DB, slug string, price float64) {
	t.Helper()
	require.NoError(t, db.Create(&catalogdomain.Service{
		ID: 1, Name: slug, Slug: slug, PricePerCall: price, IsActive: true,
	}).Error)
	require.NoError(t, db.Create(&ledgerdomain.CreditAccount{
		UserID: "u1", TotalAllocated: 100,
	}).Error)
	require.NoError(t, db.Create(&ledgerdomain.Subscription{
		ID: 10, UserID: "u1", ServiceID: 1, Status: ledgerdomain.SubscriptionActive,
		CreditsAllocated: 50, CreditsRemaining: 50, StartedAt: time.Now().UTC(),
	}).Error)
}

func caller() Caller {
	return Caller{UserID: "u1", APIKeyID: 99, ServiceID: 1, SubscriptionID: 10}
}

func usageRows(t *testing.T, db *gorm.DB) []usagedomain.UsageRecord {
	t.Helper()
	var rows []usagedomain.UsageRecord
	require.NoError(t, db.Find(&rows).Error)
	return rows
}

func TestExecuteSuccess(t *testing.T) {
	res := &stubResolver{res: &resolver.Resolution{
		Payload: datatypes.JSONMap{"ownerName": "A. Kumar", "regNo": "MH12AB1234"},
		Source:  "provider_1",
	}}
	f := setupEngine(t, res)
	seedBillable(t, f.db, "vehicle-rc-verification", 5)

	sub, _ := f.hub.Subscribe("u1")
	defer sub.Close()

	result, err := f.engine.Execute(context.Background(), caller(), "vehicle-rc-verification",
		map[string]string{"reg_no": "MH12AB1234"})
	require.NoError(t, err)
	assert.Equal(t, "provider_1", result.DataSource)
	assert.False(t, result.Stale)
	assert.Equal(t, 5.0, result.CreditsDeducted)
	assert.Equal(t, 45.0, result.CreditsRemaining)
	assert.Equal(t, "A. Kumar", result.Data["ownerName"])

	rows := usageRows(t, f.db)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Success)
	assert.Equal(t, 200, rows[0].ResponseStatus)
	assert.Equal(t, "provider_1", rows[0].DataSource)
	assert.Equal(t, 50.0, rows[0].CreditsBefore)
	assert.Equal(t, 45.0, rows[0].CreditsAfter)
	assert.Equal(t, int64(99), rows[0].APIKeyID)

	// Both notifications arrive: the call itself and the balance change.
	types := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-sub.Events():
			types[ev.Type] = true
		case <-time.After(time.Second):
			t.Fatal("missing notification")
		}
	}
	assert.True(t, types[notifier.TypeAPICall])
	assert.True(t, types[notifier.TypeBalanceUpdate])

	var acct ledgerdomain.CreditAccount
	require.NoError(t, f.db.Where("user_id = ?", "u1").First(&acct).Error)
	assert.Equal(t, 5.0, acct.Used)
}

func TestExecuteUnknownService(t *testing.T) {
	f := setupEngine(t, &stubResolver{})

	_, err := f.engine.Execute(context.Background(), caller(), "no-such-service", nil)
	require.ErrorIs(t, err, catalogservice.ErrServiceNotFound)
	assert.Empty(t, usageRows(t, f.db))
	assert.Equal(t, 0, f.resolver.callCount())
}

func TestExecuteMissingParameter(t *testing.T) {
	f := setupEngine(t, &stubResolver{})
	seedBillable(t, f.db, "vehicle-rc-verification", 5)

	_, err := f.engine.Execute(context.Background(), caller(), "vehicle-rc-verification",
		map[string]string{"unrelated": "x"})
	require.ErrorIs(t, err, ErrMissingParameter)
	assert.Equal(t, 0, f.resolver.callCount())

	rows := usageRows(t, f.db)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Success)
	assert.Equal(t, 400, rows[0].ResponseStatus)
	assert.Equal(t, 0.0, rows[0].CreditsDeducted)
}

func TestExecuteKeyParamAlias(t *testing.T) {
	res := &stubResolver{res: &resolver.Resolution{Payload: datatypes.JSONMap{}, Source: "cache"}}
	f := setupEngine(t, res)
	seedBillable(t, f.db, "vehicle-rc-verification", 5)

	_, err := f.engine.Execute(context.Background(), caller(), "vehicle-rc-verification",
		map[string]string{"regNo": "MH12AB1234"})
	require.NoError(t, err)
}

func TestExecuteNotFoundBillsNothing(t *testing.T) {
	f := setupEngine(t, &stubResolver{err: resolver.ErrNotFound})
	seedBillable(t, f.db, "vehicle-rc-verification", 5)

	_, err := f.engine.Execute(context.Background(), caller(), "vehicle-rc-verification",
		map[string]string{"reg_no": "ZZ00ZZ0000"})
	require.ErrorIs(t, err, resolver.ErrNotFound)

	rows := usageRows(t, f.db)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Success)
	assert.Equal(t, 404, rows[0].ResponseStatus)
	assert.Equal(t, 0.0, rows[0].CreditsDeducted)

	var sub ledgerdomain.Subscription
	require.NoError(t, f.db.First(&sub, 10).Error)
	assert.Equal(t, 50.0, sub.CreditsRemaining, "nothing may be billed for a failed resolution")
}

func TestExecuteBillingRejectionDiscardsData(t *testing.T) {
	res := &stubResolver{res: &resolver.Resolution{
		Payload: datatypes.JSONMap{"secret": "resolved"},
		Source:  "provider_1",
	}}
	f := setupEngine(t, res)
	seedBillable(t, f.db, "vehicle-rc-verification", 5)
	require.NoError(t, f.db.Model(&ledgerdomain.Subscription{}).
		Where("id = ?", 10).
		Update("credits_remaining", 2).Error)

	result, err := f.engine.Execute(context.Background(), caller(), "vehicle-rc-verification",
		map[string]string{"reg_no": "MH12AB1234"})
	require.ErrorIs(t, err, ledgerdomain.ErrInsufficientCredits)
	assert.Nil(t, result, "resolved data must not leak past a billing rejection")

	rows := usageRows(t, f.db)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Success)
	assert.Equal(t, 402, rows[0].ResponseStatus)
	assert.Equal(t, "provider_1", rows[0].DataSource)
}

func TestExecuteExpiredSubscription(t *testing.T) {
	res := &stubResolver{res: &resolver.Resolution{Payload: datatypes.JSONMap{}, Source: "cache"}}
	f := setupEngine(t, res)
	seedBillable(t, f.db, "vehicle-rc-verification", 5)
	past := f.clock.Now().Add(-time.Hour)
	require.NoError(t, f.db.Model(&ledgerdomain.Subscription{}).
		Where("id = ?", 10).
		Update("expires_at", past).Error)

	_, err := f.engine.Execute(context.Background(), caller(), "vehicle-rc-verification",
		map[string]string{"reg_no": "MH12AB1234"})
	require.ErrorIs(t, err, ledgerdomain.ErrSubscriptionExpired)

	rows := usageRows(t, f.db)
	require.Len(t, rows, 1)
	assert.Equal(t, 403, rows[0].ResponseStatus)
}

func TestExecuteShapesBasicVehicleInfo(t *testing.T) {
	res := &stubResolver{res: &resolver.Resolution{
		Payload: datatypes.JSONMap{
			"regNo": "MH12AB1234", "ownerName": "A. Kumar", "fuelType": "PETROL",
			"engineNo": "E123", "chassisNo": "C456",
		},
		Source: "provider_2",
	}}
	f := setupEngine(t, res)
	seedBillable(t, f.db, "basic-vehicle-info", 3)

	result, err := f.engine.Execute(context.Background(), caller(), "basic-vehicle-info",
		map[string]string{"reg_no": "MH12AB1234"})
	require.NoError(t, err)
	assert.Equal(t, "A. Kumar", result.Data["ownerName"])
	assert.NotContains(t, result.Data, "engineNo")
	assert.NotContains(t, result.Data, "chassisNo")
}

func TestExecuteRejectsKeyBoundToOtherService(t *testing.T) {
	res := &stubResolver{res: &resolver.Resolution{Payload: datatypes.JSONMap{}, Source: "cache"}}
	f := setupEngine(t, res)
	seedBillable(t, f.db, "vehicle-rc-verification", 5)
	require.NoError(t, f.db.Create(&catalogdomain.Service{
		ID: 2, Name: "PAN Verification", Slug: "pan-verification", PricePerCall: 5, IsActive: true,
	}).Error)

	// The caller's key and subscription are bound to service 1; calling
	// another service must not debit that subscription.
	_, err := f.engine.Execute(context.Background(), caller(), "pan-verification",
		map[string]string{"pan_number": "ABCDE1234F"})
	require.ErrorIs(t, err, ErrServiceNotAllowed)
	assert.Equal(t, 0, f.resolver.callCount())

	rows := usageRows(t, f.db)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Success)
	assert.Equal(t, 403, rows[0].ResponseStatus)

	var sub ledgerdomain.Subscription
	require.NoError(t, f.db.First(&sub, 10).Error)
	assert.Equal(t, 50.0, sub.CreditsRemaining)
	var acct ledgerdomain.CreditAccount
	require.NoError(t, f.db.Where("user_id = ?", "u1").First(&acct).Error)
	assert.Equal(t, 0.0, acct.Used)
}

func TestExecuteSubscriptionForeignServiceBillsNothing(t *testing.T) {
	res := &stubResolver{res: &resolver.Resolution{Payload: datatypes.JSONMap{}, Source: "cache"}}
	f := setupEngine(t, res)
	seedBillable(t, f.db, "vehicle-rc-verification", 5)
	require.NoError(t, f.db.Create(&catalogdomain.Service{
		ID: 2, Name: "PAN Verification", Slug: "pan-verification", PricePerCall: 5, IsActive: true,
	}).Error)

	// The key is bound to service 2 but still carries subscription 10,
	// which belongs to service 1. The ledger must refuse the pairing.
	c := Caller{UserID: "u1", APIKeyID: 99, ServiceID: 2, SubscriptionID: 10}
	_, err := f.engine.Execute(context.Background(), c, "pan-verification",
		map[string]string{"pan_number": "ABCDE1234F"})
	require.ErrorIs(t, err, ledgerdomain.ErrServiceMismatch)

	rows := usageRows(t, f.db)
	require.Len(t, rows, 1)
	assert.Equal(t, 403, rows[0].ResponseStatus)

	var sub ledgerdomain.Subscription
	require.NoError(t, f.db.First(&sub, 10).Error)
	assert.Equal(t, 50.0, sub.CreditsRemaining)
}

func TestExecuteScopedKeyChargesAccount(t *testing.T) {
	res := &stubResolver{res: &resolver.Resolution{Payload: datatypes.JSONMap{}, Source: "cache"}}
	f := setupEngine(t, res)
	seedBillable(t, f.db, "vehicle-rc-verification", 5)
	require.NoError(t, f.db.Create(&catalogdomain.Service{
		ID: 2, Name: "PAN Verification", Slug: "pan-verification", PricePerCall: 5, IsActive: true,
	}).Error)

	// A key without a service binding may call any slug in its scopes,
	// paying from the account balance.
	c := Caller{UserID: "u1", APIKeyID: 99, Scopes: []string{"pan-verification"}}
	result, err := f.engine.Execute(context.Background(), c, "pan-verification",
		map[string]string{"pan_number": "ABCDE1234F"})
	require.NoError(t, err)
	assert.Equal(t, 5.0, result.CreditsDeducted)

	var acct ledgerdomain.CreditAccount
	require.NoError(t, f.db.Where("user_id = ?", "u1").First(&acct).Error)
	assert.Equal(t, 5.0, acct.Used)

	// The scope list is exact: anything outside it is rejected.
	_, err = f.engine.Execute(context.Background(), c, "vehicle-rc-verification",
		map[string]string{"reg_no": "MH12AB1234"})
	require.ErrorIs(t, err, ErrServiceNotAllowed)
}

func TestConcurrentExecutesNeverOverbill(t *testing.T) {
	res := &stubResolver{res: &resolver.Resolution{Payload: datatypes.JSONMap{}, Source: "cache"}}
	f := setupEngine(t, res)
	seedBillable(t, f.db, "vehicle-rc-verification", 10)
	require.NoError(t, f.db.Model(&ledgerdomain.Subscription{}).
		Where("id = ?", 10).
		Updates(map[string]any{"credits_allocated": 100, "credits_remaining": 100}).Error)

	const callers = 15

	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.Execute(context.Background(), caller(),
				"vehicle-rc-verification", map[string]string{"reg_no": "MH12AB1234"})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, ledgerdomain.ErrInsufficientCredits)
		}
	}
	assert.Equal(t, 10, succeeded, "exactly the allocation's worth of calls may bill")

	var sub ledgerdomain.Subscription
	require.NoError(t, f.db.First(&sub, 10).Error)
	assert.Equal(t, 0.0, sub.CreditsRemaining)
	var acct ledgerdomain.CreditAccount
	require.NoError(t, f.db.Where("user_id = ?", "u1").First(&acct).Error)
	assert.Equal(t, 100.0, acct.Used)

	rows := usageRows(t, f.db)
	require.Len(t, rows, callers)
	billed := 0
	for _, row := range rows {
		if row.Success {
			billed++
		}
	}
	assert.Equal(t, 10, billed)
}

func TestExecuteUsageWriteFailureSurfaces(t *testing.T) {
	res := &stubResolver{res: &resolver.Resolution{Payload: datatypes.JSONMap{}, Source: "cache"}}
	f := setupEngine(t, res)
	seedBillable(t, f.db, "vehicle-rc-verification", 5)

	// Swap in a recorder that cannot write.
	f.engine.recorder = failingRecorder{}

	_, err := f.engine.Execute(context.Background(), caller(), "vehicle-rc-verification",
		map[string]string{"reg_no": "MH12AB1234"})
	require.ErrorIs(t, err, ErrUsageWriteFailed)

	// The debit stands even though the call errored.
	var sub ledgerdomain.Subscription
	require.NoError(t, f.db.First(&sub, 10).Error)
	assert.Equal(t, 45.0, sub.CreditsRemaining)
}
