package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veriplex/veriplex/internal/clock"
	"github.com/veriplex/veriplex/internal/config"
	"github.com/veriplex/veriplex/internal/provider"
	recorddomain "github.com/veriplex/veriplex/internal/record/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type memStore struct {
	mu      sync.Mutex
	records map[string]*recorddomain.CachedRecord
	puts    int
	getErr  error
}

func newMemStore() *memStore {
	return &memStore{records: map[string]*recorddomain.CachedRecord{}}
}

func (s *memStore) Get(_ context.Context, dom config.Domain, key string) (*recorddomain.CachedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.records[dom.Table+"/"+key], nil
}

func (s *memStore) Put(_ context.Context, dom config.Domain, key string, payload datatypes.JSONMap, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	s.records[dom.Table+"/"+key] = &recorddomain.CachedRecord{
		RecordKey: key,
		Payload:   payload,
		Source:    source,
		FetchedAt: time.Now().UTC(),
	}
	return nil
}

func (s *memStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

type stubProvider struct {
	name    string
	delay   time.Duration
	err     error
	payload datatypes.JSONMap

	mu    sync.Mutex
	calls int
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Fetch(ctx context.Context, _ string, _ map[string]string) (datatypes.JSONMap, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(p.delay):
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.payload, nil
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func testDomain() config.Domain {
	return config.Domain{Name: "rc", Table: "rc_records", KeyParam: "rc_number", TTL: 24 * time.Hour, Upstream: true}
}

func newTestResolver(store recorddomain.Store, clk clock.Clock, providers ...provider.Provider) *Resolver {
	return NewResolver(ResolverParam{
		Cfg:   config.Config{ProviderTimeout: 200 * time.Millisecond},
		Log:   zap.NewNop(),
		Store: store,
		Set:   provider.NewStaticSet(providers...),
		Clock: clk,
	})
}

func TestResolveFreshCacheSkipsProviders(t *testing.T) {
	clk := clock.NewFakeClock(time.Now().UTC())
	store := newMemStore()
	dom := testDomain()
	store.records[dom.Table+"/MH12AB1234"] = &recorddomain.CachedRecord{
		RecordKey: "MH12AB1234",
		Payload:   datatypes.JSONMap{"owner": "cached"},
		Source:    "upstream-1",
		FetchedAt: clk.Now().Add(-time.Hour),
	}
	p := &stubProvider{name: "upstream-1", payload: datatypes.JSONMap{"owner": "live"}}
	r := newTestResolver(store, clk, p)

	res, err := r.Resolve(context.Background(), dom, "MH12AB1234", nil)
	require.NoError(t, err)
	assert.Equal(t, recorddomain.SourceCache, res.Source)
	assert.False(t, res.Stale)
	assert.Equal(t, "cached", res.Payload["owner"])
	assert.Equal(t, 0, p.callCount(), "fresh cache hit must not touch providers")
}

func TestResolveFirstSuccessWins(t *testing.T) {
	clk := clock.NewFakeClock(time.Now().UTC())
	store := newMemStore()
	slow := &stubProvider{name: "slow", delay: 80 * time.Millisecond, payload: datatypes.JSONMap{"winner": "slow"}}
	fast := &stubProvider{name: "fast", delay: 5 * time.Millisecond, payload: datatypes.JSONMap{"winner": "fast"}}
	r := newTestResolver(store, clk, slow, fast)

	res, err := r.Resolve(context.Background(), testDomain(), "K1", map[string]string{"rc_number": "K1"})
	require.NoError(t, err)
	assert.Equal(t, "fast", res.Source)
	assert.Equal(t, "fast", res.Payload["winner"])
	assert.False(t, res.Stale)
}

func TestResolveFailureDoesNotMaskSlowerSuccess(t *testing.T) {
	clk := clock.NewFakeClock(time.Now().UTC())
	store := newMemStore()
	failing := &stubProvider{name: "broken", err: errors.New("upstream 500")}
	working := &stubProvider{name: "working", delay: 30 * time.Millisecond, payload: datatypes.JSONMap{"ok": true}}
	r := newTestResolver(store, clk, failing, working)

	res, err := r.Resolve(context.Background(), testDomain(), "K2", nil)
	require.NoError(t, err)
	assert.Equal(t, "working", res.Source)
}

func TestResolvePersistsWinnerAsync(t *testing.T) {
	clk := clock.NewFakeClock(time.Now().UTC())
	store := newMemStore()
	p := &stubProvider{name: "upstream-1", payload: datatypes.JSONMap{"owner": "live"}}
	r := newTestResolver(store, clk, p)

	_, err := r.Resolve(context.Background(), testDomain(), "K3", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return store.putCount() == 1
	}, time.Second, 5*time.Millisecond, "winner should be written back to the store")

	rec, err := store.Get(context.Background(), testDomain(), "K3")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "upstream-1", rec.Source)
}

func TestResolveServesStaleWhenAllProvidersFail(t *testing.T) {
	clk := clock.NewFakeClock(time.Now().UTC())
	store := newMemStore()
	dom := testDomain()
	store.records[dom.Table+"/OLD1"] = &recorddomain.CachedRecord{
		RecordKey: "OLD1",
		Payload:   datatypes.JSONMap{"owner": "stale"},
		Source:    "upstream-2",
		FetchedAt: clk.Now().Add(-48 * time.Hour),
	}
	p1 := &stubProvider{name: "a", err: errors.New("down")}
	p2 := &stubProvider{name: "b", err: errors.New("down")}
	r := newTestResolver(store, clk, p1, p2)

	res, err := r.Resolve(context.Background(), dom, "OLD1", nil)
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.Equal(t, recorddomain.SourceCache, res.Source)
	assert.Equal(t, "stale", res.Payload["owner"])
	assert.Equal(t, 0, store.putCount(), "stale serve must not rewrite the record")
}

func TestResolveNotFound(t *testing.T) {
	clk := clock.NewFakeClock(time.Now().UTC())
	store := newMemStore()
	p := &stubProvider{name: "a", err: errors.New("down")}
	r := newTestResolver(store, clk, p)

	_, err := r.Resolve(context.Background(), testDomain(), "NOPE", nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResolveCacheOnlyDomainWithoutProviders(t *testing.T) {
	clk := clock.NewFakeClock(time.Now().UTC())
	store := newMemStore()
	dom := config.Domain{Name: "pan", Table: "pan_records", KeyParam: "pan_number", TTL: time.Hour, Upstream: false}
	store.records[dom.Table+"/ABCDE1234F"] = &recorddomain.CachedRecord{
		RecordKey: "ABCDE1234F",
		Payload:   datatypes.JSONMap{"holder": "x"},
		Source:    "seed",
		FetchedAt: clk.Now().Add(-30 * 24 * time.Hour),
	}
	live := &stubProvider{name: "should-not-run", payload: datatypes.JSONMap{}}
	r := newTestResolver(store, clk, live)

	res, err := r.Resolve(context.Background(), dom, "ABCDE1234F", nil)
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.Equal(t, 0, live.callCount())

	_, err = r.Resolve(context.Background(), dom, "MISSING", nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResolveDegradedCacheReadFallsThroughToProviders(t *testing.T) {
	clk := clock.NewFakeClock(time.Now().UTC())
	store := newMemStore()
	store.getErr = errors.New("db gone")
	p := &stubProvider{name: "upstream-1", payload: datatypes.JSONMap{"ok": true}}
	r := newTestResolver(store, clk, p)

	res, err := r.Resolve(context.Background(), testDomain(), "K4", nil)
	require.NoError(t, err)
	assert.Equal(t, "upstream-1", res.Source)
}

func TestResolveProviderTimeout(t *testing.T) {
	clk := clock.NewFakeClock(time.Now().UTC())
	store := newMemStore()
	hung := &stubProvider{name: "hung", delay: 5 * time.Second, payload: datatypes.JSONMap{}}
	r := newTestResolver(store, clk, hung)

	start := time.Now()
	_, err := r.Resolve(context.Background(), testDomain(), "K5", nil)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Less(t, time.Since(start), 2*time.Second)
}
