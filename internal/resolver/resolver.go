// Package resolver implements the fallback resolution pipeline shared by
// every data domain: fresh cache, then a first-success race across the
// upstream providers, then stale cache, then not-found.
package resolver

import (
	"context"
	"errors"
	"time"

	"github.com/veriplex/veriplex/internal/clock"
	"github.com/veriplex/veriplex/internal/config"
	"github.com/veriplex/veriplex/internal/provider"
	recorddomain "github.com/veriplex/veriplex/internal/record/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// ErrNotFound means neither the cache store nor any provider produced data
// for the key. It is the only failure a resolution can surface; individual
// provider errors are consumed internally.
var ErrNotFound = errors.New("record_not_found")

// Resolution is a resolved payload with its provenance. Stale is set when the
// payload was rescued from an expired cache record after every live fetch
// attempt failed, so callers can distinguish rescued data from a fresh hit.
type Resolution struct {
	Payload datatypes.JSONMap
	Source  string
	Stale   bool
}

type ResolverParam struct {
	fx.In

	Cfg   config.Config
	Log   *zap.Logger
	Store recorddomain.Store
	Set   *provider.Set
	Clock clock.Clock
}

type Resolver struct {
	log          *zap.Logger
	store        recorddomain.Store
	set          *provider.Set
	clock        clock.Clock
	callTimeout  time.Duration
	storeTimeout time.Duration
}

func NewResolver(p ResolverParam) *Resolver {
	return &Resolver{
		log:          p.Log.Named("resolver"),
		store:        p.Store,
		set:          p.Set,
		clock:        p.Clock,
		callTimeout:  p.Cfg.ProviderTimeout,
		storeTimeout: p.Cfg.ProviderTimeout,
	}
}

// Resolve returns the payload for (domain, key).
//
//  1. A cache record fresh within the domain TTL is returned immediately.
//  2. Otherwise all configured providers are raced; the first success wins
//     and the result is persisted to the cache store in the background.
//  3. If every provider fails, an existing stale record is served instead.
//  4. Only total exhaustion yields ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, dom config.Domain, key string, params map[string]string) (*Resolution, error) {
	cached, err := r.store.Get(ctx, dom, key)
	if err != nil {
		// A broken cache read degrades to a live fetch, it does not fail
		// the call.
		r.log.Warn("cache read failed",
			zap.String("domain", dom.Name),
			zap.Error(err),
		)
		cached = nil
	}
	if cached.IsFresh(dom.TTL, r.clock.Now()) {
		return &Resolution{Payload: cached.Payload, Source: recorddomain.SourceCache}, nil
	}

	if payload, source, ok := r.race(ctx, dom, params); ok {
		r.persistAsync(dom, key, payload, source)
		return &Resolution{Payload: payload, Source: source}, nil
	}

	if cached != nil {
		r.log.Warn("all providers failed, serving stale record",
			zap.String("domain", dom.Name),
			zap.Time("fetched_at", cached.FetchedAt),
		)
		return &Resolution{Payload: cached.Payload, Source: recorddomain.SourceCache, Stale: true}, nil
	}

	return nil, ErrNotFound
}

type outcome struct {
	idx     int
	name    string
	payload datatypes.JSONMap
	err     error
}

// race invokes every eligible provider concurrently and returns the first
// successful result. Results completing in the same scheduling window are
// tie-broken by provider order. Losers run to completion against the
// buffered channel, so nothing blocks or leaks once the winner returns.
func (r *Resolver) race(ctx context.Context, dom config.Domain, params map[string]string) (datatypes.JSONMap, string, bool) {
	providers := r.set.ForDomain(dom)
	if len(providers) == 0 {
		return nil, "", false
	}

	results := make(chan outcome, len(providers))
	for i, p := range providers {
		go func(idx int, p provider.Provider) {
			callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
			defer cancel()
			payload, err := p.Fetch(callCtx, dom.Name, params)
			results <- outcome{idx: idx, name: p.Name(), payload: payload, err: err}
		}(i, p)
	}

	received := 0
	for received < len(providers) {
		res := <-results
		received++
		if res.err != nil {
			r.log.Debug("provider failed",
				zap.String("domain", dom.Name),
				zap.String("provider", res.name),
				zap.Error(res.err),
			)
			continue
		}

		win := res
		// Drain results that completed in the same window; the lowest
		// provider index wins a tie.
		for received < len(providers) {
			select {
			case extra := <-results:
				received++
				if extra.err == nil && extra.idx < win.idx {
					win = extra
				}
			default:
				return win.payload, win.name, true
			}
		}
		return win.payload, win.name, true
	}

	return nil, "", false
}

// persistAsync writes a race winner back to the cache store without blocking
// the caller's response. A failed write is a freshness miss, not an error.
func (r *Resolver) persistAsync(dom config.Domain, key string, payload datatypes.JSONMap, source string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.storeTimeout)
		defer cancel()
		if err := r.store.Put(ctx, dom, key, payload, source); err != nil {
			r.log.Warn("cache write failed",
				zap.String("domain", dom.Name),
				zap.String("source", source),
				zap.Error(err),
			)
		}
	}()
}

var Module = fx.Module("resolver",
	fx.Provide(NewResolver),
)
