package provider

import (
	"github.com/veriplex/veriplex/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Set is the ordered collection of configured providers. Order matters: it is
// the tie-break for the fallback race, provider_1 before provider_2.
type Set struct {
	providers []Provider
}

// NewSet builds the provider set from the configured slots. An empty set is
// valid; every domain then degrades to cache-only resolution.
func NewSet(cfg config.Config, log *zap.Logger) *Set {
	providers := make([]Provider, 0, len(cfg.Providers))
	for _, slot := range cfg.Providers {
		providers = append(providers, NewHTTPProvider(slot.Name, slot.URL, slot.APIKey, cfg.ProviderTimeout))
	}
	if len(providers) == 0 {
		log.Warn("no upstream providers configured, lookups are cache-only")
	}
	return &Set{providers: providers}
}

// NewStaticSet wraps explicit providers, preserving order. Used by tests and
// by deployments injecting bespoke provider implementations.
func NewStaticSet(providers ...Provider) *Set {
	return &Set{providers: providers}
}

// ForDomain returns the providers eligible for a domain, in tie-break order.
// Domains without upstream support get none.
func (s *Set) ForDomain(dom config.Domain) []Provider {
	if s == nil || !dom.Upstream {
		return nil
	}
	return s.providers
}

var Module = fx.Module("provider.set",
	fx.Provide(NewSet),
)
