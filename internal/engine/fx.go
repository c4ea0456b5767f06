package engine

import (
	"github.com/veriplex/veriplex/internal/resolver"
	"go.uber.org/fx"
)

var Module = fx.Module("engine",
	fx.Provide(
		NewRegistry,
		NewEngine,
		func(r *resolver.Resolver) Resolver { return r },
	),
)
