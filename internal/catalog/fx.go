package catalog

import (
	"github.com/veriplex/veriplex/internal/catalog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("catalog",
	fx.Provide(service.NewDirectory),
)
