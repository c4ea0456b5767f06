package apikey

import (
	"github.com/veriplex/veriplex/internal/apikey/service"
	"go.uber.org/fx"
)

var Module = fx.Module("apikey",
	fx.Provide(service.New),
)
