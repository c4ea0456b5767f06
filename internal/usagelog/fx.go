package usagelog

import (
	"github.com/veriplex/veriplex/internal/usagelog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usagelog",
	fx.Provide(service.NewRecorder),
)
