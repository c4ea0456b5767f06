package ledger

import (
	"github.com/veriplex/veriplex/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger",
	fx.Provide(service.NewLedger),
)
