package record

import (
	"github.com/veriplex/veriplex/internal/record/store"
	"go.uber.org/fx"
)

var Module = fx.Module("record.store",
	fx.Provide(store.NewStore),
)
