package migration

import (
	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/veriplex/veriplex/internal/apikey/domain"
	catalogdomain "github.com/veriplex/veriplex/internal/catalog/domain"
	"github.com/veriplex/veriplex/internal/config"
	ledgerdomain "github.com/veriplex/veriplex/internal/ledger/domain"
	recorddomain "github.com/veriplex/veriplex/internal/record/domain"
	"github.com/veriplex/veriplex/internal/seed"
	usagedomain "github.com/veriplex/veriplex/internal/usagelog/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, domains []config.Domain, genID *snowflake.Node, log *zap.Logger) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// sqlite and mysql deployments (dev, single binary) get
			// the schema from the models instead of the SQL files.
			log.Info("auto-migrating schema", zap.String("db_type", cfg.DBType))
			if err := conn.AutoMigrate(
				&catalogdomain.Service{},
				&ledgerdomain.CreditAccount{},
				&ledgerdomain.Subscription{},
				&apikeydomain.APIKey{},
				&usagedomain.UsageRecord{},
			); err != nil {
				return err
			}
			for _, dom := range domains {
				if err := conn.Table(dom.Table).AutoMigrate(&recorddomain.CachedRecord{}); err != nil {
					return err
				}
			}
		}

		if cfg.SeedCatalog {
			return seed.EnsureDefaultCatalog(conn, genID)
		}
		return nil
	}),
)
