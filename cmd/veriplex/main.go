package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/veriplex/veriplex/internal/clock"
	"github.com/veriplex/veriplex/internal/config"
	"github.com/veriplex/veriplex/internal/logger"
	"github.com/veriplex/veriplex/internal/migration"
	"github.com/veriplex/veriplex/internal/server"
	"github.com/veriplex/veriplex/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
