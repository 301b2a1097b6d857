package main

import (
	"github.com/folio-graph/folio/internal/server"
	"github.com/folio-graph/folio/internal/util"
	"github.com/folio-graph/folio/pkg/logger"
	"github.com/folio-graph/folio/pkg/logger/console"
	"github.com/folio-graph/folio/pkg/logger/jsonlog"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	instances := []logger.LoggerInstance{consoleLogger}
	if util.GetEnvBool("LOG_JSON", false) {
		jsonLogger, err := jsonlog.NewJSONLogger(jsonlog.JSONLoggerParams{
			Debug:   debug,
			Service: "folio-server",
		})
		if err != nil {
			logger.Init(consoleLogger)
			logger.Fatal("Failed to create JSON logger", "err", err)
		}
		defer jsonLogger.Sync()
		instances = []logger.LoggerInstance{jsonLogger}
	}
	logger.Init(instances...)

	server.Init()
}
