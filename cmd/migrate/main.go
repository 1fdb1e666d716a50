package main

import (
	"flag"

	"github.com/joripage/mini-exchange/config"
	"github.com/joripage/mini-exchange/pkg/infra"
	"github.com/joripage/mini-exchange/pkg/logging"
	"go.uber.org/zap"
)

func main() {
	var (
		configFile string
		source     string
	)
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.StringVar(&source, "source", "file://migration/sql", "Migration source URL")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		panic(err)
	}
	log, _ := logging.Install(cfg.ServiceName, cfg.LogLevel)
	defer log.Sync()

	if cfg.ArchiveDB == nil || cfg.ArchiveDB.MigrationConnURL == "" {
		zap.S().Fatal("archive_db.migration_conn_url is not configured")
	}

	mgTool := infra.GetMigrateTool()
	if err := mgTool.Migrate(source, cfg.ArchiveDB.MigrationConnURL); err != nil {
		zap.S().Fatalw("migrate", "err", err)
	}
}
