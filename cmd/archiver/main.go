package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joripage/mini-exchange/config"
	"github.com/joripage/mini-exchange/pkg/archive"
	postgres_wrapper "github.com/joripage/mini-exchange/pkg/infra/postgres"
	kafkawrapper "github.com/joripage/mini-exchange/pkg/kafka_wrapper"
	"github.com/joripage/mini-exchange/pkg/logging"
	"go.uber.org/zap"
)

func main() {
	var configFile string
	var filter archive.ListFilter
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.StringVar(&filter.Symbol, "list", "", "Print archived executions of SYMBOL and exit")
	flag.StringVar(&filter.ClientID, "list-client", "", "Print archived executions of a client id and exit")
	flag.IntVar(&filter.Limit, "limit", 100, "Maximum rows printed by -list / -list-client")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		panic(err)
	}
	log, _ := logging.Install(cfg.ServiceName, cfg.LogLevel)
	defer log.Sync()

	configBytes, err := json.MarshalIndent(cfg, "", "   ")
	if err != nil {
		zap.S().Warnf("could not convert config to JSON: %v", err)
	} else {
		zap.S().Debugf("load config %s", string(configBytes))
	}

	if cfg.ArchiveDB == nil {
		zap.S().Fatal("archive_db is not configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// init db
	db, err := postgres_wrapper.InitPostgresWithBackoff(cfg.ArchiveDB)
	if err != nil {
		zap.S().Fatalw("init db fail", "err", err)
	}

	// init repo
	sqlRepo := archive.NewRepo(db)

	if filter.Symbol != "" || filter.ClientID != "" {
		rows, err := archive.List(ctx, sqlRepo, filter)
		if err != nil {
			zap.S().Fatalw("list executions", "err", err)
		}
		for _, row := range rows {
			fmt.Println(row)
		}
		return
	}

	consumer, err := kafkawrapper.NewConsumerGroup(kafkawrapper.ConsumerConfig{
		Brokers:      cfg.Kafka.Brokers,
		GroupID:      cfg.Kafka.GroupID,
		Topic:        cfg.Kafka.Topic,
		MaxRetries:   5,
		BatchSize:    cfg.Kafka.BatchSize,
		BatchTimeout: cfg.Kafka.FlushInterval(),
		DLQTopic:     cfg.Kafka.Topic + ".dlq",
	})
	if err != nil {
		zap.S().Fatalw("init consumer", "err", err)
	}
	defer consumer.Close()

	w := archive.NewWorker(sqlRepo)
	zap.S().Infow("archiver started", "topic", cfg.Kafka.Topic, "group", cfg.Kafka.GroupID)
	if err := w.Start(ctx, consumer); err != nil && ctx.Err() == nil {
		zap.S().Errorw("archiver stopped", "err", err)
	}
}
