package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joripage/mini-exchange/config"
	"github.com/joripage/mini-exchange/pkg/archive"
	"github.com/joripage/mini-exchange/pkg/exchange"
	kafkawrapper "github.com/joripage/mini-exchange/pkg/kafka_wrapper"
	"github.com/joripage/mini-exchange/pkg/logging"
	"github.com/joripage/mini-exchange/pkg/marketdata"
	"github.com/joripage/mini-exchange/pkg/metrics"
	"github.com/joripage/mini-exchange/pkg/notifier"
	"github.com/joripage/mini-exchange/pkg/protocol/ordertext"
	"github.com/joripage/mini-exchange/pkg/store"
	kafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		panic(err)
	}

	log, err := logging.Install(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		zap.S().Warnw("invalid log level, using info", "log_level", cfg.LogLevel)
	}
	defer log.Sync()

	configBytes, err := json.MarshalIndent(cfg, "", "   ")
	if err != nil {
		zap.S().Warnf("could not convert config to JSON: %v", err)
	} else {
		zap.S().Debugf("load config %s", string(configBytes))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Redis)
	if err != nil {
		zap.S().Fatalw("open store", "driver", cfg.Store.Driver, "err", err)
	}
	defer st.Close()

	var opts []exchange.Option
	if cfg.Kafka.Enabled {
		producer := kafkawrapper.NewProducer(kafkawrapper.ProducerConfig{
			Brokers:      cfg.Kafka.Brokers,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.FlushInterval(),
			RequiredAcks: kafka.RequireOne,
			Async:        true,
		})
		events := archive.NewKafkaPublisher(producer, cfg.Kafka.Topic)
		defer events.Close(context.Background())
		opts = append(opts, exchange.WithExecutionPublisher(events))
		zap.S().Infow("publishing executions", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	ex := exchange.New(st, opts...)
	if err := ex.Recover(ctx); err != nil {
		zap.S().Fatalw("recover exchange state", "err", err)
	}

	gw := exchange.NewGatewayServer(ex, exchange.GatewayConfig{
		ReadTimeout:  cfg.Gateway.ReadTimeout(),
		WriteTimeout: cfg.Gateway.WriteTimeout(),
		Limits: ordertext.Limits{
			MaxSymbolLen:   cfg.Gateway.MaxSymbolLen,
			MaxClientIDLen: cfg.Gateway.MaxClientIDLen,
		},
	})
	if err := gw.Listen(cfg.Gateway.ListenAddr); err != nil {
		zap.S().Fatalw("listen", "addr", cfg.Gateway.ListenAddr, "err", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return gw.Serve(gctx) })
	g.Go(func() error { return metrics.Serve(gctx, cfg.Metrics.ListenAddr) })

	if cfg.Gateway.EmbedPublisher {
		sender, err := marketdata.NewMulticastSender(marketdata.MulticastConfig{
			GroupAddr: cfg.Tape.GroupAddr,
			Interface: cfg.Tape.Interface,
			TTL:       cfg.Tape.TTL,
			Loopback:  cfg.Tape.Loopback,
		})
		if err != nil {
			zap.S().Fatalw("open tape sender", "err", err)
		}
		defer sender.Close()
		pub := marketdata.NewPublisher(st, sender, marketdata.WithInterval(cfg.Tape.Interval()))
		g.Go(func() error { return pub.Run(gctx) })
	}

	if cfg.Gateway.EmbedNotifier {
		n := notifier.New(st, notifier.Config{
			Interval:    cfg.Notifier.Interval(),
			ClientPort:  cfg.Notifier.ClientPort,
			DialTimeout: cfg.Notifier.DialTimeout(),
			AckTimeout:  cfg.Notifier.AckTimeout(),
			Concurrency: cfg.Notifier.Concurrency,
		})
		g.Go(func() error { return n.Run(gctx) })
	}

	zap.S().Infow("exchange started", "last_order_id", ex.LastOrderID())
	if err := g.Wait(); err != nil {
		zap.S().Errorw("exchange stopped", "err", err)
		return
	}
	zap.S().Info("exchange exited cleanly")
}
