package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joripage/mini-exchange/config"
	"github.com/joripage/mini-exchange/pkg/logging"
	"github.com/joripage/mini-exchange/pkg/metrics"
	"github.com/joripage/mini-exchange/pkg/notifier"
	"github.com/joripage/mini-exchange/pkg/store"
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
	log, _ := logging.Install(cfg.ServiceName, cfg.LogLevel)
	defer log.Sync()

	if cfg.Store.Driver == config.StoreDriverMemory {
		zap.S().Fatal("the standalone notifier needs the shared redis store")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Redis)
	if err != nil {
		zap.S().Fatalw("open store", "err", err)
	}
	defer st.Close()

	n := notifier.New(st, notifier.Config{
		Interval:    cfg.Notifier.Interval(),
		ClientPort:  cfg.Notifier.ClientPort,
		DialTimeout: cfg.Notifier.DialTimeout(),
		AckTimeout:  cfg.Notifier.AckTimeout(),
		Concurrency: cfg.Notifier.Concurrency,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.Run(gctx) })
	g.Go(func() error { return metrics.Serve(gctx, cfg.Metrics.ListenAddr) })

	if err := g.Wait(); err != nil {
		zap.S().Errorw("notifier stopped", "err", err)
	}
}
