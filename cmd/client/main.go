package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joripage/mini-exchange/config"
	"github.com/joripage/mini-exchange/pkg/client"
	"github.com/joripage/mini-exchange/pkg/logging"
	"github.com/joripage/mini-exchange/pkg/protocol/ogw"
	"github.com/joripage/mini-exchange/pkg/protocol/tape"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const usage = `usage: client [-config-file FILE] <command>

commands:
  buy SYMBOL QTY PRICE
  sell SYMBOL QTY PRICE
  cancel ORDER_ID
  list [--my]
  listen
`

func main() {
	var configFile string
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		panic(err)
	}
	log, _ := logging.Install(cfg.ServiceName, cfg.LogLevel)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cid, err := client.LoadIdentity(cfg.Client.IdentityFile)
	if err != nil {
		zap.S().Fatalw("load identity", "file", cfg.Client.IdentityFile, "err", err)
	}

	cache, err := client.OpenCache(ctx, cfg.Client.CacheDriver, cfg.Client.CacheRedis)
	if err != nil {
		zap.S().Fatalw("open cache", "err", err)
	}
	defer cache.Close()

	sender := client.NewSender(client.SenderConfig{
		GatewayAddr: cfg.Client.GatewayAddr,
		ClientID:    cid,
	}, cache)

	switch cmd := args[0]; cmd {
	case "buy", "sell":
		err = place(ctx, sender, cmd, args[1:])
	case "cancel":
		err = cancel(ctx, sender, args[1:])
	case "list":
		err = list(ctx, cache, args[1:])
	case "listen":
		err = listen(ctx, cfg, cid, cache)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func place(ctx context.Context, s *client.Sender, side string, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("%s needs SYMBOL QTY PRICE", side)
	}
	qty, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil || qty == 0 {
		return fmt.Errorf("invalid quantity %q", args[1])
	}
	price, err := decimal.NewFromString(args[2])
	if err != nil || !price.IsPositive() {
		return fmt.Errorf("invalid price %q", args[2])
	}

	placeFn := s.Buy
	if side == "sell" {
		placeFn = s.Sell
	}
	resp, err := placeFn(ctx, args[0], qty, price)
	if err != nil {
		return err
	}
	fmt.Printf("order %d accepted at %s\n", resp.OrderID, formatTs(resp.ServerTimestamp))
	return nil
}

func cancel(ctx context.Context, s *client.Sender, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("cancel needs ORDER_ID")
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("invalid order id %q", args[0])
	}
	resp, err := s.Cancel(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("order %d cancelled (request %d)\n", id, resp.OrderID)
	return nil
}

func list(ctx context.Context, cache client.Cache, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	mine := fs.Bool("my", false, "only orders placed by this client")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		entries []tape.Entry
		err     error
	)
	if *mine {
		entries, err = cache.Mine(ctx)
	} else {
		entries, err = cache.All(ctx)
	}
	if err != nil {
		return err
	}

	fmt.Printf("%-10s %-10s %-5s %12s %10s\n", "ID", "SYMBOL", "SIDE", "PRICE", "QTY")
	for _, e := range entries {
		fmt.Printf("%-10d %-10s %-5s %12s %10d\n", e.OrderID, e.Symbol, e.Side, e.Price.StringFixed(2), e.Qty)
	}
	return nil
}

func listen(ctx context.Context, cfg *config.AppConfig, cid string, cache client.Cache) error {
	ln, err := net.Listen("tcp", cfg.Client.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen for executions: %w", err)
	}
	tapeConn, err := client.JoinTape(cfg.Client.TapeGroupAddr, cfg.Client.TapeInterface)
	if err != nil {
		ln.Close()
		return err
	}

	mux := client.NewMultiplexer(ln, tapeConn, cache, client.MultiplexerConfig{
		MaxPeers: cfg.Client.MaxPeers,
		OnExecution: func(n ogw.Notification) {
			fmt.Printf("executed: order %d placed %s executed %s\n",
				n.OrderID, formatTs(n.TsPlaced), formatTs(n.TsExecuted))
		},
	})

	fmt.Printf("client %s listening for executions on %s and tape %s\n", cid, cfg.Client.ListenAddr, cfg.Client.TapeGroupAddr)
	return mux.Run(ctx)
}

// formatTs renders nanoseconds since midnight as a wall clock time.
func formatTs(ns uint64) string {
	return time.Time{}.Add(time.Duration(ns)).Format("15:04:05.000000000")
}
