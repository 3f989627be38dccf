// Command marketd runs a marketplace registry and escrow node.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/tolelom/tolmarket/config"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/indexer"
	"github.com/tolelom/tolmarket/metrics"
	"github.com/tolelom/tolmarket/oracle"
	"github.com/tolelom/tolmarket/rpc"
	"github.com/tolelom/tolmarket/storage"
	"github.com/tolelom/tolmarket/vm"
	"github.com/tolelom/tolmarket/vm/modules/market"
)

func main() {
	app := &cli.App{
		Name:  "marketd",
		Usage: "marketplace registry and escrow node",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "start the node",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "marketd.json", Usage: "path to config file (json, yaml or toml)"},
				},
				Action: run,
			},
			{
				Name:  "init-config",
				Usage: "write the default config to a file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Value: "marketd.json", Usage: "destination file"},
				},
				Action: initConfig,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func initConfig(c *cli.Context) error {
	out := c.String("out")
	if _, err := os.Stat(out); err == nil {
		return fmt.Errorf("%s already exists", out)
	}
	if err := config.Save(config.DefaultConfig(), out); err != nil {
		return err
	}
	fmt.Printf("Wrote default config to %s\n", out)
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Warnf("Config file not found at %s, using defaults.", path)
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func run(c *cli.Context) error {
	// ---- load config ----
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	level, _ := log.ParseLevel(cfg.LogLevel)
	log.SetLevel(level)
	vault, err := cfg.Market()
	if err != nil {
		return err
	}

	// ---- open DB ----
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "market"))
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	// ---- genesis (if fresh store) ----
	state := storage.NewStateDB(db)
	if _, err := config.InitGenesis(cfg, state); err != nil {
		return fmt.Errorf("genesis: %w", err)
	}

	// ---- events + indexer ----
	emitter := events.NewEmitter()
	idx := indexer.New(db, emitter)

	// ---- executor ----
	// Asset and payment contracts are served by the in-process ledgers.
	dev := &rpc.DevOracles{Assets: oracle.NewAssetLedger(), Payments: oracle.NewPaymentLedger()}
	exec := vm.NewExecutor(state, emitter, vm.Env{Assets: dev.Assets, Payments: dev.Payments, Market: vault})
	rec := metrics.NewRecorder()
	exec.SetMetrics(rec)
	svc := market.NewService(exec)

	n, err := svc.NumListings()
	if err != nil {
		return err
	}
	rec.SetActiveListings(n)
	impl, schema, err := svc.CurrentImplementation()
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"implementation": impl, "schema": schema, "listings": n}).Info("market loaded")

	// ---- RPC ----
	handler := rpc.NewHandler(svc, idx)
	handler.SetMetrics(rec)
	if cfg.DevMode {
		handler.EnableDev(dev)
		log.Warn("dev mode: dev_* RPC methods enabled")
	}
	rpcAddr := fmt.Sprintf(":%d", cfg.RPCPort)
	rpcServer := rpc.NewServer(rpcAddr, handler, rpc.Options{
		AuthToken: cfg.RPCAuthToken,
		RateLimit: cfg.RPCRateLimit,
		RateBurst: cfg.RPCRateBurst,
		Metrics:   rec.Handler(),
	})
	if err := rpcServer.Start(); err != nil {
		return fmt.Errorf("rpc start: %w", err)
	}
	if cfg.RPCAuthToken != "" {
		log.Info("RPC Bearer token authentication enabled")
	} else {
		log.Warn("dev mode: market_sendCall accepts any caller without a token")
	}

	// ---- graceful shutdown ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("Shutting down...")

	// Stop RPC before the deferred db.Close so no call commits mid-close.
	if err := rpcServer.Stop(); err != nil {
		log.Warnf("rpc stop: %v", err)
	}
	log.Info("Shutdown complete.")
	return nil
}
