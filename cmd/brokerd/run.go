package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	cli "github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/sparkswap-broker/params"
	"github.com/uhyunpark/sparkswap-broker/pkg/api"
	"github.com/uhyunpark/sparkswap-broker/pkg/blockorder"
	"github.com/uhyunpark/sparkswap-broker/pkg/crypto"
	"github.com/uhyunpark/sparkswap-broker/pkg/engine"
	"github.com/uhyunpark/sparkswap-broker/pkg/interchain"
	"github.com/uhyunpark/sparkswap-broker/pkg/relayer"
	"github.com/uhyunpark/sparkswap-broker/pkg/storage"
	"github.com/uhyunpark/sparkswap-broker/pkg/util"
)

var runCmd = &cli.Command{
	Name:    "run",
	Aliases: []string{"s"},
	Usage:   "Run the daemon",
	Action: func(c *cli.Context) error {
		cfg, err := params.LoadFromEnv(c.String("env-file"))
		if err != nil {
			return err
		}
		// Flags override the environment
		if v := c.String("data-dir"); v != "" {
			cfg.Node.DataDir = v
		}
		if v := c.String("api-addr"); v != "" {
			cfg.API.Addr = v
		}
		if v := c.String("log-file"); v != "" {
			cfg.Node.LogFile = v
		}
		if v := c.String("log-level"); v != "" {
			cfg.Node.LogLevel = v
		}
		return run(c.Context, cfg)
	},
}

func newLogger(cfg params.Node) (*zap.Logger, error) {
	if cfg.LogFile == "" {
		return util.NewLogger(cfg.LogLevel)
	}
	return util.NewLoggerWithFile(cfg.LogFile, cfg.LogLevel)
}

func run(parent context.Context, cfg params.Config) error {
	logger, err := newLogger(cfg.Node)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", cfg.Node.LogLevel)

	if cfg.Relayer.IdentityKey == "" {
		return errors.New("RELAYER_IDENTITY_KEY is not set; generate one with `brokerd keygen`")
	}
	signer, err := crypto.FromPrivateKeyHex(cfg.Relayer.IdentityKey)
	if err != nil {
		return fmt.Errorf("relayer identity: %w", err)
	}
	if len(cfg.Engines) == 0 {
		return errors.New("no engines configured; set ENGINES=SYMBOL=url,...")
	}

	// ---- Storage ----
	store, err := storage.NewStore(filepath.Join(cfg.Node.DataDir, "broker"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	// ---- Engines and relayer ----
	var engines []engine.Engine
	for _, e := range cfg.Engines {
		engines = append(engines, engine.NewClient(e.Symbol, e.URL, e.SecondsPerBlock))
		sugar.Infow("engine_configured", "symbol", e.Symbol, "url", e.URL, "seconds_per_block", e.SecondsPerBlock)
	}
	registry := engine.NewRegistry(engines...)

	clock := util.RealClock{}
	identity := relayer.NewIdentity(signer, clock)
	relayerClient := relayer.NewRemoteClient(cfg.Relayer.HTTPURL, cfg.Relayer.WSURL, sugar)
	sugar.Infow("relayer_configured", "http", cfg.Relayer.HTTPURL, "ws", cfg.Relayer.WSURL, "public_key", identity.PublicKey())

	router := interchain.NewRouter(
		interchain.WithRetryDelay(cfg.Settlement.RetryDelay),
		interchain.WithClock(clock),
		interchain.WithLogger(sugar),
	)

	// ---- Block orders ----
	hub := api.NewHub(sugar.Named("api"))
	worker := blockorder.NewWorker(blockorder.Config{
		Store:             store,
		Engines:           registry,
		Relayer:           relayerClient,
		Identity:          identity,
		Router:            router,
		Logger:            sugar,
		Clock:             clock,
		ExecuteTimeout:    cfg.Settlement.ExecuteTimeout,
		RetryDelay:        cfg.Settlement.RetryDelay,
		FillRetryAttempts: cfg.Settlement.FillRetryAttempts,
		OnChange:          hub.Publish,
	})
	defer worker.Close()

	if err := worker.Initialize(); err != nil {
		return fmt.Errorf("initialize block orders: %w", err)
	}

	preimages := interchain.NewPreimageHandler(worker, registry,
		interchain.WithTimeLockMargin(cfg.Settlement.TimeLockMargin),
		interchain.WithPreimageClock(clock),
		interchain.WithPreimageLogger(sugar),
	)

	// ---- API Server ----
	apiServer := api.NewServer(api.Config{
		Broker:         worker,
		Preimages:      preimages,
		Hub:            hub,
		Logger:         sugar,
		AllowedOrigins: cfg.API.AllowedOrigins,
		RequestTimeout: cfg.API.RequestTimeout,
	})

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := apiServer.Start(ctx, cfg.API.Addr)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		sugar.Infow("broker_stopping")
		return nil
	})

	sugar.Infow("broker_started", "api_addr", cfg.API.Addr, "engines", registry.Symbols())
	return g.Wait()
}
