package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"roundlottery/internal/alert"
	"roundlottery/internal/config"
	"roundlottery/internal/handlers"
	"roundlottery/internal/ledger"
	"roundlottery/internal/metrics"
	"roundlottery/internal/services"
	"roundlottery/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

var configPath = flag.String("config", "", "path to an optional config file (yaml, toml or json)")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var logOut io.Writer = io.Discard
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logOut = f
	}
	defer logger.Init("roundlottery", cfg.Log.Verbose, false, logOut).Close()

	if err := run(cfg); err != nil {
		logger.Fatalf("%v", err)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Storage
	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	rounds := store.New(db)
	defer rounds.Close()
	if err := rounds.Migrate(ctx); err != nil {
		return err
	}

	// 2. Ledger: the token contract when an RPC endpoint is configured,
	// otherwise transfers are only logged.
	var payouts ledger.Client
	if cfg.Ledger.RPCURL != "" {
		erc20, err := ledger.DialERC20(ctx, cfg.Ledger.RPCURL, cfg.Ledger.TokenAddress, cfg.Ledger.PrivateKey, cfg.Ledger.Decimals)
		if err != nil {
			return fmt.Errorf("connecting ledger: %w", err)
		}
		defer erc20.Close()
		payouts = erc20
	} else {
		logger.Warning("No ledger RPC configured, payouts run in dry-run mode")
		payouts = ledger.NewDryRun(cfg.Ledger.Decimals)
	}

	// 3. Operator alerts
	notifiers := alert.Multi{alert.LogNotifier{}}
	if cfg.Alerts.TelegramToken != "" {
		tg, err := alert.NewTelegram(cfg.Alerts.TelegramToken, cfg.Alerts.TelegramChatID)
		if err != nil {
			return fmt.Errorf("connecting telegram: %w", err)
		}
		notifiers = append(notifiers, tg)
	}

	// 4. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 5. Round engine and scheduler
	lotteryService := services.NewLotteryService(rounds, payouts, notifiers, m, services.Options{
		RoundWindow:        cfg.Lottery.RoundWindow,
		EntryIncrement:     cfg.Lottery.EntryIncrement,
		PayoutTimeout:      cfg.Ledger.Timeout,
		StaleDrawAfter:     cfg.Lottery.StaleDrawAfter,
		HistoryLimit:       cfg.Lottery.HistoryLimit,
		RecentParticipants: cfg.Lottery.RecentParticipants,
	})
	scheduler := services.NewScheduler(lotteryService, cfg.Lottery.TickInterval)

	// 6. HTTP API
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestID(), handlers.CORS(cfg.Server.AllowedOrigins))
	httpHandler := handlers.NewHTTPHandler(lotteryService, handlers.NewAdminAuth(cfg.Admin.User, cfg.Admin.Pass),
		handlers.PublicConfig{
			TokenAddress:      cfg.Ledger.TokenAddress,
			CollectionAddress: cfg.Ledger.CollectionAddress,
		},
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpHandler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		logger.Infof("Server starting on http://localhost%s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		logger.Info("Shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
