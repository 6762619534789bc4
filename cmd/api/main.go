package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/walletgate/server/internal/auth"
	"github.com/walletgate/server/internal/clock"
	"github.com/walletgate/server/internal/config"
	"github.com/walletgate/server/internal/db"
	"github.com/walletgate/server/internal/grant"
	httphandler "github.com/walletgate/server/internal/http"
	"github.com/walletgate/server/internal/http/handlers"
	"github.com/walletgate/server/internal/interaction"
	"github.com/walletgate/server/internal/messenger"
	"github.com/walletgate/server/internal/messenger/discord"
	"github.com/walletgate/server/internal/messenger/telegram"
	"github.com/walletgate/server/internal/repo"
	"github.com/walletgate/server/internal/verify"
)

func main() {
	envFile := pflag.String("env-file", ".env", "dotenv file to load before reading the environment")
	checkSetup := pflag.Bool("check-setup", false, "verify the messenger configuration and exit")
	pflag.Parse()

	// Env vars already set take precedence over the file
	_ = godotenv.Load(*envFile)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	clk := clock.Real()
	interactions := interaction.NewRegistry(clk, interaction.DefaultTTL)

	platform, err := newPlatform(cfg, interactions, clk, logger)
	if err != nil {
		logger.Error("failed to create messenger", "messenger", cfg.Messenger, "error", err)
		os.Exit(1)
	}

	if *checkSetup {
		os.Exit(runCheckSetup(cfg, platform))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	verificationRepo, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// A messenger that fails to connect only disables grants; verification keeps working
	var grantMessenger grant.Messenger
	if platform != nil {
		if err := platform.Open(); err != nil {
			logger.Error("failed to connect messenger", "messenger", cfg.Messenger, "error", err)
		}
		defer platform.Close()
		grantMessenger = platform
	}

	var signer verify.ReceiptSigner
	var receipts *auth.ReceiptService
	if cfg.ReceiptSecret != "" {
		receipts = auth.NewReceiptService(cfg.ReceiptSecret, cfg.ReceiptTTL, clk)
		signer = receipts
	}

	grantAdapter := grant.NewAdapter(grantMessenger, interactions, logger)
	verifyService := verify.NewService(verificationRepo, auth.NewChallengeIssuer(), grantAdapter, signer, clk, logger)
	verifyHandler := handlers.NewVerifyHandler(verifyService, logger)

	limiters := httphandler.NewLimiters(clk)
	go limiters.Initiate.Run(ctx, time.Minute)
	go limiters.Complete.Run(ctx, time.Minute)
	go sweepInteractions(ctx, interactions, logger)

	routerOpts := httphandler.Options{Limiters: limiters, TrustProxy: cfg.TrustProxy}
	if receipts != nil {
		routerOpts.Receipts = receipts
	}
	router := httphandler.NewRouter(verifyHandler, routerOpts)

	// WriteTimeout leaves room for the grant's platform calls inside Complete
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port, "store", cfg.StoreDriver, "messenger", cfg.Messenger)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed to start", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server exited")
}

// newPlatform builds the configured chat platform client; nil for MESSENGER=none
func newPlatform(cfg *config.Config, interactions *interaction.Registry, clk clock.Clock, logger *slog.Logger) (messenger.Platform, error) {
	switch cfg.Messenger {
	case config.MessengerDiscord:
		return discord.New(discord.Config{
			Token:              cfg.DiscordToken,
			GuildID:            cfg.GuildID,
			RoleID:             cfg.VerifiedRoleID,
			ChannelID:          cfg.VerificationChannelID,
			Announce:           cfg.AnnounceOnStart,
			VerificationServer: cfg.VerificationServer,
		}, interactions, clk, logger)
	case config.MessengerTelegram:
		return telegram.New(telegram.Config{
			Token:              cfg.TelegramToken,
			ChatID:             cfg.TelegramChatID,
			VerificationServer: cfg.VerificationServer,
		}, interactions, logger)
	default:
		return nil, nil
	}
}

// openStore opens the verification store selected by STORE_DRIVER
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repo.VerificationRepo, func(), error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		database, err := db.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(database); err != nil {
			database.Close()
			return nil, nil, err
		}
		return repo.NewPostgresVerificationRepo(database), func() { database.Close() }, nil
	case config.StoreBolt:
		bdb, err := db.OpenBolt(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		r, err := repo.NewBoltVerificationRepo(bdb)
		if err != nil {
			bdb.Close()
			return nil, nil, err
		}
		logger.Info("bolt store opened", "path", cfg.BoltPath)
		return r, func() { bdb.Close() }, nil
	default:
		logger.Warn("using in-memory store; verifications are lost on restart")
		return repo.NewMemoryVerificationRepo(), func() {}, nil
	}
}

func runCheckSetup(cfg *config.Config, platform messenger.Platform) int {
	fmt.Printf("Checking setup (store=%s, messenger=%s)\n", cfg.StoreDriver, cfg.Messenger)
	if platform == nil {
		fmt.Println("messenger disabled; nothing to check")
		return 0
	}
	defer platform.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if !messenger.PrintChecks(os.Stdout, platform.CheckSetup(ctx)) {
		fmt.Println("Setup check failed.")
		return 1
	}
	fmt.Println("Setup verification complete. All systems are ready.")
	return 0
}

func sweepInteractions(ctx context.Context, interactions *interaction.Registry, logger *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := interactions.Sweep(); n > 0 {
				logger.Debug("expired interactions removed", "count", n)
			}
		}
	}
}
