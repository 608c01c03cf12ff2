package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/peakstranding/internal/auth"
	"github.com/MarcoPoloResearchLab/peakstranding/internal/config"
	"github.com/MarcoPoloResearchLab/peakstranding/internal/database"
	"github.com/MarcoPoloResearchLab/peakstranding/internal/likes"
	"github.com/MarcoPoloResearchLab/peakstranding/internal/logging"
	"github.com/MarcoPoloResearchLab/peakstranding/internal/metrics"
	"github.com/MarcoPoloResearchLab/peakstranding/internal/ratelimit"
	"github.com/MarcoPoloResearchLab/peakstranding/internal/server"
	"github.com/MarcoPoloResearchLab/peakstranding/internal/structures"
	"github.com/MarcoPoloResearchLab/peakstranding/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	shutdownTimeout = 10 * time.Second
	sweepInterval   = time.Minute
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "peakstranding-api",
		Short: "Peak Stranding structure sharing service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "SQLite path or PostgreSQL DSN")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Int("steam-app-id", defaults.GetInt("steam.app_id"), "Steam app id")
	cmd.PersistentFlags().String("steam-web-api-key", "", "Steam publisher Web API key (overrides env)")
	cmd.PersistentFlags().Bool("skip-ticket-validation", defaults.GetBool("steam.skip_ticket_validation"), "Treat tickets as raw numeric Steam ids")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "steam.app_id", "steam-app-id")
	bindFlag(cmd, "steam.web_api_key", "steam-web-api-key")
	bindFlag(cmd, "steam.skip_ticket_validation", "skip-ticket-validation")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	gin.SetMode(gin.ReleaseMode)

	registry, err := metrics.New()
	if err != nil {
		return err
	}

	db, err := database.Open(database.OpenConfig{
		Driver:       appConfig.DatabaseDriver,
		DSN:          appConfig.DatabaseDSN,
		MaxOpenConns: appConfig.DatabaseMaxOpenConns,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	resolverConfig := users.ResolverConfig{
		SkipVerification: appConfig.SkipTicketValidation,
		Logger:           logger,
		Metrics:          registry,
	}
	if appConfig.SkipTicketValidation {
		logger.Warn("steam ticket validation disabled; tickets are trusted as raw steam ids")
	} else {
		verifier, err := auth.NewSteamVerifier(auth.SteamVerifierConfig{
			APIURL:    appConfig.SteamAPIURL,
			WebAPIKey: appConfig.SteamWebAPIKey,
			AppID:     appConfig.SteamAppID,
			Timeout:   appConfig.SteamTimeout,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		resolverConfig.Verifier = verifier
	}
	resolver, err := users.NewResolver(resolverConfig)
	if err != nil {
		return err
	}

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		Cooldowns: ratelimit.Cooldowns{
			Submit: appConfig.Limits.PostStructureCooldown,
			Sample: appConfig.Limits.GetStructureCooldown,
			Like:   appConfig.Limits.PostLikeCooldown,
		},
		Logger:  logger,
		Metrics: registry,
	})

	structureService, err := structures.NewService(structures.ServiceConfig{
		Database: db,
		Limits:   appConfig.Limits,
		Clock:    time.Now,
		Timeout:  appConfig.DatabaseTimeout,
		Logger:   logger,
		Metrics:  registry,
	})
	if err != nil {
		return err
	}

	ledger, err := likes.NewLedger(likes.LedgerConfig{
		Database: db,
		Timeout:  appConfig.DatabaseTimeout,
		Logger:   logger,
		Metrics:  registry,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Resolver:   resolver,
		Limiter:    limiter,
		Structures: structureService,
		Likes:      ledger,
		Health:     sqlDB,
		Metrics:    registry,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         appConfig.HTTPAddress,
		Handler:      handler,
		ReadTimeout:  appConfig.HTTPReadTimeout,
		WriteTimeout: appConfig.HTTPWriteTimeout,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go limiter.RunSweeper(signalCtx, sweepInterval)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("database_driver", appConfig.DatabaseDriver))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
