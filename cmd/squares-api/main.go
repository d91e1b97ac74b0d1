package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/squares/internal/achievements"
	"github.com/MarcoPoloResearchLab/squares/internal/auth"
	"github.com/MarcoPoloResearchLab/squares/internal/challenges"
	"github.com/MarcoPoloResearchLab/squares/internal/config"
	"github.com/MarcoPoloResearchLab/squares/internal/database"
	"github.com/MarcoPoloResearchLab/squares/internal/engine"
	"github.com/MarcoPoloResearchLab/squares/internal/leaderboard"
	"github.com/MarcoPoloResearchLab/squares/internal/logging"
	"github.com/MarcoPoloResearchLab/squares/internal/notifications"
	"github.com/MarcoPoloResearchLab/squares/internal/presence"
	"github.com/MarcoPoloResearchLab/squares/internal/server"
	"github.com/MarcoPoloResearchLab/squares/internal/social"
	"github.com/MarcoPoloResearchLab/squares/internal/square"
	"github.com/MarcoPoloResearchLab/squares/internal/teams"
	"github.com/MarcoPoloResearchLab/squares/internal/users"
	"github.com/MarcoPoloResearchLab/squares/internal/xp"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "squares-api",
		Short: "Squares venue gamification service",
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
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before configuration")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("allowed-origins", defaults.GetString("http.allowed_origins"), "Comma separated CORS origins")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Postgres DSN")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().Duration("presence-ttl", defaults.GetDuration("presence.ttl"), "Default check-in lifetime")
	cmd.PersistentFlags().Duration("presence-max-ttl", defaults.GetDuration("presence.max_ttl"), "Longest check-in lifetime a client may request")
	cmd.PersistentFlags().Duration("compaction-interval", defaults.GetDuration("presence.compaction_interval"), "Expired presence cleanup interval (0 disables)")
	cmd.PersistentFlags().String("xp-timezone", defaults.GetString("xp.timezone"), "Time zone of daily XP caps")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address for notification fan-out (empty disables)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
	bindFlag(cmd, "presence.ttl", "presence-ttl")
	bindFlag(cmd, "presence.max_ttl", "presence-max-ttl")
	bindFlag(cmd, "presence.compaction_interval", "compaction-interval")
	bindFlag(cmd, "xp.timezone", "xp-timezone")
	bindFlag(cmd, "redis.address", "redis-address")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
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

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := square.NewStore(square.StoreConfig{
		Database:         db,
		OperationTimeout: appConfig.OperationTimeout,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	ids := square.NewUUIDProvider()

	dispatcher := notifications.NewDispatcher()
	broadcasters := []notifications.Broadcaster{dispatcher}
	var redisRelay *notifications.RedisBroadcaster
	if appConfig.RedisAddress != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     appConfig.RedisAddress,
			Password: appConfig.RedisPassword,
			DB:       appConfig.RedisDB,
		})
		defer redisClient.Close()
		redisRelay = notifications.NewRedisBroadcaster(redisClient, appConfig.RedisChannelPrefix, logger)
		broadcasters = append(broadcasters, redisRelay)
		logger.Info("redis notification fan-out enabled", zap.String("address", appConfig.RedisAddress))
	}

	presenceService, err := presence.NewService(presence.ServiceConfig{
		Store:      store,
		Clock:      time.Now,
		Logger:     logger,
		DefaultTTL: appConfig.PresenceTTL,
	})
	if err != nil {
		return err
	}
	ledger, err := xp.NewService(xp.ServiceConfig{
		Store:    store,
		Clock:    time.Now,
		Location: appConfig.XPLocation,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	board, err := leaderboard.NewService(ledger)
	if err != nil {
		return err
	}
	evaluator, err := achievements.NewEvaluator(achievements.EvaluatorConfig{
		Store:  store,
		Probe:  achievements.NewProbe(ledger, board),
		Clock:  time.Now,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	teamService, err := teams.NewService(teams.ServiceConfig{
		Store:      store,
		Clock:      time.Now,
		IDProvider: ids,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	fanout, err := notifications.NewService(notifications.ServiceConfig{
		Store:        store,
		Clock:        time.Now,
		IDProvider:   ids,
		Logger:       logger,
		Capacity:     appConfig.NotificationCapacity,
		Broadcasters: broadcasters,
	})
	if err != nil {
		return err
	}
	workflow, err := challenges.NewWorkflow(challenges.WorkflowConfig{
		Store:      store,
		Notifier:   fanout,
		Clock:      time.Now,
		IDProvider: ids,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	friendGraph, err := social.NewGraph(db, logger)
	if err != nil {
		return err
	}
	userService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	squaresEngine, err := engine.New(engine.Config{
		Store:         store,
		Presence:      presenceService,
		Ledger:        ledger,
		Leaderboard:   board,
		Achievements:  evaluator,
		Teams:         teamService,
		Challenges:    workflow,
		Notifications: fanout,
		Friends:       friendGraph,
		Directory:     userService,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSigningKey),
		Issuer:        appConfig.SessionIssuer,
		CookieName:    appConfig.SessionCookieName,
		Leeway:        appConfig.SessionLeeway,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Engine:         squaresEngine,
		Sessions:       sessionValidator,
		Users:          userService,
		Stream:         dispatcher,
		Logger:         logger,
		AllowedOrigins: appConfig.AllowedOrigins,
		MaxCheckInTTL:  appConfig.PresenceMaxTTL,
	})
	if err != nil {
		return err
	}

	if appConfig.PresenceCompactionInterval > 0 {
		compactor, err := presence.NewCompactor(presenceService, appConfig.PresenceCompactionInterval, logger)
		if err != nil {
			return err
		}
		compactor.Start()
		defer func() {
			if err := compactor.Stop(); err != nil {
				logger.Warn("presence compactor shutdown failed", zap.Error(err))
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if redisRelay != nil {
		go func() {
			if err := redisRelay.Relay(signalCtx, dispatcher); err != nil {
				logger.Error("redis notification relay stopped", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
