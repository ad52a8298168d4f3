package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scopedesk/backend/internal/audit"
	"github.com/scopedesk/backend/internal/auth"
	"github.com/scopedesk/backend/internal/completion"
	"github.com/scopedesk/backend/internal/config"
	"github.com/scopedesk/backend/internal/database"
	"github.com/scopedesk/backend/internal/ids"
	"github.com/scopedesk/backend/internal/logging"
	"github.com/scopedesk/backend/internal/presence"
	"github.com/scopedesk/backend/internal/ratelimit"
	"github.com/scopedesk/backend/internal/record"
	"github.com/scopedesk/backend/internal/server"
	"github.com/scopedesk/backend/internal/users"
	"github.com/scopedesk/backend/internal/workspace"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "scopedesk-api",
		Short: "Scopedesk workspace backend service",
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
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("session-ttl-minutes", defaults.GetInt("session.ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().Int("presence-ttl-ms", defaults.GetInt("presence.ttl_ms"), "Presence liveness TTL in milliseconds")
	cmd.PersistentFlags().Int("login-limit", defaults.GetInt("ratelimit.login_max"), "Max auth requests per window")
	cmd.PersistentFlags().Int("login-window-ms", defaults.GetInt("ratelimit.login_window_ms"), "Auth rate limit window in milliseconds")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "session.ttl_minutes", "session-ttl-minutes")
	bindFlag(cmd, "presence.ttl_ms", "presence-ttl-ms")
	bindFlag(cmd, "ratelimit.login_max", "login-limit")
	bindFlag(cmd, "ratelimit.login_window_ms", "login-window-ms")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
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
		// An explicitly requested config file must exist and parse.
		if cfgFile != "" {
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

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	idProvider := ids.NewProvider()
	registry := record.DefaultRegistry()

	sessionManager := auth.NewSessionManager(auth.SessionManagerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "scopedesk-auth",
		Audience:      "scopedesk-api",
		SessionTTL:    appConfig.SessionTTL,
	})

	accountService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
	})
	if err != nil {
		return err
	}

	auditService, err := audit.NewService(audit.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Registry:   registry,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	workspaceService, err := workspace.NewService(workspace.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Directory:  accountService,
		Auditor:    auditService,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	completionService, err := completion.NewService(completion.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Registry: registry,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	presenceTracker, err := presence.NewTracker(presence.TrackerConfig{
		Database:  db,
		Clock:     time.Now,
		Directory: accountService,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	limiter := ratelimit.NewLimiter(ratelimit.LimiterConfig{Clock: time.Now})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:    sessionManager,
		Accounts:    accountService,
		Workspace:   workspaceService,
		Audit:       auditService,
		Completion:  completionService,
		Presence:    presenceTracker,
		Limiter:     limiter,
		PresenceTTL: appConfig.PresenceTTL,
		LoginLimit:  appConfig.LoginLimit,
		LoginWindow: appConfig.LoginWindow,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
