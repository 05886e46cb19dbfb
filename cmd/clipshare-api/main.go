package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/clipshare/internal/auth"
	"github.com/MarcoPoloResearchLab/clipshare/internal/clips"
	"github.com/MarcoPoloResearchLab/clipshare/internal/config"
	"github.com/MarcoPoloResearchLab/clipshare/internal/database"
	"github.com/MarcoPoloResearchLab/clipshare/internal/ids"
	"github.com/MarcoPoloResearchLab/clipshare/internal/logging"
	"github.com/MarcoPoloResearchLab/clipshare/internal/media"
	"github.com/MarcoPoloResearchLab/clipshare/internal/metrics"
	"github.com/MarcoPoloResearchLab/clipshare/internal/moderation"
	"github.com/MarcoPoloResearchLab/clipshare/internal/server"
	"github.com/MarcoPoloResearchLab/clipshare/internal/uploads"
	"github.com/MarcoPoloResearchLab/clipshare/internal/users"
)

const (
	tokenIssuer     = "clipshare-auth"
	tokenAudience   = "clipshare-api"
	shutdownTimeout = 10 * time.Second
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clipshare-api",
		Short: "Clip sharing backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(&cobra.Command{
		Use:   "seed-admin",
		Short: "Create or promote the configured administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeedAdmin(cmd.Context())
		},
	})

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
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "Postgres connection string")
	cmd.PersistentFlags().String("storage-backend", defaults.GetString("storage.backend"), "Media storage backend (local, s3, database)")
	cmd.PersistentFlags().String("storage-dir", defaults.GetString("storage.local.dir"), "Directory for the local media backend")
	cmd.PersistentFlags().Int64("max-upload-bytes", defaults.GetInt64("upload.max_bytes"), "Maximum video size in bytes")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "storage.backend", "storage-backend")
	bindFlag(cmd, "storage.local.dir", "storage-dir")
	bindFlag(cmd, "upload.max_bytes", "max-upload-bytes")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
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
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// application holds the wired service graph shared by the server and the admin seeding command.
type application struct {
	config     config.AppConfig
	logger     *zap.Logger
	db         *gorm.DB
	store      media.Store
	cleaner    *media.Cleaner
	metrics    *metrics.Metrics
	users      *users.Service
	clips      *clips.Service
	uploads    *uploads.Service
	moderation *moderation.Service
	realtime   *server.AuditDispatcher
}

func newApplication(ctx context.Context) (*application, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogEncoding)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return nil, err
	}

	store, err := media.Open(ctx, appConfig.Storage, db)
	if err != nil {
		return nil, err
	}

	collectors := metrics.New()
	cleaner := media.NewCleaner(store, logger, collectors)
	idProvider := ids.NewUUIDProvider()

	clipService, err := clips.NewService(clips.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
		Cleaner:    cleaner,
	})
	if err != nil {
		return nil, err
	}

	userService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
		Content:    clipService,
		Cleaner:    cleaner,
	})
	if err != nil {
		return nil, err
	}

	uploadService, err := uploads.NewService(uploads.ServiceConfig{
		Store:          store,
		Clips:          clipService,
		Cleaner:        cleaner,
		MaxBytes:       appConfig.MaxUploadBytes,
		AllowedFormats: appConfig.AllowedFormats,
		Clock:          time.Now,
		Logger:         logger,
		Metrics:        collectors,
	})
	if err != nil {
		return nil, err
	}

	dispatcher := server.NewAuditDispatcher()
	moderationService, err := moderation.NewService(moderation.ServiceConfig{
		Database:   db,
		Clips:      clipService,
		Users:      userService,
		Cleaner:    cleaner,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
		Metrics:    collectors,
		Notifier:   dispatcher,
	})
	if err != nil {
		return nil, err
	}

	return &application{
		config:     appConfig,
		logger:     logger,
		db:         db,
		store:      store,
		cleaner:    cleaner,
		metrics:    collectors,
		users:      userService,
		clips:      clipService,
		uploads:    uploadService,
		moderation: moderationService,
		realtime:   dispatcher,
	}, nil
}

func (a *application) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.logger.Sync()
}

// seedAdmin ensures the configured administrator exists. It is a no-op when admin
// credentials are not configured.
func (a *application) seedAdmin(ctx context.Context) error {
	if a.config.AdminEmail == "" || a.config.AdminPassword == "" {
		return nil
	}
	hash, err := auth.HashPassword(a.config.AdminPassword)
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	admin, created, err := a.users.EnsureAdmin(ctx, users.NewUser{
		Email:        a.config.AdminEmail,
		Name:         a.config.AdminName,
		PasswordHash: hash,
	})
	if err != nil {
		return err
	}
	a.logger.Info("administrator ensured",
		zap.String("user_id", admin.ID),
		zap.String("email", admin.Email),
		zap.Bool("created", created),
	)
	return nil
}

func runSeedAdmin(ctx context.Context) error {
	app, err := newApplication(ctx)
	if err != nil {
		return err
	}
	defer app.close()
	if app.config.AdminEmail == "" || app.config.AdminPassword == "" {
		return errors.New("seed admin: admin.email and admin.password must be configured")
	}
	return app.seedAdmin(ctx)
}

func runServer(ctx context.Context) error {
	app, err := newApplication(ctx)
	if err != nil {
		return err
	}
	defer app.close()

	if err := app.seedAdmin(ctx); err != nil {
		return err
	}

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(app.config.SigningSecret),
		Issuer:        tokenIssuer,
		Audience:      tokenAudience,
		TokenTTL:      app.config.TokenTTL,
	})
	if err != nil {
		return err
	}
	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(app.config.SigningSecret),
		Issuer:        tokenIssuer,
		Audience:      tokenAudience,
		CookieName:    app.config.CookieName,
	})
	if err != nil {
		return err
	}
	authenticator, err := auth.NewCredentialsAuthenticator(app.users, tokenManager, app.logger)
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:       sessionValidator,
		Authenticator:  authenticator,
		Users:          app.users,
		Clips:          app.clips,
		Uploads:        app.uploads,
		Moderation:     app.moderation,
		Store:          app.store,
		Cleaner:        app.cleaner,
		Metrics:        app.metrics,
		Realtime:       app.realtime,
		Logger:         app.logger,
		AllowedOrigins: app.config.AllowedOrigins,
		CookieSecure:   app.config.CookieSecure,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", app.config.HTTPAddress)
	if err != nil {
		return err
	}
	app.logger.Info("server starting",
		zap.String("address", listener.Addr().String()),
		zap.String("storage_backend", app.config.Storage.Backend),
	)
	return serve(signalCtx, listener, handler, shutdownTimeout)
}

// serve runs handler on listener until ctx ends, then shuts down gracefully. Request
// contexts derive from ctx so long-lived streams such as /admin/events end with it.
func serve(ctx context.Context, listener net.Listener, handler http.Handler, timeout time.Duration) error {
	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		err := httpServer.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
