package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/config"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/database"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/jobs"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/llm"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/server"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/storage"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "alias-api",
		Short: "Alias chat and job board backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply schema changes and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrations()
		},
	})

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
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, mysql, postgres)")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Database DSN or SQLite path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("storage-driver", defaults.GetString("storage.driver"), "Object storage driver (bolt, gridfs)")
	cmd.PersistentFlags().String("storage-path", defaults.GetString("storage.path"), "Bolt object store path")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "storage.driver", "storage-driver")
	bindFlag(cmd, "storage.path", "storage-path")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
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

// openDatabase loads configuration, builds the logger and opens and
// migrates the database. The returned close func releases both.
func openDatabase() (config.AppConfig, *zap.Logger, *gorm.DB, func(), error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return config.AppConfig{}, nil, nil, nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return config.AppConfig{}, nil, nil, nil, err
	}

	db, err := database.Open(database.Config{
		Driver:       appConfig.DatabaseDriver,
		DSN:          appConfig.DatabaseDSN,
		MaxOpenConns: appConfig.DatabaseMaxOpenConns,
	}, logger)
	if err != nil {
		_ = logger.Sync()
		return config.AppConfig{}, nil, nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		_ = logger.Sync()
		return config.AppConfig{}, nil, nil, nil, err
	}
	if err := database.Migrate(db, logger); err != nil {
		_ = sqlDB.Close()
		_ = logger.Sync()
		return config.AppConfig{}, nil, nil, nil, err
	}

	closeAll := func() {
		_ = sqlDB.Close()
		_ = logger.Sync()
	}
	return appConfig, logger, db, closeAll, nil
}

func runMigrations() error {
	_, logger, _, closeAll, err := openDatabase()
	if err != nil {
		return err
	}
	defer closeAll()
	logger.Info("migrations applied")
	return nil
}

func runServer(ctx context.Context) error {
	appConfig, logger, db, closeAll, err := openDatabase()
	if err != nil {
		return err
	}
	defer closeAll()

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	userService, err := users.NewService(users.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}
	credentials, err := auth.NewCredentialService(auth.CredentialServiceConfig{
		Database:   db,
		EmailGate:  userService,
		Profiles:   userService,
		BcryptCost: bcrypt.DefaultCost,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.Issuer,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}
	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.Issuer,
		CookieName:    appConfig.CookieName,
	})
	if err != nil {
		return err
	}

	llmClient := llm.New(llm.Config{
		APIKey:  appConfig.LLMAPIKey,
		BaseURL: appConfig.LLMBaseURL,
		Model:   appConfig.LLMModel,
		Logger:  logger,
	})
	chatConfig := chat.ServiceConfig{
		Database:      db,
		IDProvider:    chat.NewUUIDProvider(),
		SummaryWindow: time.Duration(appConfig.SummaryWindowDays) * 24 * time.Hour,
		Logger:        logger,
	}
	var completer jobs.Completer
	if llmClient.Enabled() {
		chatConfig.Summarizer = llmClient
		completer = llmClient
	} else {
		logger.Info("llm disabled, summaries unavailable and postings served untranslated")
	}
	chatService, err := chat.NewService(chatConfig)
	if err != nil {
		return err
	}
	jobService, err := jobs.NewService(jobs.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}

	objectStore, err := storage.Open(signalCtx, storage.Config{
		Driver:        appConfig.StorageDriver,
		Path:          appConfig.StoragePath,
		MongoURI:      appConfig.StorageMongoURI,
		MongoDatabase: appConfig.StorageMongoDatabase,
	})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := objectStore.Close(closeCtx); err != nil {
			logger.Warn("object store close failed", zap.Error(err))
		}
	}()

	hub := realtime.NewHub(realtime.HubConfig{BufferSize: appConfig.RealtimeBufferSize})
	presence := realtime.NewPresenceRegistry(realtime.PresenceConfig{Hub: hub, TTL: appConfig.PresenceTTL})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:       sessionValidator,
		Tokens:         tokenIssuer,
		Credentials:    credentials,
		Users:          userService,
		Chat:           chatService,
		Jobs:           jobService,
		Translator:     jobs.NewTranslator(completer, logger),
		Storage:        objectStore,
		PublicBaseURL:  appConfig.StoragePublicBaseURL,
		Hub:            hub,
		Presence:       presence,
		AllowedOrigins: appConfig.AllowedOrigins,
		SecureCookies:  appConfig.SecureCookies,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		presence.Run(groupCtx, appConfig.PresenceSweep)
		return nil
	})
	group.Go(func() error {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("server stopping")
		return httpServer.Shutdown(shutdownCtx)
	})
	return group.Wait()
}
