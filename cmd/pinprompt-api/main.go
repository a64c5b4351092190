package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pinprompt/backend/internal/auth"
	"github.com/pinprompt/backend/internal/config"
	"github.com/pinprompt/backend/internal/database"
	"github.com/pinprompt/backend/internal/engagement"
	"github.com/pinprompt/backend/internal/feed"
	"github.com/pinprompt/backend/internal/ids"
	"github.com/pinprompt/backend/internal/logging"
	"github.com/pinprompt/backend/internal/messages"
	"github.com/pinprompt/backend/internal/notifications"
	"github.com/pinprompt/backend/internal/profiles"
	"github.com/pinprompt/backend/internal/realtime"
	"github.com/pinprompt/backend/internal/server"
	"github.com/pinprompt/backend/internal/social"
	"github.com/pinprompt/backend/internal/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pinprompt-api",
		Short: "PinPrompt backend service",
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
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("media-endpoint", defaults.GetString("media.endpoint"), "S3-compatible media endpoint")
	cmd.PersistentFlags().String("media-bucket", defaults.GetString("media.bucket"), "Media bucket name")
	cmd.PersistentFlags().String("media-region", defaults.GetString("media.region"), "Media bucket region")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "media.endpoint", "media-endpoint")
	bindFlag(cmd, "media.bucket", "media-bucket")
	bindFlag(cmd, "media.region", "media-region")
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

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "pinprompt-auth",
		Audience:      "pinprompt-api",
		TokenTTL:      time.Duration(appConfig.TokenTTLMinutes) * time.Minute,
	})

	idProvider := ids.NewUUIDProvider()
	dispatcher := realtime.NewDispatcher()

	profileService, err := profiles.NewService(profiles.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	notificationService, err := notifications.NewService(notifications.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	engagementService, err := engagement.NewService(engagement.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	feedService, err := feed.NewService(feed.ServiceConfig{
		Database:      db,
		Engagement:    engagementService,
		Notifications: notificationService,
		Profiles:      profileService,
		Clock:         time.Now,
		IDProvider:    idProvider,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	socialService, err := social.NewService(social.ServiceConfig{
		Database:      db,
		Clock:         time.Now,
		Profiles:      profileService,
		Notifications: notificationService,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	messageService, err := messages.NewService(messages.ServiceConfig{
		Database:      db,
		Clock:         time.Now,
		IDProvider:    idProvider,
		Dispatcher:    dispatcher,
		Notifications: notificationService,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	var mediaStore server.MediaStore
	if appConfig.MediaEnabled() {
		client, err := storage.New(ctx, storage.Config{
			Region:        appConfig.MediaRegion,
			Endpoint:      appConfig.MediaEndpoint,
			Bucket:        appConfig.MediaBucket,
			AccessKey:     appConfig.MediaAccessKey,
			SecretKey:     appConfig.MediaSecretKey,
			PublicBaseURL: appConfig.MediaPublicURL,
		})
		if err != nil {
			return err
		}
		mediaStore = client
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:  tokenManager,
		Profiles:      profileService,
		Feed:          feedService,
		Social:        socialService,
		Messages:      messageService,
		Notifications: notificationService,
		Dispatcher:    dispatcher,
		Media:         mediaStore,
		Logger:        logger,
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
