package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/goevery/chat/internal/auth"
	"github.com/goevery/chat/internal/bridge"
	"github.com/goevery/chat/internal/bridge/memory"
	"github.com/goevery/chat/internal/bridge/nats"
	"github.com/goevery/chat/internal/bridge/redis"
	"github.com/goevery/chat/internal/broadcaster"
	"github.com/goevery/chat/internal/handler"
	"github.com/goevery/chat/internal/persistence"
	"github.com/goevery/chat/internal/persistence/mongodb"
	"github.com/goevery/chat/internal/persistence/postgres"
	"github.com/goevery/chat/internal/registry"
	"github.com/goevery/chat/internal/server"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

type App struct {
	logger   *zap.Logger
	settings Settings

	storage      persistence.Engine
	closeStorage func(ctx context.Context)
	medium       bridge.Medium

	router          *broadcaster.Router
	bridge          *bridge.Bridge
	sendHandler     *handler.SendHandler
	websocketServer *server.WebSocketServer
	restServer      *server.RESTServer
}

func NewApp(ctx context.Context, logger *zap.Logger, settings Settings) (*App, error) {
	storage, closeStorage, err := openStorage(ctx, settings)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	medium, err := openMedium(ctx, logger, settings)
	if err != nil {
		closeStorage(ctx)
		return nil, fmt.Errorf("open broadcast medium: %w", err)
	}

	originChecker := server.NewOriginChecker(logger, settings.AllowedOrigins)
	websocketUpgrader := &websocket.Upgrader{
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		CheckOrigin:       originChecker.Check,
		EnableCompression: true,
	}

	authenticator := auth.NewAuthenticator(settings.JWTSecret)
	validator := handler.NewValidator()

	connections := registry.NewConnectionRegistry()
	subscriptions := registry.NewSubscriptionTable()
	router := broadcaster.NewRouter(logger.Named("router"), connections, subscriptions, storage)
	chatBridge := bridge.NewBridge(logger.Named("bridge"), medium, router, bridge.Settings{
		ReconnectBaseWait: settings.BridgeReconnectBaseWait,
		ReconnectMaxWait:  settings.BridgeReconnectMaxWait,
	})

	heartbeatHandler := handler.NewHeartbeatHandler()
	authHandler := handler.NewAuthHandler(authenticator, router)
	sendHandler := handler.NewSendHandler(logger, validator, storage, chatBridge)
	userHandler := handler.NewUserHandler(validator, storage)
	membershipHandler := handler.NewMembershipHandler(logger, validator, storage, chatBridge)

	rpcRouter := server.NewRouter(
		logger,
		heartbeatHandler,
		authHandler,
		sendHandler,
	)

	websocketServer := server.NewWebSocketServer(
		logger,
		websocketUpgrader,
		rpcRouter,
		router,
		settings.ConnectionSendBuffer,
	)
	restServer := server.NewRESTServer(
		logger,
		authenticator,
		originChecker,
		userHandler,
		membershipHandler,
		chatBridge,
	)

	return &App{
		logger,
		settings,
		storage,
		closeStorage,
		medium,
		router,
		chatBridge,
		sendHandler,
		websocketServer,
		restServer,
	}, nil
}

func openStorage(ctx context.Context, settings Settings) (persistence.Engine, func(context.Context), error) {
	switch settings.StorageDriver {
	case storageDriverPostgres:
		pool, err := postgres.Connect(ctx, settings.PostgresURL)
		if err != nil {
			return nil, nil, err
		}

		return postgres.NewPersistenceEngine(pool), func(context.Context) { pool.Close() }, nil
	default:
		client, err := mongo.Connect(options.Client().ApplyURI(settings.MongoDBURI))
		if err != nil {
			return nil, nil, err
		}

		err = client.Ping(ctx, nil)
		if err != nil {
			client.Disconnect(ctx)
			return nil, nil, err
		}

		closeClient := func(ctx context.Context) { client.Disconnect(ctx) }

		return mongodb.NewPersistenceEngine(client, settings.MongoDBDatabase), closeClient, nil
	}
}

func openMedium(ctx context.Context, logger *zap.Logger, settings Settings) (bridge.Medium, error) {
	switch settings.BridgeDriver {
	case bridgeDriverNATS:
		return nats.Connect(logger.Named("nats"), nats.Config{
			URL:           settings.NATSURL,
			Name:          "chat",
			ReconnectWait: settings.BridgeReconnectBaseWait,
		})
	case bridgeDriverMemory:
		logger.Warn("using process local broadcast medium, instances will not see each other")

		return memory.NewMedium(), nil
	default:
		return redis.Connect(ctx, redis.Config{
			Addr:     settings.RedisAddr,
			Password: settings.RedisPassword,
			DB:       settings.RedisDB,
		})
	}
}

func (a *App) run(ctx context.Context) error {
	notifyCtx, notifyCtxCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer notifyCtxCancel()

	err := a.storage.Setup(notifyCtx)
	if err != nil {
		return fmt.Errorf("setup storage: %w", err)
	}

	// Router and bridge outlive the HTTP server so in-flight requests can
	// still publish while it drains.
	coreCtx, coreCtxCancel := context.WithCancel(context.Background())
	defer coreCtxCancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.router.Run(coreCtx)
	}()
	go func() {
		defer wg.Done()
		a.bridge.Run(coreCtx)
	}()

	defer func() {
		closeCtx, closeCtxCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCtxCancel()

		if err := a.sendHandler.Wait(closeCtx); err != nil {
			a.logger.Warn("gave up waiting for message saves", zap.Error(err))
		}

		coreCtxCancel()
		wg.Wait()

		if err := a.medium.Close(); err != nil {
			a.logger.Warn("failed to close broadcast medium", zap.Error(err))
		}
		a.closeStorage(closeCtx)

		a.logger.Info("stopped")
	}()

	select {
	case <-a.bridge.Ready():
	case <-time.After(a.settings.StartupTimeout):
		return errors.New("timed out waiting for broadcast medium subscription")
	case <-notifyCtx.Done():
		return nil
	}

	a.serveHttp(notifyCtx)

	return nil
}

func (a *App) serveHttp(ctx context.Context) {
	address := fmt.Sprintf("0.0.0.0:%d", a.settings.Port)

	router := mux.NewRouter().
		PathPrefix(a.settings.BasePath).
		Subrouter()

	a.websocketServer.Register(router)
	a.restServer.Register(router)

	httpServer := &http.Server{
		Addr:    address,
		Handler: router,
	}

	a.logger.Info("starting http server",
		zap.String("address", address))

	go func() {
		err := httpServer.ListenAndServe()

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("failed to start http server",
				zap.Error(err))
		}
	}()

	<-ctx.Done()

	a.logger.Info("stopping http server")

	shutdownCtx, shutdownCtxCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCtxCancel()

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Error("http server shutdown failed",
			zap.Error(err))
	}

	a.logger.Info("http server stopped")
}

func main() {
	ctx := context.Background()

	bootstrapLogger, _ := zap.NewDevelopment()

	var settings Settings
	_, err := env.UnmarshalFromEnviron(&settings)
	if err != nil {
		bootstrapLogger.Fatal("failed to parse settings from environment", zap.Error(err))
	}

	err = settings.Validate()
	if err != nil {
		bootstrapLogger.Fatal("invalid settings", zap.Error(err))
	}

	logger, err := buildZapLogger(settings.LogEncoding, settings.LogLevel)
	if err != nil {
		bootstrapLogger.Fatal("failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	app, err := NewApp(ctx, logger, settings)
	if err != nil {
		logger.Fatal("failed to setup", zap.Error(err))
	}

	err = app.run(ctx)
	if err != nil {
		logger.Fatal("failed to run", zap.Error(err))
	}
}
