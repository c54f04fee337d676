package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pliu/letschat/internal/auth"
	"github.com/pliu/letschat/internal/config"
	"github.com/pliu/letschat/internal/encryption"
	"github.com/pliu/letschat/internal/handlers"
	"github.com/pliu/letschat/internal/logger"
	"github.com/pliu/letschat/internal/pubsub"
	"github.com/pliu/letschat/internal/service"
	"github.com/pliu/letschat/internal/store/sqlstore"
	"github.com/pliu/letschat/internal/ws"
)

const sessionPruneInterval = time.Hour

var configPath = flag.String("config", "", "path to a YAML config file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sqlstore.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	masterKey, err := cfg.MasterKeyBytes()
	if err != nil {
		return err
	}
	wrapper, err := encryption.NewKeyWrapper(masterKey)
	if err != nil {
		return err
	}
	keyring := encryption.NewKeyring(wrapper, store)

	checks := map[string]handlers.Pinger{"database": store}
	var broker pubsub.Broker
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		broker = pubsub.NewRedisBroker(rdb, log)
		checks["redis"] = broker
		log.Info("using redis broker", "addr", cfg.Redis.Addr)
	} else {
		broker = pubsub.NewLocalBroker()
	}
	defer broker.Close()

	tokens := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	users := service.NewUserService(store, tokens, log)
	conversations := service.NewConversationService(store, keyring, broker, log)
	messages := service.NewMessageService(store, keyring, broker, log)

	hub := ws.NewHub(users, log)
	go hub.Run(ctx)
	// Drain the hub before the store closes; dropping clients writes presence.
	defer func() {
		stop()
		hub.Wait()
	}()
	logger.SafeGo(log, "broker.Subscribe", func() {
		if err := broker.Subscribe(ctx, hub.Deliver); err != nil {
			log.Error("broker subscription ended", "err", err)
			stop()
		}
	})
	logger.SafeGo(log, "session pruning", func() { pruneSessions(ctx, users, log) })

	router := handlers.NewRouter(handlers.RouterConfig{
		Auth:           &handlers.AuthHandler{Users: users, SecureCookies: cfg.Server.SecureCookies, Log: log},
		Conversations:  &handlers.ConversationHandler{Conversations: conversations, Log: log},
		Messages:       &handlers.MessageHandler{Messages: messages, Log: log},
		Health:         &handlers.HealthHandler{Checks: checks, Log: log},
		WebSocket:      ws.NewHandler(hub, conversations, messages, cfg.Server.AllowedOrigins, log),
		Authenticator:  users,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Log:            log,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting server", "addr", cfg.Server.Addr, "driver", cfg.Database.Driver)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func pruneSessions(ctx context.Context, users *service.UserService, log *slog.Logger) {
	ticker := time.NewTicker(sessionPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := users.PruneSessions(ctx)
			if err != nil {
				log.Warn("failed to prune sessions", "err", err)
				continue
			}
			if n > 0 {
				log.Info("pruned expired sessions", "count", n)
			}
		}
	}
}
