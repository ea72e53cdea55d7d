// cmd/staybook/main.go
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"staybook/internal/booking"
	"staybook/internal/catalog"
	"staybook/internal/config"
	"staybook/internal/contact"
	"staybook/internal/eventstore"
	"staybook/internal/identity"
	"staybook/internal/storage/dynamo"
	"staybook/internal/storage/memory"
	"staybook/internal/storage/postgres"
	redisstore "staybook/internal/storage/redis"
	"staybook/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := telemetry.NewLogger(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("staybook stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "staybook", cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("flush traces", zap.Error(err))
		}
	}()

	// Accounts, the apartment catalog and the event log live in Postgres
	// whatever backend holds the reservations.
	pg, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pg.Close()
	if err := migrate(ctx, pg); err != nil {
		return err
	}

	store, err := openStore(ctx, cfg, pg, logger)
	if err != nil {
		return err
	}

	snapshot, closeSnapshot, err := openSnapshot(ctx, cfg, store, logger)
	if err != nil {
		return err
	}
	defer closeSnapshot()

	policy := booking.Policy{MaxNights: cfg.MaxNights, MonthlyLimit: cfg.MonthlyLimit}
	events := eventstore.New()
	identityService := identity.NewService(events, pg.DB(), logger)
	relay := contact.NewEmailJSClient(contact.EmailJSConfig{
		ServiceID:   cfg.EmailJSServiceID,
		TemplateID:  cfg.EmailJSTemplateID,
		UserID:      cfg.EmailJSUserID,
		AccessToken: cfg.EmailJSAccessToken,
	}, logger)

	r := newRouter(services{
		booking:  booking.NewService(store, snapshot, policy, nil, logger),
		identity: identityService,
		sessions: identity.NewSessions(jwtSecret(cfg, logger), cfg.SessionTTL),
		catalog:  catalog.NewService(catalog.NewPostgresRepository(pg.DB(), events), logger),
		contact:  contact.NewService(relay, nil, logger),
	}, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("starting staybook",
			zap.String("port", cfg.Port),
			zap.String("store", cfg.StoreBackend),
			zap.Bool("redis_snapshot", cfg.RedisAddr != ""))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func migrate(ctx context.Context, pg *postgres.Store) error {
	if err := pg.Migrate(ctx); err != nil {
		return err
	}
	for name, schema := range map[string]string{"identity": identity.Schema, "catalog": catalog.Schema} {
		if _, err := pg.DB().ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("create %s schema: %w", name, err)
		}
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, pg *postgres.Store, logger *zap.Logger) (booking.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		logger.Warn("reservations are kept in memory and lost on restart")
		return memory.New(), nil
	case config.BackendDynamo:
		client, err := dynamo.NewClient(ctx, cfg.DynamoRegion, cfg.DynamoEndpoint)
		if err != nil {
			return nil, err
		}
		store := dynamo.New(client, cfg.DynamoTable)
		if err := store.EnsureTable(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return pg, nil
	}
}

func openSnapshot(ctx context.Context, cfg *config.Config, store booking.Store, logger *zap.Logger) (booking.Snapshot, func(), error) {
	if cfg.RedisAddr == "" {
		return booking.NewStoreSnapshot(store), func() {}, nil
	}
	client, err := redisstore.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		return nil, nil, err
	}
	return redisstore.NewSnapshot(client, store, cfg.SnapshotTTL, logger), func() { client.Close() }, nil
}

// jwtSecret returns the configured secret or, outside production, a random
// one that invalidates every session on restart.
func jwtSecret(cfg *config.Config, logger *zap.Logger) string {
	if cfg.JWTSecret != "" {
		return cfg.JWTSecret
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	logger.Warn("JWT_SECRET not set, using an ephemeral secret")
	return hex.EncodeToString(buf)
}
