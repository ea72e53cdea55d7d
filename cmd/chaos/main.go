// cmd/chaos/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"staybook/internal/booking"
	"staybook/internal/chaos"
	"staybook/internal/config"
	"staybook/internal/storage/dynamo"
	"staybook/internal/storage/memory"
	"staybook/internal/storage/postgres"
	"staybook/internal/telemetry"
)

func main() {
	workers := flag.Int("workers", 32, "concurrent creates in the double booking experiment")
	duration := flag.Duration("observe", 2*time.Second, "observation window per experiment")
	flag.Parse()

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "staybook-chaos", cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal("tracing", zap.Error(err))
	}
	defer shutdownTracing(context.Background())

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal("open store", zap.String("backend", cfg.StoreBackend), zap.Error(err))
	}
	defer closeStore()

	policy := booking.Policy{MaxNights: cfg.MaxNights, MonthlyLimit: cfg.MonthlyLimit}
	admin := &booking.Principal{ID: "chaos-admin", IsAdmin: true, EmailVerified: true}

	// Fresh resources far in the future keep experiments clear of real bookings.
	run := uuid.NewString()[:8]
	start := booking.MonthOf(time.Now().AddDate(1, 0, 0)).Start()

	service := booking.NewService(store, nil, policy, nil, logger)
	doubleBooking := chaos.DoubleBookingExperiment(
		chaos.Target{Service: service, Store: store, Admin: admin},
		"chaos-"+run+"-overlap", start, *workers, cfg.CreateRetries)
	doubleBooking.Duration = *duration

	faulty := chaos.NewFaultyStore(store)
	faultyService := booking.NewService(faulty, nil, policy, nil, logger)
	conflicts := chaos.TransientConflictExperiment(faulty, faultyService, admin,
		"chaos-"+run+"-retry", start, 4, cfg.CreateRetries)
	conflicts.Duration = *duration

	engine := chaos.NewEngine(logger, 250*time.Millisecond, time.Second)
	held, err := engine.ExecuteGameDay(ctx, chaos.GameDay{
		Name:      "Reservation integrity game day",
		Scenarios: []chaos.Experiment{doubleBooking, conflicts},
	})
	if err != nil {
		logger.Fatal("game day interrupted", zap.Error(err))
	}
	if !held {
		logger.Error("game day failed: at least one hypothesis did not hold")
		os.Exit(1)
	}
	logger.Info("game day passed", zap.String("store", cfg.StoreBackend))
}

func openStore(ctx context.Context, cfg *config.Config) (booking.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		return memory.New(), func() {}, nil
	case config.BackendDynamo:
		client, err := dynamo.NewClient(ctx, cfg.DynamoRegion, cfg.DynamoEndpoint)
		if err != nil {
			return nil, nil, err
		}
		store := dynamo.New(client, cfg.DynamoTable)
		if err := store.EnsureTable(ctx); err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	default:
		pg, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		return pg, func() { pg.Close() }, nil
	}
}
