package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/dronedelivery/api"
	"example.com/dronedelivery/cache"
	"example.com/dronedelivery/drone"
	"example.com/dronedelivery/eventstore"
	"example.com/dronedelivery/messaging"
	"example.com/dronedelivery/metrics"
	"example.com/dronedelivery/repository"
	"example.com/dronedelivery/saga"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the API server and the saga coordinator",
	Long:  `Start the HTTP API together with the saga event subscription that drives order sagas`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	db, err := initDatabase(cfg)
	if err != nil {
		return err
	}

	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
	}

	collector := metrics.NewCollector()
	store := eventstore.NewGormEventStore(db)
	sagaRepo := repository.NewGormSagaRepository(db)

	bus, err := messaging.NewAzureBus(cfg.ServiceBus)
	if err != nil {
		return err
	}
	defer bus.Close()

	coordinator := saga.NewCoordinator(sagaRepo, bus, collector, cfg.ServiceBus.OrderQueue)
	drones := drone.NewService(store, drone.NewRegistry(), bus, collector)

	// The coordinator consumes its own topic to react to downstream events
	g.Go(func() error {
		processor := messaging.NewSagaEventProcessor(coordinator, collector)
		return bus.ConsumeSubscription(ctx, cfg.ServiceBus.SagaTopic, cfg.ServiceBus.SagaSubscription, processor)
	})

	server := api.NewServer(cfg, coordinator, drones, store, redisCache, collector)

	g.Go(func() error {
		return server.Start()
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server error")
		return err
	}

	log.Info().Msg("Server exited properly")
	return nil
}
