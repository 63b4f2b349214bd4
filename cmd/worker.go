package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/dronedelivery/delivery"
	"example.com/dronedelivery/drone"
	"example.com/dronedelivery/eventstore"
	"example.com/dronedelivery/messaging"
	"example.com/dronedelivery/metrics"
	"example.com/dronedelivery/projections"
	"example.com/dronedelivery/repository"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the delivery and drone consumers, the arrival scheduler and the projection processor`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
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

	collector := metrics.NewCollector()
	store := eventstore.NewGormEventStore(db)

	bus, err := messaging.NewAzureBus(cfg.ServiceBus)
	if err != nil {
		return err
	}
	defer bus.Close()

	deliveries := delivery.NewService(repository.NewDeliveryRepository(db), bus, cfg.ServiceBus.DroneQueue)
	drones := drone.NewService(store, drone.NewRegistry(), bus, collector)

	// Order queue: validated orders waiting for delivery scheduling
	g.Go(func() error {
		processor := messaging.NewOrderProcessor(deliveries, collector)
		return bus.ConsumeQueue(ctx, cfg.ServiceBus.OrderQueue, processor)
	})

	// Drone queue: scheduled deliveries waiting for a drone
	g.Go(func() error {
		processor := messaging.NewOrderProcessor(drones, collector)
		return bus.ConsumeQueue(ctx, cfg.ServiceBus.DroneQueue, processor)
	})

	// Compensation commands from the saga topic
	g.Go(func() error {
		processor := messaging.NewCompensationProcessor(drones, deliveries, collector)
		return bus.ConsumeSubscription(ctx, cfg.ServiceBus.SagaTopic, cfg.ServiceBus.DroneCompensationSub, processor)
	})

	// Arrival scheduler: finalize flights past their expected arrival
	g.Go(func() error {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Drone.ArrivalCheckInterval),
			gocron.NewTask(func() {
				drones.CheckArrivals(ctx)
			}),
		)
		if err != nil {
			return err
		}

		scheduler.Start()

		<-ctx.Done()

		return scheduler.Shutdown()
	})

	// Projection processor: event log -> drone flight read model
	g.Go(func() error {
		esClient, err := projections.NewElasticsearchClient(cfg.Elastic)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize Elasticsearch, continuing without search indexing")
			esClient = nil
		}
		if err := projections.EnsureIndices(esClient, cfg.Elastic); err != nil {
			log.Warn().Err(err).Msg("Failed to ensure Elasticsearch indices")
		}

		projector := projections.NewDroneFlightProjector(db, esClient, cfg.Elastic)
		processor := projections.NewEventProcessor(db, projector, cfg.Drone.ProjectionInterval, cfg.Drone.ProjectionBatchSize)
		processor.Start()

		<-ctx.Done()

		processor.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
