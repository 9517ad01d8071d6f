package main

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/routeflow/fleet-tracker/internal/config"
	"github.com/routeflow/fleet-tracker/internal/db"
	"github.com/routeflow/fleet-tracker/internal/diversions"
	"github.com/routeflow/fleet-tracker/internal/live"
	"github.com/routeflow/fleet-tracker/internal/mq"
	"github.com/routeflow/fleet-tracker/internal/repository"
	"github.com/routeflow/fleet-tracker/internal/service"
)

func startWorker(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	ingestor *service.Ingestor,
	poller *live.Poller,
) (*mq.Consumer, error) {
	// Create context for consumer that will be cancelled on shutdown
	ctx, cancel := context.WithCancel(context.Background())

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:    conn,
		Queue:         cfg.RabbitMQ.IngestQueue,
		DLQQueue:      cfg.RabbitMQ.DLQQueue,
		Exchange:      cfg.RabbitMQ.IngestExchange,
		RoutingKey:    cfg.RabbitMQ.IngestRoutingKey,
		PrefetchCount: cfg.RabbitMQ.PrefetchCount,
		Logger:        logger,
		Handler: func(ctx context.Context, body []byte) error {
			_, err := ingestor.IngestRaw(ctx, body)
			return err
		},
	})
	if err != nil {
		cancel()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting observation consumer",
				zap.String("queue", cfg.RabbitMQ.IngestQueue),
				zap.Int("prefetch", cfg.RabbitMQ.PrefetchCount))
			if err := consumer.Start(ctx); err != nil {
				return err
			}
			return poller.Start()
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if err := poller.Stop(); err != nil {
				logger.Error("failed to stop poller", zap.Error(err))
			}
			if err := consumer.Close(); err != nil {
				logger.Error("failed to close consumer", zap.Error(err))
				return err
			}
			logger.Info("worker stopped gracefully")
			return nil
		},
	})

	return consumer, nil
}

// ProvideStore creates the transactional store backed by Postgres
func ProvideStore(pool *db.Pool) service.Store {
	return repository.NewRepository(pool)
}

// ProvideDiversions creates the diversion lookup. There is no upstream
// diversion feed yet, so routes are never considered diverted.
func ProvideDiversions() diversions.Lookup {
	return diversions.None{}
}

// ProvidePublisher creates a new publisher instance
func ProvidePublisher(conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	return mq.NewPublisher(conn, cfg.RabbitMQ.EventsExchange, logger)
}

// ProvideIngestor creates the sighting ingestor
func ProvideIngestor(
	store service.Store,
	lookup diversions.Lookup,
	publisher *mq.Publisher,
	cfg *config.Config,
	logger *zap.Logger,
) *service.Ingestor {
	return service.NewIngestor(store, lookup, publisher, cfg.RabbitMQ.EventsRoutingKey, logger)
}

// ProvideEditRequests creates the edit request workflow service
func ProvideEditRequests(store service.Store, logger *zap.Logger) *service.EditRequests {
	return service.NewEditRequests(store, logger)
}

// ProvideProfiles creates the profile read service
func ProvideProfiles(store service.Store) *service.Profiles {
	return service.NewProfiles(store)
}

// ProvideArrivalsClient creates the arrivals API client
func ProvideArrivalsClient(cfg *config.Config) *live.Client {
	return live.NewClient(
		cfg.Arrivals.BaseURL,
		cfg.Arrivals.AppKey,
		time.Duration(cfg.Arrivals.TimeoutSeconds)*time.Second,
	)
}

// ProvideLineFetcher creates the per-line fetcher with retry policy
func ProvideLineFetcher(client *live.Client, cfg *config.Config, logger *zap.Logger) *live.LineFetcher {
	return live.NewLineFetcher(
		client,
		cfg.Poll.MaxAttempts,
		time.Duration(cfg.Poll.BackoffBaseMS)*time.Millisecond,
		logger,
	)
}

// ProvidePoller creates the live tracking poller
func ProvidePoller(
	client *live.Client,
	fetcher *live.LineFetcher,
	ingestor *service.Ingestor,
	cfg *config.Config,
	logger *zap.Logger,
) *live.Poller {
	return live.NewPoller(live.Config{
		Enabled:        cfg.Poll.Enabled,
		Interval:       time.Duration(cfg.Poll.IntervalSeconds) * time.Second,
		Stagger:        time.Duration(cfg.Poll.StaggerMS) * time.Millisecond,
		Staleness:      time.Duration(cfg.Poll.StalenessSeconds) * time.Second,
		Concurrency:    int64(cfg.Poll.Concurrency),
		MaxAttempts:    cfg.Poll.MaxAttempts,
		BackoffBase:    time.Duration(cfg.Poll.BackoffBaseMS) * time.Millisecond,
		RecentCapacity: cfg.Poll.RecentCapacity,
		JoinTimeout:    10 * time.Second,
	}, client, fetcher, ingestor, logger)
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL)
}

// ProvideMQConnection creates a new RabbitMQ connection instance
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}
