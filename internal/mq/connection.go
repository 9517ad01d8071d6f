package mq

import (
	"context"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Connection wraps the broker connection shared by the observation consumer
// and the sighting-event publisher.
type Connection struct {
	conn   *amqp.Connection
	logger *zap.Logger
}

// NewConnection dials RabbitMQ and ties the connection to the fx lifecycle.
func NewConnection(lc fx.Lifecycle, logger *zap.Logger, url string) (*Connection, error) {
	logger.Info("connecting to RabbitMQ", zap.String("url", maskURL(url)))

	conn, err := amqp.Dial(url)
	if err != nil {
		logger.Error("rabbitmq connection failed", zap.Error(err))
		return nil, fmt.Errorf("cannot connect to RabbitMQ at %s (check that the broker is running and RABBITMQ_URL is correct): %w", maskURL(url), err)
	}

	mqConn := &Connection{conn: conn, logger: logger}

	// Surface broker-initiated closes; the lifecycle hook only observes our
	// own shutdown.
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if amqpErr := <-closed; amqpErr != nil {
			logger.Error("rabbitmq connection lost", zap.Error(amqpErr))
		}
	}()

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("rabbitmq connection established")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := conn.Close(); err != nil {
				logger.Error("failed to close rabbitmq connection", zap.Error(err))
				return err
			}
			logger.Info("rabbitmq connection closed")
			return nil
		},
	})

	return mqConn, nil
}

// Channel opens a channel for one consumer or publisher.
func (c *Connection) Channel() (*amqp.Channel, error) {
	return c.conn.Channel()
}

// maskURL hides the credential section of an AMQP URL for logging.
func maskURL(url string) string {
	scheme := strings.Index(url, "://")
	at := strings.LastIndex(url, "@")
	if scheme == -1 || at == -1 || at < scheme {
		return url
	}
	return url[:scheme+3] + "***" + url[at:]
}
