package mq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher handles message publishing to RabbitMQ
type Publisher struct {
	conn     *Connection
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
}

// NewPublisher creates a new RabbitMQ publisher
func NewPublisher(conn *Connection, exchange string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	// Declare exchange
	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// SightingEvent is the event published after a sighting has been ingested
// and its badge state committed.
type SightingEvent struct {
	VehicleKey string   `json:"vehicle_key"`
	Route      string   `json:"route,omitempty"`
	ObservedAt string   `json:"observed_at"`
	Badges     []string `json:"badges"`
	IsNewBus   bool     `json:"is_new_bus"`
	RareReason string   `json:"rare_reason,omitempty"`
	RareScore  float64  `json:"rare_score"`
	SpeedKPH   *float64 `json:"speed_kph,omitempty"`
	ProfileNew bool     `json:"profile_created"`
}

// PublishSightingEvent publishes a processed sighting event
func (p *Publisher) PublishSightingEvent(ctx context.Context, event SightingEvent, routingKey string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)

	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("published sighting event",
		zap.String("routing_key", routingKey),
		zap.String("vehicle_key", event.VehicleKey),
		zap.String("route", event.Route),
	)

	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
