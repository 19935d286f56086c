// Package amqp publishes run notifications to RabbitMQ after a summary update.
package amqp

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"habitsync/internal/log"
)

const (
	DefaultExchange   = "habitsync"
	DefaultRoutingKey = "summary.updated"

	publishTimeout = 5 * time.Second
)

// channel is the subset of *amqp091.Channel the client uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// dial is replaced in tests.
var dial = amqp091.Dial

type Client struct {
	conn         *amqp091.Connection
	channel      channel
	exchangeName string
	routingKey   string
}

// NewClient connects to the broker at url and declares a durable topic
// exchange. The broker is dialed once; a failure is returned as is.
func NewClient(ctx context.Context, url, exchangeName, routingKey string) (*Client, error) {
	if exchangeName == "" {
		exchangeName = DefaultExchange
	}
	if routingKey == "" {
		routingKey = DefaultRoutingKey
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchangeName, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &Client{
		conn:         conn,
		channel:      ch,
		exchangeName: exchangeName,
		routingKey:   routingKey,
	}, nil
}

// PublishSummaryUpdated publishes msg as a persistent JSON message.
func (c *Client) PublishSummaryUpdated(ctx context.Context, msg *SummaryUpdatedMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = c.channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		c.routingKey,   // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Persistent,
			Timestamp:     msg.Timestamp,
			CorrelationId: msg.RunID,
			Body:          body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	log.FromContext(ctx).WithComponent(log.ComponentAMQP).InfoContext(ctx, "Published summary update",
		log.FieldOperation, log.OpPublish,
		log.FieldSummaryID, msg.SummaryID,
		log.FieldMonths, len(msg.Months),
		"exchange", c.exchangeName,
		"routing_key", c.routingKey)

	return nil
}

func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
