package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

type Client struct {
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	exchangeName string
	queueName    string
}

func NewClient(url, exchangeName, queueName string) (*Client, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	client := &Client{
		conn:         conn,
		channel:      channel,
		exchangeName: exchangeName,
		queueName:    queueName,
	}

	if err := client.setup(); err != nil {
		client.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}
	return client, nil
}

func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.exchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = c.channel.QueueDeclare(
		c.queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// Routing key equals the queue name on a direct exchange.
	err = c.channel.QueueBind(c.queueName, c.queueName, c.exchangeName, false, nil)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// PublishTxnSync enqueues a sync request for one transaction.
func (c *Client) PublishTxnSync(ctx context.Context, id string, version int64) error {
	msg := NewTxnSyncMessage(id, version)
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = c.channel.PublishWithContext(
		ctx,
		c.exchangeName,
		c.queueName,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	slog.InfoContext(ctx, "Published transaction sync message",
		"component", "amqp",
		"txn_id", id,
		"version", version,
		"queue", c.queueName)
	return nil
}

// ConsumeTxnSync delivers sync messages to handler with manual acks.
// Handler failures are requeued; undecodable messages are dropped.
func (c *Client) ConsumeTxnSync(ctx context.Context, handler func(*TxnSyncMessage) error) error {
	msgs, err := c.channel.Consume(
		c.queueName,
		"",    // consumer
		false, // auto-ack off, we ack manually
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming transaction sync messages",
		"component", "amqp", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping message consumption", "component", "amqp", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}

			msg, err := TxnSyncMessageFromJSON(delivery.Body)
			if err != nil {
				slog.ErrorContext(ctx, "Failed to unmarshal message", "component", "amqp", "error", err)
				delivery.Nack(false, false)
				continue
			}

			if err := handler(msg); err != nil {
				slog.ErrorContext(ctx, "Failed to handle message",
					"component", "amqp", "error", err, "txn_id", msg.ID)
				delivery.Nack(false, true)
				continue
			}

			delivery.Ack(false)
			slog.DebugContext(ctx, "Processed transaction sync message",
				"component", "amqp", "txn_id", msg.ID)
		}
	}
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

// exponentialBackoff returns the reconnect delay for an attempt, doubling
// from one second and capping at 30 seconds.
func exponentialBackoff(attempt int) time.Duration {
	d := time.Second << uint(attempt)
	if d > 30*time.Second || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// isConnectionError reports whether an error looks like a broken broker
// connection worth a reconnect, as opposed to a handler failure.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"connection refused", "connection closed", "connection reset", "eof", "broken pipe", "channel closed"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// ConsumeWithReconnect keeps a consumer alive across broker restarts.
// dial must build a fresh client; non-connection errors end the loop.
func ConsumeWithReconnect(ctx context.Context, dial func() (*Client, error), handler func(*TxnSyncMessage) error) error {
	attempt := 0
	for {
		client, err := dial()
		if err != nil {
			if !isConnectionError(err) && attempt > 0 {
				return err
			}
			delay := exponentialBackoff(attempt)
			attempt++
			slog.WarnContext(ctx, "AMQP dial failed, retrying",
				"component", "amqp", "error", err, "retry_in", delay.String())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				continue
			}
		}

		attempt = 0
		err = client.ConsumeTxnSync(ctx, handler)
		client.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && !isConnectionError(err) {
			return err
		}
		slog.WarnContext(ctx, "AMQP consumer lost connection, reconnecting",
			"component", "amqp", "error", err)
	}
}
