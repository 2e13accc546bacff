package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/membership-downgrades/internal/host"
	"github.com/iliyamo/membership-downgrades/internal/model"
	"github.com/iliyamo/membership-downgrades/internal/service"
)

// Processor is the part of the downgrade service the consumer drives.
type Processor interface {
	Find(ctx context.Context, id uint64) (model.Downgrade, error)
	Process(ctx context.Context, d *model.Downgrade, renewal *model.Order) error
}

// Consumer processes downgrade trigger events from the broker.
type Consumer struct {
	url      string
	svc      Processor
	orders   host.Orders
	prefetch int
}

func NewConsumer(url string, svc Processor, orders host.Orders) *Consumer {
	return &Consumer{url: url, svc: svc, orders: orders, prefetch: 10}
}

// Run connects to RabbitMQ, declares the downgrade.process queue
// (durable) and consumes until ctx is cancelled.  Connection failures
// are retried with exponential backoff capped at 30s.  Messages that
// fail are rejected without requeue so one bad event cannot spin the
// consumer.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(c.url)
		if err != nil {
			log.Warn().Err(err).Dur("retry_in", backoff).Msg("downgrade-consumer: failed to dial broker")
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Msg("downgrade-consumer: consume loop ended, reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		log.Warn().Err(err).Msg("downgrade-consumer: set QoS failed")
	}
	if _, err := ch.QueueDeclare(ProcessQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(ProcessQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	log.Info().Str("queue", ProcessQueueName).Msg("downgrade-consumer: consuming")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.HandleMessage(ctx, d.Body); err != nil {
				log.Error().Err(err).Str("body", string(d.Body)).Msg("downgrade-consumer: handle message failed")
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// HandleMessage processes one event body.  Events for records that are
// already processed or currently locked are acknowledged and dropped.
func (c *Consumer) HandleMessage(ctx context.Context, body []byte) error {
	var ev ProcessDowngradeEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.DowngradeID == 0 {
		return errors.New("event without downgrade_id")
	}

	d, err := c.svc.Find(ctx, ev.DowngradeID)
	if err != nil {
		return fmt.Errorf("load downgrade %d: %w", ev.DowngradeID, err)
	}

	var renewal *model.Order
	if ev.RenewalOrderID != 0 {
		o, err := c.orders.GetOrder(ctx, ev.RenewalOrderID)
		if err != nil {
			return fmt.Errorf("load renewal order %d: %w", ev.RenewalOrderID, err)
		}
		renewal = &o
	}

	err = c.svc.Process(ctx, &d, renewal)
	switch {
	case err == nil:
		log.Info().Uint64("downgrade_id", d.ID).Str("status", string(d.Status)).Msg("downgrade-consumer: processed")
		return nil
	case errors.Is(err, service.ErrAlreadyProcessed), errors.Is(err, service.ErrProcessInFlight):
		log.Info().Err(err).Uint64("downgrade_id", d.ID).Msg("downgrade-consumer: skipped")
		return nil
	}
	return fmt.Errorf("process downgrade %d: %w", d.ID, err)
}
