// Package service holds adapters the gateway depends on through small
// interfaces. AuditPublisher ships audit events to RabbitMQ.
package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	q "github.com/nammalwarsai/skill3-cie/internal/queue"
)

// AuditPublisher publishes audit events to the durable portal.audit queue.
// The broker connection is opened on first use and reopened after a
// failure. Messages are marked persistent.
type AuditPublisher struct {
	url string
	log zerolog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAuditPublisher(url string, log zerolog.Logger) *AuditPublisher {
	return &AuditPublisher{url: url, log: log}
}

// Publish sends ev. Errors are logged and returned so the caller can choose
// to ignore them.
func (p *AuditPublisher) Publish(ctx context.Context, ev q.AuditEvent) error {
	pub, err := newPublishing(ev)
	if err != nil {
		p.log.Error().Err(err).Msg("rabbitmq: marshal event failed")
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureChannel(); err != nil {
		p.log.Warn().Err(err).Msg("rabbitmq: connect failed")
		return err
	}
	if err := p.ch.PublishWithContext(ctx,
		"",               // default exchange
		q.AuditQueueName, // routing key = queue name
		false,            // mandatory
		false,            // immediate
		pub,
	); err != nil {
		p.log.Warn().Err(err).Str("event", ev.Type).Msg("rabbitmq: publish failed")
		p.reset()
		return err
	}
	return nil
}

func (p *AuditPublisher) ensureChannel() error {
	if p.ch != nil && !p.ch.IsClosed() {
		return nil
	}
	p.reset()
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}
	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(q.AuditQueueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}
	p.conn, p.ch = conn, ch
	return nil
}

func (p *AuditPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}

// Close releases the broker connection.
func (p *AuditPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}

func newPublishing(ev q.AuditEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Type:         ev.Type,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}, nil
}

// LogPublisher writes audit events to a logger instead of a broker. It is
// used when EVENTS_ENABLED is off.
type LogPublisher struct{ Log zerolog.Logger }

func (p LogPublisher) Publish(_ context.Context, ev q.AuditEvent) error {
	p.Log.Info().
		Str("event", ev.Type).
		Str("event_id", ev.ID).
		Str("actor", ev.Actor).
		Str("actor_role", ev.ActorRole).
		Str("key", ev.Key).
		Msg("audit")
	return nil
}
