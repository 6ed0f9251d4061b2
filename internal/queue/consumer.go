package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// DefaultAuditLogPath is where the consumer appends audit lines.
var DefaultAuditLogPath = filepath.Join("logs", "audit.log")

// ErrMalformedEvent marks a message that can never be handled, whatever
// the number of deliveries.
var ErrMalformedEvent = errors.New("malformed audit event")

// requeueDelay spaces out redeliveries of events whose write failed.
const requeueDelay = time.Second

// StartAuditConsumer connects to RabbitMQ, declares the durable audit queue
// and appends every event to logPath as one line. It reconnects with
// exponential backoff and returns only when ctx is cancelled. Malformed
// messages are rejected without requeue so they cannot loop; events that
// decoded but could not be written are requeued.
func StartAuditConsumer(ctx context.Context, url, logPath string, log zerolog.Logger) error {
	if logPath == "" {
		logPath = DefaultAuditLogPath
	}
	backoff := time.Second
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Warn().Err(err).Dur("retry_in", backoff).Msg("audit-consumer: failed to dial broker")
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = consumeLoop(ctx, conn, logPath, log)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Msg("audit-consumer: consume loop ended; reconnecting")
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

func consumeLoop(ctx context.Context, conn *amqp.Connection, logPath string, log zerolog.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Warn().Err(err).Msg("audit-consumer: set QoS failed")
	}
	if _, err := ch.QueueDeclare(AuditQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.ConsumeWithContext(ctx, AuditQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	log.Info().Str("queue", AuditQueueName).Str("file", logPath).Msg("audit-consumer: consuming")

	for d := range msgs {
		if err := HandleAuditMessage(logPath, d.Body); err != nil {
			requeue := shouldRequeue(err)
			log.Error().Err(err).Bool("requeue", requeue).Msg("audit-consumer: handle message failed")
			if requeue {
				sleep(ctx, requeueDelay)
			}
			_ = d.Nack(false, requeue)
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

// shouldRequeue reports whether a failed delivery may succeed later.
func shouldRequeue(err error) bool {
	return err != nil && !errors.Is(err, ErrMalformedEvent)
}

// HandleAuditMessage decodes one event and appends it to logPath, creating
// the parent directory when needed.
func HandleAuditMessage(logPath string, body []byte) error {
	var ev AuditEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.Type == "" {
		return fmt.Errorf("%w: event without type", ErrMalformedEvent)
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(FormatAuditLine(ev)); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// FormatAuditLine renders ev as a single newline-terminated line.
func FormatAuditLine(ev AuditEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s | id=%s | actor=%q | role=%s", ev.OccurredAt, ev.Type, ev.ID, ev.Actor, ev.ActorRole)
	if ev.Username != "" {
		fmt.Fprintf(&b, " | username=%q", ev.Username)
	}
	if ev.Key != "" {
		fmt.Fprintf(&b, " | key=%q", ev.Key)
	}
	if ev.Size > 0 {
		fmt.Fprintf(&b, " | size=%d", ev.Size)
	}
	b.WriteByte('\n')
	return b.String()
}
