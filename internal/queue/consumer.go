package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// StartResolvedConsumer connects to the broker at url, declares the
// resolution queue and appends every event to dir/actions.log.  It
// reconnects with backoff until ctx is cancelled.  Messages that cannot be
// handled are rejected without requeueing.
func StartResolvedConsumer(ctx context.Context, url, dir string, log *zap.SugaredLogger) error {
	log = log.Named("resolved-consumer")
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Warnw("dial broker failed", "err", err, "retry_in", backoff)
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = consumeLoop(ctx, conn, dir, log)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warnw("consume loop ended, reconnecting", "err", err)
		if !sleepCtx(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, dir string, log *zap.SugaredLogger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Warnw("set QoS failed", "err", err)
	}
	if _, err := ch.QueueDeclare(ResolvedQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.ConsumeWithContext(ctx, ResolvedQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for d := range msgs {
		if err := HandleMessage(dir, d.Body); err != nil {
			log.Errorw("handle message failed", "err", err)
			_ = d.Nack(false, false)
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

// HandleMessage decodes one event and appends it to dir/actions.log.
func HandleMessage(dir string, body []byte) error {
	var ev ActionResolvedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Catalogue == "" || ev.Outcome == "" {
		return errors.New("event without catalogue or outcome")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "actions.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(FormatLine(ev)); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// FormatLine renders ev as one line of the audit log.
func FormatLine(ev ActionResolvedEvent) string {
	line := fmt.Sprintf("[%s] Action resolved | action_id=%d | kind=%s | catalogue=%s@%s | result=%s@%s | requester=%q | log_id=%s | outcome=%s",
		ev.ResolvedAt, ev.ActionID, ev.Kind, ev.Catalogue, ev.Version, ev.Catalogue, ev.ResultVersion, ev.Requester, ev.LogID, ev.Outcome)
	if ev.Level != "" {
		line += " | level=" + ev.Level
	}
	if ev.Error != "" {
		line += fmt.Sprintf(" | error=%q", ev.Error)
	}
	return line + "\n"
}
