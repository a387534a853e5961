// Package queue_publisher publishes domain events to RabbitMQ.  Errors are
// logged and returned so callers may ignore failures without interrupting
// the action they report on.
package queue_publisher

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/catalogue-reservation/internal/action"
	"github.com/iliyamo/catalogue-reservation/internal/model"
	q "github.com/iliyamo/catalogue-reservation/internal/queue"
)

// PublishActionResolved publishes event to the resolution queue on the
// broker at url.  Messages are persistent.
func PublishActionResolved(ctx context.Context, url string, event q.ActionResolvedEvent) error {
	conn, err := amqp.Dial(url)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(
		q.ResolvedQueueName, // name
		true,                // durable
		false,               // autoDelete
		false,               // exclusive
		false,               // noWait
		nil,                 // args
	); err != nil {
		return err
	}

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return ch.PublishWithContext(ctx,
		"",                  // default exchange
		q.ResolvedQueueName, // routing key = queue name
		false,               // mandatory
		false,               // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
}

// PublishFunc sends one event.
type PublishFunc func(ctx context.Context, event q.ActionResolvedEvent) error

// ResolvedPublisher is an action.Observer that publishes every resolution.
// Publishing happens off the action's goroutine.
type ResolvedPublisher struct {
	publish PublishFunc
	timeout time.Duration
	log     *zap.SugaredLogger
	now     func() time.Time
}

// NewResolvedPublisher publishes to the broker at url.
func NewResolvedPublisher(url string, log *zap.SugaredLogger) *ResolvedPublisher {
	return NewResolvedPublisherFunc(func(ctx context.Context, ev q.ActionResolvedEvent) error {
		return PublishActionResolved(ctx, url, ev)
	}, log)
}

// NewResolvedPublisherFunc publishes through f.
func NewResolvedPublisherFunc(f PublishFunc, log *zap.SugaredLogger) *ResolvedPublisher {
	return &ResolvedPublisher{publish: f, timeout: 10 * time.Second, log: log.Named("rabbitmq"), now: time.Now}
}

func (p *ResolvedPublisher) OnEvent(e action.Event) {
	if e.Type != action.EventResolved {
		return
	}
	ev := ResolvedEvent(e, p.now())
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if err := p.publish(ctx, ev); err != nil {
			p.log.Warnw("publish resolution failed", "catalogue", ev.Catalogue, "action_id", ev.ActionID, "err", err)
		}
	}()
}

// ResolvedEvent builds the broker payload for a resolution event.
func ResolvedEvent(e action.Event, at time.Time) q.ActionResolvedEvent {
	a := e.Action
	ev := q.ActionResolvedEvent{
		ActionID:      a.ID,
		Kind:          string(a.Kind),
		Catalogue:     a.Catalogue.Code,
		Version:       a.Catalogue.Version.String(),
		ResultVersion: e.Catalogue.Version.String(),
		Requester:     a.Requester,
		LogID:         a.LogID(),
		Outcome:       string(e.Outcome),
		ResolvedAt:    at.UTC().Format(time.RFC3339),
	}
	if e.Catalogue.Code == "" {
		ev.ResultVersion = ev.Version
	}
	if a.Level != "" && a.Level != model.LevelNone {
		ev.Level = string(a.Level)
	}
	if e.Err != nil {
		ev.Error = e.Err.Error()
	}
	return ev
}
