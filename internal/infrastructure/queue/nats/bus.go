package nats

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/infrastructure/resilience"
)

const (
	DefaultEventsSubject  = "docflow.events"
	DefaultTriggerSubject = "docflow.scan.trigger"
)

// Bus broadcasts lifecycle events and carries scan-trigger wakeups. It implements
// ports.EventPublisher and ports.ScanTrigger.
type Bus struct {
	conn           *nats.Conn
	eventsSubject  string
	triggerSubject string
	executor       *resilience.Executor
	logger         *zap.SugaredLogger
}

type Options struct {
	Name                 string
	EventsSubject        string
	TriggerSubject       string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *zap.SugaredLogger
}

func Connect(url string, options Options) (*Bus, error) {
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	logger = logger.Named("nats")

	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	name := options.Name
	if name == "" {
		name = "docflow"
	}

	conn, err := nats.Connect(
		url,
		nats.Name(name),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warnw("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infow("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "connect nats")
	}
	return newBus(conn, options, logger), nil
}

func newBus(conn *nats.Conn, options Options, logger *zap.SugaredLogger) *Bus {
	events := options.EventsSubject
	if events == "" {
		events = DefaultEventsSubject
	}
	trigger := options.TriggerSubject
	if trigger == "" {
		trigger = DefaultTriggerSubject
	}
	return &Bus{
		conn:           conn,
		eventsSubject:  events,
		triggerSubject: trigger,
		executor:       options.ResilienceExecutor,
		logger:         logger,
	}
}

func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

// EventSubject is the subject one event type is published on, e.g.
// docflow.events.success. Subscribe to docflow.events.> for all of them.
func (b *Bus) EventSubject(t domain.EventType) string {
	return b.eventsSubject + "." + string(t)
}

func (b *Bus) PublishEvent(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	return b.publish(ctx, b.EventSubject(event.Type), payload)
}

type scanRequest struct {
	RequestedAt time.Time `json:"requested_at"`
}

func (b *Bus) PublishScanRequest(ctx context.Context) error {
	payload, err := json.Marshal(scanRequest{RequestedAt: time.Now().UTC()})
	if err != nil {
		return errors.Wrap(err, "marshal scan request")
	}
	if err := b.publish(ctx, b.triggerSubject, payload); err != nil {
		return err
	}
	// Flush so a short-lived CLI process does not exit before the message leaves.
	if err := b.conn.FlushWithContext(ctx); err != nil {
		return wrapTemporaryIfNeeded(errors.Wrap(err, "nats flush"))
	}
	return nil
}

// SubscribeScanRequests registers handler for trigger messages and returns once
// the subscription is live. It is drained when ctx ends.
func (b *Bus) SubscribeScanRequests(ctx context.Context, handler func()) error {
	sub, err := b.conn.Subscribe(b.triggerSubject, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		b.logger.Debugw("scan trigger received", "subject", msg.Subject)
		handler()
	})
	if err != nil {
		return errors.Wrap(err, "nats subscribe")
	}
	if err := b.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return errors.Wrap(err, "nats flush")
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			b.logger.Warnw("drain trigger subscription failed", "error", err)
		}
	}()
	return nil
}

func (b *Bus) publish(ctx context.Context, subject string, payload []byte) error {
	call := func(_ context.Context) error {
		if err := b.conn.Publish(subject, payload); err != nil {
			return errors.Wrap(err, "nats publish")
		}
		return nil
	}

	var err error
	if b.executor != nil {
		err = b.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}
