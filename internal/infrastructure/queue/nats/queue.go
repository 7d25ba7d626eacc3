// Package nats publishes shard events and receives source-update triggers over NATS.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/filings-corpus/internal/core/domain"
	"github.com/kirillkom/filings-corpus/internal/infrastructure/resilience"
)

const (
	DefaultShardSubject   = "corpus.shard.created"
	DefaultSourcesSubject = "sources.updated"

	watchQueueGroup = "corpus-watch"
)

type Queue struct {
	conn           *nats.Conn
	shardSubject   string
	sourcesSubject string
	executor       *resilience.Executor
	log            *slog.Logger
}

type Options struct {
	ShardSubject         string
	SourcesSubject       string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func New(url string) (*Queue, error) {
	return NewWithOptions(url, Options{})
}

func NewWithOptions(url string, options Options) (*Queue, error) {
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
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("filings-corpus"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:           conn,
		shardSubject:   withDefault(options.ShardSubject, DefaultShardSubject),
		sourcesSubject: withDefault(options.SourcesSubject, DefaultSourcesSubject),
		executor:       options.ResilienceExecutor,
		log:            logger,
	}, nil
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

type shardCreatedMessage struct {
	RunID     string    `json:"run_id"`
	Shard     string    `json:"shard"`
	Records   int       `json:"records"`
	CIDs      []string  `json:"cids"`
	CreatedAt time.Time `json:"created_at"`
}

func encodeShardCreated(event domain.ShardCreated) ([]byte, error) {
	ids := event.CIDs
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(shardCreatedMessage{
		RunID:     event.RunID,
		Shard:     event.Shard,
		Records:   event.Records,
		CIDs:      ids,
		CreatedAt: event.CreatedAt.UTC(),
	})
}

func (q *Queue) PublishShardCreated(ctx context.Context, event domain.ShardCreated) error {
	payload, err := encodeShardCreated(event)
	if err != nil {
		return fmt.Errorf("encode shard event: %w", err)
	}

	call := func(_ context.Context) error {
		if err := q.conn.Publish(q.shardSubject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyPublish)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return asTemporary(err)
	}
	return nil
}

// SubscribeSourcesUpdated calls handler for every source-update notification until ctx is
// done. Watch daemons share a queue group so one notification triggers one run.
func (q *Queue) SubscribeSourcesUpdated(ctx context.Context, handler func(context.Context) error) error {
	sub, err := q.conn.QueueSubscribe(q.sourcesSubject, watchQueueGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		if err := handler(ctx); err != nil {
			q.log.Warn("sources_updated_handler_error", "subject", msg.Subject, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}
