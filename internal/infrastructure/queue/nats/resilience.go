package nats

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/filings-corpus/internal/core/domain"
	"github.com/kirillkom/filings-corpus/internal/infrastructure/resilience"
)

var connectionErrors = []error{
	nats.ErrNoServers,
	nats.ErrTimeout,
	nats.ErrConnectionClosed,
	nats.ErrConnectionReconnecting,
	nats.ErrDisconnected,
}

// classifyPublish retries while the connection is down. Other publish errors count
// against the breaker but are returned immediately.
func classifyPublish(err error) resilience.Class {
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.Class{}
	case resilience.IsCircuitOpen(err), connectionLost(err):
		return resilience.Class{Retryable: true, TripsBreaker: true}
	default:
		return resilience.Class{TripsBreaker: true}
	}
}

func connectionLost(err error) bool {
	for _, target := range connectionErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// asTemporary marks publish errors that may succeed once the broker is reachable again.
func asTemporary(err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classifyPublish(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, "publish shard event", err)
	}
	return err
}
