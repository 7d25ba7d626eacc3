package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/filings-corpus/internal/core/domain"
)

func TestEncodeShardCreated(t *testing.T) {
	payload, err := encodeShardCreated(domain.ShardCreated{
		RunID:     "run-1",
		Shard:     "20250101_000000_filings.parquet",
		Records:   2,
		CIDs:      []string{"a", "b"},
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 1, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("encodeShardCreated() error = %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	for _, key := range []string{"run_id", "shard", "records", "cids", "created_at"} {
		if _, ok := got[key]; !ok {
			t.Fatalf("payload missing %q: %s", key, payload)
		}
	}
	if got["created_at"] != "2025-01-01T00:00:01Z" {
		t.Fatalf("created_at = %v", got["created_at"])
	}
}

func TestEncodeShardCreatedEmptyCIDs(t *testing.T) {
	payload, err := encodeShardCreated(domain.ShardCreated{Shard: "x"})
	if err != nil {
		t.Fatalf("encodeShardCreated() error = %v", err)
	}
	var got struct {
		CIDs []string `json:"cids"`
	}
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if got.CIDs == nil {
		t.Fatalf("cids must encode as an empty array: %s", payload)
	}
}

func TestAsTemporaryMarksConnectionErrors(t *testing.T) {
	if err := asTemporary(nats.ErrNoServers); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	if err := asTemporary(fmt.Errorf("publish: %w", nats.ErrConnectionReconnecting)); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected wrapped reconnecting error to be temporary, got %v", err)
	}
	permanent := errors.New("invalid subject")
	if err := asTemporary(permanent); domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("permanent error must not become temporary")
	}
	if class := classifyPublish(context.Canceled); class.Retryable || class.TripsBreaker {
		t.Fatalf("cancellation must be ignored, got %+v", class)
	}
}
