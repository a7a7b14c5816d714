package vsm

import (
	"context"
	"testing"

	"github.com/viable-systems/control-plane/pkg/bus"
)

func TestS1ForwardsOperationToS2(t *testing.T) {
	pub := newFakePublisher()
	sub := newFakeSubscriber()
	s1 := NewS1(pub, sub, testLogger())

	env, err := bus.New("vsm.s1.operation", "tenant-a", map[string]any{"task": "ingest"}, "corr-1")
	if err != nil {
		t.Fatalf("bus.New: %v", err)
	}

	result := s1.handleOperation(context.Background(), env)
	if result.Decision != bus.Ack {
		t.Fatalf("decision = %v, want Ack", result.Decision)
	}

	published := pub.published[TopicS2]
	if len(published) != 1 {
		t.Fatalf("published to %q = %d envelopes, want 1", TopicS2, len(published))
	}
	if published[0].CorrelationID != "corr-1" {
		t.Errorf("CorrelationID = %q, want corr-1", published[0].CorrelationID)
	}
}
