package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisStreamPublisherAppends(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	pub, err := NewRedisStreamPublisher(client, RedisStreamConfig{Stream: "test:events"})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	ctx := context.Background()
	e := New(TypeIPBanned, map[string]any{"ip": "1.2.3.4"})
	if err := pub.Publish(ctx, e); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msgs, err := client.XRange(ctx, "test:events", "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(msgs))
	}
	if msgs[0].Values["type"] != TypeIPBanned || msgs[0].Values["event_id"] != e.ID {
		t.Fatalf("unexpected values: %+v", msgs[0].Values)
	}
	var decoded Event
	if err := json.Unmarshal([]byte(msgs[0].Values["body"].(string)), &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.Payload["ip"] != "1.2.3.4" {
		t.Fatalf("unexpected payload: %+v", decoded.Payload)
	}
}

func TestPublishRejectsUntypedEvent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	pub, _ := NewRedisStreamPublisher(client, RedisStreamConfig{})
	if err := pub.Publish(context.Background(), Event{}); err == nil {
		t.Fatalf("expected untyped event to fail")
	}
}

type recordingPublisher struct {
	events []Event
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, e Event) error {
	r.events = append(r.events, e)
	return r.err
}

func TestFanoutPublishesToAll(t *testing.T) {
	ok := &recordingPublisher{}
	failing := &recordingPublisher{err: errors.New("down")}
	err := Fanout{ok, nil, failing}.Publish(context.Background(), New(TypeCommentReported, nil))
	if err == nil {
		t.Fatalf("expected joined error")
	}
	if len(ok.events) != 1 || len(failing.events) != 1 {
		t.Fatalf("expected every publisher to receive the event")
	}
}

func TestNewAMQPPublisherRequiresURL(t *testing.T) {
	if _, err := NewAMQPPublisher(" ", ""); err == nil {
		t.Fatalf("expected empty url to fail")
	}
}
