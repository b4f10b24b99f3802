package queue

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

func TestMessageIDDeterministic(t *testing.T) {
	a := MessageID(TopicNodeMoved, "f1|ws/a")
	b := MessageID(TopicNodeMoved, "f1|ws/a")
	c := MessageID(TopicNodeMoved, "f1|ws/b")

	if a != b {
		t.Fatalf("same input gave %s and %s", a, b)
	}

	if a == c {
		t.Fatalf("different keys collided: %s", a)
	}
}

func TestPublishNodeMoved(t *testing.T) {
	ps := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, watermill.NopLogger{})
	defer ps.Close()

	payload := NodeMovedPayload{
		Node:    NodeRef{FileID: "f1", ProjectID: "p1", FileKey: "ws/b/x.txt"},
		FromKey: "ws/a/x.txt",
	}

	if err := PublishNodeMoved(ps, payload, WithProducer("test")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ch, err := ps.Subscribe(t.Context(), TopicNodeMoved)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	msg := <-ch
	msg.Ack()

	if msg.UUID != MessageID(TopicNodeMoved, "f1|ws/b/x.txt") {
		t.Fatalf("unexpected message id %s", msg.UUID)
	}

	env, err := ParseNodeMoved(msg)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if env.Header.Producer != "test" || env.Payload.FromKey != "ws/a/x.txt" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}
