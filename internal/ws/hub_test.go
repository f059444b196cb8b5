package ws

import (
	"encoding/json"
	"testing"
	"time"
)

type chanSubscriber struct {
	payloads chan []byte
}

func newChanSubscriber() *chanSubscriber {
	return &chanSubscriber{payloads: make(chan []byte, 64)}
}

func (s *chanSubscriber) Send(payload []byte) error {
	s.payloads <- payload
	return nil
}

func (s *chanSubscriber) Close() {}

func (s *chanSubscriber) next(t *testing.T) Event {
	t.Helper()
	select {
	case payload := <-s.payloads:
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func TestHubBroadcastsToProjectSubscribers(t *testing.T) {
	hub := NewHub()
	sub := newChanSubscriber()
	other := newChanSubscriber()
	hub.Register("p1", sub)
	hub.Register("p2", other)

	hub.Publish(Event{Kind: "stage_update", ProjectID: "p1", DeploymentID: "dep-1", Stage: "build", Status: "running"})

	ev := sub.next(t)
	if ev.Stage != "build" || ev.DeploymentID != "dep-1" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	select {
	case <-other.payloads:
		t.Fatal("event leaked to another project's subscriber")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubReplaysRecentEventsToLateSubscriber(t *testing.T) {
	hub := NewHub()
	early := newChanSubscriber()
	hub.Register("p1", early)

	hub.Publish(Event{Kind: "stage_update", ProjectID: "p1", DeploymentID: "dep-1", Stage: "checkout", Status: "success"})
	hub.Publish(Event{Kind: "stage_update", ProjectID: "p1", DeploymentID: "dep-1", Stage: "build", Status: "running"})
	early.next(t)
	early.next(t)

	late := newChanSubscriber()
	hub.Register("p1", late)
	if ev := late.next(t); ev.Stage != "checkout" {
		t.Fatalf("first replayed event = %s, want checkout", ev.Stage)
	}
	if ev := late.next(t); ev.Stage != "build" {
		t.Fatalf("second replayed event = %s, want build", ev.Stage)
	}
}

func TestHubUnregisterStopsDelivery(t *testing.T) {
	hub := NewHub()
	sub := newChanSubscriber()
	hub.Register("p1", sub)
	hub.Publish(Event{ProjectID: "p1", Status: "running"})
	sub.next(t)

	hub.Unregister("p1", sub)
	hub.Publish(Event{ProjectID: "p1", Status: "success"})
	select {
	case <-sub.payloads:
		t.Fatal("unregistered subscriber still receives events")
	case <-time.After(50 * time.Millisecond):
	}
}
