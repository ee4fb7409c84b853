package events

import (
	"sync"
	"testing"
	"time"
)

func TestHub_PublishSubscribe(t *testing.T) {
	hub := NewHub()

	ch := hub.Subscribe(10, EventMutationFinished)

	hub.EmitMutation(MutationData{SubmissionID: "abc", Operation: "add", State: "succeeded", Handle: 12})

	select {
	case e := <-ch:
		if e.Type != EventMutationFinished {
			t.Errorf("expected EventMutationFinished, got %s", e.Type)
		}
		data, ok := e.Data.(MutationData)
		if !ok {
			t.Fatal("expected MutationData")
		}
		if data.Handle != 12 {
			t.Errorf("expected handle 12, got %d", data.Handle)
		}
		if e.Timestamp.IsZero() {
			t.Error("expected timestamp to be set")
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for event")
	}
}

func TestHub_GlobalSubscription(t *testing.T) {
	hub := NewHub()

	ch := hub.Subscribe(10)

	hub.EmitFetch(3, nil)
	hub.EmitMutationStep(time.Now(), MutationStepData{State: "adding"})
	hub.EmitMutation(MutationData{State: "failed"})

	received := 0
	for i := 0; i < 3; i++ {
		select {
		case <-ch:
			received++
		case <-time.After(100 * time.Millisecond):
		}
	}

	if received != 3 {
		t.Errorf("expected 3 events, got %d", received)
	}
}

func TestHub_TypeFiltering(t *testing.T) {
	hub := NewHub()

	ch := hub.Subscribe(10, EventMutationStep, EventMutationFinished)

	hub.EmitFetch(1, nil)
	hub.EmitMutationStep(time.Now(), MutationStepData{State: "validating"})
	hub.EmitFetch(1, nil)
	hub.EmitMutation(MutationData{State: "succeeded"})

	received := 0
	for {
		select {
		case <-ch:
			received++
		case <-time.After(50 * time.Millisecond):
			goto done
		}
	}
done:

	if received != 2 {
		t.Errorf("expected 2 mutation events, got %d", received)
	}
}

func TestHub_StepKeepsTimestamp(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe(1, EventMutationStep)

	at := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	hub.EmitMutationStep(at, MutationStepData{State: "deleting_old"})

	e := <-ch
	if !e.Timestamp.Equal(at) {
		t.Errorf("expected timestamp %v, got %v", at, e.Timestamp)
	}
}

func TestHub_NonBlocking(t *testing.T) {
	hub := NewHub()

	_ = hub.Subscribe(1, EventRulesetFetched)

	for i := 0; i < 10; i++ {
		hub.EmitFetch(i, nil)
	}

	published, dropped := hub.Stats()
	if published != 10 {
		t.Errorf("expected 10 published, got %d", published)
	}
	if dropped < 9 {
		t.Errorf("expected at least 9 dropped, got %d", dropped)
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe(10)
	hub.Unsubscribe(ch)

	hub.EmitFetch(1, nil)

	select {
	case <-ch:
		t.Error("unsubscribed channel received an event")
	default:
	}
}

func TestHub_NilIsNoop(t *testing.T) {
	var hub *Hub
	hub.EmitMutation(MutationData{})
}

func TestHub_Concurrent(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe(1000, EventRulesetFetched)

	var wg sync.WaitGroup
	const numPublishers = 10
	const eventsPerPublisher = 100

	for i := 0; i < numPublishers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < eventsPerPublisher; j++ {
				hub.EmitFetch(j, nil)
			}
		}()
	}

	wg.Wait()

	received := 0
	for {
		select {
		case <-ch:
			received++
		default:
			goto done
		}
	}
done:

	if received < numPublishers*eventsPerPublisher/2 {
		t.Errorf("expected at least %d events, got %d", numPublishers*eventsPerPublisher/2, received)
	}
}
