package app

import (
	"sync"
	"testing"

	"live-poll-service/internal/domain"
)

func TestHubDropsOldestForSlowSubscriber(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(1)
	defer sub.Close()

	for i := int64(0); i < subscriptionBuffer+3; i++ {
		id := i
		if n := hub.Broadcast(1, domain.Event{Type: domain.EventQuestionChanged, SessionID: 1, QuestionID: &id}); n != 1 {
			t.Fatalf("expected delivery to 1 subscriber, got %d", n)
		}
	}

	first := <-sub.Events()
	if *first.QuestionID != 3 {
		t.Fatalf("expected the oldest events to be dropped, first is %d", *first.QuestionID)
	}
}

func TestHubCloseUnsubscribes(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(1)
	if hub.Count(1) != 1 {
		t.Fatalf("expected 1 subscriber")
	}
	sub.Close()
	sub.Close()

	if hub.Count(1) != 0 {
		t.Fatalf("expected no subscribers after close")
	}
	if _, ok := <-sub.Events(); ok {
		t.Fatalf("expected closed channel")
	}
	if n := hub.Broadcast(1, domain.Event{Type: domain.EventSessionEnded, SessionID: 1}); n != 0 {
		t.Fatalf("expected no delivery, got %d", n)
	}
}

func TestHubConcurrentSubscribeAndBroadcast(t *testing.T) {
	hub := NewHub()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub := hub.Subscribe(7)
			sub.Close()
		}()
		go func() {
			defer wg.Done()
			hub.Broadcast(7, domain.Event{Type: domain.EventQuestionChanged, SessionID: 7})
		}()
	}
	wg.Wait()
	if hub.Count(7) != 0 {
		t.Fatalf("expected all subscriptions released, got %d", hub.Count(7))
	}
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	locks := newKeyedMutex()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("k")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	if counter != 100 {
		t.Fatalf("expected 100 increments, got %d", counter)
	}
	if locks.size() != 0 {
		t.Fatalf("expected lock entries released, got %d", locks.size())
	}
}
