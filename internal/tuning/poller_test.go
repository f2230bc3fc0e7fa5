package tuning

import (
	"context"
	"testing"
	"time"

	"github.com/kalambet/recall/internal/question"
)

func TestPollerRunOnce(t *testing.T) {
	questions := newFakeQuestions(question.Question{UUID: "q1", Text: "a?", Answer: "a"})
	jobs := &fakeJobs{}
	queue := openTestQueue(t, questions, jobs, 10)
	ctx := context.Background()

	batchUUID, err := queue.Enqueue(ctx, "q1")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := queue.Offload(ctx, batchUUID); err != nil {
		t.Fatalf("Offload: %v", err)
	}

	jobs.jobStatus = "succeeded"
	p := NewPoller(queue, time.Minute)
	if err := p.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	b, err := queue.Read(ctx, batchUUID)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if b.Status != StatusSucceeded {
		t.Errorf("Status = %q, want %q", b.Status, StatusSucceeded)
	}
	if !b.EventsCached {
		t.Error("terminal batch did not cache its events")
	}
}

func TestPollerRunStopsOnCancel(t *testing.T) {
	queue := openTestQueue(t, newFakeQuestions(), &fakeJobs{}, 10)
	p := NewPoller(queue, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after cancel")
	}
}
