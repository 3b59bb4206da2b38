package main

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/brightcart/storefront-backend/pkg/config"
	"github.com/brightcart/storefront-backend/pkg/db/models"
	"github.com/brightcart/storefront-backend/pkg/logger"
)

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
}

func (f *fakeRepo) FetchUnpublished(limit, maxAttempts int) ([]models.OutboxEvent, error) {
	var out []models.OutboxEvent
	for _, e := range f.events {
		if e.PublishedAt != nil || e.AttemptCount >= maxAttempts {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRepo) MarkPublished(id uuid.UUID) error {
	f.published = append(f.published, id)
	for i := range f.events {
		if f.events[i].ID == id {
			now := time.Now()
			f.events[i].PublishedAt = &now
		}
	}
	return nil
}

func (f *fakeRepo) MarkFailed(id uuid.UUID, err error) error {
	f.failed = append(f.failed, id)
	for i := range f.events {
		if f.events[i].ID == id {
			f.events[i].AttemptCount++
		}
	}
	return nil
}

type fakeSink struct {
	failFor   map[uuid.UUID]error
	delivered []uuid.UUID
}

func (f *fakeSink) Deliver(_ context.Context, event models.OutboxEvent) error {
	if err, ok := f.failFor[event.ID]; ok {
		return err
	}
	f.delivered = append(f.delivered, event.ID)
	return nil
}

func newTestService(t *testing.T, repo outboxRepository, s sink) *Service {
	t.Helper()
	cfg := &config.Config{}
	cfg.Outbox.BatchSize = 10
	cfg.Outbox.MaxAttempts = 3
	cfg.Outbox.PollInterval = time.Millisecond

	svc, err := NewService(ServiceParams{
		Config:     cfg,
		Logger:     logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Repository: repo,
		Sink:       s,
	})
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	return svc
}

func event(attempts int) models.OutboxEvent {
	return models.OutboxEvent{
		ID:           uuid.New(),
		EventType:    "order.created",
		AggregateID:  uuid.New(),
		Payload:      []byte(`{"version":1}`),
		AttemptCount: attempts,
	}
}

func TestProcessBatchPublishesAndMarks(t *testing.T) {
	first := event(0)
	second := event(0)
	repo := &fakeRepo{events: []models.OutboxEvent{first, second}}
	out := &fakeSink{}
	svc := newTestService(t, repo, out)

	processed, err := svc.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if !processed {
		t.Fatal("expected batch to report work")
	}
	if len(out.delivered) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(out.delivered))
	}
	if len(repo.published) != 2 {
		t.Fatalf("expected 2 published marks, got %d", len(repo.published))
	}
}

func TestProcessBatchMarksFailureAndContinues(t *testing.T) {
	bad := event(0)
	good := event(0)
	repo := &fakeRepo{events: []models.OutboxEvent{bad, good}}
	out := &fakeSink{failFor: map[uuid.UUID]error{bad.ID: errors.New("sink down")}}
	svc := newTestService(t, repo, out)

	if _, err := svc.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(repo.failed) != 1 || repo.failed[0] != bad.ID {
		t.Fatalf("expected failure mark for bad event, got %v", repo.failed)
	}
	if len(repo.published) != 1 || repo.published[0] != good.ID {
		t.Fatalf("expected good event published, got %v", repo.published)
	}
}

func TestExhaustedEventsAreSkipped(t *testing.T) {
	exhausted := event(3)
	repo := &fakeRepo{events: []models.OutboxEvent{exhausted}}
	out := &fakeSink{}
	svc := newTestService(t, repo, out)

	processed, err := svc.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if processed {
		t.Fatal("expected no work for exhausted event")
	}
	if len(out.delivered) != 0 {
		t.Fatalf("expected no deliveries, got %d", len(out.delivered))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	repo := &fakeRepo{}
	svc := newTestService(t, repo, &fakeSink{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Run(ctx)
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("publisher did not stop after cancel")
	}
}
