package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestOutbox(t *testing.T) *RedisOutbox {
	t.Helper()
	mr := miniredis.RunT(t)
	o, err := NewRedisOutbox(Config{
		Addr:       mr.Addr(),
		Stream:     "test:index",
		Group:      "test-replay",
		Consumer:   "test-consumer",
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewRedisOutbox: %v", err)
	}
	t.Cleanup(func() { _ = o.client.Close() })
	return o
}

func streamLen(t *testing.T, o *RedisOutbox) int64 {
	t.Helper()
	n, err := o.client.XLen(context.Background(), o.stream).Result()
	if err != nil {
		t.Fatalf("XLen: %v", err)
	}
	return n
}

func TestEnqueueWritesStreamAndStatus(t *testing.T) {
	o := newTestOutbox(t)
	ctx := context.Background()

	intent, err := o.Enqueue(ctx, OpUpsert, "book-1")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if intent.ID == "" || intent.Status != StatusQueued {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if got := streamLen(t, o); got != 1 {
		t.Fatalf("stream length = %d, want 1", got)
	}

	stored, ok, err := o.GetIntent(ctx, intent.ID)
	if err != nil {
		t.Fatalf("GetIntent: %v", err)
	}
	if !ok {
		t.Fatal("intent status missing")
	}
	if stored.Op != OpUpsert || stored.BookID != "book-1" || stored.Status != StatusQueued {
		t.Fatalf("unexpected stored intent %+v", stored)
	}
}

func TestEnqueueRejectsUnknownOp(t *testing.T) {
	o := newTestOutbox(t)
	if _, err := o.Enqueue(context.Background(), "compact", "book-1"); err == nil {
		t.Fatal("expected error for unknown op")
	}
	if _, err := o.Enqueue(context.Background(), OpDelete, " "); err == nil {
		t.Fatal("expected error for empty book id")
	}
}

func TestGetIntentUnknownID(t *testing.T) {
	o := newTestOutbox(t)
	_, ok, err := o.GetIntent(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetIntent: %v", err)
	}
	if ok {
		t.Fatal("unknown intent must not be found")
	}
}

func TestHandleMessageSuccessAcksAndMarksDone(t *testing.T) {
	o := newTestOutbox(t)
	ctx := context.Background()

	intent, err := o.Enqueue(ctx, OpUpsert, "book-1")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	msgs, err := o.client.XRange(ctx, o.stream, "-", "+").Result()
	if err != nil || len(msgs) != 1 {
		t.Fatalf("XRange: %v (%d msgs)", err, len(msgs))
	}

	var handled Intent
	o.handleMessage(ctx, msgs[0], func(_ context.Context, in Intent) error {
		handled = in
		return nil
	})

	if handled.BookID != "book-1" || handled.Op != OpUpsert {
		t.Fatalf("handler saw %+v", handled)
	}
	if handled.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", handled.Attempts)
	}
	stored, _, err := o.GetIntent(ctx, intent.ID)
	if err != nil {
		t.Fatalf("GetIntent: %v", err)
	}
	if stored.Status != StatusDone {
		t.Fatalf("status = %q, want done", stored.Status)
	}
	if got := streamLen(t, o); got != 0 {
		t.Fatalf("message not removed, stream length = %d", got)
	}
}

func TestHandleMessageFailureRequeues(t *testing.T) {
	o := newTestOutbox(t)
	ctx := context.Background()

	intent, err := o.Enqueue(ctx, OpDelete, "book-2")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	msgs, err := o.client.XRange(ctx, o.stream, "-", "+").Result()
	if err != nil || len(msgs) != 1 {
		t.Fatalf("XRange: %v (%d msgs)", err, len(msgs))
	}

	o.handleMessage(ctx, msgs[0], func(context.Context, Intent) error {
		return errors.New("index still down")
	})

	stored, _, err := o.GetIntent(ctx, intent.ID)
	if err != nil {
		t.Fatalf("GetIntent: %v", err)
	}
	if stored.Status != StatusQueued {
		t.Fatalf("status = %q, want queued for retry", stored.Status)
	}
	if stored.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", stored.Attempts)
	}
	if stored.ErrorMessage != "index still down" {
		t.Fatalf("error = %q", stored.ErrorMessage)
	}
	// The original message was swapped for a fresh one.
	if got := streamLen(t, o); got != 1 {
		t.Fatalf("stream length = %d, want 1", got)
	}
	requeued, err := o.client.XRange(ctx, o.stream, "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange: %v", err)
	}
	if requeued[0].ID == msgs[0].ID {
		t.Fatal("expected a new message id after requeue")
	}
	if requeued[0].Values["intent_id"] != intent.ID {
		t.Fatalf("requeued values = %v", requeued[0].Values)
	}
}

func TestHandleMessageExhaustsRetries(t *testing.T) {
	o := newTestOutbox(t)
	ctx := context.Background()

	intent, err := o.Enqueue(ctx, OpUpsert, "book-3")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	failing := func(context.Context, Intent) error { return errors.New("boom") }
	for i := 0; i < o.maxRetries; i++ {
		msgs, err := o.client.XRange(ctx, o.stream, "-", "+").Result()
		if err != nil || len(msgs) != 1 {
			t.Fatalf("attempt %d: XRange: %v (%d msgs)", i, err, len(msgs))
		}
		o.handleMessage(ctx, msgs[0], failing)
	}

	stored, _, err := o.GetIntent(ctx, intent.ID)
	if err != nil {
		t.Fatalf("GetIntent: %v", err)
	}
	if stored.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", stored.Status)
	}
	if stored.Attempts != o.maxRetries {
		t.Fatalf("attempts = %d, want %d", stored.Attempts, o.maxRetries)
	}
	if got := streamLen(t, o); got != 0 {
		t.Fatalf("failed intent must leave the stream, length = %d", got)
	}
}

func TestHandleMessageDropsMalformedEntries(t *testing.T) {
	o := newTestOutbox(t)
	ctx := context.Background()

	if err := o.client.XAdd(ctx, &redis.XAddArgs{
		Stream: o.stream,
		Values: map[string]any{"garbage": "yes"},
	}).Err(); err != nil {
		t.Fatalf("XAdd: %v", err)
	}
	msgs, err := o.client.XRange(ctx, o.stream, "-", "+").Result()
	if err != nil || len(msgs) != 1 {
		t.Fatalf("XRange: %v (%d msgs)", err, len(msgs))
	}

	called := false
	o.handleMessage(ctx, msgs[0], func(context.Context, Intent) error {
		called = true
		return nil
	})
	if called {
		t.Fatal("handler must not run for malformed entries")
	}
	if got := streamLen(t, o); got != 0 {
		t.Fatalf("malformed entry not dropped, stream length = %d", got)
	}
}
