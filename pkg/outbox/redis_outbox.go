// Package outbox persists failed search-index writes as replayable intents.
//
// The repository and the index are written without a transaction, so an
// index write can fail after the repository write already committed. Instead
// of rolling back or silently succeeding, the service records the intent
// here (a Redis stream) and a consumer replays it against the index until it
// lands or the retry budget runs out.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Index operations carried by an intent.
const (
	OpUpsert = "upsert"
	OpDelete = "delete"
)

// Intent statuses.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// Intent is one pending index write awaiting replay.
type Intent struct {
	ID           string    `json:"id"`
	Op           string    `json:"op"`
	BookID       string    `json:"bookId"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// RedisOutbox stores intents on a Redis stream with a consumer group, so
// delivery survives process restarts and stalled consumers are reclaimed.
type RedisOutbox struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	intentTTL    time.Duration
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	once         sync.Once
}

// Config for the Redis outbox. Zero values fall back to sane defaults.
type Config struct {
	Addr       string
	Password   string
	Stream     string
	Group      string
	Consumer   string
	IntentTTL  time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
}

// NewRedisOutbox validates config and connects the client.
func NewRedisOutbox(cfg Config) (*RedisOutbox, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("outbox stream required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "default"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = uuid.NewString()
	}
	intentTTL := cfg.IntentTTL
	if intentTTL <= 0 {
		intentTTL = 24 * time.Hour
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 30 * time.Second
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 10
	}
	claimCount := cfg.ClaimCount
	if claimCount <= 0 {
		claimCount = 10
	}

	return &RedisOutbox{
		client:       redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		intentTTL:    intentTTL,
		maxRetries:   maxRetries,
		block:        block,
		claimIdle:    claimIdle,
		retryDelay:   retryDelay,
		maxLen:       maxLen,
		readCount:    readCount,
		claimCount:   claimCount,
	}, nil
}

// Enqueue records an intent and publishes it to the stream.
func (o *RedisOutbox) Enqueue(ctx context.Context, op, bookID string) (Intent, error) {
	op = strings.TrimSpace(op)
	if op != OpUpsert && op != OpDelete {
		return Intent{}, fmt.Errorf("unknown index op %q", op)
	}
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return Intent{}, errors.New("bookId required")
	}
	intent := Intent{
		ID:        uuid.NewString(),
		Op:        op,
		BookID:    bookID,
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := o.writeStatus(ctx, intent); err != nil {
		return Intent{}, err
	}
	if err := o.client.XAdd(ctx, &redis.XAddArgs{
		Stream: o.stream,
		MaxLen: o.maxLen,
		Approx: true,
		Values: map[string]any{
			"intent_id": intent.ID,
			"op":        intent.Op,
			"book_id":   intent.BookID,
		},
	}).Err(); err != nil {
		return Intent{}, err
	}
	return intent, nil
}

// GetIntent fetches intent status by ID.
func (o *RedisOutbox) GetIntent(ctx context.Context, intentID string) (Intent, bool, error) {
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return Intent{}, false, nil
	}
	data, err := o.client.HGetAll(ctx, o.intentKey(intentID)).Result()
	if err != nil {
		return Intent{}, false, err
	}
	if len(data) == 0 {
		return Intent{}, false, nil
	}
	return decodeIntent(intentID, data), true, nil
}

// Start launches consumer goroutines that replay intents through handler.
// A handler error requeues the intent until maxRetries is exhausted.
func (o *RedisOutbox) Start(ctx context.Context, concurrency int, handler func(context.Context, Intent) error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	o.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", o.consumerBase, i)
		go o.consumeLoop(ctx, consumer, handler)
	}
}

func (o *RedisOutbox) ensureGroup(ctx context.Context) {
	o.once.Do(func() {
		// Start at 0 so intents enqueued before any consumer ran are still
		// delivered. BUSYGROUP just means the group already exists.
		err := o.client.XGroupCreateMkStream(ctx, o.stream, o.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			slog.Warn("outbox group create failed", "stream", o.stream, "group", o.group, "err", err)
		}
	})
}

func (o *RedisOutbox) consumeLoop(ctx context.Context, consumer string, handler func(context.Context, Intent) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := o.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				o.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := o.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    o.group,
			Consumer: consumer,
			Streams:  []string{o.stream, ">"},
			Count:    o.readCount,
			Block:    o.block,
		}).Result()
		if err != nil {
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				o.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (o *RedisOutbox) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := o.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   o.stream,
		Group:    o.group,
		Consumer: consumer,
		MinIdle:  o.claimIdle,
		Start:    "0-0",
		Count:    o.claimCount,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (o *RedisOutbox) handleMessage(ctx context.Context, msg redis.XMessage, handler func(context.Context, Intent) error) {
	intentID, _ := msg.Values["intent_id"].(string)
	op, _ := msg.Values["op"].(string)
	bookID, _ := msg.Values["book_id"].(string)
	if intentID == "" || op == "" || bookID == "" {
		o.ackAndDel(ctx, msg.ID)
		return
	}
	intent, err := o.markProcessing(ctx, intentID, op, bookID)
	if err != nil {
		o.ackAndDel(ctx, msg.ID)
		return
	}
	if err := handler(ctx, intent); err == nil {
		_ = o.markDone(ctx, intentID)
		o.ackAndDel(ctx, msg.ID)
		return
	} else if intent.Attempts >= o.maxRetries {
		_ = o.markFailed(ctx, intentID, err.Error())
		o.ackAndDel(ctx, msg.ID)
		return
	} else {
		_ = o.markQueued(ctx, intentID, err.Error())
	}
	if o.retryDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(o.retryDelay):
		}
	}
	_ = o.requeueAndAck(ctx, msg.ID, intentID, op, bookID)
}

func (o *RedisOutbox) ackAndDel(ctx context.Context, msgID string) {
	_, _ = o.client.XAck(ctx, o.stream, o.group, msgID).Result()
	_, _ = o.client.XDel(ctx, o.stream, msgID).Result()
}

func (o *RedisOutbox) requeueAndAck(ctx context.Context, msgID, intentID, op, bookID string) error {
	pipe := o.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: o.stream,
		MaxLen: o.maxLen,
		Approx: true,
		Values: map[string]any{
			"intent_id": intentID,
			"op":        op,
			"book_id":   bookID,
		},
	})
	pipe.XAck(ctx, o.stream, o.group, msgID)
	pipe.XDel(ctx, o.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (o *RedisOutbox) markProcessing(ctx context.Context, intentID, op, bookID string) (Intent, error) {
	intent, _, err := o.GetIntent(ctx, intentID)
	if err != nil {
		return Intent{}, err
	}
	if intent.ID == "" {
		intent = Intent{ID: intentID}
	}
	if op != "" {
		intent.Op = op
	}
	if bookID != "" {
		intent.BookID = bookID
	}
	intent.Attempts++
	intent.Status = StatusProcessing
	intent.UpdatedAt = time.Now().UTC()
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = intent.UpdatedAt
	}
	if err := o.writeStatus(ctx, intent); err != nil {
		return Intent{}, err
	}
	return intent, nil
}

func (o *RedisOutbox) markQueued(ctx context.Context, intentID, errMsg string) error {
	return o.setStatus(ctx, intentID, StatusQueued, errMsg)
}

func (o *RedisOutbox) markDone(ctx context.Context, intentID string) error {
	return o.setStatus(ctx, intentID, StatusDone, "")
}

func (o *RedisOutbox) markFailed(ctx context.Context, intentID, errMsg string) error {
	return o.setStatus(ctx, intentID, StatusFailed, errMsg)
}

func (o *RedisOutbox) setStatus(ctx context.Context, intentID, status, errMsg string) error {
	intent, _, err := o.GetIntent(ctx, intentID)
	if err != nil {
		return err
	}
	intent.Status = status
	intent.ErrorMessage = errMsg
	intent.UpdatedAt = time.Now().UTC()
	return o.writeStatus(ctx, intent)
}

func (o *RedisOutbox) writeStatus(ctx context.Context, intent Intent) error {
	payload := map[string]any{
		"id":        intent.ID,
		"op":        intent.Op,
		"bookId":    intent.BookID,
		"status":    intent.Status,
		"error":     intent.ErrorMessage,
		"attempts":  strconv.Itoa(intent.Attempts),
		"createdAt": intent.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt": intent.UpdatedAt.Format(time.RFC3339Nano),
	}
	key := o.intentKey(intent.ID)
	if err := o.client.HSet(ctx, key, payload).Err(); err != nil {
		return err
	}
	_ = o.client.Expire(ctx, key, o.intentTTL).Err()
	return nil
}

func (o *RedisOutbox) intentKey(intentID string) string {
	return fmt.Sprintf("intent:%s:%s", o.stream, intentID)
}

func decodeIntent(intentID string, data map[string]string) Intent {
	intent := Intent{ID: intentID}
	intent.Op = data["op"]
	intent.BookID = data["bookId"]
	intent.Status = data["status"]
	intent.ErrorMessage = data["error"]
	if v := data["attempts"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			intent.Attempts = n
		}
	}
	if v := data["createdAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			intent.CreatedAt = t
		}
	}
	if v := data["updatedAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			intent.UpdatedAt = t
		}
	}
	return intent
}
