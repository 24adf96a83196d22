package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aescanero/robotd/internal/domain"
	"github.com/aescanero/robotd/internal/ports"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultMaxLen bounds each stream; older entries are trimmed approximately
const DefaultMaxLen = 10000

// StreamsEventBus implements EventBus using Redis Streams.
//
// Every subscription reads through its own consumer group created at the
// stream tail, so all subscribers see every event published after they
// subscribed. The group is destroyed when the subscription ends.
type StreamsEventBus struct {
	client       *redis.Client
	logger       *zap.Logger
	groupPrefix  string
	consumerName string
	maxLen       int64

	mu      sync.Mutex
	readers map[string][]*streamReader
}

type streamReader struct {
	group  string
	cancel context.CancelFunc
	done   chan struct{}
}

// NewStreamsEventBus creates a new Redis Streams event bus
func NewStreamsEventBus(client *redis.Client, groupPrefix, consumerName string, maxLen int64, logger *zap.Logger) (*StreamsEventBus, error) {
	if groupPrefix == "" {
		return nil, fmt.Errorf("consumer group prefix is required")
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &StreamsEventBus{
		client:       client,
		logger:       logger,
		groupPrefix:  groupPrefix,
		consumerName: consumerName,
		maxLen:       maxLen,
		readers:      make(map[string][]*streamReader),
	}, nil
}

// Publish publishes an event to the appropriate stream topic
func (e *StreamsEventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	streamKey := getStreamKey(topic)

	// Serialize event
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// Add to stream
	args := &redis.XAddArgs{
		Stream: streamKey,
		MaxLen: e.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}

	if _, err := e.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	e.logger.Debug("event published",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("worker_id", event.WorkerID),
		zap.String("topic", topic),
		zap.String("stream", streamKey))

	return nil
}

// Subscribe subscribes to events on a specific topic until ctx is cancelled
// or the topic is unsubscribed
func (e *StreamsEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	streamKey := getStreamKey(topic)
	group := fmt.Sprintf("%s:%s", e.groupPrefix, uuid.New().String())

	// Only events published from now on
	err := e.client.XGroupCreateMkStream(ctx, streamKey, group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	readCtx, cancel := context.WithCancel(ctx)
	reader := &streamReader{group: group, cancel: cancel, done: make(chan struct{})}

	e.mu.Lock()
	e.readers[topic] = append(e.readers[topic], reader)
	e.mu.Unlock()

	e.logger.Info("subscribed to event stream",
		zap.String("stream", streamKey),
		zap.String("topic", topic),
		zap.String("consumer_group", group),
		zap.String("consumer", e.consumerName))

	// Start reading from stream
	go func() {
		defer close(reader.done)
		defer e.removeReader(topic, reader)
		defer e.destroyGroup(streamKey, group)
		e.readStream(readCtx, streamKey, group, handler)
	}()

	return nil
}

// readStream reads events from a stream
func (e *StreamsEventBus) readStream(ctx context.Context, streamKey, group string, handler ports.EventHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			// Read from stream
			streams, err := e.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    group,
				Consumer: e.consumerName,
				Streams:  []string{streamKey, ">"},
				Count:    10,
				Block:    time.Second,
			}).Result()

			if err != nil {
				if errors.Is(err, redis.Nil) {
					// No new messages
					continue
				}
				if ctx.Err() != nil {
					return
				}
				e.logger.Error("failed to read from stream",
					zap.String("stream", streamKey),
					zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}

			// Process messages
			for _, stream := range streams {
				for _, message := range stream.Messages {
					e.processMessage(ctx, streamKey, group, message, handler)
				}
			}
		}
	}
}

// processMessage processes a single message from the stream
func (e *StreamsEventBus) processMessage(ctx context.Context, streamKey, group string, message redis.XMessage, handler ports.EventHandler) {
	// Extract event data
	data, ok := message.Values["data"].(string)
	if !ok {
		e.logger.Error("invalid message format",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID))
		return
	}

	// Deserialize event
	var event domain.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		e.logger.Error("failed to unmarshal event",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return
	}

	// Call handler
	if err := handler(ctx, event); err != nil {
		e.logger.Error("handler error",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return
	}

	// Acknowledge message
	if err := e.client.XAck(ctx, streamKey, group, message.ID).Err(); err != nil {
		e.logger.Error("failed to acknowledge message",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
	}
}

// destroyGroup removes a subscription's consumer group. It runs after the
// subscription context is gone, so it uses its own bounded context.
func (e *StreamsEventBus) destroyGroup(streamKey, group string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.client.XGroupDestroy(ctx, streamKey, group).Err(); err != nil {
		e.logger.Warn("failed to destroy consumer group",
			zap.String("stream", streamKey),
			zap.String("consumer_group", group),
			zap.Error(err))
	}
}

func (e *StreamsEventBus) removeReader(topic string, reader *streamReader) {
	e.mu.Lock()
	defer e.mu.Unlock()

	readers := e.readers[topic]
	for i, r := range readers {
		if r == reader {
			e.readers[topic] = append(readers[:i:i], readers[i+1:]...)
			break
		}
	}
	if len(e.readers[topic]) == 0 {
		delete(e.readers, topic)
	}
}

// Unsubscribe stops every reader of a topic and waits for them to exit
func (e *StreamsEventBus) Unsubscribe(ctx context.Context, topic string) error {
	e.mu.Lock()
	readers := append([]*streamReader(nil), e.readers[topic]...)
	e.mu.Unlock()

	return e.stop(ctx, readers)
}

// Close stops every reader. The Redis client is closed by the caller.
func (e *StreamsEventBus) Close() error {
	e.mu.Lock()
	var readers []*streamReader
	for _, rs := range e.readers {
		readers = append(readers, rs...)
	}
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.stop(ctx, readers)
}

func (e *StreamsEventBus) stop(ctx context.Context, readers []*streamReader) error {
	for _, r := range readers {
		r.cancel()
	}
	for _, r := range readers {
		select {
		case <-r.done:
		case <-ctx.Done():
			return fmt.Errorf("waiting for stream readers: %w", ctx.Err())
		}
	}
	return nil
}

// getStreamKey returns the Redis stream key for a topic
func getStreamKey(topic string) string {
	return fmt.Sprintf("robotd:events:%s", topic)
}
