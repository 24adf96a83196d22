// Package events provides event bus implementations for worker lifecycle
// events.
//
// Implementations:
//   - redis: Redis Streams, one consumer group per subscription so every
//     subscriber sees every event
//   - memory: In-memory, single process
package events
