// internal/engine/input_queue.go
package engine

import "encoding/json"

// QueuedInput is one buffered player input, optionally tagged with the
// tick it should apply at. A zero tick means "as soon as possible".
type QueuedInput struct {
	PlayerID string
	Tick     int64
	Input    json.RawMessage
}

// InputQueue is a FIFO buffer of player inputs. Clients may pre-submit
// inputs tagged for a future tick; those stay queued until the tick
// arrives, while everything due drains in original enqueue order.
type InputQueue struct {
	entries []QueuedInput
}

// NewInputQueue returns an empty queue.
func NewInputQueue() *InputQueue {
	return &InputQueue{}
}

// Enqueue appends an input to the buffer.
func (q *InputQueue) Enqueue(playerID string, tick int64, input json.RawMessage) {
	q.entries = append(q.entries, QueuedInput{PlayerID: playerID, Tick: tick, Input: input})
}

// DrainReady removes and returns every entry scheduled for currentTick
// or earlier, preserving enqueue order. Future-tagged entries remain.
func (q *InputQueue) DrainReady(currentTick int64) []QueuedInput {
	var ready []QueuedInput
	var remaining []QueuedInput
	for _, e := range q.entries {
		if e.Tick <= currentTick {
			ready = append(ready, e)
		} else {
			remaining = append(remaining, e)
		}
	}
	q.entries = remaining
	return ready
}

// Len reports how many inputs are buffered.
func (q *InputQueue) Len() int {
	return len(q.entries)
}
