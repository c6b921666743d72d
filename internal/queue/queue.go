// Package queue defines the priority queues connecting the pipeline stages.
// Queues never block; producers bound memory with PushWhenReady.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/icrawler/internal/retry"
)

// DefaultCapacity is the advisory bound of both stage queues.
const DefaultCapacity = 1000

// Item is one queued body with its priority. Lower priorities dequeue first.
type Item struct {
	Priority int
	Body     string
}

// Queue is a non-blocking priority queue.
type Queue interface {
	Push(priority int, body string)
	// Pop returns false when the queue is empty.
	Pop() (Item, bool)
	Len() int
}

// PushWhenReady waits while q holds capacity items or more, polling every
// interval, then pushes. It returns only after the push or when ctx ends.
func PushWhenReady(ctx context.Context, q Queue, capacity int, interval time.Duration, priority int, body string) error {
	for capacity > 0 && q.Len() >= capacity {
		if err := retry.Sleep(ctx, interval); err != nil {
			return fmt.Errorf("queue push: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("queue push: %w", err)
	}
	q.Push(priority, body)
	return nil
}

// Full reports whether q is at or above capacity.
func Full(q Queue, capacity int) bool {
	return capacity > 0 && q.Len() >= capacity
}
