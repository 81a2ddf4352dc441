package client

import (
	"log/slog"
	"sync"
)

const peerQueueDepth = 64

// peerQueues runs one ordered worker per remote id. Negotiation messages for
// the same remote are handled one at a time in arrival order, while
// different remotes proceed concurrently. A full queue drops the task — the
// signaling channel is at-most-once anyway.
type peerQueues struct {
	logger *slog.Logger

	mu     sync.Mutex
	queues map[string]chan func()
	closed bool
}

func newPeerQueues(logger *slog.Logger) *peerQueues {
	return &peerQueues{
		logger: logger,
		queues: make(map[string]chan func()),
	}
}

func (q *peerQueues) enqueue(remoteID string, fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	ch, ok := q.queues[remoteID]
	if !ok {
		ch = make(chan func(), peerQueueDepth)
		q.queues[remoteID] = ch
		go func() {
			for task := range ch {
				task()
			}
		}()
	}

	select {
	case ch <- fn:
	default:
		q.logger.Warn("negotiation queue full, dropping task", "remote_id", remoteID)
	}
}

// drop stops the worker for a departed remote. Tasks already queued still run.
func (q *peerQueues) drop(remoteID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if ch, ok := q.queues[remoteID]; ok {
		close(ch)
		delete(q.queues, remoteID)
	}
}

// reset stops every worker; used when leaving a room. The queues can be used
// again afterwards for a fresh join.
func (q *peerQueues) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for id, ch := range q.queues {
		close(ch)
		delete(q.queues, id)
	}
}
