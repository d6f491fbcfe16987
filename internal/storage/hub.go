// internal/storage/hub.go
package storage

import (
	"context"
	"sync"
	"time"
)

type listFunc func(ctx context.Context, q Query) ([]Document, error)

type subscriber struct {
	query Query
	kick  chan struct{}
}

// hub 把集合变更扇出给订阅者，每次推送完整快照
type hub struct {
	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	done   chan struct{}
	closed bool
}

func newHub() *hub {
	return &hub{
		subs: make(map[string]map[*subscriber]struct{}),
		done: make(chan struct{}),
	}
}

func (h *hub) subscribe(ctx context.Context, q Query, list listFunc) (<-chan Snapshot, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	sub := &subscriber{query: q, kick: make(chan struct{}, 1)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	if h.subs[q.Collection] == nil {
		h.subs[q.Collection] = make(map[*subscriber]struct{})
	}
	h.subs[q.Collection][sub] = struct{}{}
	h.mu.Unlock()

	out := make(chan Snapshot, 1)
	sub.kick <- struct{}{}

	go func() {
		defer close(out)
		defer h.remove(sub)

		for {
			select {
			case <-ctx.Done():
				return
			case <-h.done:
				return
			case <-sub.kick:
			}

			at := time.Now()
			docs, err := list(ctx, q)
			if ctx.Err() != nil {
				return
			}

			// 只保留最新快照
			select {
			case <-out:
			default:
			}
			out <- Snapshot{Docs: docs, Err: err, At: at}
		}
	}()

	return out, nil
}

func (h *hub) notify(collections ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range collections {
		for sub := range h.subs[c] {
			select {
			case sub.kick <- struct{}{}:
			default:
			}
		}
	}
}

func (h *hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subs[sub.query.Collection]
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.subs, sub.query.Collection)
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, subs := range h.subs {
		n += len(subs)
	}
	return n
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.closed {
		h.closed = true
		close(h.done)
	}
}
