package store

import (
	"context"
	"sync"
)

// subscription は最新のスナップショットだけを保持する1要素のメールボックス
type subscription struct {
	path   string
	ch     chan Snapshot
	done   chan struct{}
	mu     sync.Mutex
	once   sync.Once
	onStop func()
}

func newSubscription(path string, onStop func()) *subscription {
	return &subscription{
		path:   path,
		ch:     make(chan Snapshot, 1),
		done:   make(chan struct{}),
		onStop: onStop,
	}
}

func (s *subscription) Snapshots() <-chan Snapshot {
	return s.ch
}

// publish は古い未読を捨てて最新を入れる。ブロックしない
func (s *subscription) publish(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- snap
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.mu.Lock()
		close(s.done)
		close(s.ch)
		s.mu.Unlock()
		if s.onStop != nil {
			s.onStop()
		}
	})
}

func (s *subscription) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// bindContext はコンテキスト終了で購読を止める
func (s *subscription) bindContext(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			s.Unsubscribe()
		case <-s.done:
		}
	}()
}

// registry はバックエンドが持つ購読の一覧
type registry struct {
	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

func (r *registry) add(s *subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.subs == nil {
		r.subs = make(map[*subscription]struct{})
	}
	r.subs[s] = struct{}{}
	return nil
}

func (r *registry) remove(s *subscription) {
	r.mu.Lock()
	delete(r.subs, s)
	r.mu.Unlock()
}

func (r *registry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// closeAll は全購読を止める。以後の add は ErrClosed
func (r *registry) closeAll() {
	r.mu.Lock()
	r.closed = true
	subs := make([]*subscription, 0, len(r.subs))
	for s := range r.subs {
		subs = append(subs, s)
	}
	r.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}

// snapshot は現在の購読一覧のコピー
func (r *registry) snapshot() []*subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := make([]*subscription, 0, len(r.subs))
	for s := range r.subs {
		subs = append(subs, s)
	}
	return subs
}
