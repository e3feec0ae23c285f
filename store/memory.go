package store

import (
	"context"
	"sync"
)

// Memory はプロセス内のツリーストア。テストと1プロセスでの対戦に使う
type Memory struct {
	mu     sync.Mutex
	leaves map[string]any
	subs   registry
}

func NewMemory() *Memory {
	return &Memory{leaves: make(map[string]any)}
}

func (m *Memory) Write(ctx context.Context, path string, value any) error {
	path, mut, err := writeMutation(path, value)
	if err != nil {
		return err
	}
	return m.apply(path, mut)
}

func (m *Memory) Merge(ctx context.Context, path string, partial map[string]any) error {
	path, mut, err := mergeMutation(path, partial)
	if err != nil {
		return err
	}
	return m.apply(path, mut)
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	return m.Write(ctx, path, nil)
}

func (m *Memory) apply(path string, mut mutation) error {
	if m.subs.isClosed() {
		return ErrClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	mut.apply(m.leaves)
	for _, s := range m.subs.snapshot() {
		if related(path, s.path) {
			s.publish(snapshotOf(s.path, m.leaves))
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, path string) (Subscription, error) {
	path, err := cleanPath(path)
	if err != nil {
		return nil, err
	}

	var sub *subscription
	sub = newSubscription(path, func() { m.subs.remove(sub) })
	if err := m.subs.add(sub); err != nil {
		return nil, err
	}

	m.mu.Lock()
	sub.publish(snapshotOf(path, m.leaves))
	m.mu.Unlock()

	sub.bindContext(ctx)
	return sub, nil
}

// Get は path の現在値を返す
func (m *Memory) Get(path string) (Snapshot, error) {
	path, err := cleanPath(path)
	if err != nil {
		return Snapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return snapshotOf(path, m.leaves), nil
}

func (m *Memory) Close() error {
	m.subs.closeAll()
	return nil
}
