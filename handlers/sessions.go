package handlers

import (
	"context"
	"sync"
	"time"

	"jankenserver/game"
	"jankenserver/models"
	"jankenserver/room"

	"go.uber.org/zap"
)

type sessionEntry struct {
	client   *game.Client
	cancel   context.CancelFunc
	lastSeen time.Time
}

// Sessions はこのプロセスで動いている game.Client をプレイヤーIDごとに持つ
type Sessions struct {
	repo   *room.Repository
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]*sessionEntry
	now     func() time.Time
}

func NewSessions(repo *room.Repository, logger *zap.Logger) *Sessions {
	return &Sessions{
		repo:    repo,
		logger:  logger,
		entries: make(map[string]*sessionEntry),
		now:     time.Now,
	}
}

// Join はルームに参加し、クライアントを動かし始める。
// 購読はリクエストが終わっても続く
func (s *Sessions) Join(ctx context.Context, roomID, name string) (*game.Client, error) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	client, err := game.Join(runCtx, s.repo, roomID, name, s.logger)
	if err != nil {
		cancel()
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.start(runCtx, cancel, client)
	return client, nil
}

// Get はセッションのクライアントを返す。このプロセスが知らない(再起動後など)
// セッションは参加の書き込みをせずに購読だけやり直す
func (s *Sessions) Get(ctx context.Context, session models.Session) (*game.Client, error) {
	if client, ok := s.lookup(session.PlayerID); ok {
		return client, nil
	}

	// 購読のやり直しはバックエンドへの通信を伴うのでロックの外で行う
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	client, err := game.Resume(runCtx, s.repo, session, s.logger)
	if err != nil {
		cancel()
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[session.PlayerID]; ok && !isDone(e.client) {
		// 先に別のリクエストが再開していればそちらを使う
		cancel()
		client.Close()
		e.lastSeen = s.now()
		return e.client, nil
	}
	s.logger.Info("Session resumed", zap.String("roomID", session.RoomID), zap.String("playerID", session.PlayerID))
	s.start(runCtx, cancel, client)
	return client, nil
}

// lookup は動いているクライアントを返し、最終操作時刻を更新する。
// 止まったクライアントは取り除く
func (s *Sessions) lookup(playerID string) (*game.Client, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[playerID]
	if !ok {
		return nil, false
	}
	if isDone(e.client) {
		delete(s.entries, playerID)
		return nil, false
	}
	e.lastSeen = s.now()
	return e.client, true
}

func isDone(client *game.Client) bool {
	select {
	case <-client.Done():
		return true
	default:
		return false
	}
}

// Touch は最終操作時刻を更新する
func (s *Sessions) Touch(playerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[playerID]; ok {
		e.lastSeen = s.now()
	}
}

// s.mu を保持して呼ぶ
func (s *Sessions) start(ctx context.Context, cancel context.CancelFunc, client *game.Client) {
	s.entries[client.Session().PlayerID] = &sessionEntry{client: client, cancel: cancel, lastSeen: s.now()}

	go func() {
		if err := client.Run(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("Client stopped", zap.String("playerID", client.Session().PlayerID), zap.Error(err))
		}
	}()
}

// Sweep は idleTTL より長く使われていないセッションを止める
func (s *Sessions) Sweep(now time.Time, idleTTL time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.entries {
		if now.Sub(e.lastSeen) < idleTTL {
			continue
		}
		e.cancel()
		e.client.Close()
		delete(s.entries, id)
		removed++
	}
	return removed
}

// Len は動いているセッションの数
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close はすべてのセッションを止める
func (s *Sessions) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		e.cancel()
		e.client.Close()
		delete(s.entries, id)
	}
}
