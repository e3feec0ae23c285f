// Package game は1人のプレイヤーのクライアント。
// ルームの購読を1つのゴルーチンで消費し、スナップショットごとに状態機械を回す
package game

import (
	"context"
	"fmt"
	"sync"

	"jankenserver/machine"
	"jankenserver/models"
	"jankenserver/room"
	"jankenserver/store"

	"go.uber.org/zap"
)

// Client は Session ごとに1つ。ストアへの書き込みはすべて Repository 経由
type Client struct {
	repo    *room.Repository
	session models.Session
	sub     store.Subscription
	logger  *zap.Logger

	mu       sync.Mutex
	view     models.View
	started  bool
	stopped  bool
	watchers map[chan models.View]struct{}
	ready    chan struct{}
	readyOne sync.Once
	done     chan struct{}
	once     sync.Once
}

// Join はルームに参加して購読を始める。Run を呼ぶまでスナップショットは処理されない
func Join(ctx context.Context, repo *room.Repository, roomID, name string, logger *zap.Logger) (*Client, error) {
	session, err := repo.JoinRoom(ctx, roomID, name)
	if err != nil {
		return nil, err
	}
	return Resume(ctx, repo, session, logger)
}

// Resume は既存のセッションで購読だけをやり直す。プレイヤーの書き込みはしない
func Resume(ctx context.Context, repo *room.Repository, session models.Session, logger *zap.Logger) (*Client, error) {
	sub, err := repo.SubscribeRoom(ctx, session.RoomID)
	if err != nil {
		return nil, err
	}

	logger = logger.With(zap.String("roomID", session.RoomID), zap.String("playerID", session.PlayerID))
	return &Client{
		repo:    repo,
		session: session,
		sub:     sub,
		logger:  logger,
		view: models.View{
			RoomID:   session.RoomID,
			PlayerID: session.PlayerID,
			Phase:    models.PhaseWaitingForOpponent,
			Status:   machine.StatusWaitingForOpponent,
		},
		watchers: make(map[chan models.View]struct{}),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

func (c *Client) Session() models.Session {
	return c.session
}

// View は最後に計算した状態
func (c *Client) View() models.View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// Watch は読み手ごとの View の購読。状態が変わるたびに最新の View を届け、
// 読み手が遅い場合は途中の View を飛ばす。Run が終わるとチャネルは閉じる。
// 戻り値の関数で購読をやめる
func (c *Client) Watch() (<-chan models.View, func()) {
	ch := make(chan models.View, 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		close(ch)
		return ch, func() {}
	}
	c.watchers[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if _, ok := c.watchers[ch]; ok {
				delete(c.watchers, ch)
				close(ch)
			}
		})
	}
}

// Ready は最初のスナップショットを処理すると閉じる
func (c *Client) Ready() <-chan struct{} {
	return c.ready
}

// Done は Run が終わると閉じる
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Run はスナップショットを順に処理する。購読が終わるかコンテキストが終わると戻る
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("client for %s already running", c.session.PlayerID)
	}
	c.started = true
	c.mu.Unlock()

	defer func() {
		c.sub.Unsubscribe()

		c.mu.Lock()
		c.stopped = true
		for ch := range c.watchers {
			delete(c.watchers, ch)
			close(ch)
		}
		c.mu.Unlock()

		c.once.Do(func() { close(c.done) })
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-c.sub.Snapshots():
			if !ok {
				return nil
			}
			c.handle(ctx, snap)
		}
	}
}

func (c *Client) handle(ctx context.Context, snap store.Snapshot) {
	r, err := room.Decode(c.session.RoomID, snap)
	if err != nil {
		// 不正なスナップショットは捨て、次を待つ
		c.logger.Warn("Ignoring undecodable room snapshot", zap.Error(err))
		return
	}

	out := machine.Derive(c.session, r)

	// 書き込みは確認を待たない。失敗してもストアの再試行と次のスナップショットに任せる
	if out.Publish != nil {
		if err := c.repo.PublishResult(ctx, c.session.RoomID, *out.Publish); err != nil {
			c.logger.Error("Failed to publish result", zap.Error(err))
		} else {
			c.logger.Info("Result published", zap.String("winner", out.Publish.Winner), zap.Int("round", out.Publish.Round))
		}
	}
	if out.ClearStaleChoice {
		if err := c.repo.ClearChoice(ctx, c.session); err != nil {
			c.logger.Error("Failed to clear stale choice", zap.Error(err))
		}
	}

	c.setView(out.View)
	c.readyOne.Do(func() { close(c.ready) })
}

// setView は各読み手の1要素のスロットを最新の View で置き換える
func (c *Client) setView(v models.View) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.view = v
	for ch := range c.watchers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}

// SubmitChoice は手を出す。今の状態で選べない場合は ErrActionNotPermitted
func (c *Client) SubmitChoice(ctx context.Context, label string) error {
	choice, err := models.ParseChoice(label)
	if err != nil {
		return err
	}

	view := c.View()
	if !view.CanChoose {
		return fmt.Errorf("choose in %s: %w", view.Phase, models.ErrActionNotPermitted)
	}
	if err := c.repo.SetChoice(ctx, c.session, choice, view.Round); err != nil {
		return err
	}
	// 自分の書き込みが届くまで二重に選ばせない
	c.mu.Lock()
	if c.view.Round == view.Round {
		c.view.CanChoose = false
	}
	c.mu.Unlock()

	c.logger.Info("Choice submitted", zap.Int("round", view.Round))
	return nil
}

// RequestReset は結果を消して次のラウンドへ進める。相手の画面もリセットされる
func (c *Client) RequestReset(ctx context.Context) error {
	view := c.View()
	if !view.CanReset {
		return fmt.Errorf("reset in %s: %w", view.Phase, models.ErrActionNotPermitted)
	}
	if err := c.repo.Reset(ctx, c.session, view.Round+1); err != nil {
		return err
	}
	c.mu.Lock()
	if c.view.Round == view.Round {
		c.view.CanReset = false
	}
	c.mu.Unlock()

	c.logger.Info("Round reset", zap.Int("nextRound", view.Round+1))
	return nil
}

// Close は購読を止める。ルームのエントリは残る
func (c *Client) Close() {
	c.sub.Unsubscribe()
}
