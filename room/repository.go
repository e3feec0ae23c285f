// Package room はストア上のルームを型付きで読み書きする
package room

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"jankenserver/models"
	"jankenserver/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ルームIDに使えない文字。パスの区切りとFirebase互換の予約文字
const reservedRoomIDChars = "/.#$[]"

// Repository は store.Tree 上のルーム操作。
// 各クライアントは自分の players/{playerId} と result, round 以外に書き込まない
type Repository struct {
	tree   store.Tree
	logger *zap.Logger
	now    func() time.Time
}

func NewRepository(tree store.Tree, logger *zap.Logger) *Repository {
	return &Repository{tree: tree, logger: logger, now: time.Now}
}

func roomPath(roomID string) string {
	return store.JoinPath("rooms", roomID)
}

func playerPath(roomID, playerID string) string {
	return store.JoinPath("rooms", roomID, "players", playerID)
}

func resultPath(roomID string) string {
	return store.JoinPath("rooms", roomID, "result")
}

// ValidateJoin は参加前の入力チェック。ストアには触れない
func ValidateJoin(roomID, name string) (string, string, error) {
	roomID = strings.TrimSpace(roomID)
	name = strings.TrimSpace(name)
	if roomID == "" {
		return "", "", models.ErrEmptyRoomID
	}
	if strings.ContainsAny(roomID, reservedRoomIDChars) {
		return "", "", models.ErrInvalidRoomID
	}
	if name == "" {
		return "", "", models.ErrEmptyName
	}
	return roomID, name, nil
}

// NewPlayerID はプロセスごとに一意なプレイヤーIDを作る
func (r *Repository) NewPlayerID() string {
	return fmt.Sprintf("player_%d_%s", r.now().UnixNano(), uuid.New().String()[:8])
}

// JoinRoom は自分のプレイヤーの葉だけを書く。ルーム全体は上書きしないので、
// 存在しないルームへの同時参加でも互いのエントリを消さない
func (r *Repository) JoinRoom(ctx context.Context, roomID, name string) (models.Session, error) {
	roomID, name, err := ValidateJoin(roomID, name)
	if err != nil {
		return models.Session{}, err
	}

	session := models.Session{
		RoomID:   roomID,
		PlayerID: r.NewPlayerID(),
		Name:     name,
	}
	player := map[string]any{
		"name":     name,
		"joinedAt": r.now().UnixMilli(),
	}
	if err := r.tree.Write(ctx, playerPath(roomID, session.PlayerID), player); err != nil {
		return models.Session{}, fmt.Errorf("join room %s: %w", roomID, err)
	}

	r.logger.Info("Player joined room",
		zap.String("roomID", roomID),
		zap.String("playerID", session.PlayerID),
		zap.String("name", name),
	)
	return session, nil
}

// SubscribeRoom はルームのスナップショットを購読する
func (r *Repository) SubscribeRoom(ctx context.Context, roomID string) (store.Subscription, error) {
	sub, err := r.tree.Subscribe(ctx, roomPath(roomID))
	if err != nil {
		return nil, fmt.Errorf("subscribe room %s: %w", roomID, err)
	}
	return sub, nil
}

// SetChoice は自分の手とラウンドだけをマージする。name は残る
func (r *Repository) SetChoice(ctx context.Context, session models.Session, choice models.Choice, round int) error {
	if !choice.Valid() {
		return models.ErrInvalidChoice
	}
	err := r.tree.Merge(ctx, playerPath(session.RoomID, session.PlayerID), map[string]any{
		"choice": string(choice),
		"round":  round,
	})
	if err != nil {
		return fmt.Errorf("set choice: %w", err)
	}
	return nil
}

func (r *Repository) ClearChoice(ctx context.Context, session models.Session) error {
	err := r.tree.Merge(ctx, playerPath(session.RoomID, session.PlayerID), map[string]any{
		"choice": nil,
	})
	if err != nil {
		return fmt.Errorf("clear choice: %w", err)
	}
	return nil
}

// PublishResult は result を丸ごと上書きする。
// 両クライアントが同じ値を書くので、どちらが先でも結果は変わらない
func (r *Repository) PublishResult(ctx context.Context, roomID string, result models.Result) error {
	if err := r.tree.Write(ctx, resultPath(roomID), result); err != nil {
		return fmt.Errorf("publish result: %w", err)
	}
	return nil
}

func (r *Repository) ClearResult(ctx context.Context, roomID string) error {
	if err := r.tree.Delete(ctx, resultPath(roomID)); err != nil {
		return fmt.Errorf("clear result: %w", err)
	}
	return nil
}

// Reset は結果を消し、ラウンドを進め、自分の手を消す。相手のエントリには触れない。
// 相手の手は古いラウンドのものになるので未選択として扱われる
func (r *Repository) Reset(ctx context.Context, session models.Session, nextRound int) error {
	err := r.tree.Merge(ctx, roomPath(session.RoomID), map[string]any{
		"result": nil,
		"round":  nextRound,
		store.JoinPath("players", session.PlayerID, "choice"): nil,
	})
	if err != nil {
		return fmt.Errorf("reset room %s: %w", session.RoomID, err)
	}
	return nil
}

// Decode はスナップショットをルームに変換する。存在しないルームは空のルーム
func Decode(roomID string, snap store.Snapshot) (models.Room, error) {
	room := models.Room{ID: roomID}
	if err := snap.Decode(&room); err != nil {
		return models.Room{ID: roomID}, fmt.Errorf("decode room %s: %w", roomID, err)
	}
	for id, p := range room.Players {
		p.ID = id
		room.Players[id] = p
	}
	return room, nil
}

// SortedPlayers は (joinedAt, playerId) 順のプレイヤー一覧。
// どのクライアントでも同じ順になるので、判定の1人目と2人目が一致する
func SortedPlayers(room models.Room) []models.Player {
	players := make([]models.Player, 0, len(room.Players))
	for _, p := range room.Players {
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool {
		if players[i].JoinedAt != players[j].JoinedAt {
			return players[i].JoinedAt < players[j].JoinedAt
		}
		return players[i].ID < players[j].ID
	})
	return players
}
