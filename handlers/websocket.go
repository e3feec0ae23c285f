package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jankenserver/game"
	"jankenserver/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pingPeriod   = 10 * time.Second
	readDeadline = 60 * time.Second
	writeWait    = 10 * time.Second
)

var errUnknownIntent = errors.New("unknown message type")

// クライアントから受け取るメッセージ
type intentMessage struct {
	Type   string `json:"type"`
	Choice string `json:"choice,omitempty"`
}

// サーバーから送るメッセージ
type viewMessage struct {
	Type string `json:"type"`
	models.View
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// WebSocket は GET /ws。View が変わるたびに送り、手とリセットを受け付ける
func (h *Handler) WebSocket(c *gin.Context) {
	client := sessionClient(c)
	playerID := client.Session().PlayerID

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// WebSocket接続のアップグレードに失敗(応答は Upgrade が書く)
		h.logger.Error("Error upgrading WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	logger := h.logger.With(zap.String("playerID", playerID))
	logger.Info("WebSocket connected")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// 現在の View を送る前に購読しておき、間の変更を取りこぼさない
	views, stopWatch := client.Watch()
	defer stopWatch()

	replies := make(chan errorMessage, 8)
	closed := make(chan struct{})
	go h.readIntents(ctx, conn, client, replies, closed, logger)

	// 書き込みはこのゴルーチンだけで行う
	write := func(v interface{}) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(v); err != nil {
			logger.Warn("Failed to write message", zap.Error(err))
			return false
		}
		return true
	}

	if !write(viewMessage{Type: "view", View: client.View()}) {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case v, ok := <-views:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
					time.Now().Add(writeWait))
				return
			}
			if !write(viewMessage{Type: "view", View: v}) {
				return
			}
		case msg := <-replies:
			if !write(msg) {
				return
			}
		case <-ticker.C:
			h.sessions.Touch(playerID)
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Warn("Error sending ping", zap.Error(err))
				return
			}
		case <-closed:
			logger.Info("WebSocket disconnected")
			return
		}
	}
}

func (h *Handler) readIntents(ctx context.Context, conn *websocket.Conn, client *game.Client, replies chan<- errorMessage, closed chan<- struct{}, logger *zap.Logger) {
	defer close(closed)

	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		var msg intentMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("Unexpected WebSocket close", zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		h.sessions.Touch(client.Session().PlayerID)

		var err error
		switch msg.Type {
		case "choice":
			err = client.SubmitChoice(ctx, msg.Choice)
		case "reset":
			err = client.RequestReset(ctx)
		default:
			err = fmt.Errorf("%w %q", errUnknownIntent, msg.Type)
		}
		if err != nil {
			if !errors.Is(err, errUnknownIntent) && statusFor(err) >= 500 {
				logger.Error("Intent failed", zap.String("type", msg.Type), zap.Error(err))
				err = errInternal
			}
			select {
			case replies <- errorMessage{Type: "error", Error: err.Error()}:
			case <-ctx.Done():
				return
			}
		}
	}
}
