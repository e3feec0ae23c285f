// Package handlers は HTTP と WebSocket でプレイヤーに View を届ける
package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"jankenserver/game"
	"jankenserver/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const clientKey = "client"

var errInternal = errors.New("internal error")

// 参加直後の View を返すまでに待つ最長時間
const firstViewTimeout = 2 * time.Second

type Handler struct {
	sessions *Sessions
	tokens   *Tokens
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewHandler(sessions *Sessions, tokens *Tokens, logger *zap.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		tokens:   tokens,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

type joinRequest struct {
	Name string `json:"name"`
}

type joinResponse struct {
	Token    string      `json:"token"`
	PlayerID string      `json:"playerId"`
	View     models.View `json:"view"`
}

type choiceRequest struct {
	Choice string `json:"choice"`
}

// Join は POST /rooms/:roomId/join
func (h *Handler) Join(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	client, err := h.sessions.Join(c.Request.Context(), c.Param("roomId"), req.Name)
	if err != nil {
		h.respondError(c, err)
		return
	}

	token, err := h.tokens.Issue(client.Session())
	if err != nil {
		h.logger.Error("Token generation error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	select {
	case <-client.Ready():
	case <-time.After(firstViewTimeout):
	}
	view := client.View()

	h.logger.Info("Player joined", zap.String("roomID", client.Session().RoomID), zap.String("playerID", client.Session().PlayerID))
	c.JSON(http.StatusOK, joinResponse{Token: token, PlayerID: client.Session().PlayerID, View: view})
}

// View は GET /session/view
func (h *Handler) View(c *gin.Context) {
	c.JSON(http.StatusOK, sessionClient(c).View())
}

// Choice は POST /session/choice
func (h *Handler) Choice(c *gin.Context) {
	var req choiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := sessionClient(c).SubmitChoice(c.Request.Context(), req.Choice); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Reset は POST /session/reset
func (h *Handler) Reset(c *gin.Context) {
	if err := sessionClient(c).RequestReset(c.Request.Context()); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": h.sessions.Len()})
}

// Authenticate はトークンからセッションのクライアントを取り出すミドルウェア。
// トークンは Authorization ヘッダ、なければ token クエリから読む
func (h *Handler) Authenticate(c *gin.Context) {
	tokenString := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if tokenString == "" {
		tokenString = c.Query("token")
	}

	session, err := h.tokens.Parse(tokenString)
	if err != nil {
		h.logger.Warn("Failed to validate token", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	client, err := h.sessions.Get(c.Request.Context(), session)
	if err != nil {
		h.respondError(c, err)
		c.Abort()
		return
	}
	c.Set(clientKey, client)
	c.Next()
}

func sessionClient(c *gin.Context) *game.Client {
	return c.MustGet(clientKey).(*game.Client)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrEmptyRoomID),
		errors.Is(err, models.ErrInvalidRoomID),
		errors.Is(err, models.ErrEmptyName),
		errors.Is(err, models.ErrInvalidChoice):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrActionNotPermitted):
		return http.StatusConflict
	case errors.Is(err, models.ErrSessionNotFound), errors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(status, gin.H{"error": errInternal.Error()})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
