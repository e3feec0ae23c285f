package models

// Choice はじゃんけんの手
type Choice string

const (
	Rock     Choice = "rock"
	Paper    Choice = "paper"
	Scissors Choice = "scissors"
)

// Choices は有効な手の一覧
var Choices = []Choice{Rock, Paper, Scissors}

// ParseChoice は文字列を手に変換する。未知のラベルはErrInvalidChoice
func ParseChoice(s string) (Choice, error) {
	c := Choice(s)
	if !c.Valid() {
		return "", ErrInvalidChoice
	}
	return c, nil
}

func (c Choice) Valid() bool {
	switch c {
	case Rock, Paper, Scissors:
		return true
	}
	return false
}

// Emoji は表示用の絵文字。不明な手は "?"
func (c Choice) Emoji() string {
	switch c {
	case Rock:
		return "✊"
	case Paper:
		return "✋"
	case Scissors:
		return "✌️"
	}
	return "?"
}

// 引き分け時のWinner
const WinnerDraw = "draw"

// Room はストア上の rooms/{roomId} の内容
type Room struct {
	ID      string            `json:"-"`
	Players map[string]Player `json:"players,omitempty"`
	Result  *Result           `json:"result,omitempty"`
	Round   int               `json:"round,omitempty"`
}

// Player は rooms/{roomId}/players/{playerId} の内容
type Player struct {
	ID       string `json:"-"`
	Name     string `json:"name"`
	Choice   Choice `json:"choice,omitempty"`
	Round    int    `json:"round,omitempty"`    // Choiceを出したラウンド
	JoinedAt int64  `json:"joinedAt,omitempty"` // Unixミリ秒
}

// HasChosen は現在のラウンドで有効な手を出しているか
func (p Player) HasChosen(round int) bool {
	return p.Choice.Valid() && p.Round == round
}

// HasStaleChoice は前のラウンドの手が残っているか
func (p Player) HasStaleChoice(round int) bool {
	return p.Choice != "" && p.Round != round
}

// Hand は判定時点のプレイヤー名と手のスナップショット
type Hand struct {
	Name   string `json:"name"`
	Choice Choice `json:"choice"`
}

// Result は rooms/{roomId}/result の内容
type Result struct {
	Text    string `json:"text"`
	Winner  string `json:"winner"` // playerId または "draw"
	Player1 Hand   `json:"player1"`
	Player2 Hand   `json:"player2"`
	Round   int    `json:"round,omitempty"`
}

// IsDraw は引き分けかどうか
func (r Result) IsDraw() bool {
	return r.Winner == WinnerDraw
}
