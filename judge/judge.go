// Package judge はじゃんけんの勝敗判定。副作用を持たない純粋関数のみ
package judge

import (
	"fmt"

	"jankenserver/models"
)

// Entry は判定に渡すプレイヤー1人分の確定した手
type Entry struct {
	PlayerID string
	Name     string
	Choice   models.Choice
}

// Beats は a が b に勝つかどうか。グー>チョキ>パー>グー
func Beats(a, b models.Choice) bool {
	switch a {
	case models.Rock:
		return b == models.Scissors
	case models.Scissors:
		return b == models.Paper
	case models.Paper:
		return b == models.Rock
	}
	return false
}

// Compare は a が勝てば 1、b が勝てば -1、あいこなら 0 を返す
func Compare(a, b models.Choice) int {
	switch {
	case a == b:
		return 0
	case Beats(a, b):
		return 1
	default:
		return -1
	}
}

// Judge は2人の手から結果を作る。
// 両方のクライアントが独立に呼んでも同じ値になるので、結果の書き込みは競合しない
func Judge(a, b Entry) models.Result {
	result := models.Result{
		Player1: models.Hand{Name: a.Name, Choice: a.Choice},
		Player2: models.Hand{Name: b.Name, Choice: b.Choice},
	}

	switch Compare(a.Choice, b.Choice) {
	case 0:
		result.Text = "引き分け！"
		result.Winner = models.WinnerDraw
	case 1:
		result.Text = fmt.Sprintf("%s の勝ち！", a.Name)
		result.Winner = a.PlayerID
	default:
		result.Text = fmt.Sprintf("%s の勝ち！", b.Name)
		result.Winner = b.PlayerID
	}
	return result
}
