// Package machine はルームのスナップショットから画面の状態を決める。
// 呼び出し間で状態を持たないので、同じスナップショットが何度届いても同じ結果になる
package machine

import (
	"fmt"

	"jankenserver/judge"
	"jankenserver/models"
	"jankenserver/room"
)

const (
	StatusWaitingForOpponent = "相手の参加を待っています..."
	StatusChoose             = "手を選んでください！"
	StatusWaitingForChoice   = "相手の選択を待っています..."
	StatusRoomFull           = "ルームが満員です"
)

// Outcome は1つのスナップショットに対する判断
type Outcome struct {
	View models.View
	// Publish は結果がまだ書かれていないときに書き込むべき結果
	Publish *models.Result
	// ClearStaleChoice は自分に前のラウンドの手が残っている
	ClearStaleChoice bool
}

// Derive はスナップショットを解釈する純粋関数
func Derive(session models.Session, r models.Room) Outcome {
	players := room.SortedPlayers(r)
	self, joined := r.Players[session.PlayerID]

	view := models.View{
		RoomID:   session.RoomID,
		PlayerID: session.PlayerID,
		Round:    r.Round,
		Players:  make([]models.PlayerView, 0, len(players)),
	}
	for _, p := range players {
		view.Players = append(view.Players, models.PlayerView{
			ID:        p.ID,
			Name:      p.Name,
			HasChosen: p.HasChosen(r.Round),
			Self:      p.ID == session.PlayerID,
		})
	}

	out := Outcome{
		ClearStaleChoice: joined && self.HasStaleChoice(r.Round),
	}

	switch {
	case len(players) > 2:
		view.Phase = models.PhaseRoomFull
		view.Status = StatusRoomFull
	case len(players) < 2:
		view.Phase = models.PhaseWaitingForOpponent
		view.Status = StatusWaitingForOpponent
	default:
		first, second := players[0], players[1]
		selfChosen := joined && self.HasChosen(r.Round)

		switch chosenCount(r.Round, first, second) {
		case 2:
			result := CurrentResult(r)
			if result == nil {
				derived := judge.Judge(entry(first), entry(second))
				derived.Round = r.Round
				out.Publish = &derived
				result = &derived
			}
			view.Phase = models.PhaseRoundResolved
			view.Status = fmt.Sprintf("%s: %s vs %s: %s",
				result.Player1.Name, result.Player1.Choice.Emoji(),
				result.Player2.Name, result.Player2.Choice.Emoji())
			view.Result = result
			view.CanReset = joined
		case 1:
			view.Phase = models.PhaseWaitingForOpponentChoice
			if selfChosen {
				view.Status = StatusWaitingForChoice
			} else {
				view.Status = StatusChoose
			}
			view.CanChoose = joined && !selfChosen
		default:
			view.Phase = models.PhaseReadyToChoose
			view.Status = StatusChoose
			view.CanChoose = joined
		}
	}

	out.View = view
	return out
}

// CurrentResult は現在のラウンドの結果。前のラウンドの結果は無いものとする
func CurrentResult(r models.Room) *models.Result {
	if r.Result == nil || r.Result.Round != r.Round {
		return nil
	}
	result := *r.Result
	return &result
}

func chosenCount(round int, players ...models.Player) int {
	n := 0
	for _, p := range players {
		if p.HasChosen(round) {
			n++
		}
	}
	return n
}

func entry(p models.Player) judge.Entry {
	return judge.Entry{PlayerID: p.ID, Name: p.Name, Choice: p.Choice}
}
