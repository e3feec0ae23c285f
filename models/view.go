package models

// Phase はスナップショットから判定したルームの状況
type Phase string

const (
	PhaseWaitingForOpponent       Phase = "waiting_for_opponent"
	PhaseReadyToChoose            Phase = "ready_to_choose"
	PhaseWaitingForOpponentChoice Phase = "waiting_for_opponent_choice"
	PhaseRoundResolved            Phase = "round_resolved"
	PhaseRoomFull                 Phase = "room_full"
)

// PlayerView は表示用のプレイヤー情報。相手の手は見せない
type PlayerView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	HasChosen bool   `json:"hasChosen"`
	Self      bool   `json:"self"`
}

// View は画面に渡す読み取り専用の状態
type View struct {
	RoomID    string       `json:"roomId"`
	PlayerID  string       `json:"playerId"`
	Phase     Phase        `json:"phase"`
	Status    string       `json:"status"`
	Round     int          `json:"round"`
	Players   []PlayerView `json:"players"`
	Result    *Result      `json:"result,omitempty"`
	CanChoose bool         `json:"canChoose"`
	CanReset  bool         `json:"canReset"`
}
