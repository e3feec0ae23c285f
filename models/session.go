package models

// Session は1回の参加(join)から離脱までの自分の情報。生成後は変更しない
type Session struct {
	RoomID   string `json:"roomId"`
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
}
