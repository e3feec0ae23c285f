package utils

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper は最後の操作から idleTTL を過ぎたものを片付け、片付けた数を返す
type Sweeper interface {
	Sweep(now time.Time, idleTTL time.Duration) int
}

// CronSweeper はアイドルなセッションを定期的に片付けるジョブを起動する。
// 戻り値の Stop で止める
func CronSweeper(spec string, idleTTL time.Duration, sweeper Sweeper, logger *zap.Logger) (*cron.Cron, error) {
	c := cron.New()

	// アイドルなセッションの購読を止める（"@every 1m" など）
	_, err := c.AddFunc(spec, func() {
		removed := sweeper.Sweep(time.Now(), idleTTL)
		if removed > 0 {
			logger.Info("アイドルなセッションを片付けました", zap.Int("sessions_removed", removed))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid sweep spec %q: %w", spec, err)
	}

	c.Start()
	return c, nil
}
