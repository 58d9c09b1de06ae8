package server

import (
	"sync/atomic"
)

// SessionMetrics 记录所有会话运行期的关键指标（用于监控与调试）
type SessionMetrics struct {
	TickCount      int64 // 统计的 Tick 次数
	InputsAccepted int64 // 被接受的方向输入
	InputsRejected int64 // 掉头或非游戏状态被忽略的输入
	InputsDropped  int64 // 因命令通道满被丢弃的输入
	GamesStarted   int64
	GamesEnded     int64
	FoodEaten      int64
	DebitsFailed   int64
	PayoutsPaid    int64
	PayoutsFailed  int64
	StaleResults   int64 // 过期代次的账本结果
	TotalTickNs    int64 // Tick 累计耗时（纳秒）
}

func (m *SessionMetrics) IncAccepted() { atomic.AddInt64(&m.InputsAccepted, 1) }
func (m *SessionMetrics) IncRejected() { atomic.AddInt64(&m.InputsRejected, 1) }
func (m *SessionMetrics) IncDropped() { atomic.AddInt64(&m.InputsDropped, 1) }
func (m *SessionMetrics) IncGamesStarted() { atomic.AddInt64(&m.GamesStarted, 1) }
func (m *SessionMetrics) IncGamesEnded() { atomic.AddInt64(&m.GamesEnded, 1) }
func (m *SessionMetrics) IncFoodEaten() { atomic.AddInt64(&m.FoodEaten, 1) }
func (m *SessionMetrics) IncDebitsFailed() { atomic.AddInt64(&m.DebitsFailed, 1) }
func (m *SessionMetrics) IncPayoutsPaid() { atomic.AddInt64(&m.PayoutsPaid, 1) }
func (m *SessionMetrics) IncPayoutsFailed() { atomic.AddInt64(&m.PayoutsFailed, 1) }
func (m *SessionMetrics) IncStale() { atomic.AddInt64(&m.StaleResults, 1) }
func (m *SessionMetrics) AddTick(ns int64) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *SessionMetrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick_count":      tick,
		"inputs_accepted": atomic.LoadInt64(&m.InputsAccepted),
		"inputs_rejected": atomic.LoadInt64(&m.InputsRejected),
		"inputs_dropped":  atomic.LoadInt64(&m.InputsDropped),
		"games_started":   atomic.LoadInt64(&m.GamesStarted),
		"games_ended":     atomic.LoadInt64(&m.GamesEnded),
		"food_eaten":      atomic.LoadInt64(&m.FoodEaten),
		"debits_failed":   atomic.LoadInt64(&m.DebitsFailed),
		"payouts_paid":    atomic.LoadInt64(&m.PayoutsPaid),
		"payouts_failed":  atomic.LoadInt64(&m.PayoutsFailed),
		"stale_results":   atomic.LoadInt64(&m.StaleResults),
		"avg_tick_ms":     avgMs,
	}
}
