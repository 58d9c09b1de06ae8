package server

import (
	"snakepay/config"
	"snakepay/ledger"
)

// SettingsFromConfig 由运行配置生成会话参数
func SettingsFromConfig(cfg *config.Config) (Settings, error) {
	tiers, err := cfg.TierTable()
	if err != nil {
		return Settings{}, err
	}
	formula, err := cfg.Formula()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		Board:         cfg.Board(),
		BaseInterval:  cfg.BaseInterval,
		FoodReward:    cfg.FoodReward,
		EntryFee:      cfg.EntryFee,
		BaseThreshold: cfg.BaseThreshold,
		Formula:       formula,
		Tiers:         tiers,
		TierPreset:    cfg.TierPreset,
	}, nil
}

// OpenLedger 按驱动构造账本；offline 返回 nil，会话以免费模式运行。
// 返回的 close 总是非 nil。
func OpenLedger(cfg *config.Config) (ledger.Service, ledger.HistoryReader, func(), error) {
	switch cfg.LedgerDriver {
	case config.LedgerSQLite:
		l, err := ledger.NewSQLiteLedger(cfg.LedgerDSN, cfg.OpeningBalance)
		if err != nil {
			return nil, nil, func() {}, err
		}
		return l, l, func() { _ = l.Close() }, nil
	case config.LedgerOffline:
		return nil, nil, func() {}, nil
	default:
		m := ledger.NewMemory(ledger.MemoryOptions{
			OpeningBalance: cfg.OpeningBalance,
			Latency:        cfg.LedgerLatency,
			FailureRate:    cfg.LedgerFailRate,
		})
		return m, m, func() {}, nil
	}
}
