package server

import (
	"github.com/shopspring/decimal"

	"snakepay/game"
	"snakepay/ledger"
)

// 会话命令：由外部协程投递到 inbox，只在会话循环中处理

type cmdDirection struct {
	dir game.Direction
}

type cmdTogglePause struct{}

type cmdStart struct{}

// cmdRetry Error 状态下重新初始化
type cmdRetry struct{}

type cmdRefresh struct{}

// cmdRetryPayout 手动重试失败的奖励发放
type cmdRetryPayout struct{}

type cmdSnapshot struct {
	reply chan<- Snapshot
}

type cmdSubscribe struct {
	reply chan<- subscription
}

type cmdUnsubscribe struct {
	id int
}

type subscription struct {
	id int
	ch chan Update
}

// 账本异步调用的结果，带代次以丢弃过期结果

type initResult struct {
	user    *User
	balance *decimal.Decimal
	err     error
}

type balanceResult struct {
	gen     int64
	replay  bool // true: 再来一局前的余额校验；false: 手动刷新
	balance decimal.Decimal
	err     error
}

type debitResult struct {
	gen     int64
	receipt ledger.Receipt
	err     error
}

type payoutResult struct {
	gen     int64
	receipt ledger.Receipt
	err     error
}
