// Package ledger 抽象外部钱包/账本服务：余额查询、入场费扣款与奖励发放。
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrServiceUnavailable = errors.New("ledger service unavailable")
	ErrInvalidAmount      = errors.New("invalid amount")
)

// Identity 账本中的玩家标识（登录用户 ID）
type Identity string

// Kind 交易方向
type Kind string

const (
	KindDebit  Kind = "debit"
	KindCredit Kind = "credit"
)

// Receipt 交易回执
type Receipt struct {
	TxID      string          `json:"txId"`
	Identity  Identity        `json:"identity"`
	Kind      Kind            `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Service 游戏核心依赖的账本接口。实现需并发安全。
// Debit/Credit 的金额必须为正，否则返回 ErrInvalidAmount。
type Service interface {
	Balance(ctx context.Context, id Identity) (decimal.Decimal, error)
	Debit(ctx context.Context, id Identity, amount decimal.Decimal) (Receipt, error)
	Credit(ctx context.Context, id Identity, amount decimal.Decimal) (Receipt, error)
}

// HistoryReader 可选能力：按时间倒序列出玩家交易
type HistoryReader interface {
	History(ctx context.Context, id Identity, limit int) ([]Receipt, error)
}

// checkAmount 拒绝零与负数金额
func checkAmount(kind Kind, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: %s %s", ErrInvalidAmount, kind, amount)
	}
	return nil
}
