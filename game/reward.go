package game

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// RewardPrecision 奖励保留的小数位
const RewardPrecision = 2

// RewardFormula 奖励公式
type RewardFormula int

const (
	// FlatBonus: entryFee * (1 + multiplier)
	FlatBonus RewardFormula = iota
	// Proportional: entryFee * (score-threshold)/threshold * multiplier
	Proportional
)

func (f RewardFormula) String() string {
	switch f {
	case FlatBonus:
		return "flat"
	case Proportional:
		return "proportional"
	}
	return fmt.Sprintf("RewardFormula(%d)", int(f))
}

// ParseRewardFormula 解析配置里的公式名
func ParseRewardFormula(s string) (RewardFormula, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "flat":
		return FlatBonus, nil
	case "proportional":
		return Proportional, nil
	}
	return 0, fmt.Errorf("%w: unknown reward formula %q", ErrConfigurationInvalid, s)
}

// RewardQuote 结算报价：金额已截到 0 以上并保留两位小数
type RewardQuote struct {
	Amount decimal.Decimal `json:"amount"`
	Score  int             `json:"score"`
	Tier   string          `json:"tier"`
}

// Payable 是否需要发放
func (q RewardQuote) Payable() bool {
	return q.Amount.IsPositive()
}

// Calculate 按公式计算奖励。score < baseThreshold 时恒为 0。
// Proportional 在 baseThreshold <= 0 时无定义，返回 0。
func (f RewardFormula) Calculate(score int, tier Tier, entryFee decimal.Decimal, baseThreshold int) RewardQuote {
	q := RewardQuote{Amount: decimal.Zero, Score: score, Tier: tier.Name}
	if score < baseThreshold {
		return q
	}
	mult := decimal.NewFromFloat(tier.RewardMultiplier)
	var amount decimal.Decimal
	switch f {
	case Proportional:
		if baseThreshold <= 0 {
			return q
		}
		th := decimal.NewFromInt(int64(baseThreshold))
		ratio := decimal.NewFromInt(int64(score - baseThreshold)).Div(th)
		amount = entryFee.Mul(ratio).Mul(mult)
	default:
		amount = entryFee.Mul(decimal.NewFromInt(1).Add(mult))
	}
	if amount.IsNegative() {
		return q
	}
	q.Amount = amount.Round(RewardPrecision)
	return q
}
