package game

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Unbounded 最后一档的上界（视为无穷大）
const Unbounded = math.MaxInt

var ErrConfigurationInvalid = errors.New("configuration invalid")

// Tier 分数档位：[MinScore, MaxScore) 区间内生效
type Tier struct {
	Name             string  `json:"name"`
	MinScore         int     `json:"minScore"`
	MaxScore         int     `json:"maxScore"`
	RewardMultiplier float64 `json:"rewardMultiplier"`
	SpeedMultiplier  float64 `json:"speedMultiplier"`
}

// TierTable 按 MinScore 升序排列、覆盖 [0, ∞) 且无空隙的档位表。
// 构造时校验，查询时不再做兜底。
type TierTable struct {
	tiers []Tier
}

// NewTierTable 校验并构造档位表；空表、空隙、重叠、非正倍率均返回 ErrConfigurationInvalid
func NewTierTable(tiers []Tier) (*TierTable, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("%w: tier table is empty", ErrConfigurationInvalid)
	}
	if tiers[0].MinScore != 0 {
		return nil, fmt.Errorf("%w: first tier %q starts at %d, want 0", ErrConfigurationInvalid, tiers[0].Name, tiers[0].MinScore)
	}
	for i, t := range tiers {
		if t.MaxScore <= t.MinScore {
			return nil, fmt.Errorf("%w: tier %q has empty range [%d,%d)", ErrConfigurationInvalid, t.Name, t.MinScore, t.MaxScore)
		}
		if t.RewardMultiplier <= 0 || t.SpeedMultiplier <= 0 {
			return nil, fmt.Errorf("%w: tier %q multipliers must be positive", ErrConfigurationInvalid, t.Name)
		}
		if i == len(tiers)-1 {
			if t.MaxScore != Unbounded {
				return nil, fmt.Errorf("%w: last tier %q must be unbounded", ErrConfigurationInvalid, t.Name)
			}
			continue
		}
		next := tiers[i+1]
		if next.MinScore > t.MaxScore {
			return nil, fmt.Errorf("%w: gap between %q and %q", ErrConfigurationInvalid, t.Name, next.Name)
		}
		if next.MinScore < t.MaxScore {
			return nil, fmt.Errorf("%w: %q overlaps %q", ErrConfigurationInvalid, t.Name, next.Name)
		}
	}
	cp := make([]Tier, len(tiers))
	copy(cp, tiers)
	return &TierTable{tiers: cp}, nil
}

// MustTierTable 非法时 panic；包内预设在 init 中经它校验
func MustTierTable(tiers []Tier) *TierTable {
	t, err := NewTierTable(tiers)
	if err != nil {
		panic(err)
	}
	return t
}

// Resolve 返回 score 所在档位。负分按 0 处理。
func (t *TierTable) Resolve(score int) Tier {
	if score < 0 {
		score = 0
	}
	i := sort.Search(len(t.tiers), func(i int) bool { return score < t.tiers[i].MaxScore })
	return t.tiers[i]
}

// Tiers 返回档位副本
func (t *TierTable) Tiers() []Tier {
	out := make([]Tier, len(t.tiers))
	copy(out, t.tiers)
	return out
}
