package game

import "sort"

// 档位预设。classic 为五档加上 [0,500) 的 Starter 以覆盖零分；
// crypto 使用币圈梗命名、门槛更低。
var presets = map[string][]Tier{
	"classic": {
		{Name: "Starter", MinScore: 0, MaxScore: 500, RewardMultiplier: 1, SpeedMultiplier: 1},
		{Name: "Novice", MinScore: 500, MaxScore: 1000, RewardMultiplier: 1.2, SpeedMultiplier: 0.9},
		{Name: "Apprentice", MinScore: 1000, MaxScore: 2000, RewardMultiplier: 1.5, SpeedMultiplier: 0.8},
		{Name: "Expert", MinScore: 2000, MaxScore: 3500, RewardMultiplier: 2, SpeedMultiplier: 0.7},
		{Name: "Master", MinScore: 3500, MaxScore: 5000, RewardMultiplier: 3, SpeedMultiplier: 0.6},
		{Name: "Legendary", MinScore: 5000, MaxScore: Unbounded, RewardMultiplier: 5, SpeedMultiplier: 0.5},
	},
	"crypto": {
		{Name: "Noob", MinScore: 0, MaxScore: 100, RewardMultiplier: 1, SpeedMultiplier: 1},
		{Name: "Ape", MinScore: 100, MaxScore: 300, RewardMultiplier: 1.2, SpeedMultiplier: 0.9},
		{Name: "Hodler", MinScore: 300, MaxScore: 600, RewardMultiplier: 1.5, SpeedMultiplier: 0.8},
		{Name: "Diamond Hands", MinScore: 600, MaxScore: 1000, RewardMultiplier: 2, SpeedMultiplier: 0.7},
		{Name: "Satoshi", MinScore: 1000, MaxScore: Unbounded, RewardMultiplier: 3, SpeedMultiplier: 0.6},
	},
}

func init() {
	for _, p := range presets {
		MustTierTable(p)
	}
}

// Preset 按名字取档位预设（返回副本）
func Preset(name string) ([]Tier, bool) {
	p, ok := presets[name]
	if !ok {
		return nil, false
	}
	out := make([]Tier, len(p))
	copy(out, p)
	return out, true
}

// PresetNames 已注册的预设名（排序后）
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
