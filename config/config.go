// Package config 从 .env 与 SNAKE_* 环境变量加载运行配置
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"snakepay/game"
)

// Ledger 驱动
const (
	LedgerMemory  = "memory"
	LedgerSQLite  = "sqlite"
	LedgerOffline = "offline"
)

// Config 服务运行参数
type Config struct {
	Addr     string
	LogFile  string
	LogLevel string

	LedgerDriver   string
	LedgerDSN      string
	OpeningBalance decimal.Decimal
	LedgerLatency  time.Duration
	LedgerFailRate float64

	BoardWidth    int
	BoardHeight   int
	BaseInterval  time.Duration
	FoodReward    int
	EntryFee      decimal.Decimal
	BaseThreshold int
	TierPreset    string
	RewardFormula string
}

// Default 400x400 画布 / 20 像素格子 = 20x20 格；200ms 基础间隔；入场费 5；门槛 500
func Default() *Config {
	return &Config{
		Addr:           ":8080",
		LogFile:        "app.log",
		LogLevel:       "debug",
		LedgerDriver:   LedgerMemory,
		LedgerDSN:      "ledger.db",
		OpeningBalance: decimal.NewFromInt(100),
		BoardWidth:     20,
		BoardHeight:    20,
		BaseInterval:   200 * time.Millisecond,
		FoodReward:     game.DefaultFoodReward,
		EntryFee:       decimal.NewFromInt(5),
		BaseThreshold:  500,
		TierPreset:     "classic",
		RewardFormula:  "flat",
	}
}

// Load 读取 envFile（不存在时忽略），再用环境变量覆盖默认值，最后校验
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	c := Default()
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	dec := func(key string, dst *decimal.Decimal) {
		if v, ok := lookup(key); ok {
			d, err := decimal.NewFromString(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("SNAKE_ADDR", &c.Addr)
	str("SNAKE_LOG_FILE", &c.LogFile)
	str("SNAKE_LOG_LEVEL", &c.LogLevel)
	str("SNAKE_LEDGER", &c.LedgerDriver)
	str("SNAKE_LEDGER_DSN", &c.LedgerDSN)
	dec("SNAKE_OPENING_BALANCE", &c.OpeningBalance)
	dur("SNAKE_LEDGER_LATENCY", &c.LedgerLatency)
	if v, ok := lookup("SNAKE_LEDGER_FAIL_RATE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("SNAKE_LEDGER_FAIL_RATE: %w", err))
		} else {
			c.LedgerFailRate = f
		}
	}
	num("SNAKE_BOARD_WIDTH", &c.BoardWidth)
	num("SNAKE_BOARD_HEIGHT", &c.BoardHeight)
	dur("SNAKE_BASE_INTERVAL", &c.BaseInterval)
	num("SNAKE_FOOD_REWARD", &c.FoodReward)
	dec("SNAKE_ENTRY_FEE", &c.EntryFee)
	num("SNAKE_BASE_THRESHOLD", &c.BaseThreshold)
	str("SNAKE_TIER_PRESET", &c.TierPreset)
	str("SNAKE_REWARD_FORMULA", &c.RewardFormula)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// lookup 空值视为未设置
func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

// Validate 启动时快速失败
func (c *Config) Validate() error {
	switch c.LedgerDriver {
	case LedgerMemory, LedgerSQLite, LedgerOffline:
	default:
		return fmt.Errorf("%w: unknown ledger driver %q", game.ErrConfigurationInvalid, c.LedgerDriver)
	}
	if c.BoardWidth <= 0 || c.BoardHeight <= 0 || c.BoardWidth*c.BoardHeight < 2 {
		return fmt.Errorf("%w: board %dx%d", game.ErrConfigurationInvalid, c.BoardWidth, c.BoardHeight)
	}
	if c.BaseInterval <= 0 {
		return fmt.Errorf("%w: base interval %s", game.ErrConfigurationInvalid, c.BaseInterval)
	}
	if c.FoodReward <= 0 {
		return fmt.Errorf("%w: food reward %d", game.ErrConfigurationInvalid, c.FoodReward)
	}
	if c.EntryFee.IsNegative() || c.OpeningBalance.IsNegative() {
		return fmt.Errorf("%w: negative amounts", game.ErrConfigurationInvalid)
	}
	if c.LedgerFailRate < 0 || c.LedgerFailRate >= 1 {
		return fmt.Errorf("%w: ledger fail rate %v", game.ErrConfigurationInvalid, c.LedgerFailRate)
	}
	if c.BaseThreshold < 0 {
		return fmt.Errorf("%w: base threshold %d", game.ErrConfigurationInvalid, c.BaseThreshold)
	}
	f, err := c.Formula()
	if err != nil {
		return err
	}
	if f == game.Proportional && c.BaseThreshold == 0 {
		return fmt.Errorf("%w: proportional formula needs a positive base threshold", game.ErrConfigurationInvalid)
	}
	if _, err := c.TierTable(); err != nil {
		return err
	}
	return nil
}

// TierTable 按预设名构造并校验档位表
func (c *Config) TierTable() (*game.TierTable, error) {
	tiers, ok := game.Preset(c.TierPreset)
	if !ok {
		return nil, fmt.Errorf("%w: unknown tier preset %q (have %s)", game.ErrConfigurationInvalid,
			c.TierPreset, strings.Join(game.PresetNames(), ", "))
	}
	return game.NewTierTable(tiers)
}

func (c *Config) Formula() (game.RewardFormula, error) {
	return game.ParseRewardFormula(c.RewardFormula)
}

func (c *Config) Board() game.Board {
	return game.Board{Width: c.BoardWidth, Height: c.BoardHeight}
}
