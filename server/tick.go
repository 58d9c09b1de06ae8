package server

import "time"

// Clock 会话的两个计时器：移动 Tick（间隔随档位变化）与每秒计时。
// 未运行时返回 nil 通道，在 select 中永远阻塞。
// 只由会话循环调用，无需加锁。
type Clock interface {
	Start(interval time.Duration)
	SetInterval(interval time.Duration)
	Pause()
	Resume()
	Stop()
	Moves() <-chan time.Time
	Seconds() <-chan time.Time
}

// GameClock 基于 time.Ticker 的 Clock 实现
type GameClock struct {
	move     *time.Ticker
	second   *time.Ticker
	interval time.Duration
	running  bool
}

func NewGameClock() *GameClock {
	return &GameClock{}
}

// Start 以给定间隔（重新）启动两个计时器
func (c *GameClock) Start(interval time.Duration) {
	c.Stop()
	c.interval = interval
	c.move = time.NewTicker(interval)
	c.second = time.NewTicker(time.Second)
	c.running = true
}

// SetInterval 档位变化后调整移动间隔
func (c *GameClock) SetInterval(interval time.Duration) {
	if interval == c.interval {
		return
	}
	c.interval = interval
	if c.running && c.move != nil {
		c.move.Reset(interval)
	}
}

// Pause 暂停：两个计时器都停止
func (c *GameClock) Pause() {
	if !c.running {
		return
	}
	c.move.Stop()
	c.second.Stop()
	c.running = false
}

// Resume 从暂停恢复，秒计时重新计起
func (c *GameClock) Resume() {
	if c.running || c.move == nil {
		return
	}
	c.move.Reset(c.interval)
	c.second.Reset(time.Second)
	c.running = true
}

// Stop 停止并释放计时器
func (c *GameClock) Stop() {
	if c.move != nil {
		c.move.Stop()
		c.second.Stop()
	}
	c.move, c.second = nil, nil
	c.running = false
}

func (c *GameClock) Moves() <-chan time.Time {
	if !c.running {
		return nil
	}
	return c.move.C
}

func (c *GameClock) Seconds() <-chan time.Time {
	if !c.running {
		return nil
	}
	return c.second.C
}

// TickInterval 移动间隔 = 基础间隔 * 档位速度倍率（越高档越快）
func TickInterval(base time.Duration, speedMultiplier float64) time.Duration {
	d := time.Duration(float64(base) * speedMultiplier)
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}
