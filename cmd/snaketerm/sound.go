package main

import (
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/generators"
	"github.com/gopxl/beep/speaker"

	"snakepay/game"
)

const sampleRate = beep.SampleRate(44100)

// Sounds 游戏事件音效；未初始化时所有调用为空操作
type Sounds struct {
	ready bool
}

func NewSounds() *Sounds { return &Sounds{} }

func (s *Sounds) Init() error {
	if err := speaker.Init(sampleRate, sampleRate.N(time.Second/10)); err != nil {
		return err
	}
	s.ready = true
	return nil
}

// Play 吃到食物短促高音，升档两声，碰撞低音
func (s *Sounds) Play(ev game.Event) {
	if !s.ready {
		return
	}
	switch ev.(type) {
	case game.FoodEaten:
		s.tone(880, 50*time.Millisecond)
	case game.TierChanged:
		s.tone(1320, 80*time.Millisecond, 1760)
	case game.Collision:
		s.tone(180, 300*time.Millisecond)
	}
}

// tone 依次播放每个频率，每段时长 d
func (s *Sounds) tone(freq float64, d time.Duration, more ...float64) {
	var parts []beep.Streamer
	for _, f := range append([]float64{freq}, more...) {
		sine, err := generators.SineTone(sampleRate, f)
		if err != nil {
			return
		}
		parts = append(parts, beep.Take(sampleRate.N(d), sine))
	}
	speaker.Play(beep.Seq(parts...))
}
