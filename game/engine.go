package game

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

var ErrBoardFull = errors.New("board full")

// DefaultFoodReward 每个食物的基础分
const DefaultFoodReward = 10

// Config 引擎构造参数。棋盘尺寸在构造时注入，测试可使用任意尺寸。
type Config struct {
	Board          Board
	FoodReward     int
	Tiers          *TierTable
	StartDirection Direction
}

// Outcome 单步结果类别
type Outcome int

const (
	Moved Outcome = iota
	Collided
)

// StepResult Step 的返回值。Collided 时 Snake 为未改变的蛇身，
// BoardFull 例外：最后一格已被吃掉并提交。
type StepResult struct {
	Outcome Outcome
	Cause   CollisionCause
	Ate     bool
	Snake   []Position
	Events  []Event
}

// State 渲染层只读快照
type State struct {
	Board Board      `json:"board"`
	Snake []Position `json:"snake"`
	Food  Position   `json:"food"`
	Score int        `json:"score"`
	Tier  Tier       `json:"tier"`
}

// Engine 一局游戏的权威状态：蛇身（头在前）、食物、分数。
// 非并发安全，由会话的单线程循环独占调用。
type Engine struct {
	cfg Config
	rnd *rand.Rand

	snake []Position
	food  Position
	score int
	over  CollisionCause
}

// NewEngine 校验配置并初始化第一局
func NewEngine(cfg Config, rnd *rand.Rand) (*Engine, error) {
	if cfg.Board.Width <= 0 || cfg.Board.Height <= 0 {
		return nil, fmt.Errorf("%w: board %dx%d", ErrConfigurationInvalid, cfg.Board.Width, cfg.Board.Height)
	}
	if cfg.Tiers == nil {
		return nil, fmt.Errorf("%w: tier table is nil", ErrConfigurationInvalid)
	}
	if cfg.FoodReward <= 0 {
		cfg.FoodReward = DefaultFoodReward
	}
	if !cfg.StartDirection.Valid() {
		cfg.StartDirection = DirRight
	}
	if rnd == nil {
		return nil, fmt.Errorf("%w: nil random source", ErrConfigurationInvalid)
	}
	e := &Engine{cfg: cfg, rnd: rnd}
	if err := e.Reset(); err != nil {
		return nil, err
	}
	return e, nil
}

// Reset 回到初始状态：长度 1 的蛇位于棋盘中心，随机放置食物。
// 1x1 棋盘无处放食物时返回 ErrBoardFull。
func (e *Engine) Reset() error {
	e.snake = []Position{e.cfg.Board.Center()}
	e.score = 0
	e.over = NoCollision
	food, ok := e.spawnFood()
	if !ok {
		e.over = BoardFull
		return ErrBoardFull
	}
	e.food = food
	return nil
}

// Step 推进一格。先计算候选头部，再提交：
//  1. 越界 -> WallCollision
//  2. 与当前任一节（含尚未移除的尾巴）重合 -> SelfCollision
//  3. 吃到食物则增长一节并按吃之前的档位加分，否则移除尾巴
//
// 方向合法性由 InputController 保证，这里不做校验。
func (e *Engine) Step(dir Direction) StepResult {
	if e.over != NoCollision {
		return StepResult{Outcome: Collided, Cause: e.over, Snake: e.Snake()}
	}
	head := e.snake[0].Add(dir)

	if !e.cfg.Board.Contains(head) {
		return e.collide(WallCollision)
	}
	if e.occupies(head) {
		return e.collide(SelfCollision)
	}

	res := StepResult{Outcome: Moved}
	next := make([]Position, 0, len(e.snake)+1)
	next = append(next, head)
	if head == e.food {
		next = append(next, e.snake...)
		before := e.Tier()
		points := int(math.Round(float64(e.cfg.FoodReward) * before.RewardMultiplier))
		e.score += points
		res.Ate = true
		res.Events = append(res.Events, FoodEaten{Points: points, Position: head})
		if after := e.Tier(); after.Name != before.Name {
			res.Events = append(res.Events, TierChanged{From: before.Name, To: after.Name})
		}
	} else {
		next = append(next, e.snake[:len(e.snake)-1]...)
	}
	e.snake = next

	if res.Ate {
		food, ok := e.spawnFood()
		if !ok {
			e.over = BoardFull
			res.Outcome = Collided
			res.Cause = BoardFull
			res.Events = append(res.Events, Collision{Cause: BoardFull})
		} else {
			e.food = food
		}
	}
	res.Snake = e.Snake()
	return res
}

func (e *Engine) collide(cause CollisionCause) StepResult {
	e.over = cause
	return StepResult{
		Outcome: Collided,
		Cause:   cause,
		Snake:   e.Snake(),
		Events:  []Event{Collision{Cause: cause}},
	}
}

func (e *Engine) occupies(p Position) bool {
	for _, s := range e.snake {
		if s == p {
			return true
		}
	}
	return false
}

// spawnFood 在所有空闲格中均匀随机选择；无空闲格返回 false
func (e *Engine) spawnFood() (Position, bool) {
	b := e.cfg.Board
	taken := make(map[Position]struct{}, len(e.snake))
	for _, s := range e.snake {
		taken[s] = struct{}{}
	}
	free := make([]Position, 0, b.Cells()-len(taken))
	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			p := Position{X: x, Y: y}
			if _, ok := taken[p]; !ok {
				free = append(free, p)
			}
		}
	}
	if len(free) == 0 {
		return Position{}, false
	}
	return free[e.rnd.Intn(len(free))], true
}

// Snake 蛇身副本，头在前
func (e *Engine) Snake() []Position {
	out := make([]Position, len(e.snake))
	copy(out, e.snake)
	return out
}

func (e *Engine) Food() Position       { return e.food }
func (e *Engine) Score() int           { return e.score }
func (e *Engine) Board() Board         { return e.cfg.Board }
func (e *Engine) Over() CollisionCause { return e.over }

// Tier 当前分数所在档位
func (e *Engine) Tier() Tier { return e.cfg.Tiers.Resolve(e.score) }

// StartDirection 每局初始方向
func (e *Engine) StartDirection() Direction { return e.cfg.StartDirection }

// State 渲染快照
func (e *Engine) State() State {
	return State{
		Board: e.cfg.Board,
		Snake: e.Snake(),
		Food:  e.food,
		Score: e.score,
		Tier:  e.Tier(),
	}
}
