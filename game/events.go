package game

// CollisionCause 终局原因
type CollisionCause int

const (
	NoCollision CollisionCause = iota
	WallCollision
	SelfCollision
	BoardFull
)

func (c CollisionCause) String() string {
	switch c {
	case WallCollision:
		return "wall"
	case SelfCollision:
		return "self"
	case BoardFull:
		return "board_full"
	}
	return "none"
}

func (c CollisionCause) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Event 引擎每步产生的结构化事件，表现层自行订阅并决定如何展示
type Event interface {
	Kind() string
}

// FoodEaten 吃到食物
type FoodEaten struct {
	Points   int      `json:"points"`
	Position Position `json:"position"`
}

func (FoodEaten) Kind() string { return "food" }

// Collision 撞墙、撞自己或棋盘已满
type Collision struct {
	Cause CollisionCause `json:"cause"`
}

func (Collision) Kind() string { return "collision" }

// TierChanged 得分跨越档位
type TierChanged struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (TierChanged) Kind() string { return "tier" }
