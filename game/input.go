package game

// InputController 方向输入缓冲：同一 Tick 内多次请求以最后一次合法请求为准，
// 下一次 Commit 时生效。反向判断以已提交的方向为基准，
// 因此 Tick 之间先按上再按左（当前向右）不会绕出 180° 掉头。
type InputController struct {
	current Direction
	pending Direction
	armed   bool
}

func NewInputController(initial Direction) *InputController {
	return &InputController{current: initial}
}

// RequestDirection 记录方向意图；非法方向或正反向请求被静默忽略（返回 false）
func (c *InputController) RequestDirection(d Direction) bool {
	if !d.Valid() || d == c.current.Opposite() {
		return false
	}
	c.pending = d
	c.armed = true
	return true
}

// Commit 在 Tick 开始时调用，应用待定方向并返回本次移动方向
func (c *InputController) Commit() Direction {
	if c.armed {
		c.current = c.pending
		c.armed = false
	}
	return c.current
}

func (c *InputController) Current() Direction { return c.current }

// Reset 新一局开始时重置
func (c *InputController) Reset(d Direction) {
	c.current = d
	c.pending = Direction{}
	c.armed = false
}
