package game

import "strings"

// Position 网格坐标（0 起始，单位为格子）
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Add 返回沿方向移动一格后的坐标
func (p Position) Add(d Direction) Position {
	return Position{X: p.X + d.X, Y: p.Y + d.Y}
}

// Direction 单位方向向量
type Direction struct {
	X int `json:"x"`
	Y int `json:"y"`
}

var (
	DirUp    = Direction{X: 0, Y: -1}
	DirDown  = Direction{X: 0, Y: 1}
	DirLeft  = Direction{X: -1, Y: 0}
	DirRight = Direction{X: 1, Y: 0}
)

// Opposite 反方向
func (d Direction) Opposite() Direction {
	return Direction{X: -d.X, Y: -d.Y}
}

// Valid 仅四个轴向单位向量合法
func (d Direction) Valid() bool {
	switch d {
	case DirUp, DirDown, DirLeft, DirRight:
		return true
	}
	return false
}

func (d Direction) String() string {
	switch d {
	case DirUp:
		return "up"
	case DirDown:
		return "down"
	case DirLeft:
		return "left"
	case DirRight:
		return "right"
	}
	return "none"
}

// ParseDirection 解析客户端命令（up/down/left/right，不区分大小写）
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up":
		return DirUp, true
	case "down":
		return DirDown, true
	case "left":
		return DirLeft, true
	case "right":
		return DirRight, true
	}
	return Direction{}, false
}

// Board 棋盘尺寸（格子数）
type Board struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Contains 判断坐标是否在 [0,Width)x[0,Height) 内
func (b Board) Contains(p Position) bool {
	return p.X >= 0 && p.X < b.Width && p.Y >= 0 && p.Y < b.Height
}

func (b Board) Cells() int { return b.Width * b.Height }

// Center 棋盘中心，作为默认出生点
func (b Board) Center() Position {
	return Position{X: b.Width / 2, Y: b.Height / 2}
}
