package main

import (
	"fmt"

	"github.com/gdamore/tcell/v2"

	"snakepay/game"
	"snakepay/server"
)

var (
	styleBorder = tcell.StyleDefault.Foreground(tcell.ColorGray)
	styleHead   = tcell.StyleDefault.Foreground(tcell.ColorLime).Bold(true)
	styleBody   = tcell.StyleDefault.Foreground(tcell.ColorGreen)
	styleFood   = tcell.StyleDefault.Foreground(tcell.ColorRed)
	styleText   = tcell.StyleDefault
	styleTier   = tcell.StyleDefault.Foreground(tcell.ColorYellow)
	styleError  = tcell.StyleDefault.Foreground(tcell.ColorRed).Bold(true)
	styleHint   = tcell.StyleDefault.Foreground(tcell.ColorGray)
)

// View 纯表现层：只读快照，不持有游戏状态
type View struct {
	screen tcell.Screen
	last   *server.Snapshot
}

func (v *View) Redraw() {
	if v.last != nil {
		v.Draw(*v.last)
	}
}

// Draw 每个格子占两列，使棋盘在终端中接近正方形
func (v *View) Draw(s server.Snapshot) {
	v.last = &s
	v.screen.Clear()

	b := s.Board
	ox, oy := 1, 3
	v.box(ox-1, oy-1, b.Width*2+1, b.Height+1)

	if s.Status != server.StatusLoading && s.Status != server.StatusError {
		cell := func(p game.Position, r rune, st tcell.Style) {
			x, y := ox+p.X*2, oy+p.Y
			v.screen.SetContent(x, y, r, nil, st)
			v.screen.SetContent(x+1, y, r, nil, st)
		}
		if len(s.Snake) > 0 {
			cell(s.Food, '●', styleFood)
		}
		for i := len(s.Snake) - 1; i >= 0; i-- {
			if i == 0 {
				cell(s.Snake[i], '█', styleHead)
			} else {
				cell(s.Snake[i], '▓', styleBody)
			}
		}
	}

	v.text(0, 0, styleText, "%s", v.header(s))
	v.text(0, 1, styleTier, "Tier: %s %s  x%.1f reward", tierIcon(s.Tier.Name), s.Tier.Name, s.Tier.RewardMultiplier)

	y := oy + b.Height + 1
	v.text(0, y, styleText, "%s", statusLine(s))
	if s.Error != "" {
		v.text(0, y+1, styleError, "%s", s.Error)
	}
	v.text(0, y+2, styleHint, "arrows/wasd move  space pause  enter start  r retry  p payout  b balance  q quit")
	v.screen.Show()
}

func (v *View) header(s server.Snapshot) string {
	who := "guest"
	if s.User != nil {
		who = s.User.DisplayName
	}
	bal := "-"
	if s.Balance != nil {
		bal = s.Balance.StringFixed(2)
	}
	return fmt.Sprintf("%s  balance %s  score %d  time %ds  potential %s",
		who, bal, s.Score, s.Elapsed, s.Potential.Amount.StringFixed(2))
}

func statusLine(s server.Snapshot) string {
	switch s.Status {
	case server.StatusLoading:
		return "Loading..."
	case server.StatusReady:
		if s.Busy {
			return "Paying entry fee..."
		}
		return fmt.Sprintf("Press Enter to play (entry fee %s)", s.EntryFee.StringFixed(2))
	case server.StatusPaused:
		return "Paused. Space to resume"
	case server.StatusEnded:
		msg := fmt.Sprintf("Game over! score %d", s.Score)
		if s.Reward != nil {
			msg += fmt.Sprintf(", reward %s", s.Reward.Amount.StringFixed(2))
		}
		switch {
		case s.Payout != nil:
			msg += " (paid)"
		case s.PayoutFailed:
			msg += " (payout failed, p to retry)"
		case s.Busy:
			msg += " (paying...)"
		}
		return msg + ". Enter to play again"
	case server.StatusError:
		return "Error. Press r to retry"
	}
	return ""
}

// tierIcon 档位徽标
func tierIcon(name string) string {
	switch name {
	case "Noob", "Starter":
		return "🐣"
	case "Ape", "Novice":
		return "🦍"
	case "Hodler", "Apprentice":
		return "💎"
	case "Diamond Hands", "Expert", "Master":
		return "🙌"
	case "Satoshi", "Legendary":
		return "₿"
	}
	return "•"
}

func (v *View) text(x, y int, st tcell.Style, format string, args ...any) {
	for _, r := range fmt.Sprintf(format, args...) {
		v.screen.SetContent(x, y, r, nil, st)
		x++
	}
}

func (v *View) box(x, y, w, h int) {
	for i := x; i <= x+w; i++ {
		v.screen.SetContent(i, y, '─', nil, styleBorder)
		v.screen.SetContent(i, y+h, '─', nil, styleBorder)
	}
	for j := y; j <= y+h; j++ {
		v.screen.SetContent(x, j, '│', nil, styleBorder)
		v.screen.SetContent(x+w, j, '│', nil, styleBorder)
	}
	v.screen.SetContent(x, y, '┌', nil, styleBorder)
	v.screen.SetContent(x+w, y, '┐', nil, styleBorder)
	v.screen.SetContent(x, y+h, '└', nil, styleBorder)
	v.screen.SetContent(x+w, y+h, '┘', nil, styleBorder)
}
