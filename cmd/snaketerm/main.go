// snaketerm 终端版客户端：与服务端共用同一套会话状态机，用 tcell 渲染
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/gdamore/tcell/v2"
	"golang.org/x/term"

	"snakepay/config"
	"snakepay/game"
	"snakepay/server"
)

func main() {
	var envFile, player string
	var offline, sound bool
	flag.StringVar(&envFile, "env", ".env", "dotenv file with SNAKE_* settings (optional)")
	flag.StringVar(&player, "player", "", "player id, defaults to $USER")
	flag.BoolVar(&offline, "offline", false, "free play without entry fee or rewards")
	flag.BoolVar(&sound, "sound", true, "play sound effects")
	flag.Parse()

	if err := run(envFile, player, offline, sound); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(envFile, player string, offline, sound bool) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.New("snaketerm needs an interactive terminal")
	}
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	if offline {
		cfg.LedgerDriver = config.LedgerOffline
	}
	// 终端占用标准输出，日志只写文件
	if cfg.LogFile == "-" {
		cfg.LogFile = "snaketerm.log"
	}
	if err := server.InitLogger(cfg.LogFile, cfg.LogLevel); err != nil {
		return err
	}
	defer server.SyncLogger()

	led, _, closeLedger, err := server.OpenLedger(cfg)
	defer closeLedger()
	if err != nil {
		return err
	}
	settings, err := server.SettingsFromConfig(cfg)
	if err != nil {
		return err
	}

	if player == "" {
		player = os.Getenv("USER")
	}
	var user *server.User
	if player != "" {
		user = &server.User{ID: player, DisplayName: player}
	}
	sess, err := server.NewSession(settings, server.Deps{
		Auth:   server.StaticAuth{User: user},
		Ledger: led,
	})
	if err != nil {
		return err
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := screen.Init(); err != nil {
		return err
	}
	defer screen.Fini()
	screen.HideCursor()

	sounds := NewSounds()
	if sound {
		if err := sounds.Init(); err != nil {
			// 没有声卡也能玩
			server.Log.Warnw("audio init failed", "err", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.Run(ctx)
	defer sess.Stop()

	updates, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	events := make(chan tcell.Event, 16)
	go func() {
		for {
			ev := screen.PollEvent()
			if ev == nil {
				return
			}
			events <- ev
		}
	}()

	view := &View{screen: screen}
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			view.Draw(u.Snapshot)
			for _, ev := range u.Events {
				sounds.Play(ev)
			}
		case ev := <-events:
			switch ev := ev.(type) {
			case *tcell.EventResize:
				screen.Sync()
				view.Redraw()
			case *tcell.EventKey:
				if !handleKey(sess, ev) {
					return nil
				}
			}
		}
	}
}

// handleKey 方向键/WASD 转向，空格暂停，回车开局，r 重试，p 重发奖励，b 刷新余额。
// 返回 false 表示退出。
func handleKey(s *server.Session, ev *tcell.EventKey) bool {
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return false
	case tcell.KeyUp:
		s.RequestDirection(game.DirUp)
	case tcell.KeyDown:
		s.RequestDirection(game.DirDown)
	case tcell.KeyLeft:
		s.RequestDirection(game.DirLeft)
	case tcell.KeyRight:
		s.RequestDirection(game.DirRight)
	case tcell.KeyEnter:
		s.Start()
	case tcell.KeyRune:
		switch ev.Rune() {
		case 'q':
			return false
		case ' ':
			s.TogglePause()
		case 'w':
			s.RequestDirection(game.DirUp)
		case 's':
			s.RequestDirection(game.DirDown)
		case 'a':
			s.RequestDirection(game.DirLeft)
		case 'd':
			s.RequestDirection(game.DirRight)
		case 'r':
			s.Retry()
		case 'p':
			s.RetryPayout()
		case 'b':
			s.RefreshBalance()
		}
	}
	return true
}
