package server

import (
	"encoding/json"
	"fmt"
	"strings"

	"snakepay/game"
)

// 消息类型。入站：move/pause/start/retry/refresh/payout；出站：state/event
const (
	MsgMove    = "move"
	MsgPause   = "pause"
	MsgStart   = "start"
	MsgRetry   = "retry"
	MsgRefresh = "refresh"
	MsgPayout  = "payout"

	MsgState = "state"
	MsgEvent = "event"
)

// Envelope 统一消息封包
// 示例：{"t":"move","p":{"dir":"up"}}
type Envelope struct {
	T string          `json:"t"`
	P json.RawMessage `json:"p,omitempty"`
}

// MovePayload 方向意图，在下一次 Tick 生效
type MovePayload struct {
	Dir string `json:"dir"`
}

// EventMessage 出站游戏事件
type EventMessage struct {
	Kind string     `json:"kind"`
	Data game.Event `json:"data"`
}

func Encode(t string, payload any) ([]byte, error) {
	if t == "" {
		return nil, fmt.Errorf("encode: empty message type")
	}
	env := Envelope{T: t}
	if payload != nil {
		pb, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.P = pb
	}
	return json.Marshal(env)
}

func DecodeEnvelope(b []byte) (Envelope, error) {
	if len(b) == 0 {
		return Envelope{}, fmt.Errorf("decode: empty message")
	}
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, err
	}
	e.T = strings.ToLower(strings.TrimSpace(e.T))
	return e, nil
}

func DecodePayload[T any](env Envelope) (T, error) {
	var out T
	if len(env.P) == 0 {
		return out, fmt.Errorf("empty payload for type %q", env.T)
	}
	err := json.Unmarshal(env.P, &out)
	return out, err
}

// Dispatch 将入站消息转为会话命令；未知类型或非法方向静默忽略
func Dispatch(s *Session, env Envelope) error {
	switch env.T {
	case MsgMove:
		mp, err := DecodePayload[MovePayload](env)
		if err != nil {
			return err
		}
		dir, ok := game.ParseDirection(mp.Dir)
		if !ok {
			return nil
		}
		s.RequestDirection(dir)
	case MsgPause:
		s.TogglePause()
	case MsgStart:
		s.Start()
	case MsgRetry:
		s.Retry()
	case MsgRefresh:
		s.RefreshBalance()
	case MsgPayout:
		s.RetryPayout()
	}
	return nil
}
