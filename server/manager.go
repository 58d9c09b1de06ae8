package server

import (
	"context"
	"errors"
	"sort"
	"sync"

	"snakepay/ledger"
)

// SessionInfo 管理接口中的会话概要
type SessionInfo struct {
	Player     string `json:"player"`
	SessionID  string `json:"sessionId"`
	Status     Status `json:"status"`
	Score      int    `json:"score"`
	Tier       string `json:"tier"`
	Generation int64  `json:"generation"`
	Conns      int    `json:"conns"`
}

type managedSession struct {
	session *Session
	refs    int
}

// Manager 管理每个玩家的会话生命周期：首个连接时创建，最后一个连接断开时停止
type Manager struct {
	ctx     context.Context
	ledger  ledger.Service
	metrics *SessionMetrics

	settingsMu sync.RWMutex
	settings   Settings

	mu       sync.Mutex
	sessions map[string]*managedSession
}

// NewManager ledger 为 nil 时所有会话运行在离线模式
func NewManager(ctx context.Context, settings Settings, led ledger.Service) *Manager {
	return &Manager{
		ctx:      ctx,
		ledger:   led,
		metrics:  &SessionMetrics{},
		settings: settings,
		sessions: make(map[string]*managedSession),
	}
}

func (m *Manager) Metrics() *SessionMetrics { return m.metrics }

// Settings 当前用于新会话的参数
func (m *Manager) Settings() Settings {
	m.settingsMu.RLock()
	defer m.settingsMu.RUnlock()
	return m.settings
}

// UpdateSettings 热更新，只影响之后创建的会话
func (m *Manager) UpdateSettings(fn func(*Settings) error) error {
	m.settingsMu.Lock()
	defer m.settingsMu.Unlock()
	next := m.settings
	if err := fn(&next); err != nil {
		return err
	}
	m.settings = next
	return nil
}

// Acquire 获取或创建玩家会话，并确保其已开始运行
func (m *Manager) Acquire(user *User) (*Session, error) {
	if user == nil || user.ID == "" {
		return nil, ErrNotSignedIn
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ms, ok := m.sessions[user.ID]; ok {
		select {
		case <-ms.session.Done():
			delete(m.sessions, user.ID)
		default:
			ms.refs++
			return ms.session, nil
		}
	}
	s, err := NewSession(m.Settings(), Deps{
		Auth:    StaticAuth{User: user},
		Ledger:  m.ledger,
		Metrics: m.metrics,
	})
	if err != nil {
		return nil, err
	}
	m.sessions[user.ID] = &managedSession{session: s, refs: 1}
	go s.Run(m.ctx)
	Log.Infow("session created", "player", user.ID, "session", s.ID)
	return s, nil
}

// Release 释放一个引用；归零时停止会话（清理两个计时器）
func (m *Manager) Release(playerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[playerID]
	if !ok {
		return
	}
	ms.refs--
	if ms.refs > 0 {
		return
	}
	ms.session.Stop()
	delete(m.sessions, playerID)
}

// Get 查找玩家会话
func (m *Manager) Get(playerID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[playerID]
	if !ok {
		return nil, false
	}
	return ms.session, true
}

// List 所有会话概要（按玩家排序）
func (m *Manager) List() []SessionInfo {
	m.mu.Lock()
	type entry struct {
		player string
		ms     managedSession
	}
	entries := make([]entry, 0, len(m.sessions))
	for id, ms := range m.sessions {
		entries = append(entries, entry{player: id, ms: *ms})
	}
	m.mu.Unlock()

	out := make([]SessionInfo, 0, len(entries))
	for _, e := range entries {
		snap, err := e.ms.session.Snapshot()
		if errors.Is(err, ErrSessionClosed) {
			continue
		}
		out = append(out, SessionInfo{
			Player:     e.player,
			SessionID:  snap.SessionID,
			Status:     snap.Status,
			Score:      snap.Score,
			Tier:       snap.Tier.Name,
			Generation: snap.Generation,
			Conns:      e.ms.refs,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Player < out[j].Player })
	return out
}

// Close 停止所有会话
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ms := range m.sessions {
		ms.session.Stop()
		delete(m.sessions, id)
	}
}
