package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"snakepay/game"
	"snakepay/ledger"
)

// Routes 组装全部 HTTP 路由：/ws、管理与监控接口、交易历史、静态资源
// history 为 nil 时 /api/history 返回 404
func Routes(m *Manager, history ledger.HistoryReader, staticDir string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/ws", HandleWS(m))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/metrics", HandleMetrics(m))
	r.Route("/admin", func(r chi.Router) {
		r.Get("/config", HandleAdminConfig(m))
		r.Post("/config", HandleAdminConfig(m))
		r.Get("/sessions", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, m.List())
		})
	})
	r.Get("/api/history/{player}", HandleHistory(history))
	if staticDir != "" {
		// 前后端分离：将 / 映射到 web 目录的静态资源
		r.Handle("/*", http.FileServer(http.Dir(staticDir)))
	}
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// adminConfig 可热更新的会话参数（仅影响之后新建的会话）
type adminConfig struct {
	BaseIntervalMs *int             `json:"baseIntervalMs,omitempty"`
	FoodReward     *int             `json:"foodReward,omitempty"`
	EntryFee       *decimal.Decimal `json:"entryFee,omitempty"`
	BaseThreshold  *int             `json:"baseThreshold,omitempty"`
	TierPreset     *string          `json:"tierPreset,omitempty"`
	RewardFormula  *string          `json:"rewardFormula,omitempty"`
	Tiers          []game.Tier      `json:"tiers,omitempty"`
}

// HandleAdminConfig 提供会话配置的读取与更新
// GET /admin/config  返回当前配置
// POST /admin/config 以 JSON 载荷更新部分字段
func HandleAdminConfig(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, currentConfig(m.Settings()))
		case http.MethodPost:
			var body adminConfig
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				http.Error(w, "invalid json", http.StatusBadRequest)
				return
			}
			err := m.UpdateSettings(func(s *Settings) error { return applyConfig(s, body) })
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			cur := m.Settings()
			Log.Infow("config updated", "interval", cur.BaseInterval, "foodReward", cur.FoodReward,
				"entryFee", cur.EntryFee, "threshold", cur.BaseThreshold, "tiers", cur.TierPreset, "formula", cur.Formula)
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func currentConfig(s Settings) adminConfig {
	ms := int(s.BaseInterval / time.Millisecond)
	preset := s.TierPreset
	formula := s.Formula.String()
	fee := s.EntryFee
	return adminConfig{
		BaseIntervalMs: &ms,
		FoodReward:     &s.FoodReward,
		EntryFee:       &fee,
		BaseThreshold:  &s.BaseThreshold,
		TierPreset:     &preset,
		RewardFormula:  &formula,
		Tiers:          s.Tiers.Tiers(),
	}
}

// applyConfig 校验后写入；任何字段非法则整体拒绝
func applyConfig(s *Settings, body adminConfig) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", game.ErrConfigurationInvalid, fmt.Sprintf(format, args...))
	}
	if body.BaseIntervalMs != nil {
		if *body.BaseIntervalMs <= 0 {
			return invalid("baseIntervalMs %d", *body.BaseIntervalMs)
		}
		s.BaseInterval = time.Duration(*body.BaseIntervalMs) * time.Millisecond
	}
	if body.FoodReward != nil {
		if *body.FoodReward <= 0 {
			return invalid("foodReward %d", *body.FoodReward)
		}
		s.FoodReward = *body.FoodReward
	}
	if body.EntryFee != nil {
		if body.EntryFee.IsNegative() {
			return invalid("entryFee %s", body.EntryFee)
		}
		s.EntryFee = *body.EntryFee
	}
	if body.BaseThreshold != nil {
		if *body.BaseThreshold < 0 {
			return invalid("baseThreshold %d", *body.BaseThreshold)
		}
		s.BaseThreshold = *body.BaseThreshold
	}
	if body.RewardFormula != nil {
		f, err := game.ParseRewardFormula(*body.RewardFormula)
		if err != nil {
			return err
		}
		s.Formula = f
	}
	switch {
	case len(body.Tiers) > 0:
		table, err := game.NewTierTable(body.Tiers)
		if err != nil {
			return err
		}
		s.Tiers = table
		s.TierPreset = "custom"
	case body.TierPreset != nil:
		tiers, ok := game.Preset(*body.TierPreset)
		if !ok {
			return invalid("unknown tier preset %q", *body.TierPreset)
		}
		table, err := game.NewTierTable(tiers)
		if err != nil {
			return err
		}
		s.Tiers = table
		s.TierPreset = *body.TierPreset
	}
	if s.Formula == game.Proportional && s.BaseThreshold == 0 {
		return invalid("proportional formula needs a positive base threshold")
	}
	return nil
}

// HandleMetrics 输出运行指标
// GET /metrics
func HandleMetrics(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"sessions": len(m.List()),
			"metrics":  m.Metrics().Snapshot(),
		}
		writeJSON(w, http.StatusOK, payload)
	}
}

// HandleHistory 玩家交易流水
// GET /api/history/{player}?limit=20
func HandleHistory(history ledger.HistoryReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if history == nil {
			http.Error(w, "history not available", http.StatusNotFound)
			return
		}
		player := chi.URLParam(r, "player")
		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}
		receipts, err := history.History(r.Context(), ledger.Identity(player), limit)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ledger.ErrServiceUnavailable) {
				status = http.StatusServiceUnavailable
			}
			http.Error(w, err.Error(), status)
			return
		}
		if receipts == nil {
			receipts = []ledger.Receipt{}
		}
		writeJSON(w, http.StatusOK, receipts)
	}
}
