package server

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"snakepay/game"
	"snakepay/ledger"
)

var ErrSessionClosed = errors.New("session closed")

// Status 会话状态
type Status string

const (
	StatusLoading Status = "LOADING"
	StatusReady   Status = "READY"
	StatusPlaying Status = "PLAYING"
	StatusPaused  Status = "PAUSED"
	StatusEnded   Status = "GAME_OVER"
	StatusError   Status = "ERROR"
)

const defaultLedgerTimeout = 15 * time.Second

// Settings 每个会话的游戏参数
type Settings struct {
	Board         game.Board
	BaseInterval  time.Duration
	FoodReward    int
	EntryFee      decimal.Decimal
	BaseThreshold int
	Formula       game.RewardFormula
	Tiers         *game.TierTable
	TierPreset    string
}

// Deps 会话的外部协作者。Ledger 为 nil 时为离线模式：不扣入场费也不发奖励。
type Deps struct {
	Auth          AuthService
	Ledger        ledger.Service
	Clock         Clock
	Rand          *rand.Rand
	Metrics       *SessionMetrics
	LedgerTimeout time.Duration
}

// Snapshot 广播给表现层的只读状态
type Snapshot struct {
	SessionID    string            `json:"sessionId"`
	Generation   int64             `json:"generation"`
	Status       Status            `json:"status"`
	User         *User             `json:"user,omitempty"`
	Busy         bool              `json:"busy"`
	Error        string            `json:"error,omitempty"`
	Elapsed      int               `json:"elapsedSeconds"`
	EntryFee     decimal.Decimal   `json:"entryFee"`
	Balance      *decimal.Decimal  `json:"balance,omitempty"`
	Potential    game.RewardQuote  `json:"potential"`
	Reward       *game.RewardQuote `json:"reward,omitempty"`
	Payout       *ledger.Receipt   `json:"payout,omitempty"`
	PayoutFailed bool              `json:"payoutFailed,omitempty"`
	game.State
}

// Update 每次状态变化推送一次；Events 为本次产生的游戏事件
type Update struct {
	Snapshot Snapshot
	Events   []game.Event
}

// Session 单个玩家的游戏会话：权威状态维护在内存，单协程推进。
// Tick、每秒计时、输入命令与账本结果都经由同一个 select 循环串行处理，
// 一次 Step 内不会交错。
type Session struct {
	ID string

	settings Settings
	deps     Deps

	inbox    chan any
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// 以下字段只在 Run 协程中访问
	status       Status
	user         *User
	generation   int64
	engine       *game.Engine
	input        *game.InputController
	elapsed      int
	interval     time.Duration
	balance      *decimal.Decimal
	quote        *game.RewardQuote
	payout       *ledger.Receipt
	payoutFailed bool
	busy         bool // 初始化或入场扣费进行中，阻止开局
	paying       bool // 奖励发放进行中，不阻止下一局
	lastErr      string
	subs         map[int]chan Update
	nextSub      int
}

// NewSession 创建会话（尚未运行，需调用 Run）
func NewSession(settings Settings, deps Deps) (*Session, error) {
	if deps.Clock == nil {
		deps.Clock = NewGameClock()
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if deps.Metrics == nil {
		deps.Metrics = &SessionMetrics{}
	}
	if deps.LedgerTimeout <= 0 {
		deps.LedgerTimeout = defaultLedgerTimeout
	}
	if settings.BaseInterval <= 0 {
		return nil, fmt.Errorf("%w: base interval %s", game.ErrConfigurationInvalid, settings.BaseInterval)
	}
	engine, err := game.NewEngine(game.Config{
		Board:      settings.Board,
		FoodReward: settings.FoodReward,
		Tiers:      settings.Tiers,
	}, deps.Rand)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:       uuid.NewString(),
		settings: settings,
		deps:     deps,
		inbox:    make(chan any, 256), // 足够缓冲，避免网络读阻塞影响 Tick
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		status:   StatusLoading,
		engine:   engine,
		input:    game.NewInputController(engine.StartDirection()),
		subs:     make(map[int]chan Update),
	}, nil
}

// Run 会话主循环，阻塞直到 ctx 取消或 Stop
func (s *Session) Run(ctx context.Context) {
	defer close(s.done)
	defer s.teardown()

	s.initialize()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.quit:
			return
		case cmd := <-s.inbox:
			s.handleCommand(cmd)
		case <-s.deps.Clock.Moves():
			s.tick()
		case <-s.deps.Clock.Seconds():
			s.second()
		}
	}
}

// Stop 结束会话：停止两个计时器，关闭所有订阅
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.quit) })
}

// Done 会话循环退出后关闭
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) teardown() {
	s.deps.Clock.Stop()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	Log.Infow("session closed", "session", s.ID, "status", s.status, "generation", s.generation)
}

// post 投递命令；会话已结束时返回 false
func (s *Session) post(cmd any) bool {
	select {
	case s.inbox <- cmd:
		return true
	case <-s.done:
		return false
	}
}

// RequestDirection 方向意图不阻塞：通道满时丢弃，保证 Tick 准时
func (s *Session) RequestDirection(d game.Direction) {
	select {
	case s.inbox <- cmdDirection{dir: d}:
	default:
		s.deps.Metrics.IncDropped()
	}
}

func (s *Session) TogglePause() { s.post(cmdTogglePause{}) }
func (s *Session) Start() { s.post(cmdStart{}) }
func (s *Session) Retry() { s.post(cmdRetry{}) }
func (s *Session) RefreshBalance() { s.post(cmdRefresh{}) }
func (s *Session) RetryPayout() { s.post(cmdRetryPayout{}) }

// Snapshot 同步读取当前状态
func (s *Session) Snapshot() (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if !s.post(cmdSnapshot{reply: reply}) {
		return Snapshot{}, ErrSessionClosed
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-s.done:
		return Snapshot{}, ErrSessionClosed
	}
}

// Subscribe 订阅状态推送，立即收到一次当前快照。cancel 可重复调用。
func (s *Session) Subscribe() (<-chan Update, func()) {
	reply := make(chan subscription, 1)
	if !s.post(cmdSubscribe{reply: reply}) {
		ch := make(chan Update)
		close(ch)
		return ch, func() {}
	}
	var sub subscription
	select {
	case sub = <-reply:
	case <-s.done:
		ch := make(chan Update)
		close(ch)
		return ch, func() {}
	}
	var once sync.Once
	return sub.ch, func() {
		once.Do(func() { s.post(cmdUnsubscribe{id: sub.id}) })
	}
}

func (s *Session) handleCommand(cmd any) {
	switch c := cmd.(type) {
	case cmdDirection:
		if s.status == StatusPlaying && s.input.RequestDirection(c.dir) {
			s.deps.Metrics.IncAccepted()
		} else {
			s.deps.Metrics.IncRejected()
		}
	case cmdTogglePause:
		s.togglePause()
	case cmdStart:
		s.start()
	case cmdRetry:
		if s.status == StatusError {
			s.initialize()
		}
	case cmdRefresh:
		s.refreshBalance()
	case cmdRetryPayout:
		if s.status == StatusEnded && s.payoutFailed && !s.paying {
			s.requestPayout()
		}
	case cmdSnapshot:
		c.reply <- s.snapshot()
	case cmdSubscribe:
		s.nextSub++
		ch := make(chan Update, 32)
		s.subs[s.nextSub] = ch
		ch <- Update{Snapshot: s.snapshot()}
		c.reply <- subscription{id: s.nextSub, ch: ch}
	case cmdUnsubscribe:
		if ch, ok := s.subs[c.id]; ok {
			close(ch)
			delete(s.subs, c.id)
		}
	case initResult:
		s.onInit(c)
	case balanceResult:
		s.onBalance(c)
	case debitResult:
		s.onDebit(c)
	case payoutResult:
		s.onPayout(c)
	}
}

// call 在独立协程执行外部调用，结果投回 inbox。
// 调用不随会话取消；会话结束后结果被丢弃。
func (s *Session) call(fn func(ctx context.Context) any) {
	timeout := s.deps.LedgerTimeout
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		res := fn(ctx)
		select {
		case s.inbox <- res:
		case <-s.done:
		}
	}()
}

// initialize Loading：获取当前用户并查询余额
func (s *Session) initialize() {
	s.status = StatusLoading
	s.busy = true
	s.lastErr = ""
	s.publish(nil)

	auth, led := s.deps.Auth, s.deps.Ledger
	s.call(func(ctx context.Context) any {
		var res initResult
		if auth != nil {
			u, err := auth.CurrentUser(ctx)
			if err != nil {
				res.err = err
				return res
			}
			res.user = u
		}
		if led == nil {
			return res
		}
		if res.user == nil {
			res.err = ErrNotSignedIn
			return res
		}
		bal, err := led.Balance(ctx, res.user.Identity())
		if err != nil {
			res.err = err
			return res
		}
		res.balance = &bal
		return res
	})
}

func (s *Session) onInit(res initResult) {
	if s.status != StatusLoading {
		s.deps.Metrics.IncStale()
		return
	}
	s.busy = false
	if res.err != nil {
		s.fail(res.err)
		return
	}
	s.user = res.user
	s.balance = res.balance
	s.status = StatusReady
	Log.Infow("session ready", "session", s.ID, "user", s.userID(), "offline", s.deps.Ledger == nil)
	s.publish(nil)
}

// fail 进入 Error 状态，错误原文展示给玩家
func (s *Session) fail(err error) {
	s.status = StatusError
	s.busy = false
	s.lastErr = err.Error()
	Log.Warnw("session error", "session", s.ID, "user", s.userID(), "err", err)
	s.publish(nil)
}

// start Ready/Ended -> Playing。需先扣入场费；再来一局时先校验余额。
func (s *Session) start() {
	if s.busy {
		return
	}
	replay := false
	switch s.status {
	case StatusReady:
	case StatusEnded:
		replay = true
		s.status = StatusReady
	default:
		return
	}
	s.lastErr = ""
	s.generation++
	gen := s.generation

	if s.deps.Ledger == nil || !s.settings.EntryFee.IsPositive() {
		s.beginGame()
		return
	}
	if s.user == nil {
		s.fail(ErrNotSignedIn)
		return
	}

	s.busy = true
	led, id, fee := s.deps.Ledger, s.user.Identity(), s.settings.EntryFee
	if replay {
		s.call(func(ctx context.Context) any {
			bal, err := led.Balance(ctx, id)
			return balanceResult{gen: gen, replay: true, balance: bal, err: err}
		})
	} else {
		s.requestDebit(gen, led, id, fee)
	}
	s.publish(nil)
}

func (s *Session) requestDebit(gen int64, led ledger.Service, id ledger.Identity, fee decimal.Decimal) {
	s.call(func(ctx context.Context) any {
		r, err := led.Debit(ctx, id, fee)
		return debitResult{gen: gen, receipt: r, err: err}
	})
}

func (s *Session) onBalance(res balanceResult) {
	if !res.replay {
		// 刷新结果只在同一局且没有扣费/发放在途时生效，否则会覆盖更新的余额
		if res.gen != s.generation || s.busy || s.paying {
			s.stale("refresh", res.gen)
			return
		}
		if res.err != nil {
			s.lastErr = res.err.Error()
		} else {
			bal := res.balance
			s.balance = &bal
		}
		s.publish(nil)
		return
	}
	if res.gen != s.generation || s.status != StatusReady {
		s.stale("balance", res.gen)
		return
	}
	if res.err != nil {
		s.busy = false
		s.lastErr = res.err.Error()
		s.publish(nil)
		return
	}
	bal := res.balance
	s.balance = &bal
	if bal.LessThan(s.settings.EntryFee) {
		s.busy = false
		s.lastErr = fmt.Errorf("%w: balance %s, entry fee %s", ledger.ErrInsufficientFunds,
			bal.StringFixed(2), s.settings.EntryFee.StringFixed(2)).Error()
		s.publish(nil)
		return
	}
	s.requestDebit(res.gen, s.deps.Ledger, s.user.Identity(), s.settings.EntryFee)
}

func (s *Session) onDebit(res debitResult) {
	if res.gen != s.generation || s.status != StatusReady {
		s.stale("debit", res.gen)
		return
	}
	s.busy = false
	if res.err != nil {
		// 扣费失败：停留在 Ready，展示错误
		s.deps.Metrics.IncDebitsFailed()
		s.lastErr = res.err.Error()
		Log.Warnw("entry fee debit failed", "session", s.ID, "user", s.userID(), "err", res.err)
		s.publish(nil)
		return
	}
	bal := res.receipt.Balance
	s.balance = &bal
	Log.Infow("entry fee debited", "session", s.ID, "user", s.userID(), "tx", res.receipt.TxID, "amount", res.receipt.Amount)
	s.beginGame()
}

// beginGame 重置蛇、食物、方向、分数与时间，启动计时器
func (s *Session) beginGame() {
	s.elapsed = 0
	s.quote = nil
	s.payout = nil
	s.payoutFailed = false
	s.paying = false
	s.status = StatusPlaying
	s.deps.Metrics.IncGamesStarted()
	if err := s.engine.Reset(); err != nil {
		s.endGame(game.BoardFull, []game.Event{game.Collision{Cause: game.BoardFull}})
		return
	}
	s.input.Reset(s.engine.StartDirection())
	s.interval = TickInterval(s.settings.BaseInterval, s.engine.Tier().SpeedMultiplier)
	s.deps.Clock.Start(s.interval)
	Log.Infow("game started", "session", s.ID, "user", s.userID(), "generation", s.generation, "interval", s.interval)
	s.publish(nil)
}

// tick 核心循环：应用方向 → 推进一步 → 处理结果 → 广播
func (s *Session) tick() {
	if s.status != StatusPlaying {
		return
	}
	start := time.Now()
	res := s.engine.Step(s.input.Commit())
	if res.Ate {
		s.deps.Metrics.IncFoodEaten()
	}
	if res.Outcome == game.Collided {
		s.endGame(res.Cause, res.Events)
	} else {
		// 档位变化后重新计算间隔
		if iv := TickInterval(s.settings.BaseInterval, s.engine.Tier().SpeedMultiplier); iv != s.interval {
			s.interval = iv
			s.deps.Clock.SetInterval(iv)
		}
		s.publish(res.Events)
	}
	s.deps.Metrics.AddTick(time.Since(start).Nanoseconds())
}

func (s *Session) second() {
	if s.status != StatusPlaying {
		return
	}
	s.elapsed++
	s.publish(nil)
}

// togglePause 仅在 Playing/Paused 之间切换，不重置任何游戏状态
func (s *Session) togglePause() {
	switch s.status {
	case StatusPlaying:
		s.status = StatusPaused
		s.deps.Clock.Pause()
	case StatusPaused:
		s.status = StatusPlaying
		s.deps.Clock.Resume()
	default:
		return
	}
	s.publish(nil)
}

// endGame Playing -> Ended：停表、结算，奖励为正时发起发放
func (s *Session) endGame(cause game.CollisionCause, events []game.Event) {
	s.status = StatusEnded
	s.deps.Clock.Stop()
	s.deps.Metrics.IncGamesEnded()

	q := s.settings.Formula.Calculate(s.engine.Score(), s.engine.Tier(), s.settings.EntryFee, s.settings.BaseThreshold)
	s.quote = &q
	Log.Infow("game over", "session", s.ID, "user", s.userID(), "cause", cause,
		"score", q.Score, "tier", q.Tier, "reward", q.Amount, "elapsed", s.elapsed)

	if q.Payable() && s.deps.Ledger != nil && s.user != nil {
		s.requestPayout()
	}
	s.publish(events)
}

func (s *Session) requestPayout() {
	s.paying = true
	s.payoutFailed = false
	gen := s.generation
	led, id, amount := s.deps.Ledger, s.user.Identity(), s.quote.Amount
	s.call(func(ctx context.Context) any {
		r, err := led.Credit(ctx, id, amount)
		return payoutResult{gen: gen, receipt: r, err: err}
	})
}

// onPayout 失败不回退 Ended，等待手动重试。
// 发放期间已开新局时结果只记录日志，不作用于新局。
func (s *Session) onPayout(res payoutResult) {
	if res.gen != s.generation || s.status != StatusEnded {
		s.stale("payout", res.gen)
		if res.err != nil {
			s.deps.Metrics.IncPayoutsFailed()
			Log.Errorw("reward payout for previous game failed", "session", s.ID, "user", s.userID(), "generation", res.gen, "err", res.err)
		} else {
			s.deps.Metrics.IncPayoutsPaid()
			Log.Infow("reward paid for previous game", "session", s.ID, "user", s.userID(), "tx", res.receipt.TxID, "amount", res.receipt.Amount)
		}
		return
	}
	s.paying = false
	if res.err != nil {
		s.deps.Metrics.IncPayoutsFailed()
		s.payoutFailed = true
		s.lastErr = res.err.Error()
		Log.Errorw("reward payout failed", "session", s.ID, "user", s.userID(), "amount", s.quote.Amount, "err", res.err)
		s.publish(nil)
		return
	}
	s.deps.Metrics.IncPayoutsPaid()
	receipt := res.receipt
	s.payout = &receipt
	bal := receipt.Balance
	s.balance = &bal
	s.lastErr = ""
	Log.Infow("reward paid", "session", s.ID, "user", s.userID(), "tx", receipt.TxID, "amount", receipt.Amount)
	s.publish(nil)
}

func (s *Session) refreshBalance() {
	if s.deps.Ledger == nil || s.user == nil {
		return
	}
	led, id, gen := s.deps.Ledger, s.user.Identity(), s.generation
	s.call(func(ctx context.Context) any {
		bal, err := led.Balance(ctx, id)
		return balanceResult{gen: gen, balance: bal, err: err}
	})
}

func (s *Session) stale(op string, gen int64) {
	s.deps.Metrics.IncStale()
	Log.Warnw("stale ledger result ignored", "session", s.ID, "op", op, "result_generation", gen, "generation", s.generation)
}

func (s *Session) userID() string {
	if s.user == nil {
		return ""
	}
	return s.user.ID
}

func (s *Session) snapshot() Snapshot {
	state := s.engine.State()
	return Snapshot{
		SessionID:    s.ID,
		Generation:   s.generation,
		Status:       s.status,
		User:         s.user,
		Busy:         s.busy || s.paying,
		Error:        s.lastErr,
		Elapsed:      s.elapsed,
		EntryFee:     s.settings.EntryFee,
		Balance:      s.balance,
		Potential:    s.settings.Formula.Calculate(state.Score, state.Tier, s.settings.EntryFee, s.settings.BaseThreshold),
		Reward:       s.quote,
		Payout:       s.payout,
		PayoutFailed: s.payoutFailed,
		State:        state,
	}
}

// publish 将当前状态推送给所有订阅者（非阻塞，满则丢弃）
func (s *Session) publish(events []game.Event) {
	if len(s.subs) == 0 {
		return
	}
	u := Update{Snapshot: s.snapshot(), Events: events}
	for _, ch := range s.subs {
		select {
		case ch <- u:
		default:
			// 为了实时性，丢弃：表现层只需最新状态
		}
	}
}
