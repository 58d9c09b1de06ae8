package server

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"snakepay/game"
	"snakepay/ledger"
)

// fakeClock 由测试手动驱动 Tick 与秒计时
type fakeClock struct {
	mu       sync.Mutex
	moves    chan time.Time
	seconds  chan time.Time
	running  bool
	paused   bool
	starts   int
	interval time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{moves: make(chan time.Time), seconds: make(chan time.Time)}
}

func (c *fakeClock) Start(interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running, c.paused = true, false
	c.starts++
	c.interval = interval
}

func (c *fakeClock) SetInterval(interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interval = interval
}

func (c *fakeClock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.running, c.paused = false, true
	}
}

func (c *fakeClock) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		c.running, c.paused = true, false
	}
}

func (c *fakeClock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running, c.paused = false, false
}

func (c *fakeClock) Moves() <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	return c.moves
}

func (c *fakeClock) Seconds() <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	return c.seconds
}

func (c *fakeClock) state() (running bool, starts int, interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running, c.starts, c.interval
}

func (c *fakeClock) tick(t *testing.T) {
	t.Helper()
	select {
	case c.moves <- time.Now():
	case <-time.After(time.Second):
		t.Fatal("session did not accept move tick")
	}
}

func (c *fakeClock) second(t *testing.T) {
	t.Helper()
	select {
	case c.seconds <- time.Now():
	case <-time.After(time.Second):
		t.Fatal("session did not accept second tick")
	}
}

// fakeLedger 在内存账本外包一层可注入的故障与阻塞
type fakeLedger struct {
	*ledger.Memory

	mu          sync.Mutex
	balanceErr  error
	debitErr    error
	creditErr   error
	creditGate  chan struct{}
	// balanceGate 非空时 Balance 先读出余额，通知 balanceRead，再阻塞到 gate 关闭
	balanceGate chan struct{}
	balanceRead chan struct{}
}

func newFakeLedger(opening int64) *fakeLedger {
	return &fakeLedger{Memory: ledger.NewMemory(ledger.MemoryOptions{
		OpeningBalance: decimal.NewFromInt(opening),
		Seed:           1,
	})}
}

func (f *fakeLedger) set(fn func(f *fakeLedger)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeLedger) Balance(ctx context.Context, id ledger.Identity) (decimal.Decimal, error) {
	f.mu.Lock()
	err, gate, read := f.balanceErr, f.balanceGate, f.balanceRead
	f.mu.Unlock()
	if err != nil {
		return decimal.Zero, err
	}
	bal, err := f.Memory.Balance(ctx, id)
	if gate == nil || err != nil {
		return bal, err
	}
	if read != nil {
		close(read)
	}
	select {
	case <-gate:
	case <-ctx.Done():
		return decimal.Zero, ctx.Err()
	}
	return bal, nil
}

func (f *fakeLedger) Debit(ctx context.Context, id ledger.Identity, amount decimal.Decimal) (ledger.Receipt, error) {
	f.mu.Lock()
	err := f.debitErr
	f.mu.Unlock()
	if err != nil {
		return ledger.Receipt{}, err
	}
	return f.Memory.Debit(ctx, id, amount)
}

func (f *fakeLedger) Credit(ctx context.Context, id ledger.Identity, amount decimal.Decimal) (ledger.Receipt, error) {
	f.mu.Lock()
	err, gate := f.creditErr, f.creditGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ledger.Receipt{}, ctx.Err()
		}
	}
	if err != nil {
		return ledger.Receipt{}, err
	}
	return f.Memory.Credit(ctx, id, amount)
}

// switchAuth 可在测试中途登录
type switchAuth struct {
	mu   sync.Mutex
	user *User
}

func (a *switchAuth) CurrentUser(context.Context) (*User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.user, nil
}

func (a *switchAuth) signIn(u *User) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.user = u
}

var alice = &User{ID: "alice", DisplayName: "Alice"}

type harness struct {
	s       *Session
	clock   *fakeClock
	metrics *SessionMetrics
}

func testSettings(board game.Board, threshold int) Settings {
	tiers, _ := game.Preset("classic")
	return Settings{
		Board:         board,
		BaseInterval:  100 * time.Millisecond,
		FoodReward:    10,
		EntryFee:      decimal.NewFromInt(5),
		BaseThreshold: threshold,
		Formula:       game.FlatBonus,
		Tiers:         game.MustTierTable(tiers),
		TierPreset:    "classic",
	}
}

func newHarness(t *testing.T, settings Settings, auth AuthService, led ledger.Service) *harness {
	t.Helper()
	return newHarnessRand(t, settings, auth, led, rand.New(rand.NewSource(7)))
}

func newHarnessRand(t *testing.T, settings Settings, auth AuthService, led ledger.Service, rnd *rand.Rand) *harness {
	t.Helper()
	clk := newFakeClock()
	m := &SessionMetrics{}
	s, err := NewSession(settings, Deps{
		Auth:          auth,
		Ledger:        led,
		Clock:         clk,
		Rand:          rnd,
		Metrics:       m,
		LedgerTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-s.Done()
	})
	return &harness{s: s, clock: clk, metrics: m}
}

func waitFor(t *testing.T, s *Session, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap, err := s.Snapshot()
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		if cond(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for state; last status=%s busy=%v err=%q", snap.Status, snap.Busy, snap.Error)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for condition")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func statusIs(st Status) func(Snapshot) bool {
	return func(s Snapshot) bool { return s.Status == st && !s.Busy }
}

func (h *harness) play(t *testing.T) Snapshot {
	t.Helper()
	waitFor(t, h.s, statusIs(StatusReady))
	h.s.Start()
	return waitFor(t, h.s, statusIs(StatusPlaying))
}

func (h *harness) sync(t *testing.T) Snapshot {
	t.Helper()
	snap, err := h.s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return snap
}

func TestSessionLoadsToReady(t *testing.T) {
	h := newHarness(t, testSettings(game.Board{Width: 20, Height: 20}, 500), StaticAuth{User: alice}, newFakeLedger(100))

	snap := waitFor(t, h.s, statusIs(StatusReady))
	if snap.User == nil || snap.User.ID != "alice" {
		t.Fatalf("user = %+v", snap.User)
	}
	if snap.Balance == nil || !snap.Balance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("balance = %v, want 100", snap.Balance)
	}
	if snap.Error != "" {
		t.Fatalf("unexpected error %q", snap.Error)
	}
}

func TestSessionNotSignedInThenRetry(t *testing.T) {
	auth := &switchAuth{}
	h := newHarness(t, testSettings(game.Board{Width: 20, Height: 20}, 500), auth, newFakeLedger(100))

	snap := waitFor(t, h.s, statusIs(StatusError))
	if snap.Error != ErrNotSignedIn.Error() {
		t.Fatalf("error = %q", snap.Error)
	}

	// Error 状态下开局无效
	h.s.Start()
	if snap := h.sync(t); snap.Status != StatusError || snap.Generation != 0 {
		t.Fatalf("start from error: status=%s gen=%d", snap.Status, snap.Generation)
	}

	auth.signIn(alice)
	h.s.Retry()
	snap = waitFor(t, h.s, statusIs(StatusReady))
	if snap.Error != "" || snap.Balance == nil {
		t.Fatalf("after retry: %+v", snap)
	}
}

func TestSessionLoadFailureGoesToError(t *testing.T) {
	led := newFakeLedger(100)
	led.set(func(f *fakeLedger) { f.balanceErr = ledger.ErrServiceUnavailable })
	h := newHarness(t, testSettings(game.Board{Width: 20, Height: 20}, 500), StaticAuth{User: alice}, led)

	snap := waitFor(t, h.s, statusIs(StatusError))
	if !strings.Contains(snap.Error, ledger.ErrServiceUnavailable.Error()) {
		t.Fatalf("error = %q", snap.Error)
	}

	led.set(func(f *fakeLedger) { f.balanceErr = nil })
	h.s.Retry()
	waitFor(t, h.s, statusIs(StatusReady))
}

func TestSessionStartDebitsEntryFee(t *testing.T) {
	h := newHarness(t, testSettings(game.Board{Width: 20, Height: 20}, 500), StaticAuth{User: alice}, newFakeLedger(100))

	snap := h.play(t)
	if !snap.Balance.Equal(decimal.NewFromInt(95)) {
		t.Fatalf("balance = %s, want 95", snap.Balance)
	}
	if snap.Generation != 1 || snap.Score != 0 || snap.Elapsed != 0 {
		t.Fatalf("fresh game: %+v", snap)
	}
	if len(snap.Snake) != 1 || snap.Snake[0] != (game.Position{X: 10, Y: 10}) {
		t.Fatalf("snake = %v", snap.Snake)
	}
	running, starts, interval := h.clock.state()
	if !running || starts != 1 || interval != 100*time.Millisecond {
		t.Fatalf("clock running=%v starts=%d interval=%s", running, starts, interval)
	}

	h.clock.tick(t)
	snap = h.sync(t)
	if snap.Snake[0] != (game.Position{X: 11, Y: 10}) {
		t.Fatalf("head after tick = %v", snap.Snake[0])
	}
}

func TestSessionDebitFailureStaysReady(t *testing.T) {
	led := newFakeLedger(100)
	led.set(func(f *fakeLedger) { f.debitErr = ledger.ErrServiceUnavailable })
	h := newHarness(t, testSettings(game.Board{Width: 20, Height: 20}, 500), StaticAuth{User: alice}, led)

	waitFor(t, h.s, statusIs(StatusReady))
	h.s.Start()
	snap := waitFor(t, h.s, func(s Snapshot) bool { return s.Status == StatusReady && !s.Busy && s.Error != "" })
	if !strings.Contains(snap.Error, ledger.ErrServiceUnavailable.Error()) {
		t.Fatalf("error = %q", snap.Error)
	}
	if _, starts, _ := h.clock.state(); starts != 0 {
		t.Fatalf("clock started %d times", starts)
	}
	if n := atomic.LoadInt64(&h.metrics.DebitsFailed); n != 1 {
		t.Fatalf("DebitsFailed = %d", n)
	}

	// 恢复后可以正常开局
	led.set(func(f *fakeLedger) { f.debitErr = nil })
	h.s.Start()
	snap = waitFor(t, h.s, statusIs(StatusPlaying))
	if snap.Error != "" {
		t.Fatalf("error not cleared: %q", snap.Error)
	}
}

func TestSessionInsufficientFunds(t *testing.T) {
	h := newHarness(t, testSettings(game.Board{Width: 20, Height: 20}, 500), StaticAuth{User: alice}, newFakeLedger(3))

	waitFor(t, h.s, statusIs(StatusReady))
	h.s.Start()
	snap := waitFor(t, h.s, func(s Snapshot) bool { return !s.Busy && s.Error != "" })
	if snap.Status != StatusReady {
		t.Fatalf("status = %s", snap.Status)
	}
	if !strings.Contains(snap.Error, ledger.ErrInsufficientFunds.Error()) {
		t.Fatalf("error = %q", snap.Error)
	}
}

func TestSessionPauseStopsMovement(t *testing.T) {
	h := newHarness(t, testSettings(game.Board{Width: 20, Height: 20}, 500), StaticAuth{User: alice}, newFakeLedger(100))
	h.play(t)

	h.s.TogglePause()
	snap := h.sync(t)
	if snap.Status != StatusPaused {
		t.Fatalf("status = %s", snap.Status)
	}
	if running, _, _ := h.clock.state(); running {
		t.Fatal("clock still running while paused")
	}
	select {
	case h.clock.moves <- time.Now():
		t.Fatal("tick accepted while paused")
	case <-time.After(50 * time.Millisecond):
	}

	// 暂停时的方向输入被拒绝
	h.s.RequestDirection(game.DirUp)
	h.s.TogglePause()
	snap = h.sync(t)
	if snap.Status != StatusPlaying {
		t.Fatalf("status = %s", snap.Status)
	}
	h.clock.tick(t)
	snap = h.sync(t)
	if snap.Snake[0] != (game.Position{X: 11, Y: 10}) {
		t.Fatalf("head = %v, paused input should be ignored", snap.Snake[0])
	}
}

func TestSessionDirectionInput(t *testing.T) {
	h := newHarness(t, testSettings(game.Board{Width: 20, Height: 20}, 500), StaticAuth{User: alice}, newFakeLedger(100))
	h.play(t)

	// 正反向被拒绝，继续向右
	h.s.RequestDirection(game.DirLeft)
	h.sync(t)
	h.clock.tick(t)
	if head := h.sync(t).Snake[0]; head != (game.Position{X: 11, Y: 10}) {
		t.Fatalf("head = %v", head)
	}

	// 同一 Tick 内最后一次合法请求生效
	h.s.RequestDirection(game.DirDown)
	h.s.RequestDirection(game.DirUp)
	h.sync(t)
	h.clock.tick(t)
	if head := h.sync(t).Snake[0]; head != (game.Position{X: 11, Y: 9}) {
		t.Fatalf("head = %v", head)
	}
	if n := atomic.LoadInt64(&h.metrics.InputsRejected); n != 1 {
		t.Fatalf("InputsRejected = %d", n)
	}
	if n := atomic.LoadInt64(&h.metrics.InputsAccepted); n != 2 {
		t.Fatalf("InputsAccepted = %d", n)
	}
}

func TestSessionElapsedSeconds(t *testing.T) {
	h := newHarness(t, testSettings(game.Board{Width: 20, Height: 20}, 500), StaticAuth{User: alice}, newFakeLedger(100))
	h.play(t)

	h.clock.second(t)
	h.clock.second(t)
	if snap := h.sync(t); snap.Elapsed != 2 {
		t.Fatalf("elapsed = %d", snap.Elapsed)
	}
}

// 4x4 棋盘从 (2,2) 向右：第二步撞墙
func crash(t *testing.T, h *harness) Snapshot {
	t.Helper()
	h.clock.tick(t)
	h.clock.tick(t)
	return waitFor(t, h.s, func(s Snapshot) bool { return s.Status == StatusEnded })
}

func TestSessionGameOverPaysReward(t *testing.T) {
	led := newFakeLedger(100)
	h := newHarness(t, testSettings(game.Board{Width: 4, Height: 4}, 0), StaticAuth{User: alice}, led)
	h.play(t)

	snap := crash(t, h)
	if running, _, _ := h.clock.state(); running {
		t.Fatal("clock still running after game over")
	}
	if snap.Reward == nil || !snap.Reward.Amount.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("reward = %+v, want 10", snap.Reward)
	}

	snap = waitFor(t, h.s, func(s Snapshot) bool { return s.Payout != nil })
	if !snap.Balance.Equal(decimal.NewFromInt(105)) || snap.Busy || snap.PayoutFailed {
		t.Fatalf("after payout: balance=%s busy=%v failed=%v", snap.Balance, snap.Busy, snap.PayoutFailed)
	}
	if snap.Payout.Kind != ledger.KindCredit || !snap.Payout.Amount.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("payout = %+v", snap.Payout)
	}
	if n := atomic.LoadInt64(&h.metrics.PayoutsPaid); n != 1 {
		t.Fatalf("PayoutsPaid = %d", n)
	}
	if n := atomic.LoadInt64(&h.metrics.GamesEnded); n != 1 {
		t.Fatalf("GamesEnded = %d", n)
	}
}

func TestSessionNoPayoutBelowThreshold(t *testing.T) {
	h := newHarness(t, testSettings(game.Board{Width: 4, Height: 4}, 500), StaticAuth{User: alice}, newFakeLedger(100))
	h.play(t)

	snap := crash(t, h)
	if snap.Reward == nil || !snap.Reward.Amount.IsZero() {
		t.Fatalf("reward = %+v, want 0", snap.Reward)
	}
	if snap.Busy || snap.Payout != nil {
		t.Fatalf("unexpected payout: busy=%v payout=%+v", snap.Busy, snap.Payout)
	}
}

func TestSessionPayoutFailureAndRetry(t *testing.T) {
	led := newFakeLedger(100)
	led.set(func(f *fakeLedger) { f.creditErr = ledger.ErrServiceUnavailable })
	h := newHarness(t, testSettings(game.Board{Width: 4, Height: 4}, 0), StaticAuth{User: alice}, led)
	h.play(t)
	crash(t, h)

	snap := waitFor(t, h.s, func(s Snapshot) bool { return s.PayoutFailed })
	if snap.Status != StatusEnded || snap.Error == "" || snap.Busy {
		t.Fatalf("after failed payout: %+v", snap)
	}
	if !snap.Balance.Equal(decimal.NewFromInt(95)) {
		t.Fatalf("balance = %s", snap.Balance)
	}

	led.set(func(f *fakeLedger) { f.creditErr = nil })
	h.s.RetryPayout()
	snap = waitFor(t, h.s, func(s Snapshot) bool { return s.Payout != nil })
	if !snap.Balance.Equal(decimal.NewFromInt(105)) || snap.PayoutFailed || snap.Error != "" {
		t.Fatalf("after retry: %+v", snap)
	}
}

func TestSessionStalePayoutIgnored(t *testing.T) {
	led := newFakeLedger(100)
	gate := make(chan struct{})
	led.set(func(f *fakeLedger) { f.creditGate = gate })
	h := newHarness(t, testSettings(game.Board{Width: 4, Height: 4}, 0), StaticAuth{User: alice}, led)
	h.play(t)
	snap := crash(t, h)
	if !snap.Busy {
		t.Fatal("payout should be in flight")
	}

	// 发放未完成时开始下一局
	h.s.Start()
	snap = waitFor(t, h.s, statusIs(StatusPlaying))
	if snap.Generation != 2 || !snap.Balance.Equal(decimal.NewFromInt(90)) {
		t.Fatalf("second game: gen=%d balance=%s", snap.Generation, snap.Balance)
	}

	close(gate)
	waitUntil(t, func() bool { return atomic.LoadInt64(&h.metrics.StaleResults) == 1 })
	snap = h.sync(t)
	if snap.Status != StatusPlaying || snap.Payout != nil || snap.Reward != nil {
		t.Fatalf("stale payout leaked into new game: %+v", snap)
	}
	if n := atomic.LoadInt64(&h.metrics.PayoutsPaid); n != 1 {
		t.Fatalf("PayoutsPaid = %d", n)
	}
	bal, err := led.Memory.Balance(context.Background(), "alice")
	if err != nil || !bal.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("ledger balance = %s, %v", bal, err)
	}
}

func TestSessionReplayChecksBalance(t *testing.T) {
	h := newHarness(t, testSettings(game.Board{Width: 4, Height: 4}, 500), StaticAuth{User: alice}, newFakeLedger(7))
	h.play(t)
	crash(t, h)

	h.s.Start()
	snap := waitFor(t, h.s, func(s Snapshot) bool { return !s.Busy && s.Error != "" })
	if snap.Status != StatusReady || snap.Generation != 2 {
		t.Fatalf("replay: status=%s gen=%d", snap.Status, snap.Generation)
	}
	if !strings.Contains(snap.Error, ledger.ErrInsufficientFunds.Error()) {
		t.Fatalf("error = %q", snap.Error)
	}
	if !snap.Balance.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("balance = %s", snap.Balance)
	}
}

func TestSessionOfflineFreePlay(t *testing.T) {
	h := newHarness(t, testSettings(game.Board{Width: 4, Height: 4}, 0), StaticAuth{}, nil)

	snap := h.play(t)
	if snap.Balance != nil || snap.User != nil {
		t.Fatalf("offline snapshot: %+v", snap)
	}
	snap = crash(t, h)
	if snap.Reward == nil || snap.Busy || snap.Payout != nil || snap.PayoutFailed {
		t.Fatalf("offline game over: %+v", snap)
	}

	// 再来一局无需余额校验
	h.s.Start()
	snap = waitFor(t, h.s, statusIs(StatusPlaying))
	if snap.Generation != 2 || snap.Score != 0 || len(snap.Snake) != 1 {
		t.Fatalf("replay: %+v", snap)
	}
}

func TestSessionRefreshBalance(t *testing.T) {
	led := newFakeLedger(100)
	h := newHarness(t, testSettings(game.Board{Width: 20, Height: 20}, 500), StaticAuth{User: alice}, led)
	waitFor(t, h.s, statusIs(StatusReady))

	if _, err := led.Memory.Credit(context.Background(), "alice", decimal.NewFromInt(50)); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	h.s.RefreshBalance()
	waitFor(t, h.s, func(s Snapshot) bool { return s.Balance != nil && s.Balance.Equal(decimal.NewFromInt(150)) })
}

func TestSessionStaleRefreshIgnored(t *testing.T) {
	led := newFakeLedger(100)
	h := newHarness(t, testSettings(game.Board{Width: 20, Height: 20}, 500), StaticAuth{User: alice}, led)
	waitFor(t, h.s, statusIs(StatusReady))

	// 刷新读到 100 后卡住，期间开局扣费
	gate, read := make(chan struct{}), make(chan struct{})
	led.set(func(f *fakeLedger) { f.balanceGate, f.balanceRead = gate, read })
	h.s.RefreshBalance()
	select {
	case <-read:
	case <-time.After(time.Second):
		t.Fatal("refresh did not reach the ledger")
	}
	led.set(func(f *fakeLedger) { f.balanceGate, f.balanceRead = nil, nil })

	h.s.Start()
	snap := waitFor(t, h.s, statusIs(StatusPlaying))
	if snap.Generation != 1 || !snap.Balance.Equal(decimal.NewFromInt(95)) {
		t.Fatalf("after debit: gen=%d balance=%s", snap.Generation, snap.Balance)
	}

	close(gate)
	waitUntil(t, func() bool { return atomic.LoadInt64(&h.metrics.StaleResults) == 1 })
	snap = h.sync(t)
	if !snap.Balance.Equal(decimal.NewFromInt(95)) {
		t.Fatalf("stale refresh overwrote balance: %s", snap.Balance)
	}
}

func TestSessionRefreshDuringDebitIgnored(t *testing.T) {
	led := newFakeLedger(100)
	h := newHarness(t, testSettings(game.Board{Width: 4, Height: 4}, 500), StaticAuth{User: alice}, led)
	h.play(t)
	crash(t, h)

	// 再来一局先查余额：该查询卡住时发起的刷新在扣费完成前返回
	gate, read := make(chan struct{}), make(chan struct{})
	led.set(func(f *fakeLedger) { f.balanceGate, f.balanceRead = gate, read })
	h.s.Start()
	select {
	case <-read:
	case <-time.After(time.Second):
		t.Fatal("replay balance check did not reach the ledger")
	}
	led.set(func(f *fakeLedger) { f.balanceGate, f.balanceRead = nil, nil })
	h.s.RefreshBalance()
	waitUntil(t, func() bool { return atomic.LoadInt64(&h.metrics.StaleResults) == 1 })

	close(gate)
	snap := waitFor(t, h.s, statusIs(StatusPlaying))
	if snap.Generation != 2 || !snap.Balance.Equal(decimal.NewFromInt(90)) {
		t.Fatalf("second game: gen=%d balance=%s", snap.Generation, snap.Balance)
	}
}

// fixedSource 让 Intn(2) 恒为 1，3x1 棋盘上食物总在蛇头右侧
type fixedSource struct{}

func (fixedSource) Int63() int64 { return 1 << 32 }
func (fixedSource) Seed(int64) {}

func TestSessionTierChangeSpeedsUpClock(t *testing.T) {
	settings := testSettings(game.Board{Width: 3, Height: 1}, 0)
	settings.Tiers = game.MustTierTable([]game.Tier{
		{Name: "A", MinScore: 0, MaxScore: 10, RewardMultiplier: 1, SpeedMultiplier: 1},
		{Name: "B", MinScore: 10, MaxScore: game.Unbounded, RewardMultiplier: 1, SpeedMultiplier: 0.5},
	})
	h := newHarnessRand(t, settings, StaticAuth{}, nil, rand.New(fixedSource{}))
	updates, cancel := h.s.Subscribe()
	defer cancel()

	snap := h.play(t)
	if snap.Food != (game.Position{X: 2, Y: 0}) || snap.Tier.Name != "A" {
		t.Fatalf("start: food=%v tier=%s", snap.Food, snap.Tier.Name)
	}
	if _, _, iv := h.clock.state(); iv != 100*time.Millisecond {
		t.Fatalf("initial interval = %s", iv)
	}

	h.clock.tick(t)
	snap = h.sync(t)
	if snap.Score != 10 || snap.Tier.Name != "B" {
		t.Fatalf("after eating: score=%d tier=%s", snap.Score, snap.Tier.Name)
	}
	if _, _, iv := h.clock.state(); iv != 50*time.Millisecond {
		t.Fatalf("interval = %s, want 50ms", iv)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case u := <-updates:
			for _, ev := range u.Events {
				if tc, ok := ev.(game.TierChanged); ok {
					if tc.From != "A" || tc.To != "B" {
						t.Fatalf("tier event = %+v", tc)
					}
					return
				}
			}
		case <-deadline:
			t.Fatal("no TierChanged event published")
		}
	}
}

func TestSessionSubscribe(t *testing.T) {
	h := newHarness(t, testSettings(game.Board{Width: 4, Height: 4}, 0), StaticAuth{}, nil)
	updates, cancel := h.s.Subscribe()
	defer cancel()

	select {
	case u := <-updates:
		if u.Snapshot.SessionID != h.s.ID {
			t.Fatalf("session id = %q", u.Snapshot.SessionID)
		}
	case <-time.After(time.Second):
		t.Fatal("no initial snapshot")
	}

	h.play(t)
	h.clock.tick(t)
	h.clock.tick(t)

	var sawCollision bool
	deadline := time.After(2 * time.Second)
	for !sawCollision {
		select {
		case u := <-updates:
			for _, ev := range u.Events {
				if c, ok := ev.(game.Collision); ok && c.Cause == game.WallCollision {
					sawCollision = true
				}
			}
		case <-deadline:
			t.Fatal("no collision event published")
		}
	}

	h.s.Stop()
	for {
		select {
		case _, ok := <-updates:
			if !ok {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatal("subscription not closed after Stop")
		}
	}
}

func TestSessionClosed(t *testing.T) {
	h := newHarness(t, testSettings(game.Board{Width: 4, Height: 4}, 0), StaticAuth{}, nil)
	h.s.Stop()
	<-h.s.Done()

	if _, err := h.s.Snapshot(); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("err = %v", err)
	}
	updates, cancel := h.s.Subscribe()
	defer cancel()
	if _, ok := <-updates; ok {
		t.Fatal("subscription on closed session should be closed")
	}
	// 关闭后命令不阻塞
	h.s.Start()
	h.s.TogglePause()
}

func TestNewSessionRejectsBadSettings(t *testing.T) {
	s := testSettings(game.Board{Width: 4, Height: 4}, 0)
	s.BaseInterval = 0
	if _, err := NewSession(s, Deps{}); !errors.Is(err, game.ErrConfigurationInvalid) {
		t.Fatalf("err = %v", err)
	}
	s = testSettings(game.Board{Width: 0, Height: 4}, 0)
	if _, err := NewSession(s, Deps{}); !errors.Is(err, game.ErrConfigurationInvalid) {
		t.Fatalf("err = %v", err)
	}
}
