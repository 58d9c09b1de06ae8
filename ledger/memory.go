package ledger

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryOptions 内存账本参数：模拟网络延迟与失败率，便于本地演示
type MemoryOptions struct {
	OpeningBalance decimal.Decimal
	Latency        time.Duration
	FailureRate    float64 // [0,1)，命中时返回 ErrServiceUnavailable
	Seed           int64
}

// Memory 进程内账本。首次访问的账户以 OpeningBalance 开户。
type Memory struct {
	opts MemoryOptions

	mu       sync.Mutex
	rnd      *rand.Rand
	balances map[Identity]decimal.Decimal
	history  map[Identity][]Receipt
}

func NewMemory(opts MemoryOptions) *Memory {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Memory{
		opts:     opts,
		rnd:      rand.New(rand.NewSource(seed)),
		balances: make(map[Identity]decimal.Decimal),
		history:  make(map[Identity][]Receipt),
	}
}

// simulate 延迟 + 随机失败；ctx 取消时立即返回
func (m *Memory) simulate(ctx context.Context) error {
	if m.opts.Latency > 0 {
		t := time.NewTimer(m.opts.Latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrServiceUnavailable, ctx.Err())
		case <-t.C:
		}
	}
	if m.opts.FailureRate <= 0 {
		return nil
	}
	m.mu.Lock()
	fail := m.rnd.Float64() < m.opts.FailureRate
	m.mu.Unlock()
	if fail {
		return fmt.Errorf("%w: simulated network failure", ErrServiceUnavailable)
	}
	return nil
}

// balanceLocked 调用方需持有 mu
func (m *Memory) balanceLocked(id Identity) decimal.Decimal {
	b, ok := m.balances[id]
	if !ok {
		b = m.opts.OpeningBalance
		m.balances[id] = b
	}
	return b
}

func (m *Memory) Balance(ctx context.Context, id Identity) (decimal.Decimal, error) {
	if err := m.simulate(ctx); err != nil {
		return decimal.Zero, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceLocked(id), nil
}

func (m *Memory) Debit(ctx context.Context, id Identity, amount decimal.Decimal) (Receipt, error) {
	if err := checkAmount(KindDebit, amount); err != nil {
		return Receipt{}, err
	}
	if err := m.simulate(ctx); err != nil {
		return Receipt{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	bal := m.balanceLocked(id)
	if bal.LessThan(amount) {
		return Receipt{}, fmt.Errorf("%w: balance %s, need %s", ErrInsufficientFunds, bal.StringFixed(2), amount.StringFixed(2))
	}
	return m.recordLocked(id, KindDebit, amount, bal.Sub(amount)), nil
}

func (m *Memory) Credit(ctx context.Context, id Identity, amount decimal.Decimal) (Receipt, error) {
	if err := checkAmount(KindCredit, amount); err != nil {
		return Receipt{}, err
	}
	if err := m.simulate(ctx); err != nil {
		return Receipt{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	bal := m.balanceLocked(id)
	return m.recordLocked(id, KindCredit, amount, bal.Add(amount)), nil
}

func (m *Memory) recordLocked(id Identity, kind Kind, amount, after decimal.Decimal) Receipt {
	m.balances[id] = after
	r := Receipt{
		TxID:      uuid.NewString(),
		Identity:  id,
		Kind:      kind,
		Amount:    amount,
		Balance:   after,
		CreatedAt: time.Now().UTC(),
	}
	m.history[id] = append(m.history[id], r)
	return r
}

// History 最新的在前
func (m *Memory) History(_ context.Context, id Identity, limit int) ([]Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.history[id]
	out := make([]Receipt, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		out = append(out, src[i])
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
