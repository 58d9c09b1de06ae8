package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// SQLiteLedger 基于 SQLite 的持久化账本，金额以十进制字符串存储
type SQLiteLedger struct {
	db      *sql.DB
	opening decimal.Decimal
}

// NewSQLiteLedger 打开（或创建）数据库并执行迁移。
// 新账户以 opening 开户。
func NewSQLiteLedger(path string, opening decimal.Decimal) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	// 单连接串行化写入，避免 SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	l := &SQLiteLedger{db: db, opening: opening}
	if err := l.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// Migrate 建表（幂等）
func (l *SQLiteLedger) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			identity TEXT PRIMARY KEY,
			balance TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			identity TEXT NOT NULL,
			kind TEXT NOT NULL,
			amount TEXT NOT NULL,
			balance_after TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (identity) REFERENCES accounts(identity)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_identity ON transactions(identity, created_at)`,
	}
	for _, m := range migrations {
		if _, err := l.db.Exec(m); err != nil {
			return fmt.Errorf("ledger migration failed: %w", err)
		}
	}
	return nil
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrServiceUnavailable, op, err)
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// loadBalance 读取余额，账户不存在时按开户金额创建
func (l *SQLiteLedger) loadBalance(ctx context.Context, q queryer, id Identity) (decimal.Decimal, error) {
	_, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO accounts (identity, balance, updated_at) VALUES (?, ?, ?)`,
		string(id), l.opening.String(), time.Now().UnixNano())
	if err != nil {
		return decimal.Zero, err
	}
	var raw string
	if err := q.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE identity = ?`, string(id)).Scan(&raw); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

func (l *SQLiteLedger) Balance(ctx context.Context, id Identity) (decimal.Decimal, error) {
	bal, err := l.loadBalance(ctx, l.db, id)
	if err != nil {
		return decimal.Zero, unavailable("balance", err)
	}
	return bal, nil
}

func (l *SQLiteLedger) Debit(ctx context.Context, id Identity, amount decimal.Decimal) (Receipt, error) {
	return l.apply(ctx, id, KindDebit, amount)
}

func (l *SQLiteLedger) Credit(ctx context.Context, id Identity, amount decimal.Decimal) (Receipt, error) {
	return l.apply(ctx, id, KindCredit, amount)
}

// apply 在单个事务中更新余额并写入流水
func (l *SQLiteLedger) apply(ctx context.Context, id Identity, kind Kind, amount decimal.Decimal) (Receipt, error) {
	if err := checkAmount(kind, amount); err != nil {
		return Receipt{}, err
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Receipt{}, unavailable(string(kind), err)
	}
	defer tx.Rollback()

	bal, err := l.loadBalance(ctx, tx, id)
	if err != nil {
		return Receipt{}, unavailable(string(kind), err)
	}
	after := bal.Add(amount)
	if kind == KindDebit {
		if bal.LessThan(amount) {
			return Receipt{}, fmt.Errorf("%w: balance %s, need %s", ErrInsufficientFunds, bal.StringFixed(2), amount.StringFixed(2))
		}
		after = bal.Sub(amount)
	}

	now := time.Now().UTC()
	r := Receipt{
		TxID:      uuid.NewString(),
		Identity:  id,
		Kind:      kind,
		Amount:    amount,
		Balance:   after,
		CreatedAt: now,
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE accounts SET balance = ?, updated_at = ? WHERE identity = ?`,
		after.String(), now.UnixNano(), string(id)); err != nil {
		return Receipt{}, unavailable(string(kind), err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (id, identity, kind, amount, balance_after, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.TxID, string(id), string(kind), amount.String(), after.String(), now.UnixNano()); err != nil {
		return Receipt{}, unavailable(string(kind), err)
	}
	if err := tx.Commit(); err != nil {
		return Receipt{}, unavailable(string(kind), err)
	}
	return r, nil
}

// History 按时间倒序返回最近 limit 条流水（limit<=0 表示全部）
func (l *SQLiteLedger) History(ctx context.Context, id Identity, limit int) ([]Receipt, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, kind, amount, balance_after, created_at FROM transactions
		 WHERE identity = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		string(id), limit)
	if err != nil {
		return nil, unavailable("history", err)
	}
	defer rows.Close()

	var out []Receipt
	for rows.Next() {
		var (
			r             Receipt
			kind, amt, ba string
			created       int64
		)
		if err := rows.Scan(&r.TxID, &kind, &amt, &ba, &created); err != nil {
			return nil, unavailable("history", err)
		}
		r.Identity = id
		r.Kind = Kind(kind)
		if r.Amount, err = decimal.NewFromString(amt); err != nil {
			return nil, unavailable("history", err)
		}
		if r.Balance, err = decimal.NewFromString(ba); err != nil {
			return nil, unavailable("history", err)
		}
		r.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, unavailable("history", err)
	}
	return out, nil
}
