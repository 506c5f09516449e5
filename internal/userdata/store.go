package userdata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite"
)

// Store is the read side of the user-data collaborator
type Store interface {
	// ListTransactions returns records dated at or after since, newest first.
	// A zero since means no lower bound.
	ListTransactions(ctx context.Context, userID string, since time.Time) ([]Transaction, error)
	ListGoals(ctx context.Context, userID string) ([]Goal, error)
	// PlanTier returns the user's plan or NoPlan
	PlanTier(ctx context.Context, userID string) (string, error)
}

// maxTransactions bounds a single snapshot
const maxTransactions = 200

// SQLiteStore implements Store using SQLite. Dates are stored as unix
// seconds and amounts as decimal strings.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (and migrates) a SQLite-backed user-data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate creates the necessary tables if they don't exist.
func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		date INTEGER NOT NULL,
		description TEXT NOT NULL,
		amount TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_user_date ON transactions(user_id, date);

	CREATE TABLE IF NOT EXISTS goals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		target_amount TEXT NOT NULL,
		current_amount TEXT NOT NULL,
		deadline INTEGER,
		category TEXT NOT NULL DEFAULT '',
		priority TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_goals_user ON goals(user_id);

	CREATE TABLE IF NOT EXISTS user_plans (
		user_id TEXT PRIMARY KEY,
		plan TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ListTransactions implements Store
func (s *SQLiteStore) ListTransactions(ctx context.Context, userID string, since time.Time) ([]Transaction, error) {
	query := `SELECT date, description, amount, category, type FROM transactions WHERE user_id = ?`
	args := []any{userID}
	if !since.IsZero() {
		query += ` AND date >= ?`
		args = append(args, since.Unix())
	}
	query += ` ORDER BY date DESC LIMIT ?`
	args = append(args, maxTransactions)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var (
			tx     Transaction
			date   int64
			amount string
			kind   string
		)
		if err := rows.Scan(&date, &tx.Description, &amount, &tx.Category, &kind); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Date = time.Unix(date, 0).UTC()
		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("invalid transaction amount %q: %w", amount, err)
		}
		tx.Type = TransactionType(kind)
		out = append(out, tx)
	}
	return out, rows.Err()
}

// ListGoals implements Store
func (s *SQLiteStore) ListGoals(ctx context.Context, userID string) ([]Goal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, target_amount, current_amount, deadline, category, priority
		 FROM goals WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query goals: %w", err)
	}
	defer rows.Close()

	var out []Goal
	for rows.Next() {
		var (
			g               Goal
			target, current string
			deadline        sql.NullInt64
		)
		if err := rows.Scan(&g.Name, &target, &current, &deadline, &g.Category, &g.Priority); err != nil {
			return nil, fmt.Errorf("failed to scan goal: %w", err)
		}
		if g.TargetAmount, err = decimal.NewFromString(target); err != nil {
			return nil, fmt.Errorf("invalid goal target %q: %w", target, err)
		}
		if g.CurrentAmount, err = decimal.NewFromString(current); err != nil {
			return nil, fmt.Errorf("invalid goal amount %q: %w", current, err)
		}
		if deadline.Valid {
			d := time.Unix(deadline.Int64, 0).UTC()
			g.Deadline = &d
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// PlanTier implements Store
func (s *SQLiteStore) PlanTier(ctx context.Context, userID string) (string, error) {
	var plan string
	err := s.db.QueryRowContext(ctx, `SELECT plan FROM user_plans WHERE user_id = ?`, userID).Scan(&plan)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && plan == "") {
		return NoPlan, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query plan: %w", err)
	}
	return plan, nil
}

// AddTransaction inserts a transaction for userID
func (s *SQLiteStore) AddTransaction(ctx context.Context, userID string, tx Transaction) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions (user_id, date, description, amount, category, type) VALUES (?, ?, ?, ?, ?, ?)`,
		userID, tx.Date.Unix(), tx.Description, tx.Amount.String(), tx.Category, string(tx.Type))
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// AddGoal inserts a goal for userID
func (s *SQLiteStore) AddGoal(ctx context.Context, userID string, g Goal) error {
	var deadline any
	if g.Deadline != nil {
		deadline = g.Deadline.Unix()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO goals (user_id, name, target_amount, current_amount, deadline, category, priority) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		userID, g.Name, g.TargetAmount.String(), g.CurrentAmount.String(), deadline, g.Category, g.Priority)
	if err != nil {
		return fmt.Errorf("failed to insert goal: %w", err)
	}
	return nil
}

// SetPlan stores the user's plan tier
func (s *SQLiteStore) SetPlan(ctx context.Context, userID, plan string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_plans (user_id, plan) VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET plan = excluded.plan`, userID, plan)
	if err != nil {
		return fmt.Errorf("failed to set plan: %w", err)
	}
	return nil
}
