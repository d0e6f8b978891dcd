package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"bnpl/internal/trust/models"
	id "bnpl/pkg/domain"
	"bnpl/pkg/platform/sentinel"
)

const pgUniqueViolation = "23505"

// PostgresStore persists trust profiles in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
	tx *sql.Tx
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPostgresTx binds the store to a transaction; FindByUserForUpdate then holds the row lock until commit.
func NewPostgresTx(tx *sql.Tx) *PostgresStore {
	return &PostgresStore{tx: tx}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer() dbExecutor {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

const profileColumns = `user_id, current_score, total_payments, on_time_payments, total_orders,
	average_payment_delay_days, delay_samples, dispute_count, coins_balance,
	created_at, updated_at, last_calculated_at`

func (s *PostgresStore) Create(ctx context.Context, p *models.Profile) error {
	_, err := s.execer().ExecContext(ctx, `
		INSERT INTO trust_profiles (`+profileColumns+`, tier, credit_limit)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, profileArgs(p)...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert trust profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByUser(ctx context.Context, userID id.UserID) (*models.Profile, error) {
	return s.find(ctx, userID, "")
}

func (s *PostgresStore) FindByUserForUpdate(ctx context.Context, userID id.UserID) (*models.Profile, error) {
	return s.find(ctx, userID, " FOR UPDATE")
}

func (s *PostgresStore) find(ctx context.Context, userID id.UserID, suffix string) (*models.Profile, error) {
	row := s.execer().QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM trust_profiles WHERE user_id = $1`+suffix, uuid.UUID(userID))
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find trust profile: %w", err)
	}
	return p, nil
}

// Update writes the whole row; tier and credit_limit are written from the
// derived standing so the columns stay consistent with current_score.
func (s *PostgresStore) Update(ctx context.Context, p *models.Profile) error {
	res, err := s.execer().ExecContext(ctx, `
		UPDATE trust_profiles SET
			current_score = $2, total_payments = $3, on_time_payments = $4, total_orders = $5,
			average_payment_delay_days = $6, delay_samples = $7, dispute_count = $8, coins_balance = $9,
			updated_at = $11, last_calculated_at = $12, tier = $13, credit_limit = $14
		WHERE user_id = $1
	`, profileArgs(p)...)
	if err != nil {
		return fmt.Errorf("update trust profile: %w", err)
	}
	return expectOneRow(res)
}

// DebitCoins is a single conditional statement so concurrent redemptions cannot overdraw.
func (s *PostgresStore) DebitCoins(ctx context.Context, userID id.UserID, amount decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.execer().QueryRowContext(ctx, `
		UPDATE trust_profiles
		SET coins_balance = coins_balance - $2, updated_at = NOW()
		WHERE user_id = $1 AND coins_balance >= $2
		RETURNING coins_balance
	`, uuid.UUID(userID), amount).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("debit coins: %w", err)
	}
	// distinguish a missing profile from a short balance
	current, findErr := s.FindByUser(ctx, userID)
	if findErr != nil {
		return decimal.Zero, findErr
	}
	return current.CoinsBalance, sentinel.ErrInsufficientFunds
}

func (s *PostgresStore) CreditCoins(ctx context.Context, userID id.UserID, amount decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.execer().QueryRowContext(ctx, `
		UPDATE trust_profiles
		SET coins_balance = coins_balance + $2, updated_at = NOW()
		WHERE user_id = $1
		RETURNING coins_balance
	`, uuid.UUID(userID), amount).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, sentinel.ErrNotFound
		}
		return decimal.Zero, fmt.Errorf("credit coins: %w", err)
	}
	return balance, nil
}

func (s *PostgresStore) MarkEventApplied(ctx context.Context, eventID uuid.UUID, userID id.UserID) (bool, error) {
	res, err := s.execer().ExecContext(ctx, `
		INSERT INTO trust_applied_events (event_id, user_id) VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, uuid.UUID(userID))
	if err != nil {
		return false, fmt.Errorf("mark event applied: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) ListUserIDs(ctx context.Context) ([]id.UserID, error) {
	rows, err := s.execer().QueryContext(ctx, `SELECT user_id FROM trust_profiles ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list trust profiles: %w", err)
	}
	defer rows.Close()

	var ids []id.UserID
	for rows.Next() {
		var u uuid.UUID
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id.UserID(u))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trust profiles: %w", err)
	}
	return ids, nil
}

func profileArgs(p *models.Profile) []any {
	var lastCalculated sql.NullTime
	if p.LastCalculatedAt != nil {
		lastCalculated = sql.NullTime{Time: *p.LastCalculatedAt, Valid: true}
	}
	return []any{
		uuid.UUID(p.UserID),
		p.Score(),
		p.TotalPayments,
		p.OnTimePayments,
		p.TotalOrders,
		p.AveragePaymentDelayDays,
		p.DelaySamples,
		p.DisputeCount,
		p.CoinsBalance,
		p.CreatedAt,
		p.UpdatedAt,
		lastCalculated,
		string(p.Tier()),
		p.CreditLimit(),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*models.Profile, error) {
	var (
		userID         uuid.UUID
		score          int
		lastCalculated sql.NullTime
		p              models.Profile
	)
	if err := row.Scan(&userID, &score, &p.TotalPayments, &p.OnTimePayments, &p.TotalOrders,
		&p.AveragePaymentDelayDays, &p.DelaySamples, &p.DisputeCount, &p.CoinsBalance,
		&p.CreatedAt, &p.UpdatedAt, &lastCalculated); err != nil {
		return nil, err
	}
	p.UserID = id.UserID(userID)
	p.LoadStanding(score)
	if lastCalculated.Valid {
		t := lastCalculated.Time
		p.LastCalculatedAt = &t
	}
	return &p, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
