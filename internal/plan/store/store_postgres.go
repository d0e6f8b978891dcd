package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"bnpl/internal/plan/models"
	id "bnpl/pkg/domain"
	"bnpl/pkg/platform/sentinel"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresStore persists plans in PostgreSQL with the schedule as JSONB.
type PostgresStore struct {
	db *sql.DB
	tx *sql.Tx
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

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

// installmentRow is the JSONB element shape.
type installmentRow struct {
	Index   int                      `json:"index"`
	DueDate time.Time                `json:"due_date"`
	Amount  decimal.Decimal          `json:"amount"`
	Status  models.InstallmentStatus `json:"status"`
	PaidAt  *time.Time               `json:"paid_at"`
}

const planColumns = `id, user_id, order_id, total_amount, remaining_balance, status, installments, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, p *models.Plan) error {
	installments, err := encodeInstallments(p.Installments)
	if err != nil {
		return err
	}
	_, err = s.execer().ExecContext(ctx, `
		INSERT INTO payment_plans (`+planColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, uuid.UUID(p.ID), uuid.UUID(p.UserID), string(p.OrderID), p.TotalAmount, p.RemainingBalance,
		string(p.Status), installments, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgUniqueViolation:
				return sentinel.ErrConflict
			case pgForeignKeyViolation:
				return sentinel.ErrNotFound
			}
		}
		return fmt.Errorf("insert payment plan: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, planID id.PlanID) (*models.Plan, error) {
	return s.find(ctx, planID, "")
}

func (s *PostgresStore) FindByIDForUpdate(ctx context.Context, planID id.PlanID) (*models.Plan, error) {
	return s.find(ctx, planID, " FOR UPDATE")
}

func (s *PostgresStore) find(ctx context.Context, planID id.PlanID, suffix string) (*models.Plan, error) {
	row := s.execer().QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM payment_plans WHERE id = $1`+suffix, uuid.UUID(planID))
	p, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find payment plan: %w", err)
	}
	return p, nil
}

// Update writes the mutable columns. Total, order and schedule dates never change.
func (s *PostgresStore) Update(ctx context.Context, p *models.Plan) error {
	installments, err := encodeInstallments(p.Installments)
	if err != nil {
		return err
	}
	res, err := s.execer().ExecContext(ctx, `
		UPDATE payment_plans
		SET remaining_balance = $2, status = $3, installments = $4, updated_at = $5
		WHERE id = $1
	`, uuid.UUID(p.ID), p.RemainingBalance, string(p.Status), installments, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update payment plan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID id.UserID) ([]*models.Plan, error) {
	return s.query(ctx, `
		SELECT `+planColumns+` FROM payment_plans
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`, uuid.UUID(userID))
}

func (s *PostgresStore) SumOutstanding(ctx context.Context, userID id.UserID) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.execer().QueryRowContext(ctx, `
		SELECT COALESCE(SUM(remaining_balance), 0) FROM payment_plans
		WHERE user_id = $1 AND status = 'ACTIVE'
	`, uuid.UUID(userID)).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum outstanding balance: %w", err)
	}
	return total, nil
}

func (s *PostgresStore) ListOverdueCandidates(ctx context.Context, cutoff time.Time, limit int) ([]*models.Plan, error) {
	if limit <= 0 {
		limit = 500
	}
	return s.query(ctx, `
		SELECT `+planColumns+` FROM payment_plans p
		WHERE p.status = 'ACTIVE'
		  AND EXISTS (
			SELECT 1 FROM jsonb_array_elements(p.installments) e
			WHERE e->>'status' = 'PENDING' AND (e->>'due_date')::timestamptz < $1
		  )
		ORDER BY p.created_at
		LIMIT $2
	`, cutoff, limit)
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]*models.Plan, error) {
	rows, err := s.execer().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query payment plans: %w", err)
	}
	defer rows.Close()

	var plans []*models.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment plan: %w", err)
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment plans: %w", err)
	}
	return plans, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (*models.Plan, error) {
	var (
		planID, userID uuid.UUID
		orderID        string
		status         string
		installments   []byte
		p              models.Plan
	)
	if err := row.Scan(&planID, &userID, &orderID, &p.TotalAmount, &p.RemainingBalance,
		&status, &installments, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.ID = id.PlanID(planID)
	p.UserID = id.UserID(userID)
	p.OrderID = id.OrderID(orderID)
	p.Status = models.Status(status)

	var decoded []installmentRow
	if err := json.Unmarshal(installments, &decoded); err != nil {
		return nil, fmt.Errorf("decode installments: %w", err)
	}
	p.Installments = make([]models.Installment, len(decoded))
	for i, r := range decoded {
		p.Installments[i] = models.Installment{
			Index:   r.Index,
			DueDate: r.DueDate,
			Amount:  r.Amount,
			Status:  r.Status,
			PaidAt:  r.PaidAt,
		}
	}
	return &p, nil
}

func encodeInstallments(installments []models.Installment) ([]byte, error) {
	rows := make([]installmentRow, len(installments))
	for i, inst := range installments {
		rows[i] = installmentRow{
			Index:   inst.Index,
			DueDate: inst.DueDate.UTC(),
			Amount:  inst.Amount,
			Status:  inst.Status,
			PaidAt:  inst.PaidAt,
		}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("encode installments: %w", err)
	}
	return data, nil
}
