//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"bnpl/internal/platform/database"
	"bnpl/migrations"
	id "bnpl/pkg/domain"
)

// PostgresContainer wraps a testcontainers Postgres instance.
type PostgresContainer struct {
	Container testcontainers.Container
	DSN       string
	DB        *sql.DB
}

// NewPostgresContainer starts a Postgres container with migrations applied.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("bnpl_test"),
		postgres.WithUsername("bnpl"),
		postgres.WithPassword("bnpl_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to connect to postgres: %v", err)
	}

	if _, err := database.Migrate(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to run migrations: %v", err)
	}

	// The container is shared through Manager; Ryuk reaps it when the test process exits.
	return &PostgresContainer{Container: container, DSN: dsn, DB: db}
}

// TruncateAll clears every domain table between tests.
func (p *PostgresContainer) TruncateAll(ctx context.Context) error {
	for _, table := range []string{"trust_applied_events", "outbox", "payment_plans", "trust_profiles"} {
		if _, err := p.DB.ExecContext(ctx, "TRUNCATE TABLE "+table+" CASCADE"); err != nil {
			return fmt.Errorf("truncate %s: %w", table, err)
		}
	}
	return nil
}

// CreateTestProfile inserts a default trust profile created at createdAt and returns its user ID.
func (p *PostgresContainer) CreateTestProfile(ctx context.Context, t testing.TB, createdAt time.Time) id.UserID {
	t.Helper()
	userID := id.UserID(uuid.New())
	_, err := p.DB.ExecContext(ctx, `
		INSERT INTO trust_profiles (user_id, created_at, updated_at) VALUES ($1, $2, $2)
	`, uuid.UUID(userID), createdAt)
	if err != nil {
		t.Fatalf("CreateTestProfile: %v", err)
	}
	return userID
}
