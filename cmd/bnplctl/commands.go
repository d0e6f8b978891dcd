package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"bnpl/internal/bnpl"
	"bnpl/internal/bnpl/storage"
	planservice "bnpl/internal/plan/service"
	"bnpl/internal/platform/config"
	"bnpl/internal/platform/database"
	"bnpl/internal/platform/logger"
	platformredis "bnpl/internal/platform/redis"
	"bnpl/internal/trust/cache"
	trustservice "bnpl/internal/trust/service"
	"bnpl/migrations"
	id "bnpl/pkg/domain"
)

// session is one CLI invocation's database handle and engine.
type session struct {
	db     *sql.DB
	pool   *database.Pool
	redis  *platformredis.Client
	engine *bnpl.Engine
	out    io.Writer
	json   bool
}

func openSession(ctx context.Context, cmd *cobra.Command) (*session, error) {
	cfg := config.FromEnv()
	url, _ := cmd.Flags().GetString("database-url")
	if url == "" {
		url = cfg.Database.URL
	}
	if url == "" {
		return nil, fmt.Errorf("database URL required: set DATABASE_URL or --database-url")
	}
	pool, err := database.New(ctx, database.Config{
		URL:             url,
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		return nil, err
	}

	log := logger.NewWithOptions(os.Stderr, cfg.Logging.Level, "text")
	trustOpts := []trustservice.Option{trustservice.WithCoinsPerPayment(cfg.Trust.CoinsPerPayment)}
	// rescores must invalidate the server's shared profile cache
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		_ = pool.Close()
		return nil, err
	}
	if redisClient != nil {
		trustOpts = append(trustOpts, trustservice.WithCache(cache.NewRedisCache(redisClient.Client, cfg.Redis.ProfileTTL)))
	} else {
		log.Debug("REDIS_URL not set, profile cache not invalidated")
	}

	backend := storage.NewPostgres(pool.DB())
	trust := trustservice.New(backend.Profiles, backend.TrustTx, log, trustOpts...)
	// no inline follow-up: entries stay pending for the server's relay
	ledger := planservice.New(backend.Plans, backend.LedgerTx, log)

	asJSON, _ := cmd.Flags().GetBool("json")
	return &session{
		db:     pool.DB(),
		pool:   pool,
		redis:  redisClient,
		engine: bnpl.New(trust, ledger, log),
		out:    cmd.OutOrStdout(),
		json:   asJSON,
	}, nil
}

func (s *session) Close() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	_ = s.pool.Close()
}

// print writes v as JSON when --json is set, otherwise the text line.
func (s *session) print(v any, text string) error {
	if s.json {
		enc := json.NewEncoder(s.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(s.out, text)
	return err
}

func withSession(fn func(ctx context.Context, s *session, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		s, err := openSession(ctx, cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		return fn(ctx, s, args)
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: withSession(func(ctx context.Context, s *session, _ []string) error {
			applied, err := database.Migrate(ctx, s.db, migrations.FS)
			if err != nil {
				return err
			}
			return s.print(map[string]any{"applied": applied}, fmt.Sprintf("applied %d migrations %v", len(applied), applied))
		}),
	}
}

func rescoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rescore",
		Short: "Recompute score, tier and credit limit for every profile",
		Args:  cobra.NoArgs,
		RunE: withSession(func(ctx context.Context, s *session, _ []string) error {
			result, err := s.engine.RescoreAll(ctx)
			if err != nil {
				return err
			}
			return s.print(result, fmt.Sprintf("rescored %d profiles: %d changed, %d failed",
				result.Total, result.Changed, result.Failed))
		}),
	}
}

func sweepCmd() *cobra.Command {
	var (
		grace time.Duration
		batch int
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Mark installments past due plus grace as OVERDUE",
		Args:  cobra.NoArgs,
		RunE: withSession(func(ctx context.Context, s *session, _ []string) error {
			result, err := s.engine.SweepOverdue(ctx, grace, batch)
			if err != nil {
				return err
			}
			return s.print(result, fmt.Sprintf("scanned %d plans, updated %d, marked %d installments, %d failed",
				result.PlansScanned, result.PlansUpdated, result.InstallmentsMarked, result.Failed))
		}),
	}
	cmd.Flags().DurationVar(&grace, "grace", config.FromEnv().Workers.OverdueGracePeriod, "grace period after the due date")
	cmd.Flags().IntVar(&batch, "batch", 500, "maximum plans per run")
	return cmd
}

func planCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Inspect and transition payment plans",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show [plan-id]",
		Short: "Print a plan and its schedule",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(func(ctx context.Context, s *session, args []string) error {
			planID, err := id.ParsePlanID(args[0])
			if err != nil {
				return err
			}
			plan, err := s.engine.GetPlan(ctx, planID)
			if err != nil {
				return err
			}
			return s.print(plan, fmt.Sprintf("%s %s remaining %s of %s",
				plan.ID, plan.Status, plan.RemainingBalance.StringFixed(2), plan.TotalAmount.StringFixed(2)))
		}),
	})
	cmd.AddCommand(planTransitionCmd("cancel", "Cancel an ACTIVE plan with no payments",
		func(ctx context.Context, e *bnpl.Engine, planID id.PlanID) (string, error) {
			p, err := e.CancelPlan(ctx, planID)
			if err != nil {
				return "", err
			}
			return p.Status.String(), nil
		}))
	cmd.AddCommand(planTransitionCmd("default", "Mark an ACTIVE plan with an overdue installment as DEFAULTED",
		func(ctx context.Context, e *bnpl.Engine, planID id.PlanID) (string, error) {
			p, err := e.MarkDefaulted(ctx, planID)
			if err != nil {
				return "", err
			}
			return p.Status.String(), nil
		}))
	return cmd
}

func planTransitionCmd(use, short string, apply func(ctx context.Context, e *bnpl.Engine, planID id.PlanID) (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [plan-id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: withSession(func(ctx context.Context, s *session, args []string) error {
			planID, err := id.ParsePlanID(args[0])
			if err != nil {
				return err
			}
			status, err := apply(ctx, s.engine, planID)
			if err != nil {
				return err
			}
			return s.print(map[string]string{"plan_id": planID.String(), "status": status},
				fmt.Sprintf("plan %s is now %s", planID, status))
		}),
	}
}

func profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Inspect trust profiles",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show [user-id]",
		Short: "Print a user's standing and counters",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(func(ctx context.Context, s *session, args []string) error {
			userID, err := id.ParseUserID(args[0])
			if err != nil {
				return err
			}
			p, err := s.engine.GetProfile(ctx, userID)
			if err != nil {
				return err
			}
			view := map[string]any{
				"user_id":        p.UserID.String(),
				"score":          p.Score(),
				"tier":           p.Tier().String(),
				"credit_limit":   p.CreditLimit().StringFixed(2),
				"total_payments": p.TotalPayments,
				"on_time":        p.OnTimePayments,
				"coins_balance":  p.CoinsBalance.StringFixed(2),
				"avg_delay_days": p.AveragePaymentDelayDays,
				"dispute_count":  p.DisputeCount,
				"total_orders":   p.TotalOrders,
			}
			return s.print(view, fmt.Sprintf("%s score %d %s limit %s coins %s",
				p.UserID, p.Score(), p.Tier(), p.CreditLimit().StringFixed(2), p.CoinsBalance.StringFixed(2)))
		}),
	})
	return cmd
}
