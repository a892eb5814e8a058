package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"studentforge-backend/internal/config"
	"studentforge-backend/internal/database"
	"studentforge-backend/internal/gamification"
	"studentforge-backend/internal/logging"
	"studentforge-backend/internal/repository"
	"studentforge-backend/internal/services"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var timeout time.Duration

	root := &cobra.Command{
		Use:           "admin",
		Short:         "StudentForge maintenance commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "overall deadline for the command")

	root.AddCommand(newMigrateCmd(&timeout))
	root.AddCommand(newRecomputeLevelsCmd(&timeout))
	root.AddCommand(newSyncLeaderboardCmd(&timeout))
	root.AddCommand(newBadgesCmd())
	return root
}

func withPostgres(timeout time.Duration, fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg := config.Load()
	logging.Setup(cfg.Env, cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func newMigrateCmd(timeout *time.Duration) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending SQL migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPostgres(*timeout, func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				if dir == "" {
					dir = cfg.MigrationsDir
				}
				applied, err := database.RunMigrations(ctx, pool, dir)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s) from %s\n", applied, dir)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "migrations directory (default: MIGRATIONS_DIR)")
	return cmd
}

func newRecomputeLevelsCmd(timeout *time.Duration) *cobra.Command {
	return &cobra.Command{
		Use:   "recompute-levels",
		Short: "Rewrite every profile's level from its XP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPostgres(*timeout, func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
				changed, err := repository.NewProfileRepo(pool).RecomputeLevels(ctx, gamification.LevelForXP)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "updated %d profile(s)\n", changed)
				return nil
			})
		},
	}
}

func newSyncLeaderboardCmd(timeout *time.Duration) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-leaderboard",
		Short: "Rebuild the Redis leaderboard from Postgres",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPostgres(*timeout, func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				redisClients, err := database.NewRedisClients(ctx, cfg.RedisURL)
				if err != nil {
					return err
				}
				defer redisClients.Close()

				lb := services.NewLeaderboardService(redisClients.Queue, repository.NewProfileRepo(pool))
				n, err := lb.Rebuild(ctx)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "leaderboard rebuilt with %d profile(s)\n", n)
				return nil
			})
		},
	}
}

func newBadgesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "badges",
		Short: "Print the badge catalog in discovery order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			badges, err := gamification.NewBadgeEvaluator()
			if err != nil {
				return err
			}
			for _, b := range badges.Registry() {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%-16s %-7s %s\n", b.ID, b.Tier, b.Description)
			}
			return nil
		},
	}
}
