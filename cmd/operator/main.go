// Package main provides the operator CLI for deployment and operations tasks.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"sort"
	"time"

	"github.com/easeaico/agent-chat/internal/config"
	"github.com/easeaico/agent-chat/internal/storage"
)

const version = "0.1.0"

type command struct {
	summary string
	run     func(args []string) error
}

var commands = map[string]command{
	"migrate":  {"Create or update the schema (pgvector extension and app tables)", migrateCmd},
	"validate": {"Validate environment configuration and database access", validateCmd},
	"sessions": {"List sessions with their active turn counts", sessionsCmd},
	"version": {"Show version information", func([]string) error {
		fmt.Printf("agent-chat operator v%s\n", version)
		return nil
	}},
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	name := os.Args[1]
	if name == "help" || name == "-h" || name == "--help" {
		printUsage()
		return
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Printf("unknown command: %s\n\n", name)
		printUsage()
		os.Exit(1)
	}
	if err := cmd.run(os.Args[2:]); err != nil {
		log.Fatalf("%s: %v", name, err)
	}
}

func printUsage() {
	fmt.Println("agent-chat operator - deployment and operations CLI")
	fmt.Println("\nUsage:\n  operator <command> [flags]\n\nCommands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-10s %s\n", name, commands[name].summary)
	}
	fmt.Printf("  %-10s %s\n", "help", "Show this help message")
}

func openStore(ctx context.Context) (*storage.Store, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	store, err := storage.NewStore(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return store, nil
}

func migrateCmd(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "Show what would be migrated without executing")
	_ = fs.Parse(args)

	if *dryRun {
		fmt.Println("Dry run, nothing will change:")
		fmt.Println("  - enable the pgvector extension (postgres only)")
		fmt.Println("  - migrate agents, sessions, messages, memory_items, memory_vectors")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	fmt.Printf("Migrating %s database...\n", store.Dialect())
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	fmt.Println("Migration completed.")
	return nil
}

func validateCmd([]string) error {
	if os.Getenv("DATABASE_URL") == "" {
		return fmt.Errorf("DATABASE_URL is not set")
	}
	cfg := config.FromEnv()

	fmt.Println("Effective configuration:")
	rows := [][2]string{
		{"DATABASE_URL", redact(cfg.DatabaseURL)},
		{"HTTP_ADDR", cfg.HTTPAddr},
		{"LOG_LEVEL", cfg.LogLevel},
		{"AUTO_MIGRATE", fmt.Sprint(cfg.AutoMigrate)},
		{"STREAM_TIMEOUT", cfg.StreamTimeout.String()},
		{"STREAM_WAIT_TIMEOUT", cfg.StreamWaitTimeout.String()},
		{"MAX_TOOL_ROUNDS", fmt.Sprint(cfg.MaxToolRounds)},
		{"MEMORY_TOP_K", fmt.Sprint(cfg.MemoryTopK)},
		{"MEMORY_MIN_SCORE", fmt.Sprint(cfg.MemoryMinScore)},
		{"EMBEDDING_DIMENSIONS", fmt.Sprint(cfg.EmbeddingDimensions)},
		{"WORKER_COUNT", fmt.Sprint(cfg.WorkerCount)},
		{"WORKER_QUEUE_SIZE", fmt.Sprint(cfg.WorkerQueueSize)},
		{"WORKER_MAX_CONCURRENT", fmt.Sprint(cfg.WorkerMaxConcurrent)},
		{"REDIS_ADDR", cfg.RedisAddr},
		{"REDIS_CHANNEL", cfg.RedisChannel},
		{"RATE_LIMIT_RPS", fmt.Sprint(cfg.RateLimitRPS)},
		{"RATE_LIMIT_BURST", fmt.Sprint(cfg.RateLimitBurst)},
	}
	for _, row := range rows {
		source := "default"
		if os.Getenv(row[0]) != "" {
			source = "env"
		}
		fmt.Printf("  %-22s %-8s %s\n", row[0], source, row[1])
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	fmt.Printf("\nDatabase reachable (%s)\n", store.Dialect())

	if store.Dialect() == "postgres" {
		var installed bool
		if err := store.DB().WithContext(ctx).
			Raw("SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'vector')").
			Scan(&installed).Error; err != nil {
			return fmt.Errorf("failed to check pgvector: %w", err)
		}
		if !installed {
			fmt.Println("pgvector extension missing, run `operator migrate`")
		}
	}
	return nil
}

func sessionsCmd(args []string) error {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	limit := fs.Int("limit", 20, "Maximum number of sessions to print")
	_ = fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.Sessions.List(ctx)
	if err != nil {
		return err
	}
	if *limit > 0 && len(sessions) > *limit {
		sessions = sessions[:*limit]
	}
	for _, s := range sessions {
		count, err := store.Messages.CountBySession(ctx, s.ID)
		if err != nil {
			return err
		}
		fmt.Printf("%s  %-4d %s  %s\n", s.CreatedAt.Format(time.DateTime), count, s.ID, s.Title)
	}
	return nil
}

// redact hides the password in a connection URL.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
