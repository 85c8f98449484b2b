// Package storage persists sessions, agents, messages and long-term memory with gorm. Postgres is
// the production database; sqlite serves local runs and tests.
package storage

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/easeaico/agent-chat/internal/types"
)

// Store holds the DB handle and repositories.
type Store struct {
	db          *gorm.DB
	Agents      *AgentRepo
	Sessions    *SessionRepo
	Messages    *MessageRepo
	MemoryItems *MemoryItemRepo
	Vectors     *VectorIndex
}

// NewStore opens the database named by databaseURL. URLs starting with "sqlite://" or "file:"
// open sqlite; everything else is handed to the postgres driver.
func NewStore(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := gorm.Open(dialector(databaseURL), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open gorm database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if db.Dialector.Name() == "sqlite" {
		// sqlite allows one writer; a single connection avoids "database is locked".
		sqlDB.SetMaxOpenConns(1)
	}
	return newStore(db), nil
}

func newStore(db *gorm.DB) *Store {
	return &Store{
		db:          db,
		Agents:      NewAgentRepo(db),
		Sessions:    NewSessionRepo(db),
		Messages:    NewMessageRepo(db),
		MemoryItems: NewMemoryItemRepo(db),
		Vectors:     NewVectorIndex(db),
	}
}

func dialector(databaseURL string) gorm.Dialector {
	switch {
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return sqlite.Open(strings.TrimPrefix(databaseURL, "sqlite://"))
	case strings.HasPrefix(databaseURL, "file:"):
		return sqlite.Open(databaseURL)
	default:
		return postgres.Open(databaseURL)
	}
}

// Migrate creates or updates every table. On postgres it also enables the pgvector extension.
func (s *Store) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if s.Dialect() == "postgres" {
		if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("failed to enable pgvector: %w", err)
		}
	}
	if err := db.AutoMigrate(
		&agentModel{},
		&sessionModel{},
		&messageModel{},
		&memoryItemModel{},
		&memoryVectorModel{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Dialect is "postgres" or "sqlite".
func (s *Store) Dialect() string {
	return s.db.Dialector.Name()
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql db: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Close() {
	if s.db == nil {
		return
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return
	}
	_ = sqlDB.Close()
}

// AgentForSession resolves the agent that owns sessionID.
func (s *Store) AgentForSession(ctx context.Context, sessionID string) (*types.Agent, error) {
	session, err := s.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.Agents.Get(ctx, session.AgentID)
}
