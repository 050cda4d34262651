package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/vimaru-ai/seatutor-backend/internal/pkg/envutil"
	"github.com/vimaru-ai/seatutor-backend/internal/pkg/logger"
	"github.com/vimaru-ai/seatutor-backend/internal/types"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	dsn := envutil.GetEnv("DATABASE_URL", "", log)
	if dsn == "" {
		host := envutil.GetEnv("POSTGRES_HOST", "localhost", log)
		port := envutil.GetEnv("POSTGRES_PORT", "5432", log)
		user := envutil.GetEnv("POSTGRES_USER", "postgres", log)
		password := envutil.GetEnv("POSTGRES_PASSWORD", "", log)
		name := envutil.GetEnv("POSTGRES_NAME", "seatutor", log)
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, name)
	}

	serviceLog.Info("Connecting to Postgres...")
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		serviceLog.Error("Failed to connect to Postgres", "error", err)
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	for _, ext := range []string{`"uuid-ossp"`, `vector`} {
		if err := gdb.Exec(fmt.Sprintf(`CREATE EXTENSION IF NOT EXISTS %s;`, ext)).Error; err != nil {
			serviceLog.Error("Failed to enable extension", "extension", ext, "error", err)
			return nil, fmt.Errorf("failed to enable extension %s: %w", ext, err)
		}
	}

	return &PostgresService{db: gdb, log: serviceLog}, nil
}

func (s *PostgresService) DB() *gorm.DB { return s.db }

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	if err := s.db.AutoMigrate(
		&types.KnowledgeChunk{},
		&types.ChatSession{},
		&types.ChatMessage{},
		&types.LearningProfile{},
		&types.UserFact{},
	); err != nil {
		return err
	}
	return s.ensureSearchObjects()
}

func (s *PostgresService) ensureSearchObjects() error {
	if err := EnsureSearchObjects(s.db); err != nil {
		s.log.Error("Failed to apply search DDL", "error", err)
		return err
	}
	return nil
}

// EnsureSearchObjects creates what AutoMigrate cannot express: the tsvector
// column kept in sync by trigger, the ANN index on the embedding column, the
// GIN index for lexical search, and the partial unique index that makes
// singleton fact upserts atomic. The 'simple' regconfig keeps tokenization
// language-agnostic (Vietnamese and English queries behave the same).
func EnsureSearchObjects(gdb *gorm.DB) error {
	stmts := []string{
		`ALTER TABLE knowledge_embeddings ADD COLUMN IF NOT EXISTS lexical_vector tsvector;`,

		`CREATE OR REPLACE FUNCTION knowledge_embeddings_lexical_refresh() RETURNS trigger AS $$
		BEGIN
			NEW.lexical_vector := to_tsvector('simple', coalesce(NEW.content, ''));
			RETURN NEW;
		END
		$$ LANGUAGE plpgsql;`,

		`DROP TRIGGER IF EXISTS trg_knowledge_embeddings_lexical ON knowledge_embeddings;`,

		`CREATE TRIGGER trg_knowledge_embeddings_lexical
			BEFORE INSERT OR UPDATE OF content ON knowledge_embeddings
			FOR EACH ROW EXECUTE FUNCTION knowledge_embeddings_lexical_refresh();`,

		`CREATE INDEX IF NOT EXISTS idx_knowledge_embeddings_lexical
			ON knowledge_embeddings USING gin (lexical_vector);`,

		`CREATE INDEX IF NOT EXISTS idx_knowledge_embeddings_embedding
			ON knowledge_embeddings USING hnsw (embedding vector_cosine_ops);`,

		`CREATE UNIQUE INDEX IF NOT EXISTS idx_user_facts_singleton
			ON user_facts (user_id, fact_type)
			WHERE fact_type IN ('user_identity');`,
	}
	for _, stmt := range stmts {
		if err := gdb.Exec(stmt).Error; err != nil {
			return fmt.Errorf("search ddl: %w", err)
		}
	}
	return nil
}

// Ping checks connectivity for the deep health endpoint.
func (s *PostgresService) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
