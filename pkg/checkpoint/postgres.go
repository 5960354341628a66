package checkpoint

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ajitpratap0/withsecure-connector/pkg/errors"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS connector_checkpoints (
	key        TEXT PRIMARY KEY,
	document   JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const (
	selectDocumentSQL          = `SELECT document::text FROM connector_checkpoints WHERE key = $1`
	selectDocumentForUpdateSQL = `SELECT document::text FROM connector_checkpoints WHERE key = $1 FOR UPDATE`
	upsertDocumentSQL          = `
INSERT INTO connector_checkpoints (key, document, updated_at)
VALUES ($1, $2::jsonb, now())
ON CONFLICT (key) DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`
)

// PostgresStore keeps one checkpoint document per connector key in a
// jsonb column. Each Save runs in its own transaction holding a row lock.
type PostgresStore struct {
	pool   *pgxpool.Pool
	key    string
	logger *zap.Logger
}

// NewPostgresStore connects to dsn and makes sure the checkpoint table exists.
func NewPostgresStore(ctx context.Context, dsn, key string, logger *zap.Logger) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid checkpoint dsn")
	}
	poolConfig.MaxConns = 2
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to checkpoint database")
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeCheckpoint, "failed to create checkpoint table")
	}

	return &PostgresStore{
		pool:   pool,
		key:    key,
		logger: logger.With(zap.String("component", "checkpoint"), zap.String("key", key)),
	}, nil
}

// Load returns the stored watermark.
func (s *PostgresStore) Load(ctx context.Context) (time.Time, bool, error) {
	var data string
	err := s.pool.QueryRow(ctx, selectDocumentSQL, s.key).Scan(&data)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.Wrap(err, errors.ErrorTypeCheckpoint, "failed to read checkpoint")
	}

	doc, err := ParseDocument([]byte(data))
	if err != nil {
		return time.Time{}, false, err
	}
	return doc.Watermark()
}

// Save persists the watermark.
func (s *PostgresStore) Save(ctx context.Context, watermark time.Time) error {
	err := s.update(ctx, func(doc Document) error {
		return doc.SetWatermark(watermark)
	})
	if err == nil {
		s.logger.Debug("checkpoint saved", zap.Time("watermark", watermark))
	}
	return err
}

// Clear removes the watermark, keeping other keys.
func (s *PostgresStore) Clear(ctx context.Context) error {
	return s.update(ctx, func(doc Document) error {
		doc.ClearWatermark()
		return nil
	})
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) update(ctx context.Context, fn func(Document) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeCheckpoint, "failed to begin checkpoint transaction")
	}
	// Rollback after Commit is a no-op.
	defer func() { _ = tx.Rollback(ctx) }()

	var data string
	err = tx.QueryRow(ctx, selectDocumentForUpdateSQL, s.key).Scan(&data)
	if err != nil && !stderrors.Is(err, pgx.ErrNoRows) {
		return errors.Wrap(err, errors.ErrorTypeCheckpoint, "failed to lock checkpoint")
	}

	doc, err := ParseDocument([]byte(data))
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}

	encoded, err := doc.Marshal()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeCheckpoint, "failed to encode checkpoint")
	}
	if _, err := tx.Exec(ctx, upsertDocumentSQL, s.key, string(encoded)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeCheckpoint, "failed to write checkpoint")
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeCheckpoint, "failed to commit checkpoint")
	}
	return nil
}
