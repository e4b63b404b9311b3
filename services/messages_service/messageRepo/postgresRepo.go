package messagerepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alimx07/Social_Feed_Backend/services/messages_service/models"
	shardrepo "github.com/alimx07/Social_Feed_Backend/services/messages_service/shardRepo"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	Table = "messages"

	messageColumns = `id, chat_key, author_id, text, EXTRACT(EPOCH FROM created)`
)

type shardLocator interface {
	DB(ctx context.Context, key string) (*sql.DB, models.Shard, error)
}

// PostgresRepo stores each conversation on the shard its chat key routes to.
type PostgresRepo struct {
	shards shardLocator
	logger *zap.Logger
}

func NewPostgresRepo(shards shardLocator, logger *zap.Logger) *PostgresRepo {
	return &PostgresRepo{shards: shards, logger: logger}
}

func (ps *PostgresRepo) shard(ctx context.Context, chatKey string) (*sql.DB, models.Shard, error) {
	db, shard, err := ps.shards.DB(ctx, chatKey)
	if shardrepo.IsShardError(err) {
		ps.logger.Error("Shard routing failed", zap.Bool("alert", true),
			zap.String("chat_key", chatKey), zap.Error(err))
	}
	return db, shard, err
}

func (ps *PostgresRepo) Create(ctx context.Context, chatKey string, authorId int64, text string) (models.Message, error) {
	db, shard, err := ps.shard(ctx, chatKey)
	if err != nil {
		return models.Message{}, err
	}
	id := uuid.NewString()
	_, err = db.ExecContext(ctx,
		`INSERT INTO messages (id, chat_key, author_id, text)
        VALUES ($1, $2, $3, $4)`,
		id, chatKey, authorId, text)
	if err != nil {
		ps.logger.Error("Error creating message", zap.Int64("shard", shard.Id), zap.String("chat_key", chatKey), zap.Error(err))
		return models.Message{}, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	return ps.get(ctx, db, id)
}

func (ps *PostgresRepo) Get(ctx context.Context, id, chatKey string) (models.Message, error) {
	db, _, err := ps.shard(ctx, chatKey)
	if err != nil {
		return models.Message{}, err
	}
	return ps.get(ctx, db, id)
}

func (ps *PostgresRepo) get(ctx context.Context, db *sql.DB, id string) (models.Message, error) {
	var m models.Message
	err := db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id).
		Scan(&m.Id, &m.ChatKey, &m.AuthorId, &m.Text, &m.Created)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, fmt.Errorf("message %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		ps.logger.Error("Error querying message", zap.String("message_id", id), zap.Error(err))
		return models.Message{}, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	return m, nil
}

func (ps *PostgresRepo) List(ctx context.Context, chatKey string, after float64, limit, offset int) ([]models.Message, error) {
	db, _, err := ps.shard(ctx, chatKey)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
        WHERE chat_key = $1 AND created > to_timestamp($2)
        ORDER BY created DESC LIMIT $3 OFFSET $4`,
		chatKey, after, limit, max(offset, 0))
	if err != nil {
		ps.logger.Error("Error querying messages", zap.String("chat_key", chatKey), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0, limit)
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.Id, &m.ChatKey, &m.AuthorId, &m.Text, &m.Created); err != nil {
			ps.logger.Error("Error scanning message row", zap.Error(err))
			return nil, err
		}
		messages = append(messages, m)
	}
	if err = rows.Err(); err != nil {
		ps.logger.Error("Error iterating message rows", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	return messages, nil
}
