package shardrepo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/alimx07/Social_Feed_Backend/services/messages_service/models"
	"go.uber.org/zap"
)

const shardsQuery = `SELECT d.id, d.host, d.port, d."user", d.password, d.name,
       s.id, s.shard_table, s.shard_key, s.state
FROM shards_info s
JOIN database_info d ON s.db_info = d.id`

// PostgresDirectory reads shard metadata from the main database.
type PostgresDirectory struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresDirectory(db *sql.DB, logger *zap.Logger) *PostgresDirectory {
	return &PostgresDirectory{db: db, logger: logger}
}

func (pd *PostgresDirectory) ReadyShards(ctx context.Context, table string) ([]models.Shard, error) {
	return pd.query(ctx, shardsQuery+` WHERE s.shard_table = $1 AND s.state = $2 ORDER BY s.shard_key`,
		table, string(models.ShardReady))
}

func (pd *PostgresDirectory) Shards(ctx context.Context) ([]models.Shard, error) {
	return pd.query(ctx, shardsQuery+` ORDER BY s.shard_table, s.shard_key`)
}

// CreateShard registers a shard in ADDING state; it takes no traffic until
// an operator moves it to READY.
func (pd *PostgresDirectory) CreateShard(ctx context.Context, dbInfoId int64, table string, key int) (models.Shard, error) {
	var id int64
	err := pd.db.QueryRowContext(ctx,
		`INSERT INTO shards_info (db_info, shard_table, shard_key, state)
        VALUES ($1, $2, $3, $4) RETURNING id`,
		dbInfoId, table, key, string(models.ShardAdding)).Scan(&id)
	if err != nil {
		pd.logger.Error("Error creating shard", zap.String("table", table), zap.Int("shard_key", key), zap.Error(err))
		return models.Shard{}, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	shards, err := pd.query(ctx, shardsQuery+` WHERE s.id = $1`, id)
	if err != nil {
		return models.Shard{}, err
	}
	if len(shards) == 0 {
		return models.Shard{}, fmt.Errorf("shard %d: %w", id, models.ErrNotFound)
	}
	return shards[0], nil
}

func (pd *PostgresDirectory) SetState(ctx context.Context, id int64, state models.ShardState) error {
	res, err := pd.db.ExecContext(ctx, `UPDATE shards_info SET state = $1 WHERE id = $2`, string(state), id)
	if err != nil {
		pd.logger.Error("Error updating shard state", zap.Int64("shard", id), zap.Error(err))
		return fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("shard %d: %w", id, models.ErrNotFound)
	}
	return nil
}

func (pd *PostgresDirectory) query(ctx context.Context, query string, args ...any) ([]models.Shard, error) {
	rows, err := pd.db.QueryContext(ctx, query, args...)
	if err != nil {
		pd.logger.Error("Error querying shards", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	defer rows.Close()

	var shards []models.Shard
	for rows.Next() {
		var (
			s     models.Shard
			state string
		)
		err := rows.Scan(&s.DbInfo.Id, &s.DbInfo.Host, &s.DbInfo.Port, &s.DbInfo.User, &s.DbInfo.Password,
			&s.DbInfo.Name, &s.Id, &s.ShardTable, &s.ShardKey, &state)
		if err != nil {
			pd.logger.Error("Error scanning shard row", zap.Error(err))
			return nil, err
		}
		s.State = models.ShardState(state)
		shards = append(shards, s)
	}
	if err := rows.Err(); err != nil {
		pd.logger.Error("Error iterating shard rows", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	return shards, nil
}
