package shardrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/alimx07/Social_Feed_Backend/services/messages_service/models"
)

var (
	ErrNoShardsAvailable         = errors.New("no shards available")
	ErrShardRoutingInconsistency = errors.New("shard routing inconsistency")
)

type Directory interface {
	ReadyShards(ctx context.Context, table string) ([]models.Shard, error)
}

// Route maps key onto one of the ready shards of a table. Ready shard keys
// must be dense 0..N-1, a gap surfaces as ErrShardRoutingInconsistency.
func Route(key string, candidates []models.Shard) (models.Shard, error) {
	if len(candidates) == 0 {
		return models.Shard{}, ErrNoShardsAvailable
	}
	slot := int(crc32.ChecksumIEEE([]byte(key)) % uint32(len(candidates)))
	for _, shard := range candidates {
		if shard.ShardKey == slot {
			return shard, nil
		}
	}
	return models.Shard{}, fmt.Errorf("%w: no shard with key %d among %d ready shards",
		ErrShardRoutingInconsistency, slot, len(candidates))
}

// IsShardError reports faults that need an operator rather than a retry.
func IsShardError(err error) bool {
	return errors.Is(err, ErrNoShardsAvailable) || errors.Is(err, ErrShardRoutingInconsistency)
}

// Router resolves a sharding key of one table to a live connection.
type Router struct {
	table      string
	directory  Directory
	connectors *Connectors
}

func NewRouter(table string, directory Directory, connectors *Connectors) *Router {
	return &Router{table: table, directory: directory, connectors: connectors}
}

func (r *Router) DB(ctx context.Context, key string) (*sql.DB, models.Shard, error) {
	candidates, err := r.directory.ReadyShards(ctx, r.table)
	if err != nil {
		return nil, models.Shard{}, err
	}
	shard, err := Route(key, candidates)
	if err != nil {
		return nil, models.Shard{}, fmt.Errorf("table %s: %w", r.table, err)
	}
	db, err := r.connectors.Get(shard.DbInfo)
	if err != nil {
		return nil, shard, err
	}
	return db, shard, nil
}
