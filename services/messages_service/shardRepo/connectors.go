package shardrepo

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/alimx07/Social_Feed_Backend/services/messages_service/models"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Connectors keeps one pool per physical store so shards sharing a database
// share connections.
type Connectors struct {
	mu     sync.Mutex
	dbs    map[string]*sql.DB
	open   func(dsn string) (*sql.DB, error)
	logger *zap.Logger
}

func NewConnectors(logger *zap.Logger) *Connectors {
	return newConnectors(openPostgres, logger)
}

func newConnectors(open func(dsn string) (*sql.DB, error), logger *zap.Logger) *Connectors {
	return &Connectors{
		dbs:    map[string]*sql.DB{},
		open:   open,
		logger: logger,
	}
}

func openPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	return db, nil
}

func (c *Connectors) Get(info models.DatabaseInfo) (*sql.DB, error) {
	dsn := info.DSN()
	c.mu.Lock()
	defer c.mu.Unlock()
	if db, ok := c.dbs[dsn]; ok {
		return db, nil
	}
	db, err := c.open(dsn)
	if err != nil {
		c.logger.Error("Failed to connect to shard database",
			zap.String("host", info.Host), zap.String("db", info.Name), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	c.dbs[dsn] = db
	return db, nil
}

func (c *Connectors) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for dsn, db := range c.dbs {
		if err := db.Close(); err != nil {
			c.logger.Warn("Error closing shard database", zap.Error(err))
		}
		delete(c.dbs, dsn)
	}
}
