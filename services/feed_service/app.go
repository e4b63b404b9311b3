package main

import (
	"context"
	"database/sql"
	"fmt"

	cachedrepo "github.com/alimx07/Social_Feed_Backend/services/feed_service/cachedRepo"
	eventrepo "github.com/alimx07/Social_Feed_Backend/services/feed_service/eventRepo"
	"github.com/alimx07/Social_Feed_Backend/services/feed_service/live"
	"github.com/alimx07/Social_Feed_Backend/services/feed_service/models"
	"github.com/alimx07/Social_Feed_Backend/services/feed_service/pipeline"
	userrepo "github.com/alimx07/Social_Feed_Backend/services/feed_service/userRepo"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var stages = []string{pipeline.PopulateGroup, pipeline.DatabaseGroup, pipeline.CacheGroup}

// app owns the connections shared by every command.
type app struct {
	config models.AppConfig
	logger *zap.Logger

	primaryDB *sql.DB
	replicaDB *sql.DB
	redis     redis.UniversalClient

	store     *eventrepo.PostgresRepo
	users     *userrepo.UserRepo
	feeds     *cachedrepo.RedisFeedCache
	followers *cachedrepo.RedisFollowerCache
	broker    *live.RedisBroker

	publishers map[string]*pipeline.KafkaPublisher
}

func newApp(ctx context.Context, config models.AppConfig, logger *zap.Logger) (*app, error) {
	primaryDB, replicaDB, err := InitDBConnections(config.DB, logger)
	if err != nil {
		return nil, err
	}
	r, err := cachedrepo.NewRedisClient(ctx, config.Redis)
	if err != nil {
		logger.Error("Failed to connect to redis", zap.Error(err))
		primaryDB.Close()
		replicaDB.Close()
		return nil, err
	}

	users := userrepo.NewUserRepo(primaryDB, replicaDB, logger)
	nc := config.NewsCache
	return &app{
		config:     config,
		logger:     logger,
		primaryDB:  primaryDB,
		replicaDB:  replicaDB,
		redis:      r,
		store:      eventrepo.NewPostgresRepo(primaryDB, replicaDB, logger),
		users:      users,
		feeds:      cachedrepo.NewRedisFeedCache(r, nc.MaxFeedSize, logger),
		followers:  cachedrepo.NewRedisFollowerCache(r, users, nc.FollowersTTL, nc.MaxFollowersPerUser, logger),
		broker:     live.NewRedisBroker(r),
		publishers: map[string]*pipeline.KafkaPublisher{},
	}, nil
}

func (a *app) publisher(topic string) (*pipeline.KafkaPublisher, error) {
	if p, ok := a.publishers[topic]; ok {
		return p, nil
	}
	p, err := pipeline.NewKafkaPublisher(a.config.Kafka, topic, a.logger)
	if err != nil {
		return nil, err
	}
	a.publishers[topic] = p
	return p, nil
}

// stage returns the handler of one consumer group and the topic it reads.
func (a *app) stage(group string) (pipeline.Handler, string, error) {
	switch group {
	case pipeline.PopulateGroup:
		next, err := a.publisher(a.config.Kafka.NewsTopic)
		if err != nil {
			return nil, "", err
		}
		return pipeline.NewEnricher(a.users, next, a.logger), a.config.Kafka.PopulateTopic, nil
	case pipeline.DatabaseGroup:
		return pipeline.NewPersister(a.store), a.config.Kafka.NewsTopic, nil
	case pipeline.CacheGroup:
		return pipeline.NewFanoutWriter(a.followers, a.feeds, a.broker,
			a.config.NewsCache.FanoutWorkers, a.logger), a.config.Kafka.NewsTopic, nil
	}
	return nil, "", fmt.Errorf("unknown stage %q", group)
}

func (a *app) consumer(group string) (*pipeline.Consumer, error) {
	handler, topic, err := a.stage(group)
	if err != nil {
		return nil, err
	}
	return pipeline.NewConsumer(a.config.Kafka, group, topic, handler, a.logger)
}

func (a *app) warmer() (*pipeline.Warmer, error) {
	pub, err := a.publisher(a.config.Kafka.PopulateTopic)
	if err != nil {
		return nil, err
	}
	nc := a.config.NewsCache
	return pipeline.NewWarmer(a.store, pub, nc.WarmupPeriod, nc.WarmupRate, a.logger), nil
}

func (a *app) close() {
	for _, p := range a.publishers {
		p.Close()
	}
	if err := a.feeds.Close(); err != nil {
		a.logger.Warn("Error in closing redis", zap.Error(err))
	}
	a.store.Close()
}
