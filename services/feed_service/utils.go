package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	cachedrepo "github.com/alimx07/Social_Feed_Backend/services/feed_service/cachedRepo"
	"github.com/alimx07/Social_Feed_Backend/services/feed_service/models"
	"github.com/alimx07/Social_Feed_Backend/services/feed_service/pipeline"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const defaultPageLimit = 50

func defaultConfig() models.AppConfig {
	return models.AppConfig{
		Server: models.ServerConfig{
			ServerHost:     "0.0.0.0",
			ServerPort:     "50051",
			ServerHTTPPort: "8080",
			PageLimit:      defaultPageLimit,
		},
		Kafka: models.KafkaConfig{
			OffsetReset:   "earliest",
			FetchMinBytes: "1",
			PopulateTopic: pipeline.PopulateTopic,
			NewsTopic:     pipeline.NewsTopic,
		},
		NewsCache: models.NewsCacheConfig{
			MaxFollowersPerUser: 100,
			MaxFeedSize:         1000,
			FollowersTTL:        cachedrepo.DefaultFollowersTTL,
			WarmupPeriod:        pipeline.DefaultWarmupPeriod,
			WarmupRate:          pipeline.DefaultWarmupRate,
			FanoutWorkers:       pipeline.DefaultFanoutWorkers,
		},
		Auth: models.AuthConfig{
			Issuer:   "users_service",
			Audience: "api_gateway",
		},
		LogLevel: "info",
	}
}

// LoadConfig layers, from lowest to highest priority: defaults, the YAML file
// at path (if any) and environment variables (a .env file is loaded first).
func LoadConfig(path string) (models.AppConfig, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return models.AppConfig{}, fmt.Errorf("loading .env: %w", err)
	}
	config := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return models.AppConfig{}, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return models.AppConfig{}, fmt.Errorf("parsing config: %w", err)
		}
	}
	if err := applyEnv(&config); err != nil {
		return models.AppConfig{}, err
	}
	if config.NewsCache.MaxFeedSize <= 0 || config.NewsCache.MaxFollowersPerUser <= 0 {
		return models.AppConfig{}, errors.New("max_feed_size and max_followers_per_user must be positive")
	}
	if config.DB.DBReplicaHost == "" {
		config.DB.DBReplicaHost, config.DB.DBReplicaPort = config.DB.DBHost, config.DB.DBPort
		config.DB.DBReplicaUser, config.DB.DBReplicaPassword = config.DB.DBUser, config.DB.DBPassword
		config.DB.DBReplicaName = config.DB.DBName
	}
	return config, nil
}

func applyEnv(config *models.AppConfig) error {
	setString(&config.Server.ServerPort, "SERVER_PORT")
	setString(&config.Server.ServerHost, "SERVER_HOST")
	setString(&config.Server.ServerHTTPPort, "SERVER_HTTP_PORT")
	setString(&config.Server.EtcdEndpoints, "ETCD_ENDPOINTS")
	setString(&config.Server.HostName, "HOSTNAME")

	setString(&config.Kafka.BootStrapServers, "BOOTSTRAP_SERVERS")
	setString(&config.Kafka.OffsetReset, "OFFSET_RESET")
	setString(&config.Kafka.FetchMinBytes, "FETCH_MIN_BYTES")

	if addrs := os.Getenv("CLUSTER_ADDR"); addrs != "" {
		config.Redis.ClusterAddr = strings.Split(addrs, ",")
	}
	setString(&config.Redis.Password, "CACHE_PASSWORD")

	setString(&config.DB.DBHost, "DB_HOST")
	setString(&config.DB.DBPort, "DB_PORT")
	setString(&config.DB.DBUser, "DB_USER")
	setString(&config.DB.DBPassword, "DB_PASSWORD")
	setString(&config.DB.DBName, "DB_NAME")
	setString(&config.DB.DBReplicaHost, "DB_REPLICA_HOST")
	setString(&config.DB.DBReplicaPort, "DB_REPLICA_PORT")
	setString(&config.DB.DBReplicaUser, "DB_REPLICA_USER")
	setString(&config.DB.DBReplicaPassword, "DB_REPLICA_PASSWORD")
	setString(&config.DB.DBReplicaName, "DB_REPLICA_NAME")

	setString(&config.Auth.PublicKey, "JWT_PUBLIC_KEY")
	setString(&config.LogLevel, "LOG_LEVEL")

	for env, dst := range map[string]*int{
		"MAX_FEED_SIZE":          &config.NewsCache.MaxFeedSize,
		"MAX_FOLLOWERS_PER_USER": &config.NewsCache.MaxFollowersPerUser,
		"FANOUT_WORKERS":         &config.NewsCache.FanoutWorkers,
		"WARMUP_RATE":            &config.NewsCache.WarmupRate,
		"PAGE_LIMIT":             &config.Server.PageLimit,
	} {
		if err := setInt(dst, env); err != nil {
			return err
		}
	}
	if v := os.Getenv("WARMUP_PERIOD"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("WARMUP_PERIOD: %w", err)
		}
		config.NewsCache.WarmupPeriod = d
	}
	return nil
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) error {
	v := os.Getenv(env)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", env, err)
	}
	*dst = n
	return nil
}

func InitLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build(zap.Fields(zap.String("service", "feed_service")))
}

func InitDBConnections(config models.DBConfig, logger *zap.Logger) (*sql.DB, *sql.DB, error) {
	// Primary connection (for writes)
	primaryPath := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		config.DBHost, config.DBPort, config.DBUser, config.DBPassword, config.DBName)

	primaryDB, err := sql.Open("postgres", primaryPath)
	if err != nil {
		logger.Error("Failed to connect to primary DB", zap.Error(err))
		return nil, nil, err
	}

	// Replica connection (for reads)
	replicaPath := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		config.DBReplicaHost, config.DBReplicaPort, config.DBReplicaUser,
		config.DBReplicaPassword, config.DBReplicaName)

	replicaDB, err := sql.Open("postgres", replicaPath)
	if err != nil {
		logger.Error("Failed to connect to replica DB", zap.Error(err))
		primaryDB.Close()
		return nil, nil, err
	}

	primaryDB.SetMaxOpenConns(15)
	primaryDB.SetMaxIdleConns(5)

	replicaDB.SetMaxOpenConns(25)
	replicaDB.SetMaxIdleConns(10)

	return primaryDB, replicaDB, nil
}

// pagination reads page/paginate_by the way every list endpoint does:
// pages start at 1 and paginate_by is capped at limit.
func pagination(q interface{ Get(string) string }, limit int) (offset, size int, err error) {
	page, size := 1, limit
	if v := q.Get("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil || page < 1 {
			return 0, 0, fmt.Errorf("invalid page %q", v)
		}
	}
	if v := q.Get("paginate_by"); v != "" {
		if size, err = strconv.Atoi(v); err != nil || size < 1 {
			return 0, 0, fmt.Errorf("invalid paginate_by %q", v)
		}
	}
	size = min(size, limit)
	return (page - 1) * size, size, nil
}
