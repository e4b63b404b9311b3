package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/alimx07/Social_Feed_Backend/services/messages_service/models"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func LoadConfig() (models.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return models.Config{}, fmt.Errorf("loading .env: %w", err)
	}
	config := models.Config{
		// Primary DB
		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     os.Getenv("DB_PORT"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),

		// Replica DB
		DBReplicaHost:     getEnv("DB_REPLICA_HOST", os.Getenv("DB_HOST")),
		DBReplicaPort:     getEnv("DB_REPLICA_PORT", os.Getenv("DB_PORT")),
		DBReplicaUser:     getEnv("DB_REPLICA_USER", os.Getenv("DB_USER")),
		DBReplicaPassword: getEnv("DB_REPLICA_PASSWORD", os.Getenv("DB_PASSWORD")),
		DBReplicaName:     getEnv("DB_REPLICA_NAME", os.Getenv("DB_NAME")),

		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ServerPort:     getEnv("SERVER_PORT", "50052"),
		ServerHttpPort: getEnv("SERVER_HTTP_PORT", "8081"),
		EtcdEndpoints:  os.Getenv("ETCD_ENDPOINTS"),
		HostName:       os.Getenv("HOSTNAME"),

		JWTPublicKey: os.Getenv("JWT_PUBLIC_KEY"),
		JWTIssuer:    getEnv("JWT_ISSUER", "users_service"),
		JWTAudience:  getEnv("JWT_AUDIENCE", "api_gateway"),

		PageLimit:      50,
		SendLimit:      20,
		SendRefillRate: 1,

		RedisPassword: os.Getenv("CACHE_PASSWORD"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
	if addrs := os.Getenv("CLUSTER_ADDR"); addrs != "" {
		config.RedisAddrs = strings.Split(addrs, ",")
	}
	for env, dst := range map[string]*int{
		"PAGE_LIMIT":       &config.PageLimit,
		"SEND_LIMIT":       &config.SendLimit,
		"SEND_REFILL_RATE": &config.SendRefillRate,
	} {
		n, err := getPositiveInt(env, *dst)
		if err != nil {
			return models.Config{}, err
		}
		*dst = n
	}
	return config, nil
}

func getPositiveInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return n, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func InitLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build(zap.Fields(zap.String("service", serviceName)))
}

func InitDBConnections(config models.Config, logger *zap.Logger) (*sql.DB, *sql.DB, error) {
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

	primaryDB.SetMaxOpenConns(5)
	primaryDB.SetMaxIdleConns(2)

	replicaDB.SetMaxOpenConns(10)
	replicaDB.SetMaxIdleConns(5)

	return primaryDB, replicaDB, nil
}

// pagination turns page/paginate_by into an offset; pages start at 1.
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
