package models

import "time"

type AppConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	DB        DBConfig        `yaml:"db"`
	NewsCache NewsCacheConfig `yaml:"news_cache"`
	Auth      AuthConfig      `yaml:"auth"`
	LogLevel  string          `yaml:"log_level"`
}

type ServerConfig struct {
	ServerHost     string `yaml:"host"`
	ServerPort     string `yaml:"port"`
	ServerHTTPPort string `yaml:"http_port"`
	HostName       string `yaml:"host_name"`
	EtcdEndpoints  string `yaml:"etcd_endpoints"`
	PageLimit      int    `yaml:"page_limit"`
}

type KafkaConfig struct {
	BootStrapServers string `yaml:"bootstrap_servers"`
	OffsetReset      string `yaml:"offset_reset"`
	FetchMinBytes    string `yaml:"fetch_min_bytes"`
	PopulateTopic    string `yaml:"populate_topic"`
	NewsTopic        string `yaml:"news_topic"`
}

type RedisConfig struct {
	ClusterAddr []string `yaml:"cluster_addr"`
	Password    string   `yaml:"password"`
}

type DBConfig struct {
	// Primary (write) database
	DBHost     string `yaml:"host"`
	DBPort     string `yaml:"port"`
	DBUser     string `yaml:"user"`
	DBPassword string `yaml:"password"`
	DBName     string `yaml:"name"`

	// Replica (read) database, falls back to primary when empty
	DBReplicaHost     string `yaml:"replica_host"`
	DBReplicaPort     string `yaml:"replica_port"`
	DBReplicaUser     string `yaml:"replica_user"`
	DBReplicaPassword string `yaml:"replica_password"`
	DBReplicaName     string `yaml:"replica_name"`
}

type NewsCacheConfig struct {
	MaxFollowersPerUser int           `yaml:"max_followers_per_user"`
	MaxFeedSize         int           `yaml:"max_feed_size"`
	FollowersTTL        time.Duration `yaml:"followers_ttl"`
	WarmupPeriod        time.Duration `yaml:"warmup_period"`
	WarmupRate          int           `yaml:"warmup_rate"`
	FanoutWorkers       int           `yaml:"fanout_workers"`
}

type AuthConfig struct {
	// base64 encoded ed25519 public key of the token issuer
	PublicKey string `yaml:"public_key"`
	Issuer    string `yaml:"issuer"`
	Audience  string `yaml:"audience"`
}
