package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrTransientStore = errors.New("transient store error")
)

type Config struct {
	// Primary (write) database, also holds the shard directory and users
	DBHost     string
	DBPort     string
	DBUser     string
	DBName     string
	DBPassword string

	// Replica (read) database
	DBReplicaHost     string
	DBReplicaPort     string
	DBReplicaUser     string
	DBReplicaName     string
	DBReplicaPassword string

	ServerHost     string
	ServerPort     string
	ServerHttpPort string

	EtcdEndpoints string
	HostName      string

	// send rate limiting is off without redis addresses
	RedisAddrs     []string
	RedisPassword  string
	SendLimit      int
	SendRefillRate int

	JWTPublicKey string
	JWTIssuer    string
	JWTAudience  string

	PageLimit int
	LogLevel  string
}

type ShardState string

const (
	ShardReady  ShardState = "READY"
	ShardAdding ShardState = "ADDING"
	ShardError  ShardState = "ERROR"
)

// DatabaseInfo holds the connection parameters of one physical store.
type DatabaseInfo struct {
	Id       int64
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

func (d DatabaseInfo) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Password, d.Name)
}

type Shard struct {
	Id         int64
	DbInfo     DatabaseInfo
	ShardTable string
	ShardKey   int
	State      ShardState
}

type Message struct {
	Id       string  `json:"id"`
	ChatKey  string  `json:"chat_key"`
	AuthorId int64   `json:"author_id"`
	Text     string  `json:"text"`
	Created  float64 `json:"created"`
}

// ChatKey names the conversation between two users regardless of who writes.
func ChatKey(a, b int64) string {
	return fmt.Sprintf("%d:%d", min(a, b), max(a, b))
}
