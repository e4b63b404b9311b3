package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	messagerepo "github.com/alimx07/Social_Feed_Backend/services/messages_service/messageRepo"
	"github.com/alimx07/Social_Feed_Backend/services/messages_service/models"
	shardrepo "github.com/alimx07/Social_Feed_Backend/services/messages_service/shardRepo"
	userrepo "github.com/alimx07/Social_Feed_Backend/services/messages_service/userRepo"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type deps struct {
	config    models.Config
	logger    *zap.Logger
	directory *shardrepo.PostgresDirectory
	users     *userrepo.UserRepo
}

func main() {
	rootCmd := &cobra.Command{
		Use:          "messages_service",
		Short:        "Sharded direct messages",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the messages API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(serve)
		},
	})

	shardCmd := &cobra.Command{Use: "shard", Short: "Inspect and provision message shards"}
	shardCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every shard and its state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(func(ctx context.Context, d deps) error {
				shards, err := d.directory.Shards(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTABLE\tKEY\tSTATE\tDATABASE")
				for _, s := range shards {
					fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s:%s/%s\n",
						s.Id, s.ShardTable, s.ShardKey, s.State, s.DbInfo.Host, s.DbInfo.Port, s.DbInfo.Name)
				}
				return tw.Flush()
			})
		},
	})

	var dbInfo int64
	var shardKey int
	var table string
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a new shard in ADDING state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(func(ctx context.Context, d deps) error {
				s, err := d.directory.CreateShard(ctx, dbInfo, table, shardKey)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "shard %d created (%s)\n", s.Id, s.State)
				return nil
			})
		},
	}
	addCmd.Flags().Int64Var(&dbInfo, "db-info", 0, "database_info id holding the shard")
	addCmd.Flags().StringVar(&table, "table", messagerepo.Table, "sharded table")
	addCmd.Flags().IntVar(&shardKey, "key", 0, "shard key, ready keys must stay dense from 0")
	addCmd.MarkFlagRequired("db-info")
	addCmd.MarkFlagRequired("key")
	shardCmd.AddCommand(addCmd)

	shardCmd.AddCommand(&cobra.Command{
		Use:       "set-state ID [READY|ADDING|ERROR]",
		Short:     "Move a shard to another state",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{string(models.ShardReady), string(models.ShardAdding), string(models.ShardError)},
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid shard id %q", args[0])
			}
			state := models.ShardState(args[1])
			switch state {
			case models.ShardReady, models.ShardAdding, models.ShardError:
			default:
				return fmt.Errorf("invalid state %q", args[1])
			}
			return withDeps(func(ctx context.Context, d deps) error {
				return d.directory.SetState(ctx, id, state)
			})
		},
	})
	rootCmd.AddCommand(shardCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func withDeps(run func(ctx context.Context, d deps) error) error {
	config, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := InitLogger(config.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	primaryDB, replicaDB, err := InitDBConnections(config, logger)
	if err != nil {
		return err
	}
	defer primaryDB.Close()
	defer replicaDB.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return run(ctx, deps{
		config:    config,
		logger:    logger,
		directory: shardrepo.NewPostgresDirectory(primaryDB, logger),
		users:     userrepo.NewUserRepo(replicaDB, logger),
	})
}

func serve(ctx context.Context, d deps) error {
	auth, err := newTokenValidator(d.config.JWTPublicKey, d.config.JWTIssuer, d.config.JWTAudience)
	if err != nil {
		return err
	}
	connectors := shardrepo.NewConnectors(d.logger)
	defer connectors.Close()
	router := shardrepo.NewRouter(messagerepo.Table, d.directory, connectors)

	var limiter *RateLimiter
	if len(d.config.RedisAddrs) > 0 {
		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    d.config.RedisAddrs,
			Password: d.config.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := r.Ping(pingCtx).Err(); err != nil {
			d.logger.Error("Error in Connection to redis, send limits disabled", zap.Error(err))
			r.Close()
		} else {
			limiter = NewRateLimiter(r, "messages", Rule{Limit: d.config.SendLimit, RefillRate: d.config.SendRefillRate}, d.logger)
		}
	}
	ms := NewMessagesService(messagerepo.NewPostgresRepo(router, d.logger), d.users, auth, limiter, d.config, d.logger)

	errs := make(chan error, 2)
	go func() { errs <- ms.StartHTTP() }()
	go func() { errs <- ms.StartGRPC() }()
	if d.config.EtcdEndpoints != "" {
		if err := ms.register(); err != nil {
			ms.close()
			return err
		}
	}

	select {
	case <-ctx.Done():
		d.logger.Info("Shutting down")
	case err = <-errs:
		d.logger.Error("Server stopped", zap.Error(err))
	}
	ms.close()
	return err
}
