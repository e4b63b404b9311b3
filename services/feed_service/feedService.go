package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alimx07/Social_Feed_Backend/services/feed_service/live"
	"github.com/alimx07/Social_Feed_Backend/services/feed_service/models"
	"github.com/alimx07/Social_Feed_Backend/services/feed_service/pipeline"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	etcd "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const serviceName = "feed_service"

type feedReader interface {
	ReadFeed(ctx context.Context, userId int64, offset, limit int) ([]models.FeedEntry, error)
	AuthorNews(ctx context.Context, authorId int64, offset, limit int) ([]models.Event, error)
}

type feedService struct {
	ctx    context.Context
	cancel context.CancelFunc
	config models.AppConfig
	logger *zap.Logger

	reader   feedReader
	bridge   *live.Bridge
	auth     *tokenValidator
	upgrader websocket.Upgrader

	consumers []*pipeline.Consumer
	wg        sync.WaitGroup

	router       *http.ServeMux
	httpServer   *http.Server
	grpcServer   *grpc.Server
	healthServer *health.Server
	serviceOFF   atomic.Bool
	etcdClient   *etcd.Client
	// time given to the gateway to notice the instance is going away
	drainWait time.Duration
}

func NewFeedService(config models.AppConfig, reader feedReader, bridge *live.Bridge, auth *tokenValidator, logger *zap.Logger) *feedService {
	ctx, cancel := context.WithCancel(context.Background())
	fs := &feedService{
		ctx:          ctx,
		cancel:       cancel,
		config:       config,
		logger:       logger,
		reader:       reader,
		bridge:       bridge,
		auth:         auth,
		router:       http.NewServeMux(),
		healthServer: health.NewServer(),
		drainWait:    5 * time.Second,
	}
	fs.addRoutes()
	return fs
}

func (fs *feedService) addRoutes() {
	fs.router.HandleFunc("GET /news/feed/{$}", fs.handleFeed)
	fs.router.HandleFunc("GET /news/ws", fs.handleWS)
	fs.router.HandleFunc("GET /news/{user_id}/{$}", fs.handleAuthorNews)

	fs.router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if fs.serviceOFF.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status": "down", "service": "feed_service"}`))
		} else {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status": "ok", "service": "feed_service"}`))
		}
	})
}

// runConsumers starts one consumer per stage; they stop when the service closes.
func (fs *feedService) runConsumers(consumers ...*pipeline.Consumer) {
	for _, c := range consumers {
		fs.consumers = append(fs.consumers, c)
		fs.wg.Add(1)
		go func() {
			defer fs.wg.Done()
			c.Run(fs.ctx)
		}()
	}
}

func (fs *feedService) StartHTTP() error {
	server := &http.Server{
		Addr:              net.JoinHostPort(fs.config.Server.ServerHost, fs.config.Server.ServerHTTPPort),
		Handler:           fs.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	fs.logger.Info("FeedService HTTP starting", zap.String("addr", server.Addr))
	fs.httpServer = server
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartGRPC serves the standard health service only.
func (fs *feedService) StartGRPC() error {
	listener, err := net.Listen("tcp", net.JoinHostPort(fs.config.Server.ServerHost, fs.config.Server.ServerPort))
	if err != nil {
		return err
	}
	fs.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(fs.grpcServer, fs.healthServer)
	fs.healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	fs.logger.Info("FeedService gRPC starting", zap.String("addr", listener.Addr().String()))
	return fs.grpcServer.Serve(listener)
}

// register announces the instance in etcd under a lease that dies with it.
func (fs *feedService) register() error {
	etcdClient, err := etcd.New(etcd.Config{
		Endpoints:   strings.Split(fs.config.Server.EtcdEndpoints, ","),
		DialTimeout: 5 * time.Second,
		Logger:      fs.logger.Named("etcd"),
	})
	if err != nil {
		fs.logger.Error("Error in Register instance of FeedService", zap.Error(err))
		return err
	}
	fs.etcdClient = etcdClient
	lease, err := etcdClient.Grant(fs.ctx, 5)
	if err != nil {
		fs.logger.Error("Error in Creating Lease to instance of FeedService", zap.Error(err))
		return err
	}
	key := fmt.Sprintf("/services/%s/%v", serviceName, uuid.New())
	addr := net.JoinHostPort(fs.config.Server.HostName, fs.config.Server.ServerHTTPPort)
	if _, err := etcdClient.Put(fs.ctx, key, addr, etcd.WithLease(lease.ID)); err != nil {
		return err
	}
	ch, err := etcdClient.KeepAlive(fs.ctx, lease.ID)
	if err != nil {
		return err
	}
	go func() {
		for range ch {
		}
	}()
	return nil
}

func (fs *feedService) handleFeed(w http.ResponseWriter, r *http.Request) {
	userId, err := fs.auth.userFromRequest(r)
	if err != nil {
		fs.writeError(w, err)
		return
	}
	offset, size, err := pagination(r.URL.Query(), fs.config.Server.PageLimit)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	feed, err := fs.reader.ReadFeed(r.Context(), userId, offset, size)
	if err != nil {
		fs.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

func (fs *feedService) handleAuthorNews(w http.ResponseWriter, r *http.Request) {
	authorId, err := strconv.ParseInt(r.PathValue("user_id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user id"})
		return
	}
	offset, size, err := pagination(r.URL.Query(), fs.config.Server.PageLimit)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	news, err := fs.reader.AuthorNews(r.Context(), authorId, offset, size)
	if err != nil {
		fs.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, news)
}

func (fs *feedService) handleWS(w http.ResponseWriter, r *http.Request) {
	userId, err := fs.auth.userFromRequest(r)
	if err != nil {
		fs.writeError(w, err)
		return
	}
	ws, err := fs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client
		return
	}
	if err := live.Serve(fs.ctx, fs.bridge, userId, ws); err != nil {
		fs.logger.Debug("Live connection ended", zap.Int64("user_id", userId), zap.Error(err))
	}
}

func (fs *feedService) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrTransientStore):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		fs.logger.Error("Request failed", zap.Error(err))
		writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (fs *feedService) close() {
	// mark service as OFF
	fs.serviceOFF.Store(true)
	fs.healthServer.Shutdown()
	if fs.etcdClient != nil {
		fs.etcdClient.Close()
	}

	// wait until deregistration reaches the load balancers
	time.Sleep(fs.drainWait)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if fs.httpServer != nil {
		if err := fs.httpServer.Shutdown(ctx); err != nil {
			fs.logger.Error("Error in Closing httpServer", zap.Error(err))
		}
	}
	// websockets are hijacked, Shutdown does not wait for them
	fs.bridge.Close()
	if fs.grpcServer != nil {
		fs.grpcServer.GracefulStop()
	}

	// an interrupted message stays uncommitted and is redelivered
	fs.cancel()
	fs.wg.Wait()
	for _, c := range fs.consumers {
		if err := c.Close(); err != nil {
			fs.logger.Error("Error in Closing consumer", zap.Error(err))
		}
	}
	fs.logger.Info("FeedService closed")
}
