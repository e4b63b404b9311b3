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
	"sync/atomic"
	"time"

	messagerepo "github.com/alimx07/Social_Feed_Backend/services/messages_service/messageRepo"
	"github.com/alimx07/Social_Feed_Backend/services/messages_service/models"
	shardrepo "github.com/alimx07/Social_Feed_Backend/services/messages_service/shardRepo"
	"github.com/google/uuid"
	etcd "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	serviceName    = "messages_service"
	maxMessageSize = 4096
)

type userChecker interface {
	Exists(ctx context.Context, id int64) error
}

type messagesService struct {
	ctx      context.Context
	cancel   context.CancelFunc
	messages messagerepo.MessageRepo
	users    userChecker
	auth     *tokenValidator
	limiter  *RateLimiter
	config   models.Config
	logger   *zap.Logger

	router       *http.ServeMux
	httpServer   *http.Server
	grpcServer   *grpc.Server
	healthServer *health.Server
	serviceOFF   atomic.Bool
	etcdClient   *etcd.Client
	drainWait    time.Duration
}

// NewMessagesService wires the routes; a nil limiter disables send limits.
func NewMessagesService(messages messagerepo.MessageRepo, users userChecker, auth *tokenValidator,
	limiter *RateLimiter, config models.Config, logger *zap.Logger) *messagesService {
	ctx, cancel := context.WithCancel(context.Background())
	ms := &messagesService{
		ctx:          ctx,
		cancel:       cancel,
		messages:     messages,
		users:        users,
		auth:         auth,
		limiter:      limiter,
		config:       config,
		logger:       logger,
		router:       http.NewServeMux(),
		healthServer: health.NewServer(),
		drainWait:    5 * time.Second,
	}
	create := ms.handleCreate
	if limiter != nil {
		create = limiter.limit(create)
	}
	ms.router.HandleFunc("POST /messages/{$}", auth.authorize(create))
	ms.router.HandleFunc("GET /messages/{$}", auth.authorize(ms.handleList))
	ms.router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if ms.serviceOFF.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status": "down", "service": "messages_service"}`))
		} else {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status": "ok", "service": "messages_service"}`))
		}
	})
	return ms
}

type createMessageRequest struct {
	ToUserId int64  `json:"to_user_id"`
	Text     string `json:"text"`
}

func (ms *messagesService) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createMessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 2*maxMessageSize)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.ToUserId <= 0 || req.Text == "" || len(req.Text) > maxMessageSize {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "to_user_id and text are required"})
		return
	}
	if err := ms.users.Exists(r.Context(), req.ToUserId); err != nil {
		ms.writeError(w, err)
		return
	}
	from := callerID(r.Context())
	msg, err := ms.messages.Create(r.Context(), models.ChatKey(from, req.ToUserId), from, req.Text)
	if err != nil {
		ms.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (ms *messagesService) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	to, err := strconv.ParseInt(q.Get("to_user_id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid to_user_id"})
		return
	}
	var after float64
	if v := q.Get("after_timestamp"); v != "" {
		if after, err = strconv.ParseFloat(v, 64); err != nil || after < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid after_timestamp"})
			return
		}
	}
	offset, size, err := pagination(q, ms.config.PageLimit)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	msgs, err := ms.messages.List(r.Context(), models.ChatKey(callerID(r.Context()), to), after, size, offset)
	if err != nil {
		ms.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (ms *messagesService) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case shardrepo.IsShardError(err), errors.Is(err, models.ErrTransientStore):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "messages are temporarily unavailable"})
	default:
		ms.logger.Error("Request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (ms *messagesService) StartHTTP() error {
	server := &http.Server{
		Addr:              net.JoinHostPort(ms.config.ServerHost, ms.config.ServerHttpPort),
		Handler:           ms.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	ms.logger.Info("MessagesService HTTP starting", zap.String("addr", server.Addr))
	ms.httpServer = server
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (ms *messagesService) StartGRPC() error {
	listener, err := net.Listen("tcp", net.JoinHostPort(ms.config.ServerHost, ms.config.ServerPort))
	if err != nil {
		return err
	}
	ms.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(ms.grpcServer, ms.healthServer)
	ms.healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	return ms.grpcServer.Serve(listener)
}

func (ms *messagesService) register() error {
	etcdClient, err := etcd.New(etcd.Config{
		Endpoints:   strings.Split(ms.config.EtcdEndpoints, ","),
		DialTimeout: 5 * time.Second,
		Logger:      ms.logger.Named("etcd"),
	})
	if err != nil {
		ms.logger.Error("Error in Register instance of MessagesService", zap.Error(err))
		return err
	}
	ms.etcdClient = etcdClient
	lease, err := etcdClient.Grant(ms.ctx, 5)
	if err != nil {
		ms.logger.Error("Error in Creating Lease to instance of MessagesService", zap.Error(err))
		return err
	}
	key := fmt.Sprintf("/services/%s/%v", serviceName, uuid.New())
	addr := net.JoinHostPort(ms.config.HostName, ms.config.ServerHttpPort)
	if _, err := etcdClient.Put(ms.ctx, key, addr, etcd.WithLease(lease.ID)); err != nil {
		return err
	}
	ch, err := etcdClient.KeepAlive(ms.ctx, lease.ID)
	if err != nil {
		return err
	}
	go func() {
		for range ch {
		}
	}()
	return nil
}

func (ms *messagesService) close() {
	// mark service as OFF
	ms.serviceOFF.Store(true)
	ms.healthServer.Shutdown()
	ms.cancel()
	if ms.etcdClient != nil {
		ms.etcdClient.Close()
	}

	// wait until deregistration reaches the load balancers
	time.Sleep(ms.drainWait)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if ms.httpServer != nil {
		if err := ms.httpServer.Shutdown(ctx); err != nil {
			ms.logger.Error("Error in Closing httpServer", zap.Error(err))
		}
	}
	if ms.grpcServer != nil {
		ms.grpcServer.GracefulStop()
	}
	if ms.limiter != nil {
		ms.limiter.close()
	}
	ms.logger.Info("MessagesService closed")
}
