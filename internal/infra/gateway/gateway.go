// Package gateway exposes the HTTP boundary: chat, thread CRUD, and the
// administrative server registry. Authentication happens upstream; the
// gateway trusts the X-Identity header as an opaque principal.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"mcpgate/internal/domain"
	"mcpgate/internal/infra/pool"
	"mcpgate/internal/infra/registry"
	"mcpgate/internal/infra/store"
)

const identityHeader = "X-Identity"

// ChatService runs one orchestrated chat request.
type ChatService interface {
	Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResult, error)
}

type Options struct {
	Addr     string
	Chat     ChatService
	Registry *registry.Registry
	Pool     *pool.Pool
	Store    *store.Store
	Logger   *zap.Logger
}

type Server struct {
	addr     string
	chat     ChatService
	registry *registry.Registry
	pool     *pool.Pool
	store    *store.Store
	logger   *zap.Logger
}

func New(opts Options) (*Server, error) {
	if opts.Chat == nil {
		return nil, errors.New("gateway: chat service is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("gateway: registry is required")
	}
	if opts.Pool == nil {
		return nil, errors.New("gateway: pool is required")
	}
	if opts.Store == nil {
		return nil, errors.New("gateway: store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	addr := opts.Addr
	if addr == "" {
		addr = domain.DefaultListenAddress
	}
	return &Server{
		addr:     addr,
		chat:     opts.Chat,
		registry: opts.Registry,
		pool:     opts.Pool,
		store:    opts.Store,
		logger:   logger.Named("gateway"),
	}, nil
}

// Handler builds the route table. Split out from Serve so tests can drive it
// through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /v1/chat", s.withIdentity(s.handleChat))
	mux.HandleFunc("GET /v1/threads", s.withIdentity(s.handleListThreads))
	mux.HandleFunc("POST /v1/threads", s.withIdentity(s.handleCreateThread))
	mux.HandleFunc("GET /v1/threads/{id}", s.withIdentity(s.handleGetThread))
	mux.HandleFunc("PATCH /v1/threads/{id}", s.withIdentity(s.handleUpdateThread))
	mux.HandleFunc("DELETE /v1/threads/{id}", s.withIdentity(s.handleDeleteThread))
	mux.HandleFunc("POST /v1/threads/{id}/messages", s.withIdentity(s.handleAppendMessage))

	mux.HandleFunc("GET /v1/servers", s.handleListServers)
	mux.HandleFunc("POST /v1/servers", s.handleAddServer)
	mux.HandleFunc("DELETE /v1/servers/{id}", s.handleRemoveServer)
	mux.HandleFunc("GET /v1/servers/{id}/tools", s.withIdentity(s.handleServerTools))
	mux.HandleFunc("POST /v1/servers/{id}/tools/{tool}", s.withIdentity(s.handleInvokeTool))

	return mux
}

// Serve blocks until ctx is cancelled, then drains with a short grace period.
func (s *Server) Serve(ctx context.Context) error {
	server := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("gateway failed to start: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("gateway shutdown error", zap.Error(err))
			return err
		}
		s.logger.Info("gateway stopped")
		return nil
	}
}

type identityHandler func(w http.ResponseWriter, r *http.Request, identity string)

func (s *Server) withIdentity(next identityHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := r.Header.Get(identityHeader)
		if identity == "" {
			s.writeError(w, domain.E(domain.CodeInvalidArgument, "",
				"missing "+identityHeader+" header", nil))
			return
		}
		next(w, r, identity)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("response encode failed", zap.Error(err))
	}
}

// errorBody keeps the failed-chat contract: result is present and null so
// clients can treat every response uniformly.
type errorBody struct {
	Result *string `json:"result"`
	Error  string  `json:"error"`
	Code   string  `json:"code,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code, _ := domain.CodeFrom(err)
	s.writeJSON(w, statusForCode(code), errorBody{
		Error: err.Error(),
		Code:  string(code),
	})
}

func statusForCode(code domain.ErrorCode) int {
	switch code {
	case domain.CodeInvalidArgument:
		return http.StatusBadRequest
	case domain.CodeForbidden:
		return http.StatusForbidden
	case domain.CodeNotFound, domain.CodeUnknownTool:
		return http.StatusNotFound
	case domain.CodeConnectFailed, domain.CodeNotReady,
		domain.CodeUpstreamUnavailable, domain.CodeModelUnavailable:
		return http.StatusBadGateway
	case domain.CodeDeadlineExceeded:
		return http.StatusGatewayTimeout
	case domain.CodeCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
