package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"swapsettle/observability"
	"swapsettle/settle"
	"swapsettle/storage"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB

	requestsPerMinute = 120
	requestBurst      = 20
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeNotFound       = -32004
	codeRateLimited    = -32020
	codePolicyDenied   = -32030
	codeSettleFailed   = -32031
)

// Server exposes the settlement engine over JSON-RPC 2.0.
type Server struct {
	engine  *settle.Engine
	policy  *settle.PolicyStore
	records *storage.SettlementStore
	logger  *slog.Logger
	secret  []byte
	metrics *observability.RPCMetrics

	mu       sync.Mutex
	visitors map[string]*rate.Limiter
}

// NewServer wires the RPC surface. A nil secret disables the privileged
// methods entirely.
func NewServer(engine *settle.Engine, policy *settle.PolicyStore, records *storage.SettlementStore, secret []byte, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:   engine,
		policy:   policy,
		records:  records,
		logger:   logger,
		secret:   secret,
		metrics:  observability.RPC(),
		visitors: make(map[string]*rate.Limiter),
	}
}

// Router builds the HTTP mux: the RPC endpoint plus health and metrics.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/rpc", s.handle)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	requestID := uuid.NewString()
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-Id", requestID)

	source := clientSource(r)
	if !s.allowSource(source) {
		s.metrics.RecordThrottle()
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "too many requests", nil)
		return
	}

	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	rpcErr := s.dispatch(w, r, req)
	code := 0
	if rpcErr != nil {
		code = rpcErr.Code
	}
	s.metrics.Observe(req.Method, code, time.Since(started))
	s.logger.Debug("rpc request",
		"request_id", requestID,
		"method", req.Method,
		"source", source,
		"code", code,
		"duration", time.Since(started).String(),
	)
}

// dispatch routes the request and returns the error it wrote, if any, so the
// caller can record metrics.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) *RPCError {
	switch req.Method {
	case "settle_execute":
		caller, authErr := s.requireAuth(r)
		if authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return authErr
		}
		return s.handleSettleExecute(w, req, caller)
	case "settle_get":
		return s.handleSettleGet(w, req)
	case "settle_list":
		return s.handleSettleList(w, req)
	case "settle_collectFees":
		caller, authErr := s.requireAuth(r)
		if authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return authErr
		}
		return s.handleCollectFees(w, req, caller)
	case "policy_get":
		return s.handlePolicyGet(w, req)
	case "policy_setFeeBounds", "policy_setShareLimits", "policy_setGasStipend",
		"policy_setTreasury", "policy_setFoldPartnerShare":
		caller, authErr := s.requireAuth(r)
		if authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return authErr
		}
		return s.handlePolicyMutation(w, req, caller)
	default:
		rpcErr := &RPCError{Code: codeMethodNotFound, Message: fmt.Sprintf("method %s not found", req.Method)}
		writeError(w, http.StatusNotFound, req.ID, rpcErr.Code, rpcErr.Message, nil)
		return rpcErr
	}
}

func (s *Server) allowSource(source string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.visitors[source]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(requestsPerMinute)/60, requestBurst)
		s.visitors[source] = limiter
	}
	return limiter.Allow()
}

func clientSource(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			candidate := strings.TrimSpace(parts[0])
			if candidate != "" {
				return candidate
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
