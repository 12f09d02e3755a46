// Package web реализует HTTP-мост для режима dev-сервера: вызовы команд через
// POST /v1/invoke и поток событий через SSE.
package web

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
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

	"devstash/internal/core"
	"devstash/internal/transports/common"
)

type contextKey string

const (
	ctxRequestID contextKey = "request_id"
	ctxSubjectID contextKey = "subject_id"
)

const sseHeartbeatInterval = 15 * time.Second

// Config определяет параметры HTTP-транспорта.
type Config struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	MaxRequestBody  int64
	// TokenSHA256 hex sha256 допустимых bearer-токенов; пусто = без аутентификации.
	TokenSHA256        []string
	CORSAllowedOrigins []string
	CORSAllowedMethods []string
	CORSAllowedHeaders []string
}

// Adapter реализует web transport поверх chi.
type Adapter struct {
	svc    *common.Service
	events *core.EventHub
	cfg    Config
	logger *slog.Logger

	tokens      map[string]struct{}
	corsOrigins map[string]struct{}

	mu     sync.Mutex
	server *http.Server
	addr   net.Addr
	done   chan error
}

// NewAdapter создает web transport.
func NewAdapter(svc *common.Service, events *core.EventHub, cfg Config, logger *slog.Logger) *Adapter {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:1430"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 2 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.MaxRequestBody <= 0 {
		cfg.MaxRequestBody = 8 << 20
	}
	if len(cfg.CORSAllowedMethods) == 0 {
		cfg.CORSAllowedMethods = []string{"GET", "POST", "OPTIONS"}
	}
	if len(cfg.CORSAllowedHeaders) == 0 {
		cfg.CORSAllowedHeaders = []string{"Authorization", "Content-Type", "X-Request-ID"}
	}
	if logger == nil {
		logger = slog.Default()
	}

	tokens := make(map[string]struct{}, len(cfg.TokenSHA256))
	for _, h := range cfg.TokenSHA256 {
		h = strings.ToLower(strings.TrimSpace(h))
		if len(h) != 64 {
			continue
		}
		tokens[h] = struct{}{}
	}

	corsOrigins := make(map[string]struct{}, len(cfg.CORSAllowedOrigins))
	for _, origin := range cfg.CORSAllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		corsOrigins[trimmed] = struct{}{}
	}

	return &Adapter{
		svc:         svc,
		events:      events,
		cfg:         cfg,
		logger:      logger,
		tokens:      tokens,
		corsOrigins: corsOrigins,
		done:        make(chan error, 1),
	}
}

func (a *Adapter) Name() string { return "web" }

// Done получает ошибку, если HTTP server упал во время работы.
func (a *Adapter) Done() <-chan error { return a.done }

// Addr возвращает фактический адрес после Start.
func (a *Adapter) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// Start открывает listener синхронно и обслуживает запросы в фоне.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		return errors.New("web transport already started")
	}
	ln, err := net.Listen("tcp", a.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.ListenAddr, err)
	}
	srv := &http.Server{
		Handler:           a.routes(),
		ReadHeaderTimeout: a.cfg.ReadTimeout,
		ReadTimeout:       a.cfg.ReadTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	a.server = srv
	a.addr = ln.Addr()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("web transport failed", "err", err)
			a.done <- err
		}
	}()
	a.logger.Info("web transport listening", "addr", ln.Addr().String())
	return nil
}

// Stop завершает HTTP server.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	srv := a.server
	a.server = nil
	a.mu.Unlock()
	if srv == nil {
		return nil
	}
	stopCtx, cancel := context.WithTimeout(ctx, a.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(stopCtx); err != nil {
		// SSE-клиенты держат соединения до закрытия
		return srv.Close()
	}
	return nil
}

func (a *Adapter) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(a.requestIDMiddleware, a.corsMiddleware)

	r.Get("/v1/health", a.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(a.authMiddleware)
		r.Get("/v1/commands", a.handleCommands)
		r.Get("/v1/events", a.handleEvents)
		r.With(a.timeoutMiddleware, a.maxBodyMiddleware).Post("/v1/invoke", a.handleInvoke)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, &core.Error{Kind: core.KindInvalidRequest, Message: "route not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, &core.Error{Kind: core.KindInvalidRequest, Message: "method not allowed"})
	})
	return r
}

func (a *Adapter) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := sanitizeRequestID(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), ctxRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Adapter) corsMiddleware(next http.Handler) http.Handler {
	allowMethods := strings.Join(a.cfg.CORSAllowedMethods, ", ")
	allowHeaders := strings.Join(a.cfg.CORSAllowedHeaders, ", ")

	isMethodAllowed := func(method string) bool {
		for _, m := range a.cfg.CORSAllowedMethods {
			if strings.EqualFold(strings.TrimSpace(m), method) {
				return true
			}
		}
		return false
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}
		if _, ok := a.corsOrigins[origin]; !ok {
			writeError(w, r, http.StatusForbidden, core.Forbidden("cors policy denied request"))
			return
		}

		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", allowMethods)
		w.Header().Set("Access-Control-Allow-Headers", allowHeaders)
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")

		if r.Method == http.MethodOptions {
			preflightMethod := strings.TrimSpace(r.Header.Get("Access-Control-Request-Method"))
			if preflightMethod != "" && !isMethodAllowed(preflightMethod) {
				writeError(w, r, http.StatusForbidden, core.Forbidden("cors policy denied request"))
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware без настроенных токенов идентифицирует клиента по адресу.
func (a *Adapter) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subjectID := clientHost(r.RemoteAddr)
		if len(a.tokens) > 0 {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, r, http.StatusUnauthorized, core.Forbidden("authentication is required"))
				return
			}
			sum := sha256.Sum256([]byte(token))
			hash := hex.EncodeToString(sum[:])
			if _, ok := a.tokens[hash]; !ok {
				writeError(w, r, http.StatusUnauthorized, core.Forbidden("token is invalid"))
				return
			}
			subjectID = "token:" + hash[:12]
		}
		ctx := context.WithValue(r.Context(), ctxSubjectID, subjectID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Adapter) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), a.cfg.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Adapter) maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, a.cfg.MaxRequestBody)
		next.ServeHTTP(w, r)
	})
}

func (a *Adapter) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *Adapter) handleCommands(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"request_id": requestIDFromContext(r.Context()),
		"items":      a.svc.Bridge.Commands(),
	})
}

func (a *Adapter) handleInvoke(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, &core.Error{Kind: core.KindInvalidRequest, Message: "request payload is too large"})
			return
		}
		writeError(w, r, http.StatusBadRequest, &core.Error{Kind: core.KindInvalidRequest, Message: "read request body failed"})
		return
	}

	inv, decodeErr := common.DecodeInvocation(body)
	if inv.ID == "" {
		inv.ID = requestIDFromContext(r.Context())
	}
	if decodeErr != nil {
		writeResponse(w, core.Response{ID: inv.ID, Err: decodeErr})
		return
	}

	ctx := r.Context()
	resp := a.svc.Invoke(ctx, subjectIDFromContext(ctx), inv)
	if resp.Err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		writeJSON(w, http.StatusGatewayTimeout, core.Response{ID: inv.ID, Err: &core.Error{Kind: core.KindInternal, Message: "request timeout"}})
		return
	}
	writeResponse(w, resp)
}

// handleEvents отдает события event hub в формате SSE.
func (a *Adapter) handleEvents(w http.ResponseWriter, r *http.Request) {
	if a.events == nil {
		writeError(w, r, http.StatusNotFound, &core.Error{Kind: core.KindInvalidRequest, Message: "events are not available"})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, &core.Error{Kind: core.KindInternal, Message: "streaming is not supported"})
		return
	}
	// поток живет дольше WriteTimeout сервера
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	ch, unsubscribe := a.events.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev.Payload)
			if err != nil {
				a.logger.Warn("sse marshal failed", "event", ev.Name, "err", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// StatusFor отображает вид ошибки на HTTP-статус.
func StatusFor(err *core.Error) int {
	if err == nil {
		return http.StatusOK
	}
	switch err.Kind {
	case core.KindInvalidRequest, core.KindInvalidArguments:
		return http.StatusBadRequest
	case core.KindForbidden:
		return http.StatusForbidden
	case core.KindUnknownCommand:
		return http.StatusNotFound
	case core.KindRateLimited:
		return http.StatusTooManyRequests
	case core.KindHandlerError:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeResponse(w http.ResponseWriter, resp core.Response) {
	writeJSON(w, StatusFor(resp.Err), resp)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, err *core.Error) {
	writeJSON(w, statusCode, core.Response{ID: requestIDFromContext(r.Context()), Err: err})
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

func requestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxRequestID).(string)
	return v
}

func subjectIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxSubjectID).(string)
	return v
}

func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}

func clientHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func sanitizeRequestID(v string) string {
	id := strings.TrimSpace(v)
	if id == "" || len(id) > 64 {
		return ""
	}
	for _, ch := range id {
		if (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') {
			continue
		}
		switch ch {
		case '-', '_', '.', ':':
			continue
		default:
			return ""
		}
	}
	return id
}
