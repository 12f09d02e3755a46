package web

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"devstash/internal/core"
	"devstash/internal/transports/common"
)

type nameArgs struct {
	Name string `json:"name"`
}

func newTestAdapter(t *testing.T, perms map[string][]string, limiter *common.RateLimiter, cfg Config) (*Adapter, *core.EventHub) {
	t.Helper()
	reg := core.NewRegistry()
	handlers := map[string]core.Handler{
		"greet": core.Sync(func(ctx context.Context, a nameArgs) (string, error) {
			return "Hello, " + a.Name + "!", nil
		}),
		"fail": core.Sync(func(ctx context.Context, _ struct{}) (interface{}, error) {
			return nil, context.Canceled
		}),
		"panic": core.Sync(func(ctx context.Context, _ struct{}) (interface{}, error) {
			panic("boom")
		}),
		"block": core.Async(func(ctx context.Context, _ struct{}) (interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
		"secret": core.Sync(func(ctx context.Context, _ struct{}) (string, error) {
			return "s", nil
		}),
	}
	for name, h := range handlers {
		if err := reg.Register(name, h); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	reg.Seal()
	if perms == nil {
		perms = map[string][]string{"web": {"greet", "fail", "panic", "block"}}
	}
	authz, err := core.NewPermissionSet(perms)
	if err != nil {
		t.Fatalf("permissions: %v", err)
	}
	if cfg.CORSAllowedOrigins == nil {
		cfg.CORSAllowedOrigins = []string{"http://localhost:1420"}
	}
	events := core.NewEventHub(8)
	svc := &common.Service{Source: "web", Bridge: core.NewBridge(reg), Authorizer: authz, RateLimiter: limiter}
	return NewAdapter(svc, events, cfg, nil), events
}

func invoke(t *testing.T, h http.Handler, body string, headers map[string]string) (*httptest.ResponseRecorder, core.Response) {
	t.Helper()
	rr, resp, err := doInvoke(h, body, headers)
	if err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return rr, resp
}

func doInvoke(h http.Handler, body string, headers map[string]string) (*httptest.ResponseRecorder, core.Response, error) {
	req := httptest.NewRequest(http.MethodPost, "/v1/invoke", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var resp core.Response
	err := json.Unmarshal(rr.Body.Bytes(), &resp)
	return rr, resp, err
}

func TestHealthEndpoint(t *testing.T) {
	adapter, _ := newTestAdapter(t, nil, nil, Config{})
	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rr := httptest.NewRecorder()
	adapter.routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header")
	}
}

func TestInvokeUsesRequestIDWhenBodyHasNone(t *testing.T) {
	adapter, _ := newTestAdapter(t, nil, nil, Config{})
	rr, resp := invoke(t, adapter.routes(), `{"command":"greet","args":{"name":"Ada"}}`, map[string]string{"X-Request-ID": "abc-123"})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Fatalf("expected request id header abc-123, got %q", got)
	}
	if resp.ID != "abc-123" || resp.OK != "Hello, Ada!" {
		t.Fatalf("unexpected response: %#v", resp)
	}

	_, resp = invoke(t, adapter.routes(), `{"id":"own","command":"greet","args":{"name":""}}`, nil)
	if resp.ID != "own" || resp.OK != "Hello, !" {
		t.Fatalf("body id must win: %#v", resp)
	}
}

func TestInvalidRequestIDGetsReplaced(t *testing.T) {
	adapter, _ := newTestAdapter(t, nil, nil, Config{})
	rr, _ := invoke(t, adapter.routes(), `{"command":"greet","args":{"name":"x"}}`, map[string]string{"X-Request-ID": "bad id with spaces"})
	if got := rr.Header().Get("X-Request-ID"); got == "" || got == "bad id with spaces" {
		t.Fatalf("expected sanitized generated request id, got %q", got)
	}
}

func TestInvokeBodyTooLarge(t *testing.T) {
	adapter, _ := newTestAdapter(t, nil, nil, Config{MaxRequestBody: 16})
	rr, resp := invoke(t, adapter.routes(), `{"command":"greet","args":{"name":"a long name"}}`, nil)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413, got %d", rr.Code)
	}
	if resp.Err == nil || resp.Err.Kind != core.KindInvalidRequest {
		t.Fatalf("unexpected error: %#v", resp.Err)
	}
}

func TestInvokeTimeout(t *testing.T) {
	adapter, _ := newTestAdapter(t, nil, nil, Config{RequestTimeout: 30 * time.Millisecond})
	rr, resp := invoke(t, adapter.routes(), `{"id":"b","command":"block"}`, nil)
	if rr.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected status 504, got %d", rr.Code)
	}
	if resp.ID != "b" || resp.Err == nil {
		t.Fatalf("unexpected response: %#v", resp)
	}
}

func TestBearerTokens(t *testing.T) {
	sum := sha256.Sum256([]byte("s3cret"))
	adapter, _ := newTestAdapter(t, nil, nil, Config{TokenSHA256: []string{hex.EncodeToString(sum[:])}})
	h := adapter.routes()

	rr, _ := invoke(t, h, `{"command":"greet","args":{"name":"x"}}`, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
	rr, _ = invoke(t, h, `{"command":"greet","args":{"name":"x"}}`, map[string]string{"Authorization": "Bearer wrong"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", rr.Code)
	}
	rr, _ = invoke(t, h, `{"command":"greet","args":{"name":"x"}}`, map[string]string{"Authorization": "Bearer s3cret"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	hr := httptest.NewRecorder()
	h.ServeHTTP(hr, req)
	if hr.Code != http.StatusOK {
		t.Fatalf("health must stay public, got %d", hr.Code)
	}
}

func TestCORS(t *testing.T) {
	adapter, _ := newTestAdapter(t, nil, nil, Config{})
	h := adapter.routes()

	req := httptest.NewRequest(http.MethodOptions, "/v1/invoke", nil)
	req.Header.Set("Origin", "http://localhost:1420")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "http://localhost:1420" {
		t.Fatalf("missing allow origin header")
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("foreign origin status = %d", rr.Code)
	}
}

func TestCommandsEndpoint(t *testing.T) {
	adapter, _ := newTestAdapter(t, nil, nil, Config{})
	req := httptest.NewRequest(http.MethodGet, "/v1/commands", nil)
	rr := httptest.NewRecorder()
	adapter.routes().ServeHTTP(rr, req)
	var body struct {
		Items []string `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if strings.Join(body.Items, ",") != "block,fail,greet,panic,secret" {
		t.Fatalf("items = %v", body.Items)
	}
}

func TestEventsStream(t *testing.T) {
	adapter, events := newTestAdapter(t, nil, nil, Config{})
	srv := httptest.NewServer(adapter.routes())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/events", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	// подписка создается до отправки заголовков
	events.Emit("fs://change", map[string]string{"path": "a.md"})

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 2 {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if lines[0] != "event: fs://change" || lines[1] != `data: {"path":"a.md"}` {
		t.Fatalf("unexpected sse frame: %v", lines)
	}
}

func TestStartStop(t *testing.T) {
	adapter, _ := newTestAdapter(t, nil, nil, Config{ListenAddr: "127.0.0.1:0"})
	if err := adapter.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	resp, err := http.Get("http://" + adapter.Addr().String() + "/v1/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if err := adapter.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case err := <-adapter.Done():
		t.Fatalf("clean stop must not report failure: %v", err)
	default:
	}
}

func TestStartFailsOnBusyPort(t *testing.T) {
	first, _ := newTestAdapter(t, nil, nil, Config{ListenAddr: "127.0.0.1:0"})
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = first.Stop(context.Background()) }()

	second, _ := newTestAdapter(t, nil, nil, Config{ListenAddr: first.Addr().String()})
	if err := second.Start(context.Background()); err == nil {
		t.Fatal("expected listen error")
	}
}
