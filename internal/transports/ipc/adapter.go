// Package ipc реализует транспорт web-view хоста: одна JSON-строка на вызов,
// ответ и событие.
package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"devstash/internal/core"
	"devstash/internal/transports/common"
)

const (
	// SubjectID единственный клиент ipc-канала.
	SubjectID = "webview"

	maxLineBytes = 16 << 20
)

// Adapter читает вызовы из in и пишет ответы и события в out.
type Adapter struct {
	svc    *common.Service
	events *core.EventHub
	in     io.Reader
	out    io.Writer
	logger *slog.Logger

	writeMu sync.Mutex
	enc     *json.Encoder
	closed  bool

	mu          sync.Mutex
	started     bool
	cancel      context.CancelFunc
	unsubscribe func()
	done        chan error
	finishOnce  sync.Once

	// вызовы, ответ на которые еще не записан
	flightMu sync.Mutex
	flight   int
	idle     chan struct{}
}

// NewAdapter создает ipc-транспорт. events может быть nil.
func NewAdapter(svc *common.Service, events *core.EventHub, in io.Reader, out io.Writer, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		svc:    svc,
		events: events,
		in:     in,
		out:    out,
		logger: logger,
		enc:    json.NewEncoder(out),
		done:   make(chan error, 1),
	}
}

func (a *Adapter) Name() string { return "ipc" }

// Done получает nil после EOF входного потока или ошибку чтения.
func (a *Adapter) Done() <-chan error { return a.done }

// Start запускает чтение вызовов и пересылку событий.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return errors.New("ipc transport already started")
	}
	a.started = true

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	if a.events != nil {
		ch, unsubscribe := a.events.Subscribe()
		a.unsubscribe = unsubscribe
		go a.forwardEvents(ch)
	}
	go a.readLoop(ctx)
	return nil
}

// Stop дожидается ответов на начатые вызовы (в пределах ctx) и прекращает
// запись в out. Блокирующее чтение из in не прерывается: его завершит
// закрытие потока хостом.
func (a *Adapter) Stop(ctx context.Context) error {
	if err := a.drain(ctx); err != nil {
		a.logger.Warn("ipc stop before in-flight invocations finished", "pending", a.pending(), "err", err)
	}

	a.mu.Lock()
	cancel, unsubscribe := a.cancel, a.unsubscribe
	a.cancel, a.unsubscribe = nil, nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	a.writeMu.Lock()
	a.closed = true
	a.writeMu.Unlock()
	return nil
}

func (a *Adapter) readLoop(ctx context.Context) {
	scanner := bufio.NewScanner(a.in)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		inv, decodeErr := common.DecodeInvocation(line)
		if decodeErr != nil {
			a.logger.Warn("ipc malformed invocation", "err", decodeErr.Message)
			a.write(core.Response{ID: inv.ID, Err: decodeErr})
			continue
		}
		a.track()
		a.svc.Dispatch(ctx, SubjectID, inv, func(resp core.Response) {
			defer a.untrack()
			a.write(resp)
		})
	}
	if err := scanner.Err(); err != nil {
		a.finish(fmt.Errorf("read ipc input: %w", err))
		return
	}
	a.logger.Info("ipc input closed", "pending", a.pending())
	// ответы на блокирующие вызовы должны уйти до штатного завершения
	if err := a.drain(ctx); err != nil {
		a.logger.Warn("ipc input closed with in-flight invocations", "pending", a.pending(), "err", err)
	}
	a.finish(nil)
}

func (a *Adapter) track() {
	a.flightMu.Lock()
	a.flight++
	a.flightMu.Unlock()
}

func (a *Adapter) untrack() {
	a.flightMu.Lock()
	defer a.flightMu.Unlock()
	a.flight--
	if a.flight == 0 && a.idle != nil {
		close(a.idle)
		a.idle = nil
	}
}

func (a *Adapter) pending() int {
	a.flightMu.Lock()
	defer a.flightMu.Unlock()
	return a.flight
}

// drain ждет, пока не останется вызовов без ответа, или отмены ctx.
func (a *Adapter) drain(ctx context.Context) error {
	a.flightMu.Lock()
	if a.flight == 0 {
		a.flightMu.Unlock()
		return nil
	}
	if a.idle == nil {
		a.idle = make(chan struct{})
	}
	idle := a.idle
	a.flightMu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Adapter) forwardEvents(ch <-chan core.Event) {
	for ev := range ch {
		a.write(ev)
	}
}

func (a *Adapter) write(v interface{}) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if a.closed {
		if resp, ok := v.(core.Response); ok {
			a.logger.Warn("ipc response dropped after stop", "invocation_id", resp.ID)
		}
		return
	}
	if err := a.enc.Encode(v); err != nil {
		a.logger.Error("ipc write failed", "err", err)
	}
}

func (a *Adapter) finish(err error) {
	a.finishOnce.Do(func() {
		a.done <- err
	})
}
