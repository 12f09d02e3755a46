package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

const defaultWorkers = 8

// Bridge единственная точка входа для вызовов front-end: находит команду,
// исполняет ее и отдает ровно один ответ.
type Bridge struct {
	registry  *Registry
	observers []Observer
	workers   *semaphore.Weighted
	tracer    trace.Tracer

	// вызовы, не закончившие ответ и уведомление наблюдателей
	mu     sync.Mutex
	active int
	idle   chan struct{}
}

// BridgeOption настраивает мост.
type BridgeOption func(*Bridge)

// WithObservers подключает наблюдателей вызовов.
func WithObservers(obs ...Observer) BridgeOption {
	return func(b *Bridge) {
		b.observers = append(b.observers, obs...)
	}
}

// WithWorkers ограничивает число одновременно выполняемых блокирующих обработчиков.
func WithWorkers(n int) BridgeOption {
	return func(b *Bridge) {
		if n > 0 {
			b.workers = semaphore.NewWeighted(int64(n))
		}
	}
}

// NewBridge создает мост поверх реестра.
func NewBridge(registry *Registry, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		registry: registry,
		workers:  semaphore.NewWeighted(defaultWorkers),
		tracer:   otel.Tracer("devstash/internal/core"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Dispatch исполняет вызов. Синхронные обработчики выполняются в текущей
// горутине, блокирующие уходят в worker-пул; reply вызывается ровно один раз.
// Наблюдатели уведомляются после reply: ответ не ждет их ввода-вывода.
func (b *Bridge) Dispatch(ctx context.Context, inv Invocation, reply func(Response)) {
	var once sync.Once
	start := time.Now()
	b.begin()
	respond := func(resp Response) {
		once.Do(func() {
			defer b.end()
			elapsed := time.Since(start)
			reply(resp)
			b.notify(ctx, inv, resp, elapsed)
		})
	}

	h, err := b.registry.Resolve(inv.Command)
	if err != nil {
		respond(Response{ID: inv.ID, Err: AsError(err)})
		return
	}

	if bl, ok := h.(Blocker); ok && bl.Blocking() {
		go func() {
			if err := b.workers.Acquire(ctx, 1); err != nil {
				respond(Response{ID: inv.ID, Err: &Error{Kind: KindInternal, Message: fmt.Sprintf("worker unavailable: %v", err)}})
				return
			}
			defer b.workers.Release(1)
			respond(b.run(ctx, h, inv))
		}()
		return
	}
	respond(b.run(ctx, h, inv))
}

// Invoke выполняет вызов и ждет ответа.
func (b *Bridge) Invoke(ctx context.Context, inv Invocation) Response {
	ch := make(chan Response, 1)
	b.Dispatch(ctx, inv, func(resp Response) { ch <- resp })
	return <-ch
}

// Drain ждет, пока все начатые вызовы ответят и уведомят наблюдателей,
// или отмены ctx.
func (b *Bridge) Drain(ctx context.Context) error {
	b.mu.Lock()
	if b.active == 0 {
		b.mu.Unlock()
		return nil
	}
	if b.idle == nil {
		b.idle = make(chan struct{})
	}
	idle := b.idle
	b.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bridge) begin() {
	b.mu.Lock()
	b.active++
	b.mu.Unlock()
}

func (b *Bridge) end() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active--
	if b.active == 0 && b.idle != nil {
		close(b.idle)
		b.idle = nil
	}
}

// Has сообщает, зарегистрирована ли команда.
func (b *Bridge) Has(name string) bool {
	_, err := b.registry.Resolve(name)
	return err == nil
}

// Commands возвращает список команд реестра.
func (b *Bridge) Commands() []string {
	return b.registry.Commands()
}

func (b *Bridge) run(ctx context.Context, h Handler, inv Invocation) (resp Response) {
	ctx, span := b.tracer.Start(ctx, "invoke "+inv.Command,
		trace.WithAttributes(
			attribute.String("devstash.command", inv.Command),
			attribute.String("devstash.invocation_id", inv.ID),
			attribute.String("devstash.source", inv.Source),
		))
	defer func() {
		if rec := recover(); rec != nil {
			resp = Response{ID: inv.ID, Err: &Error{Kind: KindInternal, Message: fmt.Sprintf("handler panic: %v", rec)}}
			span.SetAttributes(attribute.String("devstash.panic_stack", string(debug.Stack())))
		}
		if resp.Err != nil {
			span.SetStatus(codes.Error, resp.Err.Message)
			span.SetAttributes(attribute.String("devstash.error_kind", resp.Err.Kind))
		}
		span.End()
	}()

	out, err := h.Invoke(ctx, inv.Args)
	if err != nil {
		return Response{ID: inv.ID, Err: AsError(err)}
	}
	return Response{ID: inv.ID, OK: out}
}

func (b *Bridge) notify(ctx context.Context, inv Invocation, resp Response, d time.Duration) {
	if len(b.observers) == 0 {
		return
	}
	ev := InvocationEvent{
		ID:       inv.ID,
		Command:  inv.Command,
		Source:   inv.Source,
		Duration: d,
		Err:      resp.Err,
	}
	for _, o := range b.observers {
		o.ObserveInvocation(ctx, ev)
	}
}
