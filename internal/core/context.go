package core

import (
	"context"
	"log/slog"
	"sync"
)

// AppContext передается каждому модулю при установке вместо глобального
// состояния: через него модуль получает логгер, каталоги, события и
// подключает наблюдателей и периодические задачи.
type AppContext struct {
	Mode    BuildMode
	DataDir string
	LogDir  string
	Events  *EventHub

	logger *slog.Logger
	jobs   []Job

	mu        sync.Mutex
	observers []Observer
	// переходы, уже разосланные наблюдателям
	lifecycle []LifecycleEvent
}

// NewAppContext создает контекст приложения.
func NewAppContext(mode BuildMode, logger *slog.Logger, dataDir, logDir string) *AppContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &AppContext{
		Mode:    mode,
		DataDir: dataDir,
		LogDir:  logDir,
		Events:  NewEventHub(0),
		logger:  logger,
	}
}

func (c *AppContext) Logger() *slog.Logger { return c.logger }

// SetLogger заменяет логгер приложения (модуль логирования).
func (c *AppContext) SetLogger(l *slog.Logger) {
	if l != nil {
		c.logger = l
	}
}

// Observe подключает наблюдателя; вызывается только на этапе bootstrap.
// Наблюдатель сразу получает уже состоявшиеся переходы жизненного цикла.
func (c *AppContext) Observe(o Observer) {
	if o == nil {
		return
	}
	c.mu.Lock()
	c.observers = append(c.observers, o)
	past := append([]LifecycleEvent(nil), c.lifecycle...)
	c.mu.Unlock()
	for _, ev := range past {
		o.ObserveLifecycle(context.Background(), ev)
	}
}

// Observers возвращает подключенных наблюдателей.
func (c *AppContext) Observers() []Observer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Observer(nil), c.observers...)
}

// Schedule добавляет периодическую задачу; запускается в состоянии Running.
func (c *AppContext) Schedule(job Job) {
	if job != nil {
		c.jobs = append(c.jobs, job)
	}
}

// Jobs возвращает запланированные задачи.
func (c *AppContext) Jobs() []Job {
	return append([]Job(nil), c.jobs...)
}

// Emit отправляет событие во front-end.
func (c *AppContext) Emit(name string, payload interface{}) {
	c.Events.Emit(name, payload)
}

// NotifyLifecycle рассылает переход состояния наблюдателям.
func (c *AppContext) NotifyLifecycle(ctx context.Context, ev LifecycleEvent) {
	c.mu.Lock()
	c.lifecycle = append(c.lifecycle, ev)
	observers := append([]Observer(nil), c.observers...)
	c.mu.Unlock()
	for _, o := range observers {
		o.ObserveLifecycle(ctx, ev)
	}
}
