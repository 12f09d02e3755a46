// Package app собирает backend: устанавливает модули, строит реестр и мост,
// запускает транспорты и ведет приложение по состояниям жизненного цикла.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"devstash/internal/commands"
	"devstash/internal/config"
	"devstash/internal/core"
	"devstash/internal/modules/fs"
	"devstash/internal/modules/host"
	"devstash/internal/modules/logging"
	"devstash/internal/transports/common"
	"devstash/internal/transports/ipc"
	"devstash/internal/transports/web"
	"devstash/pkg/logger"
)

var (
	// ErrInvalidState возвращается при вызове вне допустимого состояния.
	ErrInvalidState = errors.New("invalid app state")
	// ErrNoTransports возвращается, если в конфигурации не включен ни один транспорт.
	ErrNoTransports = errors.New("no transports enabled")
)

const stopTimeout = 5 * time.Second

// Options параметры сборки приложения.
type Options struct {
	Mode   core.BuildMode
	Config config.Config
	Logger *slog.Logger

	// Modules безусловные модули; nil = fs и os из конфигурации.
	Modules []core.Module
	// DebugModules вызывается только в отладочной сборке; nil = модуль log.
	DebugModules func(cfg config.Config) []core.Module
	// Transports строит транспорты после Bootstrap; nil = ipc и web из конфигурации.
	Transports func(a *App) ([]core.TransportAdapter, error)

	Stdin  io.Reader
	Stdout io.Writer
}

// App агрегирует зависимости ядра.
type App struct {
	opts Options
	cfg  config.Config

	state atomic.Int32

	mu      sync.Mutex
	lastErr error

	ctx       *core.AppContext
	registry  *core.Registry
	bridge    *core.Bridge
	authz     core.Authorizer
	installed []core.Module
}

// New создает приложение в состоянии Uninitialized.
func New(opts Options) *App {
	if opts.Logger == nil {
		opts.Logger = logger.New()
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	a := &App{opts: opts, cfg: opts.Config, registry: core.NewRegistry()}
	a.state.Store(int32(StateUninitialized))
	return a
}

// State возвращает текущее состояние.
func (a *App) State() State { return State(a.state.Load()) }

// Err возвращает ошибку, с которой приложение перешло в Terminated.
func (a *App) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// Context возвращает контекст модулей (после Bootstrap).
func (a *App) Context() *core.AppContext { return a.ctx }

// Logger возвращает текущий логгер приложения.
func (a *App) Logger() *slog.Logger {
	if a.ctx != nil {
		return a.ctx.Logger()
	}
	return a.opts.Logger
}

// Bootstrap устанавливает модули, регистрирует встроенные команды и
// запечатывает реестр. Любая ошибка переводит приложение в Terminated.
func (a *App) Bootstrap(ctx context.Context) error {
	if !a.state.CompareAndSwap(int32(StateUninitialized), int32(StateModulesInstalling)) {
		return fmt.Errorf("bootstrap from %s: %w", a.State(), ErrInvalidState)
	}
	if err := a.cfg.ResolveDirs(); err != nil {
		return a.fail(ctx, err)
	}
	a.ctx = core.NewAppContext(a.opts.Mode, a.opts.Logger, a.cfg.App.DataDir, a.cfg.Log.Dir)
	a.notify(ctx, StateUninitialized, StateModulesInstalling, nil)

	for _, m := range a.modules() {
		if err := m.Install(a.registry, a.ctx); err != nil {
			return a.fail(ctx, fmt.Errorf("install module %s: %w", m.Name(), err))
		}
		a.installed = append(a.installed, m)
		a.Logger().Debug("module installed", "module", m.Name())
	}

	if err := a.transition(ctx, StateModulesInstalling, StateRegistryBuilding); err != nil {
		return err
	}
	if err := commands.Register(a.registry); err != nil {
		return a.fail(ctx, err)
	}
	a.registry.Seal()

	authz, err := core.NewPermissionSet(a.cfg.Permissions)
	if err != nil {
		return a.fail(ctx, err)
	}
	a.authz = authz
	a.bridge = core.NewBridge(a.registry,
		core.WithObservers(a.ctx.Observers()...),
		core.WithWorkers(a.cfg.Bridge.Workers),
	)
	return a.transition(ctx, StateRegistryBuilding, StateRunning)
}

// modules возвращает список к установке; отладочные модули создаются
// только в отладочной сборке.
func (a *App) modules() []core.Module {
	list := a.opts.Modules
	if list == nil {
		list = []core.Module{
			fs.New(fs.Config{
				Root:         a.cfg.FS.Root,
				Allow:        a.cfg.FS.Scope.Allow,
				Deny:         a.cfg.FS.Scope.Deny,
				MaxReadBytes: a.cfg.FS.MaxReadBytes,
			}),
			host.New(),
		}
	}
	if !a.opts.Mode.IsDebug() {
		return list
	}
	debugModules := a.opts.DebugModules
	if debugModules == nil {
		debugModules = defaultDebugModules
	}
	return append(append([]core.Module(nil), list...), debugModules(a.cfg)...)
}

func defaultDebugModules(cfg config.Config) []core.Module {
	return []core.Module{logging.New(logging.Config{
		Level:         cfg.Log.Level,
		Dir:           cfg.Log.Dir,
		Targets:       cfg.Log.Targets,
		RetentionDays: cfg.Log.RetentionDays,
	})}
}

// Service возвращает пайплайн транспорта для источника source.
func (a *App) Service(source string, limiter *common.RateLimiter) *common.Service {
	return &common.Service{
		Source:      source,
		Bridge:      a.bridge,
		Authorizer:  a.authz,
		RateLimiter: limiter,
		Logger:      a.Logger(),
	}
}

// Commands возвращает зарегистрированные команды.
func (a *App) Commands() []string { return a.registry.Commands() }

// Invoke выполняет вызов в процессе от имени источника source.
func (a *App) Invoke(ctx context.Context, source string, inv core.Invocation) (core.Response, error) {
	if a.State() != StateRunning {
		return core.Response{}, fmt.Errorf("invoke in %s: %w", a.State(), ErrInvalidState)
	}
	return a.Service(source, nil).Invoke(ctx, source, inv), nil
}

// Run запускает планировщик и транспорты и блокируется до отмены ctx,
// штатного закрытия транспорта или его сбоя. По выходу приложение в Terminated;
// сбой транспорта возвращается ошибкой.
func (a *App) Run(ctx context.Context) error {
	if a.State() != StateRunning {
		return fmt.Errorf("run in %s: %w", a.State(), ErrInvalidState)
	}

	build := a.opts.Transports
	if build == nil {
		build = defaultTransports
	}
	adapters, err := build(a)
	if err != nil {
		return a.fail(ctx, err)
	}
	manager := core.NewTransportManager()
	for _, tr := range adapters {
		if err := manager.Register(tr); err != nil {
			return a.fail(ctx, err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	sched := core.NewScheduler(time.Duration(a.cfg.Scheduler.IntervalSeconds)*time.Second, func(err error) {
		a.Logger().Warn("scheduled job failed", "err", err)
	})
	sched.Add(a.ctx.Jobs()...)
	if sched.Len() > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched.Start(runCtx)
		}()
	}

	runErr := manager.StartAll(runCtx)
	if runErr == nil {
		a.Logger().Info("devstash running", "mode", a.opts.Mode.String(), "transports", manager.Names())
		runErr = manager.Wait(runCtx)
	}

	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if err := manager.StopAll(stopCtx); err != nil {
		a.Logger().Warn("stop transports", "err", err)
	}
	wg.Wait()

	if runErr != nil {
		return a.fail(ctx, runErr)
	}
	a.terminate(ctx, nil)
	return nil
}

func defaultTransports(a *App) ([]core.TransportAdapter, error) {
	var out []core.TransportAdapter
	if a.cfg.IPC.Enabled {
		out = append(out, ipc.NewAdapter(a.Service("ipc", nil), a.ctx.Events, a.opts.Stdin, a.opts.Stdout, a.Logger()))
	}
	if a.cfg.Web.Enabled {
		w := a.cfg.Web
		out = append(out, web.NewAdapter(a.Service("web", common.NewRateLimiterFromConfig(w.RateLimit)), a.ctx.Events, web.Config{
			ListenAddr:         w.ListenAddr,
			ReadTimeout:        time.Duration(w.ReadTimeoutMS) * time.Millisecond,
			WriteTimeout:       time.Duration(w.WriteTimeoutMS) * time.Millisecond,
			RequestTimeout:     time.Duration(w.RequestTimeoutMS) * time.Millisecond,
			ShutdownTimeout:    time.Duration(w.ShutdownTimeoutS) * time.Second,
			MaxRequestBody:     w.MaxBodyBytes,
			TokenSHA256:        w.TokenSHA256,
			CORSAllowedOrigins: w.CORS.AllowedOrigins,
		}, a.Logger()))
	}
	if len(out) == 0 {
		return nil, ErrNoTransports
	}
	return out, nil
}

// Close переводит приложение в Terminated и освобождает ресурсы модулей.
func (a *App) Close() error {
	if a.State().IsTerminal() {
		return nil
	}
	return a.terminate(context.Background(), nil)
}

func (a *App) transition(ctx context.Context, from, to State) error {
	if !a.state.CompareAndSwap(int32(from), int32(to)) {
		return a.fail(ctx, fmt.Errorf("transition %s -> %s from %s: %w", from, to, a.State(), ErrInvalidState))
	}
	a.notify(ctx, from, to, nil)
	return nil
}

// fail завершает приложение с ошибкой и возвращает ее.
func (a *App) fail(ctx context.Context, err error) error {
	a.mu.Lock()
	a.lastErr = err
	a.mu.Unlock()
	a.terminate(ctx, err)
	return err
}

func (a *App) terminate(ctx context.Context, cause error) error {
	from := State(a.state.Swap(int32(StateTerminated)))
	if from == StateTerminated {
		return nil
	}
	a.notify(ctx, from, StateTerminated, cause)

	if a.bridge != nil {
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
		if err := a.bridge.Drain(drainCtx); err != nil {
			a.Logger().Warn("close modules with in-flight invocations", "err", err)
		}
		cancel()
	}

	var errs []error
	for i := len(a.installed) - 1; i >= 0; i-- {
		if c, ok := a.installed[i].(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close module %s: %w", a.installed[i].Name(), err))
			}
		}
	}
	a.installed = nil
	if a.ctx != nil {
		// логгер модуля log закрыт вместе с модулем
		a.ctx.SetLogger(a.opts.Logger)
	}
	if err := errors.Join(errs...); err != nil {
		a.opts.Logger.Warn("close modules", "err", err)
		return err
	}
	return nil
}

func (a *App) notify(ctx context.Context, from, to State, err error) {
	if err != nil {
		a.Logger().Error("app state changed", "from", from.String(), "to", to.String(), "err", err)
	} else {
		a.Logger().Debug("app state changed", "from", from.String(), "to", to.String())
	}
	if a.ctx != nil {
		a.ctx.NotifyLifecycle(ctx, core.LifecycleEvent{From: from.String(), To: to.String(), Err: err})
	}
}
