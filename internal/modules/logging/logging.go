// Package logging реализует модуль "log": структурированный лог для отладочных
// сборок с выводом в консоль, файл, SQLite-журнал и во front-end.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"

	"devstash/internal/core"
	"devstash/internal/storage"
	"devstash/internal/storage/sqlite"
	"devstash/pkg/logger"
)

// Цели вывода.
const (
	TargetStdout  = "stdout"
	TargetFile    = "file"
	TargetJournal = "journal"
	TargetWebview = "webview"
)

const (
	// RecordEventName событие с записью лога для front-end.
	RecordEventName = "log://record"

	// FileName имя файла лога в каталоге логов.
	FileName = "devstash.log"
	// JournalName имя базы журнала в каталоге логов.
	JournalName = "journal.db"

	attrCommand      = "command"
	attrInvocationID = "invocation_id"
)

// Config настраивает модуль.
type Config struct {
	Level         string
	Dir           string
	Targets       []string
	RetentionDays int
	// Console куда пишет цель stdout; stdout процесса занят ipc, поэтому по
	// умолчанию os.Stderr.
	Console io.Writer
}

// Module capability-модуль "log".
type Module struct {
	cfg    Config
	file    *os.File
	store   storage.Store
	journal *journal
	logger  *slog.Logger
}

// New создает модуль; ресурсы открываются в Install.
func New(cfg Config) *Module {
	if len(cfg.Targets) == 0 {
		cfg.Targets = []string{TargetStdout}
	}
	if cfg.Console == nil {
		cfg.Console = os.Stderr
	}
	return &Module{cfg: cfg}
}

func (m *Module) Name() string { return "log" }

// Install открывает цели вывода, подменяет логгер приложения, подключает
// наблюдателя и регистрирует команды. Любая ошибка ввода-вывода возвращается.
func (m *Module) Install(reg *core.Registry, app *core.AppContext) (err error) {
	defer func() {
		if err != nil {
			_ = m.Close()
		}
	}()

	level := logger.ParseLevel(m.cfg.Level)
	dir := m.cfg.Dir
	if dir == "" {
		dir = app.LogDir
	}

	var handlers []slog.Handler
	for _, target := range m.cfg.Targets {
		switch strings.ToLower(strings.TrimSpace(target)) {
		case TargetStdout:
			handlers = append(handlers, charmlog.NewWithOptions(m.cfg.Console, charmlog.Options{
				Level:           charmlog.Level(level),
				Prefix:          "devstash",
				ReportTimestamp: true,
				TimeFormat:      time.TimeOnly,
			}))
		case TargetFile:
			f, err := m.openFile(dir)
			if err != nil {
				return err
			}
			handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
		case TargetJournal:
			store, err := m.openJournal(dir)
			if err != nil {
				return err
			}
			if m.journal == nil {
				m.journal = newJournal(store, m.cfg.Console)
			}
			handlers = append(handlers, newJournalHandler(m.journal, level))
		case TargetWebview:
			handlers = append(handlers, newWebviewHandler(app.Events, level))
		default:
			return fmt.Errorf("unknown log target %q", target)
		}
	}

	m.logger = slog.New(newFanout(handlers...))
	app.SetLogger(m.logger)
	app.Observe(&observer{logger: m.logger})

	if err := reg.Register(CmdLog, core.Sync(m.log)); err != nil {
		return fmt.Errorf("register %s: %w", CmdLog, err)
	}
	if err := reg.Register(CmdRecent, core.Async(m.recent)); err != nil {
		return fmt.Errorf("register %s: %w", CmdRecent, err)
	}

	if m.store != nil && m.cfg.RetentionDays > 0 {
		app.Schedule(m.prune)
	}
	m.logger.Debug("log module installed", "targets", m.cfg.Targets, "dir", dir)
	return nil
}

func (m *Module) openFile(dir string) (*os.File, error) {
	if m.file != nil {
		return m.file, nil
	}
	if dir == "" {
		return nil, errors.New("log dir is not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, FileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	m.file = f
	return f, nil
}

func (m *Module) openJournal(dir string) (storage.Store, error) {
	if m.store != nil {
		return m.store, nil
	}
	if dir == "" {
		return nil, errors.New("log dir is not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	store, err := sqlite.Open(filepath.Join(dir, JournalName))
	if err != nil {
		return nil, fmt.Errorf("open log journal: %w", err)
	}
	m.store = store
	return store, nil
}

// Logger возвращает логгер модуля после установки.
func (m *Module) Logger() *slog.Logger { return m.logger }

func (m *Module) prune(ctx context.Context) error {
	if err := m.journal.flush(ctx); err != nil {
		return fmt.Errorf("flush log journal: %w", err)
	}
	before := time.Now().Add(-time.Duration(m.cfg.RetentionDays) * 24 * time.Hour)
	n, err := m.store.Prune(ctx, before)
	if err != nil {
		return fmt.Errorf("prune log journal: %w", err)
	}
	if n > 0 {
		m.logger.Debug("log journal pruned", "records", n)
	}
	return nil
}

// Close дописывает очередь журнала и закрывает файл и журнал.
func (m *Module) Close() error {
	var errs []error
	if m.journal != nil {
		m.journal.close()
		m.journal = nil
	}
	if m.store != nil {
		errs = append(errs, m.store.Close())
		m.store = nil
	}
	if m.file != nil {
		errs = append(errs, m.file.Close())
		m.file = nil
	}
	return errors.Join(errs...)
}

type observer struct {
	logger *slog.Logger
}

func (o *observer) ObserveInvocation(ctx context.Context, ev core.InvocationEvent) {
	attrs := []interface{}{
		attrCommand, ev.Command,
		attrInvocationID, ev.ID,
		"source", ev.Source,
		"duration_ms", ev.Duration.Milliseconds(),
	}
	if ev.Err != nil {
		o.logger.WarnContext(ctx, "invocation failed", append(attrs, "kind", ev.Err.Kind, "error", ev.Err.Message)...)
		return
	}
	o.logger.InfoContext(ctx, "invocation", attrs...)
}

func (o *observer) ObserveLifecycle(ctx context.Context, ev core.LifecycleEvent) {
	if ev.Err != nil {
		o.logger.ErrorContext(ctx, "lifecycle", "from", ev.From, "to", ev.To, "error", ev.Err)
		return
	}
	o.logger.InfoContext(ctx, "lifecycle", "from", ev.From, "to", ev.To)
}
