// Package fs предоставляет front-end доступ к файлам внутри каталога
// приложения. Все команды блокирующие и выполняются вне event loop.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"devstash/internal/core"
)

const prefix = "plugin:fs|"

// Имена команд модуля.
const (
	CmdExists        = prefix + "exists"
	CmdStat          = prefix + "stat"
	CmdMkdir         = prefix + "mkdir"
	CmdReadDir       = prefix + "read_dir"
	CmdReadFile      = prefix + "read_file"
	CmdReadTextFile  = prefix + "read_text_file"
	CmdWriteFile     = prefix + "write_file"
	CmdWriteTextFile = prefix + "write_text_file"
	CmdCopyFile      = prefix + "copy_file"
	CmdRename        = prefix + "rename"
	CmdRemove        = prefix + "remove"
	CmdWatch         = prefix + "watch"
	CmdUnwatch       = prefix + "unwatch"
)

// ChangeEvent имя события об изменении файлов.
const ChangeEvent = "fs://change"

// Config задает корень песочницы и ограничения.
type Config struct {
	Root         string
	Allow        []string
	Deny         []string
	MaxReadBytes int64
}

// Module capability-модуль файловой системы.
type Module struct {
	cfg   Config
	scope *Scope
	app   *core.AppContext

	mu      sync.Mutex
	watches map[string]*watch
}

// New создает модуль; корень создается при установке.
func New(cfg Config) *Module {
	if cfg.MaxReadBytes <= 0 {
		cfg.MaxReadBytes = 16 << 20
	}
	return &Module{cfg: cfg, watches: make(map[string]*watch)}
}

func (m *Module) Name() string { return "fs" }

// Install создает корень и регистрирует команды.
func (m *Module) Install(reg *core.Registry, app *core.AppContext) error {
	root := m.cfg.Root
	if root == "" {
		root = app.DataDir
	}
	if root == "" {
		return errors.New("fs root is not configured")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create fs root: %w", err)
	}
	scope, err := NewScope(root, m.cfg.Allow, m.cfg.Deny)
	if err != nil {
		return err
	}
	m.scope = scope
	m.app = app

	handlers := map[string]core.Handler{
		CmdExists:        core.Async(m.exists),
		CmdStat:          core.Async(m.stat),
		CmdMkdir:         core.Async(m.mkdir),
		CmdReadDir:       core.Async(m.readDir),
		CmdReadFile:      core.Async(m.readFile),
		CmdReadTextFile:  core.Async(m.readTextFile),
		CmdWriteFile:     core.Async(m.writeFile),
		CmdWriteTextFile: core.Async(m.writeTextFile),
		CmdCopyFile:      core.Async(m.copyFile),
		CmdRename:        core.Async(m.rename),
		CmdRemove:        core.Async(m.remove),
		CmdWatch:         core.Async(m.watch),
		CmdUnwatch:       core.Async(m.unwatch),
	}
	for name, h := range handlers {
		if err := reg.Register(name, h); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
	}
	app.Logger().Debug("fs module installed", "root", scope.Root())
	return nil
}

// Root возвращает корень песочницы после установки.
func (m *Module) Root() string {
	if m.scope == nil {
		return ""
	}
	return m.scope.Root()
}

type pathArgs struct {
	Path string `json:"path"`
}

type recursiveArgs struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive,omitempty"`
}

type writeFileArgs struct {
	Path   string `json:"path"`
	Data   []byte `json:"data"`
	Append bool   `json:"append,omitempty"`
}

type writeTextArgs struct {
	Path     string `json:"path"`
	Contents string `json:"contents"`
	Append   bool   `json:"append,omitempty"`
}

type fromToArgs struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// FileInfo ответ stat.
type FileInfo struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	IsDirectory bool   `json:"isDirectory"`
	IsFile      bool   `json:"isFile"`
	IsSymlink   bool   `json:"isSymlink"`
	Size        int64  `json:"size"`
	Mode        string `json:"mode"`
	ModTime     string `json:"mtime"`
}

// DirEntry элемент read_dir.
type DirEntry struct {
	Name        string     `json:"name"`
	Path        string     `json:"path"`
	IsDirectory bool       `json:"isDirectory"`
	IsFile      bool       `json:"isFile"`
	IsSymlink   bool       `json:"isSymlink"`
	Children    []DirEntry `json:"children,omitempty"`
}

func (m *Module) exists(ctx context.Context, a pathArgs) (bool, error) {
	abs, _, err := m.scope.Resolve("path", a.Path)
	if err != nil {
		return false, err
	}
	_, err = os.Lstat(abs)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, opError("exists", a.Path, err)
	}
	return true, nil
}

func (m *Module) stat(ctx context.Context, a pathArgs) (FileInfo, error) {
	abs, rel, err := m.scope.Resolve("path", a.Path)
	if err != nil {
		return FileInfo{}, err
	}
	info, err := os.Lstat(abs)
	if err != nil {
		return FileInfo{}, opError("stat", a.Path, err)
	}
	return FileInfo{
		Name:        info.Name(),
		Path:        rel,
		IsDirectory: info.IsDir(),
		IsFile:      info.Mode().IsRegular(),
		IsSymlink:   info.Mode()&os.ModeSymlink != 0,
		Size:        info.Size(),
		Mode:        info.Mode().String(),
		ModTime:     info.ModTime().UTC().Format(time.RFC3339),
	}, nil
}

func (m *Module) mkdir(ctx context.Context, a recursiveArgs) (interface{}, error) {
	abs, _, err := m.scope.Resolve("path", a.Path)
	if err != nil {
		return nil, err
	}
	if a.Recursive {
		err = os.MkdirAll(abs, 0o755)
	} else {
		err = os.Mkdir(abs, 0o755)
	}
	if err != nil {
		return nil, opError("mkdir", a.Path, err)
	}
	return nil, nil
}

func (m *Module) readDir(ctx context.Context, a recursiveArgs) ([]DirEntry, error) {
	abs, _, err := m.scope.Resolve("path", a.Path)
	if err != nil {
		return nil, err
	}
	entries, err := m.list(ctx, abs, a.Recursive)
	if err != nil {
		return nil, opError("read_dir", a.Path, err)
	}
	return entries, nil
}

func (m *Module) list(ctx context.Context, dir string, recursive bool) ([]DirEntry, error) {
	items, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, 0, len(items))
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		full := filepath.Join(dir, item.Name())
		rel := m.scope.Rel(full)
		if !m.scope.Allowed(rel) {
			continue
		}
		entry := DirEntry{
			Name:        item.Name(),
			Path:        rel,
			IsDirectory: item.IsDir(),
			IsFile:      item.Type().IsRegular(),
			IsSymlink:   item.Type()&os.ModeSymlink != 0,
		}
		if recursive && item.IsDir() {
			children, err := m.list(ctx, full, true)
			if err != nil {
				return nil, err
			}
			entry.Children = children
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Module) readFile(ctx context.Context, a pathArgs) ([]byte, error) {
	abs, _, err := m.scope.Resolve("path", a.Path)
	if err != nil {
		return nil, err
	}
	return m.readLimited(abs, a.Path)
}

func (m *Module) readTextFile(ctx context.Context, a pathArgs) (string, error) {
	abs, _, err := m.scope.Resolve("path", a.Path)
	if err != nil {
		return "", err
	}
	data, err := m.readLimited(abs, a.Path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (m *Module) readLimited(abs, p string) ([]byte, error) {
	f, err := os.Open(abs) // #nosec G304 -- путь проверен scope.
	if err != nil {
		return nil, opError("read", p, err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, m.cfg.MaxReadBytes+1))
	if err != nil {
		return nil, opError("read", p, err)
	}
	if int64(len(data)) > m.cfg.MaxReadBytes {
		return nil, core.InvalidArgs("path", fmt.Sprintf("file %q exceeds %d bytes", p, m.cfg.MaxReadBytes))
	}
	return data, nil
}

func (m *Module) writeFile(ctx context.Context, a writeFileArgs) (interface{}, error) {
	return nil, m.write(a.Path, a.Data, a.Append)
}

func (m *Module) writeTextFile(ctx context.Context, a writeTextArgs) (interface{}, error) {
	return nil, m.write(a.Path, []byte(a.Contents), a.Append)
}

func (m *Module) write(p string, data []byte, appendMode bool) error {
	abs, rel, err := m.scope.Resolve("path", p)
	if err != nil {
		return err
	}
	if rel == "." {
		return core.InvalidArgs("path", "cannot write to the app directory itself")
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendMode {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(abs, flags, 0o644) // #nosec G304 -- путь проверен scope.
	if err != nil {
		return opError("write", p, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return opError("write", p, err)
	}
	if err := f.Close(); err != nil {
		return opError("write", p, err)
	}
	return nil
}

func (m *Module) copyFile(ctx context.Context, a fromToArgs) (interface{}, error) {
	src, _, err := m.scope.Resolve("from", a.From)
	if err != nil {
		return nil, err
	}
	dst, _, err := m.scope.Resolve("to", a.To)
	if err != nil {
		return nil, err
	}
	in, err := os.Open(src) // #nosec G304 -- путь проверен scope.
	if err != nil {
		return nil, opError("copy", a.From, err)
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return nil, opError("copy", a.From, err)
	}
	if info.IsDir() {
		return nil, core.InvalidArgs("from", fmt.Sprintf("%q is a directory", a.From))
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm()) // #nosec G304 -- путь проверен scope.
	if err != nil {
		return nil, opError("copy", a.To, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return nil, opError("copy", a.To, err)
	}
	if err := out.Close(); err != nil {
		return nil, opError("copy", a.To, err)
	}
	return nil, nil
}

func (m *Module) rename(ctx context.Context, a fromToArgs) (interface{}, error) {
	src, srcRel, err := m.scope.Resolve("from", a.From)
	if err != nil {
		return nil, err
	}
	dst, _, err := m.scope.Resolve("to", a.To)
	if err != nil {
		return nil, err
	}
	if srcRel == "." {
		return nil, core.InvalidArgs("from", "cannot rename the app directory")
	}
	if err := os.Rename(src, dst); err != nil {
		return nil, opError("rename", a.From, err)
	}
	return nil, nil
}

func (m *Module) remove(ctx context.Context, a recursiveArgs) (interface{}, error) {
	abs, rel, err := m.scope.Resolve("path", a.Path)
	if err != nil {
		return nil, err
	}
	if rel == "." {
		return nil, core.InvalidArgs("path", "cannot remove the app directory")
	}
	if _, err := os.Lstat(abs); err != nil {
		return nil, opError("remove", a.Path, err)
	}
	if a.Recursive {
		err = os.RemoveAll(abs)
	} else {
		err = os.Remove(abs)
	}
	if err != nil {
		return nil, opError("remove", a.Path, err)
	}
	return nil, nil
}

// Close останавливает все наблюдения.
func (m *Module) Close() error {
	m.mu.Lock()
	watches := m.watches
	m.watches = make(map[string]*watch)
	m.mu.Unlock()

	var errs []error
	for _, w := range watches {
		if err := w.close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func opError(op, p string, err error) error {
	var pathErr *os.PathError
	cause := err
	if errors.As(err, &pathErr) {
		cause = pathErr.Err
	}
	switch {
	case errors.Is(err, os.ErrNotExist):
		return &core.Error{Kind: core.KindHandlerError, Message: fmt.Sprintf("%s %q: not found", op, p)}
	case errors.Is(err, os.ErrExist):
		return &core.Error{Kind: core.KindHandlerError, Message: fmt.Sprintf("%s %q: already exists", op, p)}
	case errors.Is(err, os.ErrPermission):
		return &core.Error{Kind: core.KindHandlerError, Message: fmt.Sprintf("%s %q: permission denied", op, p)}
	default:
		return &core.Error{Kind: core.KindHandlerError, Message: fmt.Sprintf("%s %q: %v", op, p, cause)}
	}
}
