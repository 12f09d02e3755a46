package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"devstash/internal/core"
)

// Scope ограничивает доступ корнем песочницы и glob-шаблонами allow/deny,
// которые проверяются по пути относительно корня (через "/"). deny важнее allow.
type Scope struct {
	root  string
	allow []string
	deny  []string
}

// NewScope создает scope; root должен существовать.
func NewScope(root string, allow, deny []string) (*Scope, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve fs root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve fs root: %w", err)
	}
	for _, p := range append(append([]string(nil), allow...), deny...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid fs scope pattern %q", p)
		}
	}
	if len(allow) == 0 {
		allow = []string{"**"}
	}
	return &Scope{root: resolved, allow: allow, deny: deny}, nil
}

// Root возвращает абсолютный корень песочницы.
func (s *Scope) Root() string { return s.root }

// Resolve переводит путь из аргумента команды в абсолютный путь внутри корня.
// Возвращает также относительный путь через "/" ("." для самого корня).
func (s *Scope) Resolve(field, p string) (string, string, error) {
	if strings.ContainsRune(p, 0) {
		return "", "", core.InvalidArgs(field, "path contains NUL byte")
	}
	candidate := filepath.Join(s.root, p)
	if filepath.IsAbs(p) {
		candidate = filepath.Clean(p)
	}
	rel, ok := s.relative(candidate)
	if !ok {
		return "", "", core.Forbidden(fmt.Sprintf("path %q is outside of the app directory", p))
	}

	// Симлинки не должны выводить за пределы корня: проверяем ближайшего
	// существующего предка.
	existing := candidate
	for {
		resolved, err := filepath.EvalSymlinks(existing)
		if err == nil {
			if _, ok := s.relative(resolved); !ok {
				return "", "", core.Forbidden(fmt.Sprintf("path %q escapes the app directory", p))
			}
			break
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", "", err
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		existing = parent
	}

	if !s.Allowed(rel) {
		return "", "", core.Forbidden(fmt.Sprintf("path %q is not allowed by fs scope", rel))
	}
	return candidate, rel, nil
}

// Allowed проверяет относительный путь по шаблонам. Корень разрешен всегда.
func (s *Scope) Allowed(rel string) bool {
	if rel == "." || rel == "" {
		return true
	}
	for _, p := range s.deny {
		if ok, _ := doublestar.Match(p, rel); ok {
			return false
		}
	}
	for _, p := range s.allow {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// Rel возвращает путь относительно корня через "/" для абсолютного пути.
func (s *Scope) Rel(abs string) string {
	rel, ok := s.relative(abs)
	if !ok {
		return abs
	}
	return rel
}

func (s *Scope) relative(abs string) (string, bool) {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
