package core

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// Subject описывает источник вызова (транспорт).
type Subject struct {
	Source string
	ID     string
}

// Authorizer отвечает за решение доступа к команде.
type Authorizer interface {
	Authorize(subject Subject, command string) error
}

// PermissionSet реализует deny-by-default: транспорту доступны только команды,
// совпадающие с одним из glob-шаблонов.
type PermissionSet struct {
	allowed map[string][]string
}

// NewPermissionSet создает набор прав из map[source][]pattern.
// Некорректные шаблоны отбрасываются с ошибкой.
func NewPermissionSet(src map[string][]string) (*PermissionSet, error) {
	allowed := make(map[string][]string, len(src))
	for source, patterns := range src {
		list := make([]string, 0, len(patterns))
		for _, p := range patterns {
			if p == "" {
				continue
			}
			if !doublestar.ValidatePattern(p) {
				return nil, fmt.Errorf("permission pattern %q for %s: %w", p, source, errInvalidArguments)
			}
			list = append(list, p)
		}
		allowed[source] = list
	}
	return &PermissionSet{allowed: allowed}, nil
}

// Authorize возвращает *Error вида forbidden, если команда не разрешена источнику.
func (p *PermissionSet) Authorize(subject Subject, command string) error {
	if subject.Source == "" {
		return Forbidden("empty source")
	}
	patterns, ok := p.allowed[subject.Source]
	if !ok {
		return Forbidden(fmt.Sprintf("source %s is not allowed", subject.Source))
	}
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, command); ok {
			return nil
		}
	}
	return Forbidden(fmt.Sprintf("command %q is not allowed for %s", command, subject.Source))
}
