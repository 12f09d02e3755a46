package core

import (
	"fmt"
	"sort"
)

// Registry хранит зарегистрированные команды. Заполняется только на этапе
// bootstrap; после Seal используется лишь на чтение и не требует блокировок.
type Registry struct {
	handlers map[string]Handler
	sealed   bool
}

// NewRegistry создает пустой реестр команд.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register добавляет команду; имя должно быть уникальным.
func (r *Registry) Register(name string, h Handler) error {
	if r.sealed {
		return fmt.Errorf("%s: %w", name, ErrRegistrySealed)
	}
	if name == "" {
		return fmt.Errorf("command name is empty: %w", errInvalidArguments)
	}
	if h == nil {
		return fmt.Errorf("%s: handler is nil: %w", name, errInvalidArguments)
	}
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("%s: %w", name, ErrDuplicateCommand)
	}
	r.handlers[name] = h
	return nil
}

// Resolve возвращает обработчик по имени или ошибку unknown_command.
func (r *Registry) Resolve(name string) (Handler, error) {
	h, ok := r.handlers[name]
	if !ok {
		return nil, &Error{Kind: KindUnknownCommand, Message: fmt.Sprintf("command %q not found", name)}
	}
	return h, nil
}

// Seal запрещает дальнейшую регистрацию.
func (r *Registry) Seal() {
	r.sealed = true
}

// Sealed сообщает, закрыт ли реестр.
func (r *Registry) Sealed() bool {
	return r.sealed
}

// Commands возвращает отсортированный список зарегистрированных команд.
func (r *Registry) Commands() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
