package core

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

var (
	errTransportExists  = errors.New("transport already registered")
	errUnknownTransport = errors.New("unknown transport")
)

// TransportAdapter определяет жизненный цикл транспорта между front-end и мостом.
type TransportAdapter interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Terminator реализуют транспорты, которые могут сами завершить event loop:
// nil в канале означает штатное завершение (front-end закрыл канал),
// ошибка означает сбой.
type Terminator interface {
	Done() <-chan error
}

// TransportManager управляет запуском и остановкой транспортов.
type TransportManager struct {
	mu         sync.Mutex
	transports map[string]TransportAdapter
}

// NewTransportManager создает пустой менеджер транспортов.
func NewTransportManager() *TransportManager {
	return &TransportManager{transports: make(map[string]TransportAdapter)}
}

// Register добавляет транспорт; имена должны быть уникальны.
func (m *TransportManager) Register(adapter TransportAdapter) error {
	if adapter == nil {
		return fmt.Errorf("transport is nil: %w", errInvalidArguments)
	}
	name := adapter.Name()
	if name == "" {
		return fmt.Errorf("transport name is empty: %w", errInvalidArguments)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.transports[name]; exists {
		return fmt.Errorf("%s: %w", name, errTransportExists)
	}
	m.transports[name] = adapter
	return nil
}

// Names возвращает имена транспортов.
func (m *TransportManager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.transports))
	for name := range m.transports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *TransportManager) list() []TransportAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.transports))
	for name := range m.transports {
		names = append(names, name)
	}
	sort.Strings(names)
	list := make([]TransportAdapter, 0, len(names))
	for _, name := range names {
		list = append(list, m.transports[name])
	}
	return list
}

// StartAll запускает все транспорты в порядке имен.
func (m *TransportManager) StartAll(ctx context.Context) error {
	for _, tr := range m.list() {
		if err := tr.Start(ctx); err != nil {
			return fmt.Errorf("start transport %s: %w", tr.Name(), err)
		}
	}
	return nil
}

// StopAll останавливает все транспорты; возвращает объединение ошибок.
func (m *TransportManager) StopAll(ctx context.Context) error {
	var errs []error
	for _, tr := range m.list() {
		if err := tr.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop transport %s: %w", tr.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// StopOne останавливает конкретный транспорт по имени.
func (m *TransportManager) StopOne(ctx context.Context, name string) error {
	m.mu.Lock()
	tr, ok := m.transports[name]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", name, errUnknownTransport)
	}
	if err := tr.Stop(ctx); err != nil {
		return fmt.Errorf("stop transport %s: %w", tr.Name(), err)
	}
	return nil
}

// Wait блокируется до отмены ctx или до завершения любого Terminator-транспорта.
// Отмена ctx считается штатным завершением и возвращает nil.
func (m *TransportManager) Wait(ctx context.Context) error {
	cases := []reflect.SelectCase{{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())}}
	names := []string{""}
	for _, tr := range m.list() {
		t, ok := tr.(Terminator)
		if !ok {
			continue
		}
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(t.Done())})
		names = append(names, tr.Name())
	}

	chosen, v, ok := reflect.Select(cases)
	if chosen == 0 || !ok || v.IsNil() {
		return nil
	}
	err, _ := v.Interface().(error)
	if err == nil {
		return nil
	}
	return fmt.Errorf("transport %s failed: %w", names[chosen], err)
}
