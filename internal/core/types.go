package core

import (
	"context"
	"encoding/json"
	"time"
)

// Invocation описывает один вызов команды со стороны front-end.
type Invocation struct {
	ID      string          `json:"id"`
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args,omitempty"`
	// Source заполняется транспортом и не приходит по проводу.
	Source string `json:"-"`
}

// Response описывает унифицированный результат выполнения команды:
// {id, ok} либо {id, err}.
type Response struct {
	ID  string
	OK  interface{}
	Err *Error
}

type responseWire struct {
	ID  string          `json:"id"`
	OK  json.RawMessage `json:"ok,omitempty"`
	Err *Error          `json:"err,omitempty"`
}

// MarshalJSON всегда пишет ровно одно из полей ok/err.
func (r Response) MarshalJSON() ([]byte, error) {
	if r.Err != nil {
		return json.Marshal(responseWire{ID: r.ID, Err: r.Err})
	}
	ok, err := json.Marshal(r.OK)
	if err != nil {
		return nil, err
	}
	return json.Marshal(responseWire{ID: r.ID, OK: ok})
}

// UnmarshalJSON нужен клиентам моста (CLI, тесты).
func (r *Response) UnmarshalJSON(data []byte) error {
	var w responseWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r.ID = w.ID
	r.Err = w.Err
	r.OK = nil
	if w.Err == nil && len(w.OK) > 0 {
		var v interface{}
		if err := json.Unmarshal(w.OK, &v); err != nil {
			return err
		}
		r.OK = v
	}
	return nil
}

// Handler реализует одну команду.
type Handler interface {
	Invoke(ctx context.Context, args json.RawMessage) (interface{}, error)
}

// Blocker помечает обработчики с блокирующим I/O: мост выполняет их вне event loop.
type Blocker interface {
	Blocking() bool
}

// HandlerFunc адаптирует функцию к Handler; выполняется синхронно.
type HandlerFunc func(ctx context.Context, args json.RawMessage) (interface{}, error)

func (f HandlerFunc) Invoke(ctx context.Context, args json.RawMessage) (interface{}, error) {
	return f(ctx, args)
}

// Module определяет контракт capability-модулей.
type Module interface {
	Name() string
	Install(reg *Registry, app *AppContext) error
}

// InvocationEvent передается наблюдателям после каждого вызова.
type InvocationEvent struct {
	ID       string
	Command  string
	Source   string
	Duration time.Duration
	Err      *Error
}

// LifecycleEvent описывает переход bootstrap-автомата.
type LifecycleEvent struct {
	From string
	To   string
	Err  error
}

// Observer получает события моста и жизненного цикла.
type Observer interface {
	ObserveInvocation(ctx context.Context, ev InvocationEvent)
	ObserveLifecycle(ctx context.Context, ev LifecycleEvent)
}
